package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"estimator-go/estimation"
)

func TestHubDeliversProgress(t *testing.T) {
	srv := NewServer(zaptest.NewLogger(t).Sugar())
	go srv.Hub.Run()
	defer srv.Hub.Close()
	ts := httptest.NewServer(srv.Handler(""))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	srv.Hub.Progress(estimation.Progress{RunID: "abc", Percent: 42, Timestamp: 7, Position: []float64{1, 2, 3}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got estimation.Progress
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, "abc", got.RunID)
	assert.Equal(t, 42.0, got.Percent)
	assert.Equal(t, []float64{1, 2, 3}, got.Position)
}

func TestHubReplaysLastMessageToNewClients(t *testing.T) {
	srv := NewServer(nil)
	go srv.Hub.Run()
	defer srv.Hub.Close()
	ts := httptest.NewServer(srv.Handler(""))
	defer ts.Close()

	srv.Hub.Broadcast([]byte(`{"percent":10}`))
	srv.Hub.Broadcast([]byte(`{"percent":20}`))

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"percent":20}`, string(msg))
}

func TestStatusEndpoint(t *testing.T) {
	srv := NewServer(nil)
	ts := httptest.NewServer(srv.Handler(""))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// without Run the queue only buffers; Last is still updated
	srv.Hub.Progress(estimation.Progress{RunID: "run", Percent: 100})
	resp, err = http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"run_id":"run"`)
}

func TestServeStopsWithContext(t *testing.T) {
	srv := NewServer(nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln, t.TempDir()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/status")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
