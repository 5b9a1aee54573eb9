package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Server struct {
	Hub    *Hub
	logger *zap.SugaredLogger
}

func NewServer(logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{
		Hub:    NewHub(logger),
		logger: logger,
	}
}

// Handler routes the live stream, the latest message and an optional
// static dashboard.
func (s *Server) Handler(distDir string) http.Handler {
	mux := http.NewServeMux()

	// WebSocket
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(s.Hub, w, r)
	})

	// Latest progress message
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		last := s.Hub.Last()
		if last == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(last)
	})

	// Static Frontend
	if distDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(distDir)))
	}
	return mux
}

// Start serves on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr, distDir string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", addr)
	}
	return s.Serve(ctx, ln, distDir)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, distDir string) error {
	go s.Hub.Run()
	srv := &http.Server{Handler: s.Handler(distDir), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		s.Hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	s.logger.Infow("http server listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server")
	}
	return nil
}
