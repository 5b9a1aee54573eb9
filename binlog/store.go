package binlog

import (
	"context"
	"database/sql"
	_ "embed"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	_ "modernc.org/sqlite"
)

// schema.sql holds one row per run and one row per stored estimate.
//
//go:embed schema.sql
var schemaSQL string

// StateStore persists estimated series of many runs in a sqlite file.
type StateStore struct {
	*sql.DB
}

// OpenStateStore opens (and if needed creates) the database at path.
func OpenStateStore(path string) (*StateStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open state store")
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, multierr.Append(errors.Wrap(err, "create state store schema"), db.Close())
	}
	return &StateStore{db}, nil
}

// StartRun registers a new run and returns its id.
func (s *StateStore) StartRun(ctx context.Context, inputPath, configYAML string) (string, error) {
	id := uuid.NewString()
	_, err := s.ExecContext(ctx,
		`INSERT INTO runs (run_id, input_path, config_yaml) VALUES (?, ?, ?)`,
		id, inputPath, configYAML)
	if err != nil {
		return "", errors.Wrap(err, "insert run")
	}
	return id, nil
}

// SaveSet stores every series of set under runID in one transaction.
func (s *StateStore) SaveSet(ctx context.Context, runID string, set *StateDataSet) (err error) {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, tx.Rollback())
		}
	}()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO states (run_id, name, timestamp, seq, mean, std_dev, meta) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare")
	}
	defer stmt.Close()

	for _, name := range set.Names() {
		for i, d := range set.Series(name) {
			_, err := stmt.ExecContext(ctx, runID, name, d.Timestamp, i,
				joinFloats(d.Mean), joinFloats(d.StdDev), encodeMeta(d.Meta))
			if err != nil {
				return errors.Wrapf(err, "insert %s #%d", name, i)
			}
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// LoadSet reads back every series stored for runID.
func (s *StateStore) LoadSet(ctx context.Context, runID string) (*StateDataSet, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT name, timestamp, mean, std_dev, meta FROM states WHERE run_id = ? ORDER BY name, seq`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "query states")
	}
	defer rows.Close()

	set := NewStateDataSet()
	for rows.Next() {
		var name, mean, std, meta string
		var d StateData
		if err := rows.Scan(&name, &d.Timestamp, &mean, &std, &meta); err != nil {
			return nil, errors.Wrap(err, "scan state")
		}
		if d.Mean, err = splitFloats(mean); err != nil {
			return nil, errors.Wrapf(err, "%s mean", name)
		}
		if d.StdDev, err = splitFloats(std); err != nil {
			return nil, errors.Wrapf(err, "%s std dev", name)
		}
		if d.Meta, err = decodeMeta(meta); err != nil {
			return nil, errors.Wrapf(err, "%s meta", name)
		}
		set.Append(name, d)
	}
	return set, errors.Wrap(rows.Err(), "iterate states")
}

// Runs lists the stored run ids, oldest first.
func (s *StateStore) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.QueryContext(ctx, `SELECT run_id FROM runs ORDER BY started_at, run_id`)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "iterate runs")
}

func joinFloats(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = formatFloat(x)
	}
	return strings.Join(parts, " ")
}

func splitFloats(s string) ([]float64, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, nil
	}
	return parseFloats(fields)
}

func encodeMeta(m map[string]float64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + formatFloat(m[k])
	}
	return strings.Join(parts, " ")
}

func decodeMeta(s string) (map[string]float64, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, nil
	}
	m := make(map[string]float64, len(fields))
	for _, kv := range fields {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, errors.Errorf("bad metadata %q", kv)
		}
		x, err := parseFloats([]string{v})
		if err != nil {
			return nil, err
		}
		m[k] = x[0]
	}
	return m, nil
}
