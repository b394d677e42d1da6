package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// ErrSchemaMismatch indicates a persisted ledger from an incompatible build.
var ErrSchemaMismatch = errors.New("ledger schema version mismatch")

// DefaultMaxRows bounds how many calls are retained.
const DefaultMaxRows = 50000

// pruneEvery controls how often old rows are trimmed, in inserts.
const pruneEvery = 256

// Call is one finished tool invocation.
type Call struct {
	CallID    string        `json:"call_id"`
	Tool      string        `json:"tool"`
	Transport string        `json:"transport"`
	OK        bool          `json:"ok"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Cached    bool          `json:"cached"`
	Duration  time.Duration `json:"-"`
	StartedAt time.Time     `json:"started_at"`
}

// Aggregate summarizes the calls of one tool.
type Aggregate struct {
	Tool     string  `json:"tool"`
	Runs     int     `json:"total_runs"`
	Failures int     `json:"failures"`
	AvgMS    float64 `json:"avg_ms"`
	MinMS    float64 `json:"min_ms"`
	MaxMS    float64 `json:"max_ms"`
	TotalMS  float64 `json:"total_ms"`
}

// Store persists calls in SQLite.
type Store struct {
	db      *sql.DB
	path    string
	maxRows int64
}

// Open connects to the ledger at path, or an in-memory ledger when path is
// empty, and creates the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA busy_timeout = 5000"}
	if path != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path, maxRows: DefaultMaxRows}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SetMaxRows changes the retention bound. Non-positive values disable pruning.
func (s *Store) SetMaxRows(n int64) {
	s.maxRows = n
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: %s has version %d, expected %d (delete the file to start over)",
			ErrSchemaMismatch, s.path, version, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Record inserts a finished call.
func (s *Store) Record(ctx context.Context, call Call) error {
	started := call.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO calls (call_id, tool, transport, ok, error_kind, cached, duration_ms, started_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		call.CallID,
		call.Tool,
		call.Transport,
		boolToInt(call.OK),
		nullableString(call.ErrorKind),
		boolToInt(call.Cached),
		float64(call.Duration)/float64(time.Millisecond),
		started.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	if s.maxRows <= 0 {
		return nil
	}
	id, err := res.LastInsertId()
	if err != nil || id%pruneEvery != 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM calls WHERE id <= ?`, id-s.maxRows); err != nil {
		return fmt.Errorf("prune calls: %w", err)
	}
	return nil
}

// Aggregates returns per-tool timing, ordered by tool name.
func (s *Store) Aggregates(ctx context.Context) ([]Aggregate, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT tool,
               COUNT(1),
               SUM(CASE WHEN ok = 0 THEN 1 ELSE 0 END),
               AVG(duration_ms),
               MIN(duration_ms),
               MAX(duration_ms),
               SUM(duration_ms)
        FROM calls
        GROUP BY tool
        ORDER BY tool`)
	if err != nil {
		return nil, fmt.Errorf("aggregate calls: %w", err)
	}
	defer rows.Close()

	var out []Aggregate
	for rows.Next() {
		var a Aggregate
		if err := rows.Scan(&a.Tool, &a.Runs, &a.Failures, &a.AvgMS, &a.MinMS, &a.MaxMS, &a.TotalMS); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Recent returns the newest calls first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT call_id, tool, transport, ok, error_kind, cached, duration_ms, started_at
        FROM calls
        ORDER BY id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent calls: %w", err)
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		var (
			c         Call
			ok        int
			cached    int
			errorKind sql.NullString
			durMS     float64
			started   string
		)
		if err := rows.Scan(&c.CallID, &c.Tool, &c.Transport, &ok, &errorKind, &cached, &durMS, &started); err != nil {
			return nil, err
		}
		c.OK = ok != 0
		c.Cached = cached != 0
		c.ErrorKind = errorKind.String
		c.Duration = time.Duration(durMS * float64(time.Millisecond))
		if ts, err := time.Parse(time.RFC3339Nano, started); err == nil {
			c.StartedAt = ts
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Count returns the number of retained calls.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM calls`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count calls: %w", err)
	}
	return n, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableString(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
