package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// SQLStore keeps the journal in a database: one row per run holding the
// record as JSON, one row per chain entry.
type SQLStore struct {
	db  *sqlx.DB
	now func() time.Time
	mu  sync.Mutex // serialises appends from this process
}

// OpenSQL connects with driver ("sqlite" or "postgres") and applies the schema.
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("journal: dsn is required")
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// One writer; also keeps ":memory:" on a single connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	s := &SQLStore{db: db, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const entryColumns = `idx, ts, run_id, digest, prev_hash, hash`

func (s *SQLStore) Append(ctx context.Context, rec *Record) (Entry, error) {
	now := s.now()
	if err := prepare(rec, now); err != nil {
		return Entry{}, err
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Entry{}, err
	}
	defer tx.Rollback()

	var last Entry
	var prev *Entry
	err = tx.GetContext(ctx, &last, `SELECT `+entryColumns+` FROM chain ORDER BY idx DESC LIMIT 1`)
	switch {
	case err == nil:
		prev = &last
	case errors.Is(err, sql.ErrNoRows):
	default:
		return Entry{}, fmt.Errorf("read chain head: %w", err)
	}
	e, err := seal(prev, rec, now)
	if err != nil {
		return Entry{}, err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO runs (id, scenario, created_at, body) VALUES (?, ?, ?, ?)`),
		rec.ID, rec.Scenario, rec.CreatedAt.UnixMilli(), string(body)); err != nil {
		return Entry{}, fmt.Errorf("insert run %s: %w", rec.ID, err)
	}
	if _, err := tx.NamedExecContext(ctx, `INSERT INTO chain (`+entryColumns+`)
		VALUES (:idx, :ts, :run_id, :digest, :prev_hash, :hash)`, e); err != nil {
		return Entry{}, fmt.Errorf("insert entry %d: %w", e.Index, err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func decodeRecord(body string) (*Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &rec, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Record, error) {
	var body string
	err := s.db.GetContext(ctx, &body, s.db.Rebind(`SELECT body FROM runs WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(body)
}

func (s *SQLStore) List(ctx context.Context, limit int) ([]*Record, error) {
	query := `SELECT r.body FROM runs r JOIN chain c ON c.run_id = r.id ORDER BY c.idx DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var bodies []string
	if err := s.db.SelectContext(ctx, &bodies, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(bodies))
	for _, b := range bodies {
		rec, err := decodeRecord(b)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *SQLStore) Chain(ctx context.Context) ([]Entry, error) {
	var chain []Entry
	if err := s.db.SelectContext(ctx, &chain, `SELECT `+entryColumns+` FROM chain ORDER BY idx`); err != nil {
		return nil, err
	}
	return chain, nil
}
