// Package journal keeps the history of scenario runs. Each run is stored as a
// Record and sealed by an Entry in a hash chain: an entry commits to the
// record's digest and to the previous entry's hash, so rewriting any past run
// breaks every later link.
package journal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"rng-u01/internal/report"
	"rng-u01/internal/scenario"
	"rng-u01/internal/u01"
)

// ErrNotFound is returned by Get for unknown run ids.
var ErrNotFound = errors.New("journal: run not found")

// Record is everything kept about one run.
type Record struct {
	ID         string                     `json:"id"`
	Scenario   string                     `json:"scenario"`
	Backend    string                     `json:"backend"`
	CreatedAt  time.Time                  `json:"created_at"`
	DurationMS int64                      `json:"duration_ms"`
	Params     json.RawMessage            `json:"params,omitempty"`
	Summary    report.Summary             `json:"summary"`
	Rows       []report.Row               `json:"rows"`
	Poisson    []scenario.PoissonSnapshot `json:"poisson,omitempty"`
	Outputs    []string                   `json:"outputs,omitempty"`
	Plots      []string                   `json:"plots,omitempty"`
	Trace      *u01.Trace                 `json:"trace,omitempty"`
	LifetimeOK bool                       `json:"lifetime_ok"`
	Violations []string                   `json:"violations,omitempty"`
	Error      string                     `json:"error,omitempty"`
}

// Entry is one link of the chain.
type Entry struct {
	Index     int    `json:"index" db:"idx"`
	Timestamp int64  `json:"timestamp" db:"ts"` // unix milliseconds
	RunID     string `json:"run_id" db:"run_id"`
	Digest    string `json:"digest" db:"digest"`
	PrevHash  string `json:"prev_hash" db:"prev_hash"`
	Hash      string `json:"hash" db:"hash"`
}

// Store persists records and their chain.
type Store interface {
	// Append stores rec and seals it with a new entry. An empty rec.ID is
	// replaced by a fresh UUIDv7.
	Append(ctx context.Context, rec *Record) (Entry, error)
	Get(ctx context.Context, id string) (*Record, error)
	// List returns the newest records first; limit <= 0 means all.
	List(ctx context.Context, limit int) ([]*Record, error)
	Chain(ctx context.Context) ([]Entry, error)
	Close() error
}

// Open picks a store by driver: "file" keeps a JSON file at dsn, "sqlite" and
// "postgres" go through database/sql.
func Open(driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "file":
		return OpenFile(dsn)
	case "sqlite", "postgres":
		return OpenSQL(strings.ToLower(driver), dsn)
	default:
		return nil, fmt.Errorf("journal: unknown driver %q", driver)
	}
}

// NewID returns a time-ordered run id.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Digest hashes the JSON form of rec.
func Digest(rec *Record) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", rec.ID, err)
	}
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:]), nil
}

func ComputeHash(e Entry) string {
	s := fmt.Sprintf("%d:%d:%s:%s:%s", e.Index, e.Timestamp, e.RunID, e.Digest, e.PrevHash)
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// seal builds the entry following prev (nil for the first one).
func seal(prev *Entry, rec *Record, now time.Time) (Entry, error) {
	digest, err := Digest(rec)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{Timestamp: now.UnixMilli(), RunID: rec.ID, Digest: digest}
	if prev != nil {
		e.Index = prev.Index + 1
		e.PrevHash = prev.Hash
	}
	e.Hash = ComputeHash(e)
	return e, nil
}

// prepare fills the fields Append owns.
func prepare(rec *Record, now time.Time) error {
	if rec == nil {
		return errors.New("journal: nil record")
	}
	if rec.ID == "" {
		id, err := NewID()
		if err != nil {
			return err
		}
		rec.ID = id
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	// Stored timestamps keep millisecond precision; the digest must match
	// what comes back.
	rec.CreatedAt = rec.CreatedAt.UTC().Truncate(time.Millisecond)
	return nil
}

// ChainError locates the first broken link.
type ChainError struct {
	Index  int
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("journal: entry %d: %s", e.Index, e.Reason)
}

// VerifyChain checks indexes, hashes and links.
func VerifyChain(chain []Entry) error {
	for i, e := range chain {
		if e.Index != i {
			return &ChainError{Index: i, Reason: fmt.Sprintf("index %d out of place", e.Index)}
		}
		if ComputeHash(e) != e.Hash {
			return &ChainError{Index: i, Reason: "hash mismatch"}
		}
		switch {
		case i == 0 && e.PrevHash != "":
			return &ChainError{Index: i, Reason: "first entry has a previous hash"}
		case i > 0 && e.PrevHash != chain[i-1].Hash:
			return &ChainError{Index: i, Reason: "broken link to previous entry"}
		}
	}
	return nil
}

// Verify checks the chain of s and that every record still matches its digest.
func Verify(ctx context.Context, s Store) error {
	chain, err := s.Chain(ctx)
	if err != nil {
		return err
	}
	if err := VerifyChain(chain); err != nil {
		return err
	}
	for _, e := range chain {
		rec, err := s.Get(ctx, e.RunID)
		if err != nil {
			return &ChainError{Index: e.Index, Reason: err.Error()}
		}
		d, err := Digest(rec)
		if err != nil {
			return err
		}
		if d != e.Digest {
			return &ChainError{Index: e.Index, Reason: "record " + e.RunID + " does not match its digest"}
		}
	}
	return nil
}
