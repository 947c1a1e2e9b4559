package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"
)

type persistedStore struct {
	Runs  map[string]*Record `json:"runs"`
	Chain []Entry            `json:"chain"`
}

// FileStore keeps the journal in one JSON file, rewritten on every append.
type FileStore struct {
	path string
	now  func() time.Time

	mu    sync.RWMutex
	runs  map[string]*Record
	chain []Entry
}

// OpenFile loads the journal at path. A missing file starts an empty journal;
// an unreadable one is moved aside to path.corrupt-<timestamp> and reported.
func OpenFile(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("journal: file path is required")
	}
	s := &FileStore{path: path, now: time.Now, runs: map[string]*Record{}}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var p persistedStore
	if err := json.Unmarshal(b, &p); err != nil {
		bad := s.path + ".corrupt-" + time.Now().Format("20060102-150405")
		if err2 := os.Rename(s.path, bad); err2 != nil {
			return fmt.Errorf("journal %s invalid (%v), could not move it: %w", s.path, err, err2)
		}
		return fmt.Errorf("journal %s invalid, moved to %s: %w", s.path, bad, err)
	}
	if p.Runs != nil {
		s.runs = p.Runs
	}
	s.chain = p.Chain
	return nil
}

// save writes the journal to a temporary file and renames it over the old
// one. Callers hold s.mu.
func (s *FileStore) save() error {
	data, err := json.MarshalIndent(persistedStore{Runs: s.runs, Chain: s.chain}, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) Append(ctx context.Context, rec *Record) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	now := s.now()
	if err := prepare(rec, now); err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.runs[rec.ID]; dup {
		return Entry{}, fmt.Errorf("journal: run %s already recorded", rec.ID)
	}
	var prev *Entry
	if n := len(s.chain); n > 0 {
		prev = &s.chain[n-1]
	}
	e, err := seal(prev, rec, now)
	if err != nil {
		return Entry{}, err
	}
	cp := *rec
	s.runs[rec.ID] = &cp
	s.chain = append(s.chain, e)
	if err := s.save(); err != nil {
		delete(s.runs, rec.ID)
		s.chain = s.chain[:len(s.chain)-1]
		return Entry{}, fmt.Errorf("journal: save %s: %w", s.path, err)
	}
	return e, nil
}

func (s *FileStore) Get(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *rec
	return &cp, nil
}

func (s *FileStore) List(ctx context.Context, limit int) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.runs))
	for i := len(s.chain) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if rec, ok := s.runs[s.chain[i].RunID]; ok {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *FileStore) Chain(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry(nil), s.chain...), nil
}

func (s *FileStore) Close() error { return nil }
