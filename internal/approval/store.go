package approval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

const (
	ledgerVersion = 1
	ledgerMode    = 0644
	firstID       = int64(1)
)

// ledger is the on-disk layout of reviews.json.
type ledger struct {
	Version  int       `json:"version"`
	NextID   int64     `json:"next_id"`
	Requests []Request `json:"requests"`
}

// Store persists the review ledger as one JSON document, replaced atomically
// on every write.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store for <workspace>/state/reviews.json.
func NewStore(workspace string) *Store {
	return &Store{path: filepath.Join(workspace, "state", "reviews.json")}
}

// Path returns the ledger file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the current ledger; a missing file is an empty ledger.
func (s *Store) Load() (ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// update runs fn on the current ledger under the store lock and writes the
// result back when fn reports a change.
func (s *Store) update(fn func(l *ledger) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.read()
	if err != nil {
		return err
	}
	changed, err := fn(&l)
	if err != nil || !changed {
		return err
	}
	return s.write(l)
}

func (s *Store) read() (ledger, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return normalize(ledger{}), nil
	}
	if err != nil {
		return ledger{}, fmt.Errorf("read review ledger: %w", err)
	}

	var l ledger
	if err := json.Unmarshal(raw, &l); err != nil {
		return ledger{}, fmt.Errorf("parse review ledger %s: %w", s.path, err)
	}
	return normalize(l), nil
}

func (s *Store) write(l ledger) error {
	encoded, err := json.MarshalIndent(normalize(l), "", "  ")
	if err != nil {
		return fmt.Errorf("encode review ledger: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create review ledger dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".reviews-*.json")
	if err != nil {
		return fmt.Errorf("create temp review ledger: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(encoded); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp review ledger: %w", err)
	}
	if err := tmp.Chmod(ledgerMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp review ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp review ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp review ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace review ledger: %w", err)
	}
	return nil
}

func normalize(l ledger) ledger {
	if l.Version <= 0 {
		l.Version = ledgerVersion
	}
	if l.Requests == nil {
		l.Requests = []Request{}
	}
	if l.NextID <= 0 {
		l.NextID = firstID
		for _, req := range l.Requests {
			if id, err := strconv.ParseInt(req.ID, 10, 64); err == nil && id >= l.NextID {
				l.NextID = id + 1
			}
		}
	}
	return l
}
