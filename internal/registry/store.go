// Package registry keeps staged conversions in memory, one Store per tool kind,
// and evicts them once they are delivered or expired.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/aliskhannn/toolbox/internal/model"
	"github.com/aliskhannn/toolbox/internal/token"
)

var (
	// ErrNotFound is returned for tokens that were never issued or were already swept.
	ErrNotFound = errors.New("conversion not found")
	// ErrGone is returned for tokens whose artifact was already delivered.
	ErrGone = errors.New("conversion already delivered")
)

// entry wraps a record with the mutex that serializes execution and delivery
// of that token. The record itself is guarded by Store.mu.
type entry struct {
	lease sync.Mutex
	rec   model.Record
}

// Store is an in-memory registry of pending conversions for a single kind.
// It is safe for concurrent use.
type Store struct {
	kind model.Kind

	mu      sync.RWMutex
	entries map[string]*entry
	gone    map[string]time.Time // consumed tokens already removed, by removal time

	newToken func() string
	now      func() time.Time
}

// NewStore creates an empty Store for the given kind.
func NewStore(kind model.Kind) *Store {
	return &Store{
		kind:     kind,
		entries:  make(map[string]*entry),
		gone:     make(map[string]time.Time),
		newToken: token.New,
		now:      time.Now,
	}
}

// Kind returns the kind this store belongs to.
func (s *Store) Kind() model.Kind {
	return s.kind
}

// Stage inserts rec under a freshly generated token and returns the token.
// Token, kind, output path and consumption state are owned by the store;
// CreatedAt is kept when the caller already set it.
func (s *Store) Stage(rec model.Record) string {
	rec.Kind = s.kind
	rec.Params = rec.Params.Clone()
	rec.OutputPath = ""
	rec.Consumed = false
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tok := s.newToken()
	for s.taken(tok) {
		tok = s.newToken()
	}

	rec.Token = tok
	s.entries[tok] = &entry{rec: rec}

	return tok
}

// taken reports whether tok is in use. Callers must hold s.mu.
func (s *Store) taken(tok string) bool {
	if _, ok := s.entries[tok]; ok {
		return true
	}
	_, ok := s.gone[tok]

	return ok
}

// Get returns a copy of the record staged under tok.
func (s *Store) Get(tok string) (model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[tok]
	if !ok {
		if _, consumed := s.gone[tok]; consumed {
			return model.Record{}, ErrGone
		}

		return model.Record{}, ErrNotFound
	}

	return snapshot(e.rec), nil
}

// MarkConsumed flags the record as delivered.
// It reports whether this call changed the flag; unknown tokens are ignored.
func (s *Store) MarkConsumed(tok string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[tok]
	if !ok || e.rec.Consumed {
		return false
	}
	e.rec.Consumed = true

	return true
}

// SetOutput records the produced artifact path. The path is set at most once;
// later calls with a different path are ignored.
func (s *Store) SetOutput(tok, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[tok]
	if !ok {
		return ErrNotFound
	}
	if e.rec.OutputPath == "" {
		e.rec.OutputPath = path
	}

	return nil
}

// Remove deletes the record. Backing files must already be gone.
// Consumed tokens keep answering ErrGone until the tombstone is pruned.
func (s *Store) Remove(tok string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[tok]; ok {
		s.removeLocked(tok, e)
	}
}

func (s *Store) removeLocked(tok string, e *entry) {
	if e.rec.Consumed {
		s.gone[tok] = s.now()
	}
	delete(s.entries, tok)
}

// All returns a snapshot of every record currently staged.
func (s *Store) All() []model.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Record, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, snapshot(e.rec))
	}

	return out
}

// Len returns the number of staged records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// Acquire takes the per-token lease used while a conversion runs and its
// artifact is streamed. It blocks while another holder exists and fails with
// ErrGone or ErrNotFound when the record was delivered or removed meanwhile.
// The store lock is never held while waiting.
func (s *Store) Acquire(tok string) (*Lease, error) {
	s.mu.RLock()
	e, ok := s.entries[tok]
	_, consumed := s.gone[tok]
	s.mu.RUnlock()

	if !ok {
		if consumed {
			return nil, ErrGone
		}

		return nil, ErrNotFound
	}

	e.lease.Lock()

	s.mu.RLock()
	current := s.entries[tok]
	delivered := e.rec.Consumed
	s.mu.RUnlock()

	switch {
	case delivered:
		e.lease.Unlock()
		return nil, ErrGone
	case current != e:
		e.lease.Unlock()
		return nil, ErrNotFound
	}

	return &Lease{store: s, entry: e}, nil
}

// pruneGone forgets tombstones recorded before cutoff.
func (s *Store) pruneGone(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for tok, at := range s.gone {
		if at.Before(cutoff) {
			delete(s.gone, tok)
			n++
		}
	}

	return n
}

func snapshot(rec model.Record) model.Record {
	rec.Params = rec.Params.Clone()
	return rec
}

// Lease grants exclusive execution and delivery rights for one token.
type Lease struct {
	store *Store
	entry *entry
	once  sync.Once
}

// Record returns the current state of the leased record.
func (l *Lease) Record() model.Record {
	l.store.mu.RLock()
	defer l.store.mu.RUnlock()

	return snapshot(l.entry.rec)
}

// Release gives the lease back. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(l.entry.lease.Unlock)
}
