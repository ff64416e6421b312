// Package memory holds in-process implementations of the policy and
// processing log repositories, used with DB_DRIVER=memory and in tests.
package memory

import (
	"sync"
	"time"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
)

// Store is the shared state behind PolicyStore and ProcessingLog. Sharing one
// mutex gives the same cascade and claim atomicity the Postgres schema gives.
type Store struct {
	mu       sync.Mutex
	policies map[string]*entities.PolicyDocument
	entries  map[int64]*entities.ProcessingLogEntry
	nextID   int64
	now      func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty store
func NewStore(opts ...Option) *Store {
	s := &Store{
		policies: make(map[string]*entities.PolicyDocument),
		entries:  make(map[int64]*entities.ProcessingLogEntry),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policies returns the policy repository view of the store
func (s *Store) Policies() *PolicyStore {
	return &PolicyStore{store: s}
}

// ProcessingLog returns the processing log view of the store
func (s *Store) ProcessingLog() *ProcessingLog {
	return &ProcessingLog{store: s}
}

func clonePolicy(p *entities.PolicyDocument) *entities.PolicyDocument {
	cp := *p
	if p.ArchivedAt != nil {
		at := *p.ArchivedAt
		cp.ArchivedAt = &at
	}
	return &cp
}

func cloneEntry(e *entities.ProcessingLogEntry) *entities.ProcessingLogEntry {
	cp := *e
	if e.Result != nil {
		cp.Result = make(entities.StageResult, len(e.Result))
		for k, v := range e.Result {
			cp.Result[k] = v
		}
	}
	if e.StartedAt != nil {
		at := *e.StartedAt
		cp.StartedAt = &at
	}
	if e.CompletedAt != nil {
		at := *e.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}
