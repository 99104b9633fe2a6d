// internal/store/memory.go
//
// In-memory session store.
// Sessions live only as long as the process and are evicted after a period of
// inactivity, which stands in for the end of a browser session.
//
// Characteristics:
//   - Stores *genesis.Session keyed by ID in a map.
//   - Concurrency-safe via RWMutex (concurrent reads allowed, writes exclusive).
//   - Errors are returned for missing session IDs on Get().

package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robalobadob/poco/internal/genesis"
)

// ErrNotFound is returned by Get for unknown or evicted sessions.
var ErrNotFound = errors.New("session not found")

// Store defines the lookup interface for live sessions.
type Store interface {
	// Save adds or replaces a session.
	Save(ctx context.Context, s *genesis.Session) error

	// Get retrieves a session by ID.
	Get(ctx context.Context, id string) (*genesis.Session, error)

	// Delete drops a session; deleting an unknown ID is not an error.
	Delete(ctx context.Context, id string) error

	// Sweep evicts sessions idle since before cutoff and reports how many went.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)

	// Len reports the number of live sessions.
	Len() int
}

// memory is an in-memory map-based Store implementation.
type memory struct {
	mu       sync.RWMutex                // guards sessions map
	sessions map[string]*genesis.Session // keyed by Session.ID
}

// NewMemoryStore constructs a new in-memory Store.
func NewMemoryStore() Store {
	return &memory{sessions: make(map[string]*genesis.Session)}
}

func (m *memory) Save(ctx context.Context, s *genesis.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *memory) Get(ctx context.Context, id string) (*genesis.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	return nil, ErrNotFound
}

func (m *memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memory) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.LastActive().Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
