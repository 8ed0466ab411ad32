package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStoreContention is returned when an optimistic store gives up after
// repeated concurrent modification of the same session.
var ErrStoreContention = errors.New("session: too much contention on session")

// Store persists session Data by id.
//
// Load returns an empty Data (not an error) for unknown or expired ids.
// Update runs fn against the current Data and persists the result atomically
// with respect to other Update calls on the same id; if fn returns an error
// nothing is written. fn may run more than once on optimistic stores, so it
// must not have side effects outside the Data it is given.
//
// Rotate moves the Data stored under oldID to newID in one atomic step,
// applying fn on the way. Afterwards oldID resolves to an empty Data. The
// same rules for fn apply as for Update.
type Store interface {
	Load(ctx context.Context, id string) (*Data, error)
	Update(ctx context.Context, id string, fn func(*Data) error) error
	Rotate(ctx context.Context, oldID, newID string, fn func(*Data) error) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore is a process-local Store, for tests and single-instance dev runs.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	data      *Data
	expiresAt time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a MemoryStore whose entries expire ttl after their
// last update.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (m *MemoryStore) Load(_ context.Context, id string) (*Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current(id).clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, id string, fn func(*Data) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.current(id).clone()
	if err := fn(d); err != nil {
		return err
	}
	m.entries[id] = memoryEntry{data: d.clone(), expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryStore) Rotate(_ context.Context, oldID, newID string, fn func(*Data) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.current(oldID).clone()
	if err := fn(d); err != nil {
		return err
	}
	m.entries[newID] = memoryEntry{data: d.clone(), expiresAt: m.now().Add(m.ttl)}
	delete(m.entries, oldID)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// current must be called with mu held.
func (m *MemoryStore) current(id string) *Data {
	e, ok := m.entries[id]
	if !ok {
		return &Data{}
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, id)
		return &Data{}
	}
	return e.data
}
