// Package store holds presence registrations. The server runs on the
// in-memory implementation by default; the LevelDB one keeps registrations
// across a server restart until the staleness sweep ages them out.
package store

import (
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a username has no registration.
var ErrNotFound = errors.New("store: user not found")

// Registration is one presence record.
type Registration struct {
	Address  string    `cbor:"1,keyasint,omitempty"`
	Port     int       `cbor:"2,keyasint,omitempty"`
	LastSeen time.Time `cbor:"3,keyasint,omitempty"`
}

// Store is the registration table, keyed by username.
type Store interface {
	Put(username string, reg Registration) error
	Get(username string) (Registration, error)
	Delete(username string) error
	// All returns a copy of the whole table.
	All() (map[string]Registration, error)
	Close() error
}

// Memory is the default, non-persistent store.
type Memory struct {
	mu    sync.Mutex
	users map[string]Registration
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{users: make(map[string]Registration)}
}

func (m *Memory) Put(username string, reg Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[username] = reg
	return nil
}

func (m *Memory) Get(username string) (Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.users[username]
	if !ok {
		return Registration{}, ErrNotFound
	}
	return reg, nil
}

func (m *Memory) Delete(username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, username)
	return nil
}

func (m *Memory) All() (map[string]Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Registration, len(m.users))
	for username, reg := range m.users {
		out[username] = reg
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
