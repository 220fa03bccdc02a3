// Package storage defines the durable key/value surface behind the persisted
// cart and wallet stores. Drivers live in subpackages.
package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrNotFound is returned by Load when a key has never been saved or was deleted.
var ErrNotFound = errors.New("storage: key not found")

// Fixed keys of the persisted client state.
const (
	KeyCart   = "platter.cart"
	KeyWallet = "platter.wallet"
)

// Store persists opaque values under string keys.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// ValidKey reports whether key is usable by every driver.
func ValidKey(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > 128 {
		return false
	}
	return !strings.ContainsAny(key, `/\`)
}

// Memory is a process-local Store. It does not survive restarts.
type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

// Load returns a copy of the value, or ErrNotFound.
func (m *Memory) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Save stores a copy of value.
func (m *Memory) Save(_ context.Context, key string, value []byte) error {
	if !ValidKey(key) {
		return errors.New("storage: invalid key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
