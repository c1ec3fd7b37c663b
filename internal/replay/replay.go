// Package replay enforces single-use semantics on (kind, value) pairs such as
// launch nonces. Memory is process-local; Redis is shared across hub replicas.
package replay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrEmptyKey = errors.New("replay: kind and value are required")

// Store marks (kind, value) as consumed for ttl. It returns true the first
// time the pair is seen (or after the previous entry expired) and false on
// reuse.
type Store interface {
	Use(ctx context.Context, kind, value string, ttl time.Duration) (bool, error)
}

func key(kind, value string) (string, error) {
	kind = strings.TrimSpace(strings.ToLower(kind))
	value = strings.TrimSpace(value)
	if kind == "" || value == "" {
		return "", ErrEmptyKey
	}
	return kind + "|" + value, nil
}

// Memory is safe for concurrent use and purges expired entries every purgeN
// calls to Use.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]time.Time
	useCount uint64
	purgeN   uint64

	now func() time.Time
}

// NewMemory returns an in-memory store. purgeEvery <= 0 means 1024.
func NewMemory(purgeEvery int) *Memory {
	if purgeEvery <= 0 {
		purgeEvery = 1024
	}
	return &Memory{
		entries: make(map[string]time.Time, 256),
		purgeN:  uint64(purgeEvery),
		now:     time.Now,
	}
}

func (m *Memory) Use(_ context.Context, kind, value string, ttl time.Duration) (bool, error) {
	k, err := key(kind, value)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.useCount++
	if m.useCount%m.purgeN == 0 {
		m.purgeLocked(now)
	}

	if until, ok := m.entries[k]; ok && until.After(now) {
		return false, nil
	}
	m.entries[k] = now.Add(ttl)
	return true, nil
}

// Len reports the number of tracked entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) purgeLocked(now time.Time) {
	for k, until := range m.entries {
		if !until.After(now) {
			delete(m.entries, k)
		}
	}
}
