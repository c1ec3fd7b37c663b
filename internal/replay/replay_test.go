package replay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRejectsReuseUntilExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }

	ok, err := m.Use(ctx, "nonce", "abc", 90*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Use(ctx, "NONCE", " abc ", 90*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "same pair after normalisation must be a replay")

	ok, _ = m.Use(ctx, "jti", "abc", 90*time.Second)
	assert.True(t, ok, "kinds are independent")

	now = now.Add(91 * time.Second)
	ok, _ = m.Use(ctx, "nonce", "abc", 90*time.Second)
	assert.True(t, ok)
}

func TestMemoryEmptyKey(t *testing.T) {
	_, err := NewMemory(0).Use(context.Background(), "nonce", "  ", time.Second)
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestMemoryPurge(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }

	_, _ = m.Use(ctx, "nonce", "a", time.Second)
	now = now.Add(2 * time.Second)
	_, _ = m.Use(ctx, "nonce", "b", time.Second)
	assert.Equal(t, 1, m.Len())
}

func TestMemoryConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.Use(ctx, "nonce", "shared", time.Minute); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
