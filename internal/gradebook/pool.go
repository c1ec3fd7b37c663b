package gradebook

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Pool keeps recently used gradebooks open. Evicted stores are closed.
type Pool struct {
	HomeRoot string

	mu    sync.Mutex
	cache *expirable.LRU[string, *SQLStore]
}

func NewPool(homeRoot string, size int, ttl time.Duration) *Pool {
	if size <= 0 {
		size = 32
	}
	onEvict := func(_ string, s *SQLStore) { _ = s.Close() }
	return &Pool{
		HomeRoot: homeRoot,
		cache:    expirable.NewLRU[string, *SQLStore](size, onEvict, ttl),
	}
}

// Get returns the store of courseID, opening it on first use.
func (p *Pool) Get(ctx context.Context, courseID string) (*SQLStore, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.cache.Get(courseID); ok {
		return s, nil
	}
	s, err := Open(ctx, Path(p.HomeRoot, courseID), courseID)
	if err != nil {
		return nil, err
	}
	p.cache.Add(courseID, s)
	return s, nil
}

func (p *Pool) Len() int { return p.cache.Len() }

// Close closes every open store.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Purge()
}
