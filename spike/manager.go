// Package spike de-duplicates concurrent lookups of slow-changing chain data and caches the results
package spike

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	defaultCleanupInterval = time.Minute
	defaultFetchTimeout    = 10 * time.Second
)

type Fetcher[T any] func(ctx context.Context, key string) (T, error)

// Manager runs at most one fetch per key at a time. Callers asking for a key that is being
// fetched wait for that fetch. Successful results are cached, errors are not.
type Manager[T any] struct {
	mu           sync.Mutex
	fetch        Fetcher[T]
	cache        *gocache.Cache
	cacheTime    time.Duration
	FetchTimeout time.Duration
	inflight     map[string]*call[T]
}

type call[T any] struct {
	done chan struct{}
	v    T
	err  error
}

// NewManager creates a Manager, cacheTime may be gocache.NoExpiration
func NewManager[T any](fetch Fetcher[T], cacheTime time.Duration) *Manager[T] {
	return &Manager[T]{
		fetch:        fetch,
		cache:        gocache.New(cacheTime, defaultCleanupInterval),
		cacheTime:    cacheTime,
		FetchTimeout: defaultFetchTimeout,
		inflight:     make(map[string]*call[T]),
	}
}

func (m *Manager[T]) get(k string) (T, bool) {
	v, ok := m.cache.Get(k)
	if !ok {
		var rt T
		return rt, false
	}
	//nolint:forcetypeassert
	return v.(T), true
}

func (m *Manager[T]) GetResult(ctx context.Context, k string) (T, error) { //nolint:ireturn
	if v, ok := m.get(k); ok {
		return v, nil
	}

	m.mu.Lock()
	if v, ok := m.get(k); ok {
		m.mu.Unlock()
		return v, nil
	}
	c, ok := m.inflight[k]
	if !ok {
		c = &call[T]{done: make(chan struct{})}
		m.inflight[k] = c
		go m.run(k, c)
	}
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		var rt T
		return rt, ctx.Err()
	case <-c.done:
		return c.v, c.err
	}
}

// Forget drops a cached value so that the next lookup fetches again.
func (m *Manager[T]) Forget(k string) {
	m.cache.Delete(k)
}

// run is detached from the first caller's context so that its cancellation does not fail the
// other waiters.
func (m *Manager[T]) run(k string, c *call[T]) {
	ctx, cancel := context.WithTimeout(context.Background(), m.FetchTimeout)
	defer cancel()

	c.v, c.err = m.fetch(ctx, k)

	m.mu.Lock()
	if c.err == nil {
		m.cache.Set(k, c.v, m.cacheTime)
	}
	delete(m.inflight, k)
	m.mu.Unlock()
	close(c.done)
}
