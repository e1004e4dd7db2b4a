package doccache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Fetcher is the real rustdoc-JSON extraction backend — out of scope for this
// core (§1) — invoked only on a cache miss.
type Fetcher interface {
	Fetch(ctx context.Context, key CacheKey) (*Crate, error)
}

// Collection is the read-through, memoized, concurrency-safe facade C1
// consults (§4.1, §5): Get and Lookup resolve a cache miss on the caller's
// own goroutine, which blocks until the result is ready, while GetMany
// dispatches one short-lived errgroup worker per key. In-flight requests
// for the same key are coalesced so two concurrent lookups never issue two
// fetches.
type Collection struct {
	store       CrateCollection
	fetcher     Fetcher
	concurrency int

	mu       sync.Mutex
	memo     map[string]*Crate
	inflight map[string]*sync.WaitGroup
}

func NewCollection(store CrateCollection, fetcher Fetcher, concurrency int) *Collection {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Collection{
		store:       store,
		fetcher:     fetcher,
		concurrency: concurrency,
		memo:        make(map[string]*Crate),
		inflight:    make(map[string]*sync.WaitGroup),
	}
}

// Get resolves a single cache key, consulting the in-memory memo, then the
// durable store, then the fetcher on a miss.
func (c *Collection) Get(ctx context.Context, key CacheKey) (*Crate, error) {
	k := key.String()

	c.mu.Lock()
	if crate, ok := c.memo[k]; ok {
		c.mu.Unlock()
		return crate, nil
	}
	if wg, ok := c.inflight[k]; ok {
		c.mu.Unlock()
		wg.Wait()
		c.mu.Lock()
		crate := c.memo[k]
		c.mu.Unlock()
		return crate, nil
	}
	wg := &sync.WaitGroup{}
	wg.Add(1)
	c.inflight[k] = wg
	c.mu.Unlock()

	crate, err := c.resolveOnce(ctx, key)

	c.mu.Lock()
	if err == nil {
		c.memo[k] = crate
	}
	delete(c.inflight, k)
	c.mu.Unlock()
	wg.Done()

	return crate, err
}

func (c *Collection) resolveOnce(ctx context.Context, key CacheKey) (*Crate, error) {
	if crate, found, err := c.store.Get(key); err != nil {
		return nil, fmt.Errorf("doc cache store lookup: %w", err)
	} else if found {
		return crate, nil
	}

	if c.fetcher == nil {
		return nil, fmt.Errorf("doc cache miss for %s and no fetcher configured", key)
	}
	crate, err := c.fetcher.Fetch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetching crate docs for %s: %w", key, err)
	}
	if err := c.store.Insert(key, crate); err != nil {
		return nil, fmt.Errorf("doc cache store insert: %w", err)
	}
	return crate, nil
}

// Lookup is the blocking, cancellation-free entry point C1 calls: the core
// is single-threaded and never suspends on I/O (§5), so a resolver simply
// blocks until the crate's documentation is available.
func (c *Collection) Lookup(key CacheKey) (*Crate, error) {
	return c.Get(context.Background(), key)
}

// GetMany resolves every key concurrently, bounded by c.concurrency short-lived
// workers, and returns once every worker has finished, with the first error
// if any; that error cancels the errgroup's derived context passed to the
// remaining fetches.
func (c *Collection) GetMany(ctx context.Context, keys []CacheKey) (map[CacheKey]*Crate, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	var mu sync.Mutex
	results := make(map[CacheKey]*Crate, len(keys))

	for _, key := range keys {
		key := key
		g.Go(func() error {
			crate, err := c.Get(gctx, key)
			if err != nil {
				return err
			}
			mu.Lock()
			results[key] = crate
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Prefetch loads every package id recorded in the access log for
// projectFingerprint, so the next compilation warms its cache before the
// resolver asks for anything (§6).
func (c *Collection) Prefetch(ctx context.Context, projectFingerprint string, resolve func(packageID string) CacheKey) error {
	packageIDs, err := c.store.GetAccessLog(projectFingerprint)
	if err != nil {
		return fmt.Errorf("reading access log: %w", err)
	}
	keys := make([]CacheKey, 0, len(packageIDs))
	for _, id := range packageIDs {
		keys = append(keys, resolve(id))
	}
	_, err = c.GetMany(ctx, keys)
	return err
}
