package doccache_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pavex-go/pavexc/pkg/doccache"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]*doccache.Crate
	log  map[string][]string
}

func newMemStore() *memStore {
	return &memStore{data: map[string]*doccache.Crate{}, log: map[string][]string{}}
}

func (m *memStore) Get(key doccache.CacheKey) (*doccache.Crate, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.data[key.String()]
	return c, ok, nil
}

func (m *memStore) Insert(key doccache.CacheKey, crate *doccache.Crate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key.String()] = crate
	return nil
}

func (m *memStore) GetAccessLog(fp string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.log[fp], nil
}

func (m *memStore) PersistAccessLog(fp string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log[fp] = ids
	return nil
}

type countingFetcher struct {
	calls atomic.Int64
}

func (f *countingFetcher) Fetch(ctx context.Context, key doccache.CacheKey) (*doccache.Crate, error) {
	f.calls.Add(1)
	return &doccache.Crate{Name: key.PackageID, Items: map[string]doccache.Item{}}, nil
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCollectionMemoizesAcrossFetches(t *testing.T) {
	store := newMemStore()
	fetcher := &countingFetcher{}
	coll := doccache.NewCollection(store, fetcher, 4)

	key := doccache.ThirdPartyCrate("serde", "1.0.0", "registry", []string{"derive"}, "tc1", "")

	c1, err := coll.Get(context.Background(), key)
	require.NoError(t, err)
	c2, err := coll.Get(context.Background(), key)
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.EqualValues(t, 1, fetcher.calls.Load())
}

func TestCollectionGetManyConcurrent(t *testing.T) {
	store := newMemStore()
	fetcher := &countingFetcher{}
	coll := doccache.NewCollection(store, fetcher, 4)

	keys := []doccache.CacheKey{
		doccache.ThirdPartyCrate("serde", "1.0.0", "registry", nil, "tc1", ""),
		doccache.ThirdPartyCrate("tokio", "1.0.0", "registry", nil, "tc1", ""),
		doccache.ToolchainCrate("std"),
	}
	results, err := coll.GetMany(context.Background(), keys)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.EqualValues(t, 3, fetcher.calls.Load())
}

func TestCollectionPrefetchUsesAccessLog(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.PersistAccessLog("proj-fp", []string{"serde", "tokio"}))
	fetcher := &countingFetcher{}
	coll := doccache.NewCollection(store, fetcher, 2)

	err := coll.Prefetch(context.Background(), "proj-fp", func(id string) doccache.CacheKey {
		return doccache.ThirdPartyCrate(id, "1.0.0", "registry", nil, "tc1", "")
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, fetcher.calls.Load())
}
