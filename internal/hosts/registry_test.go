package hosts

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollamaswarm/internal/cache"
	"ollamaswarm/internal/core"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(DefaultOptions())
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	added, entry, err := r.Register(ctx, "http://h1:11434")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, "http://h1:11434", entry.URL)
	assert.True(t, entry.Healthy)

	added, again, err := r.Register(ctx, "http://H1:11434/")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, entry.RegisteredAt, again.RegisteredAt)

	assert.Equal(t, []string{"http://h1:11434"}, r.URLs())
}

func TestRegistry_RegisterRejectsMalformed(t *testing.T) {
	r := newTestRegistry(t)
	_, _, err := r.Register(context.Background(), "not a url")

	var gwErr *core.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, core.ErrorTypeInvalidURL, gwErr.Type)
	assert.Zero(t, r.Len())
}

func TestRegistry_UnregisterAbsentIsNoop(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	_, _, _ = r.Register(ctx, "http://h1:11434")

	removed, err := r.Unregister(ctx, "http://h2:11434")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, []string{"http://h1:11434"}, r.URLs())
}

func TestRegistry_RegisterThenUnregister(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	_, _, _ = r.Register(ctx, "http://a:11434")
	_, _, _ = r.Register(ctx, "http://b:11434")
	_, _, _ = r.Register(ctx, "http://c:11434")

	removed, err := r.Unregister(ctx, "http://b:11434/")
	require.NoError(t, err)
	assert.True(t, removed)

	assert.Equal(t, []string{"http://a:11434", "http://c:11434"}, r.URLs())
	for _, e := range r.List() {
		assert.NotEqual(t, "http://b:11434", e.URL)
	}
}

func TestRegistry_UnregisterRejectsMalformed(t *testing.T) {
	_, err := newTestRegistry(t).Unregister(context.Background(), "")
	require.Error(t, err)
}

func TestRegistry_ListPreservesInsertionOrder(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	want := []string{"http://z:1", "http://a:1", "http://m:1"}
	for _, u := range want {
		_, _, err := r.Register(ctx, u)
		require.NoError(t, err)
	}

	assert.Equal(t, want, core.HostURLs(r.List()))
}

func TestRegistry_ListIsACopy(t *testing.T) {
	r := newTestRegistry(t)
	_, _, _ = r.Register(context.Background(), "http://a:1")

	list := r.List()
	list[0].URL = "mutated"
	assert.Equal(t, "http://a:1", r.List()[0].URL)
}

func TestRegistry_CandidatesRoundRobin(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	_, _, _ = r.Register(ctx, "http://a:1")
	_, _, _ = r.Register(ctx, "http://b:1")

	var firsts []string
	for i := 0; i < 4; i++ {
		c := r.Candidates()
		require.Len(t, c, 2)
		firsts = append(firsts, c[0])
	}
	assert.Equal(t, []string{"http://a:1", "http://b:1", "http://a:1", "http://b:1"}, firsts)
}

func TestRegistry_CandidatesEmpty(t *testing.T) {
	assert.Empty(t, newTestRegistry(t).Candidates())
}

func TestRegistry_CandidatesSkipUnhealthy(t *testing.T) {
	opts := DefaultOptions()
	opts.FailureThreshold = 1
	opts.Cooldown = time.Hour
	r := NewRegistry(opts)
	ctx := context.Background()
	_, _, _ = r.Register(ctx, "http://a:1")
	_, _, _ = r.Register(ctx, "http://b:1")
	_, _, _ = r.Register(ctx, "http://c:1")

	r.RecordFailure("http://b:1", errors.New("down"))

	for i := 0; i < 6; i++ {
		c := r.Candidates()
		require.Len(t, c, 3)
		assert.NotEqual(t, "http://b:1", c[0])
		assert.Equal(t, "http://b:1", c[2], "tripped host is the last resort")
	}
	assert.Equal(t, 2, r.HealthyCount())
}

func TestRegistry_CandidatesAllTripped(t *testing.T) {
	opts := DefaultOptions()
	opts.FailureThreshold = 1
	opts.Cooldown = time.Hour
	r := NewRegistry(opts)
	ctx := context.Background()
	_, _, _ = r.Register(ctx, "http://a:1")
	_, _, _ = r.Register(ctx, "http://b:1")
	r.RecordFailure("http://a:1", errors.New("down"))
	r.RecordFailure("http://b:1", errors.New("down"))

	first := r.Candidates()
	second := r.Candidates()
	assert.ElementsMatch(t, []string{"http://a:1", "http://b:1"}, first)
	assert.NotEqual(t, first[0], second[0], "degraded mode still rotates")
}

func TestRegistry_MarkAliveRecovers(t *testing.T) {
	opts := DefaultOptions()
	opts.FailureThreshold = 1
	opts.Cooldown = time.Hour
	r := NewRegistry(opts)
	_, _, _ = r.Register(context.Background(), "http://a:1")

	r.RecordFailure("http://a:1", errors.New("down"))
	assert.False(t, r.List()[0].Healthy)

	r.MarkAlive("http://a:1", "0.5.1")
	entry := r.List()[0]
	assert.True(t, entry.Healthy)
	assert.Equal(t, "0.5.1", entry.Version)
	assert.Empty(t, entry.LastError)
}

func TestRegistry_RecordOnUnknownHostIsIgnored(t *testing.T) {
	r := newTestRegistry(t)
	r.RecordFailure("http://ghost:1", errors.New("x"))
	r.RecordSuccess("http://ghost:1")
	r.MarkAlive("http://ghost:1", "")
	assert.Zero(t, r.Len())
}

func TestRegistry_ConcurrentRegister(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, _ = r.Register(ctx, fmt.Sprintf("http://h%d:11434", i%10))
			_ = r.Candidates()
			_ = r.List()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, r.Len())
}

func TestRegistry_CachePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), cache.LocalFileName)
	ctx := context.Background()

	opts := DefaultOptions()
	opts.Cache = cache.NewLocalCache(path)
	r := NewRegistry(opts)
	_, _, _ = r.Register(ctx, "http://a:1")
	_, _, _ = r.Register(ctx, "http://b:1")
	_, _ = r.Unregister(ctx, "http://a:1")
	_, _, _ = r.Register(ctx, "http://c:1")
	r.Flush()

	opts2 := DefaultOptions()
	opts2.Cache = cache.NewLocalCache(path)
	restored := NewRegistry(opts2)
	n, err := restored.LoadFromCache(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"http://b:1", "http://c:1"}, restored.URLs())
}

func TestRegistry_LoadFromCacheSkipsInvalidAndDuplicates(t *testing.T) {
	ctx := context.Background()
	c := &readOnlyCache{snap: &cache.RegistrySnapshot{
		Version: cache.SnapshotVersion,
		Hosts: []cache.SnapshotHost{
			{URL: "http://a:1"},
			{URL: "ftp://nope"},
			{URL: "http://seeded:1"},
		},
	}}

	opts := DefaultOptions()
	opts.Cache = c
	r := NewRegistry(opts)
	_, _, _ = r.Register(ctx, "http://seeded:1")

	n, err := r.LoadFromCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"http://seeded:1", "http://a:1"}, r.URLs())
	assert.False(t, r.List()[1].RegisteredAt.IsZero())
}

func TestRegistry_LoadFromCacheIgnoresUnknownVersion(t *testing.T) {
	ctx := context.Background()
	c := cache.NewLocalCache(filepath.Join(t.TempDir(), cache.LocalFileName))
	require.NoError(t, c.Set(ctx, &cache.RegistrySnapshot{
		Version: 99,
		Hosts:   []cache.SnapshotHost{{URL: "http://a:1"}},
	}))

	opts := DefaultOptions()
	opts.Cache = c
	r := NewRegistry(opts)
	n, err := r.LoadFromCache(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// readOnlyCache serves a fixed snapshot and drops writes.
type readOnlyCache struct{ snap *cache.RegistrySnapshot }

func (c *readOnlyCache) Get(context.Context) (*cache.RegistrySnapshot, error) { return c.snap, nil }
func (c *readOnlyCache) Set(context.Context, *cache.RegistrySnapshot) error   { return nil }
func (c *readOnlyCache) Close() error                                        { return nil }

// slowCache holds every Set until release is closed.
type slowCache struct {
	release chan struct{}

	mu   sync.Mutex
	sets int
	last *cache.RegistrySnapshot
}

func (c *slowCache) Get(context.Context) (*cache.RegistrySnapshot, error) { return nil, nil }

func (c *slowCache) Set(ctx context.Context, snap *cache.RegistrySnapshot) error {
	select {
	case <-c.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.last = snap
	return nil
}

func (c *slowCache) Close() error { return nil }

type failingCache struct{}

func (failingCache) Get(context.Context) (*cache.RegistrySnapshot, error) {
	return nil, errors.New("unavailable")
}
func (failingCache) Set(context.Context, *cache.RegistrySnapshot) error { return errors.New("unavailable") }
func (failingCache) Close() error                                      { return nil }

func TestRegistry_CacheErrorsDoNotBlockRegistration(t *testing.T) {
	opts := DefaultOptions()
	opts.Cache = failingCache{}
	r := NewRegistry(opts)

	added, _, err := r.Register(context.Background(), "http://a:1")
	require.NoError(t, err)
	assert.True(t, added)

	_, err = r.LoadFromCache(context.Background())
	require.Error(t, err)
	assert.Error(t, r.SaveToCache(context.Background()))
}

func TestRegistry_CandidatesDoNotStartTrials(t *testing.T) {
	clock := newClock()
	opts := DefaultOptions()
	opts.FailureThreshold = 1
	opts.Cooldown = time.Minute
	opts.Now = clock.Now
	r := NewRegistry(opts)
	ctx := context.Background()
	_, _, _ = r.Register(ctx, "http://a:1")
	_, _, _ = r.Register(ctx, "http://b:1")
	r.RecordFailure("http://a:1", errors.New("down"))
	r.RecordFailure("http://b:1", errors.New("down"))
	clock.Advance(time.Minute)

	for i := 0; i < 5; i++ {
		require.Len(t, r.Candidates(), 2)
	}
	for _, u := range r.URLs() {
		assert.Equal(t, "open", r.lookup(u).health.State(), u)
	}

	r.BeginAttempt("http://a:1")
	for i := 0; i < 4; i++ {
		c := r.Candidates()
		assert.Equal(t, "http://b:1", c[0], "a has its trial in flight")
		assert.Equal(t, "http://a:1", c[1])
	}

	r.RecordSuccess("http://a:1")
	assert.Equal(t, 1, r.HealthyCount())
}

func TestRegistry_SlowCacheDoesNotBlockRegistration(t *testing.T) {
	c := &slowCache{release: make(chan struct{})}
	opts := DefaultOptions()
	opts.Cache = c
	r := NewRegistry(opts)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			_, _, _ = r.Register(ctx, fmt.Sprintf("http://h%d:11434", i))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("registrations waited on the cache write")
	}
	assert.Equal(t, 20, r.Len())

	close(c.release)
	r.Flush()

	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotNil(t, c.last)
	assert.Len(t, c.last.Hosts, 20, "latest state reaches the cache")
	assert.Less(t, c.sets, 20, "writes made during a slow save are coalesced")
}
