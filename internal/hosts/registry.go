// Package hosts keeps the set of backend servers the router can reach,
// tracks their liveness and decides the order in which they are tried.
package hosts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ollamaswarm/internal/cache"
	"ollamaswarm/internal/core"
	"ollamaswarm/internal/observability"
)

// Options configures a Registry.
type Options struct {
	// FailureThreshold consecutive failures mark a host unhealthy.
	FailureThreshold int
	// SuccessThreshold trial successes bring an unhealthy host back.
	SuccessThreshold int
	// Cooldown is how long an unhealthy host is skipped before a trial.
	Cooldown time.Duration
	// Cache persists the host list. Nil disables persistence.
	Cache cache.Cache
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions mirrors the health section defaults.
func DefaultOptions() Options {
	return Options{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Cooldown:         30 * time.Second,
	}
}

type host struct {
	url          string
	registeredAt time.Time
	health       *hostHealth
}

func (h *host) entry() core.HostEntry {
	v := h.health.view()
	return core.HostEntry{
		URL:                 h.url,
		RegisteredAt:        h.registeredAt,
		Healthy:             v.healthy,
		ConsecutiveFailures: v.failures,
		LastCheckedAt:       v.lastChecked,
		LastError:           v.lastError,
		Version:             v.version,
	}
}

// Registry is the insertion-ordered set of backends. It is safe for
// concurrent use; no lock is held while talking to the cache.
type Registry struct {
	mu    sync.RWMutex
	order []*host
	index map[string]*host

	next atomic.Uint64

	opts      Options
	persistMu sync.Mutex

	// Snapshot writes run on one background writer. Mutations only mark
	// the registry dirty; the writer saves the latest state until clean.
	saveMu    sync.Mutex
	saveIdle  *sync.Cond
	saveDirty bool
	saving    bool
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &Registry{
		index: make(map[string]*host),
		opts:  opts,
	}
	r.saveIdle = sync.NewCond(&r.saveMu)
	return r
}

func (r *Registry) newHost(url string, registeredAt time.Time) *host {
	return &host{
		url:          url,
		registeredAt: registeredAt,
		health:       newHostHealth(r.opts.FailureThreshold, r.opts.SuccessThreshold, r.opts.Cooldown, r.opts.Now),
	}
}

// Register adds rawURL if it is not present yet. Registering a known host is
// not an error: added is false and the existing entry is returned.
func (r *Registry) Register(ctx context.Context, rawURL string) (bool, core.HostEntry, error) {
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return false, core.HostEntry{}, err
	}

	r.mu.Lock()
	if existing, ok := r.index[u]; ok {
		r.mu.Unlock()
		return false, existing.entry(), nil
	}
	h := r.newHost(u, r.opts.Now().UTC())
	r.order = append(r.order, h)
	r.index[u] = h
	total := len(r.order)
	r.mu.Unlock()

	slog.Info("host registered", "url", u, "total_hosts", total)
	r.publishGauges()
	r.persist(ctx)
	return true, h.entry(), nil
}

// Unregister removes rawURL. Removing an unknown host is not an error.
func (r *Registry) Unregister(ctx context.Context, rawURL string) (bool, error) {
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	if _, ok := r.index[u]; !ok {
		r.mu.Unlock()
		return false, nil
	}
	delete(r.index, u)
	order := make([]*host, 0, len(r.order)-1)
	for _, h := range r.order {
		if h.url != u {
			order = append(order, h)
		}
	}
	r.order = order
	total := len(order)
	r.mu.Unlock()

	slog.Info("host unregistered", "url", u, "total_hosts", total)
	r.publishGauges()
	r.persist(ctx)
	return true, nil
}

func (r *Registry) snapshot() []*host {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*host, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) lookup(url string) *host {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index[url]
}

// List returns a copy of every entry in insertion order.
func (r *Registry) List() []core.HostEntry {
	hosts := r.snapshot()
	entries := make([]core.HostEntry, len(hosts))
	for i, h := range hosts {
		entries[i] = h.entry()
	}
	return entries
}

// URLs returns the registered URLs in insertion order.
func (r *Registry) URLs() []string {
	hosts := r.snapshot()
	urls := make([]string, len(hosts))
	for i, h := range hosts {
		urls[i] = h.url
	}
	return urls
}

// Len returns the number of registered hosts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// HealthyCount returns how many hosts currently accept traffic.
func (r *Registry) HealthyCount() int {
	n := 0
	for _, h := range r.snapshot() {
		if h.health.view().healthy {
			n++
		}
	}
	return n
}

// Candidates returns every host in the order a request should try them.
// Hosts admitted by their circuit come first, rotated round-robin so that
// consecutive calls start at consecutive hosts; hosts with an open circuit
// follow as a last resort. Each call advances the rotation by one.
func (r *Registry) Candidates() []string {
	hosts := r.snapshot()
	if len(hosts) == 0 {
		return nil
	}

	ready := make([]string, 0, len(hosts))
	var tripped []string
	for _, h := range hosts {
		if h.health.Ready() {
			ready = append(ready, h.url)
		} else {
			tripped = append(tripped, h.url)
		}
	}

	turn := r.next.Add(1) - 1
	out := make([]string, 0, len(hosts))
	out = appendRotated(out, ready, turn)
	out = appendRotated(out, tripped, turn)
	return out
}

func appendRotated(dst, src []string, turn uint64) []string {
	if len(src) == 0 {
		return dst
	}
	start := int(turn % uint64(len(src)))
	dst = append(dst, src[start:]...)
	return append(dst, src[:start]...)
}

// BeginAttempt marks that a request is about to be sent to url. For a host
// whose cooldown has elapsed this claims the single half-open trial, so
// concurrent requests keep skipping it until the trial reports back.
func (r *Registry) BeginAttempt(url string) {
	if h := r.lookup(url); h != nil {
		h.health.BeginAttempt()
	}
}

// RecordSuccess notes a successful exchange with url.
func (r *Registry) RecordSuccess(url string) {
	if h := r.lookup(url); h != nil {
		h.health.RecordSuccess()
	}
}

// RecordFailure notes a failed exchange with url.
func (r *Registry) RecordFailure(url string, err error) {
	h := r.lookup(url)
	if h == nil {
		return
	}
	if h.health.RecordFailure(err) {
		slog.Warn("host marked unhealthy", "url", url, "error", err)
		r.publishGauges()
	}
}

// MarkAlive closes the circuit of url after a direct probe succeeded.
func (r *Registry) MarkAlive(url, version string) {
	h := r.lookup(url)
	if h == nil {
		return
	}
	if version != "" {
		h.health.setVersion(version)
	}
	if h.health.Reset() {
		slog.Info("host recovered", "url", url)
		r.publishGauges()
	}
}

func (r *Registry) publishGauges() {
	observability.SetHostCounts(r.Len(), r.HealthyCount())
}

// LoadFromCache merges the persisted host list into the registry.
// Hosts already present keep their state. Returns the number added.
func (r *Registry) LoadFromCache(ctx context.Context) (int, error) {
	if r.opts.Cache == nil {
		return 0, nil
	}

	snap, err := r.opts.Cache.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load registry snapshot: %w", err)
	}
	if snap == nil {
		return 0, nil
	}
	if snap.Version != cache.SnapshotVersion {
		slog.Warn("ignoring registry snapshot with unknown version", "version", snap.Version)
		return 0, nil
	}

	added := 0
	r.mu.Lock()
	for _, sh := range snap.Hosts {
		u, err := NormalizeURL(sh.URL)
		if err != nil {
			slog.Warn("skipping invalid host in snapshot", "url", sh.URL, "error", err)
			continue
		}
		if _, ok := r.index[u]; ok {
			continue
		}
		registeredAt := sh.RegisteredAt
		if registeredAt.IsZero() {
			registeredAt = r.opts.Now().UTC()
		}
		h := r.newHost(u, registeredAt)
		r.order = append(r.order, h)
		r.index[u] = h
		added++
	}
	r.mu.Unlock()

	r.publishGauges()
	return added, nil
}

// SaveToCache writes the current host list to the cache.
func (r *Registry) SaveToCache(ctx context.Context) error {
	if r.opts.Cache == nil {
		return nil
	}

	// Two writers must not land their snapshots out of order.
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	hosts := r.snapshot()
	snap := &cache.RegistrySnapshot{
		Version:   cache.SnapshotVersion,
		UpdatedAt: r.opts.Now().UTC(),
		Hosts:     make([]cache.SnapshotHost, len(hosts)),
	}
	for i, h := range hosts {
		snap.Hosts[i] = cache.SnapshotHost{URL: h.url, RegisteredAt: h.registeredAt}
	}

	if err := r.opts.Cache.Set(ctx, snap); err != nil {
		return fmt.Errorf("failed to save registry snapshot: %w", err)
	}
	return nil
}

const snapshotSaveTimeout = 5 * time.Second

// persist schedules a snapshot write and returns without waiting for it.
// Changes made while a write is in flight are folded into the next one.
func (r *Registry) persist(ctx context.Context) {
	if r.opts.Cache == nil {
		return
	}

	r.saveMu.Lock()
	r.saveDirty = true
	if r.saving {
		r.saveMu.Unlock()
		return
	}
	r.saving = true
	r.saveMu.Unlock()

	// The caller's request may finish before the write.
	go r.writeSnapshots(context.WithoutCancel(ctx))
}

func (r *Registry) writeSnapshots(base context.Context) {
	for {
		r.saveMu.Lock()
		if !r.saveDirty {
			r.saving = false
			r.saveIdle.Broadcast()
			r.saveMu.Unlock()
			return
		}
		r.saveDirty = false
		r.saveMu.Unlock()

		ctx, cancel := context.WithTimeout(base, snapshotSaveTimeout)
		if err := r.SaveToCache(ctx); err != nil {
			slog.Warn("registry snapshot not saved", "error", err)
		}
		cancel()
	}
}

// Flush blocks until every scheduled snapshot write has finished.
func (r *Registry) Flush() {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()
	for r.saving {
		r.saveIdle.Wait()
	}
}
