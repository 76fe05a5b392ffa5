package hosts

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// VersionChecker asks a backend for its version. A nil error means alive.
type VersionChecker interface {
	Version(ctx context.Context, baseURL string) (string, error)
}

// Prober periodically checks every registered host and feeds the outcome
// into the registry's health tracking.
type Prober struct {
	registry    *Registry
	checker     VersionChecker
	timeout     time.Duration
	concurrency int
}

// NewProber creates a prober. timeout bounds each individual check.
func NewProber(registry *Registry, checker VersionChecker, timeout time.Duration, concurrency int) *Prober {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if concurrency < 1 {
		concurrency = 8
	}
	return &Prober{
		registry:    registry,
		checker:     checker,
		timeout:     timeout,
		concurrency: concurrency,
	}
}

// ProbeAll checks every host once and returns the failures keyed by URL.
func (p *Prober) ProbeAll(ctx context.Context) map[string]error {
	urls := p.registry.URLs()
	errs := make([]error, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, url := range urls {
		g.Go(func() error {
			errs[i] = p.probe(gctx, url)
			return nil
		})
	}
	_ = g.Wait()

	failed := make(map[string]error)
	for i, err := range errs {
		if err != nil {
			failed[urls[i]] = err
		}
	}
	return failed
}

func (p *Prober) probe(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	version, err := p.checker.Version(ctx, url)
	if err != nil {
		// Shutdown is not a host failure.
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		p.registry.RecordFailure(url, err)
		slog.Debug("health probe failed", "url", url, "error", err)
		return err
	}
	p.registry.MarkAlive(url, version)
	return nil
}

// Start runs ProbeAll immediately and then every interval until the
// returned function is called.
func (p *Prober) Start(interval time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		p.ProbeAll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.ProbeAll(ctx)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
