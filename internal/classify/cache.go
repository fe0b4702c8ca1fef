package classify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Service is the classification service surface the stages depend on.
type Service interface {
	Complete(ctx context.Context, prefix, body string) (string, error)
	RefreshCache(ctx context.Context, prefix string) error
}

// cacheKeeper tracks when each cacheable prefix last reached the service and
// re-issues a minimal request once the refresh interval elapses, so the
// service-side cache entry survives idle periods. The interval must stay
// below the service's advertised cache TTL.
type cacheKeeper struct {
	svc      Service
	interval time.Duration

	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func newCacheKeeper(svc Service, interval time.Duration) *cacheKeeper {
	return &cacheKeeper{
		svc:      svc,
		interval: interval,
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// touch records that prefix just reached the service as part of a real call.
func (k *cacheKeeper) touch(prefix string) {
	k.mu.Lock()
	k.last[prefix] = k.now()
	k.mu.Unlock()
}

// refreshIfNeeded re-warms a previously used prefix whose entry may be close
// to expiring. Prefixes never sent before are skipped: the upcoming real call
// warms them.
func (k *cacheKeeper) refreshIfNeeded(ctx context.Context, prefix string) {
	k.mu.Lock()
	seen, ok := k.last[prefix]
	stale := ok && k.now().Sub(seen) >= k.interval
	k.mu.Unlock()

	if !stale {
		return
	}
	if err := k.svc.RefreshCache(ctx, prefix); err != nil {
		slog.Warn("prompt cache refresh failed", "error", err)
		return
	}
	k.touch(prefix)
}

// refreshStale re-warms every tracked stale prefix. Called from idle loops.
func (k *cacheKeeper) refreshStale(ctx context.Context) {
	k.mu.Lock()
	var stale []string
	for prefix, seen := range k.last {
		if k.now().Sub(seen) >= k.interval {
			stale = append(stale, prefix)
		}
	}
	k.mu.Unlock()

	for _, prefix := range stale {
		if err := k.svc.RefreshCache(ctx, prefix); err != nil {
			slog.Warn("prompt cache refresh failed", "error", err)
			continue
		}
		k.touch(prefix)
	}
}
