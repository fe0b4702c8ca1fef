package throttle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/classifier/internal/core/domain"
	"github.com/vietddude/classifier/internal/metrics"
)

// ProcessFunc sends one batch to the classification service.
type ProcessFunc func(ctx context.Context, recs []domain.Record) error

// FailFunc marks a batch permanently failed after retry exhaustion.
type FailFunc func(recs []domain.Record, err error)

// Controller wraps every classification call with per-class retry policy and
// adapts the requested batch size to observed service behavior. One controller
// per stage; safe for concurrent workers.
type Controller struct {
	cfg   Config
	stage string

	mu        sync.Mutex
	size      int
	successes int

	sleep func(ctx context.Context, d time.Duration) error
}

// NewController creates a controller starting at the configured initial batch size.
func NewController(stage string, cfg Config) *Controller {
	cfg.ApplyDefaults()
	metrics.BatchSize.WithLabelValues(stage).Set(float64(cfg.InitialBatch))
	return &Controller{
		cfg:   cfg,
		stage: stage,
		size:  cfg.InitialBatch,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// NextBatchSize returns the batch size a worker should claim next.
func (c *Controller) NextBatchSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *Controller) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.successes++
	if c.successes < c.cfg.GrowAfter || c.size >= c.cfg.MaxBatch {
		return
	}
	c.successes = 0

	grown := int(float64(c.size) * c.cfg.GrowthFactor)
	if grown > c.cfg.MaxBatch {
		grown = c.cfg.MaxBatch
	}
	if grown != c.size {
		slog.Debug("batch size grown", "stage", c.stage, "from", c.size, "to", grown)
		c.size = grown
		metrics.BatchSize.WithLabelValues(c.stage).Set(float64(grown))
	}
}

func (c *Controller) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.successes = 0
	shrunk := int(float64(c.size) * c.cfg.ShrinkFactor)
	if shrunk < c.cfg.MinBatch {
		shrunk = c.cfg.MinBatch
	}
	if shrunk != c.size {
		slog.Debug("batch size shrunk", "stage", c.stage, "from", c.size, "to", shrunk)
		c.size = shrunk
		metrics.BatchSize.WithLabelValues(c.stage).Set(float64(shrunk))
	}
}

func (c *Controller) backoff(ctx context.Context, class Class, delay time.Duration) error {
	metrics.RetriesTotal.WithLabelValues(string(class)).Inc()
	metrics.BackoffSeconds.WithLabelValues(string(class)).Add(delay.Seconds())
	slog.Warn("service call backing off",
		"stage", c.stage, "class", class, "delay", delay)
	return c.sleep(ctx, delay)
}

// throttleDelay is base*2^(attempt-1) capped at the configured maximum.
func (c *Controller) throttleDelay(attempt int) time.Duration {
	delay := c.cfg.ThrottleBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.cfg.ThrottleMax {
			return c.cfg.ThrottleMax
		}
	}
	if delay > c.cfg.ThrottleMax {
		delay = c.cfg.ThrottleMax
	}
	return delay
}

// Run processes recs through fn, retrying per error class. Throttling backs
// off exponentially; timeouts back off linearly and bisect the batch above the
// floor so part of it can still land; overload backs off longer with a larger
// allowance. Exhaustion or a fatal error hands the remaining records to fail.
// The returned error is the last terminal failure, nil when every record was
// eventually processed.
func (c *Controller) Run(
	ctx context.Context,
	recs []domain.Record,
	fn ProcessFunc,
	fail FailFunc,
) error {
	if len(recs) == 0 {
		return nil
	}

	var throttled, timeouts, overloads int
	for {
		err := fn(ctx, recs)
		if err == nil {
			c.recordSuccess()
			return nil
		}
		c.recordFailure()

		class := Classify(err)
		switch class {
		case ClassThrottled:
			throttled++
			if throttled > c.cfg.ThrottleAttempts {
				fail(recs, err)
				return err
			}
			if serr := c.backoff(ctx, class, c.throttleDelay(throttled)); serr != nil {
				fail(recs, serr)
				return serr
			}

		case ClassTimeout:
			timeouts++
			if timeouts > c.cfg.TimeoutAttempts {
				fail(recs, err)
				return err
			}
			if serr := c.backoff(ctx, class, c.cfg.TimeoutDelay*time.Duration(timeouts)); serr != nil {
				fail(recs, serr)
				return serr
			}
			if len(recs) > c.cfg.BisectFloor {
				metrics.BatchBisections.Inc()
				mid := len(recs) / 2
				slog.Info("bisecting batch after timeout",
					"stage", c.stage, "size", len(recs), "halves", mid)
				if lerr := c.Run(ctx, recs[:mid], fn, fail); lerr != nil {
					c.Run(ctx, recs[mid:], fn, fail)
					return lerr
				}
				return c.Run(ctx, recs[mid:], fn, fail)
			}

		case ClassOverloaded:
			overloads++
			if overloads > c.cfg.OverloadAttempts {
				fail(recs, err)
				return err
			}
			if serr := c.backoff(ctx, class, c.cfg.OverloadDelay*time.Duration(overloads)); serr != nil {
				fail(recs, serr)
				return serr
			}

		default:
			fail(recs, err)
			return err
		}
	}
}
