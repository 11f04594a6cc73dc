package weather

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/smukkama/weather-alerts/internal/observability"
)

const (
	DefaultBatchSize  = 5
	DefaultBatchDelay = time.Second
)

// Provider returns the realtime observation for a single location.
type Provider interface {
	Realtime(ctx context.Context, location string) (*Observation, error)
}

// FetchResult is the outcome of one Fetch call. A location appears in at most
// one of Observations and Failures; locations never requested because of rate
// limiting appear in neither.
type FetchResult struct {
	Observations map[string]*Observation
	Failures     map[string]error
	RateLimited  bool
	Batches      int
}

// Fetcher retrieves observations for many locations in sequential,
// internally concurrent batches.
type Fetcher struct {
	provider   Provider
	batchSize  int
	batchDelay time.Duration
	clock      clockwork.Clock
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewFetcher creates a fetcher. A non-positive batchSize falls back to DefaultBatchSize.
func NewFetcher(provider Provider, batchSize int, batchDelay time.Duration, clock clockwork.Clock, logger *zap.Logger, metrics *observability.Metrics) *Fetcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Fetcher{
		provider:   provider,
		batchSize:  batchSize,
		batchDelay: batchDelay,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
	}
}

// Fetch requests every location, batchSize at a time. Per-location failures
// are recorded in the result, never returned. A 429 stops issuing further
// batches; results of the batch that saw it are kept. The only error returned
// is ctx's, when it ends while waiting between batches, together with the
// partial result.
func (f *Fetcher) Fetch(ctx context.Context, locations []string) (*FetchResult, error) {
	result := &FetchResult{
		Observations: make(map[string]*Observation, len(locations)),
		Failures:     make(map[string]error),
	}

	for start := 0; start < len(locations); start += f.batchSize {
		end := min(start+f.batchSize, len(locations))
		batch := locations[start:end]
		result.Batches++

		f.fetchBatch(ctx, batch, result)

		if result.RateLimited {
			f.logger.Warn("rate limit reached, skipping remaining batches",
				zap.Int("fetched", len(result.Observations)),
				zap.Int("skipped", len(locations)-end),
			)
			break
		}

		if end < len(locations) && f.batchDelay > 0 {
			select {
			case <-f.clock.After(f.batchDelay):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
	}

	return result, nil
}

func (f *Fetcher) fetchBatch(ctx context.Context, batch []string, result *FetchResult) {
	observations := make([]*Observation, len(batch))
	errs := make([]error, len(batch))

	// Each goroutine owns its slot; none returns an error so siblings are never cancelled.
	var g errgroup.Group
	for i, loc := range batch {
		g.Go(func() error {
			observations[i], errs[i] = f.provider.Realtime(ctx, loc)
			return nil
		})
	}
	_ = g.Wait()

	for i, loc := range batch {
		err := errs[i]
		switch {
		case err == nil:
			result.Observations[loc] = observations[i]
			f.countFetch("success")
		case errors.Is(err, ErrRateLimited):
			result.Failures[loc] = err
			result.RateLimited = true
			f.countFetch("rate_limited")
			f.logger.Error("rate limit exceeded", zap.String("location", loc), zap.Error(err))
		default:
			result.Failures[loc] = err
			f.countFetch("error")
			f.logger.Error("error fetching weather data", zap.String("location", loc), zap.Error(err))
		}
	}
}

func (f *Fetcher) countFetch(outcome string) {
	if f.metrics != nil {
		f.metrics.WeatherFetches.WithLabelValues(outcome).Inc()
	}
}
