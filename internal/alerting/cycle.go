package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/smukkama/weather-alerts/internal/aggregation"
	"github.com/smukkama/weather-alerts/internal/database"
	"github.com/smukkama/weather-alerts/internal/observability"
	"github.com/smukkama/weather-alerts/internal/weather"
)

// DefaultTriggerHold is how long triggered alerts stay triggered before the
// cycle reverts them.
const DefaultTriggerHold = 2 * time.Minute

// ErrCycleInProgress is returned by Run while another run holds the cycle.
var ErrCycleInProgress = errors.New("evaluation cycle already in progress")

// Aggregator produces the location grouping for a cycle.
type Aggregator interface {
	Aggregate(ctx context.Context) (aggregation.LocationGroups, error)
}

// LocationFetcher retrieves observations for many locations.
type LocationFetcher interface {
	Fetch(ctx context.Context, locations []string) (*weather.FetchResult, error)
}

// StatusWriter applies a bulk status update to a set of alert ids.
type StatusWriter interface {
	SetAlertStatus(ctx context.Context, ids []string, status string) ([]database.AlertStatusChange, error)
}

// StatusPublisher announces status changes to downstream consumers.
type StatusPublisher interface {
	PublishStatusChanges(ctx context.Context, changes []database.AlertStatusChange) error
}

// Cycle evaluates every alert once per Run: it marks the alerts whose
// condition holds as triggered, waits for the trigger hold, then reverts them.
type Cycle struct {
	aggregator Aggregator
	fetcher    LocationFetcher
	store      StatusWriter
	publisher  StatusPublisher
	hold       time.Duration
	clock      clockwork.Clock
	logger     *zap.Logger
	metrics    *observability.Metrics

	mu sync.Mutex
}

// CycleConfig carries the collaborators of a Cycle. Publisher, Clock and
// Metrics are optional.
type CycleConfig struct {
	Aggregator  Aggregator
	Fetcher     LocationFetcher
	Store       StatusWriter
	Publisher   StatusPublisher
	TriggerHold time.Duration
	Clock       clockwork.Clock
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

// NewCycle creates an evaluation cycle.
func NewCycle(cfg CycleConfig) *Cycle {
	if cfg.TriggerHold <= 0 {
		cfg.TriggerHold = DefaultTriggerHold
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Cycle{
		aggregator: cfg.Aggregator,
		fetcher:    cfg.Fetcher,
		store:      cfg.Store,
		publisher:  cfg.Publisher,
		hold:       cfg.TriggerHold,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// Run executes one cycle and returns the ids marked triggered. Runs never
// overlap; a call made while another is in progress, hold included, returns
// ErrCycleInProgress without side effects.
//
// Once alerts have been marked, they are reverted even if ctx is cancelled
// during the hold.
func (c *Cycle) Run(ctx context.Context) ([]string, error) {
	if !c.mu.TryLock() {
		c.countCycle("skipped")
		return nil, ErrCycleInProgress
	}
	defer c.mu.Unlock()

	start := c.clock.Now()

	groups, err := c.aggregator.Aggregate(ctx)
	if errors.Is(err, aggregation.ErrNoAlerts) {
		c.logger.Info("no alerts to evaluate")
		c.countCycle("empty")
		return nil, nil
	}
	if err != nil {
		c.countCycle("failed")
		return nil, fmt.Errorf("aggregate: %w", err)
	}

	locations := groups.Locations()
	result, err := c.fetcher.Fetch(ctx, locations)
	if err != nil {
		c.countCycle("failed")
		return nil, fmt.Errorf("fetch weather: %w", err)
	}

	ids := c.Evaluate(groups, result.Observations)
	c.logger.Info("alerts evaluated",
		zap.Int("alerts", groups.Size()),
		zap.Int("locations", len(locations)),
		zap.Int("fetched", len(result.Observations)),
		zap.Bool("rate_limited", result.RateLimited),
		zap.Int("triggered", len(ids)),
	)

	if len(ids) == 0 {
		c.observeDuration(start)
		c.countCycle("completed")
		return nil, nil
	}

	changes, err := c.store.SetAlertStatus(ctx, ids, database.AlertStatusTriggered)
	if err != nil {
		c.countCycle("failed")
		return nil, fmt.Errorf("mark triggered: %w", err)
	}
	c.publish(ctx, changes)
	c.observeDuration(start)
	if c.metrics != nil {
		c.metrics.AlertsTriggered.Add(float64(len(ids)))
	}

	select {
	case <-c.clock.After(c.hold):
	case <-ctx.Done():
		c.logger.Warn("trigger hold interrupted, reverting early", zap.Error(ctx.Err()))
	}

	if err := c.revert(context.WithoutCancel(ctx), ids); err != nil {
		c.countCycle("failed")
		return ids, err
	}

	c.countCycle("completed")
	return ids, nil
}

// Evaluate returns the ids of alerts whose condition holds against the
// observation for their location. Alerts at a location without an
// observation, with an unreadable parameter, or with an unparseable
// threshold are skipped.
func (c *Cycle) Evaluate(groups aggregation.LocationGroups, observations map[string]*weather.Observation) []string {
	var ids []string

	for _, loc := range groups.Locations() {
		alerts := groups[loc]
		obs, ok := observations[loc]
		if !ok || obs == nil {
			c.logger.Warn("no weather data for location, skipping alerts",
				zap.String("location", loc),
				zap.Int("alerts", len(alerts)),
			)
			continue
		}

		for _, alert := range alerts {
			value, ok := weather.Extract(obs, alert.Parameter)
			if !ok {
				c.logger.Warn("parameter not found in weather data",
					zap.String("alert_id", alert.ID),
					zap.String("parameter", alert.Parameter),
					zap.String("location", loc),
				)
				continue
			}

			threshold, err := ParseThreshold(alert.Threshold.Value)
			if err != nil {
				c.logger.Warn("skipping alert", zap.String("alert_id", alert.ID), zap.Error(err))
				continue
			}

			if Evaluate(value, Operator(alert.Threshold.Operator), threshold) {
				ids = append(ids, alert.ID)
			}
		}
	}

	return ids
}

func (c *Cycle) revert(ctx context.Context, ids []string) error {
	changes, err := c.store.SetAlertStatus(ctx, ids, database.AlertStatusNotTriggered)
	if err != nil {
		return fmt.Errorf("revert triggered alerts: %w", err)
	}
	c.logger.Info("triggered alerts reverted", zap.Int("alerts", len(changes)))
	c.publish(ctx, changes)
	return nil
}

func (c *Cycle) publish(ctx context.Context, changes []database.AlertStatusChange) {
	if c.publisher == nil || len(changes) == 0 {
		return
	}
	if err := c.publisher.PublishStatusChanges(ctx, changes); err != nil {
		c.logger.Error("failed to publish status changes", zap.Int("changes", len(changes)), zap.Error(err))
	}
}

func (c *Cycle) countCycle(outcome string) {
	if c.metrics != nil {
		c.metrics.Cycles.WithLabelValues(outcome).Inc()
	}
}

func (c *Cycle) observeDuration(start time.Time) {
	if c.metrics != nil {
		c.metrics.CycleDuration.Observe(c.clock.Since(start).Seconds())
	}
}
