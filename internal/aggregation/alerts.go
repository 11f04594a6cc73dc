package aggregation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/smukkama/weather-alerts/internal/database"
)

// ErrNoAlerts signals that there are no alerts at all, so there is nothing to
// fetch or evaluate this cycle.
var ErrNoAlerts = errors.New("no alerts to evaluate")

// AlertLister reads every persisted alert.
type AlertLister interface {
	ListAlerts(ctx context.Context) ([]*database.Alert, error)
}

// LocationGroups maps a location key to the alerts registered for it, in the
// order the store returned them.
type LocationGroups map[string][]*database.Alert

// Locations returns the distinct location keys in sorted order.
func (g LocationGroups) Locations() []string {
	locations := make([]string, 0, len(g))
	for loc := range g {
		locations = append(locations, loc)
	}
	sort.Strings(locations)
	return locations
}

// Size returns the total number of alerts across all groups.
func (g LocationGroups) Size() int {
	n := 0
	for _, alerts := range g {
		n += len(alerts)
	}
	return n
}

// AlertAggregator groups alerts by location
type AlertAggregator struct {
	store  AlertLister
	logger *zap.Logger
}

// NewAlertAggregator creates a new alert aggregator
func NewAlertAggregator(store AlertLister, logger *zap.Logger) *AlertAggregator {
	return &AlertAggregator{store: store, logger: logger}
}

// Aggregate rebuilds the location grouping from scratch. It returns
// ErrNoAlerts when the store holds no alerts; store errors are returned
// wrapped.
func (a *AlertAggregator) Aggregate(ctx context.Context) (LocationGroups, error) {
	alerts, err := a.store.ListAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate alerts: %w", err)
	}
	if len(alerts) == 0 {
		return nil, ErrNoAlerts
	}

	groups := make(LocationGroups)
	for _, alert := range alerts {
		groups[alert.Location] = append(groups[alert.Location], alert)
	}

	a.logger.Debug("alerts aggregated",
		zap.Int("alerts", len(alerts)),
		zap.Int("locations", len(groups)),
	)

	return groups, nil
}
