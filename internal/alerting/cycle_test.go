package alerting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/weather-alerts/internal/aggregation"
	"github.com/smukkama/weather-alerts/internal/database"
	"github.com/smukkama/weather-alerts/internal/observability"
	"github.com/smukkama/weather-alerts/internal/weather"
)

type stubAggregator struct {
	groups aggregation.LocationGroups
	err    error
}

func (s *stubAggregator) Aggregate(context.Context) (aggregation.LocationGroups, error) {
	return s.groups, s.err
}

type stubFetcher struct {
	mu           sync.Mutex
	observations map[string]*weather.Observation
	err          error
	requested    [][]string
}

func (s *stubFetcher) Fetch(_ context.Context, locations []string) (*weather.FetchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requested = append(s.requested, locations)
	if s.err != nil {
		return nil, s.err
	}
	return &weather.FetchResult{Observations: s.observations, Failures: map[string]error{}}, nil
}

type statusCall struct {
	ids    []string
	status string
}

type recordingStore struct {
	mu    sync.Mutex
	calls []statusCall
	err   error
}

func (s *recordingStore) SetAlertStatus(_ context.Context, ids []string, status string) ([]database.AlertStatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, statusCall{ids: ids, status: status})
	if s.err != nil {
		return nil, s.err
	}
	changes := make([]database.AlertStatusChange, len(ids))
	for i, id := range ids {
		changes[i] = database.AlertStatusChange{ID: id, UserID: "u-" + id, Status: status}
	}
	return changes, nil
}

func (s *recordingStore) Calls() []statusCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]statusCall(nil), s.calls...)
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []database.AlertStatusChange
}

func (p *recordingPublisher) PublishStatusChanges(_ context.Context, changes []database.AlertStatusChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, changes...)
	return nil
}

func ptr(v float64) *float64 { return &v }

func loc1Groups() aggregation.LocationGroups {
	return aggregation.LocationGroups{
		"loc1": {
			{ID: "A1", Location: "loc1", Parameter: "temperature", Threshold: database.Threshold{Operator: "gt", Value: "20"}},
			{ID: "A2", Location: "loc1", Parameter: "humidity", Threshold: database.Threshold{Operator: "lt", Value: "50"}},
		},
	}
}

func loc1Observation() map[string]*weather.Observation {
	return map[string]*weather.Observation{
		"loc1": {Values: &weather.Values{Temperature: ptr(25), Humidity: ptr(60)}},
	}
}

func TestCycleEvaluate_TriggersOnlyMatchingAlerts(t *testing.T) {
	c := NewCycle(CycleConfig{Logger: zap.NewNop()})

	ids := c.Evaluate(loc1Groups(), loc1Observation())
	assert.Equal(t, []string{"A1"}, ids)
}

func TestCycleEvaluate_SkipsLocationWithoutObservation(t *testing.T) {
	c := NewCycle(CycleConfig{Logger: zap.NewNop()})

	ids := c.Evaluate(loc1Groups(), map[string]*weather.Observation{})
	assert.Empty(t, ids)
}

func TestCycleEvaluate_SkipsUnreadableAlerts(t *testing.T) {
	c := NewCycle(CycleConfig{Logger: zap.NewNop()})
	groups := aggregation.LocationGroups{
		"loc1": {
			{ID: "missing-field", Parameter: "windGust", Threshold: database.Threshold{Operator: "gt", Value: "0"}},
			{ID: "unknown-param", Parameter: "pollen", Threshold: database.Threshold{Operator: "gt", Value: "0"}},
			{ID: "bad-threshold", Parameter: "temperature", Threshold: database.Threshold{Operator: "gt", Value: "hot"}},
			{ID: "bad-operator", Parameter: "temperature", Threshold: database.Threshold{Operator: "above", Value: "0"}},
			{ID: "upper-case", Parameter: "TEMPERATURE", Threshold: database.Threshold{Operator: "gte", Value: "25"}},
		},
	}

	ids := c.Evaluate(groups, loc1Observation())
	assert.Equal(t, []string{"upper-case"}, ids)
}

func TestCycleRun_NoAlertsHasNoSideEffects(t *testing.T) {
	fetcher := &stubFetcher{}
	store := &recordingStore{}
	c := NewCycle(CycleConfig{
		Aggregator: &stubAggregator{err: aggregation.ErrNoAlerts},
		Fetcher:    fetcher,
		Store:      store,
		Logger:     zap.NewNop(),
		Metrics:    observability.NewMetricsForTesting(),
	})

	ids, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, fetcher.requested)
	assert.Empty(t, store.Calls())
}

func TestCycleRun_AggregateFailureAborts(t *testing.T) {
	fetcher := &stubFetcher{}
	c := NewCycle(CycleConfig{
		Aggregator: &stubAggregator{err: assert.AnError},
		Fetcher:    fetcher,
		Store:      &recordingStore{},
		Logger:     zap.NewNop(),
	})

	_, err := c.Run(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, fetcher.requested)
}

func TestCycleRun_NothingTriggeredSkipsWriteAndHold(t *testing.T) {
	store := &recordingStore{}
	c := NewCycle(CycleConfig{
		Aggregator: &stubAggregator{groups: loc1Groups()},
		Fetcher:    &stubFetcher{observations: map[string]*weather.Observation{}},
		Store:      store,
		Clock:      clockwork.NewFakeClock(),
		Logger:     zap.NewNop(),
	})

	// Would block forever on the fake clock if it entered the hold.
	ids, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, store.Calls())
}

func TestCycleRun_MarkHoldRevert(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := &recordingStore{}
	publisher := &recordingPublisher{}
	fetcher := &stubFetcher{observations: loc1Observation()}
	c := NewCycle(CycleConfig{
		Aggregator:  &stubAggregator{groups: loc1Groups()},
		Fetcher:     fetcher,
		Store:       store,
		Publisher:   publisher,
		TriggerHold: 2 * time.Minute,
		Clock:       clock,
		Logger:      zap.NewNop(),
		Metrics:     observability.NewMetricsForTesting(),
	})

	type result struct {
		ids []string
		err error
	}
	done := make(chan result, 1)
	go func() {
		ids, err := c.Run(context.Background())
		done <- result{ids, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	calls := store.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, statusCall{ids: []string{"A1"}, status: database.AlertStatusTriggered}, calls[0])
	assert.Equal(t, [][]string{{"loc1"}}, fetcher.requested)

	// Overlapping runs are refused while the hold is pending.
	_, err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrCycleInProgress)

	clock.Advance(2 * time.Minute)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, []string{"A1"}, r.ids)
	case <-ctx.Done():
		t.Fatal("cycle did not finish after the hold elapsed")
	}

	calls = store.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, statusCall{ids: []string{"A1"}, status: database.AlertStatusNotTriggered}, calls[1])

	require.Len(t, publisher.changes, 2)
	assert.Equal(t, database.AlertStatusTriggered, publisher.changes[0].Status)
	assert.Equal(t, database.AlertStatusNotTriggered, publisher.changes[1].Status)
}

func TestCycleRun_RevertsWhenCancelledDuringHold(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := &recordingStore{}
	c := NewCycle(CycleConfig{
		Aggregator: &stubAggregator{groups: loc1Groups()},
		Fetcher:    &stubFetcher{observations: loc1Observation()},
		Store:      store,
		Clock:      clock,
		Logger:     zap.NewNop(),
	})

	runCtx, cancelRun := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Run(runCtx)
		done <- err
	}()

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

	cancelRun()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-waitCtx.Done():
		t.Fatal("cycle did not return after cancellation")
	}

	calls := store.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, database.AlertStatusNotTriggered, calls[1].status)
}

func TestCycleRun_MarkFailureSkipsRevert(t *testing.T) {
	store := &recordingStore{err: assert.AnError}
	c := NewCycle(CycleConfig{
		Aggregator: &stubAggregator{groups: loc1Groups()},
		Fetcher:    &stubFetcher{observations: loc1Observation()},
		Store:      store,
		Clock:      clockwork.NewFakeClock(),
		Logger:     zap.NewNop(),
	})

	ids, err := c.Run(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.Nil(t, ids)
	assert.Len(t, store.Calls(), 1)
}

func TestCycleRun_FetchFailureAborts(t *testing.T) {
	store := &recordingStore{}
	c := NewCycle(CycleConfig{
		Aggregator: &stubAggregator{groups: loc1Groups()},
		Fetcher:    &stubFetcher{err: context.Canceled},
		Store:      store,
		Logger:     zap.NewNop(),
	})

	_, err := c.Run(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.Calls())
}
