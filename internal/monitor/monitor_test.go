package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/weather-alerts/internal/observability"
	"github.com/smukkama/weather-alerts/internal/protocol"
	"github.com/smukkama/weather-alerts/internal/timer"
	"github.com/smukkama/weather-alerts/internal/weather"
)

type memoryStore struct {
	mu        sync.Mutex
	locations map[string]string
	err       error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{locations: make(map[string]string)}
}

func (s *memoryStore) SetUserLocation(_ context.Context, userID, loc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.locations[userID] = loc
	return nil
}

func (s *memoryStore) GetUserLocation(_ context.Context, userID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locations[userID]
	return loc, ok, nil
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, locations []string) (*weather.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := &weather.FetchResult{
		Observations: map[string]*weather.Observation{},
		Failures:     map[string]error{},
		Batches:      1,
	}
	for _, loc := range locations {
		f.calls = append(f.calls, loc)
		if err, ok := f.fail[loc]; ok {
			result.Failures[loc] = err
			if err == weather.ErrRateLimited {
				result.RateLimited = true
			}
			continue
		}
		temp := 21.5
		result.Observations[loc] = &weather.Observation{
			Time:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Values:   &weather.Values{Temperature: &temp},
			Location: weather.ResolvedLocation{Lat: 51.5, Lon: -0.12, Name: "Resolved " + loc},
		}
	}
	return result, nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type event struct {
	userID  string
	name    string
	payload interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []event
}

func (p *recordingPublisher) Publish(_ context.Context, userID, name string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event{userID, name, payload})
	return nil
}

func (p *recordingPublisher) Events() []event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]event(nil), p.events...)
}

// fakeScheduler keeps at most one pending callback per id.
type fakeScheduler struct {
	mu        sync.Mutex
	pending   map[string]func()
	delays    map[string]time.Duration
	cancelled []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{pending: map[string]func(){}, delays: map[string]time.Duration{}}
}

func (s *fakeScheduler) ScheduleAfter(id string, d time.Duration, cb func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[id] = cb
	s.delays[id] = d
	return nil
}

func (s *fakeScheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; !ok {
		return false
	}
	delete(s.pending, id)
	s.cancelled = append(s.cancelled, id)
	return true
}

func (s *fakeScheduler) fire(id string) bool {
	s.mu.Lock()
	cb, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if ok {
		cb()
	}
	return ok
}

func (s *fakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

type fixture struct {
	store     *memoryStore
	fetcher   *fakeFetcher
	publisher *recordingPublisher
	scheduler *fakeScheduler
	monitor   *Monitor
}

func newFixture() *fixture {
	f := &fixture{
		store:     newMemoryStore(),
		fetcher:   &fakeFetcher{fail: map[string]error{}},
		publisher: &recordingPublisher{},
		scheduler: newFakeScheduler(),
	}
	f.monitor = New(Config{
		Store:     f.store,
		Fetcher:   f.fetcher,
		Publisher: f.publisher,
		Scheduler: f.scheduler,
		Logger:    zap.NewNop(),
		Metrics:   observability.NewMetricsForTesting(),
	})
	return f
}

func TestSetLocation_InvalidAcksFailureWithoutLoop(t *testing.T) {
	f := newFixture()

	err := f.monitor.SetLocation(context.Background(), "u1", "200,200")
	assert.Error(t, err)

	events := f.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "u1", events[0].userID)
	assert.Equal(t, protocol.EventLocationSetAck, events[0].name)
	assert.Equal(t, protocol.LocationSetAck{Success: false, Message: invalidLocationMessage}, events[0].payload)

	assert.Equal(t, 0, f.scheduler.Pending())
	assert.Empty(t, f.fetcher.Calls())
	assert.Empty(t, f.store.locations)
	assert.False(t, f.monitor.Monitoring("u1"))
}

func TestSetLocation_ValidStartsLoopAndFetchesOnce(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.monitor.SetLocation(context.Background(), "u1", "40.7128,-74.0060"))

	assert.Equal(t, []string{"40.7128,-74.0060"}, f.fetcher.Calls())
	assert.Equal(t, 1, f.scheduler.Pending())
	assert.Equal(t, DefaultInterval, f.scheduler.delays[timerID("u1")])
	assert.Equal(t, "40.7128,-74.0060", f.store.locations["u1"])

	events := f.publisher.Events()
	require.Len(t, events, 2)
	assert.Equal(t, protocol.EventTemperatureUpdate, events[0].name)
	update := events[0].payload.(protocol.TemperatureUpdate)
	assert.Equal(t, "Resolved 40.7128,-74.0060", update.LocationName)
	assert.Equal(t, protocol.Coords{Lat: 40.7128, Lon: -74.0060}, update.Coords)
	assert.Equal(t, 21.5, *update.Values.Temperature)

	assert.Equal(t, protocol.EventLocationSetAck, events[1].name)
	assert.Equal(t, protocol.LocationSetAck{Success: true, Location: "40.7128,-74.0060"}, events[1].payload)

	obs, ok := f.monitor.LastObservation("u1")
	require.True(t, ok)
	assert.Equal(t, 21.5, *obs.Values.Temperature)
}

func TestSetLocation_RepeatCancelsPreviousLoop(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.monitor.SetLocation(ctx, "u1", "40.7128,-74.0060"))
	require.NoError(t, f.monitor.SetLocation(ctx, "u1", "London"))

	assert.Equal(t, []string{timerID("u1")}, f.scheduler.cancelled)
	assert.Equal(t, 1, f.scheduler.Pending())
	assert.Equal(t, []string{"40.7128,-74.0060", "London"}, f.fetcher.Calls())

	// Only the current loop fetches, and it fetches the new location.
	require.True(t, f.scheduler.fire(timerID("u1")))
	assert.Equal(t, "London", f.fetcher.Calls()[2])
	assert.Equal(t, 1, f.scheduler.Pending())
}

func TestSetLocation_StaleTickDoesNothing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.monitor.SetLocation(ctx, "u1", "London"))
	f.scheduler.mu.Lock()
	stale := f.scheduler.pending[timerID("u1")]
	f.scheduler.mu.Unlock()

	require.NoError(t, f.monitor.SetLocation(ctx, "u1", "Paris"))
	calls := len(f.fetcher.Calls())

	stale()
	assert.Len(t, f.fetcher.Calls(), calls)
}

func TestSetLocation_StoreFailure(t *testing.T) {
	f := newFixture()
	f.store.err = assert.AnError

	err := f.monitor.SetLocation(context.Background(), "u1", "London")
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 0, f.scheduler.Pending())

	events := f.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, protocol.LocationSetAck{Success: false, Message: saveLocationMessage}, events[0].payload)
}

func TestFetchAndBroadcast_NoBindingIsNoop(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.monitor.FetchAndBroadcast(context.Background(), "nobody"))
	assert.Empty(t, f.fetcher.Calls())
	assert.Empty(t, f.publisher.Events())
}

func TestFetchAndBroadcast_RateLimitSlowsEveryLoop(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.monitor.SetLocation(ctx, "u1", "London"))
	require.NoError(t, f.monitor.SetLocation(ctx, "u2", "Paris"))

	f.fetcher.mu.Lock()
	f.fetcher.fail["London"] = weather.ErrRateLimited
	f.fetcher.mu.Unlock()

	require.True(t, f.scheduler.fire(timerID("u1")))
	assert.True(t, f.monitor.RateLimited())

	events := f.publisher.Events()
	last := events[len(events)-1]
	assert.Equal(t, "u1", last.userID)
	assert.Equal(t, protocol.EventTemperatureError, last.name)
	assert.Equal(t, "London", last.payload.(protocol.TemperatureError).Location)

	_, ok := f.monitor.LastObservation("u1")
	assert.False(t, ok)

	// u1 was rescheduled at the slow cadence, and so is a loop started by
	// another user while the flag is set.
	assert.Equal(t, DefaultRateLimitedInterval, f.scheduler.delays[timerID("u1")])
	require.NoError(t, f.monitor.SetLocation(ctx, "u3", "Rome"))
	assert.Equal(t, DefaultRateLimitedInterval, f.scheduler.delays[timerID("u3")])

	// The fetch for Rome succeeded, so the flag clears and u2 goes back to
	// the normal cadence.
	assert.False(t, f.monitor.RateLimited())
	require.True(t, f.scheduler.fire(timerID("u2")))
	assert.Equal(t, DefaultInterval, f.scheduler.delays[timerID("u2")])
}

func TestFetchAndBroadcast_OtherFailureSendsError(t *testing.T) {
	f := newFixture()
	f.fetcher.fail["Boston"] = fmt.Errorf("weather API error: status 500")

	require.NoError(t, f.monitor.SetLocation(context.Background(), "u1", "Boston"))

	events := f.publisher.Events()
	require.Len(t, events, 2)
	assert.Equal(t, protocol.EventTemperatureError, events[0].name)
	assert.Equal(t, protocol.TemperatureError{Location: "Boston", Message: "weather API error: status 500"}, events[0].payload)
	assert.False(t, f.monitor.RateLimited())

	// The location itself was valid, so it is still acknowledged.
	assert.Equal(t, protocol.LocationSetAck{Success: true, Location: "Boston"}, events[1].payload)
}

func TestResume(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// No stored binding: nothing happens.
	require.NoError(t, f.monitor.Resume(ctx, "u1"))
	assert.False(t, f.monitor.Monitoring("u1"))

	f.store.locations["u1"] = "London"
	require.NoError(t, f.monitor.Resume(ctx, "u1"))
	assert.True(t, f.monitor.Monitoring("u1"))
	assert.Equal(t, []string{"London"}, f.fetcher.Calls())
	assert.Equal(t, 1, f.scheduler.Pending())

	// A second session for the same user does not restart the loop.
	require.NoError(t, f.monitor.Resume(ctx, "u1"))
	assert.Len(t, f.fetcher.Calls(), 1)
	assert.Empty(t, f.scheduler.cancelled)
}

func TestRelease(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.monitor.SetLocation(ctx, "u1", "London"))

	f.monitor.Release("u1")
	assert.False(t, f.monitor.Monitoring("u1"))
	assert.Equal(t, 0, f.scheduler.Pending())
	assert.Equal(t, "London", f.store.locations["u1"])

	_, ok := f.monitor.LastObservation("u1")
	assert.False(t, ok)

	// Releasing an unknown user is harmless.
	f.monitor.Release("u2")
}

func TestMonitor_LoopOnTimerManager(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tm := timer.NewTimerManager(clock)
	tm.Start()
	defer tm.Stop()

	store := newMemoryStore()
	fetcher := &fakeFetcher{fail: map[string]error{}}
	m := New(Config{
		Store:     store,
		Fetcher:   fetcher,
		Publisher: &recordingPublisher{},
		Scheduler: tm,
		Logger:    zap.NewNop(),
	})
	defer m.Stop()

	require.NoError(t, m.SetLocation(context.Background(), "u1", "London"))
	require.Len(t, fetcher.Calls(), 1)

	for want := 2; want <= 3; want++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		cancel()
		clock.Advance(DefaultInterval)

		require.Eventually(t, func() bool {
			return len(fetcher.Calls()) == want && tm.Pending(timerID("u1"))
		}, 2*time.Second, 5*time.Millisecond)
	}
}

func TestTemperatureUpdate_JSONShape(t *testing.T) {
	temp := 3.0
	update := newTemperatureUpdate("London", &weather.Observation{
		Time:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Values:   &weather.Values{Temperature: &temp},
		Location: weather.ResolvedLocation{Lat: 51.5, Lon: -0.12},
	})

	data, err := json.Marshal(update)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"values": {"temperature": 3},
		"locationName": "London",
		"time": "2026-03-01T12:00:00Z",
		"coords": {"lat": 51.5, "lon": -0.12}
	}`, string(data))
}
