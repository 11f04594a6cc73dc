// Package monitor runs one periodic fetch-and-broadcast loop per user for the
// location that user last set.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/weather-alerts/internal/location"
	"github.com/smukkama/weather-alerts/internal/observability"
	"github.com/smukkama/weather-alerts/internal/protocol"
	"github.com/smukkama/weather-alerts/internal/weather"
)

const (
	DefaultInterval            = 5 * time.Minute
	DefaultRateLimitedInterval = 10 * time.Minute

	invalidLocationMessage = "Invalid location data format"
	saveLocationMessage    = "Failed to save location"
	fetchFailedMessage     = "Failed to fetch temperature data."
)

// LocationStore persists the user to location binding.
type LocationStore interface {
	SetUserLocation(ctx context.Context, userID, location string) error
	GetUserLocation(ctx context.Context, userID string) (string, bool, error)
}

// Fetcher retrieves observations for a set of locations.
type Fetcher interface {
	Fetch(ctx context.Context, locations []string) (*weather.FetchResult, error)
}

// Publisher delivers an event to one user's channel.
type Publisher interface {
	Publish(ctx context.Context, userID, event string, payload interface{}) error
}

// Scheduler runs a callback once after a delay. Scheduling an id that is
// already pending replaces it.
type Scheduler interface {
	ScheduleAfter(id string, d time.Duration, callback func()) error
	Cancel(id string) bool
}

type session struct {
	location   string
	last       *weather.Observation
	generation uint64
}

// Config carries the collaborators of a Monitor.
type Config struct {
	Store               LocationStore
	Fetcher             Fetcher
	Publisher           Publisher
	Scheduler           Scheduler
	Interval            time.Duration
	RateLimitedInterval time.Duration
	Logger              *zap.Logger
	Metrics             *observability.Metrics
}

// Monitor owns every monitored session on this process, keyed by user id.
//
// The rate-limit flag is shared by all users: a 429 for any location slows
// every loop's next scheduling until a fetch succeeds again.
type Monitor struct {
	store       LocationStore
	fetcher     Fetcher
	publisher   Publisher
	timers      Scheduler
	interval    time.Duration
	slow        time.Duration
	logger      *zap.Logger
	metrics     *observability.Metrics
	rateLimited atomic.Bool

	mu       sync.Mutex
	sessions map[string]*session
	nextGen  uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a monitor.
func New(cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.RateLimitedInterval <= 0 {
		cfg.RateLimitedInterval = DefaultRateLimitedInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		store:     cfg.Store,
		fetcher:   cfg.Fetcher,
		publisher: cfg.Publisher,
		timers:    cfg.Scheduler,
		interval:  cfg.Interval,
		slow:      cfg.RateLimitedInterval,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		sessions:  make(map[string]*session),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetLocation validates loc and, if valid, persists it as userID's binding,
// restarts the user's loop, fetches once immediately and acknowledges. An
// invalid location is acknowledged as a failure and changes nothing.
func (m *Monitor) SetLocation(ctx context.Context, userID, loc string) error {
	if err := location.Validate(loc); err != nil {
		m.logger.Warn("invalid location received", zap.String("user_id", userID), zap.String("location", loc))
		m.ack(ctx, userID, protocol.LocationSetAck{Success: false, Message: invalidLocationMessage})
		return err
	}

	if err := m.store.SetUserLocation(ctx, userID, loc); err != nil {
		m.ack(ctx, userID, protocol.LocationSetAck{Success: false, Message: saveLocationMessage})
		return fmt.Errorf("set location for %s: %w", userID, err)
	}

	m.restart(userID, loc)

	if err := m.FetchAndBroadcast(ctx, userID); err != nil {
		m.logger.Error("initial fetch failed", zap.String("user_id", userID), zap.Error(err))
	}

	m.ack(ctx, userID, protocol.LocationSetAck{Success: true, Location: loc})
	return nil
}

// Resume starts userID's loop from the stored binding unless one is
// already running. It is a no-op for users with no stored location.
func (m *Monitor) Resume(ctx context.Context, userID string) error {
	m.mu.Lock()
	_, running := m.sessions[userID]
	m.mu.Unlock()
	if running {
		return nil
	}

	loc, ok, err := m.store.GetUserLocation(ctx, userID)
	if err != nil {
		return fmt.Errorf("resume %s: %w", userID, err)
	}
	if !ok {
		return nil
	}

	m.mu.Lock()
	if _, running := m.sessions[userID]; running {
		m.mu.Unlock()
		return nil
	}
	m.startLocked(userID, loc)
	m.mu.Unlock()

	m.logger.Info("monitoring resumed", zap.String("user_id", userID), zap.String("location", loc))
	return m.FetchAndBroadcast(ctx, userID)
}

// Release stops userID's loop and forgets the cached observation. The
// stored binding is kept.
func (m *Monitor) Release(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[userID]; !ok {
		return
	}
	m.timers.Cancel(timerID(userID))
	delete(m.sessions, userID)
	m.updateGauge()
}

// FetchAndBroadcast fetches the user's bound location once and publishes a
// temperatureUpdate, or a temperatureError on failure. A user without a
// binding is a no-op.
func (m *Monitor) FetchAndBroadcast(ctx context.Context, userID string) error {
	loc, ok, err := m.store.GetUserLocation(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup location for %s: %w", userID, err)
	}
	if !ok {
		return nil
	}

	result, err := m.fetcher.Fetch(ctx, []string{loc})
	if err != nil {
		m.fail(ctx, userID, loc, err)
		return nil
	}

	obs := result.Observations[loc]
	if obs == nil {
		fetchErr := result.Failures[loc]
		if fetchErr == nil {
			fetchErr = errors.New(fetchFailedMessage)
		}
		if result.RateLimited || errors.Is(fetchErr, weather.ErrRateLimited) {
			m.setRateLimited(true)
			m.logger.Warn("rate limit reached, slowing monitor cadence",
				zap.String("user_id", userID),
				zap.Duration("interval", m.slow),
			)
		}
		m.fail(ctx, userID, loc, fetchErr)
		return nil
	}

	m.setRateLimited(false)
	m.cache(userID, obs)

	update := newTemperatureUpdate(loc, obs)
	if err := m.publisher.Publish(ctx, userID, protocol.EventTemperatureUpdate, update); err != nil {
		m.logger.Error("failed to publish temperature update", zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}

// LastObservation returns the cached observation for userID, if any.
func (m *Monitor) LastObservation(userID string) (*weather.Observation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok || s.last == nil {
		return nil, false
	}
	return s.last, true
}

// Monitoring reports whether userID has a running loop.
func (m *Monitor) Monitoring(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[userID]
	return ok
}

// RateLimited reports whether loops currently run at the slow cadence.
func (m *Monitor) RateLimited() bool {
	return m.rateLimited.Load()
}

// Stop cancels every loop and any in-flight scheduled fetch.
func (m *Monitor) Stop() {
	m.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	for userID := range m.sessions {
		m.timers.Cancel(timerID(userID))
	}
	m.sessions = make(map[string]*session)
	m.updateGauge()
}

func (m *Monitor) restart(userID, loc string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timers.Cancel(timerID(userID)) {
		m.logger.Debug("previous monitor loop cancelled", zap.String("user_id", userID))
	}
	m.startLocked(userID, loc)
}

// startLocked replaces userID's session with a fresh one and schedules its
// first tick. m.mu must be held.
func (m *Monitor) startLocked(userID, loc string) {
	m.nextGen++
	m.sessions[userID] = &session{location: loc, generation: m.nextGen}
	m.scheduleLocked(userID, m.nextGen)
	m.updateGauge()
}

func (m *Monitor) scheduleLocked(userID string, gen uint64) {
	err := m.timers.ScheduleAfter(timerID(userID), m.currentInterval(), func() { m.tick(userID, gen) })
	if err != nil {
		m.logger.Error("failed to schedule monitor tick", zap.String("user_id", userID), zap.Error(err))
	}
}

func (m *Monitor) tick(userID string, gen uint64) {
	if !m.current(userID, gen) {
		return
	}

	if err := m.FetchAndBroadcast(m.ctx, userID); err != nil {
		m.logger.Error("scheduled fetch failed", zap.String("user_id", userID), zap.Error(err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok && s.generation == gen && m.ctx.Err() == nil {
		m.scheduleLocked(userID, gen)
	}
}

func (m *Monitor) current(userID string, gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return ok && s.generation == gen
}

func (m *Monitor) currentInterval() time.Duration {
	if m.rateLimited.Load() {
		return m.slow
	}
	return m.interval
}

func (m *Monitor) cache(userID string, obs *weather.Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok {
		s.last = obs
	}
}

func (m *Monitor) fail(ctx context.Context, userID, loc string, err error) {
	m.cache(userID, nil)
	m.logger.Error("error fetching temperature",
		zap.String("user_id", userID),
		zap.String("location", loc),
		zap.Error(err),
	)

	msg := err.Error()
	if msg == "" {
		msg = fetchFailedMessage
	}
	payload := protocol.TemperatureError{Location: loc, Message: msg}
	if err := m.publisher.Publish(ctx, userID, protocol.EventTemperatureError, payload); err != nil {
		m.logger.Error("failed to publish temperature error", zap.String("user_id", userID), zap.Error(err))
	}
}

func (m *Monitor) ack(ctx context.Context, userID string, ack protocol.LocationSetAck) {
	if err := m.publisher.Publish(ctx, userID, protocol.EventLocationSetAck, ack); err != nil {
		m.logger.Error("failed to acknowledge location", zap.String("user_id", userID), zap.Error(err))
	}
}

func (m *Monitor) setRateLimited(v bool) {
	if m.rateLimited.Swap(v) == v {
		return
	}
	if m.metrics != nil {
		if v {
			m.metrics.RateLimited.Set(1)
		} else {
			m.metrics.RateLimited.Set(0)
		}
	}
}

func (m *Monitor) updateGauge() {
	if m.metrics != nil {
		m.metrics.MonitoredUsers.Set(float64(len(m.sessions)))
	}
}

func timerID(userID string) string {
	return "monitor:" + userID
}

func newTemperatureUpdate(loc string, obs *weather.Observation) protocol.TemperatureUpdate {
	name := obs.Location.Name
	if name == "" {
		name = loc
	}
	coords := protocol.Coords{Lat: obs.Location.Lat, Lon: obs.Location.Lon}
	if lat, lon, ok := location.Coordinates(loc); ok {
		coords = protocol.Coords{Lat: lat, Lon: lon}
	}
	return protocol.TemperatureUpdate{
		Values:       obs.Values,
		LocationName: name,
		Time:         obs.Time,
		Coords:       coords,
	}
}
