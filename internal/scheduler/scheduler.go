package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/radar-cache/internal/radar"
	"github.com/i474232898/radar-cache/internal/scraping/workflows"
)

// refreshEstimate is the predicted duration of a refresh that is already running.
const refreshEstimate = 2 * time.Minute

// Store is the part of the cache the manager needs to judge staleness.
type Store interface {
	CompleteFolders(loc radar.Location, dt radar.DataType) ([]radar.CacheFolder, error)
}

// Config configures a Manager.
type Config struct {
	// Locations are tracked from startup.
	Locations []radar.Location
	// CheckInterval must be a whole number of minutes dividing an hour.
	CheckInterval  time.Duration
	Expiration     time.Duration
	RefreshTimeout time.Duration
	Concurrency    int
}

type flight struct {
	startedAt time.Time
}

// Manager periodically refreshes stale locations, runs on-demand refreshes
// and predicts when a location's cache will next be updated. At most one
// refresh per location runs at a time.
type Manager struct {
	cfg       Config
	store     Store
	workflow  workflows.Workflow
	scheduler *gocron.Scheduler
	cronSpec  string
	schedule  cron.Schedule
	log       zerolog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	stopped    bool
	configured map[string]struct{}
	tracked    map[string]radar.Location
	flights    map[string]*flight
	failures   map[string]string

	inFlight atomic.Int32
	runs     atomic.Int64
	failed   atomic.Int64
}

// New creates a Manager refreshing through the radar workflow of factory.
func New(cfg Config, store Store, factory *workflows.Factory, logger zerolog.Logger) (*Manager, error) {
	wf, err := factory.Get(workflows.RadarScraping)
	if err != nil {
		return nil, err
	}
	spec, err := CronSpec(cfg.CheckInterval)
	if err != nil {
		return nil, err
	}
	// Predictions are made in UTC like the gocron scheduler below.
	schedule, err := cron.ParseStandard("CRON_TZ=UTC " + spec)
	if err != nil {
		return nil, fmt.Errorf("parse check schedule %q: %w", spec, err)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 3 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:        cfg,
		store:      store,
		workflow:   wf,
		scheduler:  gocron.NewScheduler(time.UTC),
		cronSpec:   spec,
		schedule:   schedule,
		log:        logger.With().Str("component", "cache-manager").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
		ctx:        ctx,
		cancel:     cancel,
		configured: make(map[string]struct{}, len(cfg.Locations)),
		tracked:    make(map[string]radar.Location),
		flights:    make(map[string]*flight),
		failures:   make(map[string]string),
	}
	for _, loc := range cfg.Locations {
		m.configured[loc.Key()] = struct{}{}
		m.Track(loc)
	}
	return m, nil
}

// CronSpec returns the cron expression of a check every interval, aligned to
// the wall clock.
func CronSpec(interval time.Duration) (string, error) {
	if interval < time.Minute || interval%time.Minute != 0 {
		return "", fmt.Errorf("check interval %s must be a whole number of minutes", interval)
	}
	minutes := int(interval / time.Minute)
	if 60%minutes != 0 {
		return "", fmt.Errorf("check interval %s must divide an hour", interval)
	}
	if minutes == 60 {
		return "0 * * * *", nil
	}
	return fmt.Sprintf("*/%d * * * *", minutes), nil
}

// Start schedules the periodic check and runs one immediately.
func (m *Manager) Start() error {
	_, err := m.scheduler.Cron(m.cronSpec).SingletonMode().Do(m.tick)
	if err != nil {
		return fmt.Errorf("schedule cache check: %w", err)
	}
	m.scheduler.StartAsync()
	m.log.Info().Str("schedule", m.cronSpec).Int("locations", len(m.Locations())).Msg("cache manager started")

	go m.tick()
	return nil
}

// Stop stops the scheduler, cancels running refreshes and waits for them.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()

	m.scheduler.Stop()
	m.cancel()
	m.wg.Wait()
	m.log.Info().Int64("runs", m.runs.Load()).Int64("failed", m.failed.Load()).Msg("cache manager stopped")
}

// Track adds loc to the locations checked on every tick.
func (m *Manager) Track(loc radar.Location) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tracked[loc.Key()]; !ok {
		m.tracked[loc.Key()] = loc
	}
}

// Untrack stops checking loc on ticks. Configured locations stay tracked.
func (m *Manager) Untrack(loc radar.Location) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configured[loc.Key()]; ok {
		return
	}
	delete(m.tracked, loc.Key())
}

// Locations returns the tracked locations ordered by key.
func (m *Manager) Locations() []radar.Location {
	m.mu.Lock()
	defer m.mu.Unlock()
	locs := make([]radar.Location, 0, len(m.tracked))
	for _, loc := range m.tracked {
		locs = append(locs, loc)
	}
	sort.Slice(locs, func(i, j int) bool { return locs[i].Key() < locs[j].Key() })
	return locs
}

// Expiration is how long a cache folder stays valid after its capture.
func (m *Manager) Expiration() time.Duration {
	return m.cfg.Expiration
}

// InFlight is the number of refreshes currently running.
func (m *Manager) InFlight() int {
	return int(m.inFlight.Load())
}

func (m *Manager) tick() {
	started := m.Check(m.ctx)
	m.log.Debug().Int("refreshes", started).Msg("cache check finished")
}

// Check refreshes every tracked location whose cache is missing or expired
// and waits for those refreshes. It returns how many refreshes it ran.
func (m *Manager) Check(ctx context.Context) int {
	now := m.now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)

	var started atomic.Int32
	for _, loc := range m.Locations() {
		loc := loc
		if m.IsValid(loc, now) {
			continue
		}
		fl, ok := m.begin(loc)
		if !ok {
			continue
		}
		started.Inc()
		g.Go(func() error {
			m.run(gctx, loc, fl)
			return nil
		})
	}
	_ = g.Wait()
	return int(started.Load())
}

// TriggerRefresh starts a background refresh of loc unless one is already
// running, in which case the returned status is Refreshing and not accepted.
func (m *Manager) TriggerRefresh(loc radar.Location) radar.RefreshStatus {
	m.Track(loc)
	fl, ok := m.begin(loc)
	if !ok {
		return m.Status(loc)
	}
	go m.run(m.ctx, loc, fl)

	status := radar.RefreshStatus{Location: loc, State: radar.RefreshRefreshing, Accepted: true}
	status.StartedAt = &fl.startedAt
	return status
}

// Status reports whether loc is refreshing or its last refresh failed.
func (m *Manager) Status(loc radar.Location) radar.RefreshStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := radar.RefreshStatus{Location: loc, State: radar.RefreshIdle}
	if fl, ok := m.flights[loc.Key()]; ok {
		started := fl.startedAt
		status.State = radar.RefreshRefreshing
		status.StartedAt = &started
		return status
	}
	if reason, ok := m.failures[loc.Key()]; ok {
		status.State = radar.RefreshFailed
		status.Reason = reason
	}
	return status
}

// IsRefreshing reports whether a refresh of loc is running.
func (m *Manager) IsRefreshing(loc radar.Location) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.flights[loc.Key()]
	return ok
}

// ExpiresAt returns when the newest complete folder of loc expires.
func (m *Manager) ExpiresAt(loc radar.Location) (time.Time, bool) {
	folders, err := m.store.CompleteFolders(loc, radar.DataTypeRadar)
	if err != nil {
		m.log.Warn().Err(err).Str("location", loc.Key()).Msg("failed to list cache folders")
		return time.Time{}, false
	}
	if len(folders) == 0 {
		return time.Time{}, false
	}
	return folders[len(folders)-1].CacheTimestamp.Add(m.cfg.Expiration), true
}

// IsValid reports whether loc has a complete folder that has not expired at now.
func (m *Manager) IsValid(loc radar.Location, now time.Time) bool {
	expires, ok := m.ExpiresAt(loc)
	return ok && now.Before(expires)
}

// NextUpdate predicts when the cache of loc will next be refreshed:
// shortly when a refresh is running, at the first check at or after expiry
// while the cache is valid, and at the next check otherwise.
func (m *Manager) NextUpdate(loc radar.Location, now time.Time) time.Time {
	now = now.UTC()
	if m.IsRefreshing(loc) {
		return now.Add(refreshEstimate)
	}
	if expires, ok := m.ExpiresAt(loc); ok && now.Before(expires) {
		return m.schedule.Next(expires.Add(-time.Nanosecond))
	}
	return m.schedule.Next(now)
}

// begin registers a flight for loc. It fails when one is already running or
// the manager is stopped.
func (m *Manager) begin(loc radar.Location) (*flight, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil, false
	}
	if _, busy := m.flights[loc.Key()]; busy {
		return nil, false
	}
	fl := &flight{startedAt: m.now()}
	m.flights[loc.Key()] = fl
	m.wg.Add(1)
	m.inFlight.Inc()
	return fl, true
}

func (m *Manager) finish(loc radar.Location, err error) {
	m.mu.Lock()
	delete(m.flights, loc.Key())
	if err != nil {
		m.failures[loc.Key()] = err.Error()
	} else {
		delete(m.failures, loc.Key())
	}
	m.mu.Unlock()

	m.inFlight.Dec()
	m.wg.Done()
}

func (m *Manager) run(ctx context.Context, loc radar.Location, fl *flight) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RefreshTimeout)
	defer cancel()

	m.runs.Inc()
	log := m.log.With().Str("location", loc.Key()).Logger()
	log.Info().Msg("refreshing radar cache")

	report, err := m.workflow.Run(ctx, loc)
	m.finish(loc, err)

	took := m.now().Sub(fl.startedAt)
	if err != nil {
		m.failed.Inc()
		log.Error().Err(err).Dur("took", took).Msg("radar cache refresh failed")
		return
	}
	ev := log.Info().Dur("took", took)
	if report.Folder != nil {
		ev = ev.Str("folder", report.Folder.FolderName)
	}
	ev.Msg("radar cache refreshed")
}
