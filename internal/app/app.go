// Package app wires the cache, preloader, alarm delivery and scheduler
// together from a config.Config and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smokyabdulrahman/prayer-alarms/internal/alarm"
	"github.com/smokyabdulrahman/prayer-alarms/internal/api"
	"github.com/smokyabdulrahman/prayer-alarms/internal/cache"
	"github.com/smokyabdulrahman/prayer-alarms/internal/config"
	"github.com/smokyabdulrahman/prayer-alarms/internal/geo"
	"github.com/smokyabdulrahman/prayer-alarms/internal/prayer"
	"github.com/smokyabdulrahman/prayer-alarms/internal/preload"
	"github.com/smokyabdulrahman/prayer-alarms/internal/schedule"
)

const defaultRedisAddr = "localhost:6379"

var (
	// ErrNoLocation is returned before Today has been called with a location.
	ErrNoLocation = errors.New("no location set")

	// ErrNoData is returned when there are no timings to schedule from.
	ErrNoData = errors.New("no prayer timings available")
)

// App is the composition root. Build one with New and Close it when done.
type App struct {
	cfg *config.Config
	log zerolog.Logger
	now func() time.Time

	store     *cache.Store
	fetch     cache.FetchFunc
	preloader *preload.Preloader
	notifier  alarm.Notifier
	scheduler *schedule.Scheduler

	closers []func() error

	mu        sync.Mutex
	coords    geo.Coordinates
	method    int
	hasCoords bool
}

type options struct {
	log       zerolog.Logger
	now       func() time.Time
	backend   cache.Backend
	fetch     cache.FetchFunc
	notifier  alarm.Notifier
	primitive alarm.Primitive
	dryRun    bool
}

// Option customises New.
type Option func(*options)

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithBackend replaces the configured cache backend.
func WithBackend(b cache.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithFetch replaces the Al Adhan client.
func WithFetch(f cache.FetchFunc) Option {
	return func(o *options) { o.fetch = f }
}

// WithNotifier replaces the SQLite outbox.
func WithNotifier(n alarm.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithPrimitive replaces the MQTT alarm primitive.
func WithPrimitive(p alarm.Primitive) Option {
	return func(o *options) { o.primitive = p }
}

// WithDryRun keeps every alarm in memory and never connects to MQTT.
func WithDryRun() Option {
	return func(o *options) { o.dryRun = true }
}

// New builds an App from cfg. Connections are opened here; call Close to
// release them.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{log: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{cfg: cfg, log: o.log, now: o.now, method: -1}

	backend := o.backend
	if backend == nil {
		b, closeFn, err := openBackend(cfg)
		if err != nil {
			return nil, err
		}
		backend = b
		a.onClose(closeFn)
	}
	a.store = cache.New(backend,
		cache.WithTTL(cfg.CacheTTL()),
		cache.WithStaleAfter(cfg.StaleAfterDuration()),
		cache.WithClock(o.now),
		cache.WithLogger(a.component("cache")),
	)
	if err := a.store.Initialize(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.fetch = o.fetch
	if a.fetch == nil {
		a.fetch = APIFetcher(api.NewClient())
	}
	a.preloader = preload.New(a.store, a.fetch,
		preload.WithClock(o.now),
		preload.WithLogger(a.component("preload")),
	)

	// A dry run delivers into memory but still honours prayers marked
	// completed by earlier commands, which live in the outbox.
	var completions schedule.CompletionStore
	a.notifier = o.notifier
	if a.notifier == nil {
		outbox, err := openOutbox(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.onClose(outbox.Close)
		a.notifier = outbox
		if o.dryRun {
			completions = outbox
			a.notifier = alarm.NewMemoryNotifier()
		}
	}

	primitive := o.primitive
	if primitive == nil && !o.dryRun && cfg.MQTTBroker != "" {
		sinkLog := a.component("mqtt")
		client, err := alarm.ConnectMQTT(cfg.MQTTBroker, "prayer-alarms-"+uuid.NewString()[:8], sinkLog)
		if err != nil {
			// Notifications still work without the broker.
			a.log.Warn().Err(err).Msg("MQTT unavailable, using notifications only")
		} else {
			a.onClose(func() error {
				client.Disconnect(250)
				return nil
			})
			primitive = alarm.NewMQTTPrimitive(client, cfg.MQTTTopic)
		}
	}

	sink := alarm.Select(primitive, a.notifier, a.component("alarm"))
	schedOpts := []schedule.Option{
		schedule.WithClock(o.now),
		schedule.WithLogger(a.component("schedule")),
	}
	if completions != nil {
		schedOpts = append(schedOpts, schedule.WithCompletions(completions))
	}
	a.scheduler = schedule.New(sink, a.notifier, schedOpts...)
	return a, nil
}

func openOutbox(ctx context.Context, cfg *config.Config) (*alarm.Outbox, error) {
	path := cfg.OutboxPath
	if path == "" {
		p, err := alarm.DefaultOutboxPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return alarm.OpenOutbox(ctx, path)
}

func (a *App) component(name string) zerolog.Logger {
	return a.log.With().Str("component", name).Logger()
}

func (a *App) onClose(fn func() error) {
	if fn != nil {
		a.closers = append(a.closers, fn)
	}
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openBackend(cfg *config.Config) (cache.Backend, func() error, error) {
	switch cfg.Backend() {
	case config.BackendRedis:
		addr := cfg.RedisAddr
		if addr == "" {
			addr = defaultRedisAddr
		}
		rdb := cache.NewRedisClient(addr,
			os.Getenv(config.EnvPrefix+"REDIS_USERNAME"),
			os.Getenv(config.EnvPrefix+"REDIS_PASSWORD"),
			0)
		return cache.NewRedisBackend(rdb, ""), rdb.Close, nil
	default:
		b, err := cache.NewFileBackend(cfg.CacheDir)
		if err != nil {
			return nil, nil, err
		}
		return b, nil, nil
	}
}

// APIFetcher adapts the Al Adhan client to cache.FetchFunc.
func APIFetcher(c *api.Client) cache.FetchFunc {
	return func(ctx context.Context, coords geo.Coordinates, day time.Time, method int) (*cache.TimingsRecord, error) {
		resp, err := c.FetchByCoordinates(ctx, day, coords.Lat, coords.Lng, method)
		if err != nil {
			return nil, err
		}
		return &cache.TimingsRecord{
			Date:     cache.DateKey(day),
			Timings:  resp.Data.Timings.Map(),
			Timezone: resp.Data.Meta.Timezone,
			Hijri:    resp.Data.Date.Hijri.Format(),
		}, nil
	}
}

func (a *App) Store() *cache.Store            { return a.store }
func (a *App) Scheduler() *schedule.Scheduler { return a.scheduler }
func (a *App) Notifier() alarm.Notifier       { return a.notifier }
func (a *App) Fetch() cache.FetchFunc         { return a.fetch }

func (a *App) location() (geo.Coordinates, int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.coords, a.method, a.hasCoords
}

// Today preloads today's timings for coords and method and waits for them.
// Moving more than 10 km from the previous location drops the old
// location's cache and starts the preloader over. The previous location is
// the one recorded in the cache, so a move is noticed even when the last
// location was set by another process.
func (a *App) Today(ctx context.Context, coords geo.Coordinates, method int) (preload.State, error) {
	if err := coords.Validate(); err != nil {
		return preload.State{}, err
	}

	prev, hadPrev, err := a.store.SetActiveLocation(ctx, coords)
	if err != nil {
		a.log.Warn().Err(err).Msg("failed to record active location")
	}

	a.mu.Lock()
	a.coords, a.method, a.hasCoords = coords, method, true
	a.mu.Unlock()

	if hadPrev && geo.HasMovedSignificantly(prev.Lat, prev.Lng, coords.Lat, coords.Lng) {
		a.log.Info().
			Str("from", string(prev.Key())).
			Str("to", string(coords.Key())).
			Msg("location changed significantly")
		a.preloader.Clear()
		if err := a.store.InvalidateLocation(ctx, prev.Key()); err != nil {
			a.log.Warn().Err(err).Msg("failed to invalidate previous location")
		}
	}

	if _, err := a.preloader.Preload(ctx, coords, method); err != nil {
		return preload.State{}, err
	}
	return a.preloader.Wait(ctx)
}

// Snapshot returns the preloader state without waiting.
func (a *App) Snapshot() preload.State {
	return a.preloader.Snapshot()
}

// Refresh re-fetches today's timings when the cached copy for the current
// location is stale, stores them and publishes them to readers. It reports
// whether a fetch happened.
func (a *App) Refresh(ctx context.Context) (bool, error) {
	coords, method, ok := a.location()
	if !ok {
		return false, ErrNoLocation
	}
	key := coords.Key()
	if !a.store.IsStale(ctx, key) {
		return false, nil
	}

	now := a.now()
	fetched, err := a.fetch(ctx, coords, now, method)
	if err != nil {
		return false, fmt.Errorf("refresh timings: %w", err)
	}
	if fetched == nil || len(fetched.Timings) == 0 {
		return false, fmt.Errorf("refresh timings: %w", ErrNoData)
	}

	rec := cache.NewRecord(key, method, cache.DateKey(now), fetched.Timings, now, a.store.TTL())
	rec.Timezone = fetched.Timezone
	rec.Hijri = fetched.Hijri
	if err := a.store.Put(ctx, rec); err != nil {
		return false, err
	}
	a.preloader.Update(rec)
	a.log.Debug().Str("location", string(key)).Msg("timings refreshed")
	return true, nil
}

// CacheAhead caches the next days for the current location.
func (a *App) CacheAhead(ctx context.Context, days int) (int, error) {
	coords, method, ok := a.location()
	if !ok {
		return 0, ErrNoLocation
	}
	return a.store.CacheAhead(ctx, days, coords, method, a.fetch)
}

// Flow names used in a Reschedule report.
const (
	FlowAlerts = "alerts"
	FlowIqama  = "iqama"
	FlowMissed = "missed"
)

// Reschedule runs the three scheduling flows on the preloaded day with the
// configured settings. Every flow runs even when an earlier one fails.
func (a *App) Reschedule(ctx context.Context) (map[string]schedule.Result, error) {
	state := a.preloader.Snapshot()
	if state.Data == nil {
		return nil, ErrNoData
	}
	day := schedule.DayFromRecord(state.Data)
	enabled := EnabledPrayers(a.cfg.Prayers)

	report := make(map[string]schedule.Result, 3)
	var errs []error

	res, err := a.scheduler.SchedulePrayerAlerts(ctx, day, schedule.AlertSettings{
		Prayers:  enabled,
		PlayAzan: a.cfg.AzanEnabled(),
	})
	report[FlowAlerts] = res
	if err != nil {
		errs = append(errs, err)
	}

	res, err = a.scheduler.ScheduleIqama(ctx, day, schedule.IqamaSettings{
		Enabled:              a.cfg.IqamaEnabled(),
		NotificationsAllowed: a.cfg.NotificationsAllowed(),
		DelayMinutes:         a.cfg.IqamaDelayMinutes(),
		Prayers:              enabled,
	})
	report[FlowIqama] = res
	if err != nil {
		errs = append(errs, err)
	}

	res, err = a.scheduler.ScheduleMissedReminders(ctx, day, schedule.MissedSettings{
		Enabled:      a.cfg.MissedRemindersEnabled(),
		DelayMinutes: a.cfg.MissedDelayMinutes(),
		Prayers:      enabled,
	})
	report[FlowMissed] = res
	if err != nil {
		errs = append(errs, err)
	}

	return report, errors.Join(errs...)
}

// MarkPrayerCompleted cancels today's missed-prayer reminder for name.
func (a *App) MarkPrayerCompleted(ctx context.Context, name string) error {
	return a.scheduler.MarkPrayerCompleted(ctx, name)
}

// Completed lists the prayers marked completed today.
func (a *App) Completed(ctx context.Context) ([]string, error) {
	return a.scheduler.Completed(ctx, cache.DateKey(a.now()))
}

// CacheEntries returns the cache index.
func (a *App) CacheEntries(ctx context.Context) (map[geo.LocationKey]cache.IndexEntry, error) {
	return a.store.Entries(ctx)
}

// EnabledPrayers maps a comma-separated prayer list onto the five scheduled
// prayers. An empty list enables all five; names outside the five are
// ignored.
func EnabledPrayers(list string) [5]bool {
	if strings.TrimSpace(list) == "" {
		return schedule.AllPrayers
	}
	var enabled [5]bool
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		for i, p := range prayer.ScheduledPrayers {
			if strings.EqualFold(p, name) {
				enabled[i] = true
			}
		}
	}
	return enabled
}
