package app

import (
	"context"
	"time"

	"github.com/smokyabdulrahman/prayer-alarms/internal/alarm"
	"github.com/smokyabdulrahman/prayer-alarms/internal/config"
	"github.com/smokyabdulrahman/prayer-alarms/internal/geo"
	"github.com/smokyabdulrahman/prayer-alarms/internal/server"
)

const (
	tickInterval  = time.Minute
	pruneInterval = time.Hour

	// DefaultAheadDays is how many days the daemon keeps cached.
	DefaultAheadDays = 7
)

// dueSource is implemented by notifiers that hold notifications until they
// fire, such as the SQLite outbox.
type dueSource interface {
	Due(ctx context.Context, now time.Time) ([]alarm.Notification, error)
}

// Run is the daemon loop. It resets the scheduler, prunes the cache, loads
// today's timings for coords and then, every minute, refreshes stale data,
// reschedules and delivers due notifications. The HTTP API serves on the
// configured listen address. Run returns when ctx is canceled.
func (a *App) Run(ctx context.Context, coords geo.Coordinates, method int) error {
	a.scheduler.Reset()
	a.prune(ctx)

	if _, err := a.Today(ctx, coords, method); err != nil {
		return err
	}
	a.cacheAhead(ctx)
	a.Tick(ctx)

	addr := a.cfg.ListenAddr
	if addr == "" {
		addr = config.DefaultListenAddr
	}
	srv := server.New(addr, a, a.component("http"))
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Run(ctx) }()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	pruner := time.NewTicker(pruneInterval)
	defer pruner.Stop()

	for {
		select {
		case <-ctx.Done():
			return <-srvErr
		case err := <-srvErr:
			return err
		case <-ticker.C:
			a.Tick(ctx)
		case <-pruner.C:
			a.prune(ctx)
			a.cacheAhead(ctx)
		}
	}
}

// Tick runs one daemon cycle. It never fails; problems are logged.
func (a *App) Tick(ctx context.Context) {
	coords, method, ok := a.location()
	if !ok {
		return
	}
	// Picks up a new calendar day; returns at once otherwise.
	if _, err := a.Today(ctx, coords, method); err != nil {
		a.log.Warn().Err(err).Msg("preload failed")
	}
	if _, err := a.Refresh(ctx); err != nil {
		a.log.Warn().Err(err).Msg("refresh failed, keeping cached timings")
	}
	if _, err := a.Reschedule(ctx); err != nil {
		a.log.Warn().Err(err).Msg("reschedule failed")
	}
	a.Dispatch(ctx)
}

// Dispatch delivers every notification that is due by logging it. It
// returns the delivered notifications.
func (a *App) Dispatch(ctx context.Context) []alarm.Notification {
	src, ok := a.notifier.(dueSource)
	if !ok {
		return nil
	}
	due, err := src.Due(ctx, a.now())
	if err != nil {
		a.log.Warn().Err(err).Msg("failed to read due notifications")
		return nil
	}
	for _, n := range due {
		a.log.Info().
			Str("tag", n.Payload.Tag).
			Str("prayer", n.Payload.Prayer).
			Bool("azan", n.Payload.PlayAzan).
			Time("trigger", n.Trigger).
			Str("title", n.Title).
			Msg(n.Body)
	}
	return due
}

func (a *App) prune(ctx context.Context) {
	if _, err := a.store.PruneExpired(ctx); err != nil {
		a.log.Warn().Err(err).Msg("cache prune failed")
	}
}

func (a *App) cacheAhead(ctx context.Context) {
	if _, err := a.CacheAhead(ctx, DefaultAheadDays); err != nil {
		a.log.Warn().Err(err).Msg("cache-ahead failed")
	}
}
