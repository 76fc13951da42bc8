// Package preload keeps today's timings available to readers immediately,
// serving the cached copy first and fetching at most once per location and
// calculation method.
package preload

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/smokyabdulrahman/prayer-alarms/internal/cache"
	"github.com/smokyabdulrahman/prayer-alarms/internal/geo"
)

// Store is the subset of cache.Store the preloader reads and writes.
type Store interface {
	Get(ctx context.Context, date string, key geo.LocationKey, method int) *cache.TimingsRecord
	Put(ctx context.Context, rec *cache.TimingsRecord) error
	TTL() time.Duration
}

// State is what readers see. Data, once set, stays set until Clear.
type State struct {
	Data      *cache.TimingsRecord
	CachedAt  time.Time
	IsLoaded  bool
	FromCache bool
}

type loadKey struct {
	location geo.LocationKey
	method   int
	date     string
}

// Load is the handle of one preload sequence.
type Load struct {
	key  loadKey
	done chan struct{}

	overridden bool // guarded by Preloader.mu
}

// Done is closed when the sequence has finished, successfully or not.
func (l *Load) Done() <-chan struct{} {
	return l.done
}

// Wait blocks until the sequence finishes or ctx is done.
func (l *Load) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Preloader owns the current State. Construct one with New and share it.
type Preloader struct {
	store Store
	fetch cache.FetchFunc
	now   func() time.Time
	log   zerolog.Logger

	mu      sync.Mutex
	state   State
	current *Load
}

// Option configures a Preloader.
type Option func(*Preloader)

func WithClock(now func() time.Time) Option {
	return func(p *Preloader) { p.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Preloader) { p.log = l }
}

// New creates a Preloader reading through store and fetching with fetch.
func New(store Store, fetch cache.FetchFunc, opts ...Option) *Preloader {
	p := &Preloader{
		store: store,
		fetch: fetch,
		now:   time.Now,
		log:   zerolog.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Preload starts loading today's timings for coords and method. A call for
// the same location, method and date as the current load returns that load's
// handle without starting new work. A call for anything else supersedes the
// current load; the superseded load still finishes but its result is
// dropped.
//
// The sequence outlives ctx's cancellation; ctx only carries values.
func (p *Preloader) Preload(ctx context.Context, coords geo.Coordinates, method int) (*Load, error) {
	if err := coords.Validate(); err != nil {
		return nil, err
	}
	day := p.now()
	key := loadKey{location: coords.Key(), method: method, date: cache.DateKey(day)}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil && p.current.key == key {
		return p.current, nil
	}

	l := &Load{key: key, done: make(chan struct{})}
	p.current = l
	p.state.IsLoaded = false

	go p.run(context.WithoutCancel(ctx), l, coords, day)
	return l, nil
}

func (p *Preloader) run(ctx context.Context, l *Load, coords geo.Coordinates, day time.Time) {
	defer close(l.done)
	log := p.log.With().
		Str("location", string(l.key.location)).
		Int("method", l.key.method).
		Str("date", l.key.date).
		Logger()

	if rec := p.store.Get(ctx, l.key.date, l.key.location, l.key.method); rec != nil {
		log.Debug().Msg("preload served from cache")
		p.publish(l, rec, rec.CachedAt, true)
		return
	}

	fetched, err := p.fetch(ctx, coords, day, l.key.method)
	if err != nil || fetched == nil || len(fetched.Timings) == 0 {
		log.Warn().Err(err).Msg("preload fetch failed, keeping last known data")
		p.markLoaded(l)
		return
	}

	now := p.now()
	rec := cache.NewRecord(l.key.location, l.key.method, l.key.date, fetched.Timings, now, p.store.TTL())
	rec.Timezone = fetched.Timezone
	rec.Hijri = fetched.Hijri

	p.publish(l, rec, now, false)
	if err := p.store.Put(ctx, rec); err != nil {
		log.Warn().Err(err).Msg("failed to cache preloaded timings")
	}
}

func (p *Preloader) publish(l *Load, rec *cache.TimingsRecord, cachedAt time.Time, fromCache bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != l || l.overridden {
		return
	}
	p.state = State{Data: rec, CachedAt: cachedAt, IsLoaded: true, FromCache: fromCache}
}

func (p *Preloader) markLoaded(l *Load) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == l {
		p.state.IsLoaded = true
	}
}

// Snapshot returns the current state without waiting.
func (p *Preloader) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Wait blocks until the current load, if any, finishes and returns the state.
func (p *Preloader) Wait(ctx context.Context) (State, error) {
	p.mu.Lock()
	l := p.current
	p.mu.Unlock()

	if l != nil {
		if err := l.Wait(ctx); err != nil {
			return p.Snapshot(), err
		}
	}
	return p.Snapshot(), nil
}

// Update publishes a record fetched elsewhere and stamps it as fresh. A load
// still in flight will not overwrite it.
func (p *Preloader) Update(rec *cache.TimingsRecord) {
	if rec == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.current.overridden = true
	}
	p.state = State{Data: rec, CachedAt: p.now(), IsLoaded: true}
}

// Clear drops the state and forgets the current load, so the next Preload
// starts over.
func (p *Preloader) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = State{}
	p.current = nil
}
