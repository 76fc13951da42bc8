// Package cache persists daily prayer timings per quantized location and
// keeps an index of what is cached so lookups and refresh decisions do not
// need to scan storage.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/smokyabdulrahman/prayer-alarms/internal/geo"
)

const (
	// DefaultStaleAfter is how old a location's last sync may get before
	// IsStale reports true.
	DefaultStaleAfter = 6 * time.Hour

	// DefaultConcurrency bounds parallel fetches in CacheAhead.
	DefaultConcurrency = 4
)

// FetchFunc retrieves one day's timings from the network. The returned
// record's key fields and timestamps are filled in by the Store.
type FetchFunc func(ctx context.Context, coords geo.Coordinates, day time.Time, method int) (*TimingsRecord, error)

// Store is the cache of TimingsRecords over a Backend. It is safe for
// concurrent use. Several processes may share one backend: every operation
// reloads the index before reading or changing it. Two writers racing between
// that reload and their own write still resolve last-writer-wins; readers
// heal the index when a listed record is missing.
type Store struct {
	backend     Backend
	ttl         time.Duration
	staleAfter  time.Duration
	concurrency int
	now         func() time.Time
	log         zerolog.Logger

	mu          sync.Mutex
	initialized bool
	index       Index
	active      *geo.Coordinates
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the lifetime given to records built by CacheAhead.
func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithStaleAfter sets the IsStale threshold.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithConcurrency bounds parallel fetches in CacheAhead.
func WithConcurrency(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// New creates a Store over backend. Nothing is read until Initialize or the
// first operation that needs the index.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:     backend,
		ttl:         DefaultTTL,
		staleAfter:  DefaultStaleAfter,
		concurrency: DefaultConcurrency,
		now:         time.Now,
		log:         zerolog.Nop(),
		index:       Index{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// TTL returns the record lifetime used by the Store.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Initialize prepares the backend and loads the index. The backend is
// prepared once however many times Initialize is called.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncLocked(ctx)
}

// Initialized reports whether the index has been loaded.
func (s *Store) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// syncLocked prepares the backend on first use and reloads the index. Once
// the Store is initialized, an index that cannot be read leaves the last
// loaded copy in place.
func (s *Store) syncLocked(ctx context.Context) error {
	if !s.initialized {
		if err := s.backend.Init(ctx); err != nil {
			return fmt.Errorf("cache init: %w", err)
		}
	}

	doc, err := s.readIndexLocked(ctx)
	if err != nil {
		if !s.initialized {
			return fmt.Errorf("cache init: %w", err)
		}
		s.log.Warn().Err(err).Msg("cache index unreadable, using last loaded copy")
		return nil
	}
	s.index, s.active = doc.Locations, doc.Active

	if !s.initialized {
		s.initialized = true
		s.log.Debug().Int("locations", len(s.index)).Msg("cache index loaded")
	}
	return nil
}

func (s *Store) readIndexLocked(ctx context.Context) (indexDocument, error) {
	doc := indexDocument{Locations: Index{}}
	data, err := s.backend.ReadIndex(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		return doc, nil
	case err != nil:
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		s.log.Warn().Err(err).Msg("cache index is corrupt, starting empty")
		return indexDocument{Locations: Index{}}, nil
	}

	if doc.Locations == nil {
		doc.Locations = Index{}
	}
	for k, e := range doc.Locations {
		if e == nil {
			delete(doc.Locations, k)
			continue
		}
		sort.Strings(e.CachedDates)
	}
	if doc.Active != nil && doc.Active.Validate() != nil {
		doc.Active = nil
	}
	return doc, nil
}

func (s *Store) persistIndexLocked(ctx context.Context) error {
	data, err := json.Marshal(indexDocument{Locations: s.index, Active: s.active})
	if err != nil {
		return fmt.Errorf("failed to marshal cache index: %w", err)
	}
	if err := s.backend.WriteIndex(ctx, data); err != nil {
		return fmt.Errorf("failed to persist cache index: %w", err)
	}
	return nil
}

// Put persists rec and records its date in the location's index entry.
// Writing a different method for a location that already has an entry drops
// the old method's records first, so the entry always describes one method.
func (s *Store) Put(ctx context.Context, rec *TimingsRecord) error {
	if rec == nil {
		return errors.New("cache put: nil record")
	}
	if err := rec.validate(); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncLocked(ctx); err != nil {
		return err
	}

	entry := s.index[rec.LocationKey]
	if entry != nil && entry.Method != rec.Method {
		s.log.Info().
			Str("location", string(rec.LocationKey)).
			Int("old_method", entry.Method).
			Int("new_method", rec.Method).
			Msg("calculation method changed, replacing cached dates")
		if err := s.dropEntryLocked(ctx, rec.LocationKey, entry); err != nil {
			s.log.Warn().Err(err).Str("location", string(rec.LocationKey)).
				Msg("failed to delete records of the previous method")
		}
		entry = nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal cache record: %w", err)
	}
	if err := s.backend.WriteRecord(ctx, rec.Key(), data); err != nil {
		return err
	}

	if entry == nil {
		entry = &IndexEntry{Method: rec.Method}
		s.index[rec.LocationKey] = entry
	}
	entry.add(rec.Date)
	entry.LastSyncedAt = s.now()

	return s.persistIndexLocked(ctx)
}

// dropEntryLocked deletes every record listed for key and removes the entry
// from the in-memory index. The caller persists the index.
func (s *Store) dropEntryLocked(ctx context.Context, key geo.LocationKey, entry *IndexEntry) error {
	var errs []error
	for _, date := range entry.CachedDates {
		rk := RecordKey{Location: key, Method: entry.Method, Date: date}
		if err := s.backend.DeleteRecord(ctx, rk); err != nil {
			errs = append(errs, err)
		}
	}
	delete(s.index, key)
	return errors.Join(errs...)
}

// Get returns the record for date, or nil when it is absent, expired or
// unreadable. Expired and corrupt records are deleted and their index entry
// corrected before returning.
func (s *Store) Get(ctx context.Context, date string, key geo.LocationKey, method int) *TimingsRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncLocked(ctx); err != nil {
		s.log.Warn().Err(err).Msg("cache unavailable")
		return nil
	}

	rk := RecordKey{Location: key, Method: method, Date: date}
	rec, err := s.readLocked(ctx, rk)
	switch {
	case errors.Is(err, ErrNotFound):
		s.forgetLocked(ctx, rk)
		return nil
	case err != nil:
		s.log.Warn().Err(err).Str("record", rk.String()).Msg("discarding unreadable cache record")
		if err := s.backend.DeleteRecord(ctx, rk); err != nil {
			s.log.Warn().Err(err).Str("record", rk.String()).Msg("failed to delete unreadable record")
		}
		s.forgetLocked(ctx, rk)
		return nil
	}

	if rec.Expired(s.now()) {
		s.log.Debug().Str("record", rk.String()).Msg("cache record expired")
		if err := s.backend.DeleteRecord(ctx, rk); err != nil {
			s.log.Warn().Err(err).Msg("failed to delete expired record")
		}
		s.forgetLocked(ctx, rk)
		return nil
	}
	return rec
}

// readLocked decodes the record at rk. A payload that does not decode or does
// not describe rk is reported as an error other than ErrNotFound.
func (s *Store) readLocked(ctx context.Context, rk RecordKey) (*TimingsRecord, error) {
	data, err := s.backend.ReadRecord(ctx, rk)
	if err != nil {
		return nil, err
	}
	var rec TimingsRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt record: %w", err)
	}
	if rec.Key() != rk || len(rec.Timings) == 0 {
		return nil, fmt.Errorf("corrupt record: contents do not match %s", rk)
	}
	return &rec, nil
}

// forgetLocked removes rk's date from the index if listed and persists the
// change.
func (s *Store) forgetLocked(ctx context.Context, rk RecordKey) {
	entry := s.index[rk.Location]
	if entry == nil || entry.Method != rk.Method || !entry.remove(rk.Date) {
		return
	}
	if err := s.persistIndexLocked(ctx); err != nil {
		s.log.Warn().Err(err).Msg("failed to update cache index")
	}
}

// CacheAhead makes sure the days [today, today+days) are cached for coords,
// fetching only the dates the index does not already list. Fetches run in
// parallel; a failed fetch skips that day only. It returns how many records
// were written, and any write errors joined.
func (s *Store) CacheAhead(ctx context.Context, days int, coords geo.Coordinates, method int, fetch FetchFunc) (int, error) {
	if err := coords.Validate(); err != nil {
		return 0, err
	}
	if days <= 0 {
		return 0, nil
	}
	key := coords.Key()

	s.mu.Lock()
	if err := s.syncLocked(ctx); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	today := s.now()
	var missing []time.Time
	entry := s.index[key]
	for i := 0; i < days; i++ {
		day := today.AddDate(0, 0, i)
		if entry != nil && entry.Method == method && entry.Has(DateKey(day)) {
			continue
		}
		missing = append(missing, day)
	}
	s.mu.Unlock()

	if len(missing) == 0 {
		return 0, nil
	}
	log := s.log.With().Str("location", string(key)).Int("method", method).Logger()
	log.Debug().Int("missing", len(missing)).Msg("caching ahead")

	var (
		g       errgroup.Group
		stored  atomic.Int32
		errMu   sync.Mutex
		putErrs []error
	)
	g.SetLimit(s.concurrency)
	for _, day := range missing {
		g.Go(func() error {
			date := DateKey(day)
			rec, err := fetch(ctx, coords, day, method)
			if err != nil {
				log.Warn().Err(err).Str("date", date).Msg("cache-ahead fetch failed")
				return nil
			}
			if rec == nil || len(rec.Timings) == 0 {
				log.Warn().Str("date", date).Msg("cache-ahead fetch returned no timings")
				return nil
			}
			s.stamp(rec, key, method, date)
			if err := s.Put(ctx, rec); err != nil {
				log.Error().Err(err).Str("date", date).Msg("cache-ahead write failed")
				errMu.Lock()
				putErrs = append(putErrs, fmt.Errorf("%s: %w", date, err))
				errMu.Unlock()
				return nil
			}
			stored.Add(1)
			return nil
		})
	}
	g.Wait()

	return int(stored.Load()), errors.Join(putErrs...)
}

// stamp fills the key fields of a fetched record and its timestamps when the
// fetcher left them unset.
func (s *Store) stamp(rec *TimingsRecord, key geo.LocationKey, method int, date string) {
	rec.LocationKey = key
	rec.Method = method
	rec.Date = date
	if rec.CachedAt.IsZero() {
		rec.CachedAt = s.now()
	}
	if !rec.ExpiresAt.After(rec.CachedAt) {
		rec.ExpiresAt = rec.CachedAt.Add(s.ttl)
	}
}

// InvalidateAll removes every record and resets the index.
func (s *Store) InvalidateAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncLocked(ctx); err != nil {
		return err
	}
	if err := s.backend.Clear(ctx); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	s.index = Index{}
	s.active = nil
	s.log.Info().Msg("cache cleared")
	return nil
}

// InvalidateLocation removes all records for key and its index entry.
func (s *Store) InvalidateLocation(ctx context.Context, key geo.LocationKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncLocked(ctx); err != nil {
		return err
	}
	entry := s.index[key]
	if entry == nil {
		return nil
	}
	delErr := s.dropEntryLocked(ctx, key, entry)
	if err := s.persistIndexLocked(ctx); err != nil {
		return errors.Join(delErr, err)
	}
	s.log.Info().Str("location", string(key)).Msg("location cache invalidated")
	return delErr
}

// PruneExpired deletes every indexed record that is expired, missing or
// unreadable, and drops entries left with no dates. It returns the number of
// dates removed from the index.
func (s *Store) PruneExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncLocked(ctx); err != nil {
		return 0, err
	}

	now := s.now()
	removed := 0
	for key, entry := range s.index {
		kept := entry.CachedDates[:0]
		for _, date := range entry.CachedDates {
			rk := RecordKey{Location: key, Method: entry.Method, Date: date}
			rec, err := s.readLocked(ctx, rk)
			if err == nil && !rec.Expired(now) {
				kept = append(kept, date)
				continue
			}
			if !errors.Is(err, ErrNotFound) {
				if derr := s.backend.DeleteRecord(ctx, rk); derr != nil {
					s.log.Warn().Err(derr).Str("record", rk.String()).Msg("failed to delete record")
				}
			}
			removed++
		}
		entry.CachedDates = kept
		if len(entry.CachedDates) == 0 {
			delete(s.index, key)
		}
	}

	if removed == 0 {
		return 0, nil
	}
	s.log.Info().Int("removed", removed).Msg("pruned expired cache records")
	return removed, s.persistIndexLocked(ctx)
}

// IsStale reports whether key has never been synced or was last synced more
// than the staleness threshold ago.
func (s *Store) IsStale(ctx context.Context, key geo.LocationKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncLocked(ctx); err != nil {
		return true
	}
	entry := s.index[key]
	if entry == nil {
		return true
	}
	return s.now().Sub(entry.LastSyncedAt) > s.staleAfter
}

// Entries returns a copy of the index.
func (s *Store) Entries(ctx context.Context) (map[geo.LocationKey]IndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncLocked(ctx); err != nil {
		return nil, err
	}
	out := make(map[geo.LocationKey]IndexEntry, len(s.index))
	for k, e := range s.index {
		out[k] = e.clone()
	}
	return out, nil
}

// SetActiveLocation records coords as the location in use and returns the
// one recorded before it. The record is part of the index, so every process
// sharing the backend sees the same active location.
func (s *Store) SetActiveLocation(ctx context.Context, coords geo.Coordinates) (prev geo.Coordinates, hadPrev bool, err error) {
	if err := coords.Validate(); err != nil {
		return geo.Coordinates{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncLocked(ctx); err != nil {
		return geo.Coordinates{}, false, err
	}

	if s.active != nil {
		prev, hadPrev = *s.active, true
		if prev == coords {
			return prev, true, nil
		}
	}
	s.active = &coords
	return prev, hadPrev, s.persistIndexLocked(ctx)
}

// ActiveLocation returns the location last recorded by SetActiveLocation.
func (s *Store) ActiveLocation(ctx context.Context) (geo.Coordinates, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncLocked(ctx); err != nil || s.active == nil {
		return geo.Coordinates{}, false
	}
	return *s.active, true
}
