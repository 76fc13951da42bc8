package cache

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/smokyabdulrahman/prayer-alarms/internal/geo"
)

const (
	// DefaultTTL is how long a record stays valid after it was written.
	DefaultTTL = 30 * 24 * time.Hour

	// DateLayout is the calendar-date format used in keys and records.
	DateLayout = "2006-01-02"
)

// DateKey formats t's calendar date (in t's location) as YYYY-MM-DD.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// TimingsRecord is one day's prayer schedule for one location and method.
type TimingsRecord struct {
	LocationKey geo.LocationKey   `json:"location_key"`
	Method      int               `json:"method"`
	Date        string            `json:"date"` // YYYY-MM-DD
	Timings     map[string]string `json:"timings"`
	Timezone    string            `json:"timezone,omitempty"`
	Hijri       string            `json:"hijri,omitempty"`
	CachedAt    time.Time         `json:"cached_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

// NewRecord builds a record written at cachedAt that expires ttl later.
// A non-positive ttl uses DefaultTTL.
func NewRecord(key geo.LocationKey, method int, date string, timings map[string]string, cachedAt time.Time, ttl time.Duration) *TimingsRecord {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TimingsRecord{
		LocationKey: key,
		Method:      method,
		Date:        date,
		Timings:     timings,
		CachedAt:    cachedAt,
		ExpiresAt:   cachedAt.Add(ttl),
	}
}

// Key returns the storage key of r.
func (r *TimingsRecord) Key() RecordKey {
	return RecordKey{Location: r.LocationKey, Method: r.Method, Date: r.Date}
}

// Expired reports whether r must no longer be served at now.
func (r *TimingsRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

func (r *TimingsRecord) validate() error {
	if r.LocationKey == "" {
		return fmt.Errorf("record has no location key")
	}
	if _, err := time.Parse(DateLayout, r.Date); err != nil {
		return fmt.Errorf("record date %q: %w", r.Date, err)
	}
	if !r.ExpiresAt.After(r.CachedAt) {
		return fmt.Errorf("record for %s expires at %s, not after cached_at %s",
			r.Date, r.ExpiresAt.Format(time.RFC3339), r.CachedAt.Format(time.RFC3339))
	}
	return nil
}

// RecordKey addresses one persisted record.
type RecordKey struct {
	Location geo.LocationKey
	Method   int
	Date     string
}

func (k RecordKey) String() string {
	return string(k.Location) + "_m" + strconv.Itoa(k.Method) + "_" + k.Date
}

// IndexEntry is the per-location metadata consulted without touching records.
type IndexEntry struct {
	Method       int       `json:"method"`
	CachedDates  []string  `json:"cached_dates"` // sorted, unique
	LastSyncedAt time.Time `json:"last_synced_at"`
}

// Has reports whether date is listed.
func (e *IndexEntry) Has(date string) bool {
	i := sort.SearchStrings(e.CachedDates, date)
	return i < len(e.CachedDates) && e.CachedDates[i] == date
}

func (e *IndexEntry) add(date string) {
	i := sort.SearchStrings(e.CachedDates, date)
	if i < len(e.CachedDates) && e.CachedDates[i] == date {
		return
	}
	e.CachedDates = append(e.CachedDates, "")
	copy(e.CachedDates[i+1:], e.CachedDates[i:])
	e.CachedDates[i] = date
}

func (e *IndexEntry) remove(date string) bool {
	i := sort.SearchStrings(e.CachedDates, date)
	if i >= len(e.CachedDates) || e.CachedDates[i] != date {
		return false
	}
	e.CachedDates = append(e.CachedDates[:i], e.CachedDates[i+1:]...)
	return true
}

func (e *IndexEntry) clone() IndexEntry {
	c := *e
	c.CachedDates = append([]string(nil), e.CachedDates...)
	return c
}

// Index maps each location to its metadata entry.
type Index map[geo.LocationKey]*IndexEntry

// indexDocument is the stored form of the index.
type indexDocument struct {
	Locations Index            `json:"locations"`
	Active    *geo.Coordinates `json:"active,omitempty"`
}
