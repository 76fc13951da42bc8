package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/smokyabdulrahman/prayer-alarms/internal/geo"
)

const (
	locationFileName = "geolocation.json"
	locationTTL      = 24 * time.Hour
)

// LocationFile remembers the last detected location so IP lookups happen at
// most once a day.
type LocationFile struct {
	path string
	now  func() time.Time
}

type locationEntry struct {
	Location geo.Location `json:"location"`
	CachedAt time.Time    `json:"cached_at"`
}

// NewLocationFile stores the location under dir.
func NewLocationFile(dir string) *LocationFile {
	return &LocationFile{path: filepath.Join(dir, locationFileName), now: time.Now}
}

// Load returns the cached location, or nil if it is missing, unreadable or
// older than a day.
func (f *LocationFile) Load() *geo.Location {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil
	}

	var entry locationEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil
	}
	if f.now().Sub(entry.CachedAt) > locationTTL {
		return nil
	}
	if entry.Location.Coordinates().Validate() != nil {
		return nil
	}
	return &entry.Location
}

// Save writes loc with the current time.
func (f *LocationFile) Save(loc *geo.Location) error {
	data, err := json.Marshal(locationEntry{Location: *loc, CachedAt: f.now()})
	if err != nil {
		return fmt.Errorf("failed to marshal geo cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("cannot create cache directory: %w", err)
	}
	return writeFileAtomic(f.path, data)
}
