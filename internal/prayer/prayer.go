// Package prayer parses daily timings into concrete instants and answers
// "what is next" questions about them.
package prayer

import (
	"fmt"
	"time"
)

// Prayer represents a single prayer with its name and time.
type Prayer struct {
	Name string
	Time time.Time
}

// AllPrayerNames lists every prayer/event the API can return, in chronological order.
var AllPrayerNames = []string{
	"Fajr", "Sunrise", "Dhuhr", "Asr", "Sunset", "Maghrib", "Isha",
	"Imsak", "Midnight", "Firstthird", "Lastthird",
}

// DefaultPrayerNames are the prayers shown by default.
var DefaultPrayerNames = []string{
	"Fajr", "Sunrise", "Dhuhr", "Asr", "Maghrib", "Isha",
}

// ScheduledPrayers are the five obligatory prayers that get alarms.
var ScheduledPrayers = [5]string{"Fajr", "Dhuhr", "Asr", "Maghrib", "Isha"}

// ShortNames maps full prayer names to single-character abbreviations.
var ShortNames = map[string]string{
	"Fajr":       "F",
	"Sunrise":    "S",
	"Dhuhr":      "D",
	"Asr":        "A",
	"Sunset":     "St",
	"Maghrib":    "M",
	"Isha":       "I",
	"Imsak":      "Im",
	"Midnight":   "Mi",
	"Firstthird": "F3",
	"Lastthird":  "L3",
}

// IsKnown reports whether name is a prayer the API returns.
func IsKnown(name string) bool {
	_, ok := ShortNames[name]
	return ok
}

// ParseTimings converts a name->time-string mapping into Prayers on the given
// date, in the selected order.
func ParseTimings(timings map[string]string, date time.Time, loc *time.Location, selected []string) ([]Prayer, error) {
	day := date.In(loc)

	var prayers []Prayer
	for _, name := range selected {
		if !IsKnown(name) {
			return nil, fmt.Errorf("unknown prayer name: %s", name)
		}
		raw, ok := timings[name]
		if !ok {
			return nil, fmt.Errorf("no time for %s in timings", name)
		}

		c, err := ParseTime(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse time for %s: %w", name, err)
		}

		prayers = append(prayers, Prayer{Name: name, Time: c.On(day)})
	}

	return prayers, nil
}

// NextPrayer finds the next upcoming prayer relative to now.
// If all prayers for today have passed, it returns nil.
func NextPrayer(prayers []Prayer, now time.Time) *Prayer {
	for i := range prayers {
		if prayers[i].Time.After(now) {
			return &prayers[i]
		}
	}
	return nil
}

// CurrentPrayer returns the most recent prayer at or before now, or nil
// before the first one.
func CurrentPrayer(prayers []Prayer, now time.Time) *Prayer {
	var current *Prayer
	for i := range prayers {
		if prayers[i].Time.After(now) {
			break
		}
		current = &prayers[i]
	}
	return current
}

// TimeRemaining returns the duration until the given prayer time.
func TimeRemaining(prayer Prayer, now time.Time) time.Duration {
	return prayer.Time.Sub(now)
}

// FormatRemaining formats a duration as "Xh Ym" or "Ym" if less than an hour.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		return "0m"
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
