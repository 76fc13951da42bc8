package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/smokyabdulrahman/prayer-alarms/internal/app"
	"github.com/smokyabdulrahman/prayer-alarms/internal/cache"
	"github.com/smokyabdulrahman/prayer-alarms/internal/config"
	"github.com/smokyabdulrahman/prayer-alarms/internal/display"
	"github.com/smokyabdulrahman/prayer-alarms/internal/prayer"
	"github.com/smokyabdulrahman/prayer-alarms/internal/preload"
)

// errNoTimings is returned when neither the cache nor the API has today's
// timings.
var errNoTimings = errors.New("no prayer times available: offline and nothing cached for today")

// session is everything a command needs once today's timings are loaded.
type session struct {
	cfg    *config.Config
	app    *app.App
	loc    resolvedLocation
	method int
	state  preload.State
	tz     string
	tzLoc  *time.Location
	now    time.Time
}

// openSession resolves the location, builds the app and waits for today's
// timings. The caller closes s.app.
func openSession(cmd *cobra.Command, opts ...app.Option) (*session, error) {
	cfg := effectiveConfig(cmd)
	ctx := cmd.Context()

	loc, err := resolveLocation(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a, err := openApp(cmd, cfg, opts...)
	if err != nil {
		return nil, err
	}

	method := cfg.MethodOrDefault(-1)
	state, err := a.Today(ctx, loc.Coords, method)
	if err != nil {
		a.Close()
		return nil, err
	}
	if state.Data == nil {
		a.Close()
		return nil, errNoTimings
	}

	tz := loc.Timezone
	if tz == "" {
		tz = state.Data.Timezone
	}
	tzLoc := time.Local
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
		tzLoc = l
	} else {
		tz = tzLoc.String()
	}

	return &session{
		cfg:    cfg,
		app:    a,
		loc:    loc,
		method: method,
		state:  state,
		tz:     tz,
		tzLoc:  tzLoc,
		// Re-anchor "now" to the location's timezone.
		now: time.Now().In(tzLoc),
	}, nil
}

// selectedPrayers returns the configured prayer list, or the defaults.
func selectedPrayers(cfg *config.Config) []string {
	if cfg.Prayers == "" {
		return prayer.DefaultPrayerNames
	}
	names := strings.Split(cfg.Prayers, ",")
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
	}
	return names
}

func runToday(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.app.Close()

	prayers, err := prayer.ParseTimings(s.state.Data.Timings, s.now, s.tzLoc, selectedPrayers(s.cfg))
	if err != nil {
		return err
	}

	current := prayer.CurrentPrayer(prayers, s.now)
	next := prayer.NextPrayer(prayers, s.now)

	out := cmd.OutOrStdout()
	if FlagJSON {
		return printTodayJSON(out, s, prayers, current, next)
	}
	printTodayRich(out, s, prayers, current, next)
	return nil
}

// printTodayRich renders the colored terminal output for today's prayer schedule.
func printTodayRich(w io.Writer, s *session, prayers []prayer.Prayer, current, next *prayer.Prayer) {
	layout := timeLayout(s.cfg)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s\n", display.Bold("Prayer Times"))
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  %s\n", buildLocationStr(s.loc))
	fmt.Fprintf(w, "  %s\n", s.tz)
	fmt.Fprintf(w, "  %s\n", formatGregorianDate(s.now))
	if s.state.Data.Hijri != "" {
		fmt.Fprintf(w, "  %s\n", s.state.Data.Hijri)
	}
	if s.state.FromCache {
		fmt.Fprintf(w, "  %s\n", display.Gray(cachedLabel(s.state.CachedAt, s.now)))
	}

	fmt.Fprintln(w)

	maxNameLen := 0
	for _, p := range prayers {
		if len(p.Name) > maxNameLen {
			maxNameLen = len(p.Name)
		}
	}

	iqama := time.Duration(0)
	if s.cfg.IqamaEnabled() {
		iqama = time.Duration(s.cfg.IqamaDelayMinutes()) * time.Minute
	}

	for _, p := range prayers {
		line := fmt.Sprintf("  %s  %s", padRight(p.Name, maxNameLen), p.Time.Format(layout))
		if iqama > 0 && isScheduled(p.Name) {
			line += display.Gray("  iqama " + p.Time.Add(iqama).Format(layout))
		}

		switch {
		case current != nil && p.Name == current.Name:
			fmt.Fprintln(w, display.Dim(line))
		case next != nil && p.Name == next.Name:
			remaining := prayer.FormatRemaining(prayer.TimeRemaining(p, s.now))
			suffix := fmt.Sprintf("  <- next in %s", remaining)
			fmt.Fprintln(w, display.Accent(line)+display.Accent(suffix))
		default:
			fmt.Fprintln(w, line)
		}
	}

	fmt.Fprintln(w)
}

func isScheduled(name string) bool {
	for _, p := range prayer.ScheduledPrayers {
		if p == name {
			return true
		}
	}
	return false
}

// cachedLabel describes how old the cached copy is.
func cachedLabel(cachedAt, now time.Time) string {
	age := now.Sub(cachedAt)
	if age < time.Minute {
		return "cached just now"
	}
	return "cached " + prayer.FormatRemaining(age) + " ago"
}

// formatGregorianDate returns a formatted Gregorian date string.
func formatGregorianDate(now time.Time) string {
	return now.Format("02 January 2006")
}

// padRight pads a string to the given width with spaces.
func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// todayJSON is the JSON output structure for the root command.
type todayJSON struct {
	Location  todayJSONLocation `json:"location"`
	Date      todayJSONDate     `json:"date"`
	Timings   map[string]string `json:"timings"`
	Current   string            `json:"current"`
	Next      *todayJSONNext    `json:"next"`
	FromCache bool              `json:"from_cache"`
	CachedAt  time.Time         `json:"cached_at"`
}

type todayJSONLocation struct {
	City      string  `json:"city,omitempty"`
	Country   string  `json:"country,omitempty"`
	Timezone  string  `json:"timezone"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Key       string  `json:"key"`
}

type todayJSONDate struct {
	Gregorian string `json:"gregorian"`
	Hijri     string `json:"hijri"`
}

type todayJSONNext struct {
	Prayer    string `json:"prayer"`
	Time      string `json:"time"`
	Remaining string `json:"remaining"`
}

func jsonLocation(s *session) todayJSONLocation {
	return todayJSONLocation{
		City:      s.loc.City,
		Country:   s.loc.Country,
		Timezone:  s.tz,
		Latitude:  s.loc.Coords.Lat,
		Longitude: s.loc.Coords.Lng,
		Key:       string(s.loc.Coords.Key()),
	}
}

// printTodayJSON renders structured JSON output.
func printTodayJSON(w io.Writer, s *session, prayers []prayer.Prayer, current, next *prayer.Prayer) error {
	layout := timeLayout(s.cfg)
	timings := make(map[string]string)
	for _, p := range prayers {
		timings[strings.ToLower(p.Name)] = p.Time.Format(layout)
	}

	out := todayJSON{
		Location: jsonLocation(s),
		Date: todayJSONDate{
			Gregorian: formatGregorianDate(s.now),
			Hijri:     s.state.Data.Hijri,
		},
		Timings:   timings,
		FromCache: s.state.FromCache,
		CachedAt:  s.state.CachedAt,
	}

	if current != nil {
		out.Current = strings.ToLower(current.Name)
	}
	if next != nil {
		out.Next = &todayJSONNext{
			Prayer:    strings.ToLower(next.Name),
			Time:      next.Time.Format(layout),
			Remaining: prayer.FormatRemaining(prayer.TimeRemaining(*next, s.now)),
		}
	}

	return writeJSON(w, out)
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// dayRecord returns the cached timings for day, nil if they are not cached.
func (s *session) dayRecord(cmd *cobra.Command, day time.Time) *cache.TimingsRecord {
	return s.app.Store().Get(cmd.Context(), cache.DateKey(day), s.loc.Coords.Key(), s.method)
}
