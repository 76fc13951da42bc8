package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/smokyabdulrahman/prayer-alarms/internal/cache"
	"github.com/smokyabdulrahman/prayer-alarms/internal/display"
	"github.com/smokyabdulrahman/prayer-alarms/internal/prayer"
)

const (
	// missingTime is shown for days that are neither cached nor fetchable.
	missingTime = "--"

	maxListDays = 90
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [days]",
		Short: "Show prayer times for the next N days",
		Long:  "Show a table of prayer times starting today. Days that are not cached are fetched\nand stored for offline use. The default is 7 days.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, args, 7)
		},
	}
}

func newWeekCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "week",
		Short: "Show prayer times for the next 7 days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, nil, 7)
		},
	}
}

func newMonthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "month",
		Short: "Show prayer times for the next 30 days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, nil, 30)
		},
	}
}

// dayData is one day of a multi-day listing. Record is nil when the day is
// not available.
type dayData struct {
	Date   time.Time
	Record *cache.TimingsRecord
}

// parseDays validates a day count argument.
func parseDays(arg string) (int, error) {
	switch arg {
	case "week":
		return 7, nil
	case "month":
		return 30, nil
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > maxListDays {
		return 0, fmt.Errorf("invalid number of days: %q (must be 1-%d, 'week' or 'month')", arg, maxListDays)
	}
	return n, nil
}

// loadDays caches days starting today and reads them back. Fetch failures
// leave gaps instead of failing the listing.
func (s *session) loadDays(cmd *cobra.Command, days int) []dayData {
	if days > 1 {
		if _, err := s.app.CacheAhead(cmd.Context(), days); err != nil {
			warnf("some days could not be cached: %v", err)
		}
	}

	// Cache keys follow the local calendar, like CacheAhead.
	today := time.Now()
	list := make([]dayData, 0, days)
	for i := 0; i < days; i++ {
		d := today.AddDate(0, 0, i)
		dd := dayData{Date: d}
		if i == 0 {
			dd.Record = s.state.Data
		} else {
			dd.Record = s.dayRecord(cmd, d)
		}
		list = append(list, dd)
	}
	return list
}

// runList is the handler for the list subcommand and its aliases.
func runList(cmd *cobra.Command, args []string, defaultDays int) error {
	days := defaultDays
	if len(args) > 0 {
		n, err := parseDays(args[0])
		if err != nil {
			return err
		}
		days = n
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.app.Close()

	selected := selectedPrayers(s.cfg)
	daysList := s.loadDays(cmd, days)
	out := cmd.OutOrStdout()

	if FlagJSON {
		return printListJSON(out, s, daysList, selected)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "  %s\n", display.Bold(fmt.Sprintf("Prayer Times: %d Days", days)))
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  %s\n", buildLocationStr(s.loc))
	fmt.Fprintln(out)

	headers := append([]string{"Date"}, selected...)
	tbl := display.NewTable(headers)

	for i, dd := range daysList {
		row, err := s.timesRow(dd, selected)
		if err != nil {
			return err
		}
		tbl.AddRow(append([]string{dd.Date.Format("Mon 02 Jan")}, row...))
		setRowStyle(tbl, i, dd)
	}

	fmt.Fprint(out, tbl.Render())
	fmt.Fprintln(out)
	return nil
}

// timesRow formats the selected prayers of one day. A missing day renders
// as a row of placeholders.
func (s *session) timesRow(dd dayData, selected []string) ([]string, error) {
	row := make([]string, len(selected))
	for i := range row {
		row[i] = missingTime
	}
	if dd.Record == nil {
		return row, nil
	}

	parsed, err := prayer.ParseTimings(dd.Record.Timings, dd.Date, s.tzLoc, selected)
	if err != nil {
		return nil, err
	}
	layout := timeLayout(s.cfg)
	byName := make(map[string]string, len(parsed))
	for _, p := range parsed {
		byName[p.Name] = p.Time.Format(layout)
	}
	for i, name := range selected {
		if t, ok := byName[name]; ok {
			row[i] = t
		}
	}
	return row, nil
}

func setRowStyle(tbl *display.Table, i int, dd dayData) {
	switch {
	case i == 0:
		tbl.SetRowStyle(i, display.RowHighlight)
	case dd.Record == nil:
		tbl.SetRowStyle(i, display.RowMissing)
	}
}

// listJSONOutput is the JSON structure for the list command.
type listJSONOutput struct {
	Location todayJSONLocation `json:"location"`
	Days     []listJSONDay     `json:"days"`
}

type listJSONDay struct {
	Date     string            `json:"date"`
	Hijri    string            `json:"hijri,omitempty"`
	Timings  map[string]string `json:"timings,omitempty"`
	Missing  bool              `json:"missing,omitempty"`
	CachedAt *time.Time        `json:"cached_at,omitempty"`
}

func printListJSON(w io.Writer, s *session, daysList []dayData, selected []string) error {
	out := listJSONOutput{Location: jsonLocation(s)}
	layout := timeLayout(s.cfg)

	for _, dd := range daysList {
		day := listJSONDay{Date: cache.DateKey(dd.Date)}
		if dd.Record == nil {
			day.Missing = true
			out.Days = append(out.Days, day)
			continue
		}

		parsed, err := prayer.ParseTimings(dd.Record.Timings, dd.Date, s.tzLoc, selected)
		if err != nil {
			return err
		}
		day.Timings = make(map[string]string, len(parsed))
		for _, p := range parsed {
			day.Timings[strings.ToLower(p.Name)] = p.Time.Format(layout)
		}
		day.Hijri = dd.Record.Hijri
		cachedAt := dd.Record.CachedAt
		day.CachedAt = &cachedAt
		out.Days = append(out.Days, day)
	}

	return writeJSON(w, out)
}
