package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smokyabdulrahman/prayer-alarms/internal/cache"
	"github.com/smokyabdulrahman/prayer-alarms/internal/display"
	"github.com/smokyabdulrahman/prayer-alarms/internal/prayer"
)

var flagQueryDays string

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <prayer>",
		Short: "Query a specific prayer time",
		Long:  "Query a specific prayer time for today, or across multiple days with --days.\n\nValid prayer names: " + strings.Join(prayer.AllPrayerNames, ", "),
		Args:  cobra.ExactArgs(1),
		RunE:  runQuery,
	}

	cmd.Flags().StringVar(&flagQueryDays, "days", "", "Number of days to show (or 'week'/'month')")

	return cmd
}

// normalizePrayer matches name case-insensitively against the known prayers.
func normalizePrayer(name string) (string, error) {
	for _, known := range prayer.AllPrayerNames {
		if strings.EqualFold(known, name) {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown prayer %q; valid names: %s", name, strings.Join(prayer.AllPrayerNames, ", "))
}

func runQuery(cmd *cobra.Command, args []string) error {
	prayerName, err := normalizePrayer(args[0])
	if err != nil {
		return err
	}

	days := 1
	if flagQueryDays != "" {
		if days, err = parseDays(flagQueryDays); err != nil {
			return err
		}
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.app.Close()

	daysList := s.loadDays(cmd, days)
	out := cmd.OutOrStdout()

	if days == 1 {
		return printQuerySingle(out, s, daysList[0], prayerName)
	}
	if FlagJSON {
		return printQueryJSON(out, s, daysList, prayerName)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "  %s\n", display.Bold(fmt.Sprintf("%s Times: %d Days", prayerName, days)))
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  %s\n", buildLocationStr(s.loc))
	fmt.Fprintln(out)

	tbl := display.NewTable([]string{"Date", prayerName})
	for i, dd := range daysList {
		row, err := s.timesRow(dd, []string{prayerName})
		if err != nil {
			return err
		}
		tbl.AddRow([]string{dd.Date.Format("Mon 02 Jan"), row[0]})
		setRowStyle(tbl, i, dd)
	}

	fmt.Fprint(out, tbl.Render())
	fmt.Fprintln(out)
	return nil
}

func printQuerySingle(w io.Writer, s *session, dd dayData, prayerName string) error {
	row, err := s.timesRow(dd, []string{prayerName})
	if err != nil {
		return err
	}
	if row[0] == missingTime {
		return fmt.Errorf("no timing found for %s", prayerName)
	}

	if FlagJSON {
		return writeJSON(w, queryJSONSingle{
			Prayer: strings.ToLower(prayerName),
			Time:   row[0],
			Date:   cache.DateKey(dd.Date),
			Hijri:  dd.Record.Hijri,
		})
	}

	fmt.Fprintf(w, "%s %s\n", prayerName, row[0])
	return nil
}

type queryJSONSingle struct {
	Prayer string `json:"prayer"`
	Time   string `json:"time"`
	Date   string `json:"date"`
	Hijri  string `json:"hijri"`
}

type queryJSONMulti struct {
	Location todayJSONLocation `json:"location"`
	Prayer   string            `json:"prayer"`
	Days     []queryJSONDay    `json:"days"`
}

type queryJSONDay struct {
	Date  string `json:"date"`
	Hijri string `json:"hijri,omitempty"`
	Time  string `json:"time"`
}

func printQueryJSON(w io.Writer, s *session, daysList []dayData, prayerName string) error {
	out := queryJSONMulti{
		Location: jsonLocation(s),
		Prayer:   strings.ToLower(prayerName),
	}

	for _, dd := range daysList {
		row, err := s.timesRow(dd, []string{prayerName})
		if err != nil {
			return err
		}
		day := queryJSONDay{Date: cache.DateKey(dd.Date), Time: row[0]}
		if dd.Record != nil {
			day.Hijri = dd.Record.Hijri
		}
		out.Days = append(out.Days, day)
	}

	return writeJSON(w, out)
}
