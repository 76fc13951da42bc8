package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/smokyabdulrahman/prayer-alarms/internal/prayer"
)

var (
	flagFormat  string
	flagPrayers string
)

func newNextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show the next prayer with countdown",
		Long:  "Display the next upcoming prayer time with a countdown.\nThe output is a single line suitable for status bars such as tmux.",
		Args:  cobra.NoArgs,
		RunE:  runNext,
	}

	cmd.Flags().StringVar(&flagFormat, "format", prayer.FormatFull, "Display format: time-remaining, next-prayer-time, name-and-time, name-and-remaining, short-name-and-time, short-name-and-remaining, name-and-iqama, full, or a custom Go template")
	cmd.Flags().StringVar(&flagPrayers, "prayers", "", "Comma-separated list of prayers to track (overrides config)")

	return cmd
}

func runNext(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.app.Close()

	// Priority: --prayers flag > config > defaults.
	selected := selectedPrayers(s.cfg)
	if cmd.Flags().Changed("prayers") && flagPrayers != "" {
		selected = strings.Split(flagPrayers, ",")
		for i := range selected {
			selected[i] = strings.TrimSpace(selected[i])
		}
	}

	prayers, err := prayer.ParseTimings(s.state.Data.Timings, s.now, s.tzLoc, selected)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	next := prayer.NextPrayer(prayers, s.now)

	// All of today's prayers have passed: use tomorrow's first prayer.
	if next == nil {
		tomorrow := s.now.AddDate(0, 0, 1)
		if _, err := s.app.Store().CacheAhead(cmd.Context(), 2, s.loc.Coords, s.method, s.app.Fetch()); err != nil {
			warnf("caching tomorrow: %v", err)
		}

		rec := s.dayRecord(cmd, tomorrow)
		if rec == nil {
			// Offline with nothing cached: keep the status bar readable.
			if len(prayers) > 0 {
				fmt.Fprintf(out, "%s --:--", prayers[len(prayers)-1].Name)
				return nil
			}
			return fmt.Errorf("no prayer times cached for %s", tomorrow.Format("2006-01-02"))
		}

		tomorrowPrayers, err := prayer.ParseTimings(rec.Timings, tomorrow, s.tzLoc, selected)
		if err != nil {
			return err
		}
		if len(tomorrowPrayers) > 0 {
			next = &tomorrowPrayers[0]
		}
	}

	if next == nil {
		return fmt.Errorf("could not determine next prayer")
	}

	opts := prayer.FormatOptions{Mode: flagFormat, TimeLayout: timeLayout(s.cfg)}
	if s.cfg.IqamaEnabled() && isScheduled(next.Name) {
		opts.IqamaDelay = time.Duration(s.cfg.IqamaDelayMinutes()) * time.Minute
	}
	fmt.Fprint(out, prayer.FormatOutput(*next, s.now, opts))

	return nil
}
