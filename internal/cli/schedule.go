package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/smokyabdulrahman/prayer-alarms/internal/app"
	"github.com/smokyabdulrahman/prayer-alarms/internal/display"
	"github.com/smokyabdulrahman/prayer-alarms/internal/schedule"
)

var flagDryRun bool

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule today's prayer alarms and reminders",
		Long: "Run the prayer alert, iqama reminder and missed-prayer reminder flows once for today.\n" +
			"Alarms go to the MQTT broker when one is configured and to the notification outbox otherwise.\n" +
			"With --dry-run nothing is delivered; the computed alarms are only printed.",
		Args: cobra.NoArgs,
		RunE: runSchedule,
	}
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Compute alarms without delivering them")
	return cmd
}

func runSchedule(cmd *cobra.Command, args []string) error {
	var opts []app.Option
	if flagDryRun {
		opts = append(opts, app.WithDryRun())
	}

	s, err := openSession(cmd, opts...)
	if err != nil {
		return err
	}
	defer s.app.Close()

	report, err := s.app.Reschedule(cmd.Context())
	if len(report) == 0 {
		return err
	}

	out := cmd.OutOrStdout()
	if FlagJSON {
		if jerr := writeJSON(out, scheduleJSON(report)); jerr != nil {
			return jerr
		}
		return err
	}
	printScheduleReport(out, s, report)
	return err
}

type scheduleJSONFlow struct {
	Status  string              `json:"status"`
	Alarms  []scheduleJSONAlarm `json:"alarms,omitempty"`
	Invalid []string            `json:"invalid,omitempty"`
}

type scheduleJSONAlarm struct {
	Prayer  string `json:"prayer"`
	Trigger string `json:"trigger"`
}

func scheduleJSON(report map[string]schedule.Result) map[string]scheduleJSONFlow {
	out := make(map[string]scheduleJSONFlow, len(report))
	for flow, res := range report {
		f := scheduleJSONFlow{Status: flowStatus(res), Invalid: res.Invalid}
		for _, a := range res.Alarms {
			f.Alarms = append(f.Alarms, scheduleJSONAlarm{Prayer: a.Name, Trigger: a.Trigger.Format(time.RFC3339)})
		}
		out[flow] = f
	}
	return out
}

func flowStatus(res schedule.Result) string {
	switch {
	case res.Canceled:
		return "disabled"
	case res.Skipped:
		return "unchanged"
	case res.Forced:
		return "rescheduled (clock changed)"
	default:
		return "scheduled"
	}
}

func paintFlowStatus(res schedule.Result) string {
	status := flowStatus(res)
	switch {
	case res.Canceled, res.Skipped:
		return display.Gray(status)
	case res.Forced:
		return display.Yellow(status)
	default:
		return display.Green(status)
	}
}

// flowOrder is the order flows are printed in.
var flowOrder = []string{app.FlowAlerts, app.FlowIqama, app.FlowMissed}

func printScheduleReport(w io.Writer, s *session, report map[string]schedule.Result) {
	layout := timeLayout(s.cfg)

	fmt.Fprintln(w)
	title := "Alarms"
	if flagDryRun {
		title += " (dry run)"
	}
	fmt.Fprintf(w, "  %s\n", display.Bold(title))
	fmt.Fprintf(w, "  %s  %s\n", buildLocationStr(s.loc), s.state.Data.Date)
	fmt.Fprintln(w)

	for _, flow := range flowOrder {
		res, ok := report[flow]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "  %-7s %s\n", flow, paintFlowStatus(res))

		alarms := append(res.Alarms[:0:0], res.Alarms...)
		sort.Slice(alarms, func(i, j int) bool { return alarms[i].Trigger.Before(alarms[j].Trigger) })
		for _, a := range alarms {
			fmt.Fprintf(w, "          %-8s %s\n", a.Name, a.Trigger.In(s.tzLoc).Format("Mon "+layout))
		}
		for _, name := range res.Invalid {
			fmt.Fprintf(w, "          %-8s %s\n", name, display.Red("invalid time"))
		}
	}
	fmt.Fprintln(w)
}

func newDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <prayer>",
		Short: "Mark a prayer as prayed today",
		Long:  "Cancel today's missed-prayer reminder for the given prayer (Fajr, Dhuhr, Asr, Maghrib or Isha).",
		Args:  cobra.ExactArgs(1),
		RunE:  runDone,
	}
}

func runDone(cmd *cobra.Command, args []string) error {
	cfg := effectiveConfig(cmd)
	a, err := openApp(cmd, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.MarkPrayerCompleted(cmd.Context(), args[0]); err != nil {
		return err
	}
	name, _ := normalizePrayer(args[0])
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s marked as prayed\n", display.Green(display.DoneMark), name)
	return nil
}
