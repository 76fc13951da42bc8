package cli

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/smokyabdulrahman/prayer-alarms/internal/app"
	"github.com/smokyabdulrahman/prayer-alarms/internal/cache"
	"github.com/smokyabdulrahman/prayer-alarms/internal/display"
	"github.com/smokyabdulrahman/prayer-alarms/internal/geo"
)

var flagInvalidateAll bool

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the prayer-time cache",
		Long:  "Show cached locations and dates. Subcommands prune expired records, fill days ahead\nand invalidate cached data.",
		Args:  cobra.NoArgs,
		RunE:  runCacheStatus,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List cached locations and dates",
		Args:  cobra.NoArgs,
		RunE:  runCacheStatus,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Remove expired records",
		Args:  cobra.NoArgs,
		RunE:  runCachePrune,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "fill [days]",
		Short: "Cache the next N days for offline use (default 7)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCacheFill,
	})

	invalidate := &cobra.Command{
		Use:   "invalidate",
		Short: "Drop cached data for the current location",
		Args:  cobra.NoArgs,
		RunE:  runCacheInvalidate,
	}
	invalidate.Flags().BoolVar(&flagInvalidateAll, "all", false, "Drop every cached location")
	cmd.AddCommand(invalidate)

	return cmd
}

type cacheJSONEntry struct {
	Location string   `json:"location"`
	Method   int      `json:"method"`
	Dates    []string `json:"dates"`
}

func runCacheStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, effectiveConfig(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.CacheEntries(cmd.Context())
	if err != nil {
		return err
	}
	keys := make([]geo.LocationKey, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := cmd.OutOrStdout()
	if FlagJSON {
		list := make([]cacheJSONEntry, 0, len(keys))
		for _, k := range keys {
			e := entries[k]
			list = append(list, cacheJSONEntry{Location: string(k), Method: e.Method, Dates: e.CachedDates})
		}
		return writeJSON(out, list)
	}

	if len(keys) == 0 {
		fmt.Fprintln(out, "Cache is empty.")
		return nil
	}

	today := cache.DateKey(time.Now())
	tbl := display.NewTable([]string{"Location", "Method", "Days", "First", "Last"})
	for i, k := range keys {
		e := entries[k]
		first, last := "", ""
		if n := len(e.CachedDates); n > 0 {
			first, last = e.CachedDates[0], e.CachedDates[n-1]
		}
		tbl.AddRow([]string{string(k), strconv.Itoa(e.Method), strconv.Itoa(len(e.CachedDates)), first, last})
		// Only past dates remain.
		if last < today {
			tbl.SetRowStyle(i, display.RowDim)
		}
	}
	fmt.Fprintln(out)
	fmt.Fprint(out, tbl.Render())
	fmt.Fprintln(out)
	return nil
}

func runCachePrune(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, effectiveConfig(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.Store().PruneExpired(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d expired record(s).\n", n)
	return nil
}

func runCacheFill(cmd *cobra.Command, args []string) error {
	days := app.DefaultAheadDays
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

	n, err := s.app.CacheAhead(cmd.Context(), days)
	fmt.Fprintf(cmd.OutOrStdout(), "Cached %d new day(s) for %s.\n", n, buildLocationStr(s.loc))
	return err
}

func runCacheInvalidate(cmd *cobra.Command, args []string) error {
	cfg := effectiveConfig(cmd)
	a, err := openApp(cmd, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if flagInvalidateAll {
		if err := a.Store().InvalidateAll(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(out, "Cache cleared.")
		return nil
	}

	loc, err := resolveLocation(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	key := loc.Coords.Key()
	if err := a.Store().InvalidateLocation(cmd.Context(), key); err != nil {
		return err
	}
	fmt.Fprintf(out, "Cache cleared for %s (%s).\n", buildLocationStr(loc), key)
	return nil
}
