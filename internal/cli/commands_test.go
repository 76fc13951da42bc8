package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smokyabdulrahman/prayer-alarms/internal/alarm"
	"github.com/smokyabdulrahman/prayer-alarms/internal/app"
	"github.com/smokyabdulrahman/prayer-alarms/internal/cache"
	"github.com/smokyabdulrahman/prayer-alarms/internal/config"
	"github.com/smokyabdulrahman/prayer-alarms/internal/display"
	"github.com/smokyabdulrahman/prayer-alarms/internal/geo"
)

var riyadhArgs = []string{"--latitude", "24.7136", "--longitude", "46.6753"}

// cliEnv runs commands in-process against a temp config and cache with a
// fake API and an in-memory notification queue.
type cliEnv struct {
	cacheDir string
	notifier *alarm.MemoryNotifier
	fetches  atomic.Int32
	offline  atomic.Bool
	detected *geo.Location
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, key := range config.ValidKeys {
		t.Setenv(config.EnvName(key), "")
	}
	display.SetEnabled(false)

	e := &cliEnv{
		cacheDir: t.TempDir(),
		notifier: alarm.NewMemoryNotifier(),
	}
	appOptions = []app.Option{
		app.WithFetch(e.fetch),
		app.WithNotifier(e.notifier),
	}
	prevDetect := detectLocation
	detectLocation = func(ctx context.Context) (*geo.Location, error) {
		if e.detected == nil {
			return nil, errors.New("network unreachable")
		}
		return e.detected, nil
	}
	t.Cleanup(func() {
		appOptions = nil
		loadedConfig = nil
		detectLocation = prevDetect
	})
	return e
}

func (e *cliEnv) fetch(ctx context.Context, coords geo.Coordinates, day time.Time, method int) (*cache.TimingsRecord, error) {
	if e.offline.Load() {
		return nil, errors.New("offline")
	}
	e.fetches.Add(1)
	return &cache.TimingsRecord{
		Timings: map[string]string{
			"Fajr": "04:10", "Sunrise": "05:35", "Dhuhr": "11:50",
			"Asr": "15:15", "Maghrib": "18:40", "Isha": "20:10",
		},
		Timezone: "UTC",
		Hijri:    "5 Dhu al-Hijjah 1446",
	}, nil
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--cache-dir", e.cacheDir}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("%v failed: %v\n%s", args, err, out)
	}
	return out
}

// --- today ---

func TestToday_Rich(t *testing.T) {
	e := newCLIEnv(t)

	out := e.mustRun(t, riyadhArgs...)
	for _, want := range []string{"Prayer Times", "24.7136, 46.6753", "Fajr", "04:10", "Isha", "20:10", "5 Dhu al-Hijjah 1446"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestToday_JSONServedFromCacheSecondTime(t *testing.T) {
	e := newCLIEnv(t)

	e.mustRun(t, riyadhArgs...)
	if got := e.fetches.Load(); got != 1 {
		t.Fatalf("fetches = %d, want 1", got)
	}

	e.offline.Store(true)
	out := e.mustRun(t, append(riyadhArgs, "--json")...)

	var got todayJSON
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if !got.FromCache {
		t.Error("from_cache = false, want true")
	}
	if got.Timings["fajr"] != "04:10" {
		t.Errorf("fajr = %q, want %q", got.Timings["fajr"], "04:10")
	}
	if got.Location.Key != "24.71_46.68" {
		t.Errorf("location key = %q, want %q", got.Location.Key, "24.71_46.68")
	}
}

func TestToday_OfflineWithoutCacheFails(t *testing.T) {
	e := newCLIEnv(t)
	e.offline.Store(true)

	if _, err := e.run(t, riyadhArgs...); err == nil {
		t.Fatal("expected an error with no network and no cache")
	}
}

func TestToday_InvalidCoordinates(t *testing.T) {
	e := newCLIEnv(t)

	_, err := e.run(t, "--latitude", "95", "--longitude", "10")
	if !errors.Is(err, geo.ErrInvalidCoordinates) {
		t.Errorf("error = %v, want ErrInvalidCoordinates", err)
	}
}

func TestToday_DetectedLocationIsRemembered(t *testing.T) {
	e := newCLIEnv(t)
	e.detected = &geo.Location{
		Latitude: 21.4858, Longitude: 39.1925,
		City: "Jeddah", Country: "Saudi Arabia", Timezone: "UTC",
	}

	out := e.mustRun(t)
	if !strings.Contains(out, "Jeddah, Saudi Arabia") {
		t.Errorf("output missing detected city:\n%s", out)
	}

	// Detection now fails; the saved location is used.
	e.detected = nil
	out = e.mustRun(t)
	if !strings.Contains(out, "Jeddah, Saudi Arabia") {
		t.Errorf("second run should use the saved location:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(e.cacheDir, "geolocation.json")); err != nil {
		t.Errorf("location file: %v", err)
	}
}

func TestToday_NoLocation(t *testing.T) {
	e := newCLIEnv(t)

	_, err := e.run(t)
	if err == nil || !strings.Contains(err.Error(), "auto-detection failed") {
		t.Errorf("error = %v, want auto-detection failure", err)
	}
}

// --- next / query / list ---

func TestNext_Format(t *testing.T) {
	e := newCLIEnv(t)

	out := e.mustRun(t, append(riyadhArgs, "next", "--format", "{{.ShortName}}")...)
	if len(out) == 0 || !strings.ContainsAny(out, "FSDAMI") {
		t.Errorf("next = %q, want a short prayer name", out)
	}
}

func TestQuery_SingleDay(t *testing.T) {
	e := newCLIEnv(t)

	out := e.mustRun(t, append(riyadhArgs, "query", "asr")...)
	if strings.TrimSpace(out) != "Asr 15:15" {
		t.Errorf("query = %q, want %q", out, "Asr 15:15")
	}
}

func TestQuery_UnknownPrayer(t *testing.T) {
	e := newCLIEnv(t)

	if _, err := e.run(t, append(riyadhArgs, "query", "brunch")...); err == nil {
		t.Error("query brunch should fail")
	}
}

func TestQuery_MultiDayJSON(t *testing.T) {
	e := newCLIEnv(t)

	out := e.mustRun(t, append(riyadhArgs, "--json", "query", "Maghrib", "--days", "3")...)
	var got queryJSONMulti
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(got.Days) != 3 {
		t.Fatalf("days = %d, want 3", len(got.Days))
	}
	for _, d := range got.Days {
		if d.Time != "18:40" {
			t.Errorf("%s maghrib = %q, want 18:40", d.Date, d.Time)
		}
	}
}

func TestList_CachesAhead(t *testing.T) {
	e := newCLIEnv(t)

	out := e.mustRun(t, append(riyadhArgs, "list", "3")...)
	if !strings.Contains(out, "Prayer Times: 3 Days") {
		t.Errorf("missing title:\n%s", out)
	}
	if got := strings.Count(out, "04:10"); got != 3 {
		t.Errorf("fajr appears %d times, want 3:\n%s", got, out)
	}
	if got := e.fetches.Load(); got != 3 {
		t.Errorf("fetches = %d, want 3", got)
	}

	// Only the four missing days are fetched.
	e.mustRun(t, append(riyadhArgs, "week")...)
	if got := e.fetches.Load(); got != 7 {
		t.Errorf("fetches after week = %d, want 7", got)
	}
}

func TestList_OfflineGaps(t *testing.T) {
	e := newCLIEnv(t)
	e.mustRun(t, riyadhArgs...)

	e.offline.Store(true)
	out := e.mustRun(t, append(riyadhArgs, "--json", "list", "2")...)

	var got listJSONOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(got.Days) != 2 {
		t.Fatalf("days = %d, want 2", len(got.Days))
	}
	if got.Days[0].Missing || got.Days[0].Timings["fajr"] != "04:10" {
		t.Errorf("today = %+v, want cached timings", got.Days[0])
	}
	if !got.Days[1].Missing {
		t.Errorf("tomorrow = %+v, want missing", got.Days[1])
	}
}

func TestList_InvalidDays(t *testing.T) {
	e := newCLIEnv(t)

	if _, err := e.run(t, append(riyadhArgs, "list", "0")...); err == nil {
		t.Error("list 0 should fail")
	}
}

// --- schedule / done ---

func TestSchedule_DryRun(t *testing.T) {
	e := newCLIEnv(t)

	out := e.mustRun(t, append(riyadhArgs, "schedule", "--dry-run")...)
	for _, want := range []string{"dry run", "alerts", "iqama", "missed", "disabled"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSchedule_QueuesNotifications(t *testing.T) {
	e := newCLIEnv(t)
	e.mustRun(t, "config", "set", "missed_reminders", "true")

	out := e.mustRun(t, append(riyadhArgs, "--json", "schedule")...)
	var report map[string]scheduleJSONFlow
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if got := len(report[app.FlowAlerts].Alarms); got != 5 {
		t.Errorf("alerts = %d, want 5", got)
	}
	if got := len(report[app.FlowMissed].Alarms); got != 5 {
		t.Errorf("missed = %d, want 5", got)
	}
	if report[app.FlowIqama].Status != "disabled" {
		t.Errorf("iqama status = %q, want disabled", report[app.FlowIqama].Status)
	}

	pending, _ := e.notifier.List(context.Background())
	if len(pending) != 10 {
		t.Errorf("pending notifications = %d, want 10", len(pending))
	}
}

func TestDone_CancelsMissedReminder(t *testing.T) {
	e := newCLIEnv(t)
	e.mustRun(t, "config", "set", "missed_reminders", "true")
	e.mustRun(t, append(riyadhArgs, "schedule")...)

	out := e.mustRun(t, "done", "asr")
	if !strings.Contains(out, "Asr marked as prayed") {
		t.Errorf("done output = %q", out)
	}

	pending, _ := e.notifier.List(context.Background())
	for _, n := range pending {
		if n.Payload.Tag == alarm.TagMissed && n.Payload.Prayer == "Asr" {
			t.Error("Asr missed-prayer reminder should be canceled")
		}
	}
}

func TestDone_RememberedByLaterSchedule(t *testing.T) {
	e := newCLIEnv(t)
	e.mustRun(t, "config", "set", "missed_reminders", "true")
	e.mustRun(t, append(riyadhArgs, "schedule")...)
	e.mustRun(t, "done", "Asr")

	out := e.mustRun(t, append(riyadhArgs, "--json", "schedule")...)
	var report map[string]scheduleJSONFlow
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	missed := report[app.FlowMissed].Alarms
	if len(missed) != 4 {
		t.Errorf("missed = %d, want 4", len(missed))
	}
	for _, a := range missed {
		if a.Prayer == "Asr" {
			t.Error("Asr reminder rescheduled after done")
		}
	}
}

func TestDone_UnknownPrayer(t *testing.T) {
	e := newCLIEnv(t)

	if _, err := e.run(t, "done", "Sunrise"); err == nil {
		t.Error("done Sunrise should fail")
	}
}

// --- cache ---

func TestCache_StatusPruneInvalidate(t *testing.T) {
	e := newCLIEnv(t)

	if out := e.mustRun(t, "cache"); !strings.Contains(out, "Cache is empty") {
		t.Errorf("empty cache status = %q", out)
	}

	e.mustRun(t, append(riyadhArgs, "cache", "fill", "2")...)

	out := e.mustRun(t, "--json", "cache", "status")
	var entries []cacheJSONEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(entries) != 1 || entries[0].Location != "24.71_46.68" || len(entries[0].Dates) != 2 {
		t.Errorf("entries = %+v", entries)
	}

	if out := e.mustRun(t, "cache", "prune"); !strings.Contains(out, "Pruned 0") {
		t.Errorf("prune = %q", out)
	}

	e.mustRun(t, append(riyadhArgs, "cache", "invalidate")...)
	if out := e.mustRun(t, "cache", "status"); !strings.Contains(out, "Cache is empty") {
		t.Errorf("status after invalidate = %q", out)
	}
}

func TestCache_MoveDropsPreviousLocation(t *testing.T) {
	e := newCLIEnv(t)
	e.mustRun(t, riyadhArgs...)
	e.mustRun(t, "--latitude", "21.4858", "--longitude", "39.1925")

	out := e.mustRun(t, "--json", "cache", "status")
	var entries []cacheJSONEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(entries) != 1 || entries[0].Location != "21.49_39.19" {
		t.Errorf("entries = %+v, want only the new location", entries)
	}
}

func TestCache_InvalidateAll(t *testing.T) {
	e := newCLIEnv(t)
	e.mustRun(t, riyadhArgs...)
	e.mustRun(t, "--latitude", "21.4858", "--longitude", "39.1925")

	out := e.mustRun(t, "cache", "invalidate", "--all")
	if !strings.Contains(out, "Cache cleared.") {
		t.Errorf("invalidate --all = %q", out)
	}
	if out := e.mustRun(t, "cache", "status"); !strings.Contains(out, "Cache is empty") {
		t.Errorf("status after invalidate --all = %q", out)
	}
}

// --- config ---

func TestConfig_SetShowReset(t *testing.T) {
	e := newCLIEnv(t)

	if out := e.mustRun(t, "config", "set", "iqama_delay", "20"); !strings.Contains(out, "Set iqama_delay = 20") {
		t.Errorf("set output = %q", out)
	}
	if _, err := e.run(t, "config", "set", "iqama_delay", "500"); err == nil {
		t.Error("out-of-range iqama_delay should fail")
	}

	e.mustRun(t, "config", "set", "method", "4")
	out := e.mustRun(t, "config")
	if !strings.Contains(out, "4 (Umm Al-Qura University, Makkah)") {
		t.Errorf("config show missing method label:\n%s", out)
	}
	if !strings.Contains(out, "iqama_delay") || !strings.Contains(out, "20") {
		t.Errorf("config show missing iqama_delay:\n%s", out)
	}

	e.mustRun(t, "config", "reset")
	path := strings.TrimSpace(e.mustRun(t, "config", "path"))
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("config file should be gone after reset, stat err = %v", err)
	}
}

func TestConfig_EnvOverridesFile(t *testing.T) {
	e := newCLIEnv(t)
	e.mustRun(t, "config", "set", "time_format", "24h")
	t.Setenv(config.EnvName("time_format"), "12h")

	out := e.mustRun(t, append(riyadhArgs, "query", "Fajr")...)
	if strings.TrimSpace(out) != "Fajr 4:10 AM" {
		t.Errorf("query = %q, want 12h time from the environment", out)
	}
}

func TestConfig_InvalidEnv(t *testing.T) {
	e := newCLIEnv(t)
	t.Setenv(config.EnvName("method"), "99")

	if _, err := e.run(t, "methods"); err == nil {
		t.Error("invalid environment should fail before running")
	}
}

func TestMethods(t *testing.T) {
	e := newCLIEnv(t)

	out := e.mustRun(t, "methods")
	for _, m := range []string{"ISNA", "Muslim World League", "Umm Al-Qura", "Jafari", "Ministry of Awqaf, Jordan"} {
		if !strings.Contains(out, m) {
			t.Errorf("methods output missing %q", m)
		}
	}
}
