// Package schedule turns a day's prayer times into alarms for three
// independent concerns: prayer-time alerts, iqama reminders and
// missed-prayer reminders. Each concern skips work when its inputs have not
// changed and forces a reschedule when the wall clock jumps.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/smokyabdulrahman/prayer-alarms/internal/alarm"
	"github.com/smokyabdulrahman/prayer-alarms/internal/cache"
	"github.com/smokyabdulrahman/prayer-alarms/internal/prayer"
)

// DefaultJumpThreshold is the longest gap between passes that is not
// treated as a clock jump.
const DefaultJumpThreshold = 5 * time.Minute

// AllPrayers enables every scheduled prayer.
var AllPrayers = [5]bool{true, true, true, true, true}

// Day is one calendar day's timings.
type Day struct {
	Date    string            // YYYY-MM-DD
	Timings map[string]string // prayer name -> time of day
}

// DayFromRecord builds a Day from a cached record.
func DayFromRecord(rec *cache.TimingsRecord) Day {
	return Day{Date: rec.Date, Timings: rec.Timings}
}

func (d Day) times() [5]string {
	var t [5]string
	for i, name := range prayer.ScheduledPrayers {
		t[i] = d.Timings[name]
	}
	return t
}

// Descriptor captures every input of a scheduling pass. Two passes with
// equal descriptors produce the same alarms.
type Descriptor struct {
	Date         string
	Times        [5]string
	Enabled      [5]bool
	DelayMinutes int
	AzanEnabled  bool
}

// AlertSettings controls prayer-time alerts.
type AlertSettings struct {
	Prayers  [5]bool
	PlayAzan bool
}

// IqamaSettings controls iqama reminders.
type IqamaSettings struct {
	Enabled              bool
	NotificationsAllowed bool
	DelayMinutes         int
	Prayers              [5]bool
}

// MissedSettings controls missed-prayer reminders.
type MissedSettings struct {
	Enabled      bool
	DelayMinutes int
	Prayers      [5]bool
}

// Result describes what a pass did.
type Result struct {
	Skipped  bool // inputs unchanged, nothing done
	Forced   bool // a clock jump forced the pass
	Canceled bool // the flow is disabled and its alarms were removed
	Alarms   []alarm.Alarm
	Invalid  []string // prayers skipped because their time did not parse
}

type flowState struct {
	mu     sync.Mutex
	has    bool
	last   Descriptor
	lastAt time.Time
}

// check reports whether a pass with desc must run at now. It must be called
// with mu held.
func (f *flowState) check(desc Descriptor, now time.Time, threshold time.Duration) (run, jumped bool) {
	if !f.has {
		return true, false
	}
	elapsed := now.Sub(f.lastAt)
	if elapsed < 0 || elapsed > threshold {
		return true, true
	}
	return desc != f.last, false
}

func (f *flowState) record(desc Descriptor, now time.Time) {
	f.has = true
	f.last = desc
	f.lastAt = now
}

func (f *flowState) reset() {
	f.has = false
	f.last = Descriptor{}
	f.lastAt = time.Time{}
}

// Scheduler runs the three flows. Calls to the same flow are serialized;
// different flows run independently.
type Scheduler struct {
	sink      alarm.Sink
	notifier  alarm.Notifier
	now       func() time.Time
	threshold time.Duration
	log       zerolog.Logger

	alerts flowState
	iqama  flowState
	missed flowState

	completions CompletionStore
}

// CompletionStore remembers which prayers were marked completed on a date.
// A store shared between processes lets a prayer marked done in one keep
// its reminder out of every later pass on the same date.
type CompletionStore interface {
	MarkCompleted(ctx context.Context, date, prayer string) error
	Completed(ctx context.Context, date string) ([]string, error)
}

// memoryCompletions is the CompletionStore used when nothing else is
// configured. Only the latest date is kept.
type memoryCompletions struct {
	mu      sync.Mutex
	date    string
	prayers map[string]bool
}

func (m *memoryCompletions) MarkCompleted(ctx context.Context, date, prayer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.date != date {
		m.date = date
		m.prayers = map[string]bool{}
	}
	m.prayers[prayer] = true
	return nil
}

func (m *memoryCompletions) Completed(ctx context.Context, date string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.date != date {
		return nil, nil
	}
	var out []string
	for p := range m.prayers {
		out = append(out, p)
	}
	return out, nil
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithJumpThreshold sets how long a gap between passes may be before it
// counts as a clock jump.
func WithJumpThreshold(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.threshold = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithCompletions sets where completed prayers are remembered. Without it
// the notifier is used when it is a CompletionStore, and memory otherwise.
func WithCompletions(cs CompletionStore) Option {
	return func(s *Scheduler) { s.completions = cs }
}

// New creates a Scheduler that delivers alerts and iqama reminders through
// sink and missed-prayer reminders through notifier.
func New(sink alarm.Sink, notifier alarm.Notifier, opts ...Option) *Scheduler {
	s := &Scheduler{
		sink:      sink,
		notifier:  notifier,
		now:       time.Now,
		threshold: DefaultJumpThreshold,
		log:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.completions == nil {
		if cs, ok := notifier.(CompletionStore); ok {
			s.completions = cs
		} else {
			s.completions = &memoryCompletions{}
		}
	}
	return s
}

// gate runs the dedup and clock-jump check for one flow. When the pass can be
// skipped it also counts as a cycle, so the next jump is measured from now.
func (s *Scheduler) gate(f *flowState, flow string, desc Descriptor, now time.Time) (run, jumped bool) {
	run, jumped = f.check(desc, now, s.threshold)
	if jumped {
		s.log.Info().Str("flow", flow).Time("last", f.lastAt).Time("now", now).
			Msg("clock jump detected, forcing reschedule")
	}
	if !run {
		f.lastAt = now
	}
	return run, jumped
}

// build parses each enabled prayer's time and derives its trigger. Prayers
// whose time does not parse are skipped and reported.
func (s *Scheduler) build(flow string, day Day, enabled [5]bool, trigger func(prayer.Clock) time.Time) ([]alarm.Alarm, []string) {
	var (
		alarms  []alarm.Alarm
		invalid []string
	)
	for i, name := range prayer.ScheduledPrayers {
		if !enabled[i] {
			continue
		}
		c, err := prayer.ParseTime(day.Timings[name])
		if err != nil {
			s.log.Warn().Err(err).Str("flow", flow).Str("prayer", name).Str("date", day.Date).
				Msg("skipping prayer with invalid time")
			invalid = append(invalid, name)
			continue
		}
		alarms = append(alarms, alarm.Alarm{Name: name, Trigger: trigger(c)})
	}
	return alarms, invalid
}

// SchedulePrayerAlerts schedules one alert per enabled prayer at its next
// occurrence.
func (s *Scheduler) SchedulePrayerAlerts(ctx context.Context, day Day, set AlertSettings) (Result, error) {
	f := &s.alerts
	f.mu.Lock()
	defer f.mu.Unlock()

	now := s.now()
	desc := Descriptor{Date: day.Date, Times: day.times(), Enabled: set.Prayers, AzanEnabled: set.PlayAzan}
	run, jumped := s.gate(f, "alerts", desc, now)
	if !run {
		return Result{Skipped: true}, nil
	}

	alarms, invalid := s.build("alerts", day, set.Prayers, func(c prayer.Clock) time.Time {
		return prayer.NextOccurrence(now, c)
	})
	res := Result{Forced: jumped, Alarms: alarms, Invalid: invalid}

	if err := s.sink.Schedule(ctx, alarms, alarm.Options{Tag: alarm.TagPrayer, PlayAzan: set.PlayAzan}); err != nil {
		return res, fmt.Errorf("schedule prayer alerts: %w", err)
	}
	f.record(desc, now)
	s.log.Debug().Int("alarms", len(alarms)).Str("date", day.Date).Msg("prayer alerts scheduled")
	return res, nil
}

// ScheduleIqama schedules a reminder DelayMinutes after each enabled
// prayer. Disabling iqama cancels pending reminders right away.
func (s *Scheduler) ScheduleIqama(ctx context.Context, day Day, set IqamaSettings) (Result, error) {
	f := &s.iqama
	f.mu.Lock()
	defer f.mu.Unlock()

	if !set.Enabled {
		f.reset()
		if err := s.sink.Cancel(ctx, alarm.TagIqama); err != nil {
			return Result{Canceled: true}, fmt.Errorf("cancel iqama reminders: %w", err)
		}
		return Result{Canceled: true}, nil
	}
	if !set.NotificationsAllowed {
		s.log.Debug().Msg("notification permission not granted, skipping iqama reminders")
		return Result{Skipped: true}, nil
	}

	now := s.now()
	desc := Descriptor{Date: day.Date, Times: day.times(), Enabled: set.Prayers, DelayMinutes: set.DelayMinutes}
	run, jumped := s.gate(f, "iqama", desc, now)
	if !run {
		return Result{Skipped: true}, nil
	}

	delay := time.Duration(set.DelayMinutes) * time.Minute
	alarms, invalid := s.build("iqama", day, set.Prayers, func(c prayer.Clock) time.Time {
		_, at := prayer.OffsetOccurrence(now, c, delay)
		return at
	})
	res := Result{Forced: jumped, Alarms: alarms, Invalid: invalid}

	if err := s.sink.Schedule(ctx, alarms, alarm.Options{Tag: alarm.TagIqama}); err != nil {
		return res, fmt.Errorf("schedule iqama reminders: %w", err)
	}
	f.record(desc, now)
	return res, nil
}

// ScheduleMissedReminders replaces every pending missed-prayer reminder with
// one per enabled prayer at prayer time + DelayMinutes. Prayers already
// marked completed for day are left out.
func (s *Scheduler) ScheduleMissedReminders(ctx context.Context, day Day, set MissedSettings) (Result, error) {
	f := &s.missed
	f.mu.Lock()
	defer f.mu.Unlock()

	if !set.Enabled {
		f.reset()
		if err := s.cancelMissed(ctx, ""); err != nil {
			return Result{Canceled: true}, err
		}
		return Result{Canceled: true}, nil
	}

	done, err := s.completedSet(ctx, day.Date)
	if err != nil {
		return Result{}, err
	}
	enabled := set.Prayers
	for i, name := range prayer.ScheduledPrayers {
		if done[name] {
			enabled[i] = false
		}
	}

	now := s.now()
	desc := Descriptor{Date: day.Date, Times: day.times(), Enabled: enabled, DelayMinutes: set.DelayMinutes}
	run, jumped := s.gate(f, "missed", desc, now)
	if !run {
		return Result{Skipped: true}, nil
	}

	if err := s.cancelMissed(ctx, ""); err != nil {
		return Result{}, err
	}

	delay := time.Duration(set.DelayMinutes) * time.Minute
	alarms, invalid := s.build("missed", day, enabled, func(c prayer.Clock) time.Time {
		_, at := prayer.OffsetOccurrence(now, c, delay)
		return at
	})
	res := Result{Forced: jumped, Invalid: invalid}

	var errs []error
	opts := alarm.Options{Tag: alarm.TagMissed}
	for _, a := range alarms {
		if _, err := s.notifier.Schedule(ctx, alarm.NewNotification(a, opts)); err != nil {
			s.log.Warn().Err(err).Str("prayer", a.Name).Msg("failed to schedule missed-prayer reminder")
			errs = append(errs, fmt.Errorf("%s: %w", a.Name, err))
			continue
		}
		res.Alarms = append(res.Alarms, a)
	}
	if len(errs) > 0 {
		return res, fmt.Errorf("schedule missed-prayer reminders: %w", errors.Join(errs...))
	}
	f.record(desc, now)
	return res, nil
}

// cancelMissed cancels pending missed-prayer reminders, all of them when
// name is empty.
func (s *Scheduler) cancelMissed(ctx context.Context, name string) error {
	pending, err := s.notifier.List(ctx)
	if err != nil {
		return fmt.Errorf("list notifications: %w", err)
	}
	var errs []error
	for _, n := range pending {
		if n.Payload.Tag != alarm.TagMissed {
			continue
		}
		if name != "" && n.Payload.Prayer != name {
			continue
		}
		if err := s.notifier.Cancel(ctx, n.ID); err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", n.ID, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("cancel missed-prayer reminders: %w", errors.Join(errs...))
	}
	return nil
}

// MarkPrayerCompleted cancels the pending missed-prayer reminder for name and
// keeps later passes on the same date from scheduling it again.
func (s *Scheduler) MarkPrayerCompleted(ctx context.Context, name string) error {
	canonical := ""
	for _, p := range prayer.ScheduledPrayers {
		if strings.EqualFold(p, name) {
			canonical = p
			break
		}
	}
	if canonical == "" {
		return fmt.Errorf("unknown prayer %q (valid: %s)", name, strings.Join(prayer.ScheduledPrayers[:], ", "))
	}

	f := &s.missed
	f.mu.Lock()
	defer f.mu.Unlock()

	today := cache.DateKey(s.now())
	if err := s.completions.MarkCompleted(ctx, today, canonical); err != nil {
		return fmt.Errorf("mark %s completed: %w", canonical, err)
	}
	if err := s.cancelMissed(ctx, canonical); err != nil {
		return err
	}
	s.log.Info().Str("prayer", canonical).Msg("prayer marked completed")
	return nil
}

// Completed returns the prayers marked completed for date, in prayer order.
func (s *Scheduler) Completed(ctx context.Context, date string) ([]string, error) {
	done, err := s.completedSet(ctx, date)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, name := range prayer.ScheduledPrayers {
		if done[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

func (s *Scheduler) completedSet(ctx context.Context, date string) (map[string]bool, error) {
	names, err := s.completions.Completed(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("load completed prayers: %w", err)
	}
	done := make(map[string]bool, len(names))
	for _, n := range names {
		done[n] = true
	}
	return done, nil
}

// Reset forgets what every flow last scheduled, so the next pass of each
// flow reschedules. Use it after a restart or reboot, when alarms held by the
// delivery side may have been lost.
func (s *Scheduler) Reset() {
	for _, f := range []*flowState{&s.alerts, &s.iqama, &s.missed} {
		f.mu.Lock()
		f.reset()
		f.mu.Unlock()
	}
}
