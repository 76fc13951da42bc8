package alarm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var base = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func fiveAlarms() []Alarm {
	return []Alarm{
		{Name: "Fajr", Trigger: base.Add(5*time.Hour + 17*time.Minute)},
		{Name: "Dhuhr", Trigger: base.Add(12*time.Hour + 13*time.Minute)},
		{Name: "Asr", Trigger: base.Add(15*time.Hour + 2*time.Minute)},
		{Name: "Maghrib", Trigger: base.Add(17*time.Hour + 39*time.Minute)},
		{Name: "Isha", Trigger: base.Add(19*time.Hour + 10*time.Minute)},
	}
}

// fakePrimitive records calls and fails when err is set.
type fakePrimitive struct {
	scheduled [][]Alarm
	opts      []Options
	canceled  []string
	err       error
}

func (f *fakePrimitive) ScheduleAlarms(ctx context.Context, alarms []Alarm, opts Options) error {
	if f.err != nil {
		return f.err
	}
	f.scheduled = append(f.scheduled, alarms)
	f.opts = append(f.opts, opts)
	return nil
}

func (f *fakePrimitive) CancelAlarms(ctx context.Context, tag string) error {
	f.canceled = append(f.canceled, tag)
	return f.err
}

// flakyNotifier fails Schedule for the named prayers.
type flakyNotifier struct {
	*MemoryNotifier
	failFor map[string]bool
}

func (f *flakyNotifier) Schedule(ctx context.Context, n Notification) (string, error) {
	if f.failFor[n.Payload.Prayer] {
		return "", errors.New("quota exceeded")
	}
	return f.MemoryNotifier.Schedule(ctx, n)
}

func pendingByTag(t *testing.T, n Notifier, tag string) []Notification {
	t.Helper()
	all, err := n.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var out []Notification
	for _, x := range all {
		if x.Payload.Tag == tag {
			out = append(out, x)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Select
// ---------------------------------------------------------------------------

func TestSelect(t *testing.T) {
	notifier := NewMemoryNotifier()
	if _, ok := Select(nil, notifier, zerolog.Nop()).(*NotificationSink); !ok {
		t.Error("Select without a primitive should return a NotificationSink")
	}
	if _, ok := Select(&fakePrimitive{}, notifier, zerolog.Nop()).(*NativeSink); !ok {
		t.Error("Select with a primitive should return a NativeSink")
	}
}

// ---------------------------------------------------------------------------
// NativeSink
// ---------------------------------------------------------------------------

func TestNativeSink_UsesPrimitive(t *testing.T) {
	prim := &fakePrimitive{}
	notifier := NewMemoryNotifier()
	sink := Select(prim, notifier, zerolog.Nop())

	opts := Options{Tag: TagPrayer, PlayAzan: true}
	if err := sink.Schedule(context.Background(), fiveAlarms(), opts); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(prim.scheduled) != 1 || len(prim.scheduled[0]) != 5 {
		t.Fatalf("primitive calls = %v, want one call with 5 alarms", prim.scheduled)
	}
	if prim.opts[0] != opts {
		t.Errorf("opts = %+v, want %+v", prim.opts[0], opts)
	}
	if got := pendingByTag(t, notifier, TagPrayer); len(got) != 0 {
		t.Errorf("notifications = %d, want 0 when native succeeds", len(got))
	}
}

func TestNativeSink_FallsBackForWholeSet(t *testing.T) {
	prim := &fakePrimitive{err: errors.New("exact alarms not permitted")}
	notifier := NewMemoryNotifier()
	sink := Select(prim, notifier, zerolog.Nop())

	if err := sink.Schedule(context.Background(), fiveAlarms(), Options{Tag: TagPrayer}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	got := pendingByTag(t, notifier, TagPrayer)
	if len(got) != 5 {
		t.Fatalf("fallback notifications = %d, want 5", len(got))
	}
	if got[0].Payload.Prayer != "Fajr" || got[0].Title != "Time for Fajr" {
		t.Errorf("first notification = %+v", got[0])
	}
}

func TestNativeSink_SuccessClearsOldFallback(t *testing.T) {
	prim := &fakePrimitive{err: errors.New("down")}
	notifier := NewMemoryNotifier()
	sink := Select(prim, notifier, zerolog.Nop())
	ctx := context.Background()

	sink.Schedule(ctx, fiveAlarms(), Options{Tag: TagPrayer})
	prim.err = nil
	if err := sink.Schedule(ctx, fiveAlarms(), Options{Tag: TagPrayer}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if got := pendingByTag(t, notifier, TagPrayer); len(got) != 0 {
		t.Errorf("stale fallback notifications = %d, want 0", len(got))
	}
}

func TestNativeSink_NoFallback(t *testing.T) {
	sink := &NativeSink{Primitive: &fakePrimitive{err: errors.New("down")}, Log: zerolog.Nop()}
	if err := sink.Schedule(context.Background(), fiveAlarms(), Options{Tag: TagPrayer}); err == nil {
		t.Error("expected error without a fallback")
	}
}

func TestNativeSink_Cancel(t *testing.T) {
	prim := &fakePrimitive{}
	notifier := NewMemoryNotifier()
	notifier.Schedule(context.Background(), NewNotification(Alarm{Name: "Fajr", Trigger: base}, Options{Tag: TagIqama}))
	sink := Select(prim, notifier, zerolog.Nop())

	if err := sink.Cancel(context.Background(), TagIqama); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if len(prim.canceled) != 1 || prim.canceled[0] != TagIqama {
		t.Errorf("primitive cancels = %v", prim.canceled)
	}
	if got := pendingByTag(t, notifier, TagIqama); len(got) != 0 {
		t.Errorf("fallback iqama notifications left = %d", len(got))
	}
}

// ---------------------------------------------------------------------------
// NotificationSink
// ---------------------------------------------------------------------------

func TestNotificationSink_ReplacesTag(t *testing.T) {
	notifier := NewMemoryNotifier()
	sink := &NotificationSink{Notifier: notifier, Log: zerolog.Nop()}
	ctx := context.Background()

	sink.Schedule(ctx, fiveAlarms(), Options{Tag: TagPrayer})
	sink.Schedule(ctx, fiveAlarms()[:2], Options{Tag: TagPrayer})
	sink.Schedule(ctx, fiveAlarms()[:1], Options{Tag: TagIqama})

	if got := pendingByTag(t, notifier, TagPrayer); len(got) != 2 {
		t.Errorf("prayer notifications = %d, want 2", len(got))
	}
	if got := pendingByTag(t, notifier, TagIqama); len(got) != 1 {
		t.Errorf("iqama notifications = %d, want 1", len(got))
	}
}

func TestNotificationSink_PerAlarmIsolation(t *testing.T) {
	notifier := &flakyNotifier{MemoryNotifier: NewMemoryNotifier(), failFor: map[string]bool{"Asr": true}}
	sink := &NotificationSink{Notifier: notifier, Log: zerolog.Nop()}

	err := sink.Schedule(context.Background(), fiveAlarms(), Options{Tag: TagPrayer})
	if err == nil {
		t.Error("expected the Asr failure to be reported")
	}
	got := pendingByTag(t, notifier, TagPrayer)
	if len(got) != 4 {
		t.Fatalf("scheduled = %d, want 4", len(got))
	}
	for _, n := range got {
		if n.Payload.Prayer == "Asr" {
			t.Error("Asr should not be scheduled")
		}
	}
}

func TestNewNotification_Content(t *testing.T) {
	tests := []struct {
		tag       string
		wantTitle string
	}{
		{TagPrayer, "Time for Isha"},
		{TagIqama, "Iqama for Isha"},
		{TagMissed, "Did you pray Isha?"},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			n := NewNotification(Alarm{Name: "Isha", Trigger: base}, Options{Tag: tt.tag, PlayAzan: true})
			if n.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", n.Title, tt.wantTitle)
			}
			if n.Payload.Prayer != "Isha" || n.Payload.Tag != tt.tag || !n.Payload.PlayAzan {
				t.Errorf("Payload = %+v", n.Payload)
			}
		})
	}
}
