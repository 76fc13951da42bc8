package alarm

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Sink is the one capability the scheduler writes against.
type Sink interface {
	// Schedule replaces every alarm under opts.Tag with alarms.
	Schedule(ctx context.Context, alarms []Alarm, opts Options) error
	// Cancel removes every alarm under tag.
	Cancel(ctx context.Context, tag string) error
}

// Select picks the sink for this process: native alarms when a primitive is
// configured, notifications otherwise.
func Select(primitive Primitive, notifier Notifier, log zerolog.Logger) Sink {
	notify := &NotificationSink{Notifier: notifier, Log: log}
	if primitive == nil {
		return notify
	}
	return &NativeSink{Primitive: primitive, Fallback: notify, Log: log}
}

// NativeSink hands whole alarm sets to a Primitive. If the primitive fails,
// the whole set goes to Fallback instead.
type NativeSink struct {
	Primitive Primitive
	Fallback  *NotificationSink
	Log       zerolog.Logger
}

func (s *NativeSink) Schedule(ctx context.Context, alarms []Alarm, opts Options) error {
	err := s.Primitive.ScheduleAlarms(ctx, alarms, opts)
	if err == nil {
		// Drop any notifications left over from an earlier fallback.
		if s.Fallback != nil {
			if cerr := s.Fallback.Cancel(ctx, opts.Tag); cerr != nil {
				s.Log.Warn().Err(cerr).Str("tag", opts.Tag).Msg("failed to clear fallback notifications")
			}
		}
		return nil
	}
	if s.Fallback == nil {
		return fmt.Errorf("native alarms: %w", err)
	}

	s.Log.Warn().Err(err).Str("tag", opts.Tag).Int("alarms", len(alarms)).
		Msg("native alarm primitive failed, falling back to notifications")
	return s.Fallback.Schedule(ctx, alarms, opts)
}

func (s *NativeSink) Cancel(ctx context.Context, tag string) error {
	var errs []error
	if err := s.Primitive.CancelAlarms(ctx, tag); err != nil {
		errs = append(errs, fmt.Errorf("native alarms: %w", err))
	}
	if s.Fallback != nil {
		if err := s.Fallback.Cancel(ctx, tag); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotificationSink schedules one notification per alarm. A failure for one
// alarm does not stop the others.
type NotificationSink struct {
	Notifier Notifier
	Log      zerolog.Logger
}

func (s *NotificationSink) Schedule(ctx context.Context, alarms []Alarm, opts Options) error {
	if err := s.Cancel(ctx, opts.Tag); err != nil {
		return err
	}

	var errs []error
	for _, a := range alarms {
		id, err := s.Notifier.Schedule(ctx, NewNotification(a, opts))
		if err != nil {
			s.Log.Warn().Err(err).Str("prayer", a.Name).Str("tag", opts.Tag).Msg("failed to schedule notification")
			errs = append(errs, fmt.Errorf("%s: %w", a.Name, err))
			continue
		}
		s.Log.Debug().Str("id", id).Str("prayer", a.Name).Time("trigger", a.Trigger).Msg("notification scheduled")
	}
	return errors.Join(errs...)
}

func (s *NotificationSink) Cancel(ctx context.Context, tag string) error {
	pending, err := s.Notifier.List(ctx)
	if err != nil {
		return fmt.Errorf("list notifications: %w", err)
	}

	var errs []error
	for _, n := range pending {
		if n.Payload.Tag != tag {
			continue
		}
		if err := s.Notifier.Cancel(ctx, n.ID); err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", n.ID, err))
		}
	}
	return errors.Join(errs...)
}
