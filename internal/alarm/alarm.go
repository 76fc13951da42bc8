// Package alarm delivers scheduled prayer alarms, either through a native
// alarm primitive that fires while this process is not running or through a
// generic notification queue.
package alarm

import (
	"context"
	"fmt"
	"time"
)

// Tags group alarms so a whole set can be replaced or canceled together.
const (
	TagPrayer = "prayer_alert"
	TagIqama  = "iqama_reminder"
	TagMissed = "missed_prayer_reminder"
)

// Alarm is one absolute trigger for a named prayer.
type Alarm struct {
	Name    string    `json:"name"`
	Trigger time.Time `json:"trigger"`
}

// Options apply to a whole alarm set.
type Options struct {
	Tag      string
	PlayAzan bool
}

// Primitive is a native alarm facility. ScheduleAlarms replaces every alarm
// previously scheduled under opts.Tag.
type Primitive interface {
	ScheduleAlarms(ctx context.Context, alarms []Alarm, opts Options) error
	CancelAlarms(ctx context.Context, tag string) error
}

// Payload identifies what a notification is for.
type Payload struct {
	Tag      string `json:"tag"`
	Prayer   string `json:"prayer"`
	PlayAzan bool   `json:"play_azan,omitempty"`
}

// Notification is one entry in a generic notification queue.
type Notification struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	Payload Payload   `json:"payload"`
	Trigger time.Time `json:"trigger"`
}

// Notifier is a generic notification facility.
type Notifier interface {
	Schedule(ctx context.Context, n Notification) (string, error)
	Cancel(ctx context.Context, id string) error
	List(ctx context.Context) ([]Notification, error)
}

// NewNotification builds the notification announcing a.
func NewNotification(a Alarm, opts Options) Notification {
	title, body := content(opts.Tag, a.Name)
	return Notification{
		Title:   title,
		Body:    body,
		Payload: Payload{Tag: opts.Tag, Prayer: a.Name, PlayAzan: opts.PlayAzan},
		Trigger: a.Trigger,
	}
}

func content(tag, name string) (title, body string) {
	switch tag {
	case TagIqama:
		return fmt.Sprintf("Iqama for %s", name), fmt.Sprintf("%s iqama is starting now", name)
	case TagMissed:
		return fmt.Sprintf("Did you pray %s?", name), fmt.Sprintf("Mark %s as prayed to dismiss this reminder", name)
	default:
		return fmt.Sprintf("Time for %s", name), fmt.Sprintf("It is time for %s prayer", name)
	}
}
