package prayer

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTime is wrapped by every ParseTime failure.
var ErrInvalidTime = errors.New("invalid time of day")

// TimeError reports a time-of-day string that could not be parsed.
type TimeError struct {
	Raw    string
	Reason string
}

func (e *TimeError) Error() string {
	return fmt.Sprintf("%v %q: %s", ErrInvalidTime, e.Raw, e.Reason)
}

func (e *TimeError) Unwrap() error { return ErrInvalidTime }

// Clock is a parsed wall-clock time of day.
type Clock struct {
	Hour   int // 0-23
	Minute int // 0-59
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

var (
	// parenSuffix matches a trailing annotation such as " (EET)".
	parenSuffix  = regexp.MustCompile(`\s*\([^)]*\)\s*$`)
	clockPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?:\s*([AaPp][Mm]))?$`)
)

// ParseTime parses "HH:MM", "HH:MM (TZ)" or "h:MM AM/PM".
func ParseTime(raw string) (Clock, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSpace(parenSuffix.ReplaceAllString(s, ""))

	m := clockPattern.FindStringSubmatch(s)
	if m == nil {
		return Clock{}, &TimeError{Raw: raw, Reason: "does not match HH:MM"}
	}

	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if minute > 59 {
		return Clock{}, &TimeError{Raw: raw, Reason: "minute out of range"}
	}

	switch strings.ToUpper(m[3]) {
	case "":
		if hour > 23 {
			return Clock{}, &TimeError{Raw: raw, Reason: "hour out of range"}
		}
	case "AM":
		if hour < 1 || hour > 12 {
			return Clock{}, &TimeError{Raw: raw, Reason: "12-hour clock needs hour 1-12"}
		}
		if hour == 12 {
			hour = 0
		}
	case "PM":
		if hour < 1 || hour > 12 {
			return Clock{}, &TimeError{Raw: raw, Reason: "12-hour clock needs hour 1-12"}
		}
		if hour != 12 {
			hour += 12
		}
	}

	return Clock{Hour: hour, Minute: minute}, nil
}

// On returns the instant at c on day's calendar date, in day's location.
func (c Clock) On(day time.Time) time.Time {
	y, mo, d := day.Date()
	return time.Date(y, mo, d, c.Hour, c.Minute, 0, 0, day.Location())
}

// NextOccurrence returns today's instant for c, or tomorrow's if today's is
// not strictly after now.
func NextOccurrence(now time.Time, c Clock) time.Time {
	t := c.On(now)
	if !t.After(now) {
		t = c.On(now.AddDate(0, 0, 1))
	}
	return t
}

// OffsetOccurrence derives a reminder delay after the prayer at c.
// When today's prayer+delay has already passed, the prayer itself moves to
// tomorrow and the reminder is recomputed from it, so both stay on the same
// day.
func OffsetOccurrence(now time.Time, c Clock, delay time.Duration) (prayerAt, reminderAt time.Time) {
	prayerAt = c.On(now)
	reminderAt = prayerAt.Add(delay)
	if !reminderAt.After(now) {
		prayerAt = c.On(now.AddDate(0, 0, 1))
		reminderAt = prayerAt.Add(delay)
	}
	return prayerAt, reminderAt
}
