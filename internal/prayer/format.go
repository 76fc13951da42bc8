package prayer

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// Display modes for FormatOutput.
const (
	FormatTimeRemaining      = "time-remaining"
	FormatNextPrayerTime     = "next-prayer-time"
	FormatNameAndTime        = "name-and-time"
	FormatNameAndRemaining   = "name-and-remaining"
	FormatShortNameAndTime   = "short-name-and-time"
	FormatShortNameAndRemain = "short-name-and-remaining"
	FormatNameAndIqama       = "name-and-iqama"
	FormatFull               = "full"
)

// FormatOptions controls FormatOutput.
type FormatOptions struct {
	// Mode is one of the Format* constants or a Go template containing "{{".
	Mode string
	// TimeLayout is "15:04" for 24h or "3:04 PM" for 12h.
	TimeLayout string
	// IqamaDelay is added to the prayer time for the Iqama field; zero
	// leaves Iqama empty.
	IqamaDelay time.Duration
}

// FormatData is the data passed to custom templates.
type FormatData struct {
	Name      string // "Asr"
	ShortName string // "A"
	Time      string // "15:02" or "3:02 PM"
	Iqama     string // prayer time + iqama delay, empty when disabled
	Remaining string // "2h 15m"
	Hours     int
	Minutes   int
}

// FormatOutput renders p for a status line.
//
// Example template: "{{.Name}} in {{.Remaining}}" -> "Asr in 2h 15m"
func FormatOutput(p Prayer, now time.Time, opts FormatOptions) string {
	layout := opts.TimeLayout
	if layout == "" {
		layout = "15:04"
	}

	d := TimeRemaining(p, now)
	data := FormatData{
		Name:      p.Name,
		ShortName: ShortNames[p.Name],
		Time:      p.Time.Format(layout),
		Remaining: FormatRemaining(d),
		Hours:     int(d.Hours()),
		Minutes:   int(d.Minutes()) % 60,
	}
	if opts.IqamaDelay > 0 {
		data.Iqama = p.Time.Add(opts.IqamaDelay).Format(layout)
	}

	if strings.Contains(opts.Mode, "{{") {
		return formatCustom(opts.Mode, data)
	}

	switch opts.Mode {
	case FormatTimeRemaining:
		return data.Remaining
	case FormatNextPrayerTime:
		return data.Time
	case FormatNameAndRemaining:
		return fmt.Sprintf("%s %s", data.Name, data.Remaining)
	case FormatShortNameAndTime:
		return fmt.Sprintf("%s %s", data.ShortName, data.Time)
	case FormatShortNameAndRemain:
		return fmt.Sprintf("%s %s", data.ShortName, data.Remaining)
	case FormatNameAndIqama:
		if data.Iqama == "" {
			return fmt.Sprintf("%s %s", data.Name, data.Time)
		}
		return fmt.Sprintf("%s %s (iqama %s)", data.Name, data.Time, data.Iqama)
	case FormatFull:
		return fmt.Sprintf("%s %s (%s)", data.Name, data.Time, data.Remaining)
	default:
		return fmt.Sprintf("%s %s", data.Name, data.Time)
	}
}

func formatCustom(tmpl string, data FormatData) string {
	t, err := template.New("custom").Parse(tmpl)
	if err != nil {
		return fmt.Sprintf("template-err: %v", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return fmt.Sprintf("template-err: %v", err)
	}

	return buf.String()
}
