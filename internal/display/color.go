// Package display styles prayer tables and status lines for the terminal.
//
// Styling uses raw ANSI escape codes and is off when NO_COLOR is set, when
// stdout is not a terminal, or when a command asks for JSON output.
// FORCE_COLOR turns it on regardless of the terminal check.
package display

import "os"

type style string

const (
	styleReset  style = "\033[0m"
	styleBold   style = "\033[1m"
	styleDim    style = "\033[2m"
	styleRed    style = "\033[31m"
	styleGreen  style = "\033[32m"
	styleYellow style = "\033[33m"
	styleCyan   style = "\033[36m"
	styleGray   style = "\033[90m"
)

// DoneMark marks a completed prayer.
const DoneMark = "✓"

var enabled = detectColor()

func detectColor() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if _, ok := os.LookupEnv("FORCE_COLOR"); ok {
		return true
	}
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// SetEnabled overrides the detected color state.
func SetEnabled(b bool) {
	enabled = b
}

func paint(text string, styles ...style) string {
	if !enabled || len(styles) == 0 {
		return text
	}
	var prefix string
	for _, s := range styles {
		prefix += string(s)
	}
	return prefix + text + string(styleReset)
}

func Bold(text string) string { return paint(text, styleBold) }
func Dim(text string) string  { return paint(text, styleDim) }
func Gray(text string) string { return paint(text, styleGray) }

// Red marks errors such as an unparsable prayer time.
func Red(text string) string { return paint(text, styleRed) }

// Green marks success, such as a prayer marked done.
func Green(text string) string { return paint(text, styleGreen) }

// Yellow marks something that needs attention, such as a forced reschedule.
func Yellow(text string) string { return paint(text, styleYellow) }

// Accent highlights the next prayer and today's row.
func Accent(text string) string { return paint(text, styleBold, styleCyan) }
