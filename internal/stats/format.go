package stats

import (
	"fmt"
	"strings"
	"time"
)

// FormatDuration renders a duration as days, hours, minutes, and seconds,
// omitting zero-valued leading units. Seconds always appear, even at zero.
// A negative duration means clock skew, not a valid figure, and renders as
// an explicit error marker.
func FormatDuration(d time.Duration) string {
	total := int(d.Seconds())
	if total < 0 {
		return "calculation error"
	}

	days := total / 86400
	hours := total % 86400 / 3600
	minutes := total % 3600 / 60
	seconds := total % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%d%s", days, plural(days, "day")))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%d%s", hours, plural(hours, "hour")))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%d%s", minutes, plural(minutes, "minute")))
	}
	parts = append(parts, fmt.Sprintf("%d%s", seconds, plural(seconds, "second")))

	return strings.Join(parts, " ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return " " + unit
	}
	return " " + unit + "s"
}
