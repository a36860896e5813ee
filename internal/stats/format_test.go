package stats

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want string
	}{
		{"zero", 0, "0 seconds"},
		{"seconds only", 42 * time.Second, "42 seconds"},
		{"one second", time.Second, "1 second"},
		{"minute and seconds", 90 * time.Second, "1 minute 30 seconds"},
		{"whole minutes keep seconds", 2 * time.Minute, "2 minutes 0 seconds"},
		{"hours", 3*time.Hour + 5*time.Second, "3 hours 5 seconds"},
		{"exactly one day", 24 * time.Hour, "1 day 0 seconds"},
		{"everything", 25*time.Hour + 61*time.Second, "1 day 1 hour 1 minute 1 second"},
		{"negative is clock skew", -time.Second, "calculation error"},
		{"sub-second truncates", 900 * time.Millisecond, "0 seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatDuration(tt.d); got != tt.want {
				t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}
