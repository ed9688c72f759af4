package views

import (
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sgaunet/s3bucketstats/pkg/config"
)

const notAvailable = "n/a"

// formatSize renders bytes in unit, a power of 1024 named after config.DisplayUnits.
// "auto" picks the largest unit keeping the value above one.
func formatSize(bytes uint64, unit string) string {
	if strings.EqualFold(unit, "auto") || unit == "" {
		return humanize.IBytes(bytes)
	}
	exp := unitExponent(unit)
	if exp == 0 {
		return humanize.Comma(int64(bytes)) + "B"
	}
	v := float64(bytes) / math.Pow(1024, float64(exp))
	return humanize.FormatFloat("#,###.##", v) + strings.ToUpper(unit)
}

// unitExponent returns the power of 1024 of a display unit, 0 for bytes.
func unitExponent(unit string) int {
	for i, u := range config.DisplayUnits[1:] {
		if strings.EqualFold(u, unit) {
			return i
		}
	}
	return 0
}

// formatCost renders a dollar amount with two decimals.
func formatCost(cost float64, available bool) string {
	if !available {
		return notAvailable
	}
	return "$" + humanize.FormatFloat("#,###.##", cost)
}

func formatCount(n uint64) string {
	return humanize.Comma(int64(n))
}

// formatDateTime formats a time.Time to a readable date and time string.
func formatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

// formatDuration keeps millisecond precision.
func formatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

// formatRelativeTime converts a time.Time to a human-readable relative time string.
func formatRelativeTime(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	if t.After(now) {
		return "in the future"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}
