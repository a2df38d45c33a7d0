package repository

import "time"

// Timeframe identifies the bar interval of a series.
type Timeframe string

const (
	TF1d  Timeframe = "1d"
	TF4h  Timeframe = "4h"
	TF1h  Timeframe = "1h"
	TF15m Timeframe = "15m"
)

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	switch tf {
	case TF1d, TF4h, TF1h, TF15m:
		return true
	default:
		return false
	}
}

// DefaultTimeframe returns the default timeframe.
func DefaultTimeframe() Timeframe { return TF1d }

// NormalizeTimeframe converts raw string to a valid timeframe (or default).
func NormalizeTimeframe(s string) Timeframe {
	if s == "" {
		return DefaultTimeframe()
	}
	tf := Timeframe(s)
	if IsValidTimeframe(tf) {
		return tf
	}
	return DefaultTimeframe()
}

// Interval returns the duration of one bar for tf.
func Interval(tf Timeframe) time.Duration {
	switch tf {
	case TF1d:
		return 24 * time.Hour
	case TF4h:
		return 4 * time.Hour
	case TF1h:
		return time.Hour
	case TF15m:
		return 15 * time.Minute
	default:
		return 24 * time.Hour
	}
}

// BarsPerYear returns the number of bars in one year for tf, used to
// annualize period statistics.
func BarsPerYear(tf Timeframe) float64 {
	return float64(365 * 24 * time.Hour / Interval(tf))
}
