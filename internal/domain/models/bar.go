package models

import "time"

// Bar represents one OHLCV observation for a symbol at a given timeframe.
// Bars are immutable once cached; newer fetches supersede, never mutate.
type Bar struct {
	Symbol    string
	Timeframe string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// IsValid reports whether the bar satisfies the OHLC ordering invariant
// (high is the maximum, low the minimum) and has non-negative volume.
func (b Bar) IsValid() bool {
	if b.Volume < 0 {
		return false
	}
	if b.High < b.Open || b.High < b.Close || b.High < b.Low {
		return false
	}
	if b.Low > b.Open || b.Low > b.Close {
		return false
	}
	return true
}
