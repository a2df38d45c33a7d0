package models

import (
	"math"
	"time"
)

// SignalType classifies price relative to a fitted channel.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalHold SignalType = "HOLD"
)

// RiskLevel is a coarse volatility bucket attached to a signal.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Params is one regression-channel parameter set.
type Params struct {
	Degree   int     `yaml:"degree" json:"degree"`
	KStd     float64 `yaml:"kstd" json:"kstd"`
	Lookback int     `yaml:"lookback" json:"lookback"`
}

// Channel is a fitted polynomial trend plus dispersion bands for one
// symbol/timeframe/parameter set. Recomputed on each scan, never mutated.
type Channel struct {
	Symbol     string
	Timeframe  string
	Params     Params
	TrendValue float64
	UpperBand  float64
	LowerBand  float64
	FittedAt   time.Time
}

// IsValid reports whether both bands are finite, positive and ordered.
func (c Channel) IsValid() bool {
	if !isFinitePositive(c.UpperBand) || !isFinitePositive(c.LowerBand) {
		return false
	}
	return c.LowerBand <= c.UpperBand
}

// Signal is the discrete classification derived from a Channel and the
// current price. Ephemeral: recreated each evaluation cycle.
type Signal struct {
	Symbol          string
	Timeframe       string
	Type            SignalType
	Reason          string // set when degraded to HOLD (e.g. "insufficient_data")
	CurrentPrice    float64
	PotentialReturn float64
	Strength        float64 // 0..100
	Risk            RiskLevel
	Channel         *Channel
}

func isFinitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
