package channel

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"TrendScan/internal/domain/models"
)

// realized-volatility bucket thresholds (per-bar stddev of log returns)
const (
	volLowThreshold  = 0.01
	volHighThreshold = 0.03
)

// Classify derives a Signal from a fitted channel and the current price.
// Pure function: identical inputs always produce the identical signal.
func Classify(ch models.Channel, price float64, recentBars []models.Bar) models.Signal {
	sig := models.Signal{
		Symbol:       ch.Symbol,
		Timeframe:    ch.Timeframe,
		CurrentPrice: price,
		Channel:      &ch,
		Risk:         riskLevel(recentBars),
	}

	switch {
	case price < ch.LowerBand:
		sig.Type = models.SignalBuy
		sig.PotentialReturn = (ch.UpperBand - ch.LowerBand) / ch.LowerBand * 100
	case price > ch.UpperBand:
		sig.Type = models.SignalSell
		sig.PotentialReturn = (ch.UpperBand - ch.LowerBand) / ch.UpperBand * 100
	default:
		sig.Type = models.SignalHold
		sig.PotentialReturn = 0
	}
	sig.Strength = strength(ch, price, sig.Type)
	return sig
}

// HoldSignal returns the degraded HOLD signal for a symbol whose pipeline
// failed upstream, carrying the reason code instead of a channel.
func HoldSignal(symbol, timeframe, reason string, price float64) models.Signal {
	return models.Signal{
		Symbol:       symbol,
		Timeframe:    timeframe,
		Type:         models.SignalHold,
		Reason:       reason,
		CurrentPrice: price,
		Risk:         models.RiskMedium,
	}
}

// strength maps the normalized distance from the nearer band to 0..100.
// Breakout signals grow with excursion beyond the band; HOLD grows as price
// approaches a band.
func strength(ch models.Channel, price float64, st models.SignalType) float64 {
	width := ch.UpperBand - ch.LowerBand
	if width <= 0 {
		return 0
	}

	var d float64
	switch st {
	case models.SignalBuy:
		d = (ch.LowerBand - price) / width
	case models.SignalSell:
		d = (price - ch.UpperBand) / width
	default:
		nearest := math.Min(math.Abs(price-ch.LowerBand), math.Abs(price-ch.UpperBand))
		d = 1 - 2*nearest/width // 1 at a band, 0 mid-channel
	}
	if d < 0 {
		d = 0
	}
	// tanh keeps large excursions bounded while staying monotonic
	return 100 * math.Tanh(2*d)
}

func riskLevel(bars []models.Bar) models.RiskLevel {
	const volWindow = 20
	if len(bars) < 2 {
		return models.RiskMedium
	}
	if len(bars) > volWindow+1 {
		bars = bars[len(bars)-volWindow-1:]
	}

	rets := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		if bars[i-1].Close <= 0 || bars[i].Close <= 0 {
			continue
		}
		rets = append(rets, math.Log(bars[i].Close/bars[i-1].Close))
	}
	if len(rets) < 2 {
		return models.RiskMedium
	}

	vol := stat.StdDev(rets, nil)
	switch {
	case vol < volLowThreshold:
		return models.RiskLow
	case vol > volHighThreshold:
		return models.RiskHigh
	default:
		return models.RiskMedium
	}
}
