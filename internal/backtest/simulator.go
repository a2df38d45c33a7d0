package backtest

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"TrendScan/internal/channel"
	"TrendScan/internal/domain/models"
	drepo "TrendScan/internal/domain/repository"
)

const initialEquity = 10000.0

// Costs holds per-side transaction cost percentages.
type Costs struct {
	FeePct      float64
	SlippagePct float64
}

// Simulator replays channel signals over history with transaction costs.
type Simulator struct {
	fitter     *channel.Fitter
	costs      Costs
	refitEvery int
}

// New creates a Simulator. refitEvery controls how often the channel is
// re-fitted while replaying (1 = every bar).
func New(fitter *channel.Fitter, costs Costs, refitEvery int) *Simulator {
	if refitEvery < 1 {
		refitEvery = 1
	}
	return &Simulator{fitter: fitter, costs: costs, refitEvery: refitEvery}
}

// Simulate replays bars with the given parameter set and returns performance
// statistics. A non-finite equity curve invalidates the result: the error is
// reported to the caller, never thrown as fatal.
func (s *Simulator) Simulate(bars []models.Bar, params models.Params) (models.BacktestResult, error) {
	res := models.BacktestResult{Params: params}
	if len(bars) == 0 {
		return res, fmt.Errorf("no bars")
	}
	res.Symbol = bars[0].Symbol
	res.Timeframe = bars[0].Timeframe

	warmup := params.Lookback
	if warmup < params.Degree+2 {
		warmup = params.Degree + 2
	}
	if len(bars) <= warmup {
		return res, &models.InsufficientDataError{Symbol: res.Symbol, Got: len(bars), Min: warmup + 1}
	}

	feeMult := 1 - s.costs.FeePct/100
	slipBuy := 1 + s.costs.SlippagePct/100
	slipSell := 1 - s.costs.SlippagePct/100

	cash := initialEquity
	units := 0.0
	inPosition := false

	equity := make([]float64, 0, len(bars)-warmup)
	var ch models.Channel
	haveChannel := false

	for i := warmup; i < len(bars); i++ {
		price := bars[i].Close

		if !haveChannel || (i-warmup)%s.refitEvery == 0 {
			fitted, err := s.fitter.Fit(bars[:i+1], params)
			if err == nil {
				ch = fitted
				haveChannel = true
			}
			// a failed intermediate refit keeps the previous channel
		}

		if haveChannel {
			sig := channel.Classify(ch, price, bars[:i+1])
			switch {
			case !inPosition && sig.Type == models.SignalBuy:
				entry := price * slipBuy
				units = cash * feeMult / entry
				cash = 0
				inPosition = true
				res.TradeCount++
			case inPosition && sig.Type == models.SignalSell:
				exit := price * slipSell
				cash = units * exit * feeMult
				units = 0
				inPosition = false
				res.TradeCount++
			}
		}

		eq := cash + units*price
		if math.IsNaN(eq) || math.IsInf(eq, 0) || eq <= 0 {
			return res, &models.NumericInstabilityError{Symbol: res.Symbol, Reason: "non-finite equity"}
		}
		equity = append(equity, eq)
	}

	// mark-to-market close of any open position
	final := equity[len(equity)-1]
	res.TotalReturn = (final/initialEquity - 1) * 100
	res.SharpeRatio = sharpe(equity, drepo.Timeframe(res.Timeframe))
	res.MaxDrawdown = maxDrawdown(equity)

	if math.IsNaN(res.TotalReturn) || math.IsInf(res.TotalReturn, 0) ||
		math.IsNaN(res.SharpeRatio) || math.IsInf(res.SharpeRatio, 0) {
		return res, &models.NumericInstabilityError{Symbol: res.Symbol, Reason: "non-finite result"}
	}
	return res, nil
}

// sharpe computes the annualized ratio of mean to stddev of period returns;
// zero when dispersion vanishes.
func sharpe(equity []float64, tf drepo.Timeframe) float64 {
	if len(equity) < 2 {
		return 0
	}
	rets := make([]float64, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		rets[i-1] = equity[i]/equity[i-1] - 1
	}
	mean, sd := stat.MeanStdDev(rets, nil)
	if sd < 1e-12 || math.IsNaN(sd) {
		return 0
	}
	return mean / sd * math.Sqrt(drepo.BarsPerYear(tf))
}

// maxDrawdown returns the largest peak-to-trough decline of the equity
// curve, in percent.
func maxDrawdown(equity []float64) float64 {
	peak := equity[0]
	maxDD := 0.0
	for _, eq := range equity {
		if eq > peak {
			peak = eq
		}
		if dd := (peak - eq) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD * 100
}
