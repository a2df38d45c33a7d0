package optimize

import (
	"math"
	"math/rand"
	"time"

	"TrendScan/internal/backtest"
	"TrendScan/internal/channel"
	"TrendScan/internal/domain/models"
	"TrendScan/pkg/logger"
)

// Space bounds the random parameter search.
type Space struct {
	DegreeMin, DegreeMax     int
	KStdMin, KStdMax         float64
	LookbackMin, LookbackMax int
	MaxTrials                int
	MaxSaneReturn            float64 // percent, trials beyond this are discarded
}

// Optimizer searches for the parameter set with the best backtested
// objective: total return penalized by half the max drawdown.
type Optimizer struct {
	fitter   *channel.Fitter
	sim      *backtest.Simulator
	space    Space
	defaults models.Params
	log      *logger.Logger
	rng      *rand.Rand
}

func New(fitter *channel.Fitter, sim *backtest.Simulator, space Space, defaults models.Params, log *logger.Logger) *Optimizer {
	return &Optimizer{
		fitter:   fitter,
		sim:      sim,
		space:    space,
		defaults: defaults,
		log:      log,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Seed makes trial sampling deterministic, for tests.
func (o *Optimizer) Seed(seed int64) { o.rng = rand.New(rand.NewSource(seed)) }

// BestParams runs up to MaxTrials random trials against the bar history and
// returns the winning parameter set plus the full trial log. When every
// trial is invalid the configured defaults win.
func (o *Optimizer) BestParams(bars []models.Bar) (models.Params, []models.OptimizationTrial) {
	symbol := ""
	if len(bars) > 0 {
		symbol = bars[0].Symbol
	}

	trials := make([]models.OptimizationTrial, 0, o.space.MaxTrials)
	best := o.defaults
	bestObj := math.Inf(-1)
	anyValid := false

	for i := 0; i < o.space.MaxTrials; i++ {
		params := o.sample(len(bars))
		trial := models.OptimizationTrial{
			Symbol:     symbol,
			TrialIndex: i,
			Params:     params,
			CreatedAt:  time.Now().UTC(),
		}

		res, err := o.sim.Simulate(bars, params)
		if err != nil {
			o.log.Debug("trial rejected",
				logger.String("symbol", symbol),
				logger.Int("trial", i),
				logger.Error(err))
			trials = append(trials, trial)
			continue
		}
		if math.Abs(res.TotalReturn) > o.space.MaxSaneReturn {
			trials = append(trials, trial)
			continue
		}

		obj := objective(res)
		if math.IsNaN(obj) || math.IsInf(obj, 0) {
			trials = append(trials, trial)
			continue
		}

		trial.Valid = true
		trial.Objective = obj
		trials = append(trials, trial)

		if obj > bestObj {
			bestObj = obj
			best = params
			anyValid = true
		}
	}

	if !anyValid {
		o.log.Warn("all trials invalid, falling back to defaults",
			logger.String("symbol", symbol),
			logger.Int("trials", len(trials)))
		return o.defaults, trials
	}
	return best, trials
}

// sample draws one parameter set from the space. Lookback is capped to the
// available history so trials on short series are not all wasted.
func (o *Optimizer) sample(available int) models.Params {
	lbMax := o.space.LookbackMax
	if available > 0 && lbMax > available {
		lbMax = available
	}
	lbMin := o.space.LookbackMin
	if lbMin > lbMax {
		lbMin = lbMax
	}
	return models.Params{
		Degree:   o.space.DegreeMin + o.rng.Intn(o.space.DegreeMax-o.space.DegreeMin+1),
		KStd:     o.space.KStdMin + o.rng.Float64()*(o.space.KStdMax-o.space.KStdMin),
		Lookback: lbMin + o.rng.Intn(lbMax-lbMin+1),
	}
}

func objective(res models.BacktestResult) float64 {
	return res.TotalReturn - 0.5*res.MaxDrawdown
}
