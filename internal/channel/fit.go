package channel

import (
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"TrendScan/internal/domain/models"
)

// Fitter fits polynomial regression channels over log-price windows.
// Stateless: safe for concurrent use across scan workers.
type Fitter struct {
	// MaxCoefficient rejects ill-conditioned fits whose coefficients would
	// overflow downstream arithmetic.
	MaxCoefficient float64
	// BandClamp bounds bands to within this multiple of current price,
	// rejecting implausible channels caused by boundary extrapolation.
	BandClamp float64
}

// NewFitter returns a Fitter with the given safety bounds (zero values get
// the documented defaults).
func NewFitter(maxCoefficient, bandClamp float64) *Fitter {
	if maxCoefficient <= 0 {
		maxCoefficient = 1e10
	}
	if bandClamp <= 1 {
		bandClamp = 2.0
	}
	return &Fitter{MaxCoefficient: maxCoefficient, BandClamp: bandClamp}
}

// Fit fits a polynomial of the given degree to index-vs-log(close) over the
// lookback window (the tail of bars of length params.Lookback) and derives
// dispersion bands at k standard deviations of the residuals.
//
// The series is z-score normalized before fitting and denormalized after,
// which keeps high-degree fits numerically conditioned. Any rejected fit
// returns NumericInstabilityError; the caller falls back to defaults.
func (f *Fitter) Fit(bars []models.Bar, params models.Params) (models.Channel, error) {
	var ch models.Channel
	if len(bars) == 0 {
		return ch, &models.NumericInstabilityError{Reason: "empty series"}
	}

	symbol := bars[0].Symbol
	window := bars
	if params.Lookback > 0 && len(bars) > params.Lookback {
		window = bars[len(bars)-params.Lookback:]
	}
	n := len(window)
	if n < params.Degree+2 {
		return ch, &models.NumericInstabilityError{Symbol: symbol, Reason: "window shorter than degree+2"}
	}

	// log-price series with index as the independent variable
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, b := range window {
		if b.Close <= 0 {
			return ch, &models.NumericInstabilityError{Symbol: symbol, Reason: "non-positive close"}
		}
		xs[i] = float64(i)
		ys[i] = math.Log(b.Close)
	}

	xMean, xStd := stat.MeanStdDev(xs, nil)
	yMean, yStd := stat.MeanStdDev(ys, nil)
	if xStd == 0 || math.IsNaN(yStd) {
		return ch, &models.NumericInstabilityError{Symbol: symbol, Reason: "degenerate window"}
	}
	if yStd == 0 {
		// perfectly flat series still fits: avoid division by zero
		yStd = 1
	}

	xn := make([]float64, n)
	yn := make([]float64, n)
	for i := range xs {
		xn[i] = (xs[i] - xMean) / xStd
		yn[i] = (ys[i] - yMean) / yStd
	}

	coeffs, err := polyfit(xn, yn, params.Degree)
	if err != nil {
		return ch, &models.NumericInstabilityError{Symbol: symbol, Reason: err.Error()}
	}
	for _, c := range coeffs {
		if math.IsNaN(c) || math.IsInf(c, 0) || math.Abs(c) > f.MaxCoefficient {
			return ch, &models.NumericInstabilityError{Symbol: symbol, Reason: "coefficient overflow"}
		}
	}

	// residual sigma in log space over the window
	resid := make([]float64, n)
	for i := range xn {
		fit := yMean + yStd*polyval(coeffs, xn[i])
		resid[i] = ys[i] - fit
	}
	sigma := stat.StdDev(resid, nil)
	if math.IsNaN(sigma) || math.IsInf(sigma, 0) {
		return ch, &models.NumericInstabilityError{Symbol: symbol, Reason: "non-finite residual sigma"}
	}

	trendLog := yMean + yStd*polyval(coeffs, xn[n-1])
	upper := math.Exp(trendLog + params.KStd*sigma)
	lower := math.Exp(trendLog - params.KStd*sigma)
	trend := math.Exp(trendLog)

	if !finitePositive(upper) || !finitePositive(lower) || !finitePositive(trend) || lower > upper {
		return ch, &models.NumericInstabilityError{Symbol: symbol, Reason: "invalid bands"}
	}

	// economic plausibility bound around current price
	price := window[n-1].Close
	maxBand := price * f.BandClamp
	minBand := price / f.BandClamp
	if upper > maxBand {
		upper = maxBand
	}
	if lower < minBand {
		lower = minBand
	}
	if lower > upper {
		return ch, &models.NumericInstabilityError{Symbol: symbol, Reason: "bands collapsed by clamp"}
	}

	return models.Channel{
		Symbol:     symbol,
		Timeframe:  window[n-1].Timeframe,
		Params:     params,
		TrendValue: trend,
		UpperBand:  upper,
		LowerBand:  lower,
		FittedAt:   time.Now().UTC(),
	}, nil
}

// polyfit solves the least-squares polynomial fit via QR decomposition of
// the Vandermonde matrix. Returns degree+1 coefficients, constant term first.
func polyfit(xs, ys []float64, degree int) ([]float64, error) {
	n := len(xs)
	cols := degree + 1

	a := mat.NewDense(n, cols, nil)
	for i := 0; i < n; i++ {
		v := 1.0
		for j := 0; j < cols; j++ {
			a.Set(i, j, v)
			v *= xs[i]
		}
	}
	b := mat.NewDense(n, 1, ys)

	var qr mat.QR
	qr.Factorize(a)

	var sol mat.Dense
	if err := qr.SolveTo(&sol, false, b); err != nil {
		return nil, err
	}

	coeffs := make([]float64, cols)
	for j := 0; j < cols; j++ {
		coeffs[j] = sol.At(j, 0)
	}
	return coeffs, nil
}

// polyval evaluates the polynomial at x (Horner form).
func polyval(coeffs []float64, x float64) float64 {
	v := 0.0
	for i := len(coeffs) - 1; i >= 0; i-- {
		v = v*x + coeffs[i]
	}
	return v
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
