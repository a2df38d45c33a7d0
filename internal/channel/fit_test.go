package channel

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"TrendScan/internal/domain/models"
)

func syntheticBars(n int, startPrice, dailyGrowth, noise float64, seed int64) []models.Bar {
	rng := rand.New(rand.NewSource(seed))
	bars := make([]models.Bar, n)
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	logP := math.Log(startPrice)
	for i := 0; i < n; i++ {
		logP += dailyGrowth + noise*rng.NormFloat64()
		close := math.Exp(logP)
		bars[i] = models.Bar{
			Symbol:    "TEST",
			Timeframe: "1d",
			Timestamp: t0.AddDate(0, 0, i),
			Open:      close * 0.995,
			High:      close * 1.01,
			Low:       close * 0.99,
			Close:     close,
			Volume:    1000,
		}
	}
	return bars
}

func TestFitBandOrdering(t *testing.T) {
	bars := syntheticBars(200, 100, 0.002, 0.01, 1)
	f := NewFitter(0, 0)

	ch, err := f.Fit(bars, models.Params{Degree: 3, KStd: 2.0, Lookback: 200})
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if ch.LowerBand > ch.UpperBand {
		t.Fatalf("lower band %.4f above upper %.4f", ch.LowerBand, ch.UpperBand)
	}
	if !ch.IsValid() {
		t.Fatalf("channel invalid: %+v", ch)
	}
}

func TestFitBracketsMostCloses(t *testing.T) {
	bars := syntheticBars(200, 100, 0.002, 0.01, 2)
	f := NewFitter(0, 0)
	params := models.Params{Degree: 3, KStd: 2.0, Lookback: 100}

	// re-fit at each step over the second half and count closes inside bands
	inside, total := 0, 0
	for i := 100; i < len(bars); i++ {
		ch, err := f.Fit(bars[:i+1], params)
		if err != nil {
			continue
		}
		total++
		price := bars[i].Close
		if price >= ch.LowerBand && price <= ch.UpperBand {
			inside++
		}
	}
	if total == 0 {
		t.Fatal("no successful fits")
	}
	if frac := float64(inside) / float64(total); frac < 0.9 {
		t.Fatalf("only %.0f%% of closes inside bands, want >= 90%%", frac*100)
	}
}

func TestFitRejectsShortNoisyHighDegree(t *testing.T) {
	bars := syntheticBars(10, 100, 0, 0.5, 3)
	f := NewFitter(0, 0)

	_, err := f.Fit(bars, models.Params{Degree: 9, KStd: 2.0, Lookback: 10})
	if err == nil {
		t.Fatal("expected rejection for degree 9 over 10 points")
	}
	var numErr *models.NumericInstabilityError
	if !errors.As(err, &numErr) {
		t.Fatalf("want NumericInstabilityError, got %T: %v", err, err)
	}
}

func TestFitRejectsEmptyAndDegenerate(t *testing.T) {
	f := NewFitter(0, 0)

	if _, err := f.Fit(nil, models.Params{Degree: 3, KStd: 2}); err == nil {
		t.Fatal("expected error on empty series")
	}

	bars := syntheticBars(50, 100, 0.001, 0.01, 4)
	bars[49].Close = -5
	if _, err := f.Fit(bars, models.Params{Degree: 3, KStd: 2, Lookback: 50}); err == nil {
		t.Fatal("expected error on non-positive close")
	}
}

func TestFitFlatSeries(t *testing.T) {
	bars := syntheticBars(60, 100, 0, 0, 5)
	f := NewFitter(0, 0)

	ch, err := f.Fit(bars, models.Params{Degree: 2, KStd: 2.0, Lookback: 60})
	if err != nil {
		t.Fatalf("flat series should fit: %v", err)
	}
	if ch.LowerBand > ch.UpperBand {
		t.Fatalf("band ordering violated on flat series")
	}
}

func TestFitClampsBands(t *testing.T) {
	// steep exponential growth pushes extrapolated bands far from price
	bars := syntheticBars(120, 10, 0.05, 0.002, 6)
	f := NewFitter(0, 2.0)

	ch, err := f.Fit(bars, models.Params{Degree: 4, KStd: 3.0, Lookback: 120})
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	price := bars[len(bars)-1].Close
	if ch.UpperBand > price*2.0+1e-9 {
		t.Fatalf("upper band %.2f beyond clamp at price %.2f", ch.UpperBand, price)
	}
	if ch.LowerBand < price/2.0-1e-9 {
		t.Fatalf("lower band %.2f beyond clamp at price %.2f", ch.LowerBand, price)
	}
}
