package channel

import (
	"math"
	"testing"

	"TrendScan/internal/domain/models"
)

func testChannel(lower, upper float64) models.Channel {
	return models.Channel{
		Symbol:     "TEST",
		Timeframe:  "1d",
		Params:     models.Params{Degree: 3, KStd: 2, Lookback: 100},
		TrendValue: (lower + upper) / 2,
		LowerBand:  lower,
		UpperBand:  upper,
	}
}

func TestClassifyBuyPotentialReturn(t *testing.T) {
	ch := testChannel(100, 120)
	sig := Classify(ch, 95, nil)

	if sig.Type != models.SignalBuy {
		t.Fatalf("want BUY, got %s", sig.Type)
	}
	// (120-100)/100*100 = 20.0
	if math.Abs(sig.PotentialReturn-20.0) > 1e-9 {
		t.Fatalf("want potential return 20.0, got %.6f", sig.PotentialReturn)
	}
}

func TestClassifySellPotentialReturn(t *testing.T) {
	ch := testChannel(100, 120)
	sig := Classify(ch, 125, nil)

	if sig.Type != models.SignalSell {
		t.Fatalf("want SELL, got %s", sig.Type)
	}
	// (120-100)/120*100 = 16.666...
	if math.Abs(sig.PotentialReturn-100.0/6.0) > 1e-9 {
		t.Fatalf("want potential return 16.6667, got %.6f", sig.PotentialReturn)
	}
}

func TestClassifyHold(t *testing.T) {
	ch := testChannel(100, 120)
	sig := Classify(ch, 110, nil)

	if sig.Type != models.SignalHold {
		t.Fatalf("want HOLD, got %s", sig.Type)
	}
	if sig.PotentialReturn != 0 {
		t.Fatalf("HOLD potential return must be 0, got %.6f", sig.PotentialReturn)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	ch := testChannel(100, 120)
	bars := syntheticBars(30, 100, 0.001, 0.005, 7)

	a := Classify(ch, 95, bars)
	b := Classify(ch, 95, bars)
	if a.Type != b.Type || a.PotentialReturn != b.PotentialReturn || a.Strength != b.Strength || a.Risk != b.Risk {
		t.Fatalf("classify not deterministic: %+v vs %+v", a, b)
	}
}

func TestStrengthMonotonicAndBounded(t *testing.T) {
	ch := testChannel(100, 120)

	prev := -1.0
	for _, price := range []float64{99, 95, 90, 80, 50} {
		sig := Classify(ch, price, nil)
		if sig.Strength < 0 || sig.Strength > 100 {
			t.Fatalf("strength %.2f out of range at price %.0f", sig.Strength, price)
		}
		if sig.Strength < prev {
			t.Fatalf("strength not monotonic: %.2f after %.2f", sig.Strength, prev)
		}
		prev = sig.Strength
	}
}

func TestRiskBuckets(t *testing.T) {
	calm := syntheticBars(40, 100, 0.0001, 0.001, 8)
	if sig := Classify(testChannel(90, 110), 100, calm); sig.Risk != models.RiskLow {
		t.Fatalf("calm series should be LOW risk, got %s", sig.Risk)
	}

	wild := syntheticBars(40, 100, 0, 0.08, 9)
	if sig := Classify(testChannel(90, 110), 100, wild); sig.Risk != models.RiskHigh {
		t.Fatalf("volatile series should be HIGH risk, got %s", sig.Risk)
	}

	if sig := Classify(testChannel(90, 110), 100, nil); sig.Risk != models.RiskMedium {
		t.Fatalf("no history should default to MEDIUM, got %s", sig.Risk)
	}
}

func TestHoldSignalCarriesReason(t *testing.T) {
	sig := HoldSignal("TEST", "1d", "insufficient data", 42.0)
	if sig.Type != models.SignalHold || sig.Reason != "insufficient data" || sig.CurrentPrice != 42.0 {
		t.Fatalf("unexpected hold signal: %+v", sig)
	}
	if sig.Channel != nil {
		t.Fatal("degraded hold must not carry a channel")
	}
}
