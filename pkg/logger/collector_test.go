package logger

import "testing"

func TestCollectorMirrorsWarnAndError(t *testing.T) {
	l, err := New(&Config{Level: "error", Format: "console", Output: "stdout"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	c := NewProblemCollector()
	l.SetCollector(c)

	l.Warn("fetch failed", String("symbol", "BTC-USD"))
	l.Warn("fetch failed", String("symbol", "BTC-USD"))
	l.Error("fit rejected", String("symbol", "ETH-USD"))
	l.Info("scan started", String("symbol", "BTC-USD"))

	l.SetCollector(nil)
	l.Warn("after detach", String("symbol", "SOL-USD"))

	problems := c.Problems()
	if len(problems) != 2 {
		t.Fatalf("collected %d problems, want 2: %+v", len(problems), problems)
	}
	for _, p := range problems {
		if p.Symbol == "BTC-USD" && p.Count != 2 {
			t.Fatalf("duplicate warn count = %d, want 2", p.Count)
		}
	}

	by := c.BySymbol()
	if by["BTC-USD"] != "fetch failed" {
		t.Fatalf("BySymbol[BTC-USD] = %q", by["BTC-USD"])
	}
	if by["ETH-USD"] != "fit rejected" {
		t.Fatalf("BySymbol[ETH-USD] = %q", by["ETH-USD"])
	}
	if _, ok := by["SOL-USD"]; ok {
		t.Fatal("events after detach must not be collected")
	}
}
