package output

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"TrendScan/internal/domain/models"
)

func testBatch() *models.IngestionBatch {
	at := time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)
	return &models.IngestionBatch{
		ID:        "b-123",
		CreatedAt: at,
		Tier:      models.TierPrimary,
		Records: []models.ResultRecord{
			{
				Symbol: "BTC-USD", Timeframe: "1d", CurrentPrice: 65000.5,
				LowerBand: 60000, UpperBand: 70000, Signal: models.SignalBuy,
				PotentialReturn: 7.7, TotalReturn: 42.1, SharpeRatio: 1.3,
				MaxDrawdown: 12.5, Degree: 3, KStd: 2.0, Lookback: 200,
				AnalyzedAt: at,
			},
			{
				Symbol: "ETH-USD", Timeframe: "1d", CurrentPrice: 3500.25,
				LowerBand: 3300, UpperBand: 3600, Signal: models.SignalHold,
				MaxDrawdown: 9.0, Degree: 3, KStd: 2.0, Lookback: 200,
				AnalyzedAt: at,
			},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	paths, err := w.Write(testBatch(), FormatCSV)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("got %d paths, want 1", len(paths))
	}
	if filepath.Base(paths[0]) != "scan_20260315_093000.csv" {
		t.Fatalf("unexpected file name %s", filepath.Base(paths[0]))
	}

	f, err := os.Open(paths[0])
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header plus 2 records", len(rows))
	}
	if rows[0][0] != "symbol" || len(rows[0]) != len(csvHeader) {
		t.Fatalf("bad header: %v", rows[0])
	}
	if rows[1][0] != "BTC-USD" || rows[1][5] != "BUY" {
		t.Fatalf("bad first record: %v", rows[1])
	}
	if rows[1][2] != "65000.500000" {
		t.Fatalf("price formatting = %s", rows[1][2])
	}
}

func TestWriteJSON(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	batch := testBatch()

	paths, err := w.Write(batch, FormatJSON)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var payload struct {
		BatchID string                `json:"batch_id"`
		Tier    string                `json:"tier"`
		Records []models.ResultRecord `json:"records"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.BatchID != batch.ID {
		t.Fatalf("batch_id = %s, want %s", payload.BatchID, batch.ID)
	}
	if payload.Tier != "primary" {
		t.Fatalf("tier = %s", payload.Tier)
	}
	if len(payload.Records) != 2 || payload.Records[1].Symbol != "ETH-USD" {
		t.Fatalf("bad records: %+v", payload.Records)
	}
}

func TestWriteBoth(t *testing.T) {
	dir := t.TempDir()
	paths, err := NewWriter(dir).Write(testBatch(), FormatBoth)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("got %d paths, want 2", len(paths))
	}
	if !strings.HasSuffix(paths[0], ".csv") || !strings.HasSuffix(paths[1], ".json") {
		t.Fatalf("unexpected paths: %v", paths)
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"csv", "json", "both"} {
		if _, err := ParseFormat(s); err != nil {
			t.Fatalf("ParseFormat(%s): %v", s, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatal("want error for unknown format")
	}
}
