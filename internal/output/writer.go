package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"TrendScan/internal/domain/models"
)

// Format selects the report file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatBoth Format = "both"
)

var csvHeader = []string{
	"symbol", "timeframe", "current_price", "lower_band", "upper_band",
	"signal", "potential_return", "total_return", "sharpe_ratio",
	"max_drawdown", "degree", "kstd", "lookback", "analysis_timestamp",
}

// Writer dumps a committed batch to report files in outDir.
type Writer struct {
	outDir string
}

func NewWriter(outDir string) *Writer {
	return &Writer{outDir: outDir}
}

// Write renders the batch in the requested format(s) and returns the paths
// written.
func (w *Writer) Write(batch *models.IngestionBatch, format Format) ([]string, error) {
	if err := os.MkdirAll(w.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	stamp := batch.CreatedAt.Format("20060102_150405")

	var paths []string
	if format == FormatCSV || format == FormatBoth {
		p := filepath.Join(w.outDir, fmt.Sprintf("scan_%s.csv", stamp))
		if err := w.writeCSV(p, batch.Records); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	if format == FormatJSON || format == FormatBoth {
		p := filepath.Join(w.outDir, fmt.Sprintf("scan_%s.json", stamp))
		if err := w.writeJSON(p, batch); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func (w *Writer) writeCSV(path string, records []models.ResultRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.Symbol,
			r.Timeframe,
			formatFloat(r.CurrentPrice),
			formatFloat(r.LowerBand),
			formatFloat(r.UpperBand),
			string(r.Signal),
			formatFloat(r.PotentialReturn),
			formatFloat(r.TotalReturn),
			formatFloat(r.SharpeRatio),
			formatFloat(r.MaxDrawdown),
			strconv.Itoa(r.Degree),
			formatFloat(r.KStd),
			strconv.Itoa(r.Lookback),
			r.AnalyzedAt.Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %s: %w", r.Symbol, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func (w *Writer) writeJSON(path string, batch *models.IngestionBatch) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create json: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	payload := struct {
		BatchID   string                `json:"batch_id"`
		CreatedAt time.Time             `json:"created_at"`
		Tier      string                `json:"tier"`
		Records   []models.ResultRecord `json:"records"`
	}{batch.ID, batch.CreatedAt, string(batch.Tier), batch.Records}
	if err := enc.Encode(payload); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// ParseFormat validates a format flag value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatJSON, FormatBoth:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown output format %q (want csv, json or both)", s)
	}
}
