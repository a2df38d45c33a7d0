package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"TrendScan/internal/domain/models"
	drepo "TrendScan/internal/domain/repository"
	"TrendScan/internal/service/ratelimit"
	applogger "TrendScan/pkg/logger"
	"TrendScan/pkg/util"
)

// Client fetches OHLC candles from the price source REST API. It implements
// repository.BarSource with rate limiting and bounded retry.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	ratePerSec float64
	rateBurst  float64
	maxRetries int
	backoff    time.Duration
	l          *applogger.Logger
}

type Option func(*Client)

// WithRateLimit sets the request budget (tokens per second, burst capacity).
func WithRateLimit(perSec, burst float64) Option {
	return func(c *Client) {
		c.ratePerSec = perSec
		c.rateBurst = burst
	}
}

// WithRetry sets retry attempts and base backoff.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.backoff = backoff
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithLogger injects a structured logger.
func WithLogger(l *applogger.Logger) Option {
	return func(c *Client) {
		c.l = l
	}
}

// New creates a candle REST client.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    ratelimit.New(),
		ratePerSec: 5,
		rateBurst:  10,
		maxRetries: 3,
		backoff:    500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// candleResponse is the column-oriented payload of the candle endpoint.
type candleResponse struct {
	Status  string    `json:"s"`
	Times   []int64   `json:"t"`
	Opens   []float64 `json:"o"`
	Highs   []float64 `json:"h"`
	Lows    []float64 `json:"l"`
	Closes  []float64 `json:"c"`
	Volumes []float64 `json:"v"`
}

// FetchBars fetches candles for [from, to], oldest first. A persistent
// failure after all retries is wrapped in DataFetchError scoped to symbol.
func (c *Client) FetchBars(ctx context.Context, symbol string, tf drepo.Timeframe, from, to time.Time) ([]models.Bar, error) {
	if err := c.limiter.Wait(ctx, "candles", c.rateBurst, c.ratePerSec); err != nil {
		return nil, &models.DataFetchError{Symbol: symbol, Err: err}
	}
	// aligned windows keep the source from returning partial edge bars
	from, to = util.AlignFromTo(from, to, string(tf))

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// exponential backoff: base * 2^(attempt-1)
			delay := c.backoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, &models.DataFetchError{Symbol: symbol, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		bars, retryable, err := c.fetchOnce(ctx, symbol, tf, from, to)
		if err == nil {
			return bars, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		if c.l != nil {
			c.l.Warn("candle fetch retry",
				applogger.String("symbol", symbol),
				applogger.Int("attempt", attempt+1),
				applogger.Error(err),
			)
		}
	}
	return nil, &models.DataFetchError{Symbol: symbol, Err: lastErr}
}

func (c *Client) fetchOnce(ctx context.Context, symbol string, tf drepo.Timeframe, from, to time.Time) (bars []models.Bar, retryable bool, err error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("resolution", resolutionFor(tf))
	q.Set("from", strconv.FormatInt(from.Unix(), 10))
	q.Set("to", strconv.FormatInt(to.Unix(), 10))
	if c.apiKey != "" {
		q.Set("token", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/candle?"+q.Encode(), nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, fmt.Errorf("rate limited (429)")
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, false, fmt.Errorf("auth rejected (%d)", resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("server error (%d)", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("unexpected status (%d)", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read body: %w", err)
	}

	var cr candleResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, false, fmt.Errorf("parse candles: %w", err)
	}
	if cr.Status != "ok" {
		return nil, false, fmt.Errorf("no data (status=%s)", cr.Status)
	}

	n := len(cr.Times)
	if len(cr.Opens) != n || len(cr.Highs) != n || len(cr.Lows) != n || len(cr.Closes) != n || len(cr.Volumes) != n {
		return nil, false, fmt.Errorf("ragged candle arrays")
	}

	bars = make([]models.Bar, 0, n)
	for i := 0; i < n; i++ {
		b := models.Bar{
			Symbol:    symbol,
			Timeframe: string(tf),
			Timestamp: time.Unix(cr.Times[i], 0).UTC(),
			Open:      cr.Opens[i],
			High:      cr.Highs[i],
			Low:       cr.Lows[i],
			Close:     cr.Closes[i],
			Volume:    cr.Volumes[i],
		}
		// drop malformed rows rather than failing the whole fetch
		if !b.IsValid() {
			continue
		}
		bars = append(bars, b)
	}
	return bars, false, nil
}

// Health checks source reachability.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ping", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("source unhealthy (%d)", resp.StatusCode)
	}
	return nil
}

func resolutionFor(tf drepo.Timeframe) string {
	switch tf {
	case drepo.TF1d:
		return "D"
	case drepo.TF4h:
		return "240"
	case drepo.TF1h:
		return "60"
	case drepo.TF15m:
		return "15"
	default:
		return "D"
	}
}

var _ drepo.BarSource = (*Client)(nil)
