package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"logging"`
	Scanner struct {
		Symbols     []string      `yaml:"symbols" validate:"min=1"`
		Timeframe   string        `yaml:"timeframe" default:"1d" validate:"oneof=1d 4h 1h 15m"`
		Days        int           `yaml:"days" default:"365" validate:"gt=0,lte=720"`
		MinBars     int           `yaml:"min_bars" default:"50" validate:"gte=10"`
		MaxWorkers  int           `yaml:"max_workers" default:"4" validate:"gte=1,lte=64"`
		RunDeadline time.Duration `yaml:"run_deadline" default:"15m"`
		Interval    time.Duration `yaml:"interval" default:"1h"` // serve-mode rescan cadence
	} `yaml:"scanner"`
	Channel struct {
		Degree         int     `yaml:"degree" default:"3" validate:"gte=1,lte=10"`
		KStd           float64 `yaml:"kstd" default:"2.0" validate:"gt=0,lte=10"`
		Lookback       int     `yaml:"lookback" default:"200" validate:"gte=10"`
		BandClamp      float64 `yaml:"band_clamp" default:"2.0" validate:"gt=1"`
		MaxCoefficient float64 `yaml:"max_coefficient" default:"1e10" validate:"gt=0"`
	} `yaml:"channel"`
	Optimizer struct {
		Enabled       bool     `yaml:"enabled"`
		MaxTrials     int      `yaml:"max_trials" default:"30" validate:"gte=1,lte=200"`
		DegreeMin     int      `yaml:"degree_min" default:"2" validate:"gte=1"`
		DegreeMax     int      `yaml:"degree_max" default:"6" validate:"lte=10"`
		KStdMin       float64  `yaml:"kstd_min" default:"1.5" validate:"gt=0"`
		KStdMax       float64  `yaml:"kstd_max" default:"3.0" validate:"gt=0"`
		LookbackMin   int      `yaml:"lookback_min" default:"50" validate:"gte=10"`
		LookbackMax   int      `yaml:"lookback_max" default:"350"`
		MaxSaneReturn float64  `yaml:"max_sane_return" default:"10000"` // percent
		MajorSymbols  []string `yaml:"major_symbols"`                   // empty = optimize nothing; ["*"] = all
	} `yaml:"optimizer"`
	Backtest struct {
		FeePct      float64 `yaml:"fee_pct" default:"0.1" validate:"gte=0,lt=10"`
		SlippagePct float64 `yaml:"slippage_pct" default:"0.05" validate:"gte=0,lt=10"`
		RefitEvery  int     `yaml:"refit_every" default:"5" validate:"gte=1"`
	} `yaml:"backtest"`
	DataSource struct {
		BaseURL        string        `yaml:"base_url" validate:"required"`
		APIKey         string        `yaml:"api_key"`
		RequestTimeout time.Duration `yaml:"request_timeout" default:"30s"`
		MaxRetries     int           `yaml:"max_retries" default:"3" validate:"gte=0,lte=10"`
		BackoffBase    time.Duration `yaml:"backoff_base" default:"500ms"`
		RatePerSec     float64       `yaml:"rate_per_sec" default:"5"`
		RateBurst      float64       `yaml:"rate_burst" default:"10"`
	} `yaml:"datasource"`
	Feed struct {
		Enabled        bool          `yaml:"enabled"`
		WebSocketURL   string        `yaml:"websocket_url"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"20s"`
	} `yaml:"feed"`
	Postgres struct {
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"5432"`
		Database     string        `yaml:"database" default:"trendscan"`
		User         string        `yaml:"user" default:"trendscan"`
		Password     string        `yaml:"password"`
		SSLMode      string        `yaml:"ssl_mode" default:"disable"`
		MaxOpenConns int           `yaml:"max_open_conns" default:"10"`
		MaxIdleConns int           `yaml:"max_idle_conns" default:"5"`
		ConnLifetime time.Duration `yaml:"conn_lifetime" default:"5m"`
	} `yaml:"postgres"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"trendscan"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"trendscan"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"trendscan.batches"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"1s"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	Retention struct {
		Days          int           `yaml:"days" default:"30" validate:"gte=1"`
		CleanupPeriod time.Duration `yaml:"cleanup_period" default:"24h"`
	} `yaml:"retention"`
}

var validate = newValidator(0)

func newValidator(maxSaneReturn float64) *validator.Validate {
	if maxSaneReturn <= 0 {
		maxSaneReturn = 10000
	}
	v := validator.New()
	// symbol: uppercase alphanumerics with optional -/_ separators, 1..20 chars
	_ = v.RegisterValidation("symbol", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if len(s) == 0 || len(s) > 20 {
			return false
		}
		for _, r := range s {
			switch {
			case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			default:
				return false
			}
		}
		return true
	})
	// finite: rejects NaN and Inf float fields
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	})
	// sane_return: percent returns beyond the bound indicate a broken simulation
	_ = v.RegisterValidation("sane_return", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return math.Abs(f) <= maxSaneReturn
	})
	return v
}

// RecordValidator builds the ingest-stage record validator. The sane-return
// bound comes from the optimizer config so validation and optimization
// cannot drift apart.
func (c *Config) RecordValidator() *validator.Validate {
	return newValidator(c.Optimizer.MaxSaneReturn)
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATASOURCE_API_KEY"); v != "" {
		c.DataSource.APIKey = v
	}
	if v := os.Getenv("DATASOURCE_BASE_URL"); v != "" {
		c.DataSource.BaseURL = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Scanner.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		c.Postgres.Host = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Postgres.Password = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Retention.Days = n
		}
	}
	if v := os.Getenv("MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Scanner.MaxWorkers = n
		}
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Optimizer.DegreeMin > c.Optimizer.DegreeMax {
		return fmt.Errorf("optimizer.degree_min %d > degree_max %d", c.Optimizer.DegreeMin, c.Optimizer.DegreeMax)
	}
	if c.Optimizer.KStdMin > c.Optimizer.KStdMax {
		return fmt.Errorf("optimizer.kstd_min %.2f > kstd_max %.2f", c.Optimizer.KStdMin, c.Optimizer.KStdMax)
	}
	if c.Optimizer.LookbackMin > c.Optimizer.LookbackMax {
		return fmt.Errorf("optimizer.lookback_min %d > lookback_max %d", c.Optimizer.LookbackMin, c.Optimizer.LookbackMax)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Feed.Enabled && c.Feed.WebSocketURL == "" {
		return fmt.Errorf("feed.websocket_url is required when feed is enabled")
	}
	return nil
}

// OptimizeSymbol reports whether the optimizer should run for symbol.
func (c *Config) OptimizeSymbol(symbol string) bool {
	if !c.Optimizer.Enabled {
		return false
	}
	for _, s := range c.Optimizer.MajorSymbols {
		if s == "*" || strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}
