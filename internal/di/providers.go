package di

import (
	"context"
	"fmt"
	"io"
	"time"

	"TrendScan/internal/backtest"
	"TrendScan/internal/channel"
	"TrendScan/internal/domain/models"
	"TrendScan/internal/domain/repository"
	"TrendScan/internal/handler/api"
	"TrendScan/internal/ingest"
	"TrendScan/internal/loader"
	"TrendScan/internal/optimize"
	internalrepo "TrendScan/internal/repository"
	"TrendScan/internal/scanner"
	"TrendScan/internal/service/maintenance"
	"TrendScan/internal/service/marketdata"
	"TrendScan/internal/service/marketfeed"
	pkgcache "TrendScan/pkg/cache"
	pkgch "TrendScan/pkg/clickhouse"
	"TrendScan/pkg/config"
	xhttp "TrendScan/pkg/http"
	pkgkafka "TrendScan/pkg/kafka"
	applogger "TrendScan/pkg/logger"
	"TrendScan/pkg/metrics"
	pkgpg "TrendScan/pkg/postgres"
	"TrendScan/pkg/queue"
	"TrendScan/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideRedisCache creates the Redis cache client.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, error) {
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisAddr(cfg.Redis.Addr),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideCacheService layers an in-memory LRU over Redis.
func ProvideCacheService(rc *pkgcache.RedisCache) pkgcache.Service {
	return pkgcache.NewLayeredCache(rc)
}

// ProvideBarCache keys bar series on top of the layered cache.
func ProvideBarCache(c pkgcache.Service) repository.BarCache {
	return internalrepo.NewBarCacheStore(c)
}

// ProvidePostgresClient creates the primary store client.
func ProvidePostgresClient(cfg *config.Config) (*pkgpg.Client, error) {
	client, err := pkgpg.NewClient(
		pkgpg.WithHost(cfg.Postgres.Host),
		pkgpg.WithPort(cfg.Postgres.Port),
		pkgpg.WithDatabase(cfg.Postgres.Database),
		pkgpg.WithCredentials(cfg.Postgres.User, cfg.Postgres.Password),
		pkgpg.WithSSLMode(cfg.Postgres.SSLMode),
		pkgpg.WithMaxConnections(cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns),
		pkgpg.WithConnLifetime(cfg.Postgres.ConnLifetime),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres client: %w", err)
	}
	return client, nil
}

// ProvideSignalStore creates the primary store and initializes its schema.
func ProvideSignalStore(pg *pkgpg.Client, l *applogger.Logger) (repository.SignalStore, error) {
	store := internalrepo.NewPGSignalStore(pg, l)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return store, nil
}

// ProvideClickHouseClient creates the analytics client, or nil when the
// analytics tier is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, pkgch.SchemaFor(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideAnalyticsStore creates the analytics tier, or nil when disabled.
func ProvideAnalyticsStore(ch *pkgch.Client, cfg *config.Config, l *applogger.Logger) repository.AnalyticsStore {
	if ch == nil {
		return nil
	}
	return internalrepo.NewCHAnalyticsStore(ch, cfg.ClickHouse.Database, l)
}

// ProvideFallbackStore creates the Redis fallback tier.
func ProvideFallbackStore(rc *pkgcache.RedisCache) repository.FallbackStore {
	return internalrepo.NewRedisFallbackStore(rc)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvidePublisher creates the batch publisher, or nil when Kafka is off.
func ProvidePublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.Publisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic)
}

// ProvideBarSource creates the external candle API client.
func ProvideBarSource(cfg *config.Config, l *applogger.Logger) repository.BarSource {
	return marketdata.New(
		cfg.DataSource.BaseURL,
		cfg.DataSource.APIKey,
		marketdata.WithRateLimit(cfg.DataSource.RatePerSec, cfg.DataSource.RateBurst),
		marketdata.WithRetry(cfg.DataSource.MaxRetries, cfg.DataSource.BackoffBase),
		marketdata.WithTimeout(cfg.DataSource.RequestTimeout),
		marketdata.WithLogger(l),
	)
}

// ProvideLoader creates the bar loader.
func ProvideLoader(
	source repository.BarSource,
	c repository.BarCache,
	store repository.SignalStore,
	m repository.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) *loader.Loader {
	return loader.New(source, c, store, l,
		loader.WithMinBars(cfg.Scanner.MinBars),
		loader.WithHistoryDays(cfg.Scanner.Days),
		loader.WithMetrics(m),
	)
}

// ProvideFitter creates the channel fitter.
func ProvideFitter(cfg *config.Config) *channel.Fitter {
	return channel.NewFitter(cfg.Channel.MaxCoefficient, cfg.Channel.BandClamp)
}

// ProvideSimulator creates the backtest simulator.
func ProvideSimulator(fitter *channel.Fitter, cfg *config.Config) *backtest.Simulator {
	costs := backtest.Costs{
		FeePct:      cfg.Backtest.FeePct,
		SlippagePct: cfg.Backtest.SlippagePct,
	}
	return backtest.New(fitter, costs, cfg.Backtest.RefitEvery)
}

// ProvideOptimizer creates the parameter optimizer.
func ProvideOptimizer(fitter *channel.Fitter, sim *backtest.Simulator, cfg *config.Config, l *applogger.Logger) *optimize.Optimizer {
	space := optimize.Space{
		DegreeMin:     cfg.Optimizer.DegreeMin,
		DegreeMax:     cfg.Optimizer.DegreeMax,
		KStdMin:       cfg.Optimizer.KStdMin,
		KStdMax:       cfg.Optimizer.KStdMax,
		LookbackMin:   cfg.Optimizer.LookbackMin,
		LookbackMax:   cfg.Optimizer.LookbackMax,
		MaxTrials:     cfg.Optimizer.MaxTrials,
		MaxSaneReturn: cfg.Optimizer.MaxSaneReturn,
	}
	defaults := models.Params{
		Degree:   cfg.Channel.Degree,
		KStd:     cfg.Channel.KStd,
		Lookback: cfg.Channel.Lookback,
	}
	return optimize.New(fitter, sim, space, defaults, l)
}

// ProvidePipeline creates the ingestion pipeline.
func ProvidePipeline(
	cfg *config.Config,
	primary repository.SignalStore,
	analytics repository.AnalyticsStore,
	fallback repository.FallbackStore,
	publisher repository.Publisher,
	m repository.Metrics,
	l *applogger.Logger,
) *ingest.Pipeline {
	opts := []ingest.Option{
		ingest.WithFallback(fallback),
		ingest.WithMetrics(m),
	}
	if analytics != nil {
		opts = append(opts, ingest.WithAnalytics(analytics))
	}
	if publisher != nil {
		opts = append(opts, ingest.WithPublisher(publisher))
	}
	return ingest.New(primary, cfg.RecordValidator(), l, opts...)
}

// ProvideScanner creates the scan orchestrator.
func ProvideScanner(
	cfg *config.Config,
	ld *loader.Loader,
	fitter *channel.Fitter,
	opt *optimize.Optimizer,
	sim *backtest.Simulator,
	pipe *ingest.Pipeline,
	l *applogger.Logger,
	m repository.Metrics,
) *scanner.Scanner {
	return scanner.New(cfg, ld, fitter, opt, sim, pipe, l, m)
}

// ProvideOpsHandler creates the ops HTTP handler.
func ProvideOpsHandler(
	primary repository.SignalStore,
	analytics repository.AnalyticsStore,
	fallback repository.FallbackStore,
	l *applogger.Logger,
) xhttp.Handler {
	return api.NewOpsHandler(primary, analytics, fallback, l)
}

// ProvideFeedCollector creates the live feed collector, or nil when the
// feed is disabled.
func ProvideFeedCollector(
	cfg *config.Config,
	fallback repository.FallbackStore,
	m repository.Metrics,
	l *applogger.Logger,
) *marketfeed.Collector {
	if !cfg.Feed.Enabled {
		return nil
	}
	stream := marketfeed.New(
		cfg.DataSource.APIKey,
		cfg.Feed.WebSocketURL,
		cfg.Scanner.Symbols,
		cfg.Feed.ReconnectDelay,
		cfg.Feed.PingInterval,
		l,
	)
	return marketfeed.NewCollector(stream, fallback, m, l)
}

// ProvideRetentionQueue creates the Redis-backed retention queue with its
// purge job registered.
func ProvideRetentionQueue(
	cfg *config.Config,
	rc *pkgcache.RedisCache,
	store repository.SignalStore,
	l *applogger.Logger,
) *queue.RedisQueue {
	job := maintenance.NewRetentionJob(store, l, cfg.Retention.Days)
	return queue.NewRedisQueue(l,
		&queue.QueueConfig{Workers: 1, RetryLimit: 3, RetryDelay: 30 * time.Second},
		rc.Client(),
		queue.ModeProducerConsumer,
		queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"),
		queue.WithJobs(job),
	)
}

// ProvideApp creates the serve-mode daemon with all closers registered.
func ProvideApp(
	cfg *config.Config,
	scan *scanner.Scanner,
	handler xhttp.Handler,
	feed *marketfeed.Collector,
	retention *queue.RedisQueue,
	l *applogger.Logger,
	pg *pkgpg.Client,
	ch *pkgch.Client,
	producer *pkgkafka.Producer,
	rc *pkgcache.RedisCache,
) *server.App {
	app := server.New(cfg, scan, handler, feed, retention, l)
	app.AddCloser(pg)
	if ch != nil {
		app.AddCloser(ch)
	}
	if producer != nil {
		app.AddCloser(producer)
	}
	app.AddCloser(rc)
	return app
}

// Runtime bundles the one-shot scan dependencies plus their closers.
type Runtime struct {
	Cfg     *config.Config
	Log     *applogger.Logger
	Scanner *scanner.Scanner
	Store   repository.SignalStore

	closers []io.Closer
}

// ProvideRuntime assembles the one-shot runtime.
func ProvideRuntime(
	cfg *config.Config,
	l *applogger.Logger,
	scan *scanner.Scanner,
	store repository.SignalStore,
	pg *pkgpg.Client,
	ch *pkgch.Client,
	producer *pkgkafka.Producer,
	rc *pkgcache.RedisCache,
) *Runtime {
	rt := &Runtime{Cfg: cfg, Log: l, Scanner: scan, Store: store}
	rt.closers = append(rt.closers, pg)
	if ch != nil {
		rt.closers = append(rt.closers, ch)
	}
	if producer != nil {
		rt.closers = append(rt.closers, producer)
	}
	rt.closers = append(rt.closers, rc)
	return rt
}

// Close releases all infrastructure clients.
func (r *Runtime) Close() {
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			r.Log.Warn("close error", applogger.Error(err))
		}
	}
}
