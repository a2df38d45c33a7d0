package server

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TrendScan/internal/scanner"
	"TrendScan/internal/service/maintenance"
	"TrendScan/internal/service/marketfeed"
	"TrendScan/pkg/config"
	xhttp "TrendScan/pkg/http"
	applogger "TrendScan/pkg/logger"
	"TrendScan/pkg/queue"
)

// App runs the serve-mode daemon: the ops HTTP server, the periodic scan
// loop, the optional live feed collector and the retention queue.
type App struct {
	cfg       *config.Config
	scan      *scanner.Scanner
	handler   xhttp.Handler
	feed      *marketfeed.Collector
	retention *queue.RedisQueue
	l         *applogger.Logger

	httpServer *xhttp.Server
	closers    []io.Closer
}

// New creates the daemon. feed and retention may be nil when disabled.
func New(
	cfg *config.Config,
	scan *scanner.Scanner,
	handler xhttp.Handler,
	feed *marketfeed.Collector,
	retention *queue.RedisQueue,
	l *applogger.Logger,
) *App {
	return &App{
		cfg:       cfg,
		scan:      scan,
		handler:   handler,
		feed:      feed,
		retention: retention,
		l:         l,
	}
}

// AddCloser registers an infrastructure client to close on shutdown.
func (a *App) AddCloser(c io.Closer) { a.closers = append(a.closers, c) }

// Run starts all services and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(a.l),
	)
	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		return err
	}

	if a.feed != nil {
		if err := a.feed.Start(ctx); err != nil {
			a.l.Warn("feed collector start failed, continuing without live prices",
				applogger.Error(err))
		} else {
			a.l.Info("feed collector started",
				applogger.Strings("symbols", a.cfg.Scanner.Symbols))
		}
	}

	if a.retention != nil {
		if err := a.retention.Start(); err != nil {
			a.l.Warn("retention queue start failed", applogger.Error(err))
		}
	}

	go a.scanLoop(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.l.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// scanLoop runs one scan immediately and then on the configured interval.
// After each successful scan a retention sweep is enqueued.
func (a *App) scanLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Scanner.Interval)
	defer ticker.Stop()

	a.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runOnce(ctx)
		}
	}
}

func (a *App) runOnce(ctx context.Context) {
	summary, err := a.scan.Run(ctx)
	if err != nil {
		a.l.Error("scheduled scan failed", applogger.Error(err))
		return
	}
	a.l.Info("scheduled scan done",
		applogger.String("batch_id", summary.BatchID),
		applogger.Int("succeeded", summary.Succeeded),
		applogger.Int("failed", summary.Failed))

	if a.retention != nil {
		payload := maintenance.PurgePayload{Days: a.cfg.Retention.Days}
		if err := a.retention.Enqueue(ctx, maintenance.MsgTypePurge, payload); err != nil {
			a.l.Warn("retention enqueue failed", applogger.Error(err))
		}
	}
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.feed != nil {
		if err := a.feed.Shutdown(shutdownCtx); err != nil {
			a.l.Warn("feed collector stop error", applogger.Error(err))
		}
	}
	if a.retention != nil {
		if err := a.retention.Stop(shutdownCtx); err != nil {
			a.l.Warn("retention queue stop error", applogger.Error(err))
		}
	}
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
	}

	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.l.Warn("close error", applogger.Error(err))
		}
	}

	a.l.Info("shutdown complete")
	return nil
}
