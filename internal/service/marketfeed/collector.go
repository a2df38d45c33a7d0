package marketfeed

import (
	"context"
	"sync"

	drepo "TrendScan/internal/domain/repository"
	applogger "TrendScan/pkg/logger"
)

// Collector pumps live trade prices from the stream into the fallback tier
// and the last-price gauge, so degraded mode always has a recent price per
// symbol.
type Collector struct {
	stream   drepo.PriceStream
	fallback drepo.FallbackStore
	metrics  drepo.Metrics
	l        *applogger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCollector(stream drepo.PriceStream, fallback drepo.FallbackStore, m drepo.Metrics, l *applogger.Logger) *Collector {
	return &Collector{stream: stream, fallback: fallback, metrics: m, l: l}
}

// Start connects, subscribes and consumes ticks until ctx is cancelled.
// Stream errors trigger reconnects; the collector never gives up on its own.
func (c *Collector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.consume(ctx)
	return nil
}

func (c *Collector) consume(ctx context.Context) {
	defer c.wg.Done()

	ticks, errs := c.stream.Read(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			if tick == nil || tick.Price <= 0 {
				continue
			}
			if err := c.fallback.SetLatestPrice(ctx, tick.Symbol, tick.Price); err != nil {
				c.l.Warn("fallback price write failed",
					applogger.String("symbol", tick.Symbol),
					applogger.Error(err))
			}
			if c.metrics != nil {
				c.metrics.RecordLastPrice(tick.Symbol, tick.Price)
			}
		case err, ok := <-errs:
			if !ok {
				return
			}
			c.l.Warn("feed error, reconnecting", applogger.Error(err))
			if rerr := c.stream.Reconnect(ctx); rerr != nil {
				c.l.Error("feed reconnect failed", applogger.Error(rerr))
				return
			}
			if serr := c.stream.Subscribe(ctx); serr != nil {
				c.l.Error("feed resubscribe failed", applogger.Error(serr))
				return
			}
			ticks, errs = c.stream.Read(ctx)
		}
	}
}

// Shutdown stops the consumer and closes the stream.
func (c *Collector) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
	case <-done:
	}
	return c.stream.Close()
}
