package api

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"

	"TrendScan/internal/domain/models"
	drepo "TrendScan/internal/domain/repository"
	pkghttp "TrendScan/pkg/http"
	"TrendScan/pkg/logger"
	"TrendScan/pkg/util"
)

// batchReader is the reduced read surface the fallback tier also offers.
type batchReader interface {
	LatestBatch(ctx context.Context) (*models.IngestionBatch, error)
}

// OpsHandler serves the operational read API: health, the latest committed
// batch and last-known prices. When the primary tier is down the handler
// answers from the fallback snapshot.
type OpsHandler struct {
	primary   drepo.SignalStore
	analytics drepo.AnalyticsStore
	fallback  drepo.FallbackStore
	fbReader  batchReader
	log       *logger.Logger
}

func NewOpsHandler(primary drepo.SignalStore, analytics drepo.AnalyticsStore, fallback drepo.FallbackStore, log *logger.Logger) *OpsHandler {
	h := &OpsHandler{primary: primary, analytics: analytics, fallback: fallback, log: log}
	if r, ok := fallback.(batchReader); ok {
		h.fbReader = r
	}
	return h
}

// RegisterRoutes implements pkghttp.Handler.
func (h *OpsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	e.GET("/api/batch/latest", h.LatestBatch)
	e.GET("/api/price/:symbol", h.LatestPrice)
}

// Health reports per-tier reachability. 200 while the primary tier is up,
// 503 once only degraded tiers remain.
func (h *OpsHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	tiers := map[string]string{}
	primaryUp := false
	if err := h.primary.Health(ctx); err != nil {
		tiers["primary"] = err.Error()
	} else {
		tiers["primary"] = "ok"
		primaryUp = true
	}
	if h.analytics != nil {
		if err := h.analytics.Health(ctx); err != nil {
			tiers["analytics"] = err.Error()
		} else {
			tiers["analytics"] = "ok"
		}
	}

	if !primaryUp {
		return pkghttp.ServiceUnavailableResponse(c, tiers)
	}
	return pkghttp.SuccessResponse(c, tiers)
}

// LatestBatch returns the most recently committed batch, falling back to
// the Redis snapshot when the primary store is unreachable.
func (h *OpsHandler) LatestBatch(c echo.Context) error {
	ctx := c.Request().Context()

	batch, err := h.primary.LatestBatch(ctx)
	if err != nil {
		h.log.Warn("latest batch from primary failed, trying fallback", logger.Error(err))
		if h.fbReader != nil {
			if snap, ferr := h.fbReader.LatestBatch(ctx); ferr == nil && snap != nil {
				return pkghttp.SuccessResponse(c, snap)
			}
		}
		return pkghttp.AppErrorResponse(c, pkghttp.UnavailableError("no storage tier reachable").WithError(err))
	}
	if batch == nil {
		return pkghttp.AppErrorResponse(c, pkghttp.NotFoundError("no batch committed yet"))
	}
	if limit := util.ParseIntDefault(c.QueryParam("limit"), 0); limit > 0 && limit < len(batch.Records) {
		batch.Records = batch.Records[:limit]
	}
	return pkghttp.SuccessResponse(c, batch)
}

// LatestPrice serves the last known price for a symbol from the fallback
// tier, which the live feed keeps fresh.
func (h *OpsHandler) LatestPrice(c echo.Context) error {
	symbol := c.Param("symbol")
	if symbol == "" {
		return pkghttp.AppErrorResponse(c, pkghttp.BadRequestErrorf("symbol is required"))
	}
	if h.fallback == nil {
		return pkghttp.AppErrorResponse(c, pkghttp.UnavailableError("fallback tier not configured"))
	}

	price, err := h.fallback.LatestPrice(c.Request().Context(), symbol)
	if err != nil {
		return pkghttp.AppErrorResponse(c, pkghttp.NotFoundError("no recent price for "+symbol))
	}
	return pkghttp.SuccessResponse(c, map[string]interface{}{
		"symbol": symbol,
		"price":  price,
	})
}
