package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	domrepo "github.com/vijayshreepathak/QuantAlert/internal/domain/repository"
	"github.com/vijayshreepathak/QuantAlert/internal/service/ratelimit"
	"github.com/vijayshreepathak/QuantAlert/internal/usecase"
	xhttp "github.com/vijayshreepathak/QuantAlert/pkg/http"
	xlogger "github.com/vijayshreepathak/QuantAlert/pkg/logger"
	"github.com/vijayshreepathak/QuantAlert/pkg/util"
)

// FeedStatusSource reports the orchestrator state.
type FeedStatusSource interface {
	Status() usecase.FeedStatus
}

// CandleArchive serves buckets that have aged out of memory.
type CandleArchive interface {
	QueryCandles(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error)
	Health(ctx context.Context) error
}

// ClientCounter reports connected live clients.
type ClientCounter interface {
	Clients() int
}

// Per-client budget for the read endpoints.
const (
	clientBurst     = 20
	clientPerSecond = 10
)

// MarketHandler serves the read-only market data and trigger history endpoints.
type MarketHandler struct {
	logger  *xlogger.Logger
	store   domrepo.TimeSeries
	feed    FeedStatusSource
	rules   domrepo.RuleRepository
	archive CandleArchive
	symbols []string
	rl      *ratelimit.Limiter
	live    ClientCounter
	now     func() time.Time
}

// NewMarketHandler wires the handler; archive may be nil.
func NewMarketHandler(
	logger *xlogger.Logger,
	store domrepo.TimeSeries,
	feed FeedStatusSource,
	rules domrepo.RuleRepository,
	archive CandleArchive,
	symbols []string,
	rl *ratelimit.Limiter,
) *MarketHandler {
	return &MarketHandler{
		logger:  logger,
		store:   store,
		feed:    feed,
		rules:   rules,
		archive: archive,
		symbols: symbols,
		rl:      rl,
		now:     time.Now,
	}
}

// WithLive adds the websocket client count to /health.
func (h *MarketHandler) WithLive(l ClientCounter) *MarketHandler {
	h.live = l
	return h
}

func (h *MarketHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	g := e.Group("/api/v1", h.limit)
	g.GET("/symbols", h.Symbols)
	g.GET("/feed", h.Feed)
	g.GET("/price/:symbol", h.Price)
	g.GET("/ohlcv/:symbol", h.OHLCV)
	g.GET("/rules/:id/triggers", h.Triggers)
}

func (h *MarketHandler) limit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.rl != nil && !h.rl.Allow(c.RealIP(), clientBurst, clientPerSecond) {
			h.logger.Warn("api rate limited", xlogger.String("remote", c.RealIP()))
			return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limited")
		}
		return next(c)
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	Provider string `json:"provider"`
	Fallback bool   `json:"synthetic_fallback"`
	Archive  string `json:"archive,omitempty"`
	Clients  int    `json:"websocket_connections"`
}

// Health reports the active provider; an unreachable archive degrades it.
func (h *MarketHandler) Health(c echo.Context) error {
	st := h.feed.Status()
	res := healthResponse{Status: "ok", Provider: st.Active, Fallback: st.Fallback}
	if h.live != nil {
		res.Clients = h.live.Clients()
	}
	if h.archive != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		res.Archive = "ok"
		if err := h.archive.Health(ctx); err != nil {
			h.logger.Warn("archive health", xlogger.Error(err))
			res.Status, res.Archive = "degraded", "unavailable"
		}
	}
	return xhttp.SuccessResponse(c, res)
}

// Symbols lists configured symbols plus any seen on the feed.
func (h *MarketHandler) Symbols(c echo.Context) error {
	set := make(map[string]struct{}, len(h.symbols))
	for _, s := range h.symbols {
		set[s] = struct{}{}
	}
	for _, s := range h.store.KnownSymbols() {
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return xhttp.ListResponse(c, out, int64(len(out)))
}

func (h *MarketHandler) Feed(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.feed.Status())
}

func (h *MarketHandler) Price(c echo.Context) error {
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sym := strings.ToUpper(req.Symbol)
	t, ok := h.store.Latest(sym)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no price for %s", sym).WithParam("symbol", sym))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, t)
}

// OHLCV returns buckets from the last N minutes, most recent first. The
// archive is consulted when memory holds nothing for the window.
func (h *MarketHandler) OHLCV(c echo.Context) error {
	req := &models.OHLCVRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sym := strings.ToUpper(req.Symbol)

	rows := h.store.RecentBuckets(sym, req.Minutes)
	if len(rows) == 0 && h.archive != nil {
		now := h.now().UTC()
		from, to := util.AlignFromTo(now.Add(-time.Duration(req.Minutes)*time.Minute), now, "1m")
		archived, err := h.archive.QueryCandles(c.Request().Context(), sym, from, to)
		if err != nil {
			h.logger.Error("ohlcv archive query", xlogger.String("symbol", sym), xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.InternalError("archive unavailable").WithError(err))
		}
		for i, j := 0, len(archived)-1; i < j; i, j = i+1, j-1 {
			archived[i], archived[j] = archived[j], archived[i]
		}
		rows = archived
	}
	if rows == nil {
		rows = []models.Candle{}
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// Triggers returns the firing history of one rule, newest first.
func (h *MarketHandler) Triggers(c echo.Context) error {
	req := &models.TriggerHistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.rules.ListTriggers(c.Request().Context(), req.RuleID, req.Limit)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("rule %d not found", req.RuleID).WithParam("rule_id", req.RuleID))
	case err != nil:
		h.logger.Error("list triggers", xlogger.Int64("rule_id", req.RuleID), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("trigger history unavailable").WithError(err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}
