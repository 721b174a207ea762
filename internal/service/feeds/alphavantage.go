package feeds

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	drepo "github.com/vijayshreepathak/QuantAlert/internal/domain/repository"
	"github.com/vijayshreepathak/QuantAlert/internal/service/ratelimit"
	xhttp "github.com/vijayshreepathak/QuantAlert/pkg/http"
	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
)

const alphaVantageBarLayout = "2006-01-02 15:04:05"

// AlphaVantageConfig configures the Alpha Vantage adapter.
type AlphaVantageConfig struct {
	APIKey            string
	BaseURL           string
	Suffix            string
	SymbolMap         map[string]string
	PollInterval      time.Duration
	RequestsPerMinute int
	Timeout           time.Duration
	Freshness         time.Duration
}

// AlphaVantageFeed reads the newest 1min intraday bar. The global quote
// endpoint only carries a trading day, so it cannot prove freshness.
type AlphaVantageFeed struct {
	cfg     AlphaVantageConfig
	client  *xhttp.Client
	limiter *ratelimit.Limiter
	symbols *SymbolMapper
	fresh   Freshness
	metrics drepo.Metrics
	lgr     *logger.Logger
}

var _ drepo.FeedSource = (*AlphaVantageFeed)(nil)

func NewAlphaVantageFeed(cfg AlphaVantageConfig, limiter *ratelimit.Limiter, metrics drepo.Metrics, lgr *logger.Logger) *AlphaVantageFeed {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 5
	}
	return &AlphaVantageFeed{
		cfg:     cfg,
		client:  xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout)),
		limiter: limiter,
		symbols: NewSymbolMapper(cfg.Suffix, cfg.SymbolMap),
		fresh:   NewFreshness(cfg.Freshness),
		metrics: metrics,
		lgr:     lgr.With(logger.String("provider", AlphaVantage)),
	}
}

func (f *AlphaVantageFeed) Name() string                { return AlphaVantage }
func (f *AlphaVantageFeed) PollInterval() time.Duration { return f.cfg.PollInterval }
func (f *AlphaVantageFeed) Close() error                { return nil }

// Start only checks the credential; an invalid key is reported by the first Fetch.
func (f *AlphaVantageFeed) Start(context.Context) error {
	if strings.TrimSpace(f.cfg.APIKey) == "" {
		return fmt.Errorf("%s: api key not configured: %w", AlphaVantage, models.ErrProviderUnavailable)
	}
	return nil
}

type avBar struct {
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

type avIntraday struct {
	Meta struct {
		TimeZone string `json:"6. Time Zone"`
	} `json:"Meta Data"`
	Series       map[string]avBar `json:"Time Series (1min)"`
	ErrorMessage string           `json:"Error Message"`
	Note         string           `json:"Note"`
	Information  string           `json:"Information"`
}

func (f *AlphaVantageFeed) Fetch(ctx context.Context, symbol string) (*models.Tick, error) {
	rpm := f.cfg.RequestsPerMinute
	if err := f.limiter.Wait(ctx, AlphaVantage, float64(rpm), ratelimit.PerMinute(rpm)); err != nil {
		return nil, err
	}

	var body avIntraday
	err := f.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    f.cfg.BaseURL,
		QueryParams: map[string][]string{
			"function": {"TIME_SERIES_INTRADAY"},
			"symbol":   {f.symbols.ToProvider(symbol)},
			"interval": {"1min"},
			"apikey":   {f.cfg.APIKey},
		},
	}, &body)
	if err != nil {
		return nil, classifyHTTP(AlphaVantage, err)
	}

	switch {
	case body.ErrorMessage != "":
		if strings.Contains(strings.ToLower(body.ErrorMessage), "apikey") {
			return nil, fmt.Errorf("%s: %s: %w", AlphaVantage, body.ErrorMessage, models.ErrProviderUnavailable)
		}
		f.lgr.Warn("api error", logger.String("symbol", symbol), logger.String("message", body.ErrorMessage))
		return nil, nil
	case body.Note != "" || body.Information != "":
		return nil, fmt.Errorf("%s: rate limited: %w", AlphaVantage, models.ErrTransientFetch)
	}

	return f.newestFreshBar(symbol, body)
}

func (f *AlphaVantageFeed) newestFreshBar(symbol string, body avIntraday) (*models.Tick, error) {
	loc := time.UTC
	if body.Meta.TimeZone != "" {
		l, err := time.LoadLocation(body.Meta.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("%s: time zone %q: %v: %w", AlphaVantage, body.Meta.TimeZone, err, models.ErrTransientFetch)
		}
		loc = l
	}

	keys := make([]string, 0, len(body.Series))
	for k := range body.Series {
		keys = append(keys, k)
	}
	// the layout sorts lexically in time order
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	for _, k := range keys {
		ts, err := time.ParseInLocation(alphaVantageBarLayout, k, loc)
		if err != nil {
			continue
		}
		if !f.fresh.Fresh(ts) {
			break
		}
		bar := body.Series[k]
		price, err := decimal.NewFromString(bar.Close)
		if err != nil {
			continue
		}
		vol, _ := strconv.ParseInt(bar.Volume, 10, 64)
		return models.NewTick(symbol, price, vol, ts, AlphaVantage), nil
	}

	f.metrics.RecordStale(AlphaVantage)
	f.lgr.Debug("no fresh bar", logger.String("symbol", symbol))
	return nil, nil
}
