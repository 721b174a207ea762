package feeds

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	drepo "github.com/vijayshreepathak/QuantAlert/internal/domain/repository"
	xhttp "github.com/vijayshreepathak/QuantAlert/pkg/http"
	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
)

const browserUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// YahooConfig configures the Yahoo chart adapter.
type YahooConfig struct {
	BaseURL      string
	Suffix       string
	SymbolMap    map[string]string
	PollInterval time.Duration
	Timeout      time.Duration
	Freshness    time.Duration
}

// YahooFeed polls the public chart endpoint for 1m bars.
type YahooFeed struct {
	cfg     YahooConfig
	client  *xhttp.Client
	symbols *SymbolMapper
	fresh   Freshness
	metrics drepo.Metrics
	lgr     *logger.Logger
}

var _ drepo.FeedSource = (*YahooFeed)(nil)

func NewYahooFeed(cfg YahooConfig, metrics drepo.Metrics, lgr *logger.Logger) *YahooFeed {
	return &YahooFeed{
		cfg:     cfg,
		client:  xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout), xhttp.WithUserAgent(browserUserAgent)),
		symbols: NewSymbolMapper(cfg.Suffix, cfg.SymbolMap),
		fresh:   NewFreshness(cfg.Freshness),
		metrics: metrics,
		lgr:     lgr.With(logger.String("provider", Yahoo)),
	}
}

func (f *YahooFeed) Name() string                { return Yahoo }
func (f *YahooFeed) PollInterval() time.Duration { return f.cfg.PollInterval }
func (f *YahooFeed) Start(context.Context) error { return nil }
func (f *YahooFeed) Close() error                { return nil }

type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string   `json:"symbol"`
				RegularMarketPrice *float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64    `json:"regularMarketTime"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []yahooQuote `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type yahooQuote struct {
	Close  []*float64 `json:"close"`
	Volume []*int64   `json:"volume"`
}

// lastVolume is the volume of the newest bar that reports one, else 0.
func (q yahooQuote) lastVolume() int64 {
	for i := len(q.Volume) - 1; i >= 0; i-- {
		if q.Volume[i] != nil {
			return *q.Volume[i]
		}
	}
	return 0
}

// Fetch prefers the regular market quote and falls back to the newest
// non-empty 1m bar when the quote is outside the freshness window.
func (f *YahooFeed) Fetch(ctx context.Context, symbol string) (*models.Tick, error) {
	var body yahooChart
	err := f.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    fmt.Sprintf("%s/%s", f.cfg.BaseURL, url.PathEscape(f.symbols.ToProvider(symbol))),
		QueryParams: map[string][]string{
			"interval": {"1m"},
			"range":    {"1d"},
		},
	}, &body)
	if err != nil {
		if xhttp.StatusCode(err) == 404 {
			f.lgr.Warn("unknown symbol", logger.String("symbol", symbol))
			return nil, nil
		}
		return nil, classifyHTTP(Yahoo, err)
	}
	if body.Chart.Error != nil {
		f.lgr.Warn("chart error", logger.String("symbol", symbol), logger.String("code", body.Chart.Error.Code))
		return nil, nil
	}
	if len(body.Chart.Result) == 0 {
		return nil, nil
	}
	res := body.Chart.Result[0]

	var q yahooQuote
	if len(res.Indicators.Quote) > 0 {
		q = res.Indicators.Quote[0]
	}

	// regularMarketVolume is the running day total, so the quote carries the last bar's volume.
	if p := res.Meta.RegularMarketPrice; p != nil && res.Meta.RegularMarketTime > 0 {
		ts := time.Unix(res.Meta.RegularMarketTime, 0)
		if f.fresh.Fresh(ts) {
			return models.NewTick(symbol, models.PriceFromFloat(*p), q.lastVolume(), ts, Yahoo), nil
		}
	}

	for i := len(res.Timestamp) - 1; i >= 0; i-- {
		if i >= len(q.Close) || q.Close[i] == nil {
			continue
		}
		ts := time.Unix(res.Timestamp[i], 0)
		if !f.fresh.Fresh(ts) {
			break
		}
		var vol int64
		if i < len(q.Volume) && q.Volume[i] != nil {
			vol = *q.Volume[i]
		}
		return models.NewTick(symbol, models.PriceFromFloat(*q.Close[i]), vol, ts, Yahoo), nil
	}

	f.metrics.RecordStale(Yahoo)
	f.lgr.Debug("stale quote", logger.String("symbol", symbol))
	return nil, nil
}
