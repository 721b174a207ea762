package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	drepo "github.com/vijayshreepathak/QuantAlert/internal/domain/repository"
	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
)

// FinnhubConfig configures the Finnhub trade stream.
type FinnhubConfig struct {
	APIKey         string
	WebSocketURL   string
	SymbolMap      map[string]string
	Symbols        []string
	PollInterval   time.Duration
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	Freshness      time.Duration
}

// FinnhubFeed keeps the latest trade per symbol from the websocket stream;
// Fetch reads from that cache.
type FinnhubFeed struct {
	*tradeStream
	cfg     FinnhubConfig
	symbols *SymbolMapper
	dialer  *websocket.Dialer
}

var _ drepo.FeedSource = (*FinnhubFeed)(nil)

func NewFinnhubFeed(cfg FinnhubConfig, metrics drepo.Metrics, lgr *logger.Logger) *FinnhubFeed {
	f := &FinnhubFeed{
		tradeStream: newTradeStream(Finnhub, cfg.ReconnectDelay, cfg.PingInterval, cfg.Freshness,
			metrics, lgr.With(logger.String("provider", Finnhub))),
		cfg:     cfg,
		symbols: NewSymbolMapper("", cfg.SymbolMap),
		dialer:  websocket.DefaultDialer,
	}
	f.tradeStream.dial = f.connect
	f.tradeStream.decode = f.decode
	return f
}

func (f *FinnhubFeed) Name() string                { return Finnhub }
func (f *FinnhubFeed) PollInterval() time.Duration { return f.cfg.PollInterval }

// Start connects, subscribes every symbol and starts the reader.
func (f *FinnhubFeed) Start(ctx context.Context) error {
	if f.cfg.APIKey == "" {
		return fmt.Errorf("%s: api key not configured: %w", Finnhub, models.ErrProviderUnavailable)
	}
	return f.start(ctx)
}

func (f *FinnhubFeed) connect(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(f.cfg.WebSocketURL)
	if err != nil {
		return nil, fmt.Errorf("%s: websocket url: %w", Finnhub, err)
	}
	q := u.Query()
	q.Set("token", f.cfg.APIKey)
	u.RawQuery = q.Encode()

	conn, resp, err := f.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%s: status %d: %w", Finnhub, resp.StatusCode, models.ErrProviderUnavailable)
		}
		return nil, fmt.Errorf("%s connect: %w", Finnhub, err)
	}
	for _, s := range f.cfg.Symbols {
		msg := map[string]string{"type": "subscribe", "symbol": f.symbols.ToProvider(s)}
		if err := conn.WriteJSON(msg); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("subscribe %s: %w", s, err)
		}
	}
	f.lgr.Info("connected", logger.Int("symbols", len(f.cfg.Symbols)))
	return conn, nil
}

type fhTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type fhMessage struct {
	Type string    `json:"type"`
	Data []fhTrade `json:"data"`
}

func (f *FinnhubFeed) decode(b []byte) []*models.Tick {
	var m fhMessage
	if err := json.Unmarshal(b, &m); err != nil || m.Type != "trade" {
		return nil
	}
	out := make([]*models.Tick, 0, len(m.Data))
	for _, d := range m.Data {
		sym := f.symbols.ToCanonical(d.S)
		out = append(out, models.NewTick(sym, models.PriceFromFloat(d.P), int64(d.V), time.UnixMilli(d.T), Finnhub))
	}
	return out
}

// Fetch returns the latest trade for symbol when it is fresh.
func (f *FinnhubFeed) Fetch(_ context.Context, symbol string) (*models.Tick, error) {
	return f.fetch(symbol)
}

func (f *FinnhubFeed) Close() error { return f.close() }
