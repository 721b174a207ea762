package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	drepo "github.com/vijayshreepathak/QuantAlert/internal/domain/repository"
	xhttp "github.com/vijayshreepathak/QuantAlert/pkg/http"
	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
)

// AngelOneConfig configures the Angel One SmartAPI LTP stream.
type AngelOneConfig struct {
	APIKey         string
	ClientCode     string
	Password       string
	TOTP           string
	LoginURL       string
	WebSocketURL   string
	Suffix         string
	SymbolMap      map[string]string
	Symbols        []string
	PollInterval   time.Duration
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	Timeout        time.Duration
	Freshness      time.Duration
}

// AngelOneFeed logs in with the client password and streams last traded prices.
// Every connection logs in again, so an expired session token is never reused.
type AngelOneFeed struct {
	*tradeStream
	cfg     AngelOneConfig
	client  *xhttp.Client
	symbols *SymbolMapper
	dialer  *websocket.Dialer
}

var _ drepo.FeedSource = (*AngelOneFeed)(nil)

func NewAngelOneFeed(cfg AngelOneConfig, metrics drepo.Metrics, lgr *logger.Logger) *AngelOneFeed {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	f := &AngelOneFeed{
		tradeStream: newTradeStream(AngelOne, cfg.ReconnectDelay, cfg.PingInterval, cfg.Freshness,
			metrics, lgr.With(logger.String("provider", AngelOne))),
		cfg:     cfg,
		client:  xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout)),
		symbols: NewSymbolMapper(cfg.Suffix, cfg.SymbolMap),
		dialer:  websocket.DefaultDialer,
	}
	f.tradeStream.dial = f.connect
	f.tradeStream.decode = f.decode
	return f
}

func (f *AngelOneFeed) Name() string                { return AngelOne }
func (f *AngelOneFeed) PollInterval() time.Duration { return f.cfg.PollInterval }

// Start logs in, subscribes every symbol and starts the reader.
func (f *AngelOneFeed) Start(ctx context.Context) error {
	if f.cfg.APIKey == "" || f.cfg.ClientCode == "" || f.cfg.Password == "" {
		return fmt.Errorf("%s: credentials not configured: %w", AngelOne, models.ErrProviderUnavailable)
	}
	return f.start(ctx)
}

type angelLoginResponse struct {
	Status    bool   `json:"status"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorcode"`
	Data      *struct {
		JWTToken  string `json:"jwtToken"`
		FeedToken string `json:"feedToken"`
	} `json:"data"`
}

// login exchanges the password for a session token. A refused login is unavailable.
func (f *AngelOneFeed) login(ctx context.Context) (string, error) {
	var body angelLoginResponse
	err := f.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    f.cfg.LoginURL,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
			"X-UserType":   "USER",
			"X-SourceID":   "WEB",
			"X-PrivateKey": f.cfg.APIKey,
		},
		Body: map[string]string{
			"clientcode": f.cfg.ClientCode,
			"password":   f.cfg.Password,
			"totp":       f.cfg.TOTP,
		},
	}, &body)
	if err != nil {
		return "", classifyHTTP(AngelOne, err)
	}
	if !body.Status || body.Data == nil || body.Data.JWTToken == "" {
		return "", fmt.Errorf("%s: login refused (%s %s): %w", AngelOne, body.ErrorCode, body.Message, models.ErrProviderUnavailable)
	}
	return body.Data.JWTToken, nil
}

func (f *AngelOneFeed) connect(ctx context.Context) (*websocket.Conn, error) {
	token, err := f.login(ctx)
	if err != nil {
		return nil, err
	}
	conn, _, err := f.dialer.DialContext(ctx, f.cfg.WebSocketURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s connect: %w", AngelOne, err)
	}

	tokens := make([]string, 0, len(f.cfg.Symbols))
	for _, s := range f.cfg.Symbols {
		tokens = append(tokens, f.symbols.ToProvider(s))
	}
	sub := map[string]any{
		"actiontype": "subscribe",
		"feedtype":   "ltp",
		"jwttoken":   token,
		"clientcode": f.cfg.ClientCode,
		"tokens":     tokens,
	}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s subscribe: %w", AngelOne, err)
	}
	f.lgr.Info("connected", logger.Int("symbols", len(tokens)))
	return conn, nil
}

type angelLTP struct {
	Symbol string          `json:"symbol"`
	LTP    decimal.Decimal `json:"ltp"`
	// LTT is the last traded time in epoch milliseconds when the stream sends it.
	LTT int64 `json:"ltt"`
}

type angelFrame struct {
	LTP     []angelLTP      `json:"ltp"`
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

// decode reads an LTP frame. Without a trade time the tick is stamped on receipt.
func (f *AngelOneFeed) decode(b []byte) []*models.Tick {
	var m angelFrame
	if err := json.Unmarshal(b, &m); err != nil {
		f.lgr.Debug("invalid frame", logger.Error(err))
		return nil
	}
	if len(m.Error) > 0 && string(m.Error) != "null" {
		f.lgr.Warn("stream error", logger.String("error", strings.Trim(string(m.Error), `"`)))
		return nil
	}
	if m.Message != "" {
		f.lgr.Debug("stream message", logger.String("message", m.Message))
	}

	out := make([]*models.Tick, 0, len(m.LTP))
	for _, d := range m.LTP {
		if d.Symbol == "" || !d.LTP.IsPositive() {
			continue
		}
		ts := f.fresh.Now()
		if d.LTT > 0 {
			ts = time.UnixMilli(d.LTT)
		}
		out = append(out, models.NewTick(f.symbols.ToCanonical(d.Symbol), d.LTP, 0, ts, AngelOne))
	}
	return out
}

// Fetch returns the latest traded price for symbol when it is fresh.
func (f *AngelOneFeed) Fetch(_ context.Context, symbol string) (*models.Tick, error) {
	return f.fetch(symbol)
}

func (f *AngelOneFeed) Close() error { return f.close() }
