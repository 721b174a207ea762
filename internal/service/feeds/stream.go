package feeds

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	drepo "github.com/vijayshreepathak/QuantAlert/internal/domain/repository"
	"github.com/vijayshreepathak/QuantAlert/pkg/logger"
)

// tradeStream is the reconnecting websocket reader behind the streaming adapters.
// It keeps the newest tick per symbol and Fetch reads from that cache.
type tradeStream struct {
	provider       string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	fresh          Freshness
	metrics        drepo.Metrics
	lgr            *logger.Logger

	// dial opens a subscribed connection; ErrProviderUnavailable stops reconnecting.
	dial func(ctx context.Context) (*websocket.Conn, error)
	// decode turns one frame into ticks; frames it does not understand yield none.
	decode func(b []byte) []*models.Tick

	mu      sync.RWMutex
	latest  map[string]*models.Tick
	authErr error

	writeMu sync.Mutex
	conn    *websocket.Conn

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newTradeStream(provider string, reconnectDelay, pingInterval, freshness time.Duration, metrics drepo.Metrics, lgr *logger.Logger) *tradeStream {
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &tradeStream{
		provider:       provider,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		fresh:          NewFreshness(freshness),
		metrics:        metrics,
		lgr:            lgr,
		latest:         make(map[string]*models.Tick),
	}
}

// start dials once and runs the reader and pinger until close.
func (s *tradeStream) start(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	s.setConn(conn)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(2)
	go s.readLoop(runCtx)
	go s.pingLoop(runCtx)
	return nil
}

func (s *tradeStream) readLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn := s.getConn()
		if conn == nil {
			return
		}
		_, b, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.lgr.Warn("read failed, reconnecting", logger.Error(err))
			if !s.reconnect(ctx) {
				return
			}
			continue
		}
		s.apply(b)
	}
}

// apply stores the newest tick per symbol from one frame.
func (s *tradeStream) apply(b []byte) {
	ticks := s.decode(b)
	if len(ticks) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range ticks {
		if prev, ok := s.latest[t.Symbol]; ok && prev.Timestamp.After(t.Timestamp) {
			continue
		}
		s.latest[t.Symbol] = t
	}
}

func (s *tradeStream) reconnect(ctx context.Context) bool {
	_ = s.swapConn(nil)
	for {
		if err := ctxSleep(ctx, s.reconnectDelay); err != nil {
			return false
		}
		conn, err := s.dial(ctx)
		if err == nil {
			s.setConn(conn)
			return true
		}
		if errors.Is(err, models.ErrProviderUnavailable) {
			s.mu.Lock()
			s.authErr = err
			s.mu.Unlock()
			s.lgr.Error("reconnect rejected", logger.Error(err))
			return false
		}
		s.lgr.Warn("reconnect failed", logger.Error(err))
	}
}

func (s *tradeStream) pingLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			if s.conn != nil {
				_ = s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
			s.writeMu.Unlock()
		}
	}
}

// fetch returns the cached tick for symbol when it is fresh, or the error that ended the stream.
func (s *tradeStream) fetch(symbol string) (*models.Tick, error) {
	s.mu.RLock()
	authErr := s.authErr
	t, ok := s.latest[symbol]
	s.mu.RUnlock()

	if authErr != nil {
		return nil, authErr
	}
	if !ok {
		return nil, nil
	}
	if !s.fresh.Fresh(t.Timestamp) {
		s.metrics.RecordStale(s.provider)
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *tradeStream) close() error {
	if s.cancel != nil {
		s.cancel()
	}
	err := s.swapConn(nil)
	s.wg.Wait()
	return err
}

func (s *tradeStream) getConn() *websocket.Conn {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn
}

func (s *tradeStream) setConn(c *websocket.Conn) {
	s.writeMu.Lock()
	s.conn = c
	s.writeMu.Unlock()
}

// swapConn replaces the connection and closes the previous one.
func (s *tradeStream) swapConn(c *websocket.Conn) error {
	s.writeMu.Lock()
	old := s.conn
	s.conn = c
	s.writeMu.Unlock()
	if old != nil {
		return old.Close()
	}
	return nil
}
