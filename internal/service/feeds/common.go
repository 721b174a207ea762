// Package feeds holds the upstream market data adapters. Adapters only
// produce ticks; they never write to the store.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vijayshreepathak/QuantAlert/internal/domain/models"
	xhttp "github.com/vijayshreepathak/QuantAlert/pkg/http"
)

// Provider names.
const (
	Yahoo        = "yahoo"
	AlphaVantage = "alphavantage"
	Finnhub      = "finnhub"
	AngelOne     = "angelone"
	Kafka        = "kafka"
	Synthetic    = "synthetic"
)

// SymbolMapper maps canonical symbols to provider symbols and back.
// Explicit entries win over the suffix rule.
type SymbolMapper struct {
	suffix  string
	toProv  map[string]string
	toCanon map[string]string
}

// NewSymbolMapper builds a mapper; explicit may be nil.
func NewSymbolMapper(suffix string, explicit map[string]string) *SymbolMapper {
	m := &SymbolMapper{
		suffix:  suffix,
		toProv:  make(map[string]string, len(explicit)),
		toCanon: make(map[string]string, len(explicit)),
	}
	for canon, prov := range explicit {
		m.toProv[canon] = prov
		m.toCanon[prov] = canon
	}
	return m
}

// ToProvider returns the provider symbol for a canonical one.
func (m *SymbolMapper) ToProvider(symbol string) string {
	if p, ok := m.toProv[symbol]; ok {
		return p
	}
	return symbol + m.suffix
}

// ToCanonical is the inverse of ToProvider.
func (m *SymbolMapper) ToCanonical(provider string) string {
	if c, ok := m.toCanon[provider]; ok {
		return c
	}
	if m.suffix != "" && strings.HasSuffix(provider, m.suffix) {
		return strings.TrimSuffix(provider, m.suffix)
	}
	return provider
}

// Freshness decides whether a provider timestamp is recent enough to emit.
type Freshness struct {
	Window time.Duration
	Now    func() time.Time
}

// NewFreshness uses the wall clock.
func NewFreshness(window time.Duration) Freshness {
	return Freshness{Window: window, Now: time.Now}
}

// Fresh reports whether ts lies within the window before now. Timestamps in
// the future beyond the window are treated as bad data.
func (f Freshness) Fresh(ts time.Time) bool {
	if ts.IsZero() {
		return false
	}
	age := f.Now().Sub(ts)
	return age <= f.Window && age >= -f.Window
}

// classifyHTTP maps an HTTP client error to the feed error taxonomy.
func classifyHTTP(provider string, err error) error {
	switch code := xhttp.StatusCode(err); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%s: status %d: %w", provider, code, models.ErrProviderUnavailable)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%s: %v: %w", provider, err, models.ErrTransientFetch)
	}
}

// ctxSleep waits d or until ctx is done.
func ctxSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
