package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of fractional digits kept on every price.
const PriceScale = 2

// Tick is a single normalized price observation.
type Tick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Volume    int64           `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
}

// NewTick builds a tick with the price rounded to PriceScale and the timestamp in UTC.
func NewTick(symbol string, price decimal.Decimal, volume int64, ts time.Time, source string) *Tick {
	return &Tick{
		Symbol:    symbol,
		Price:     RoundPrice(price),
		Volume:    volume,
		Timestamp: ts.UTC(),
		Source:    source,
	}
}

// RoundPrice rounds d to the fixed price scale.
func RoundPrice(d decimal.Decimal) decimal.Decimal {
	return d.Round(PriceScale)
}

// PriceFromFloat converts a provider float quote to a fixed-point price.
func PriceFromFloat(f float64) decimal.Decimal {
	return RoundPrice(decimal.NewFromFloat(f))
}

// Validate reports whether the tick is well formed.
func (t *Tick) Validate() error {
	if t == nil {
		return fmt.Errorf("tick nil")
	}
	if t.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("timestamp invalid")
	}
	if t.Price.IsNegative() || t.Volume < 0 {
		return fmt.Errorf("negative price/volume")
	}
	return nil
}

// Age returns how old the tick is relative to now.
func (t *Tick) Age(now time.Time) time.Duration {
	return now.Sub(t.Timestamp)
}
