package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is a fixed-width OHLCV bucket for one symbol.
type Candle struct {
	Bucket time.Time       `json:"bucket"`
	Symbol string          `json:"symbol"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
	Ticks  int             `json:"ticks"`
}

// NewCandle opens a bucket from its first tick.
func NewCandle(symbol string, bucket time.Time, price decimal.Decimal, volume int64) *Candle {
	return &Candle{
		Bucket: bucket,
		Symbol: symbol,
		Open:   price,
		High:   price,
		Low:    price,
		Close:  price,
		Volume: volume,
		Ticks:  1,
	}
}

// Fold applies one more tick to the bucket.
func (c *Candle) Fold(price decimal.Decimal, volume int64) {
	c.High = decimal.Max(c.High, price)
	c.Low = decimal.Min(c.Low, price)
	c.Close = price
	c.Volume += volume
	c.Ticks++
}

// End returns the exclusive end of the bucket window.
func (c *Candle) End(width time.Duration) time.Time {
	return c.Bucket.Add(width)
}
