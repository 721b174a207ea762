package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Operator is a rule comparison operator.
type Operator string

const (
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
)

// EqualityTolerance is the distance under which two values compare equal with OpEqual.
var EqualityTolerance = decimal.New(1, -PriceScale)

// Valid reports whether o is a supported operator.
func (o Operator) Valid() bool {
	switch o {
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpEqual:
		return true
	default:
		return false
	}
}

// Compare applies the operator to (value, target).
func (o Operator) Compare(value, target decimal.Decimal) bool {
	switch o {
	case OpGreater:
		return value.GreaterThan(target)
	case OpGreaterEqual:
		return value.GreaterThanOrEqual(target)
	case OpLess:
		return value.LessThan(target)
	case OpLessEqual:
		return value.LessThanOrEqual(target)
	case OpEqual:
		return value.Sub(target).Abs().LessThanOrEqual(EqualityTolerance)
	default:
		return false
	}
}

// ValueSource names the value a rule compares against its target.
type ValueSource string

const (
	SourceTickPrice   ValueSource = "tick.price"
	SourceTickVolume  ValueSource = "tick.volume"
	SourceOHLCVOpen   ValueSource = "ohlcv.open"
	SourceOHLCVHigh   ValueSource = "ohlcv.high"
	SourceOHLCVLow    ValueSource = "ohlcv.low"
	SourceOHLCVClose  ValueSource = "ohlcv.close"
	SourceOHLCVVolume ValueSource = "ohlcv.volume"
)

// IsTick reports whether the value comes straight from the incoming tick.
func (s ValueSource) IsTick() bool {
	return s == SourceTickPrice || s == SourceTickVolume
}

// Valid reports whether s is a supported source.
func (s ValueSource) Valid() bool {
	switch s {
	case SourceTickPrice, SourceTickVolume,
		SourceOHLCVOpen, SourceOHLCVHigh, SourceOHLCVLow, SourceOHLCVClose, SourceOHLCVVolume:
		return true
	default:
		return false
	}
}

// FromTick extracts the value from a tick.
func (s ValueSource) FromTick(t *Tick) (decimal.Decimal, error) {
	switch s {
	case SourceTickPrice:
		return t.Price, nil
	case SourceTickVolume:
		return decimal.NewFromInt(t.Volume), nil
	default:
		return decimal.Zero, fmt.Errorf("value source %q is not a tick field", s)
	}
}

// FromCandle extracts the value from an OHLCV bucket.
func (s ValueSource) FromCandle(c *Candle) (decimal.Decimal, error) {
	switch s {
	case SourceOHLCVOpen:
		return c.Open, nil
	case SourceOHLCVHigh:
		return c.High, nil
	case SourceOHLCVLow:
		return c.Low, nil
	case SourceOHLCVClose:
		return c.Close, nil
	case SourceOHLCVVolume:
		return decimal.NewFromInt(c.Volume), nil
	default:
		return decimal.Zero, fmt.Errorf("value source %q is not an ohlcv field", s)
	}
}

// Columns maps the source onto the (data_source, column_name) pair stored by the rule tables.
func (s ValueSource) Columns() (dataSource, column string) {
	switch s {
	case SourceTickPrice:
		return "tick", "price"
	case SourceTickVolume:
		return "tick", "volume"
	case SourceOHLCVOpen:
		return "ohlcv", "open_price"
	case SourceOHLCVHigh:
		return "ohlcv", "high_price"
	case SourceOHLCVLow:
		return "ohlcv", "low_price"
	case SourceOHLCVClose:
		return "ohlcv", "close_price"
	case SourceOHLCVVolume:
		return "ohlcv", "volume"
	default:
		return "", ""
	}
}

// ParseValueSource is the inverse of Columns.
func ParseValueSource(dataSource, column string) (ValueSource, error) {
	switch dataSource {
	case "tick", "":
		switch column {
		case "price", "":
			return SourceTickPrice, nil
		case "volume":
			return SourceTickVolume, nil
		}
	case "ohlcv":
		switch column {
		case "open_price", "open":
			return SourceOHLCVOpen, nil
		case "high_price", "high":
			return SourceOHLCVHigh, nil
		case "low_price", "low":
			return SourceOHLCVLow, nil
		case "close_price", "close", "price":
			return SourceOHLCVClose, nil
		case "volume":
			return SourceOHLCVVolume, nil
		}
	}
	return "", fmt.Errorf("unsupported value source %s/%s", dataSource, column)
}

// RuleMode controls re-firing.
type RuleMode string

const (
	ModeOneShot   RuleMode = "one_shot"
	ModeRecurring RuleMode = "recurring"
)

// Rule is a user-defined alert condition bound to one symbol.
type Rule struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	Symbol          string          `json:"symbol"`
	Operator        Operator        `json:"operator"`
	Target          decimal.Decimal `json:"target"`
	Source          ValueSource     `json:"source"`
	WindowMinutes   int             `json:"window_minutes"`
	Mode            RuleMode        `json:"mode"`
	CooldownMinutes int             `json:"cooldown_minutes"`
	Active          bool            `json:"active"`
}

// Window is the OHLCV look-back window, at least one minute.
func (r *Rule) Window() time.Duration {
	if r.WindowMinutes <= 0 {
		return time.Minute
	}
	return time.Duration(r.WindowMinutes) * time.Minute
}

// Cooldown is the minimum gap between firings of a recurring rule.
func (r *Rule) Cooldown() time.Duration {
	if r.CooldownMinutes <= 0 {
		return 0
	}
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// IsOneShot reports whether the rule fires at most once.
func (r *Rule) IsOneShot() bool { return r.Mode != ModeRecurring }

// Validate checks the rule fields the evaluator relies on.
func (r *Rule) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("rule %d: symbol empty", r.ID)
	}
	if !r.Operator.Valid() {
		return fmt.Errorf("rule %d: unsupported operator %q", r.ID, r.Operator)
	}
	if !r.Source.Valid() {
		return fmt.Errorf("rule %d: unsupported value source %q", r.ID, r.Source)
	}
	if r.Mode != ModeOneShot && r.Mode != ModeRecurring {
		return fmt.Errorf("rule %d: unsupported mode %q", r.ID, r.Mode)
	}
	return nil
}

// String renders the condition, e.g. "RELIANCE tick.price > 2500".
func (r *Rule) String() string {
	return fmt.Sprintf("%s %s %s %s", r.Symbol, r.Source, r.Operator, r.Target.StringFixed(PriceScale))
}
