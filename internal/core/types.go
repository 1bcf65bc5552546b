// Package core defines the shared vocabulary of the grid engine: sides,
// decimal rounding helpers, and the logging interface every component
// depends on instead of a concrete logger.
package core

import "github.com/shopspring/decimal"

// Side is one of the two directions an order or a position can take.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// PositionSide classifies a net position.
type PositionSide int

const (
	Flat PositionSide = iota
	Long
	Short
)

func (s PositionSide) String() string {
	switch s {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// flatEpsilon is the |net_size| threshold below which a position is FLAT (§3).
var flatEpsilon = decimal.New(1, -4) // 10^-4

// ClassifySide returns the PositionSide for a signed net size.
func ClassifySide(netSize decimal.Decimal) PositionSide {
	if netSize.Abs().LessThan(flatEpsilon) {
		return Flat
	}
	if netSize.IsPositive() {
		return Long
	}
	return Short
}

// QuantizeTick rounds a price to the nearest multiple of tick, flooring for
// BUY and ceiling for SELL so a passive order never becomes more aggressive
// than intended (§4.1).
func QuantizeTick(price, tick decimal.Decimal, side Side) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	units := price.Div(tick)
	switch side {
	case Buy:
		return units.Floor().Mul(tick)
	default:
		return units.Ceil().Mul(tick)
	}
}

// QuantizeStep rounds a quantity down to the nearest multiple of step; order
// quantities are never rounded up past what was requested.
func QuantizeStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

// PriceTolerance is the "already placed" comparison tolerance used
// throughout the planner and mirror: tick * 1.01 (§3 invariant 2, §4.5).
func PriceTolerance(tick decimal.Decimal) decimal.Decimal {
	return tick.Mul(decimal.NewFromFloat(1.01))
}

// ILogger is the structured logging interface every component consumes;
// concrete loggers (internal/logging.ZapLogger) implement it so nothing in
// the engine imports zap directly.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
