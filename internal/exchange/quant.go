package exchange

import (
	"gridbot/internal/apperrors"
	"gridbot/internal/core"

	"github.com/shopspring/decimal"
)

// Quantize applies tick/step rounding to a requested order (§4.1): price
// floors for BUY and ceils for SELL, quantity floors to the size step.
func Quantize(price, qty, tick, step decimal.Decimal, side core.Side) (decimal.Decimal, decimal.Decimal) {
	return core.QuantizeTick(price, tick, side), core.QuantizeStep(qty, step)
}

// ClampPostOnly enforces passivity for a POST_ONLY order: a BUY is clamped
// down to one tick below the best ask (if known and the requested price
// would cross it); a SELL is clamped up to one tick above the best bid.
// Recovered from original_source/ (§4 SPEC_FULL supplement): the clamp only
// ever makes the order less aggressive, never more.
func ClampPostOnly(price, tick decimal.Decimal, side core.Side, quote BestQuote, strict bool) (decimal.Decimal, error) {
	switch side {
	case core.Buy:
		if quote.Ask == nil {
			if strict {
				return price, apperrors.ErrMakerViolation
			}
			return price, nil
		}
		limit := quote.Ask.Sub(tick)
		if price.GreaterThanOrEqual(*quote.Ask) {
			return limit, nil
		}
		return price, nil
	default: // Sell
		if quote.Bid == nil {
			if strict {
				return price, apperrors.ErrMakerViolation
			}
			return price, nil
		}
		limit := quote.Bid.Add(tick)
		if price.LessThanOrEqual(*quote.Bid) {
			return limit, nil
		}
		return price, nil
	}
}
