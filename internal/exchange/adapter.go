// Package exchange defines the ExchangeAdapter contract the grid core
// consumes (spec §4.1/§6) and the normalized types every adapter
// implementation must parse incoming exchange payloads into. Per the
// reimplementation note in the spec's Design Notes, the controller never
// sees the exchange's raw response shapes — only OpenOrder/Position/Ticker.
package exchange

import (
	"context"
	"time"

	"gridbot/internal/core"

	"github.com/shopspring/decimal"
)

// TimeInForce selects order lifetime semantics for place_limit.
type TimeInForce int

const (
	GTC TimeInForce = iota
	IOC
	FOK
	PostOnly
)

// OrderStatus is the normalized status of an OpenOrder.
type OrderStatus int

const (
	StatusOpen OrderStatus = iota
	StatusPartiallyFilled
	StatusOther
)

// OpenOrder is the adapter-boundary-normalized view of one resting order,
// replacing the several dict shapes (orderId|id|order_id|clientOrderId,
// price|px|0) the original tolerated.
type OpenOrder struct {
	OrderID string
	Symbol  string
	Side    core.Side
	Price   decimal.Decimal
	Qty     decimal.Decimal
	Status  OrderStatus
}

// Position is one sub-position as reported by the adapter; PositionMonitor
// aggregates a slice of these into net size/avg entry (§3).
type Position struct {
	Symbol     string
	SignedSize decimal.Decimal
	OpenValue  decimal.Decimal // |open_value|, always non-negative
	Leverage   decimal.Decimal
}

// Ticker is a last-trade price observation.
type Ticker struct {
	Price decimal.Decimal
	At    time.Time
}

// BestQuote is a (possibly partial) top-of-book snapshot.
type BestQuote struct {
	Bid *decimal.Decimal
	Ask *decimal.Decimal
}

// EventKind distinguishes the three streams the adapter multiplexes onto
// one channel (§4.3: ticker updates, position snapshots, balance snapshots).
type EventKind int

const (
	EventTicker EventKind = iota
	EventPositions
	EventBalance
)

// Event is one message from the adapter's private-channel stream.
type Event struct {
	Kind      EventKind
	Price     decimal.Decimal // EventTicker
	Positions []Position      // EventPositions
	Balance   decimal.Decimal // EventBalance
	At        time.Time
}

// Capability flags (spec §9 Design Notes: replace hasattr-style capability
// probing with an explicit, compile-time-checkable split). The Adapter
// interface below declares both methods as well, so every Adapter satisfies
// these interfaces; nothing in the engine type-asserts for them.
type (
	// SupportsStreamPrice is implemented by adapters that push price
	// updates over a private channel rather than requiring REST polling.
	SupportsStreamPrice interface {
		CurrentPrice() (decimal.Decimal, bool)
	}
	// SupportsFlatten is implemented by adapters that can submit a single
	// closing market order sized to the current net position.
	SupportsFlatten interface {
		Flatten(ctx context.Context, symbol string) (bool, error)
	}
)

// Adapter is the full contract §4.1/§6 describes. A concrete adapter (the
// REST+WebSocket implementation in restclient/wsfeed, or the in-memory
// Fake used by tests) implements this, and with it both capability
// interfaces above.
type Adapter interface {
	// Market data.
	Ticker(ctx context.Context, symbol string) (Ticker, error)
	BestBidAsk(ctx context.Context, symbol string) (BestQuote, error)

	// Order operations.
	PlaceLimit(ctx context.Context, symbol string, side core.Side, price, qty decimal.Decimal, tif TimeInForce) (string, error)
	PlaceMarket(ctx context.Context, symbol string, side core.Side, qty decimal.Decimal) (string, error)
	Cancel(ctx context.Context, orderID string) error
	ListOpen(ctx context.Context, symbol string) ([]OpenOrder, error)
	ListPositions(ctx context.Context, symbol string) ([]Position, error)
	Flatten(ctx context.Context, symbol string) (bool, error)

	// Streamed state accessors (non-blocking; §5 "suspension points"). The
	// PositionMonitor (internal/position) consumes these to compute the
	// aggregates and latched trigger flags of §4.3; the adapter itself only
	// ever reports raw observations.
	CurrentPrice() (decimal.Decimal, bool)
	CurrentBalance() (decimal.Decimal, bool)
	CurrentPositions() ([]Position, bool)
	Subscribe() <-chan Event

	// Quantization (§4.1).
	PriceTick(symbol string) decimal.Decimal
	QtyStep(symbol string) decimal.Decimal

	Close() error
}
