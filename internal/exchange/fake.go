package exchange

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gridbot/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Fake is an in-memory Adapter implementation for tests, grounded on the
// teacher's internal/mock/exchange.go (map-based order book, manual event
// injection) minus the protobuf types — the wire protocol is out of scope,
// so this speaks plain structs directly.
type Fake struct {
	mu       sync.RWMutex
	orders   map[string]OpenOrder
	nextID   int64
	tick     decimal.Decimal
	step     decimal.Decimal
	lastQ    BestQuote
	lastTick Ticker

	priceSeq atomic.Value // decimal.Decimal
	balSeq   atomic.Value // decimal.Decimal
	posSeq   atomic.Value // []Position

	events chan Event
	closed chan struct{}

	rejectPlace error // force the next PlaceLimit/PlaceMarket to fail
}

// NewFake builds a Fake adapter with the given tick/step quantization.
func NewFake(tick, step decimal.Decimal) *Fake {
	f := &Fake{
		orders: make(map[string]OpenOrder),
		tick:   tick,
		step:   step,
		events: make(chan Event, 64),
		closed: make(chan struct{}),
	}
	f.priceSeq.Store(decimal.Zero)
	f.balSeq.Store(decimal.Zero)
	f.posSeq.Store([]Position{})
	return f
}

func (f *Fake) Ticker(_ context.Context, _ string) (Ticker, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastTick, nil
}

func (f *Fake) BestBidAsk(_ context.Context, _ string) (BestQuote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastQ, nil
}

// SetBestQuote lets a test control the top of book for POST_ONLY clamping.
func (f *Fake) SetBestQuote(bid, ask *decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQ = BestQuote{Bid: bid, Ask: ask}
}

func (f *Fake) RejectNextPlace(err error) { f.rejectPlace = err }

func (f *Fake) PlaceLimit(_ context.Context, symbol string, side core.Side, price, qty decimal.Decimal, tif TimeInForce) (string, error) {
	if f.rejectPlace != nil {
		err := f.rejectPlace
		f.rejectPlace = nil
		return "", err
	}
	if tif == PostOnly {
		f.mu.RLock()
		quote := f.lastQ
		f.mu.RUnlock()
		clamped, err := ClampPostOnly(price, f.tick, side, quote, false)
		if err != nil {
			return "", err
		}
		price = clamped
	}
	qp, qq := Quantize(price, qty, f.tick, f.step, side)
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("fake-%s", uuid.NewString())
	f.orders[id] = OpenOrder{OrderID: id, Symbol: symbol, Side: side, Price: qp, Qty: qq, Status: StatusOpen}
	return id, nil
}

func (f *Fake) PlaceMarket(_ context.Context, symbol string, side core.Side, qty decimal.Decimal) (string, error) {
	if f.rejectPlace != nil {
		err := f.rejectPlace
		f.rejectPlace = nil
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("fake-mkt-%d", atomic.AddInt64(&f.nextID, 1))
	_ = symbol
	_ = side
	_ = qty
	return id, nil
}

func (f *Fake) Cancel(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.orders, orderID) // unknown id: silently a no-op, per §4.1/§7
	return nil
}

func (f *Fake) ListOpen(_ context.Context, symbol string) ([]OpenOrder, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]OpenOrder, 0, len(f.orders))
	for _, o := range f.orders {
		if o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *Fake) ListPositions(_ context.Context, _ string) ([]Position, error) {
	return f.posSeq.Load().([]Position), nil
}

func (f *Fake) Flatten(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func (f *Fake) CurrentPrice() (decimal.Decimal, bool) {
	p := f.priceSeq.Load().(decimal.Decimal)
	return p, !p.IsZero()
}

func (f *Fake) CurrentBalance() (decimal.Decimal, bool) {
	b := f.balSeq.Load().(decimal.Decimal)
	return b, !b.IsZero()
}

func (f *Fake) CurrentPositions() ([]Position, bool) {
	p := f.posSeq.Load().([]Position)
	return p, len(p) > 0
}

func (f *Fake) Subscribe() <-chan Event { return f.events }

func (f *Fake) PriceTick(_ string) decimal.Decimal { return f.tick }
func (f *Fake) QtyStep(_ string) decimal.Decimal   { return f.step }

func (f *Fake) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
		close(f.events)
	}
	return nil
}

// -- Test-only injection helpers --

// PushPrice sets the streamed price and emits a ticker event.
func (f *Fake) PushPrice(p decimal.Decimal) {
	f.priceSeq.Store(p)
	f.mu.Lock()
	f.lastTick = Ticker{Price: p, At: time.Now()}
	f.mu.Unlock()
	f.emit(Event{Kind: EventTicker, Price: p, At: time.Now()})
}

// PushBalance sets the streamed balance and emits a balance event.
func (f *Fake) PushBalance(b decimal.Decimal) {
	f.balSeq.Store(b)
	f.emit(Event{Kind: EventBalance, Balance: b, At: time.Now()})
}

// PushPositions sets the streamed positions and emits a position event.
func (f *Fake) PushPositions(p []Position) {
	f.posSeq.Store(p)
	f.emit(Event{Kind: EventPositions, Positions: p, At: time.Now()})
}

// FillOrder removes an order from the book as if the exchange filled it.
func (f *Fake) FillOrder(orderID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.orders, orderID)
}

func (f *Fake) emit(e Event) {
	select {
	case f.events <- e:
	default:
	}
}
