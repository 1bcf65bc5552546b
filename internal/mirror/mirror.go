// Package mirror implements the LocalMirror (§4.4): the bot's view of its
// own outstanding orders, reconciled periodically against the adapter's
// authoritative open-order snapshot. Grounded on the cache-then-reconcile
// shape of the teacher's internal/risk/reconciler.go, replacing its
// fill-vs-exchange-state diffing with the mirror's buy/sell price->id maps.
package mirror

import (
	"context"
	"sort"

	"gridbot/internal/core"
	"gridbot/internal/exchange"
	"gridbot/internal/telemetry"

	"github.com/shopspring/decimal"
)

// Mirror holds the bot-placed orders the controller believes are resting,
// keyed by side and quantized price. Mutated only by the controller task
// (§5 shared-resource policy); no internal locking.
type Mirror struct {
	buys  map[string]string // price.String() -> order id
	sells map[string]string

	// placed tracks every order id this process itself submitted, across
	// rebuilds, so Rebuild can tell a bot rung from an unmanaged one even
	// though the authoritative snapshot carries no such distinction.
	placed map[string]struct{}

	lastSnapshot []exchange.OpenOrder
	symbol       string
}

// New builds an empty Mirror for symbol.
func New(symbol string) *Mirror {
	return &Mirror{
		buys:   make(map[string]string),
		sells:  make(map[string]string),
		placed: make(map[string]struct{}),
		symbol: symbol,
	}
}

func priceKey(p decimal.Decimal) string { return p.String() }

// Record adds or overwrites a rung's order id.
func (m *Mirror) Record(side core.Side, price decimal.Decimal, orderID string) {
	if side == core.Buy {
		m.buys[priceKey(price)] = orderID
	} else {
		m.sells[priceKey(price)] = orderID
	}
	m.placed[orderID] = struct{}{}
}

// Remove drops a rung, if present, by price.
func (m *Mirror) Remove(side core.Side, price decimal.Decimal) {
	if side == core.Buy {
		delete(m.buys, priceKey(price))
	} else {
		delete(m.sells, priceKey(price))
	}
}

// RemoveID drops any rung (either side) carrying this order id.
func (m *Mirror) RemoveID(orderID string) {
	for k, v := range m.buys {
		if v == orderID {
			delete(m.buys, k)
		}
	}
	for k, v := range m.sells {
		if v == orderID {
			delete(m.sells, k)
		}
	}
}

// BuyPrices returns the mirror's current BUY rung prices, ascending.
func (m *Mirror) BuyPrices() []decimal.Decimal { return sortedKeys(m.buys) }

// SellPrices returns the mirror's current SELL rung prices, ascending.
func (m *Mirror) SellPrices() []decimal.Decimal { return sortedKeys(m.sells) }

func sortedKeys(set map[string]string) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(set))
	for k := range set {
		d, err := decimal.NewFromString(k)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LessThan(out[j]) })
	return out
}

// OrderIDAt returns the order id resting at price on side, if any.
func (m *Mirror) OrderIDAt(side core.Side, price decimal.Decimal) (string, bool) {
	var set map[string]string
	if side == core.Buy {
		set = m.buys
	} else {
		set = m.sells
	}
	id, ok := set[priceKey(price)]
	return id, ok
}

// Len returns (|buys|, |sells|).
func (m *Mirror) Len() (int, int) { return len(m.buys), len(m.sells) }

// Clear empties the mirror and the cached snapshot (periodic maintenance,
// §4.6 step 1). The placed-id set survives: it records what this process
// has ever submitted, independent of the current rung layout.
func (m *Mirror) Clear() {
	m.buys = make(map[string]string)
	m.sells = make(map[string]string)
	m.lastSnapshot = nil
}

// Rebuild fully reassigns the mirror from an authoritative snapshot (§4.4):
// every OPEN order this process placed is re-keyed by (side, price),
// discarding prior entries.
func (m *Mirror) Rebuild(snapshot []exchange.OpenOrder) {
	newBuys := make(map[string]string)
	newSells := make(map[string]string)
	for _, o := range snapshot {
		if _, ok := m.placed[o.OrderID]; !ok {
			continue
		}
		if o.Side == core.Buy {
			newBuys[priceKey(o.Price)] = o.OrderID
		} else {
			newSells[priceKey(o.Price)] = o.OrderID
		}
	}
	m.buys = newBuys
	m.sells = newSells
	m.lastSnapshot = snapshot
}

// SetSnapshot caches the latest list_open result for the current loop
// without rebuilding the mirror (§4.4: "cache is the sole source for the
// current loop").
func (m *Mirror) SetSnapshot(snapshot []exchange.OpenOrder) { m.lastSnapshot = snapshot }

// Snapshot returns the cached open-order list.
func (m *Mirror) Snapshot() []exchange.OpenOrder { return m.lastSnapshot }

// DetectFills compares the mirror's ids against the cached snapshot's ids:
// any mirror id missing from the snapshot is treated as filled or vanished
// (§4.4) and removed from the mirror. Returns the filled prices split by side.
func (m *Mirror) DetectFills(ctx context.Context) (filledBuys, filledSells []decimal.Decimal) {
	present := make(map[string]struct{}, len(m.lastSnapshot))
	for _, o := range m.lastSnapshot {
		present[o.OrderID] = struct{}{}
	}

	for priceStr, id := range m.buys {
		if _, ok := present[id]; !ok {
			if p, err := decimal.NewFromString(priceStr); err == nil {
				filledBuys = append(filledBuys, p)
			}
			delete(m.buys, priceStr)
		}
	}
	for priceStr, id := range m.sells {
		if _, ok := present[id]; !ok {
			if p, err := decimal.NewFromString(priceStr); err == nil {
				filledSells = append(filledSells, p)
			}
			delete(m.sells, priceStr)
		}
	}

	total := int64(len(filledBuys) + len(filledSells))
	if total > 0 {
		telemetry.IncFills(ctx, m.symbol, total)
	}
	return filledBuys, filledSells
}

// Unmanaged returns the OPEN orders in the cached snapshot that this
// process never placed (unknown ids from prior runs, manual orders, §4.4).
func (m *Mirror) Unmanaged() []exchange.OpenOrder {
	var out []exchange.OpenOrder
	for _, o := range m.lastSnapshot {
		if o.Status != exchange.StatusOpen {
			continue
		}
		if _, ok := m.placed[o.OrderID]; !ok {
			out = append(out, o)
		}
	}
	return out
}
