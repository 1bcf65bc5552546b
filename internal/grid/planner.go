// Package grid implements GridPlanner (§4.5): a pure function of
// (mid, params, mirror, mode, memo) producing the desired rung set and a
// diff against what is currently mirrored. Math helpers are adapted from
// the teacher's pkg/tradingutils/math.go (RoundPrice/CalculatePriceLevels)
// generalized from a single rolling-anchor ladder to the spec's three
// distinct lattice algorithms.
package grid

import (
	"gridbot/internal/core"
	"gridbot/internal/mirror"

	"github.com/shopspring/decimal"
)

// Params bundles the lattice constants every mode reads (§4.5/§6): L levels
// per side, step N, dead-band half-width X, and price tick τ.
type Params struct {
	LevelsPerSide int
	StepUSD       decimal.Decimal
	FirstOffset   decimal.Decimal
	Tick          decimal.Decimal
}

// boundaryEpsilon matches original_source/bot/grid_engine.py's 1e-9 nudge on
// the BOX dead-band edges so that, when a dead-band edge lands exactly on
// the N lattice, the first rung sits one N further from mid than that edge,
// not on the edge itself.
var boundaryEpsilon = decimal.New(1, -9)

// Mode selects which of the three lattice algorithms Plan runs.
type Mode int

const (
	ModeBox Mode = iota
	ModeBin
	ModeFollow
)

// Rung is one target price on one side.
type Rung struct {
	Side  core.Side
	Price decimal.Decimal
}

// Diff is the planner's output: rungs to cancel (by price/side) and rungs
// to add.
type Diff struct {
	Cancels []Rung
	Adds    []Rung
}

// Memo is the planner's carried-forward state between ticks. Only BIN mode
// uses CenterUnits; BOX and follow are stateless across ticks beyond the
// mirror itself.
type Memo struct {
	CenterUnits int64
	Seeded      bool
}

func roundUnits(v, step decimal.Decimal) int64 {
	return v.DivRound(step, 0).IntPart()
}

func unitsToPrice(units int64, step decimal.Decimal) decimal.Decimal {
	return step.Mul(decimal.NewFromInt(units))
}

func floorUnits(v, step decimal.Decimal) int64 {
	return v.Div(step).Floor().IntPart()
}

func ceilUnits(v, step decimal.Decimal) int64 {
	return v.Div(step).Ceil().IntPart()
}

// Plan dispatches to the active mode's algorithm.
func Plan(mode Mode, mid decimal.Decimal, p Params, m *mirror.Mirror, posSide core.PositionSide, memo *Memo) Diff {
	switch mode {
	case ModeBin:
		return planBin(mid, p, m, memo)
	case ModeFollow:
		return planFollow(mid, p, m)
	default:
		return planBox(mid, p, m, posSide)
	}
}

// planBox implements the absolute-lattice default mode (§4.5 "Mode BOX").
func planBox(mid decimal.Decimal, p Params, m *mirror.Mirror, posSide core.PositionSide) Diff {
	n := p.StepUSD
	x := p.FirstOffset
	tol := core.PriceTolerance(p.Tick)

	lower := mid.Sub(x).Sub(boundaryEpsilon)
	upper := mid.Add(x).Add(boundaryEpsilon)

	buyStartUnits := floorUnits(lower, n)
	sellStartUnits := ceilUnits(upper, n)

	targetBuys := make([]decimal.Decimal, 0, p.LevelsPerSide)
	for i := 0; i < p.LevelsPerSide; i++ {
		price := unitsToPrice(buyStartUnits-int64(i), n)
		if price.IsPositive() && price.LessThan(mid) {
			targetBuys = append(targetBuys, price)
		}
	}
	targetSells := make([]decimal.Decimal, 0, p.LevelsPerSide)
	for i := 0; i < p.LevelsPerSide; i++ {
		price := unitsToPrice(sellStartUnits+int64(i), n)
		if price.GreaterThan(mid) {
			targetSells = append(targetSells, price)
		}
	}

	deadBandOuter := x // a rung within X of mid is inside the dead band

	var diff Diff
	diff.Cancels = append(diff.Cancels, cancelStale(m.BuyPrices(), targetBuys, tol, mid, deadBandOuter, core.Buy)...)
	diff.Cancels = append(diff.Cancels, cancelStale(m.SellPrices(), targetSells, tol, mid, deadBandOuter, core.Sell)...)

	missingBuys := missing(m.BuyPrices(), targetBuys, tol)
	missingSells := missing(m.SellPrices(), targetSells, tol)

	closeFirstBuy := posSide == core.Short // §4.5 rule 3: SHORT starts with BUY, else SELL
	diff.Adds = interleave(missingBuys, missingSells, closeFirstBuy)

	return diff
}

// cancelStale returns the existing prices (on one side) that are neither
// near a target nor inside the dead band (§4.5 rule 1-2).
func cancelStale(existing, targets []decimal.Decimal, tol, mid, deadBandHalfWidth decimal.Decimal, side core.Side) []Rung {
	var out []Rung
	for _, e := range existing {
		if nearAny(e, targets, tol) {
			continue
		}
		if e.Sub(mid).Abs().LessThan(deadBandHalfWidth) {
			continue // inside the dead band: keep, per the dead-band clause
		}
		out = append(out, Rung{Side: side, Price: e})
	}
	return out
}

func nearAny(p decimal.Decimal, targets []decimal.Decimal, tol decimal.Decimal) bool {
	for _, t := range targets {
		if p.Sub(t).Abs().LessThanOrEqual(tol) {
			return true
		}
	}
	return false
}

// missing returns targets with no existing price within tolerance.
func missing(existing, targets []decimal.Decimal, tol decimal.Decimal) []decimal.Decimal {
	var out []decimal.Decimal
	for _, t := range targets {
		if !nearAny(t, existing, tol) {
			out = append(out, t)
		}
	}
	return out
}

// interleave combines missing BUY/SELL targets starting from the
// close-first side (§4.5 rule 3), alternating until both are exhausted.
func interleave(buys, sells []decimal.Decimal, buyFirst bool) []Rung {
	var out []Rung
	bi, si := 0, 0
	turnBuy := buyFirst
	for bi < len(buys) || si < len(sells) {
		if turnBuy {
			if bi < len(buys) {
				out = append(out, Rung{Side: core.Buy, Price: buys[bi]})
				bi++
			}
		} else {
			if si < len(sells) {
				out = append(out, Rung{Side: core.Sell, Price: sells[si]})
				si++
			}
		}
		turnBuy = !turnBuy
	}
	return out
}

// planBin implements the rolling-center mode (§4.5 "Mode BIN").
func planBin(mid decimal.Decimal, p Params, m *mirror.Mirror, memo *Memo) Diff {
	n := p.StepUSD
	centerUnits := roundUnits(mid, n)
	center := unitsToPrice(centerUnits, n)

	if !memo.Seeded {
		memo.CenterUnits = centerUnits
		memo.Seeded = true
		return seedLadder(center, p, mid)
	}

	delta := centerUnits - memo.CenterUnits
	memo.CenterUnits = centerUnits

	var diff Diff
	switch {
	case delta == 0:
		// Fill missing rungs on the current center without cancellations.
		tol := core.PriceTolerance(p.Tick)
		wantBuys, wantSells := binTargets(center, p)
		diff.Adds = append(diff.Adds, rungsFor(core.Buy, missing(m.BuyPrices(), wantBuys, tol))...)
		diff.Adds = append(diff.Adds, rungsFor(core.Sell, missing(m.SellPrices(), wantSells, tol))...)
	case delta > 0:
		for u := int64(0); u < delta; u++ {
			diff = mergeDiff(diff, slideUp(m, n, mid))
		}
	default:
		for u := int64(0); u < -delta; u++ {
			diff = mergeDiff(diff, slideDown(m, n, mid))
		}
	}
	return diff
}

func binTargets(center decimal.Decimal, p Params) (buys, sells []decimal.Decimal) {
	n := p.StepUSD
	for i := 1; i <= p.LevelsPerSide; i++ {
		buys = append(buys, center.Sub(n.Mul(decimal.NewFromInt(int64(i)))))
		sells = append(sells, center.Add(n.Mul(decimal.NewFromInt(int64(i)))))
	}
	return buys, sells
}

func seedLadder(center decimal.Decimal, p Params, mid decimal.Decimal) Diff {
	buys, sells := binTargets(center, p)
	var filteredBuys, filteredSells []decimal.Decimal
	for _, b := range buys {
		if b.LessThan(mid) {
			filteredBuys = append(filteredBuys, b)
		}
	}
	for _, s := range sells {
		if s.GreaterThan(mid) {
			filteredSells = append(filteredSells, s)
		}
	}
	return Diff{Adds: interleave(filteredBuys, filteredSells, false)}
}

func rungsFor(side core.Side, prices []decimal.Decimal) []Rung {
	out := make([]Rung, 0, len(prices))
	for _, p := range prices {
		out = append(out, Rung{Side: side, Price: p})
	}
	return out
}

func mergeDiff(a, b Diff) Diff {
	a.Cancels = append(a.Cancels, b.Cancels...)
	a.Adds = append(a.Adds, b.Adds...)
	return a
}

// slideUp handles one +N unit of center drift (§4.5 BIN, delta > 0): cancel
// the furthest BUY, add a BUY one N above the current nearest BUY, and
// append one SELL strictly further out than the current furthest SELL. No
// SELL is ever cancelled on an upward slide. The new BUY is dropped if it
// would land at or above mid: no rung ever crosses mid (§4.5 final
// paragraph).
func slideUp(m *mirror.Mirror, n, mid decimal.Decimal) Diff {
	var diff Diff
	buys := m.BuyPrices() // ascending; furthest BUY is the smallest price
	if len(buys) > 0 {
		diff.Cancels = append(diff.Cancels, Rung{Side: core.Buy, Price: buys[0]})
		nearest := buys[len(buys)-1]
		if newBuy := nearest.Add(n); newBuy.LessThan(mid) {
			diff.Adds = append(diff.Adds, Rung{Side: core.Buy, Price: newBuy})
		}
	}
	sells := m.SellPrices()
	if len(sells) > 0 {
		furthest := sells[len(sells)-1]
		diff.Adds = append(diff.Adds, Rung{Side: core.Sell, Price: furthest.Add(n)})
	}
	return diff
}

// slideDown is the symmetric counterpart for delta < 0.
func slideDown(m *mirror.Mirror, n, mid decimal.Decimal) Diff {
	var diff Diff
	sells := m.SellPrices() // ascending; furthest SELL is the largest price
	if len(sells) > 0 {
		diff.Cancels = append(diff.Cancels, Rung{Side: core.Sell, Price: sells[len(sells)-1]})
		nearest := sells[0]
		if newSell := nearest.Sub(n); newSell.GreaterThan(mid) {
			diff.Adds = append(diff.Adds, Rung{Side: core.Sell, Price: newSell})
		}
	}
	buys := m.BuyPrices()
	if len(buys) > 0 {
		furthest := buys[0]
		diff.Adds = append(diff.Adds, Rung{Side: core.Buy, Price: furthest.Sub(n)})
	}
	return diff
}

// planFollow implements the legacy anchored-follow mode (§4.5): reseed an
// empty side from mid ± (X + iN); otherwise top up each side to L by
// appending outside the outermost rung. This function only ever proposes
// additions, and no caller shifts follow-mode rungs inward: the
// max_shift_per_loop and follow_slack_steps settings are loaded into
// Config but not used.
func planFollow(mid decimal.Decimal, p Params, m *mirror.Mirror) Diff {
	var diff Diff
	n, x := p.StepUSD, p.FirstOffset

	buys := m.BuyPrices()
	if len(buys) == 0 {
		for i := 0; i < p.LevelsPerSide; i++ {
			price := mid.Sub(x).Sub(n.Mul(decimal.NewFromInt(int64(i))))
			if price.IsPositive() {
				diff.Adds = append(diff.Adds, Rung{Side: core.Buy, Price: price})
			}
		}
	} else if len(buys) < p.LevelsPerSide {
		outermost := buys[0]
		for i := len(buys); i < p.LevelsPerSide; i++ {
			outermost = outermost.Sub(n)
			diff.Adds = append(diff.Adds, Rung{Side: core.Buy, Price: outermost})
		}
	}

	sells := m.SellPrices()
	if len(sells) == 0 {
		for i := 0; i < p.LevelsPerSide; i++ {
			price := mid.Add(x).Add(n.Mul(decimal.NewFromInt(int64(i))))
			diff.Adds = append(diff.Adds, Rung{Side: core.Sell, Price: price})
		}
	} else if len(sells) < p.LevelsPerSide {
		outermost := sells[len(sells)-1]
		for i := len(sells); i < p.LevelsPerSide; i++ {
			outermost = outermost.Add(n)
			diff.Adds = append(diff.Adds, Rung{Side: core.Sell, Price: outermost})
		}
	}

	return diff
}

// AnchorRuleFill computes the replenishment diff for one fill (§4.4/§4.6
// step 8, "anchor rule"): on a BUY fill, cancel the furthest SELL and add
// a SELL one N closer to mid, and add a BUY one N further from mid than the
// current furthest BUY. Symmetric for a SELL fill. The rung shifted toward
// mid is dropped if it would cross it: no rung ever crosses mid (§4.5 final
// paragraph).
func AnchorRuleFill(filledSide core.Side, m *mirror.Mirror, n, mid decimal.Decimal) Diff {
	var diff Diff
	switch filledSide {
	case core.Buy:
		sells := m.SellPrices()
		if len(sells) > 0 {
			furthestSell := sells[len(sells)-1]
			nearestSell := sells[0]
			diff.Cancels = append(diff.Cancels, Rung{Side: core.Sell, Price: furthestSell})
			if newSell := nearestSell.Sub(n); newSell.GreaterThan(mid) {
				diff.Adds = append(diff.Adds, Rung{Side: core.Sell, Price: newSell})
			}
		}
		buys := m.BuyPrices()
		if len(buys) > 0 {
			furthestBuy := buys[0]
			diff.Adds = append(diff.Adds, Rung{Side: core.Buy, Price: furthestBuy.Sub(n)})
		}
	default: // Sell fill
		buys := m.BuyPrices()
		if len(buys) > 0 {
			furthestBuy := buys[0]
			nearestBuy := buys[len(buys)-1]
			diff.Cancels = append(diff.Cancels, Rung{Side: core.Buy, Price: furthestBuy})
			if newBuy := nearestBuy.Add(n); newBuy.LessThan(mid) {
				diff.Adds = append(diff.Adds, Rung{Side: core.Buy, Price: newBuy})
			}
		}
		sells := m.SellPrices()
		if len(sells) > 0 {
			furthestSell := sells[len(sells)-1]
			diff.Adds = append(diff.Adds, Rung{Side: core.Sell, Price: furthestSell.Add(n)})
		}
	}
	return diff
}
