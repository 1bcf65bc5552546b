package grid

import (
	"testing"

	"gridbot/internal/core"
	"gridbot/internal/mirror"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func baseParams() Params {
	return Params{
		LevelsPerSide: 3,
		StepUSD:       d("10"),
		FirstOffset:   d("5"),
		Tick:          d("0.5"),
	}
}

func TestPlanBox_ColdStartProducesLadderOnBothSides(t *testing.T) {
	m := mirror.New("BTCUSD")
	diff := Plan(ModeBox, d("1000"), baseParams(), m, core.Flat, &Memo{})

	if len(diff.Cancels) != 0 {
		t.Fatalf("cold mirror has nothing to cancel, got %d", len(diff.Cancels))
	}

	var buys, sells int
	for _, r := range diff.Adds {
		if r.Side == core.Buy {
			buys++
			if !r.Price.LessThan(d("1000")) {
				t.Errorf("BUY rung %s should be below mid 1000", r.Price)
			}
		} else {
			sells++
			if !r.Price.GreaterThan(d("1000")) {
				t.Errorf("SELL rung %s should be above mid 1000", r.Price)
			}
		}
	}
	if buys != 3 || sells != 3 {
		t.Fatalf("expected 3 rungs per side, got buys=%d sells=%d", buys, sells)
	}
}

func TestPlanBox_OnLatticeMidUsesBoundaryEpsilon(t *testing.T) {
	p := Params{LevelsPerSide: 3, StepUSD: d("50"), FirstOffset: d("100"), Tick: d("0.5")}
	m := mirror.New("BTCUSD")
	diff := Plan(ModeBox, d("30000"), p, m, core.Flat, &Memo{})

	wantBuys := []decimal.Decimal{d("29850"), d("29800"), d("29750")}
	wantSells := []decimal.Decimal{d("30150"), d("30200"), d("30250")}

	var gotBuys, gotSells []decimal.Decimal
	for _, r := range diff.Adds {
		if r.Side == core.Buy {
			gotBuys = append(gotBuys, r.Price)
		} else {
			gotSells = append(gotSells, r.Price)
		}
	}
	if len(gotBuys) != len(wantBuys) || len(gotSells) != len(wantSells) {
		t.Fatalf("got buys=%v sells=%v, want buys=%v sells=%v", gotBuys, gotSells, wantBuys, wantSells)
	}
	for i, want := range wantBuys {
		if !gotBuys[i].Equal(want) {
			t.Errorf("buy[%d] = %s, want %s (mid landing exactly on the N lattice must not seed the boundary rung)", i, gotBuys[i], want)
		}
	}
	for i, want := range wantSells {
		if !gotSells[i].Equal(want) {
			t.Errorf("sell[%d] = %s, want %s", i, gotSells[i], want)
		}
	}
}

func TestPlanBox_CloseFirstSideDependsOnPosition(t *testing.T) {
	m := mirror.New("BTCUSD")
	diffFlat := Plan(ModeBox, d("1000"), baseParams(), m, core.Flat, &Memo{})
	if diffFlat.Adds[0].Side != core.Sell {
		t.Errorf("FLAT/LONG should interleave starting with SELL, got %s first", diffFlat.Adds[0].Side)
	}

	diffShort := Plan(ModeBox, d("1000"), baseParams(), m, core.Short, &Memo{})
	if diffShort.Adds[0].Side != core.Buy {
		t.Errorf("SHORT should interleave starting with BUY, got %s first", diffShort.Adds[0].Side)
	}
}

func TestPlanBox_KeepsRungsNearTargetAndCancelsStaleOutsideDeadBand(t *testing.T) {
	p := baseParams()
	m := mirror.New("BTCUSD")
	// A BUY sitting right at a target lattice price should survive.
	m.Record(core.Buy, d("980"), "keep-me")
	// A stale BUY far from any target and outside the dead band should be cancelled.
	m.Record(core.Buy, d("700"), "cancel-me")

	diff := Plan(ModeBox, d("1000"), p, m, core.Flat, &Memo{})

	var cancelled bool
	for _, c := range diff.Cancels {
		if c.Price.Equal(d("700")) {
			cancelled = true
		}
		if c.Price.Equal(d("980")) {
			t.Error("the rung at a live target price should not be cancelled")
		}
	}
	if !cancelled {
		t.Error("expected the stale far-away rung to be cancelled")
	}
}

func TestPlanBox_IdempotentWhenAlreadyAtTarget(t *testing.T) {
	p := baseParams()
	m := mirror.New("BTCUSD")
	diff := Plan(ModeBox, d("1000"), p, m, core.Flat, &Memo{})
	for _, r := range diff.Adds {
		m.Record(r.Side, r.Price, "id-"+r.Price.String())
	}

	// Re-planning against the same mid with the mirror now fully populated
	// should propose nothing further.
	again := Plan(ModeBox, d("1000"), p, m, core.Flat, &Memo{})
	if len(again.Adds) != 0 || len(again.Cancels) != 0 {
		t.Fatalf("expected an empty diff once the ladder matches target, got %+v", again)
	}
}

func TestPlanBin_SeedsOnFirstCall(t *testing.T) {
	p := baseParams()
	m := mirror.New("BTCUSD")
	memo := &Memo{}

	diff := Plan(ModeBin, d("1000"), p, m, core.Flat, memo)
	if !memo.Seeded {
		t.Fatal("expected memo.Seeded to be set after the first BIN call")
	}
	if len(diff.Adds) == 0 {
		t.Fatal("expected an initial ladder on seed")
	}
}

func TestPlanBin_NoDriftIsStable(t *testing.T) {
	p := baseParams()
	m := mirror.New("BTCUSD")
	memo := &Memo{}
	Plan(ModeBin, d("1000"), p, m, core.Flat, memo)

	// Re-plan at the exact same mid: delta is 0, nothing should cancel.
	diff := Plan(ModeBin, d("1000"), p, m, core.Flat, memo)
	if len(diff.Cancels) != 0 {
		t.Fatalf("zero center drift should never cancel, got %+v", diff.Cancels)
	}
}

func TestPlanBin_SlideUpCancelsFurthestBuyOnly(t *testing.T) {
	p := baseParams()
	m := mirror.New("BTCUSD")
	memo := &Memo{}
	seed := Plan(ModeBin, d("1000"), p, m, core.Flat, memo)
	for _, r := range seed.Adds {
		m.Record(r.Side, r.Price, "id-"+r.Price.String())
	}

	// mid moves up by one step unit (10): center rounds from 1000 to 1010.
	diff := Plan(ModeBin, d("1010"), p, m, core.Flat, memo)

	for _, c := range diff.Cancels {
		if c.Side != core.Buy {
			t.Errorf("a one-unit upward slide should never cancel a SELL, got %s", c.Side)
		}
	}
	if len(diff.Cancels) != 1 {
		t.Fatalf("expected exactly one BUY cancellation on a one-unit slide, got %d", len(diff.Cancels))
	}
}

func TestPlanBin_SlideUpNeverAddsABuyAtOrAboveMid(t *testing.T) {
	m := mirror.New("BTCUSD")
	m.Record(core.Buy, d("990"), "b1")
	m.Record(core.Buy, d("1000"), "b2")
	m.Record(core.Sell, d("1010"), "s1")

	// A one-unit (N=10) slide would put the new BUY at nearest(1000)+10=1010,
	// at/above mid: it must be dropped, not posted crossing the book.
	diff := slideUp(m, d("10"), d("1005"))

	for _, a := range diff.Adds {
		if a.Side == core.Buy {
			t.Errorf("slideUp added a BUY at %s with mid=1005; no rung may cross mid", a.Price)
		}
	}
}

func TestAnchorRuleFill_BuyFillNeverAddsASellAtOrBelowMid(t *testing.T) {
	m := mirror.New("BTCUSD")
	m.Record(core.Buy, d("990"), "b1")
	m.Record(core.Sell, d("1000"), "s1")
	m.Record(core.Sell, d("1020"), "s2")

	// nearestSell(1000) - n(10) = 990, at/below mid=995: must be dropped.
	diff := AnchorRuleFill(core.Buy, m, d("10"), d("995"))

	for _, a := range diff.Adds {
		if a.Side == core.Sell {
			t.Errorf("AnchorRuleFill added a SELL at %s with mid=995; no rung may cross mid", a.Price)
		}
	}
}

func TestAnchorRuleFill_BuyFillShiftsSellInAndBuyOut(t *testing.T) {
	m := mirror.New("BTCUSD")
	m.Record(core.Buy, d("990"), "b1")
	m.Record(core.Sell, d("1010"), "s1")
	m.Record(core.Sell, d("1020"), "s2")

	diff := AnchorRuleFill(core.Buy, m, d("10"), d("995"))

	var cancelledFurthestSell, addedNearerSell, addedFartherBuy bool
	for _, c := range diff.Cancels {
		if c.Side == core.Sell && c.Price.Equal(d("1020")) {
			cancelledFurthestSell = true
		}
	}
	for _, a := range diff.Adds {
		if a.Side == core.Sell && a.Price.Equal(d("1000")) {
			addedNearerSell = true
		}
		if a.Side == core.Buy && a.Price.Equal(d("980")) {
			addedFartherBuy = true
		}
	}
	if !cancelledFurthestSell {
		t.Error("expected the furthest SELL (1020) to be cancelled")
	}
	if !addedNearerSell {
		t.Error("expected a new SELL one step nearer to mid (1000)")
	}
	if !addedFartherBuy {
		t.Error("expected a new BUY one step further from mid (980)")
	}
}

func TestAnchorRuleFill_SellFillIsSymmetric(t *testing.T) {
	m := mirror.New("BTCUSD")
	m.Record(core.Buy, d("980"), "b1")
	m.Record(core.Buy, d("990"), "b2")
	m.Record(core.Sell, d("1010"), "s1")

	diff := AnchorRuleFill(core.Sell, m, d("10"), d("1005"))

	var cancelledFurthestBuy, addedNearerBuy, addedFartherSell bool
	for _, c := range diff.Cancels {
		if c.Side == core.Buy && c.Price.Equal(d("980")) {
			cancelledFurthestBuy = true
		}
	}
	for _, a := range diff.Adds {
		if a.Side == core.Buy && a.Price.Equal(d("1000")) {
			addedNearerBuy = true
		}
		if a.Side == core.Sell && a.Price.Equal(d("1020")) {
			addedFartherSell = true
		}
	}
	if !cancelledFurthestBuy {
		t.Error("expected the furthest BUY (980) to be cancelled")
	}
	if !addedNearerBuy {
		t.Error("expected a new BUY one step nearer to mid (1000)")
	}
	if !addedFartherSell {
		t.Error("expected a new SELL one step further from mid (1020)")
	}
}

func TestPlanFollow_ReseedsEmptySide(t *testing.T) {
	p := baseParams()
	m := mirror.New("BTCUSD")
	diff := Plan(ModeFollow, d("1000"), p, m, core.Flat, &Memo{})

	var buys, sells int
	for _, r := range diff.Adds {
		if r.Side == core.Buy {
			buys++
		} else {
			sells++
		}
	}
	if buys != p.LevelsPerSide || sells != p.LevelsPerSide {
		t.Fatalf("expected %d rungs per side on reseed, got buys=%d sells=%d", p.LevelsPerSide, buys, sells)
	}
}

func TestPlanFollow_TopsUpPartialSideOutsideOutermost(t *testing.T) {
	p := baseParams()
	m := mirror.New("BTCUSD")
	m.Record(core.Buy, d("995"), "b1") // only one of three BUY rungs present

	diff := Plan(ModeFollow, d("1000"), p, m, core.Flat, &Memo{})

	var buyAdds int
	for _, r := range diff.Adds {
		if r.Side == core.Buy {
			buyAdds++
			if !r.Price.LessThan(d("995")) {
				t.Errorf("top-up BUY rung %s should be further from mid than the existing 995", r.Price)
			}
		}
	}
	if buyAdds != p.LevelsPerSide-1 {
		t.Fatalf("expected %d top-up BUY rungs, got %d", p.LevelsPerSide-1, buyAdds)
	}
}
