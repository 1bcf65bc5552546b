// Package controller implements GridController (§4.6): the main tick loop
// that sequences schedule gating, emergency triggers, price fetch, mirror
// reconciliation, planning, order operations, and replenishment. The
// signal-aware run/stop shape is grounded on the teacher's
// internal/bootstrap/app.go errgroup+signal.NotifyContext pattern.
package controller

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"gridbot/internal/config"
	"gridbot/internal/core"
	"gridbot/internal/exchange"
	"gridbot/internal/grid"
	"gridbot/internal/mirror"
	"gridbot/internal/position"
	"gridbot/internal/schedule"
	"gridbot/internal/telemetry"

	"github.com/shopspring/decimal"
)

const (
	opSpacingDefault   = 400 * time.Millisecond
	placeTimeout       = 8 * time.Second
	emergencySettle    = 2 * time.Second
	emergencyCooldown  = 30 * time.Second
	reduceModeCancel   = 50 * time.Millisecond
	emergencyCancelGap = 100 * time.Millisecond
	mirrorClearPeriod  = time.Hour
	scheduleExitWait   = 60 * time.Second
)

// Controller owns the grid engine's main loop for one symbol.
type Controller struct {
	cfg      *config.Config
	adapter  exchange.Adapter
	monitor  *position.Monitor
	mirror   *mirror.Mirror
	schedule *schedule.Manager
	logger   core.ILogger

	memo      grid.Memo
	tick      int64
	reduceOn  bool
	lastClear time.Time
	selfCross int
	crossWindowStart time.Time

	scheduleWasActive bool
	running           int32
}

// New builds a Controller. schedule may be nil if EDGEX_USE_SCHEDULE=false.
func New(cfg *config.Config, adapter exchange.Adapter, monitor *position.Monitor, m *mirror.Mirror, sched *schedule.Manager, logger core.ILogger) *Controller {
	return &Controller{
		cfg:      cfg,
		adapter:  adapter,
		monitor:  monitor,
		mirror:   m,
		schedule: sched,
		logger:   logger.WithField("component", "controller"),
	}
}

func gridMode(m config.GridMode) grid.Mode {
	switch m {
	case config.ModeBin:
		return grid.ModeBin
	case config.ModeFollow:
		return grid.ModeFollow
	default:
		return grid.ModeBox
	}
}

// Run executes the tick loop until ctx is cancelled (§5 cancellation:
// "finishes the current tick, calls adapter.close(), and returns").
func (c *Controller) Run(ctx context.Context) error {
	atomic.StoreInt32(&c.running, 1)
	c.lastClear = time.Now()
	c.crossWindowStart = time.Now()

	defer func() {
		_ = c.adapter.Close()
	}()

	for atomic.LoadInt32(&c.running) == 1 {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if cont := c.runTick(ctx); !cont {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.pollInterval()):
			}
		}
	}
	return nil
}

// Stop requests the loop exit after the current tick.
func (c *Controller) Stop() { atomic.StoreInt32(&c.running, 0) }

func (c *Controller) pollInterval() time.Duration {
	d := time.Duration(c.cfg.PollIntervalSec * float64(time.Second))
	if d < 1500*time.Millisecond {
		d = 1500 * time.Millisecond
	}
	return d
}

func (c *Controller) opSpacing() time.Duration {
	d := time.Duration(c.cfg.GridOpSpacingSec * float64(time.Second))
	if d <= 0 {
		return opSpacingDefault
	}
	return d
}

// runTick executes one full tick (§4.6). Returns true if the caller should
// immediately start the next tick without sleeping the poll interval (a
// "continue" branch already slept on its own, e.g. an emergency or the
// schedule-exit transition).
func (c *Controller) runTick(ctx context.Context) bool {
	c.tick++

	// Step 1: periodic maintenance.
	if time.Since(c.lastClear) >= mirrorClearPeriod {
		c.mirror.Clear()
		c.selfCross = 0
		c.lastClear = time.Now()
	}
	if time.Since(c.crossWindowStart) >= time.Hour {
		if c.selfCross >= 3*c.cfg.GridLevelsPerSide {
			c.mirror.Clear()
		}
		c.selfCross = 0
		c.crossWindowStart = time.Now()
	}

	// Step 2: schedule gate.
	if c.cfg.UseSchedule && c.schedule != nil {
		c.schedule.RefreshIfDue(ctx)
		active := c.schedule.IsActive(time.Now())
		if active && !c.scheduleWasActive {
			c.logger.Info("schedule activated")
		}
		if !active && c.scheduleWasActive {
			c.runScheduleExit(ctx)
			c.scheduleWasActive = active
			return true
		}
		c.scheduleWasActive = active
		if !active {
			return false // sleep one tick
		}
	}

	// Step 3: emergency triggers, in priority order.
	for _, f := range []position.TriggerFlag{
		position.PositionLossCut, position.PositionTakeProfit, position.BalanceRecovery,
		position.AssetLossCut, position.AssetTakeProfit,
	} {
		if c.monitor.Triggered(f) {
			c.runEmergency(ctx, f)
			return true
		}
	}

	// Step 4: price fetch, preferring the stream.
	mid, ok := c.adapter.CurrentPrice()
	if !ok {
		t, err := c.adapter.Ticker(ctx, c.cfg.Symbol)
		if err != nil {
			c.logger.Debug("ticker fetch failed, skipping tick", "error", err)
			return false
		}
		mid = t.Price
	}

	// Step 5: snapshot refresh.
	snapshot, err := c.adapter.ListOpen(ctx, c.cfg.Symbol)
	if err != nil {
		c.logger.Debug("list_open failed, reusing cached snapshot", "error", err)
	} else {
		c.mirror.SetSnapshot(snapshot)
	}

	// Step 6: mirror reconcile.
	if c.cfg.ActiveSyncEvery > 0 && c.tick%int64(c.cfg.ActiveSyncEvery) == 0 {
		c.mirror.Rebuild(c.mirror.Snapshot())
	}

	snap := c.monitor.Snapshot()

	// Step 6b: fill detection, against the mirror as it stood at the step-5
	// snapshot — before this tick's own placements land in it. Detecting
	// after applyDiff would compare freshly-placed ids (absent from a
	// snapshot fetched before they existed) and misclassify every rung this
	// tick placed as an instant fill.
	filledBuys, filledSells := c.mirror.DetectFills(ctx)

	// Step 7: planner.
	params := grid.Params{
		LevelsPerSide: c.cfg.GridLevelsPerSide,
		StepUSD:       c.cfg.GridStepUSD,
		FirstOffset:   c.cfg.GridFirstOffsetUSD,
		Tick:          c.cfg.PriceTick,
	}
	diff := grid.Plan(gridMode(c.cfg.GridMode), mid, params, c.mirror, snap.Side, &c.memo)
	c.applyDiff(ctx, diff, snap.Side)

	// Step 8: replenishment on fills (anchor rule).
	for range filledBuys {
		c.applyDiff(ctx, grid.AnchorRuleFill(core.Buy, c.mirror, c.cfg.GridStepUSD, mid), snap.Side)
	}
	for range filledSells {
		c.applyDiff(ctx, grid.AnchorRuleFill(core.Sell, c.mirror, c.cfg.GridStepUSD, mid), snap.Side)
	}

	// Step 9: unmanaged cancellations. Ties are broken furthest-from-mid
	// first: an unmanaged order sitting right at mid is more likely to be
	// one this engine just placed but hasn't reconciled into the mirror
	// yet (SPEC_FULL §4 supplement).
	if c.cfg.EnforceLevels {
		unmanaged := c.mirror.Unmanaged()
		sort.Slice(unmanaged, func(i, j int) bool {
			return unmanaged[i].Price.Sub(mid).Abs().GreaterThan(unmanaged[j].Price.Sub(mid).Abs())
		})
		limit := 3
		for i, o := range unmanaged {
			if i >= limit {
				break
			}
			_ = c.adapter.Cancel(ctx, o.OrderID)
			time.Sleep(c.opSpacing())
		}
	}

	telemetry.RecordRungsActive(c.cfg.Symbol, sumRungs(c.mirror))
	telemetry.RecordUnrealizedPnL(c.cfg.Symbol, toFloat(snap.UnrealizedPnL))

	// Step 10: pacing.
	time.Sleep(c.pollInterval())
	return true
}

func sumRungs(m *mirror.Mirror) int {
	b, s := m.Len()
	return b + s
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// applyDiff applies cancels then adds (§4.6 step 7), honoring reduce-only
// mode (§4.9) and self-cross prevention (§4.10), spaced by op_spacing_sec.
func (c *Controller) applyDiff(ctx context.Context, diff grid.Diff, posSide core.PositionSide) {
	c.updateReduceMode(ctx, posSide)

	for _, r := range diff.Cancels {
		id, ok := c.mirror.OrderIDAt(r.Side, r.Price)
		if !ok {
			continue
		}
		if err := c.adapter.Cancel(ctx, id); err != nil {
			c.logger.Debug("cancel failed", "error", err, "price", r.Price.String())
		}
		c.mirror.Remove(r.Side, r.Price)
		time.Sleep(c.opSpacing())
	}

	for _, r := range diff.Adds {
		if c.reduceOn && c.increasesPosition(r.Side, posSide) {
			continue
		}
		if c.selfCrosses(r) {
			c.selfCross++
			telemetry.IncSelfCross(ctx, c.cfg.Symbol)
			continue
		}

		placeCtx, cancel := context.WithTimeout(ctx, placeTimeout)
		id, err := c.adapter.PlaceLimit(placeCtx, c.cfg.Symbol, r.Side, r.Price, c.cfg.GridSize, exchange.PostOnly)
		cancel()
		if err != nil {
			c.logger.Debug("place_limit failed", "error", err, "side", r.Side.String(), "price", r.Price.String())
			time.Sleep(c.opSpacing())
			continue
		}
		c.mirror.Record(r.Side, r.Price, id)
		telemetry.IncOrdersPlaced(ctx, c.cfg.Symbol, 1)
		time.Sleep(c.opSpacing())
	}
}

// selfCrosses implements §4.10: skip a BUY at p if a SELL already rests at
// p in the mirror, and symmetrically for SELL.
func (c *Controller) selfCrosses(r grid.Rung) bool {
	_, ok := c.mirror.OrderIDAt(r.Side.Opposite(), r.Price)
	return ok
}

func (c *Controller) increasesPosition(side core.Side, posSide core.PositionSide) bool {
	switch posSide {
	case core.Long:
		return side == core.Buy
	case core.Short:
		return side == core.Sell
	default:
		return false
	}
}

// updateReduceMode evaluates the position-size limits (§4.9) and flips
// _reduce_mode, cancelling the same-direction side when it engages.
func (c *Controller) updateReduceMode(ctx context.Context, posSide core.PositionSide) {
	snap := c.monitor.Snapshot()
	netAbs := snap.NetSize.Abs()

	limitCrossed := false
	releaseBelow := false

	if c.cfg.PositionSizeLimitBTC != nil {
		limitCrossed = netAbs.GreaterThanOrEqual(*c.cfg.PositionSizeLimitBTC)
		if c.cfg.PositionSizeReduceOnlyBTC != nil {
			releaseBelow = netAbs.LessThan(*c.cfg.PositionSizeReduceOnlyBTC)
		}
	} else if c.cfg.PositionSizeLimitRatio != nil && !snap.TotalAsset.IsZero() {
		ratio := snap.PositionValue.Div(snap.TotalAsset)
		limitCrossed = ratio.GreaterThanOrEqual(*c.cfg.PositionSizeLimitRatio)
		if c.cfg.PositionSizeReduceOnlyRatio != nil {
			releaseBelow = ratio.LessThan(*c.cfg.PositionSizeReduceOnlyRatio)
		}
	} else {
		return
	}

	if limitCrossed && !c.reduceOn {
		c.reduceOn = true
		telemetry.RecordReduceOnly(c.cfg.Symbol, true)
		c.cancelSameDirection(ctx, posSide)
	} else if c.reduceOn && releaseBelow {
		c.reduceOn = false
		telemetry.RecordReduceOnly(c.cfg.Symbol, false)
	}
}

func (c *Controller) cancelSameDirection(ctx context.Context, posSide core.PositionSide) {
	var prices []decimal.Decimal
	var side core.Side
	switch posSide {
	case core.Long:
		prices, side = c.mirror.BuyPrices(), core.Buy
	case core.Short:
		prices, side = c.mirror.SellPrices(), core.Sell
	default:
		return
	}
	for _, p := range prices {
		if id, ok := c.mirror.OrderIDAt(side, p); ok {
			_ = c.adapter.Cancel(ctx, id)
			c.mirror.Remove(side, p)
			time.Sleep(reduceModeCancel)
		}
	}
}

// runEmergency executes the common 5-step procedure (§4.8) for the first
// triggered flag, in priority order.
func (c *Controller) runEmergency(ctx context.Context, flag position.TriggerFlag) {
	c.logger.Warn("emergency procedure starting", "flag", flag.String())
	telemetry.IncEmergency(ctx, c.cfg.Symbol, flag.String())

	// Step 1.
	_, _ = c.adapter.Flatten(ctx, c.cfg.Symbol)

	// Step 2.
	open, err := c.adapter.ListOpen(ctx, c.cfg.Symbol)
	if err == nil {
		for _, o := range open {
			_ = c.adapter.Cancel(ctx, o.OrderID)
			time.Sleep(emergencyCancelGap)
		}
	}
	c.mirror.Clear()

	// Step 3.
	time.Sleep(emergencySettle)
	_, _ = c.adapter.Flatten(ctx, c.cfg.Symbol)

	// Step 4.
	c.monitor.Clear(flag)
	if flag == position.AssetLossCut || flag == position.AssetTakeProfit {
		if bal, ok := c.adapter.CurrentBalance(); ok {
			c.monitor.ResetInitialAsset(bal)
		}
	}

	// Step 5.
	time.Sleep(emergencyCooldown)
	c.logger.Info("emergency procedure complete", "flag", flag.String())
}

// runScheduleExit implements §4.7: cancel everything, then act per the
// configured out-of-schedule action.
func (c *Controller) runScheduleExit(ctx context.Context) {
	c.logger.Info("schedule exit starting", "action", c.cfg.OutOfScheduleAction)

	open, err := c.adapter.ListOpen(ctx, c.cfg.Symbol)
	if err == nil {
		for _, o := range open {
			_ = c.adapter.Cancel(ctx, o.OrderID)
			time.Sleep(c.opSpacing())
		}
	}
	c.mirror.Clear()

	switch c.cfg.OutOfScheduleAction {
	case config.ActionNothing:
		return
	case config.ActionImmediately:
		_, _ = c.adapter.Flatten(ctx, c.cfg.Symbol)
	default: // auto
		c.scheduleExitAuto(ctx)
	}
}

func (c *Controller) scheduleExitAuto(ctx context.Context) {
	snap := c.monitor.Snapshot()
	if snap.Side == core.Flat {
		return
	}

	mid, ok := c.adapter.CurrentPrice()
	if !ok {
		t, err := c.adapter.Ticker(ctx, c.cfg.Symbol)
		if err != nil {
			_, _ = c.adapter.Flatten(ctx, c.cfg.Symbol)
			return
		}
		mid = t.Price
	}

	closeSide := core.Sell
	price := mid.Add(decimal.New(5, 0))
	if snap.Side == core.Short {
		closeSide = core.Buy
		price = mid.Sub(decimal.New(5, 0))
	}

	id, err := c.adapter.PlaceLimit(ctx, c.cfg.Symbol, closeSide, price, snap.NetSize.Abs(), exchange.GTC)
	if err != nil {
		_, _ = c.adapter.Flatten(ctx, c.cfg.Symbol)
		return
	}

	time.Sleep(scheduleExitWait)

	open, err := c.adapter.ListOpen(ctx, c.cfg.Symbol)
	stillOpen := false
	if err == nil {
		for _, o := range open {
			if o.OrderID == id {
				stillOpen = true
				break
			}
		}
	}
	if stillOpen {
		_ = c.adapter.Cancel(ctx, id)
		_, _ = c.adapter.Flatten(ctx, c.cfg.Symbol)
	}
}
