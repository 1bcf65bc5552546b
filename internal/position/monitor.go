// Package position implements PositionMonitor (§4.3): it consumes the
// adapter's streamed ticker/position/balance events, maintains the derived
// PnL aggregates, and owns the five latched one-shot trigger flags. Grounded
// on the atomic-flag, single-writer-task shape of the teacher's
// internal/risk/monitor.go, adapted from a multi-symbol volume/ATR monitor
// to a single-symbol PnL monitor.
package position

import (
	"context"
	"sync"
	"sync/atomic"

	"gridbot/internal/concurrency"
	"gridbot/internal/core"
	"gridbot/internal/exchange"
	"gridbot/internal/telemetry"

	"github.com/shopspring/decimal"
)

var flatEpsilon = decimal.New(1, -4)

// TriggerFlag names one of the five latched triggers (§4.3).
type TriggerFlag int

const (
	PositionLossCut TriggerFlag = iota
	PositionTakeProfit
	BalanceRecovery
	AssetLossCut
	AssetTakeProfit
	triggerCount
)

func (f TriggerFlag) String() string {
	switch f {
	case PositionLossCut:
		return "position_loss_cut"
	case PositionTakeProfit:
		return "position_take_profit"
	case BalanceRecovery:
		return "balance_recovery"
	case AssetLossCut:
		return "asset_loss_cut"
	case AssetTakeProfit:
		return "asset_take_profit"
	default:
		return "unknown"
	}
}

// Thresholds bundles the configured trigger levels; a nil pointer means the
// corresponding trigger is not configured and never fires.
type Thresholds struct {
	PositionLossCutPct    *decimal.Decimal
	PositionTakeProfitPct *decimal.Decimal
	AssetLossCutPct       *decimal.Decimal
	AssetTakeProfitPct    *decimal.Decimal

	RecoveryEnabled         bool
	InitialBalanceUSD       decimal.Decimal
	RecoveryEnforceLevelUSD decimal.Decimal

	Leverage decimal.Decimal
}

// Monitor owns all derived PnL state and the five latched trigger flags. Its
// state is mutated only by the single task that calls OnEvent; the
// controller is a read-only observer of the flags and aggregates (§5).
type Monitor struct {
	symbol     string
	thresholds Thresholds
	logger     core.ILogger

	mu sync.RWMutex

	lastPrice    decimal.Decimal
	havePrice    bool
	netSize      decimal.Decimal
	avgEntry     decimal.Decimal
	unrealizedPL decimal.Decimal
	positionVal  decimal.Decimal
	pnlPct       decimal.Decimal
	side         core.PositionSide

	currentBalance decimal.Decimal
	haveBalance    bool

	initialAsset    decimal.Decimal
	haveInitAsset   bool

	flags [triggerCount]int32

	pool *concurrency.WorkerPool
}

// New builds a Monitor for one symbol. Event application runs on a
// dedicated single-worker pool rather than inline in the caller's
// goroutine, so the fast adapter-side event pump never blocks on PnL
// recomputation (mirrors the teacher's RiskMonitor.pool.Submit fan-out,
// sized to one worker since flag state has a single-writer invariant).
func New(symbol string, thresholds Thresholds, logger core.ILogger) *Monitor {
	l := logger.WithField("component", "position_monitor")
	return &Monitor{
		symbol:     symbol,
		thresholds: thresholds,
		logger:     l,
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:       "position_monitor",
			MaxWorkers: 1,
		}, l),
	}
}

// OnEvent queues one streamed adapter event for application against the
// derived state and trigger flags (§4.3). Safe to call from any goroutine;
// the pool's single worker serializes application so OnEvent itself never
// blocks the caller on PnL recomputation.
func (m *Monitor) OnEvent(ctx context.Context, ev exchange.Event) {
	if err := m.pool.Submit(func() { m.apply(ctx, ev) }); err != nil {
		m.logger.Warn("event dropped, worker pool full", "error", err)
	}
}

// Close drains the pool, waiting for any queued event to finish applying.
func (m *Monitor) Close() {
	m.pool.Stop()
}

func (m *Monitor) apply(ctx context.Context, ev exchange.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.Kind {
	case exchange.EventTicker:
		m.lastPrice = ev.Price
		m.havePrice = true
		m.recomputeLocked()
	case exchange.EventPositions:
		m.applyPositionsLocked(ev.Positions)
		m.recomputeLocked()
	case exchange.EventBalance:
		m.applyBalanceLocked(ev.Balance)
	default:
		return
	}

	m.evaluateTriggersLocked(ctx)
}

func (m *Monitor) applyPositionsLocked(positions []exchange.Position) {
	netSize := decimal.Zero
	openValue := decimal.Zero
	for _, p := range positions {
		netSize = netSize.Add(p.SignedSize)
		openValue = openValue.Add(p.OpenValue)
	}
	m.netSize = netSize
	if netSize.Abs().IsZero() || netSize.Abs().LessThan(flatEpsilon) {
		m.side = core.Flat
	} else {
		m.side = core.ClassifySide(netSize)
	}

	if netSize.Abs().IsZero() {
		m.avgEntry = decimal.Zero
	} else {
		m.avgEntry = openValue.Div(netSize.Abs())
	}
}

func (m *Monitor) recomputeLocked() {
	if !m.havePrice {
		return
	}
	absSize := m.netSize.Abs()
	switch m.side {
	case core.Long:
		m.unrealizedPL = m.lastPrice.Sub(m.avgEntry).Mul(absSize)
	case core.Short:
		m.unrealizedPL = m.avgEntry.Sub(m.lastPrice).Mul(absSize)
	default:
		m.unrealizedPL = decimal.Zero
	}
	m.positionVal = m.avgEntry.Mul(absSize)

	if m.positionVal.IsZero() {
		m.pnlPct = decimal.Zero
		return
	}
	m.pnlPct = m.unrealizedPL.Div(m.positionVal).Mul(decimal.New(100, 0)).Mul(m.thresholds.Leverage)
}

// applyBalanceLocked normalizes the reported available collateral to total
// equity by adding the position's notional when LONG, subtracting when
// SHORT — undoing the venue's margin-accounting convention (§4.3).
func (m *Monitor) applyBalanceLocked(reported decimal.Decimal) {
	equity := reported
	switch m.side {
	case core.Long:
		equity = reported.Add(m.positionVal)
	case core.Short:
		equity = reported.Sub(m.positionVal)
	}
	m.currentBalance = equity
	m.haveBalance = true

	if !m.haveInitAsset && m.hasAssetThresholds() {
		m.initialAsset = equity
		m.haveInitAsset = true
		if m.logger != nil {
			m.logger.Info("initial_asset set", "symbol", m.symbol, "initial_asset", equity.String())
		}
	}
}

func (m *Monitor) hasAssetThresholds() bool {
	return m.thresholds.AssetLossCutPct != nil || m.thresholds.AssetTakeProfitPct != nil
}

func (m *Monitor) evaluateTriggersLocked(ctx context.Context) {
	if m.side == core.Flat {
		// FLAT auto-clears position_loss_cut and balance_recovery (§4.3);
		// asset-based flags are cleared only by the controller.
		m.clearLocked(PositionLossCut)
		m.clearLocked(BalanceRecovery)
	}

	if p := m.thresholds.PositionLossCutPct; p != nil && m.pnlPct.LessThanOrEqual(p.Abs().Neg()) {
		m.raiseLocked(ctx, PositionLossCut)
	}
	if p := m.thresholds.PositionTakeProfitPct; p != nil && m.pnlPct.GreaterThanOrEqual(p.Abs()) {
		m.raiseLocked(ctx, PositionTakeProfit)
	}

	if m.thresholds.RecoveryEnabled && m.haveBalance {
		drawdown := m.thresholds.InitialBalanceUSD.Sub(m.currentBalance)
		if drawdown.GreaterThanOrEqual(m.thresholds.RecoveryEnforceLevelUSD) &&
			m.currentBalance.Add(m.unrealizedPL).GreaterThanOrEqual(m.thresholds.InitialBalanceUSD) {
			m.raiseLocked(ctx, BalanceRecovery)
		}
	}

	if m.haveInitAsset && !m.initialAsset.IsZero() {
		totalAsset := m.currentBalance.Add(m.unrealizedPL)
		assetPct := totalAsset.Sub(m.initialAsset).Div(m.initialAsset).Mul(decimal.New(100, 0))
		if p := m.thresholds.AssetLossCutPct; p != nil && assetPct.LessThanOrEqual(p.Abs().Neg()) {
			m.raiseLocked(ctx, AssetLossCut)
		}
		if p := m.thresholds.AssetTakeProfitPct; p != nil && assetPct.GreaterThanOrEqual(p.Abs()) {
			m.raiseLocked(ctx, AssetTakeProfit)
		}
	}
}

func (m *Monitor) raiseLocked(ctx context.Context, f TriggerFlag) {
	if atomic.CompareAndSwapInt32(&m.flags[f], 0, 1) {
		telemetry.IncTrigger(ctx, m.symbol, f.String())
		if m.logger != nil {
			m.logger.Warn("trigger raised", "flag", f.String(), "pnl_pct", m.pnlPct.String())
		}
	}
}

func (m *Monitor) clearLocked(f TriggerFlag) {
	atomic.StoreInt32(&m.flags[f], 0)
}

// Triggered reports whether f is currently latched.
func (m *Monitor) Triggered(f TriggerFlag) bool {
	return atomic.LoadInt32(&m.flags[f]) == 1
}

// Clear resets f after the controller has finished its emergency handling.
func (m *Monitor) Clear(f TriggerFlag) {
	atomic.StoreInt32(&m.flags[f], 0)
}

// ResetInitialAsset is called by the controller after an asset-based
// emergency completes, so the next episode's thresholds are measured from
// the post-emergency balance (§4.3).
func (m *Monitor) ResetInitialAsset(value decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialAsset = value
	m.haveInitAsset = true
}

// Snapshot is a read-only copy of the monitor's derived aggregates.
type Snapshot struct {
	NetSize          decimal.Decimal
	Side             core.PositionSide
	AvgEntry         decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	PositionValue    decimal.Decimal
	PnLPct           decimal.Decimal
	CurrentBalance   decimal.Decimal
	TotalAsset       decimal.Decimal
}

// Snapshot returns the current derived state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		NetSize:        m.netSize,
		Side:           m.side,
		AvgEntry:       m.avgEntry,
		UnrealizedPnL:  m.unrealizedPL,
		PositionValue:  m.positionVal,
		PnLPct:         m.pnlPct,
		CurrentBalance: m.currentBalance,
		TotalAsset:     m.currentBalance.Add(m.unrealizedPL),
	}
}
