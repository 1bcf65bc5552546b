package telemetry

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names, mirroring the teacher's market_maker_* naming convention.
const (
	MetricRungsActive       = "gridbot_rungs_active"
	MetricOrdersPlacedTotal = "gridbot_orders_placed_total"
	MetricFillsTotal        = "gridbot_fills_total"
	MetricTriggersTotal     = "gridbot_triggers_raised_total"
	MetricEmergenciesTotal  = "gridbot_emergencies_total"
	MetricReduceOnly        = "gridbot_reduce_only_active"
	MetricSelfCrossTotal    = "gridbot_self_cross_skips_total"
	MetricUnrealizedPnL     = "gridbot_unrealized_pnl"
)

// holder is the package-level set of initialized instruments.
type holder struct {
	rungsActive   metric.Int64ObservableGauge
	ordersPlaced  metric.Int64Counter
	fillsTotal    metric.Int64Counter
	triggersTotal metric.Int64Counter
	emergencies   metric.Int64Counter
	reduceOnly    metric.Int64ObservableGauge
	selfCross     metric.Int64Counter
	unrealizedPnl metric.Float64ObservableGauge

	mu          sync.RWMutex
	rungsMap    map[string]int64
	reduceMap   map[string]int64
	pnlMap      map[string]float64
	initialized int32
}

var m = &holder{
	rungsMap:  make(map[string]int64),
	reduceMap: make(map[string]int64),
	pnlMap:    make(map[string]float64),
}

func initInstruments(meter metric.Meter) error {
	var err error

	m.ordersPlaced, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("rungs placed"))
	if err != nil {
		return err
	}
	m.fillsTotal, err = meter.Int64Counter(MetricFillsTotal, metric.WithDescription("rungs observed filled or vanished"))
	if err != nil {
		return err
	}
	m.triggersTotal, err = meter.Int64Counter(MetricTriggersTotal, metric.WithDescription("latched triggers raised"), metric.WithUnit("1"))
	if err != nil {
		return err
	}
	m.emergencies, err = meter.Int64Counter(MetricEmergenciesTotal, metric.WithDescription("emergency procedures run"))
	if err != nil {
		return err
	}
	m.selfCross, err = meter.Int64Counter(MetricSelfCrossTotal, metric.WithDescription("placements skipped by self-cross prevention"))
	if err != nil {
		return err
	}

	m.rungsActive, err = meter.Int64ObservableGauge(MetricRungsActive, metric.WithDescription("rungs currently in the local mirror"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, v := range m.rungsMap {
				obs.Observe(v, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.reduceOnly, err = meter.Int64ObservableGauge(MetricReduceOnly, metric.WithDescription("reduce-only mode active (1/0)"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, v := range m.reduceMap {
				obs.Observe(v, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.unrealizedPnl, err = meter.Float64ObservableGauge(MetricUnrealizedPnL, metric.WithDescription("current unrealized PnL"),
		metric.WithFloat64Callback(func(_ context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, v := range m.pnlMap {
				obs.Observe(v, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	atomic.StoreInt32(&m.initialized, 1)
	return nil
}

// RecordRungsActive reports the current mirror size for symbol.
func RecordRungsActive(symbol string, count int) {
	if atomic.LoadInt32(&m.initialized) == 0 {
		return
	}
	m.mu.Lock()
	m.rungsMap[symbol] = int64(count)
	m.mu.Unlock()
}

// RecordReduceOnly reports whether reduce-only mode is active for symbol.
func RecordReduceOnly(symbol string, active bool) {
	if atomic.LoadInt32(&m.initialized) == 0 {
		return
	}
	v := int64(0)
	if active {
		v = 1
	}
	m.mu.Lock()
	m.reduceMap[symbol] = v
	m.mu.Unlock()
}

// RecordUnrealizedPnL reports the latest unrealized PnL for symbol.
func RecordUnrealizedPnL(symbol string, pnl float64) {
	if atomic.LoadInt32(&m.initialized) == 0 {
		return
	}
	m.mu.Lock()
	m.pnlMap[symbol] = pnl
	m.mu.Unlock()
}

// IncOrdersPlaced increments the placed-rungs counter.
func IncOrdersPlaced(ctx context.Context, symbol string, n int64) {
	if atomic.LoadInt32(&m.initialized) == 0 || n == 0 {
		return
	}
	m.ordersPlaced.Add(ctx, n, metric.WithAttributes(attribute.String("symbol", symbol)))
}

// IncFills increments the fills-observed counter.
func IncFills(ctx context.Context, symbol string, n int64) {
	if atomic.LoadInt32(&m.initialized) == 0 || n == 0 {
		return
	}
	m.fillsTotal.Add(ctx, n, metric.WithAttributes(attribute.String("symbol", symbol)))
}

// IncTrigger increments the triggers-raised counter, tagged by flag name.
func IncTrigger(ctx context.Context, symbol, flag string) {
	if atomic.LoadInt32(&m.initialized) == 0 {
		return
	}
	m.triggersTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("symbol", symbol), attribute.String("flag", flag)))
}

// IncEmergency increments the emergencies-run counter, tagged by flag name.
func IncEmergency(ctx context.Context, symbol, flag string) {
	if atomic.LoadInt32(&m.initialized) == 0 {
		return
	}
	m.emergencies.Add(ctx, 1, metric.WithAttributes(
		attribute.String("symbol", symbol), attribute.String("flag", flag)))
}

// IncSelfCross increments the self-cross-skip counter.
func IncSelfCross(ctx context.Context, symbol string) {
	if atomic.LoadInt32(&m.initialized) == 0 {
		return
	}
	m.selfCross.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
}
