package position

import (
	"context"
	"testing"
	"time"

	"gridbot/internal/core"
	"gridbot/internal/exchange"

	"github.com/shopspring/decimal"
)

// mockLogger implements core.ILogger for testing.
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...interface{})               {}
func (m *mockLogger) Info(msg string, fields ...interface{})                {}
func (m *mockLogger) Warn(msg string, fields ...interface{})                {}
func (m *mockLogger) Error(msg string, fields ...interface{})               {}
func (m *mockLogger) Fatal(msg string, fields ...interface{})               {}
func (m *mockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *mockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func pctPtr(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

// waitFor polls until cond returns true or the deadline expires; the
// monitor applies events on its own worker, so assertions must not race
// the submission.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestMonitor_ComputesLongPnL(t *testing.T) {
	mon := New("BTCUSD", Thresholds{Leverage: d("1")}, &mockLogger{})
	defer mon.Close()
	ctx := context.Background()

	mon.OnEvent(ctx, exchange.Event{Kind: exchange.EventPositions, Positions: []exchange.Position{
		{Symbol: "BTCUSD", SignedSize: d("1"), OpenValue: d("100")},
	}})
	mon.OnEvent(ctx, exchange.Event{Kind: exchange.EventTicker, Price: d("110")})

	waitFor(t, func() bool { return mon.Snapshot().Side == core.Long })
	snap := mon.Snapshot()
	if !snap.UnrealizedPnL.Equal(d("10")) {
		t.Errorf("LONG unrealized PnL = %s, want 10", snap.UnrealizedPnL)
	}
}

func TestMonitor_ComputesShortPnL(t *testing.T) {
	mon := New("BTCUSD", Thresholds{Leverage: d("1")}, &mockLogger{})
	defer mon.Close()
	ctx := context.Background()

	mon.OnEvent(ctx, exchange.Event{Kind: exchange.EventPositions, Positions: []exchange.Position{
		{Symbol: "BTCUSD", SignedSize: d("-1"), OpenValue: d("100")},
	}})
	mon.OnEvent(ctx, exchange.Event{Kind: exchange.EventTicker, Price: d("90")})

	waitFor(t, func() bool { return mon.Snapshot().Side == core.Short })
	snap := mon.Snapshot()
	if !snap.UnrealizedPnL.Equal(d("10")) {
		t.Errorf("SHORT unrealized PnL = %s, want 10", snap.UnrealizedPnL)
	}
}

func TestMonitor_PositionLossCutTriggers(t *testing.T) {
	mon := New("BTCUSD", Thresholds{
		Leverage:           d("1"),
		PositionLossCutPct: pctPtr("5"),
	}, &mockLogger{})
	defer mon.Close()
	ctx := context.Background()

	mon.OnEvent(ctx, exchange.Event{Kind: exchange.EventPositions, Positions: []exchange.Position{
		{Symbol: "BTCUSD", SignedSize: d("1"), OpenValue: d("100")},
	}})
	mon.OnEvent(ctx, exchange.Event{Kind: exchange.EventTicker, Price: d("90")}) // -10% on a LONG

	waitFor(t, func() bool { return mon.Triggered(PositionLossCut) })
}

func TestMonitor_PositionLossCutClearsWhenFlat(t *testing.T) {
	mon := New("BTCUSD", Thresholds{
		Leverage:           d("1"),
		PositionLossCutPct: pctPtr("5"),
	}, &mockLogger{})
	defer mon.Close()
	ctx := context.Background()

	mon.OnEvent(ctx, exchange.Event{Kind: exchange.EventPositions, Positions: []exchange.Position{
		{Symbol: "BTCUSD", SignedSize: d("1"), OpenValue: d("100")},
	}})
	mon.OnEvent(ctx, exchange.Event{Kind: exchange.EventTicker, Price: d("90")})
	waitFor(t, func() bool { return mon.Triggered(PositionLossCut) })

	mon.OnEvent(ctx, exchange.Event{Kind: exchange.EventPositions, Positions: nil})
	waitFor(t, func() bool { return !mon.Triggered(PositionLossCut) })
}

func TestMonitor_AssetTakeProfitRequiresInitialAsset(t *testing.T) {
	mon := New("BTCUSD", Thresholds{
		Leverage:           d("1"),
		AssetTakeProfitPct: pctPtr("10"),
	}, &mockLogger{})
	defer mon.Close()
	ctx := context.Background()

	// First balance observation fixes the initial asset baseline.
	mon.OnEvent(ctx, exchange.Event{Kind: exchange.EventBalance, Balance: d("1000")})
	waitFor(t, func() bool { return !mon.Snapshot().TotalAsset.IsZero() })

	mon.OnEvent(ctx, exchange.Event{Kind: exchange.EventBalance, Balance: d("1200")})
	waitFor(t, func() bool { return mon.Triggered(AssetTakeProfit) })
}

func TestMonitor_FlagsAreLatchedNotRepeated(t *testing.T) {
	mon := New("BTCUSD", Thresholds{
		Leverage:           d("1"),
		PositionLossCutPct: pctPtr("5"),
	}, &mockLogger{})
	defer mon.Close()
	ctx := context.Background()

	mon.OnEvent(ctx, exchange.Event{Kind: exchange.EventPositions, Positions: []exchange.Position{
		{Symbol: "BTCUSD", SignedSize: d("1"), OpenValue: d("100")},
	}})
	mon.OnEvent(ctx, exchange.Event{Kind: exchange.EventTicker, Price: d("90")})
	waitFor(t, func() bool { return mon.Triggered(PositionLossCut) })

	mon.Clear(PositionLossCut)
	if mon.Triggered(PositionLossCut) {
		t.Fatal("Clear should reset the latch")
	}

	// Same breach again should re-raise after the controller cleared it.
	mon.OnEvent(ctx, exchange.Event{Kind: exchange.EventTicker, Price: d("89")})
	waitFor(t, func() bool { return mon.Triggered(PositionLossCut) })
}

func TestMonitor_ResetInitialAssetRebasesFutureThresholds(t *testing.T) {
	mon := New("BTCUSD", Thresholds{
		Leverage:           d("1"),
		AssetTakeProfitPct: pctPtr("10"),
	}, &mockLogger{})
	defer mon.Close()
	ctx := context.Background()

	mon.ResetInitialAsset(d("2000"))
	mon.OnEvent(ctx, exchange.Event{Kind: exchange.EventBalance, Balance: d("2100")}) // only +5%
	time.Sleep(20 * time.Millisecond)
	if mon.Triggered(AssetTakeProfit) {
		t.Fatal("a 5%% move should not breach a 10%% take-profit threshold")
	}

	mon.OnEvent(ctx, exchange.Event{Kind: exchange.EventBalance, Balance: d("2300")}) // +15% off the reset baseline
	waitFor(t, func() bool { return mon.Triggered(AssetTakeProfit) })
}
