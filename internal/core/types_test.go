package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestClassifySide(t *testing.T) {
	tests := []struct {
		name string
		net  string
		want PositionSide
	}{
		{"zero is flat", "0", Flat},
		{"dust below epsilon is flat", "0.00005", Flat},
		{"positive is long", "0.5", Long},
		{"negative is short", "-0.5", Short},
		{"exactly at epsilon is not flat", "0.0001", Long},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifySide(decimal.RequireFromString(tt.net))
			if got != tt.want {
				t.Errorf("ClassifySide(%s) = %s, want %s", tt.net, got, tt.want)
			}
		})
	}
}

func TestQuantizeTick(t *testing.T) {
	tick := decimal.NewFromFloat(0.5)

	buy := QuantizeTick(decimal.NewFromFloat(100.7), tick, Buy)
	if !buy.Equal(decimal.NewFromFloat(100.5)) {
		t.Errorf("BUY quantize = %s, want 100.5 (floor)", buy)
	}

	sell := QuantizeTick(decimal.NewFromFloat(100.3), tick, Sell)
	if !sell.Equal(decimal.NewFromFloat(100.5)) {
		t.Errorf("SELL quantize = %s, want 100.5 (ceil)", sell)
	}

	if z := QuantizeTick(decimal.NewFromFloat(100.7), decimal.Zero, Buy); !z.Equal(decimal.NewFromFloat(100.7)) {
		t.Errorf("zero tick should pass price through unchanged, got %s", z)
	}
}

func TestQuantizeStep(t *testing.T) {
	step := decimal.NewFromFloat(0.001)
	got := QuantizeStep(decimal.NewFromFloat(0.0129), step)
	if !got.Equal(decimal.NewFromFloat(0.012)) {
		t.Errorf("QuantizeStep = %s, want 0.012 (floor, never rounds up)", got)
	}
}

func TestSideOpposite(t *testing.T) {
	if Buy.Opposite() != Sell {
		t.Error("Buy.Opposite() should be Sell")
	}
	if Sell.Opposite() != Buy {
		t.Error("Sell.Opposite() should be Buy")
	}
}

func TestPriceTolerance(t *testing.T) {
	tick := decimal.NewFromFloat(0.5)
	got := PriceTolerance(tick)
	want := decimal.NewFromFloat(0.505)
	if !got.Equal(want) {
		t.Errorf("PriceTolerance(0.5) = %s, want %s", got, want)
	}
}
