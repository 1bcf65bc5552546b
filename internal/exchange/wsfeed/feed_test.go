package wsfeed

import (
	"testing"

	"gridbot/internal/exchange"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestFeed_HandleTickerFrame(t *testing.T) {
	f := NewFeed("", nil)
	f.handle([]byte(`{"channel":"ticker","price":"101.5"}`))

	ev := <-f.out
	if ev.Kind != exchange.EventTicker {
		t.Fatalf("expected a ticker event, got kind %v", ev.Kind)
	}
	if !ev.Price.Equal(d("101.5")) {
		t.Errorf("price = %s, want 101.5", ev.Price)
	}
}

func TestFeed_HandleBalanceFrame(t *testing.T) {
	f := NewFeed("", nil)
	f.handle([]byte(`{"channel":"balance","balance":"5000"}`))

	ev := <-f.out
	if ev.Kind != exchange.EventBalance || !ev.Balance.Equal(d("5000")) {
		t.Fatalf("unexpected balance event: %+v", ev)
	}
}

func TestFeed_HandlePositionsFrame(t *testing.T) {
	f := NewFeed("", nil)
	f.handle([]byte(`{"channel":"positions","positions":[{"symbol":"BTCUSD","size":"0.5","openValue":"5000","leverage":"10"}]}`))

	ev := <-f.out
	if ev.Kind != exchange.EventPositions {
		t.Fatalf("expected a positions event, got kind %v", ev.Kind)
	}
	if len(ev.Positions) != 1 || !ev.Positions[0].SignedSize.Equal(d("0.5")) {
		t.Fatalf("unexpected positions payload: %+v", ev.Positions)
	}
}

func TestFeed_UnknownChannelIsIgnored(t *testing.T) {
	f := NewFeed("", nil)
	f.handle([]byte(`{"channel":"unknown"}`))

	select {
	case ev := <-f.out:
		t.Fatalf("expected no event for an unrecognized channel, got %+v", ev)
	default:
	}
}

func TestFeed_MalformedFrameIsIgnored(t *testing.T) {
	f := NewFeed("", nil)
	f.handle([]byte(`not json`))

	select {
	case ev := <-f.out:
		t.Fatalf("expected no event for a malformed frame, got %+v", ev)
	default:
	}
}

