package wsfeed

import (
	"encoding/json"
	"time"

	"gridbot/internal/core"
	"gridbot/internal/exchange"

	"github.com/shopspring/decimal"
)

// rawMessage is the subset of the private-channel payload shapes this feed
// understands: a discriminated union on "channel", tolerant of the extra
// fields a real exchange payload carries (we only decode what we need).
type rawMessage struct {
	Channel   string          `json:"channel"`
	Price     decimal.Decimal `json:"price"`
	Balance   decimal.Decimal `json:"balance"`
	Positions []rawPosition   `json:"positions"`
}

type rawPosition struct {
	Symbol     string          `json:"symbol"`
	SignedSize decimal.Decimal `json:"size"`
	OpenValue  decimal.Decimal `json:"openValue"`
	Leverage   decimal.Decimal `json:"leverage"`
}

// Feed wraps a Client and republishes parsed frames as exchange.Event values
// on a bounded channel, matching the Adapter.Subscribe contract.
type Feed struct {
	client *Client
	out    chan exchange.Event
	logger core.ILogger
}

// NewFeed builds a Feed that dials url and parses its frames.
func NewFeed(url string, logger core.ILogger) *Feed {
	f := &Feed{
		out:    make(chan exchange.Event, 256),
		logger: logger,
	}
	f.client = NewClient(url, f.handle, logger)
	return f
}

// Start begins connecting and streaming.
func (f *Feed) Start() { f.client.Start() }

// Stop tears down the connection.
func (f *Feed) Stop() { f.client.Stop() }

// SetOnConnected registers the resubscribe callback, forwarded to the
// underlying Client.
func (f *Feed) SetOnConnected(cb func()) { f.client.SetOnConnected(cb) }

// Send forwards a subscription/control message over the live connection.
func (f *Feed) Send(msg interface{}) error { return f.client.Send(msg) }

// Events returns the channel of normalized events.
func (f *Feed) Events() <-chan exchange.Event { return f.out }

func (f *Feed) handle(raw []byte) {
	var msg rawMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		if f.logger != nil {
			f.logger.Warn("wsfeed: unparseable frame", "error", err)
		}
		return
	}

	now := time.Now()
	var ev exchange.Event

	switch msg.Channel {
	case "ticker":
		ev = exchange.Event{Kind: exchange.EventTicker, Price: msg.Price, At: now}
	case "balance":
		ev = exchange.Event{Kind: exchange.EventBalance, Balance: msg.Balance, At: now}
	case "positions":
		positions := make([]exchange.Position, 0, len(msg.Positions))
		for _, p := range msg.Positions {
			positions = append(positions, exchange.Position{
				Symbol:     p.Symbol,
				SignedSize: p.SignedSize,
				OpenValue:  p.OpenValue,
				Leverage:   p.Leverage,
			})
		}
		ev = exchange.Event{Kind: exchange.EventPositions, Positions: positions, At: now}
	default:
		return
	}

	select {
	case f.out <- ev:
	default:
		if f.logger != nil {
			f.logger.Warn("wsfeed: event channel full, dropping", "channel", msg.Channel)
		}
	}
}
