// Package restclient implements internal/exchange.Adapter against a
// perpetual-futures REST+WebSocket exchange API, grounded on the resty setup
// in 0xtitan6-polymarket-mm/internal/exchange/client.go (base URL, timeout,
// retry-on-5xx) and the streamed-state-accessor pattern from the teacher's
// internal/adapters implementations.
package restclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"gridbot/internal/apperrors"
	"gridbot/internal/core"
	"gridbot/internal/exchange"
	"gridbot/internal/exchange/wsfeed"
	"gridbot/internal/retry"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Client is the REST+WebSocket Adapter implementation.
type Client struct {
	http   *resty.Client
	feed   *wsfeed.Feed
	logger core.ILogger
	policy retry.RetryPolicy

	symbol string
	tick   decimal.Decimal
	step   decimal.Decimal
	strictPostOnly bool

	mu          sync.RWMutex
	lastPrice   decimal.Decimal
	havePrice   bool
	lastBalance decimal.Decimal
	haveBalance bool
	lastPos     []exchange.Position
	havePos     bool

	events chan exchange.Event
	done   chan struct{}
}

// Config bundles what the adapter needs to reach one exchange/symbol pair.
type Config struct {
	BaseURL   string
	StreamURL string
	APIKey    string
	APISecret string
	Symbol    string
	Tick      decimal.Decimal
	Step      decimal.Decimal
	// StrictPostOnly rejects a POST_ONLY order with MakerViolation when no
	// best-quote is available to clamp against, instead of placing it
	// unclamped (§4.1 "it may reject with MakerViolation under a
	// configurable strict mode").
	StrictPostOnly bool
}

// New builds a Client, starting the background WebSocket feed.
func New(cfg Config, logger core.ILogger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(0). // retries are driven explicitly by internal/retry, not resty
		SetHeader("Content-Type", "application/json").
		SetHeader("X-API-KEY", cfg.APIKey)

	c := &Client{
		http:   httpClient,
		logger: logger,
		policy: retry.DefaultPolicy,
		symbol: cfg.Symbol,
		tick:   cfg.Tick,
		step:   cfg.Step,
		strictPostOnly: cfg.StrictPostOnly,
		events: make(chan exchange.Event, 256),
		done:   make(chan struct{}),
	}

	if cfg.StreamURL != "" {
		c.feed = wsfeed.NewFeed(cfg.StreamURL, logger)
		c.feed.SetOnConnected(func() {
			_ = c.feed.Send(map[string]string{"op": "subscribe", "channel": "ticker", "symbol": cfg.Symbol})
			_ = c.feed.Send(map[string]string{"op": "subscribe", "channel": "positions"})
			_ = c.feed.Send(map[string]string{"op": "subscribe", "channel": "balance"})
		})
		c.feed.Start()
		go c.pump()
	}

	return c
}

func (c *Client) pump() {
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-c.feed.Events():
			if !ok {
				return
			}
			c.mu.Lock()
			switch ev.Kind {
			case exchange.EventTicker:
				c.lastPrice, c.havePrice = ev.Price, true
			case exchange.EventBalance:
				c.lastBalance, c.haveBalance = ev.Balance, true
			case exchange.EventPositions:
				c.lastPos, c.havePos = ev.Positions, true
			}
			c.mu.Unlock()

			select {
			case c.events <- ev:
			default:
				if c.logger != nil {
					c.logger.Warn("restclient: event channel full, dropping")
				}
			}
		}
	}
}

func isTransientHTTP(err error, status int) bool {
	if err != nil {
		return true
	}
	return status == http.StatusTooManyRequests || status >= 500
}

type tickerResp struct {
	Price decimal.Decimal `json:"price"`
}

func (c *Client) Ticker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	var out exchange.Ticker
	var body tickerResp
	err := retry.Do(ctx, c.policy, apperrors.IsTransient, func() error {
		resp, reqErr := c.http.R().SetContext(ctx).SetQueryParam("symbol", symbol).SetResult(&body).Get("/market/ticker")
		status := 0
		if resp != nil {
			status = resp.StatusCode()
		}
		if isTransientHTTP(reqErr, status) {
			return apperrors.NewTransient("ticker", reqErr)
		}
		if reqErr != nil {
			return reqErr
		}
		if status != http.StatusOK {
			return fmt.Errorf("ticker: status %d: %s", status, resp.String())
		}
		return nil
	})
	if err != nil {
		return out, err
	}
	out.Price = body.Price
	out.At = time.Now()
	return out, nil
}

type bookResp struct {
	Bid *decimal.Decimal `json:"bid"`
	Ask *decimal.Decimal `json:"ask"`
}

func (c *Client) BestBidAsk(ctx context.Context, symbol string) (exchange.BestQuote, error) {
	var out exchange.BestQuote
	var body bookResp
	err := retry.Do(ctx, c.policy, apperrors.IsTransient, func() error {
		resp, reqErr := c.http.R().SetContext(ctx).SetQueryParam("symbol", symbol).SetResult(&body).Get("/market/bbo")
		status := 0
		if resp != nil {
			status = resp.StatusCode()
		}
		if isTransientHTTP(reqErr, status) {
			return apperrors.NewTransient("bbo", reqErr)
		}
		if reqErr != nil {
			return reqErr
		}
		if status != http.StatusOK {
			return fmt.Errorf("bbo: status %d: %s", status, resp.String())
		}
		return nil
	})
	if err != nil {
		return out, err
	}
	return exchange.BestQuote{Bid: body.Bid, Ask: body.Ask}, nil
}

type placeReq struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Price         string `json:"price,omitempty"`
	Qty           string `json:"qty"`
	Type          string `json:"type"`
	TIF           string `json:"timeInForce,omitempty"`
	ClientOrderID string `json:"clientOrderId"`
}

type placeResp struct {
	OrderID string `json:"orderId"`
}

func tifString(tif exchange.TimeInForce) string {
	switch tif {
	case exchange.IOC:
		return "IOC"
	case exchange.FOK:
		return "FOK"
	case exchange.PostOnly:
		return "POST_ONLY"
	default:
		return "GTC"
	}
}

func (c *Client) PlaceLimit(ctx context.Context, symbol string, side core.Side, price, qty decimal.Decimal, tif exchange.TimeInForce) (string, error) {
	if tif == exchange.PostOnly {
		quote, err := c.BestBidAsk(ctx, symbol)
		if err != nil {
			quote = exchange.BestQuote{}
		}
		clamped, err := exchange.ClampPostOnly(price, c.tick, side, quote, c.strictPostOnly)
		if err != nil {
			return "", err
		}
		price = clamped
	}
	qp, qq := exchange.Quantize(price, qty, c.tick, c.step, side)
	req := placeReq{
		Symbol: symbol, Side: side.String(), Price: qp.String(), Qty: qq.String(),
		Type: "LIMIT", TIF: tifString(tif), ClientOrderID: uuid.NewString(),
	}

	var body placeResp
	err := func() error {
		resp, reqErr := c.http.R().SetContext(ctx).SetBody(req).SetResult(&body).Post("/orders")
		status := 0
		if resp != nil {
			status = resp.StatusCode()
		}
		if status == http.StatusTooManyRequests {
			return apperrors.NewTransient("place_limit", apperrors.ErrRateLimited)
		}
		if isTransientHTTP(reqErr, status) {
			return apperrors.NewTransient("place_limit", reqErr)
		}
		if reqErr != nil {
			return reqErr
		}
		if status == http.StatusUnprocessableEntity {
			return apperrors.ErrMakerViolation
		}
		if status >= 400 {
			return fmt.Errorf("%w: status %d: %s", apperrors.ErrRejected, status, resp.String())
		}
		return nil
	}()
	if errors.Is(err, context.DeadlineExceeded) {
		return "", fmt.Errorf("%w: %v", apperrors.ErrPlaceTimeout, err)
	}
	if err != nil {
		return "", err
	}
	return body.OrderID, nil
}

func (c *Client) PlaceMarket(ctx context.Context, symbol string, side core.Side, qty decimal.Decimal) (string, error) {
	_, qq := exchange.Quantize(decimal.Zero, qty, c.tick, c.step, side)
	req := placeReq{Symbol: symbol, Side: side.String(), Qty: qq.String(), Type: "MARKET", ClientOrderID: uuid.NewString()}

	var body placeResp
	err := func() error {
		resp, reqErr := c.http.R().SetContext(ctx).SetBody(req).SetResult(&body).Post("/orders")
		status := 0
		if resp != nil {
			status = resp.StatusCode()
		}
		if isTransientHTTP(reqErr, status) {
			return apperrors.NewTransient("place_market", reqErr)
		}
		if reqErr != nil {
			return reqErr
		}
		if status >= 400 {
			return fmt.Errorf("%w: status %d: %s", apperrors.ErrRejected, status, resp.String())
		}
		return nil
	}()
	if err != nil {
		return "", err
	}
	return body.OrderID, nil
}

func (c *Client) Cancel(ctx context.Context, orderID string) error {
	return retry.Do(ctx, c.policy, apperrors.IsTransient, func() error {
		resp, reqErr := c.http.R().SetContext(ctx).Delete("/orders/" + orderID)
		status := 0
		if resp != nil {
			status = resp.StatusCode()
		}
		if status == http.StatusNotFound {
			return nil // already gone: cancel is idempotent
		}
		if isTransientHTTP(reqErr, status) {
			return apperrors.NewTransient("cancel", reqErr)
		}
		if reqErr != nil {
			return reqErr
		}
		if status >= 400 {
			return fmt.Errorf("cancel: status %d: %s", status, resp.String())
		}
		return nil
	})
}

type openOrderDTO struct {
	OrderID string          `json:"orderId"`
	Symbol  string          `json:"symbol"`
	Side    string          `json:"side"`
	Price   decimal.Decimal `json:"price"`
	Qty     decimal.Decimal `json:"qty"`
	Status  string          `json:"status"`
}

func parseSide(s string) core.Side {
	if s == "SELL" {
		return core.Sell
	}
	return core.Buy
}

func parseStatus(s string) exchange.OrderStatus {
	switch s {
	case "OPEN", "NEW":
		return exchange.StatusOpen
	case "PARTIALLY_FILLED":
		return exchange.StatusPartiallyFilled
	default:
		return exchange.StatusOther
	}
}

func (c *Client) ListOpen(ctx context.Context, symbol string) ([]exchange.OpenOrder, error) {
	var dtos []openOrderDTO
	err := retry.Do(ctx, c.policy, apperrors.IsTransient, func() error {
		resp, reqErr := c.http.R().SetContext(ctx).SetQueryParam("symbol", symbol).SetResult(&dtos).Get("/orders/open")
		status := 0
		if resp != nil {
			status = resp.StatusCode()
		}
		if isTransientHTTP(reqErr, status) {
			return apperrors.NewTransient("list_open", reqErr)
		}
		if reqErr != nil {
			return reqErr
		}
		if status != http.StatusOK {
			return fmt.Errorf("list_open: status %d: %s", status, resp.String())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]exchange.OpenOrder, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, exchange.OpenOrder{
			OrderID: d.OrderID,
			Symbol:  d.Symbol,
			Side:    parseSide(d.Side),
			Price:   d.Price,
			Qty:     d.Qty,
			Status:  parseStatus(d.Status),
		})
	}
	return out, nil
}

type positionDTO struct {
	Symbol     string          `json:"symbol"`
	SignedSize decimal.Decimal `json:"size"`
	OpenValue  decimal.Decimal `json:"openValue"`
	Leverage   decimal.Decimal `json:"leverage"`
}

func (c *Client) ListPositions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	var dtos []positionDTO
	err := retry.Do(ctx, c.policy, apperrors.IsTransient, func() error {
		resp, reqErr := c.http.R().SetContext(ctx).SetQueryParam("symbol", symbol).SetResult(&dtos).Get("/positions")
		status := 0
		if resp != nil {
			status = resp.StatusCode()
		}
		if isTransientHTTP(reqErr, status) {
			return apperrors.NewTransient("list_positions", reqErr)
		}
		if reqErr != nil {
			return reqErr
		}
		if status != http.StatusOK {
			return fmt.Errorf("list_positions: status %d: %s", status, resp.String())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]exchange.Position, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, exchange.Position{Symbol: d.Symbol, SignedSize: d.SignedSize, OpenValue: d.OpenValue, Leverage: d.Leverage})
	}
	return out, nil
}

func (c *Client) Flatten(ctx context.Context, symbol string) (bool, error) {
	err := retry.Do(ctx, c.policy, apperrors.IsTransient, func() error {
		resp, reqErr := c.http.R().SetContext(ctx).SetBody(map[string]string{"symbol": symbol}).Post("/positions/flatten")
		status := 0
		if resp != nil {
			status = resp.StatusCode()
		}
		if isTransientHTTP(reqErr, status) {
			return apperrors.NewTransient("flatten", reqErr)
		}
		if reqErr != nil {
			return reqErr
		}
		if status >= 400 {
			return fmt.Errorf("flatten: status %d: %s", status, resp.String())
		}
		return nil
	})
	return err == nil, err
}

func (c *Client) CurrentPrice() (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPrice, c.havePrice
}

func (c *Client) CurrentBalance() (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastBalance, c.haveBalance
}

func (c *Client) CurrentPositions() ([]exchange.Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPos, c.havePos
}

func (c *Client) Subscribe() <-chan exchange.Event { return c.events }

func (c *Client) PriceTick(_ string) decimal.Decimal { return c.tick }
func (c *Client) QtyStep(_ string) decimal.Decimal   { return c.step }

func (c *Client) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	if c.feed != nil {
		c.feed.Stop()
	}
	return nil
}

var _ exchange.Adapter = (*Client)(nil)
var _ exchange.SupportsStreamPrice = (*Client)(nil)
var _ exchange.SupportsFlatten = (*Client)(nil)
