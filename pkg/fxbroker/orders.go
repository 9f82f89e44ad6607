package fxbroker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"fxtrader/internal/model"
)

var _ model.BrokerGateway = (*Client)(nil)

// GetBalance returns the account summary.
func (c *Client) GetBalance(ctx context.Context) (model.Balance, error) {
	res, err := c.request(ctx, http.MethodGet, "account.summary", nil, nil, c.cfg.AccountID)
	if err != nil {
		return model.Balance{}, err
	}
	acct := res.Get("account")
	return model.Balance{
		Currency:           acct.Get("currency").String(),
		Available:          acct.Get("balance").Float(),
		RequiredCollateral: acct.Get("marginUsed").Float(),
		FetchedAt:          time.Now().UTC(),
	}, nil
}

// GetOpenTrades lists open trades. The sign of currentUnits gives the side.
func (c *Client) GetOpenTrades(ctx context.Context, instrument string) ([]model.Trade, error) {
	var q url.Values
	if instrument != "" {
		q = url.Values{"instrument": {instrument}}
	}
	res, err := c.request(ctx, http.MethodGet, "trades.open", q, nil, c.cfg.AccountID)
	if err != nil {
		return nil, err
	}
	items := res.Get("trades").Array()
	out := make([]model.Trade, 0, len(items))
	for _, t := range items {
		tr := parseTrade(t)
		if instrument != "" && tr.Instrument != "" && tr.Instrument != instrument {
			continue
		}
		out = append(out, tr)
	}
	return out, nil
}

// SendOrder submits order and waits for its fill. An order still working
// when the wait expires or ctx ends is cancelled before returning.
func (c *Client) SendOrder(ctx context.Context, order model.Order) (model.Trade, error) {
	orderID, err := c.createOrder(ctx, order)
	if err != nil {
		return model.Trade{}, err
	}
	tradeID, err := c.waitFill(ctx, orderID)
	if err != nil {
		if errors.Is(err, model.ErrOrderTimeout) || ctx.Err() != nil {
			return model.Trade{}, c.abandonOrder(ctx, order, orderID, err)
		}
		return model.Trade{}, err
	}
	return c.TradeDetails(ctx, tradeID)
}

// abandonOrder cancels an unfilled entry order. It runs on a detached
// context so a cancelled cycle still withdraws the order.
func (c *Client) abandonOrder(ctx context.Context, order model.Order, orderID string, cause error) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
	defer cancel()
	if _, err := c.request(cctx, http.MethodPut, "orders.cancel", nil, nil, c.cfg.AccountID, orderID); err != nil {
		log.Printf("[fxbroker] order %s %s %s still working, cancel failed: %v", orderID, order.Type, order.Instrument, err)
		return fmt.Errorf("fxbroker: order %s: %w: %w: cancel: %v", orderID, model.ErrOrderUnresolved, cause, err)
	}
	log.Printf("[fxbroker] order %s %s %s cancelled after %v", orderID, order.Type, order.Instrument, cause)
	return cause
}

// SendStopOrder places a resting stop and returns its order id as TradeID.
func (c *Client) SendStopOrder(ctx context.Context, order model.Order) (model.Trade, error) {
	order.Type = model.OrderStop
	orderID, err := c.createOrder(ctx, order)
	if err != nil {
		return model.Trade{}, err
	}
	return model.Trade{
		TradeID:    orderID,
		Instrument: order.Instrument,
		Side:       order.Side,
		Price:      order.Price,
		Units:      order.Units,
		OpenTime:   time.Now().UTC(),
	}, nil
}

// CancelStopOrder cancels a resting stop order.
func (c *Client) CancelStopOrder(ctx context.Context, instrument, orderID string) bool {
	if orderID == "" {
		return false
	}
	_, err := c.request(ctx, http.MethodPut, "orders.cancel", nil, nil, c.cfg.AccountID, orderID)
	if err != nil {
		log.Printf("[fxbroker] cancel stop %s on %s failed: %v", orderID, instrument, err)
		return false
	}
	return true
}

// CloseTrade closes an open trade at market.
func (c *Client) CloseTrade(ctx context.Context, tradeID string) (model.Trade, error) {
	res, err := c.request(ctx, http.MethodPut, "trades.close", nil, nil, c.cfg.AccountID, tradeID)
	if err != nil {
		return model.Trade{}, err
	}
	fill := res.Get("orderFillTransaction")
	units := fill.Get("units").Float()
	return model.Trade{
		TradeID:    tradeID,
		Instrument: fill.Get("instrument").String(),
		Side:       sideOf(units),
		Price:      fill.Get("price").Float(),
		Units:      math.Abs(units),
		OpenTime:   parseTime(fill.Get("time")),
	}, nil
}

// TradeDetails fetches a single trade.
func (c *Client) TradeDetails(ctx context.Context, tradeID string) (model.Trade, error) {
	res, err := c.request(ctx, http.MethodGet, "trades.get", nil, nil, c.cfg.AccountID, tradeID)
	if err != nil {
		return model.Trade{}, err
	}
	tr := parseTrade(res.Get("trade"))
	if tr.TradeID == "" {
		tr.TradeID = tradeID
	}
	return tr, nil
}

// GetCandles fetches up to count completed candles for backfill.
func (c *Client) GetCandles(ctx context.Context, instrument string, d model.Duration, count int) ([]model.Candle, error) {
	gran, ok := granularities[d]
	if !ok {
		return nil, fmt.Errorf("fxbroker: no granularity for duration %s", d)
	}
	q := url.Values{
		"count":       {strconv.Itoa(count)},
		"granularity": {gran},
		"price":       {"M"},
	}
	res, err := c.request(ctx, http.MethodGet, "candles", q, nil, instrument)
	if err != nil {
		return nil, err
	}
	items := res.Get("candles").Array()
	out := make([]model.Candle, 0, len(items))
	for _, it := range items {
		if it.Get("complete").Exists() && !it.Get("complete").Bool() {
			continue
		}
		mid := it.Get("mid")
		out = append(out, model.Candle{
			Instrument: instrument,
			Duration:   d,
			Time:       d.Truncate(parseTime(it.Get("time"))),
			Open:       mid.Get("o").Float(),
			High:       mid.Get("h").Float(),
			Low:        mid.Get("l").Float(),
			Close:      mid.Get("c").Float(),
			Volume:     it.Get("volume").Float(),
		})
	}
	return out, nil
}

var granularities = map[model.Duration]string{
	model.Duration5S:  "S5",
	model.Duration1M:  "M1",
	model.Duration5M:  "M5",
	model.Duration15M: "M15",
	model.Duration30M: "M30",
	model.Duration1H:  "H1",
	model.Duration1D:  "D",
}

func (c *Client) createOrder(ctx context.Context, order model.Order) (string, error) {
	units := order.Units
	if order.Side == model.Sell {
		units = -units
	}
	body := map[string]any{
		"type":        string(order.Type),
		"instrument":  order.Instrument,
		"units":       strconv.FormatFloat(units, 'f', -1, 64),
		"timeInForce": "GTC",
	}
	switch order.Type {
	case model.OrderTrail:
		body["distance"] = strconv.FormatFloat(order.Price, 'f', -1, 64)
	case model.OrderStop:
		body["price"] = strconv.FormatFloat(order.Price, 'f', -1, 64)
	case model.OrderMarket:
		body["timeInForce"] = "FOK"
	}
	if order.ClientOrderID != "" {
		body["clientExtensions"] = map[string]string{"id": order.ClientOrderID}
	}

	res, err := c.request(ctx, http.MethodPost, "orders.create", nil, map[string]any{"order": body}, c.cfg.AccountID)
	if err != nil {
		return "", err
	}
	if rej := res.Get("orderRejectTransaction"); rej.Exists() {
		return "", fmt.Errorf("fxbroker: order %s %s: %w: %s", order.Type, order.Instrument, model.ErrRejected, rej.Get("rejectReason").String())
	}
	id := res.Get("orderCreateTransaction.id").String()
	if id == "" {
		return "", fmt.Errorf("fxbroker: order %s %s: missing order id", order.Type, order.Instrument)
	}
	log.Printf("[fxbroker] order %s created: %s %s %v", id, order.Type, order.Instrument, units)
	return id, nil
}

// waitFill polls the order until it is FILLED and returns the filling trade id.
func (c *Client) waitFill(ctx context.Context, orderID string) (string, error) {
	for attempt := 0; attempt < c.cfg.PollAttempts; attempt++ {
		res, err := c.request(ctx, http.MethodGet, "orders.get", nil, nil, c.cfg.AccountID, orderID)
		if err != nil {
			return "", err
		}
		o := res.Get("order")
		switch o.Get("state").String() {
		case "FILLED":
			id := o.Get("tradeOpenedID").String()
			if id == "" {
				id = o.Get("fillingTransactionID").String()
			}
			return id, nil
		case "CANCELLED":
			return "", fmt.Errorf("fxbroker: order %s: %w: cancelled", orderID, model.ErrRejected)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}
	return "", fmt.Errorf("fxbroker: order %s: %w", orderID, model.ErrOrderTimeout)
}

func parseTrade(t gjson.Result) model.Trade {
	units := t.Get("currentUnits").Float()
	if units == 0 {
		units = t.Get("initialUnits").Float()
	}
	return model.Trade{
		TradeID:    t.Get("id").String(),
		Instrument: t.Get("instrument").String(),
		Side:       sideOf(units),
		Price:      t.Get("price").Float(),
		Units:      math.Abs(units),
		OpenTime:   parseTime(t.Get("openTime")),
	}
}

func sideOf(units float64) model.Side {
	if units < 0 {
		return model.Sell
	}
	return model.Buy
}

func parseTime(r gjson.Result) time.Time {
	if !r.Exists() {
		return time.Time{}
	}
	s := r.String()
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	return time.Time{}
}
