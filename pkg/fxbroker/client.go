// Package fxbroker is the REST and websocket client for the FX broker's v3
// API. It implements model.BrokerGateway.
//
// Routes follow the broker's account-scoped layout:
//
//	GET  /v3/accounts/{account}/summary
//	GET  /v3/accounts/{account}/openTrades
//	POST /v3/accounts/{account}/orders
//	GET  /v3/accounts/{account}/orders/{order}
//	PUT  /v3/accounts/{account}/orders/{order}/cancel
//	GET  /v3/accounts/{account}/trades/{trade}
//	PUT  /v3/accounts/{account}/trades/{trade}/close
//	GET  /v3/instruments/{instrument}/candles
//	POST /v3/session
//
// Responses are parsed with gjson; non-2xx statuses are mapped onto the
// model error taxonomy. Unknown ids also wrap ErrNotFound.
package fxbroker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/tidwall/gjson"

	"fxtrader/internal/breaker"
	"fxtrader/internal/model"
)

const (
	defaultTimeout      = 7 * time.Second
	defaultMaxRetries   = 3
	defaultPollInterval = time.Second
	defaultPollAttempts = 5
)

var routes = map[string]string{
	"account.summary": "/v3/accounts/%s/summary",
	"trades.open":     "/v3/accounts/%s/openTrades",
	"orders.create":   "/v3/accounts/%s/orders",
	"orders.get":      "/v3/accounts/%s/orders/%s",
	"orders.cancel":   "/v3/accounts/%s/orders/%s/cancel",
	"trades.get":      "/v3/accounts/%s/trades/%s",
	"trades.close":    "/v3/accounts/%s/trades/%s/close",
	"candles":         "/v3/instruments/%s/candles",
	"session":         "/v3/session",
}

// Config configures the broker client.
type Config struct {
	BaseURL   string // e.g. https://api.fxbroker.example
	StreamURL string // e.g. wss://stream.fxbroker.example/v3/pricing
	AccountID string
	Token     string // static API token; when empty, Login is required

	User       string
	Password   string
	TOTPSecret string

	Timeout      time.Duration
	MaxRetries   int           // transient retries per request
	PollInterval time.Duration // fill confirmation poll interval
	PollAttempts int           // fill confirmation attempts
	MaxReconnect int           // stream reconnects before giving up
}

// Client talks to the broker REST API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	cb         *breaker.Breaker

	mu    sync.RWMutex
	token string

	// OnRetry is called for each transient retry (for metrics).
	OnRetry func(route string)
	// OnReconnect is called before each stream reconnect.
	OnReconnect func()
}

// New creates a broker client. cb may be nil.
func New(cfg Config, cb *breaker.Breaker) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = defaultPollAttempts
	}
	if cfg.MaxReconnect <= 0 {
		cfg.MaxReconnect = 5
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cb != nil && cb.Counts == nil {
		cb.Counts = func(err error) bool { return errors.Is(err, model.ErrTransient) }
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cb:         cb,
		token:      cfg.Token,
	}
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(t string) {
	c.mu.Lock()
	c.token = t
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) buildURL(route string, args ...any) (string, error) {
	tmpl, ok := routes[route]
	if !ok {
		return "", fmt.Errorf("fxbroker: unknown route: %s", route)
	}
	escaped := make([]any, len(args))
	for i, a := range args {
		escaped[i] = url.PathEscape(fmt.Sprint(a))
	}
	return c.cfg.BaseURL + fmt.Sprintf(tmpl, escaped...), nil
}

// request performs one API call with bounded retries on transient failures.
func (c *Client) request(ctx context.Context, method, route string, query url.Values, body any, args ...any) (gjson.Result, error) {
	fullURL, err := c.buildURL(route, args...)
	if err != nil {
		return gjson.Result{}, err
	}
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return gjson.Result{}, fmt.Errorf("fxbroker: %s: marshal: %w", route, err)
		}
	}

	b := &backoff.Backoff{Min: 200 * time.Millisecond, Max: 2 * time.Second, Factor: 2}
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if c.OnRetry != nil {
				c.OnRetry(route)
			}
			select {
			case <-ctx.Done():
				return gjson.Result{}, ctx.Err()
			case <-time.After(b.Duration()):
			}
		}

		var res gjson.Result
		call := func() error {
			var err error
			res, err = c.do(ctx, method, fullURL, payload)
			return err
		}
		if c.cb != nil {
			err = c.cb.Execute(call)
		} else {
			err = call()
		}
		if err == nil {
			return res, nil
		}
		if errors.Is(err, breaker.ErrCircuitOpen) {
			return gjson.Result{}, fmt.Errorf("fxbroker: %s: %w: %v", route, model.ErrTransient, err)
		}
		if !errors.Is(err, model.ErrTransient) {
			return gjson.Result{}, fmt.Errorf("fxbroker: %s: %w", route, err)
		}
		lastErr = err
		log.Printf("[fxbroker] %s attempt %d failed: %v", route, attempt+1, err)
	}
	return gjson.Result{}, fmt.Errorf("fxbroker: %s: retries exhausted: %w", route, lastErr)
}

func (c *Client) do(ctx context.Context, method, fullURL string, payload []byte) (gjson.Result, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, rd)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.bearer(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return gjson.Result{}, ctx.Err()
		}
		return gjson.Result{}, fmt.Errorf("%w: %v", model.ErrTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: read body: %v", model.ErrTransient, err)
	}
	if err := classify(resp.StatusCode, raw); err != nil {
		return gjson.Result{}, err
	}
	if len(raw) > 0 && !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("couldn't parse JSON response: %.120s", raw)
	}
	return gjson.ParseBytes(raw), nil
}

// notFoundCodes are broker error codes for ids the account no longer has.
var notFoundCodes = map[string]bool{
	"NO_SUCH_TRADE":      true,
	"NO_SUCH_ORDER":      true,
	"TRADE_DOESNT_EXIST": true,
	"ORDER_DOESNT_EXIST": true,
}

// classify maps an HTTP status onto the broker error taxonomy.
func classify(status int, raw []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := gjson.GetBytes(raw, "errorMessage").String()
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %d %s", model.ErrUnauthorized, status, msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: %d %s", model.ErrTransient, status, msg)
	case status == http.StatusNotFound || notFoundCodes[gjson.GetBytes(raw, "errorCode").String()]:
		return fmt.Errorf("%w: %w: %d %s", model.ErrRejected, model.ErrNotFound, status, msg)
	default:
		return fmt.Errorf("%w: %d %s", model.ErrRejected, status, msg)
	}
}
