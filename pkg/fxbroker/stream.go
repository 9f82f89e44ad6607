package fxbroker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/tidwall/gjson"

	"fxtrader/internal/model"
)

const (
	// HeartBeatTimeout is how long the stream may stay silent before the
	// connection is considered dead. The broker heartbeats every 5s.
	HeartBeatTimeout = 20 * time.Second
	writeWait        = time.Second
)

// StreamTicks subscribes to pricing for instruments and calls fn for every
// PRICE message until ctx is cancelled. Disconnects are retried up to
// MaxReconnect times in a row; a rejected handshake is returned at once.
func (c *Client) StreamTicks(ctx context.Context, instruments []string, fn model.TickHandler) error {
	if c.cfg.StreamURL == "" {
		return errors.New("fxbroker: stream url not configured")
	}
	b := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 30 * time.Second, Factor: 2, Jitter: true}
	failures := 0
	for {
		delivered, err := c.streamOnce(ctx, instruments, fn)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, model.ErrUnauthorized) {
			return err
		}
		if delivered {
			failures = 0
			b.Reset()
		}
		failures++
		if failures > c.cfg.MaxReconnect {
			return fmt.Errorf("fxbroker: stream: %d reconnects exhausted: %w", c.cfg.MaxReconnect, err)
		}
		wait := b.Duration()
		log.Printf("[fxbroker] stream dropped (%v), reconnect %d/%d in %s", err, failures, c.cfg.MaxReconnect, wait)
		if c.OnReconnect != nil {
			c.OnReconnect()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// streamOnce runs one connection. delivered reports whether any tick arrived.
func (c *Client) streamOnce(ctx context.Context, instruments []string, fn model.TickHandler) (delivered bool, err error) {
	u, err := url.Parse(c.cfg.StreamURL)
	if err != nil {
		return false, fmt.Errorf("fxbroker: stream url: %w", err)
	}
	q := u.Query()
	q.Set("instruments", strings.Join(instruments, ","))
	if c.cfg.AccountID != "" {
		q.Set("accountID", c.cfg.AccountID)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if tok := c.bearer(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			if cerr := classify(resp.StatusCode, nil); cerr != nil {
				return false, cerr
			}
		}
		return false, fmt.Errorf("%w: dial: %v", model.ErrTransient, err)
	}
	defer conn.Close()
	log.Printf("[fxbroker] stream connected: %s", strings.Join(instruments, ","))

	// Unblock ReadMessage on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(HeartBeatTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return delivered, fmt.Errorf("%w: read: %v", model.ErrTransient, err)
		}
		tick, ok := parseTick(msg)
		if !ok {
			continue
		}
		delivered = true
		fn(tick)
	}
}

// parseTick decodes a PRICE message. HEARTBEAT and unknown messages return false.
func parseTick(msg []byte) (model.Tick, bool) {
	if !gjson.ValidBytes(msg) {
		return model.Tick{}, false
	}
	r := gjson.ParseBytes(msg)
	if r.Get("type").String() != "PRICE" {
		return model.Tick{}, false
	}
	bid := r.Get("bids.0.price").Float()
	ask := r.Get("asks.0.price").Float()
	if bid <= 0 || ask <= 0 {
		return model.Tick{}, false
	}
	ts := parseTime(r.Get("time"))
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return model.Tick{
		Instrument: r.Get("instrument").String(),
		Time:       ts,
		Bid:        bid,
		Ask:        ask,
		Volume:     1,
	}, true
}
