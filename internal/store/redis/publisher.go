// Package redis publishes live candles, strategy decisions and trade events
// to Redis for dashboards and downstream consumers.
//
// Keys and channels:
//
//	candle:{duration}:latest:{instrument}   SET, latest candle JSON
//	pub:candle:{duration}:{instrument}      PUBLISH, every candle update
//	pub:decision:{instrument}               PUBLISH, non-trivial decisions
//	events:trades                           XADD, trade journal events
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"fxtrader/internal/model"
)

const (
	TradeStream       = "events:trades"
	tradeStreamMaxLen = 50000
	defaultLatestTTL  = 30 * time.Minute
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes to Redis with pipelined commands.
type Publisher struct {
	client *goredis.Client
}

// New creates a Publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// Client returns the underlying Redis client.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Ping is used by the health check.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// PublishCandle stores the latest candle and fans it out over pubsub.
func (p *Publisher) PublishCandle(ctx context.Context, c model.Candle) error {
	jsonData := string(c.JSON())
	latestKey := "candle:" + string(c.Duration) + ":latest:" + c.Instrument
	pubsubCh := "pub:candle:" + string(c.Duration) + ":" + c.Instrument

	pipe := p.client.Pipeline()
	pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, pubsubCh, jsonData)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish candle %s: %w", c.Key(), err)
	}
	return nil
}

// PublishDecision announces a strategy decision for an instrument.
func (p *Publisher) PublishDecision(ctx context.Context, instrument string, payload []byte) error {
	if err := p.client.Publish(ctx, "pub:decision:"+instrument, string(payload)).Err(); err != nil {
		return fmt.Errorf("redis: publish decision %s: %w", instrument, err)
	}
	return nil
}

// AppendEvent XADDs payload to stream, trimming approximately.
func (p *Publisher) AppendEvent(ctx context.Context, stream string, payload []byte) error {
	err := p.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: tradeStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(payload)},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: xadd %s: %w", stream, err)
	}
	return nil
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
