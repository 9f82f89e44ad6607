// cmd/tickserver serves a simulated pricing stream in the broker's websocket
// format so the trader can run in DRY_RUN mode without broker credentials.
//
// Point the trader at it with BROKER_STREAM_URL=ws://localhost:9001/v3/pricing/stream.
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  listen address (default ":9001")
//	TICK_INSTRUMENTS  comma-separated instruments (default "USD_JPY,EUR_JPY,EUR_USD")
//	TICK_INTERVAL_MS  price interval in milliseconds (default 250)
//	TICK_TOKEN        bearer token required from clients (default: none)
package main

import (
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tickserver] starting simulated pricing stream...")

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	symbols := envOrDefault("TICK_INSTRUMENTS", "USD_JPY,EUR_JPY,EUR_USD")
	intervalMs := envIntOrDefault("TICK_INTERVAL_MS", 250)
	token := os.Getenv("TICK_TOKEN")

	var quotes []quote
	for _, s := range strings.Split(symbols, ",") {
		if s = strings.TrimSpace(s); s != "" {
			quotes = append(quotes, newQuote(strings.ToUpper(s)))
		}
	}
	if len(quotes) == 0 {
		log.Fatalf("[tickserver] no instruments configured via TICK_INSTRUMENTS")
	}
	log.Printf("[tickserver] instruments: %s every %dms", symbols, intervalMs)

	h := newHub()
	gen := &generator{
		hub:       h,
		quotes:    quotes,
		interval:  time.Duration(intervalMs) * time.Millisecond,
		heartbeat: 5 * time.Second,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
	}
	go gen.run(make(chan struct{}))

	mux := http.NewServeMux()
	mux.HandleFunc("/v3/pricing/stream", streamHandler(h, token))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"status":"ok","service":"tickserver","clients":%d}`+"\n", h.count())
	})

	log.Printf("[tickserver] listening on %s (ws://localhost%s/v3/pricing/stream)", addr, addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("[tickserver] server error: %v", err)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
