package execution

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxtrader/internal/model"
	"fxtrader/internal/store/sqlite"
)

type sinkLog struct {
	mu      sync.Mutex
	streams []string
	payload [][]byte
}

func (s *sinkLog) Append(stream string, payload []byte) {
	s.mu.Lock()
	s.streams = append(s.streams, stream)
	s.payload = append(s.payload, payload)
	s.mu.Unlock()
}

func openJournal(t *testing.T, sink EventSink) *Journal {
	t.Helper()
	st, err := sqlite.Open(sqlite.Config{DBPath: filepath.Join(t.TempDir(), "journal.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	j, err := NewJournal(st.DB(), sink, "events:trades")
	require.NoError(t, err)
	return j
}

func TestJournal_RecordAndRead(t *testing.T) {
	sink := &sinkLog{}
	j := openJournal(t, sink)
	ctx := context.Background()
	at := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)

	require.NoError(t, j.Record(ctx, TradeEvent{
		Kind: EventOpen, Instrument: "USD_JPY", Tag: model.TagATR, Side: model.Buy,
		Units: 1000, Price: 150.1, StopLoss: 149.8, TradeID: "T1", OrderID: "S1", At: at,
	}))
	require.NoError(t, j.Record(ctx, TradeEvent{
		Kind: EventClose, Instrument: "USD_JPY", Tag: model.TagATR, Side: model.Buy,
		Units: 1000, Price: 150.5, TradeID: "T1", PnL: 400, At: at.Add(time.Minute),
	}))

	rows, err := j.GetTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, EventClose, rows[0].Kind)
	assert.InDelta(t, 400, rows[0].PnL, 1e-9)
	assert.Equal(t, EventOpen, rows[1].Kind)
	assert.Equal(t, "S1", rows[1].OrderID)
	assert.True(t, rows[1].At.Equal(at))

	require.Len(t, sink.payload, 2)
	assert.Equal(t, "events:trades", sink.streams[0])
	var ev TradeEvent
	require.NoError(t, json.Unmarshal(sink.payload[0], &ev))
	assert.Equal(t, "T1", ev.TradeID)
}

func TestJournal_NilSink(t *testing.T) {
	j := openJournal(t, nil)
	require.NoError(t, j.Record(context.Background(), TradeEvent{Kind: EventReconcileDrop, Instrument: "EUR_USD", Tag: model.TagEMA}))
	rows, err := j.GetTrades(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].At.IsZero())
}
