package paramstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxtrader/internal/strategy"
)

func TestOpenMissingFileUsesDefaults(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "params.yaml"))
	require.NoError(t, err)
	assert.Equal(t, strategy.DefaultSet(), s.Current())
	assert.EqualValues(t, 1, s.Snapshot().Version)
}

func TestWriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	set := strategy.DefaultSet()
	set.EMA.Fast, set.EMA.Mid = 8, 21
	set.ADX.Enabled = false

	require.NoError(t, Write(path, Document{
		Params:  set,
		Ranking: []Rank{{Strategy: "ema", Performance: 0.12}},
	}))

	doc, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, set, doc.Params)
	assert.False(t, doc.UpdatedAt.IsZero())
	require.Len(t, doc.Ranking, 1)
	assert.Equal(t, "ema", doc.Ranking[0].Strategy)
}

func TestWriteRejectsInvalidParams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	set := strategy.DefaultSet()
	set.ATR.N = 0
	require.Error(t, Write(path, Document{Params: set}))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestReloadKeepsPreviousOnInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, Write(path, Document{Params: strategy.DefaultSet()}))
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("params:\n  ema:\n    fast: -1\n"), 0o644))
	require.Error(t, s.Reload())
	assert.Equal(t, strategy.DefaultSet(), s.Current())
	assert.EqualValues(t, 1, s.Snapshot().Version)

	require.NoError(t, os.WriteFile(path, []byte("params: [broken"), 0o644))
	require.Error(t, s.Reload())
	assert.EqualValues(t, 1, s.Snapshot().Version)
}

func TestReloadNotifiesListeners(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, Write(path, Document{Params: strategy.DefaultSet()}))
	s, err := Open(path)
	require.NoError(t, err)

	var got []Snapshot
	s.OnChange(func(snap Snapshot) { got = append(got, snap) })

	set := strategy.DefaultSet()
	set.EMA.Enabled = false
	require.NoError(t, Write(path, Document{Params: set}))
	require.NoError(t, s.Reload())

	require.Len(t, got, 1)
	assert.EqualValues(t, 2, got[0].Version)
	assert.False(t, s.Current().EMA.Enabled)
}

func TestWatchPicksUpAtomicWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, Write(path, Document{Params: strategy.DefaultSet()}))
	s, err := Open(path)
	require.NoError(t, err)

	changed := make(chan Snapshot, 4)
	s.OnChange(func(snap Snapshot) { changed <- snap })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	set := strategy.DefaultSet()
	set.ATR.K1 = 1.5
	require.NoError(t, Write(path, Document{Params: set}))

	select {
	case snap := <-changed:
		assert.Equal(t, 1.5, snap.Params.ATR.K1)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not reload")
	}
	cancel()
	require.NoError(t, <-done)
}
