package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fxtrader/internal/model"
)

// UpsertFromTick folds tick's mid price into the bucket of duration d.
// A new bucket is created with OHLC at the mid; an existing one extends its
// high and low, takes the new close and adds the volume.
func (s *Store) UpsertFromTick(ctx context.Context, instrument string, d model.Duration, tick model.Tick) (bool, error) {
	ts := d.Truncate(tick.Time).Unix()
	mid := tick.Mid()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("sqlite: upsert %s/%s: %w", instrument, d, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE candles
		SET high = MAX(high, ?), low = MIN(low, ?), close = ?, volume = volume + ?
		WHERE instrument = ? AND duration = ? AND ts = ?
	`, mid, mid, mid, tick.Volume, instrument, string(d), ts)
	if err != nil {
		return false, fmt.Errorf("sqlite: upsert %s/%s: %w", instrument, d, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: upsert %s/%s: %w", instrument, d, err)
	}

	created := n == 0
	if created {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO candles (instrument, duration, ts, open, high, low, close, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, instrument, string(d), ts, mid, mid, mid, mid, tick.Volume); err != nil {
			return false, fmt.Errorf("sqlite: insert %s/%s: %w", instrument, d, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("sqlite: commit %s/%s: %w", instrument, d, err)
	}
	return created, nil
}

// GetRecentCandles returns up to limit most recent candles, oldest first.
func (s *Store) GetRecentCandles(ctx context.Context, instrument string, d model.Duration, limit int) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume FROM (
			SELECT ts, open, high, low, close, volume
			FROM candles
			WHERE instrument = ? AND duration = ?
			ORDER BY ts DESC
			LIMIT ?
		) ORDER BY ts ASC
	`, instrument, string(d), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query candles %s/%s: %w", instrument, d, err)
	}
	defer rows.Close()
	return scanCandles(rows, instrument, d)
}

// GetCandlesBetween returns candles with from <= ts < to, oldest first.
func (s *Store) GetCandlesBetween(ctx context.Context, instrument string, d model.Duration, from, to time.Time) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE instrument = ? AND duration = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC
	`, instrument, string(d), from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite: query candles %s/%s: %w", instrument, d, err)
	}
	defer rows.Close()
	return scanCandles(rows, instrument, d)
}

// CountCandles returns how many candles are stored for the pair.
func (s *Store) CountCandles(ctx context.Context, instrument string, d model.Duration) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM candles WHERE instrument = ? AND duration = ?`,
		instrument, string(d),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count candles %s/%s: %w", instrument, d, err)
	}
	return n, nil
}

// SaveCandles inserts or replaces complete candles in a single transaction.
// Used for history backfill.
func (s *Store) SaveCandles(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (instrument, duration, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		ts := c.Duration.Truncate(c.Time).Unix()
		if _, err := stmt.ExecContext(ctx, c.Instrument, string(c.Duration), ts, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("sqlite: save candle %s: %w", c.Key(), err)
		}
	}
	return tx.Commit()
}

func scanCandles(rows *sql.Rows, instrument string, d model.Duration) ([]model.Candle, error) {
	var out []model.Candle
	for rows.Next() {
		c := model.Candle{Instrument: instrument, Duration: d}
		var ts int64
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite: scan candle: %w", err)
		}
		c.Time = time.Unix(ts, 0).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

var _ model.CandleStore = (*Store)(nil)
