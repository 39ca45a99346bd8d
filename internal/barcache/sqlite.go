package barcache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"quantsim/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Cache = (*SQLiteCache)(nil)

// SQLiteCache persists cached bar series in a SQLite database so they
// survive process restarts.
type SQLiteCache struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS series (
	id          INTEGER PRIMARY KEY,
	instrument  TEXT    NOT NULL,
	frequency   INTEGER NOT NULL,
	start_ms    INTEGER NOT NULL,
	end_ms      INTEGER NOT NULL,
	UNIQUE (instrument, frequency, start_ms, end_ms)
);
CREATE TABLE IF NOT EXISTS bars (
	series_id     INTEGER NOT NULL REFERENCES series(id) ON DELETE CASCADE,
	ts_ms         INTEGER NOT NULL,
	open          REAL    NOT NULL,
	high          REAL    NOT NULL,
	low           REAL    NOT NULL,
	close         REAL    NOT NULL,
	volume        REAL    NOT NULL,
	adj_close     REAL    NOT NULL,
	has_adj_close INTEGER NOT NULL,
	session_close INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS bars_series_ts ON bars(series_id, ts_ms);
`

// NewSQLiteCache opens (or creates) a cache database at dbPath.
func NewSQLiteCache(dbPath string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

// Close closes the underlying database connection.
func (c *SQLiteCache) Close() error { return c.db.Close() }

// Get returns the cached bars for key.
func (c *SQLiteCache) Get(ctx context.Context, key Key) ([]domain.Bar, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}

	var seriesID int64
	err := c.db.QueryRowContext(ctx,
		`SELECT id FROM series WHERE instrument = ? AND frequency = ? AND start_ms = ? AND end_ms = ?`,
		key.Instrument, int64(key.Frequency), key.Start.UnixMilli(), key.End.UnixMilli(),
	).Scan(&seriesID)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("looking up series %s: %w", key, err)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT ts_ms, open, high, low, close, volume, adj_close, has_adj_close, session_close
		 FROM bars WHERE series_id = ? ORDER BY ts_ms`, seriesID)
	if err != nil {
		return nil, false, fmt.Errorf("reading bars for %s: %w", key, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var (
			tsMS                 int64
			hasAdj, sessionClose int
			bar                  domain.Bar
		)
		if err := rows.Scan(&tsMS, &bar.Open, &bar.High, &bar.Low, &bar.Close,
			&bar.Volume, &bar.AdjClose, &hasAdj, &sessionClose); err != nil {
			return nil, false, err
		}
		bar.Symbol = key.Instrument
		bar.Timestamp = time.UnixMilli(tsMS).UTC()
		bar.Frequency = key.Frequency
		bar.HasAdjClose = hasAdj != 0
		bar.SessionClose = sessionClose != 0
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return bars, true, nil
}

// Put stores bars under key, replacing any previous entry.
func (c *SQLiteCache) Put(ctx context.Context, key Key, bars []domain.Bar) error {
	if err := key.Validate(); err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM series WHERE instrument = ? AND frequency = ? AND start_ms = ? AND end_ms = ?`,
		key.Instrument, int64(key.Frequency), key.Start.UnixMilli(), key.End.UnixMilli()); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO series (instrument, frequency, start_ms, end_ms) VALUES (?, ?, ?, ?)`,
		key.Instrument, int64(key.Frequency), key.Start.UnixMilli(), key.End.UnixMilli())
	if err != nil {
		return fmt.Errorf("inserting series %s: %w", key, err)
	}
	seriesID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO bars (series_id, ts_ms, open, high, low, close, volume, adj_close, has_adj_close, session_close)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, bar := range bars {
		if _, err := stmt.ExecContext(ctx, seriesID, bar.Timestamp.UnixMilli(),
			bar.Open, bar.High, bar.Low, bar.Close, bar.Volume,
			bar.AdjClose, boolInt(bar.HasAdjClose), boolInt(bar.SessionClose)); err != nil {
			return fmt.Errorf("inserting bar %s@%s: %w", bar.Symbol, bar.Timestamp, err)
		}
	}
	return tx.Commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
