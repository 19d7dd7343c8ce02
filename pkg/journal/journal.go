// Package journal implements the optional SQL persistence port: trade and
// sentiment history for offline analysis. Journaling never blocks or fails
// the trading core — callers are expected to log and continue on error.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no cgo

	"futures-agent/internal/sentiment"
)

// Stats is the aggregate view returned by GetStatistics.
type Stats struct {
	TotalTrades int
	Wins        int
	Losses      int
	TotalPnL    float64
	WinRate     float64
}

// DailyPerformance is one day's row from the daily_performance table.
type DailyPerformance struct {
	Date   string
	PnL    float64
	Trades int
	Wins   int
	Losses int
}

// Journal is the persistence port named in the external interfaces: trade
// lifecycle, sentiment snapshots, and read-side reporting.
type Journal interface {
	RecordTrade(symbol string, action string, qty int, entryPrice, confidence float64, reasoning string, openedAt time.Time) (int64, error)
	UpdateTradeExit(tradeID int64, exitPrice, pnl float64, closedAt time.Time) error
	RecordSentiment(agg *sentiment.AggregatedSentiment, recordedAt time.Time) error
	GetDailyPerformance(date string) (DailyPerformance, error)
	GetStatistics() (Stats, error)
	Close() error
}

// SQLite is the Journal backed by modernc.org/sqlite, following the
// teacher's single-writer, WAL-mode database wrapper.
type SQLite struct {
	db *sql.DB
}

// Open creates (if needed) and migrates the journal database at path.
func Open(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("journal path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// RecordTrade inserts a new open trade row and returns its id, for a later
// UpdateTradeExit once the bracket resolves.
func (j *SQLite) RecordTrade(symbol, action string, qty int, entryPrice, confidence float64, reasoning string, openedAt time.Time) (int64, error) {
	res, err := j.db.Exec(
		`INSERT INTO trades (symbol, action, qty, entry_price, confidence, reasoning, opened_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		symbol, action, qty, entryPrice, confidence, reasoning, openedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("record trade: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record trade id: %w", err)
	}
	return id, nil
}

// UpdateTradeExit closes out a trade with its realized exit price and pnl,
// and folds the result into the daily_performance row for closedAt's date.
func (j *SQLite) UpdateTradeExit(tradeID int64, exitPrice, pnl float64, closedAt time.Time) error {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE trades SET exit_price = ?, pnl = ?, closed_at = ? WHERE id = ?`,
		exitPrice, pnl, closedAt, tradeID,
	); err != nil {
		return fmt.Errorf("update trade exit: %w", err)
	}

	date := closedAt.UTC().Format("2006-01-02")
	win, loss := 0, 0
	if pnl > 0 {
		win = 1
	} else if pnl < 0 {
		loss = 1
	}
	if _, err := tx.Exec(`
		INSERT INTO daily_performance (date, pnl, trades, wins, losses) VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			pnl = pnl + excluded.pnl,
			trades = trades + 1,
			wins = wins + excluded.wins,
			losses = losses + excluded.losses
	`, date, pnl, win, loss); err != nil {
		return fmt.Errorf("update daily performance: %w", err)
	}

	return tx.Commit()
}

// RecordSentiment snapshots one AggregatedSentiment reading for symbol.
func (j *SQLite) RecordSentiment(agg *sentiment.AggregatedSentiment, recordedAt time.Time) error {
	if agg == nil {
		return nil
	}
	_, err := j.db.Exec(
		`INSERT INTO sentiment_snapshots (symbol, composite_score, confidence, action, source_count, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		agg.Symbol, agg.CompositeScore, agg.Confidence, string(agg.Action), agg.DataPoints, recordedAt,
	)
	if err != nil {
		return fmt.Errorf("record sentiment: %w", err)
	}
	return nil
}

// GetDailyPerformance returns the aggregate row for date (YYYY-MM-DD).
func (j *SQLite) GetDailyPerformance(date string) (DailyPerformance, error) {
	var perf DailyPerformance
	perf.Date = date
	row := j.db.QueryRow(`SELECT pnl, trades, wins, losses FROM daily_performance WHERE date = ?`, date)
	err := row.Scan(&perf.PnL, &perf.Trades, &perf.Wins, &perf.Losses)
	if errors.Is(err, sql.ErrNoRows) {
		return perf, nil
	}
	if err != nil {
		return DailyPerformance{}, fmt.Errorf("get daily performance: %w", err)
	}
	return perf, nil
}

// GetStatistics aggregates closed-trade history across all time.
func (j *SQLite) GetStatistics() (Stats, error) {
	var stats Stats
	row := j.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN pnl < 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(pnl), 0)
		FROM trades WHERE closed_at IS NOT NULL
	`)
	if err := row.Scan(&stats.TotalTrades, &stats.Wins, &stats.Losses, &stats.TotalPnL); err != nil {
		return Stats{}, fmt.Errorf("get statistics: %w", err)
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.TotalTrades)
	}
	return stats, nil
}

// NoOp is a Journal that discards everything; used when persistence is
// disabled or fails to open, so journaling can never affect the core.
type NoOp struct{}

func (NoOp) RecordTrade(string, string, int, float64, float64, string, time.Time) (int64, error) {
	return 0, nil
}
func (NoOp) UpdateTradeExit(int64, float64, float64, time.Time) error { return nil }
func (NoOp) RecordSentiment(*sentiment.AggregatedSentiment, time.Time) error { return nil }
func (NoOp) GetDailyPerformance(string) (DailyPerformance, error)           { return DailyPerformance{}, nil }
func (NoOp) GetStatistics() (Stats, error)                                  { return Stats{}, nil }
func (NoOp) Close() error                                                   { return nil }
