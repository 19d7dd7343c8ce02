package journal

import "database/sql"

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS trades (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    action TEXT NOT NULL,
    qty INTEGER NOT NULL,
    entry_price REAL NOT NULL,
    exit_price REAL,
    pnl REAL,
    confidence REAL NOT NULL,
    reasoning TEXT,
    opened_at DATETIME NOT NULL,
    closed_at DATETIME
);

CREATE TABLE IF NOT EXISTS sentiment_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    composite_score REAL NOT NULL,
    confidence REAL NOT NULL,
    action TEXT NOT NULL,
    source_count INTEGER NOT NULL,
    recorded_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_performance (
    date TEXT PRIMARY KEY,
    pnl REAL DEFAULT 0,
    trades INTEGER DEFAULT 0,
    wins INTEGER DEFAULT 0,
    losses INTEGER DEFAULT 0
);
`

// applyMigrations bootstraps the journal schema.
func applyMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
