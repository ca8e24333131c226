package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crypto-portfolio-bot/internal/models"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Import the pure-Go sqlite driver
)

// SQLiteRepository stores the state blob and a queryable closed-trade journal.
// Both are written in the same transaction.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens the database and creates the necessary tables.
func NewSQLiteRepository(dataSourceName string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serialises writers; sqlite does not like concurrent ones.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// createTables creates the necessary database tables if they don't exist.
func createTables(db *sql.DB) error {
	// One row per bot holding the full JSON snapshot.
	createStateTableSQL := `
	CREATE TABLE IF NOT EXISTS portfolio_state (
		bot_id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		state TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);`
	if _, err := db.Exec(createStateTableSQL); err != nil {
		return err
	}

	// Append-only journal of closed trades, for reporting outside the bot.
	createTradesTableSQL := `
	CREATE TABLE IF NOT EXISTS closed_trades (
		bot_id TEXT NOT NULL,
		trade_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		entry_price TEXT NOT NULL,
		exit_price TEXT NOT NULL,
		amount_closed TEXT NOT NULL,
		roi TEXT NOT NULL,
		profit TEXT NOT NULL,
		entry_time DATETIME NOT NULL,
		exit_time DATETIME NOT NULL,
		reason TEXT NOT NULL,
		conviction TEXT,
		PRIMARY KEY (bot_id, trade_id)
	);`
	if _, err := db.Exec(createTradesTableSQL); err != nil {
		return err
	}
	return nil
}

// SaveState upserts the snapshot and appends unseen closed trades in one transaction.
func (r *SQLiteRepository) SaveState(state *models.PortfolioState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Rollback on any error

	_, err = tx.Exec(`
	INSERT INTO portfolio_state (bot_id, version, state, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(bot_id) DO UPDATE SET
		version = excluded.version,
		state = excluded.state,
		updated_at = excluded.updated_at;`,
		state.BotID, state.Version, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save portfolio state: %w", err)
	}

	stmt, err := tx.Prepare(`
	INSERT OR IGNORE INTO closed_trades
		(bot_id, trade_id, symbol, entry_price, exit_price, amount_closed, roi, profit, entry_time, exit_time, reason, conviction)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare trade insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range state.ClosedTrades {
		_, err := stmt.Exec(
			state.BotID, t.ID, t.Symbol,
			t.EntryPrice.String(), t.ExitPrice.String(), t.AmountClosed.String(),
			t.ROI.String(), t.Profit.String(),
			t.EntryTime.UTC(), t.ExitTime.UTC(), t.Reason, string(t.Conviction),
		)
		if err != nil {
			return fmt.Errorf("failed to insert trade %s: %w", t.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit portfolio state: %w", err)
	}
	return nil
}

// LoadState retrieves the state of botID. It returns (nil, nil) when none is stored.
func (r *SQLiteRepository) LoadState(botID string) (*models.PortfolioState, error) {
	var data string
	err := r.db.QueryRow(`SELECT state FROM portfolio_state WHERE bot_id = ?`, botID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio state: %w", err)
	}

	var state models.PortfolioState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to decode portfolio state: %w", err)
	}
	return &state, nil
}

// ClosedTrades returns the journal of botID in exit order.
func (r *SQLiteRepository) ClosedTrades(botID string) ([]models.ClosedTrade, error) {
	rows, err := r.db.Query(`
	SELECT trade_id, symbol, entry_price, exit_price, amount_closed, roi, profit, entry_time, exit_time, reason, conviction
	FROM closed_trades WHERE bot_id = ? ORDER BY exit_time, rowid`, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to query closed trades: %w", err)
	}
	defer rows.Close()

	var trades []models.ClosedTrade
	for rows.Next() {
		var t models.ClosedTrade
		var entry, exit, amount, roi, profit, conv string
		if err := rows.Scan(&t.ID, &t.Symbol, &entry, &exit, &amount, &roi, &profit,
			&t.EntryTime, &t.ExitTime, &t.Reason, &conv); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		if t.EntryPrice, err = decimal.NewFromString(entry); err != nil {
			return nil, err
		}
		if t.ExitPrice, err = decimal.NewFromString(exit); err != nil {
			return nil, err
		}
		if t.AmountClosed, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if t.ROI, err = decimal.NewFromString(roi); err != nil {
			return nil, err
		}
		if t.Profit, err = decimal.NewFromString(profit); err != nil {
			return nil, err
		}
		t.Conviction = models.Conviction(conv)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
