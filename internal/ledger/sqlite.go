// ABOUTME: SQLite implementation of the turn ledger using modernc.org/sqlite
// ABOUTME: Provides turn/usage persistence with automatic schema creation

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteLedger implements the Ledger interface using SQLite
type SQLiteLedger struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteLedger creates a new SQLite ledger at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteLedger(path string, logger *slog.Logger) (*SQLiteLedger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ledger")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	l := &SQLiteLedger{db: db, logger: logger}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("turn ledger initialized", "path", path)
	return l, nil
}

// createSchema creates the ledger tables if they don't exist
func (l *SQLiteLedger) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			memory_id TEXT NOT NULL,
			bot TEXT NOT NULL,
			status TEXT NOT NULL,
			cost REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			completed_at DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_turns_memory_id
			ON turns(memory_id);

		CREATE TABLE IF NOT EXISTS token_usage (
			id TEXT PRIMARY KEY,
			turn_id TEXT NOT NULL,
			prompt_tokens INTEGER NOT NULL,
			completion_tokens INTEGER NOT NULL,
			cost REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (turn_id) REFERENCES turns(id)
		);

		CREATE INDEX IF NOT EXISTS idx_token_usage_turn_id
			ON token_usage(turn_id);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// StartTurn inserts a running turn row.
func (l *SQLiteLedger) StartTurn(ctx context.Context, rec *TurnRecord) error {
	query := `
		INSERT INTO turns (id, memory_id, bot, status, cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := l.db.ExecContext(ctx, query,
		rec.ID,
		rec.MemoryID,
		rec.Bot,
		StatusRunning,
		rec.Cost,
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}

	l.logger.Debug("turn started", "turn_id", rec.ID, "memory_id", rec.MemoryID, "bot", rec.Bot)
	return nil
}

// FinishTurn marks a turn completed or errored and records its final cost.
func (l *SQLiteLedger) FinishTurn(ctx context.Context, turnID, status string, cost float64) error {
	query := `UPDATE turns SET status = ?, cost = ?, completed_at = ? WHERE id = ?`

	result, err := l.db.ExecContext(ctx, query,
		status, cost, time.Now().UTC().Format(time.RFC3339), turnID)
	if err != nil {
		return fmt.Errorf("finishing turn: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("finishing turn: no turn with id %s", turnID)
	}

	l.logger.Debug("turn finished", "turn_id", turnID, "status", status, "cost", cost)
	return nil
}

// SaveUsage stores a token usage record.
func (l *SQLiteLedger) SaveUsage(ctx context.Context, usage *TokenUsage) error {
	query := `
		INSERT INTO token_usage (id, turn_id, prompt_tokens, completion_tokens, cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := l.db.ExecContext(ctx, query,
		usage.ID,
		usage.TurnID,
		usage.PromptTokens,
		usage.CompletionTokens,
		usage.Cost,
		usage.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}

	l.logger.Debug("saved token usage",
		"turn_id", usage.TurnID,
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
	)
	return nil
}

// GetMemoryTurns retrieves all turn records for a memory id, oldest first.
func (l *SQLiteLedger) GetMemoryTurns(ctx context.Context, memoryID string) ([]*TurnRecord, error) {
	query := `
		SELECT id, memory_id, bot, status, cost, created_at, completed_at
		FROM turns
		WHERE memory_id = ?
		ORDER BY created_at ASC
	`
	rows, err := l.db.QueryContext(ctx, query, memoryID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*TurnRecord
	for rows.Next() {
		var rec TurnRecord
		var createdAt string
		var completedAt sql.NullString

		if err := rows.Scan(&rec.ID, &rec.MemoryID, &rec.Bot, &rec.Status, &rec.Cost, &createdAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if completedAt.Valid {
			t, err := time.Parse(time.RFC3339, completedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing completed_at: %w", err)
			}
			rec.CompletedAt = &t
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// GetUsageStats aggregates turn and token counts across the whole ledger.
func (l *SQLiteLedger) GetUsageStats(ctx context.Context) (*UsageStats, error) {
	stats := &UsageStats{}

	turnQuery := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(cost), 0)
		FROM turns
	`
	err := l.db.QueryRowContext(ctx, turnQuery, StatusCompleted, StatusErrored).
		Scan(&stats.TotalTurns, &stats.CompletedTurns, &stats.ErroredTurns, &stats.TotalCost)
	if err != nil {
		return nil, fmt.Errorf("aggregating turns: %w", err)
	}

	usageQuery := `
		SELECT COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0)
		FROM token_usage
	`
	err = l.db.QueryRowContext(ctx, usageQuery).
		Scan(&stats.TotalPromptTokens, &stats.TotalCompletionTokens)
	if err != nil {
		return nil, fmt.Errorf("aggregating usage: %w", err)
	}

	return stats, nil
}

// Close closes the underlying database.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
