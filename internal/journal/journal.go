// Package journal persists refresh cycle outcomes to SQLite so the API
// can show when the watchlist was last refreshed and what failed.
package journal

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/anuraggoyal1/stock-screener/internal/model"
)

// Cycles kept by the pruning pass that follows every insert.
const keepCycles = 200

// Journal is a single-writer SQLite store of refresh cycles. A nil
// *Journal is a valid no-op journal.
type Journal struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB {
	if j == nil {
		return nil
	}
	return j.db
}

// New opens (or creates) the journal database with WAL mode and schema.
func New(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("refresh journal opened", "path", path)
	return &Journal{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS refresh_cycles (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			trigger_type TEXT    NOT NULL,
			started_at   INTEGER NOT NULL,
			finished_at  INTEGER NOT NULL,
			total        INTEGER NOT NULL,
			refreshed    INTEGER NOT NULL,
			error_count  INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS refresh_errors (
			cycle_id INTEGER NOT NULL,
			symbol   TEXT    NOT NULL,
			error    TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_refresh_cycles_started ON refresh_cycles(started_at);
		CREATE INDEX IF NOT EXISTS idx_refresh_errors_cycle ON refresh_errors(cycle_id);
	`)
	return err
}

// Record inserts one cycle and its error rows in a single transaction,
// then prunes everything beyond the newest keepCycles cycles.
func (j *Journal) Record(cycle model.RefreshCycle) error {
	if j == nil || j.db == nil {
		return nil
	}

	tx, err := j.db.Begin()
	if err != nil {
		return err
	}

	res, err := tx.Exec(`
		INSERT INTO refresh_cycles (trigger_type, started_at, finished_at, total, refreshed, error_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`, cycle.Trigger, cycle.StartedAt.Unix(), cycle.FinishedAt.Unix(),
		cycle.Total, cycle.Refreshed, cycle.ErrorCount)
	if err != nil {
		tx.Rollback()
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return err
	}

	if len(cycle.Errors) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO refresh_errors (cycle_id, symbol, error) VALUES (?, ?, ?)`)
		if err != nil {
			tx.Rollback()
			return err
		}
		defer stmt.Close()
		for _, e := range cycle.Errors {
			if _, err := stmt.Exec(id, e.Symbol, e.Error); err != nil {
				tx.Rollback()
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	j.prune()
	return nil
}

// prune keeps the newest keepCycles cycles. Failures are logged only.
func (j *Journal) prune() {
	if _, err := j.db.Exec(`
		DELETE FROM refresh_errors WHERE cycle_id NOT IN
			(SELECT id FROM refresh_cycles ORDER BY id DESC LIMIT ?)
	`, keepCycles); err != nil {
		slog.Warn("journal prune errors failed", "err", err)
		return
	}
	if _, err := j.db.Exec(`
		DELETE FROM refresh_cycles WHERE id NOT IN
			(SELECT id FROM refresh_cycles ORDER BY id DESC LIMIT ?)
	`, keepCycles); err != nil {
		slog.Warn("journal prune cycles failed", "err", err)
	}
}

// History returns the newest cycles first, error rows attached. limit
// falls back to 20 and is capped at keepCycles.
func (j *Journal) History(limit int) ([]model.RefreshCycle, error) {
	if j == nil || j.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > keepCycles {
		limit = keepCycles
	}

	rows, err := j.db.Query(`
		SELECT id, trigger_type, started_at, finished_at, total, refreshed, error_count
		FROM refresh_cycles ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []model.RefreshCycle
	for rows.Next() {
		var c model.RefreshCycle
		var started, finished int64
		if err := rows.Scan(&c.ID, &c.Trigger, &started, &finished, &c.Total, &c.Refreshed, &c.ErrorCount); err != nil {
			return nil, err
		}
		c.StartedAt = time.Unix(started, 0)
		c.FinishedAt = time.Unix(finished, 0)
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range cycles {
		if cycles[i].ErrorCount == 0 {
			continue
		}
		errRows, err := j.db.Query(`SELECT symbol, error FROM refresh_errors WHERE cycle_id = ?`, cycles[i].ID)
		if err != nil {
			return nil, err
		}
		for errRows.Next() {
			var e model.RefreshError
			if err := errRows.Scan(&e.Symbol, &e.Error); err != nil {
				errRows.Close()
				return nil, err
			}
			cycles[i].Errors = append(cycles[i].Errors, e)
		}
		if err := errRows.Err(); err != nil {
			errRows.Close()
			return nil, err
		}
		errRows.Close()
	}
	return cycles, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}
