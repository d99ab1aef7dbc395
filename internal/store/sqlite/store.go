// Package sqlite provides the embedded persistence backend: the indicator
// point sink, the raw tick archive used by the consistency monitor, and the
// variant registry.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"indstream/internal/model"
)

// Store wraps a single sqlite database holding points, ticks and variants.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (creating if needed) the database with WAL mode and applies
// the schema.
func Open(path string, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer discipline.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Info("sqlite opened", "path", path)
	return &Store{db: db, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS indicator_points (
			symbol     TEXT    NOT NULL,
			variant_id TEXT    NOT NULL,
			name       TEXT    NOT NULL,
			ts         INTEGER NOT NULL, -- unix nanos
			value      REAL    NOT NULL,
			PRIMARY KEY (symbol, variant_id, ts)
		);

		CREATE TABLE IF NOT EXISTS ticks (
			symbol TEXT    NOT NULL,
			ts     INTEGER NOT NULL, -- unix nanos
			price  REAL    NOT NULL,
			volume REAL    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_ticks_symbol_ts ON ticks (symbol, ts);

		CREATE TABLE IF NOT EXISTS indicator_variants (
			id         TEXT PRIMARY KEY,
			name       TEXT    NOT NULL,
			kind       TEXT    NOT NULL,
			params     TEXT    NOT NULL,
			scope      TEXT    NOT NULL,
			created_by TEXT    NOT NULL DEFAULT '',
			is_deleted INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			deleted_at INTEGER
		);
	`)
	return err
}

// WritePoints bulk-inserts a harvested batch in one transaction.
// Implements the scheduler's Sink.
func (s *Store) WritePoints(ctx context.Context, pts []model.IndicatorPoint) error {
	if len(pts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO indicator_points (symbol, variant_id, name, ts, value)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, p := range pts {
		if _, err := stmt.Exec(p.Symbol, p.VariantID, p.Name, p.TS.UnixNano(), p.Value); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert point: %w", err)
		}
	}
	return tx.Commit()
}

// WriteTicks archives raw ticks in one transaction. The consistency monitor
// replays these windows; without the archive there is nothing to diff
// against.
func (s *Store) WriteTicks(ctx context.Context, ticks []model.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO ticks (symbol, ts, price, volume) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, t := range ticks {
		if _, err := stmt.Exec(t.Symbol, t.TS.UnixNano(), t.Price, t.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert tick: %w", err)
		}
	}
	return tx.Commit()
}

// ReadTicks returns ticks for [start, end] ordered by timestamp.
// Implements consistency.TickLoader.
func (s *Store) ReadTicks(symbol string, start, end time.Time) ([]model.Tick, error) {
	rows, err := s.db.Query(
		`SELECT symbol, ts, price, volume FROM ticks
		 WHERE symbol = ? AND ts >= ? AND ts <= ? ORDER BY ts`,
		symbol, start.UnixNano(), end.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite read ticks: %w", err)
	}
	defer rows.Close()

	var out []model.Tick
	for rows.Next() {
		var t model.Tick
		var ns int64
		if err := rows.Scan(&t.Symbol, &ns, &t.Price, &t.Volume); err != nil {
			return nil, err
		}
		t.TS = time.Unix(0, ns).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// PruneTicks deletes archived ticks older than the cutoff. Called
// periodically so the archive stays bounded.
func (s *Store) PruneTicks(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ticks WHERE ts < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlite prune ticks: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
