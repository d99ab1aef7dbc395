// Package timescale is the Postgres/TimescaleDB indicator point sink for
// deployments where the embedded sqlite store is not enough. Only the sink
// surface is implemented here; the tick archive and registry stay on the
// embedded store.
package timescale

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/lib/pq"

	"indstream/internal/model"
)

// Sink writes harvested batches into a Timescale hypertable (or a plain
// Postgres table when the extension is absent).
type Sink struct {
	db  *sql.DB
	log *slog.Logger
}

// Open connects and ensures the schema. dsn is a lib/pq connection string.
func Open(dsn string, log *slog.Logger) (*Sink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("timescale open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("timescale ping: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS indicator_points (
			symbol     TEXT             NOT NULL,
			variant_id TEXT             NOT NULL,
			name       TEXT             NOT NULL,
			ts         TIMESTAMPTZ      NOT NULL,
			value      DOUBLE PRECISION NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("timescale schema: %w", err)
	}
	// Best effort: hypertable conversion fails harmlessly without the
	// extension or when already converted.
	if _, err := db.Exec(`SELECT create_hypertable('indicator_points', 'ts', if_not_exists => TRUE)`); err != nil {
		log.Warn("hypertable conversion skipped", "err", err)
	}

	log.Info("timescale sink connected")
	return &Sink{db: db, log: log}, nil
}

// WritePoints bulk-inserts one harvested batch with a single multi-row
// INSERT. Implements the scheduler's Sink.
func (s *Sink) WritePoints(ctx context.Context, pts []model.IndicatorPoint) error {
	if len(pts) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO indicator_points (symbol, variant_id, name, ts, value) VALUES `)
	args := make([]interface{}, 0, len(pts)*5)
	for i, p := range pts {
		if i > 0 {
			sb.WriteByte(',')
		}
		n := i * 5
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d)", n+1, n+2, n+3, n+4, n+5)
		args = append(args, p.Symbol, p.VariantID, p.Name, p.TS, p.Value)
	}

	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("timescale insert %d points: %w", len(pts), err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Sink) Close() error {
	return s.db.Close()
}
