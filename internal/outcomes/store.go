// Package outcomes persists post-alert peak multipliers in Postgres.
// The churn penalty reads them back to demote tokens that keep alerting
// without ever running.
package outcomes

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/solboy/solalerts/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS token_outcomes (
	symbol      TEXT             NOT NULL,
	observed_at TIMESTAMPTZ      NOT NULL,
	multiplier  DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS token_outcomes_symbol_at
	ON token_outcomes (symbol, observed_at);
`

// Store wraps the outcomes table.
type Store struct {
	db *sqlx.DB
}

// Open connects and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect outcomes db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure outcomes schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record stores one observed multiplier for a symbol.
func (s *Store) Record(ctx context.Context, symbol string, at time.Time, multiplier float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO token_outcomes (symbol, observed_at, multiplier) VALUES ($1, $2, $3)`,
		domain.NormalizeSymbol(symbol), at.UTC(), multiplier)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// PeakSince returns the highest multiplier observed for symbol since the
// given time. known is false when no observations exist.
func (s *Store) PeakSince(symbol string, since time.Time) (float64, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var peak sql.NullFloat64
	err := s.db.GetContext(ctx, &peak,
		`SELECT MAX(multiplier) FROM token_outcomes WHERE symbol = $1 AND observed_at >= $2`,
		domain.NormalizeSymbol(symbol), since.UTC())
	if err != nil {
		return 0, false, fmt.Errorf("query peak: %w", err)
	}
	if !peak.Valid {
		return 0, false, nil
	}
	return peak.Float64, true, nil
}

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }
