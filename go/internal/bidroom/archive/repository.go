package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/nexahaul/bidroom/go/internal/bidroom/events"
	"github.com/nexahaul/bidroom/go/internal/sqlutil"
	"github.com/shopspring/decimal"
)

// DBTX is satisfied by *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Outcome is the archived result of one completed auction
type Outcome struct {
	EventID      string
	RoomID       string
	Winner       *string
	WinnerUserID *string
	FinalAmount  decimal.Decimal
	Reason       string
	BidCount     int
	BidHistory   []events.BidView
	CompletedAt  time.Time
}

type Repository struct {
	db    DBTX
	table string
	index string
}

// NewRepository writes to the given table. The name is quoted, so it may carry any characters.
func NewRepository(db DBTX, table string) *Repository {
	return &Repository{
		db:    db,
		table: pq.QuoteIdentifier(table),
		index: pq.QuoteIdentifier(table + "_room_idx"),
	}
}

// Migrate creates the outcome table and its index in one transaction
func Migrate(ctx context.Context, db *sql.DB, table string) error {
	return sqlutil.Run(ctx, db,
		func(tx *sql.Tx) *Repository { return NewRepository(tx, table) },
		func(r *Repository) error { return r.EnsureSchema(ctx) },
	)
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	table := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			event_id       TEXT PRIMARY KEY,
			room_id        TEXT NOT NULL,
			winner         TEXT,
			winner_user_id TEXT,
			final_amount   NUMERIC NOT NULL,
			reason         TEXT NOT NULL,
			bid_count      INTEGER NOT NULL,
			bid_history    JSONB,
			completed_at   TIMESTAMPTZ NOT NULL
		)`, r.table)
	if _, err := r.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create %s: %w", r.table, err)
	}

	index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (room_id, completed_at DESC)`,
		r.index, r.table)
	if _, err := r.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("failed to index %s: %w", r.table, err)
	}
	return nil
}

// SaveOutcome inserts an outcome. Saving the same completion event twice is a no-op.
func (r *Repository) SaveOutcome(ctx context.Context, o Outcome) error {
	history, err := sqlutil.ToNullJSON(o.BidHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal bid history: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			event_id, room_id, winner, winner_user_id, final_amount,
			reason, bid_count, bid_history, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING`, r.table)

	_, err = r.db.ExecContext(ctx, query,
		o.EventID,
		o.RoomID,
		sqlutil.ToSqlString(o.Winner),
		sqlutil.ToSqlString(o.WinnerUserID),
		o.FinalAmount.String(),
		o.Reason,
		o.BidCount,
		history,
		o.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save outcome for room %s: %w", o.RoomID, err)
	}
	return nil
}
