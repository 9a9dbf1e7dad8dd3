package push

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresSchema creates the table used by PostgresStore.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS push_activation_state (
	slot       TEXT PRIMARY KEY,
	record     BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PgxPool is the subset of *pgxpool.Pool used by PostgresStore.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is a PostgreSQL implementation of StateStore. Each slot is one
// row; Save is a single upsert statement.
type PostgresStore struct {
	pool PgxPool
	slot string
}

// NewPostgresStore creates a store for the given slot, usually the app or
// installation name.
func NewPostgresStore(pool PgxPool, slot string) *PostgresStore {
	if slot == "" {
		slot = "default"
	}
	return &PostgresStore{pool: pool, slot: slot}
}

// Migrate creates the state table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("creating push_activation_state: %w", err)
	}
	return nil
}

// Load returns the record for the slot.
func (s *PostgresStore) Load(ctx context.Context) (PersistedRecord, error) {
	query := `SELECT record FROM push_activation_state WHERE slot = $1`

	var blob []byte
	err := s.pool.QueryRow(ctx, query, s.slot).Scan(&blob)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return emptyRecord(), nil
		}
		return PersistedRecord{}, fmt.Errorf("loading slot %s: %w", s.slot, err)
	}
	return decodeStored(blob)
}

// Save upserts the record for the slot.
func (s *PostgresStore) Save(ctx context.Context, rec PersistedRecord) error {
	blob, err := MarshalRecord(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO push_activation_state (slot, record, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (slot) DO UPDATE SET
			record = EXCLUDED.record,
			updated_at = NOW()
	`

	if _, err := s.pool.Exec(ctx, query, s.slot, blob); err != nil {
		return fmt.Errorf("saving slot %s: %w", s.slot, err)
	}
	return nil
}
