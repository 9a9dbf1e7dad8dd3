package registration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaypush/relaypush/internal/api/models"
)

// Schema creates the registrations table.
const Schema = `
CREATE TABLE IF NOT EXISTS device_registrations (
	id             TEXT PRIMARY KEY,
	client_id      TEXT NOT NULL DEFAULT '',
	platform       TEXT NOT NULL,
	form_factor    TEXT NOT NULL,
	metadata       JSONB,
	transport_type TEXT NOT NULL,
	device_token   TEXT NOT NULL DEFAULT '',
	secret_hash    TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS device_registrations_client_idx ON device_registrations (client_id, id);
`

const selectColumns = `id, client_id, platform, form_factor, metadata, transport_type, device_token, secret_hash, created_at, updated_at`

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL registration repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Get retrieves a registration by device ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Registration, error) {
	query := `SELECT ` + selectColumns + ` FROM device_registrations WHERE id = $1`

	reg, err := scanRegistration(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return reg, nil
}

// List retrieves registrations ordered by device ID.
func (r *PostgresRepository) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + selectColumns + `
		FROM device_registrations
		WHERE ($1 = '' OR client_id = $1) AND id > $2
		ORDER BY id
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, opts.ClientID, opts.After, limit+1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []*Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := &ListResult{Items: regs}
	if len(regs) > limit {
		result.Items = regs[:limit]
		result.NextCursor = regs[limit-1].ID
	}
	return result, nil
}

// Upsert creates or replaces a registration. An empty secret hash keeps the
// stored one.
func (r *PostgresRepository) Upsert(ctx context.Context, reg *Registration) (bool, error) {
	metadata, err := json.Marshal(reg.Metadata)
	if err != nil {
		return false, fmt.Errorf("encoding metadata: %w", err)
	}

	query := `
		INSERT INTO device_registrations (id, client_id, platform, form_factor, metadata, transport_type, device_token, secret_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			client_id = EXCLUDED.client_id,
			platform = EXCLUDED.platform,
			form_factor = EXCLUDED.form_factor,
			metadata = EXCLUDED.metadata,
			transport_type = EXCLUDED.transport_type,
			device_token = EXCLUDED.device_token,
			secret_hash = COALESCE(NULLIF(EXCLUDED.secret_hash, ''), device_registrations.secret_hash),
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0) AS inserted
	`

	var inserted bool
	err = r.pool.QueryRow(ctx, query,
		reg.ID,
		reg.ClientID,
		reg.Platform,
		reg.FormFactor,
		metadata,
		string(reg.TransportType),
		reg.DeviceToken,
		reg.SecretHash,
		reg.CreatedAt,
		reg.UpdatedAt,
	).Scan(&inserted)
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// Delete removes a registration.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM device_registrations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRegistration(row pgx.Row) (*Registration, error) {
	var (
		reg       Registration
		metadata  []byte
		transport string
	)
	err := row.Scan(
		&reg.ID,
		&reg.ClientID,
		&reg.Platform,
		&reg.FormFactor,
		&metadata,
		&transport,
		&reg.DeviceToken,
		&reg.SecretHash,
		&reg.CreatedAt,
		&reg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	reg.TransportType = models.TransportType(transport)
	if len(metadata) > 0 && string(metadata) != "null" {
		if err := json.Unmarshal(metadata, &reg.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	return &reg, nil
}

var _ Repository = (*PostgresRepository)(nil)
