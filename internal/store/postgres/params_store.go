package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/truthmarkets/settled/internal/domain"
)

// ParamsStore implements domain.ParamsStore using PostgreSQL. The params
// table holds a single row enforced by its boolean primary key.
type ParamsStore struct {
	pool *pgxpool.Pool
}

// NewParamsStore creates a new ParamsStore backed by the given connection
// pool.
func NewParamsStore(pool *pgxpool.Pool) *ParamsStore {
	return &ParamsStore{pool: pool}
}

// Get returns the protocol parameters record.
func (s *ParamsStore) Get(ctx context.Context) (domain.Params, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT admin, fee_recipient, protocol_fee_bps, updated_at FROM params WHERE id`)

	var p domain.Params
	err := row.Scan(&p.Admin, &p.FeeRecipient, &p.ProtocolFeeBps, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Params{}, domain.ErrNotFound
		}
		return domain.Params{}, fmt.Errorf("postgres: get params: %w", err)
	}
	return p, nil
}

// Update upserts the singleton parameters record.
func (s *ParamsStore) Update(ctx context.Context, p domain.Params) error {
	const query = `
		INSERT INTO params (id, admin, fee_recipient, protocol_fee_bps, updated_at)
		VALUES (TRUE, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			admin            = EXCLUDED.admin,
			fee_recipient    = EXCLUDED.fee_recipient,
			protocol_fee_bps = EXCLUDED.protocol_fee_bps,
			updated_at       = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query, p.Admin, p.FeeRecipient, p.ProtocolFeeBps, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: update params: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ParamsStore = (*ParamsStore)(nil)
