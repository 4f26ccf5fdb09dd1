package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/truthmarkets/settled/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL. The
// claimed-flag flip, the escrow debit, and the fee accrual ride in one
// transaction, so a settlement either fully commits or rolls back.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a SettlementStore backed by the given
// connection pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// Settle atomically flips the position's claimed flag, debits the payout
// from the claim's escrow, and accrues the fee split onto the claim.
func (s *SettlementStore) Settle(ctx context.Context, claimID, owner string, payout, creatorFee, protocolFee int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin settlement %s/%s: %w", claimID, owner, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const claimPosition = `
		UPDATE positions SET
			claimed    = TRUE,
			updated_at = NOW()
		WHERE claim_id = $1 AND owner = $2 AND NOT claimed`

	tag, err := tx.Exec(ctx, claimPosition, claimID, owner)
	if err != nil {
		return fmt.Errorf("postgres: mark position %s/%s claimed: %w", claimID, owner, err)
	}
	if tag.RowsAffected() == 0 {
		return s.positionConflict(ctx, tx, claimID, owner)
	}

	const debitAndAccrue = `
		UPDATE claims SET
			escrow               = escrow - $2,
			creator_fee_accrued  = creator_fee_accrued + $3,
			protocol_fee_accrued = protocol_fee_accrued + $4,
			updated_at           = NOW()
		WHERE id = $1 AND escrow >= $2`

	tag, err = tx.Exec(ctx, debitAndAccrue, claimID, payout, creatorFee, protocolFee)
	if err != nil {
		return fmt.Errorf("postgres: debit escrow of claim %s: %w", claimID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.escrowConflict(ctx, tx, claimID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit settlement %s/%s: %w", claimID, owner, err)
	}
	return nil
}

// positionConflict distinguishes a missing position from one already
// claimed after the guarded update matched no row.
func (s *SettlementStore) positionConflict(ctx context.Context, tx pgx.Tx, claimID, owner string) error {
	var claimed bool
	err := tx.QueryRow(ctx,
		`SELECT claimed FROM positions WHERE claim_id = $1 AND owner = $2`,
		claimID, owner,
	).Scan(&claimed)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres: inspect position %s/%s: %w", claimID, owner, err)
	}
	if claimed {
		return domain.ErrAlreadyClaimed
	}
	return domain.ErrNotFound
}

// escrowConflict distinguishes a missing claim from insufficient escrow.
func (s *SettlementStore) escrowConflict(ctx context.Context, tx pgx.Tx, claimID string) error {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM claims WHERE id = $1)`, claimID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: inspect claim %s: %w", claimID, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrInsufficientEscrow
}

// Compile-time interface check.
var _ domain.SettlementStore = (*SettlementStore)(nil)
