package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/truthmarkets/settled/internal/domain"
)

// ClaimStore implements domain.ClaimStore using PostgreSQL. Every
// lifecycle transition is a single conditional UPDATE whose WHERE clause
// carries the precondition, so concurrent operations against the same
// claim serialize on the row without explicit locking.
type ClaimStore struct {
	pool *pgxpool.Pool
}

// NewClaimStore creates a new ClaimStore backed by the given connection pool.
func NewClaimStore(pool *pgxpool.Pool) *ClaimStore {
	return &ClaimStore{pool: pool}
}

const claimSelectCols = `id, creator, spec_ref, evidence_ref, description, deadline,
	status, result, result_ref, result_blob, resolver_fingerprint,
	yes_stake, no_stake, escrow,
	creator_fee_bps, protocol_fee_bps, creator_fee_accrued, protocol_fee_accrued,
	created_at, resolved_at`

func scanClaimRow(row pgx.Row) (domain.Claim, error) {
	var c domain.Claim
	var status string

	err := row.Scan(
		&c.ID, &c.Creator, &c.SpecRef, &c.EvidenceRef, &c.Description, &c.Deadline,
		&status, &c.Result, &c.ResultRef, &c.ResultBlob, &c.ResolverFingerprint,
		&c.YesStake, &c.NoStake, &c.Escrow,
		&c.CreatorFeeBps, &c.ProtocolFeeBps, &c.CreatorFeeAccrued, &c.ProtocolFeeAccrued,
		&c.CreatedAt, &c.ResolvedAt,
	)
	if err != nil {
		return domain.Claim{}, err
	}
	c.Status = domain.ClaimStatus(status)
	return c, nil
}

func scanClaimRows(rows pgx.Rows) ([]domain.Claim, error) {
	var claims []domain.Claim
	for rows.Next() {
		c, err := scanClaimRow(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// Create inserts a new claim.
func (s *ClaimStore) Create(ctx context.Context, c domain.Claim) error {
	const query = `
		INSERT INTO claims (
			id, creator, spec_ref, evidence_ref, description, deadline,
			status, yes_stake, no_stake, escrow,
			creator_fee_bps, protocol_fee_bps, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		c.ID, c.Creator, c.SpecRef, c.EvidenceRef, c.Description, c.Deadline,
		string(c.Status), c.YesStake, c.NoStake, c.Escrow,
		c.CreatorFeeBps, c.ProtocolFeeBps, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create claim %s: %w", c.ID, err)
	}
	return nil
}

// GetByID retrieves a single claim.
func (s *ClaimStore) GetByID(ctx context.Context, id string) (domain.Claim, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+claimSelectCols+` FROM claims WHERE id = $1`, id)

	c, err := scanClaimRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Claim{}, domain.ErrNotFound
		}
		return domain.Claim{}, fmt.Errorf("postgres: get claim %s: %w", id, err)
	}
	return c, nil
}

// ListByStatus returns claims in the given state, newest first.
func (s *ClaimStore) ListByStatus(ctx context.Context, status domain.ClaimStatus, opts domain.ListOpts) ([]domain.Claim, error) {
	query := `SELECT ` + claimSelectCols + ` FROM claims WHERE status = $1 ORDER BY created_at DESC`
	args := []any{string(status)}
	query, args = applyListOpts(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list claims by status: %w", err)
	}
	defer rows.Close()

	claims, err := scanClaimRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan claims: %w", err)
	}
	return claims, nil
}

// ListByCreator returns claims created by one identity, newest first.
func (s *ClaimStore) ListByCreator(ctx context.Context, creator string, opts domain.ListOpts) ([]domain.Claim, error) {
	query := `SELECT ` + claimSelectCols + ` FROM claims WHERE creator = $1 ORDER BY created_at DESC`
	args := []any{creator}
	query, args = applyListOpts(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list claims by creator: %w", err)
	}
	defer rows.Close()

	claims, err := scanClaimRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan claims: %w", err)
	}
	return claims, nil
}

// ListExpired returns open claims whose deadline has passed.
func (s *ClaimStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Claim, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+claimSelectCols+` FROM claims
		 WHERE status = 'open' AND deadline <= $1
		 ORDER BY deadline ASC
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list expired claims: %w", err)
	}
	defer rows.Close()

	claims, err := scanClaimRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan expired claims: %w", err)
	}
	return claims, nil
}

// Count returns the number of claims.
func (s *ClaimStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM claims`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count claims: %w", err)
	}
	return n, nil
}

// AddStake credits escrow and the chosen side's running total, guarded by
// the open-status check in the same statement.
func (s *ClaimStore) AddStake(ctx context.Context, id string, side domain.Side, amount int64) (domain.Claim, error) {
	col := "no_stake"
	if side == domain.SideYes {
		col = "yes_stake"
	}

	query := `
		UPDATE claims SET
			` + col + ` = ` + col + ` + $2,
			escrow     = escrow + $2,
			updated_at = NOW()
		WHERE id = $1 AND status = 'open'
		RETURNING ` + claimSelectCols

	c, err := scanClaimRow(s.pool.QueryRow(ctx, query, id, amount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Claim{}, s.conflictError(ctx, id, domain.ErrInvalidStatus)
		}
		return domain.Claim{}, fmt.Errorf("postgres: add stake to claim %s: %w", id, err)
	}
	return c, nil
}

// MarkResolving transitions open -> resolving.
func (s *ClaimStore) MarkResolving(ctx context.Context, id string) (domain.Claim, error) {
	const query = `
		UPDATE claims SET
			status     = 'resolving',
			updated_at = NOW()
		WHERE id = $1 AND status = 'open'
		RETURNING ` + claimSelectCols

	c, err := scanClaimRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Claim{}, s.conflictError(ctx, id, domain.ErrInvalidStatus)
		}
		return domain.Claim{}, fmt.Errorf("postgres: mark claim %s resolving: %w", id, err)
	}
	return c, nil
}

// Resolve finalizes the claim from open or resolving, freezing side
// totals for payout computation.
func (s *ClaimStore) Resolve(ctx context.Context, id string, result bool, resultRef, resultBlob, resolverFingerprint string, resolvedAt time.Time) (domain.Claim, error) {
	const query = `
		UPDATE claims SET
			status               = 'resolved',
			result               = $2,
			result_ref           = NULLIF($3, ''),
			result_blob          = NULLIF($4, ''),
			resolver_fingerprint = $5,
			resolved_at          = $6,
			updated_at           = NOW()
		WHERE id = $1 AND status IN ('open', 'resolving')
		RETURNING ` + claimSelectCols

	c, err := scanClaimRow(s.pool.QueryRow(ctx, query, id, result, resultRef, resultBlob, resolverFingerprint, resolvedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Claim{}, s.resolveConflict(ctx, id)
		}
		return domain.Claim{}, fmt.Errorf("postgres: resolve claim %s: %w", id, err)
	}
	return c, nil
}

// Cancel voids an open claim with zero stake on both sides.
func (s *ClaimStore) Cancel(ctx context.Context, id string) (domain.Claim, error) {
	const query = `
		UPDATE claims SET
			status     = 'cancelled',
			updated_at = NOW()
		WHERE id = $1 AND status = 'open' AND yes_stake = 0 AND no_stake = 0
		RETURNING ` + claimSelectCols

	c, err := scanClaimRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Claim{}, s.conflictError(ctx, id, domain.ErrInvalidStatus)
		}
		return domain.Claim{}, fmt.Errorf("postgres: cancel claim %s: %w", id, err)
	}
	return c, nil
}

// DebitEscrow removes amount from escrow; the balance check rides in the
// same statement so escrow can never go negative.
func (s *ClaimStore) DebitEscrow(ctx context.Context, id string, amount int64) (domain.Claim, error) {
	const query = `
		UPDATE claims SET
			escrow     = escrow - $2,
			updated_at = NOW()
		WHERE id = $1 AND escrow >= $2
		RETURNING ` + claimSelectCols

	c, err := scanClaimRow(s.pool.QueryRow(ctx, query, id, amount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Claim{}, s.conflictError(ctx, id, domain.ErrInsufficientEscrow)
		}
		return domain.Claim{}, fmt.Errorf("postgres: debit escrow of claim %s: %w", id, err)
	}
	return c, nil
}

// AccrueFees adds to the accrued fee counters.
func (s *ClaimStore) AccrueFees(ctx context.Context, id string, creatorFee, protocolFee int64) error {
	const query = `
		UPDATE claims SET
			creator_fee_accrued  = creator_fee_accrued + $2,
			protocol_fee_accrued = protocol_fee_accrued + $3,
			updated_at           = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, creatorFee, protocolFee)
	if err != nil {
		return fmt.Errorf("postgres: accrue fees on claim %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// WithdrawCreatorFees zeroes the creator accrual and debits it from escrow.
func (s *ClaimStore) WithdrawCreatorFees(ctx context.Context, id string) (int64, error) {
	return s.withdrawFees(ctx, id, "creator_fee_accrued")
}

// WithdrawProtocolFees zeroes the protocol accrual and debits it from escrow.
func (s *ClaimStore) WithdrawProtocolFees(ctx context.Context, id string) (int64, error) {
	return s.withdrawFees(ctx, id, "protocol_fee_accrued")
}

func (s *ClaimStore) withdrawFees(ctx context.Context, id, col string) (int64, error) {
	// Self-join against a FOR UPDATE snapshot so the pre-update accrual
	// can be returned as the withdrawn amount.
	query := `
		UPDATE claims c SET
			escrow      = c.escrow - prev.amount,
			` + col + ` = 0,
			updated_at  = NOW()
		FROM (
			SELECT id, ` + col + ` AS amount FROM claims WHERE id = $1 FOR UPDATE
		) prev
		WHERE c.id = prev.id AND prev.amount > 0 AND c.escrow >= prev.amount
		RETURNING prev.amount`

	var amount int64
	if err := s.pool.QueryRow(ctx, query, id).Scan(&amount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := s.GetByID(ctx, id); getErr != nil {
				return 0, getErr
			}
			return 0, domain.ErrNoFeesAccrued
		}
		return 0, fmt.Errorf("postgres: withdraw fees from claim %s: %w", id, err)
	}
	return amount, nil
}

// conflictError distinguishes a missing claim from a failed precondition
// after a conditional UPDATE matched no row.
func (s *ClaimStore) conflictError(ctx context.Context, id string, conflict error) error {
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return conflict
}

// resolveConflict maps a failed resolve precondition to the precise error.
func (s *ClaimStore) resolveConflict(ctx context.Context, id string) error {
	c, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == domain.ClaimStatusResolved {
		return domain.ErrAlreadyResolved
	}
	return domain.ErrInvalidStatus
}

// applyListOpts appends LIMIT/OFFSET clauses for paginated list queries.
func applyListOpts(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

// Compile-time interface check.
var _ domain.ClaimStore = (*ClaimStore)(nil)
