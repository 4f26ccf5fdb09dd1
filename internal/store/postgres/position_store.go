package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/truthmarkets/settled/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
// Positions are keyed by (claim_id, owner); repeat stakes accumulate via
// an upsert instead of creating stranded duplicate records.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given
// connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `claim_id, owner, yes_amount, no_amount, claimed, created_at, updated_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	err := row.Scan(
		&p.ClaimID, &p.Owner, &p.YesAmount, &p.NoAmount,
		&p.Claimed, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// AddStake accumulates a stake into the owner's position, creating it on
// first stake.
func (s *PositionStore) AddStake(ctx context.Context, claimID, owner string, side domain.Side, amount int64) (domain.Position, error) {
	var yes, no int64
	if side == domain.SideYes {
		yes = amount
	} else {
		no = amount
	}

	const query = `
		INSERT INTO positions (claim_id, owner, yes_amount, no_amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (claim_id, owner) DO UPDATE SET
			yes_amount = positions.yes_amount + EXCLUDED.yes_amount,
			no_amount  = positions.no_amount + EXCLUDED.no_amount,
			updated_at = NOW()
		RETURNING ` + positionSelectCols

	p, err := scanPositionRow(s.pool.QueryRow(ctx, query, claimID, owner, yes, no))
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: add stake to position %s/%s: %w", claimID, owner, err)
	}
	return p, nil
}

// Get retrieves a single position.
func (s *PositionStore) Get(ctx context.Context, claimID, owner string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE claim_id = $1 AND owner = $2`,
		claimID, owner)

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", claimID, owner, err)
	}
	return p, nil
}

// ListByClaim returns positions on one claim, newest first.
func (s *PositionStore) ListByClaim(ctx context.Context, claimID string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE claim_id = $1 ORDER BY created_at DESC`
	args := []any{claimID}
	query, args = applyListOpts(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by claim: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// ListByOwner returns positions held by one identity, newest first.
func (s *PositionStore) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE owner = $1 ORDER BY created_at DESC`
	args := []any{owner}
	query, args = applyListOpts(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by owner: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// MarkClaimed flips the claimed flag; the WHERE clause guarantees the
// flag is taken exactly once even under concurrent duplicate calls.
func (s *PositionStore) MarkClaimed(ctx context.Context, claimID, owner string) error {
	const query = `
		UPDATE positions SET
			claimed    = TRUE,
			updated_at = NOW()
		WHERE claim_id = $1 AND owner = $2 AND NOT claimed`

	tag, err := s.pool.Exec(ctx, query, claimID, owner)
	if err != nil {
		return fmt.Errorf("postgres: mark position %s/%s claimed: %w", claimID, owner, err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.Get(ctx, claimID, owner); getErr != nil {
			return getErr
		}
		return domain.ErrAlreadyClaimed
	}
	return nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
