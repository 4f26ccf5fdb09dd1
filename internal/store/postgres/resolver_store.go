package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/truthmarkets/settled/internal/domain"
)

// ResolverStore implements domain.ResolverStore using PostgreSQL.
type ResolverStore struct {
	pool *pgxpool.Pool
}

// NewResolverStore creates a new ResolverStore backed by the given
// connection pool.
func NewResolverStore(pool *pgxpool.Pool) *ResolverStore {
	return &ResolverStore{pool: pool}
}

const resolverSelectCols = `fingerprint, public_key, description, active, registered_at`

// Register inserts a fresh whitelist entry, replacing any prior entry for
// the fingerprint.
func (s *ResolverStore) Register(ctx context.Context, e domain.ResolverEntry) error {
	const query = `
		INSERT INTO resolvers (fingerprint, public_key, description, active, registered_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (fingerprint) DO UPDATE SET
			public_key    = EXCLUDED.public_key,
			description   = EXCLUDED.description,
			active        = EXCLUDED.active,
			registered_at = EXCLUDED.registered_at`

	_, err := s.pool.Exec(ctx, query,
		e.Fingerprint, e.PublicKey, e.Description, e.Active, e.RegisteredAt)
	if err != nil {
		return fmt.Errorf("postgres: register resolver %s: %w", e.Fingerprint, err)
	}
	return nil
}

// Get retrieves one whitelist entry.
func (s *ResolverStore) Get(ctx context.Context, fingerprint string) (domain.ResolverEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+resolverSelectCols+` FROM resolvers WHERE fingerprint = $1`, fingerprint)

	var e domain.ResolverEntry
	err := row.Scan(&e.Fingerprint, &e.PublicKey, &e.Description, &e.Active, &e.RegisteredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ResolverEntry{}, domain.ErrNotFound
		}
		return domain.ResolverEntry{}, fmt.Errorf("postgres: get resolver %s: %w", fingerprint, err)
	}
	return e, nil
}

// Deactivate clears the active flag; the entry remains on record.
func (s *ResolverStore) Deactivate(ctx context.Context, fingerprint string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE resolvers SET active = FALSE WHERE fingerprint = $1`, fingerprint)
	if err != nil {
		return fmt.Errorf("postgres: deactivate resolver %s: %w", fingerprint, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns whitelist entries, newest registration first.
func (s *ResolverStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.ResolverEntry, error) {
	query := `SELECT ` + resolverSelectCols + ` FROM resolvers ORDER BY registered_at DESC`
	args := []any{}
	query, args = applyListOpts(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolvers: %w", err)
	}
	defer rows.Close()

	var entries []domain.ResolverEntry
	for rows.Next() {
		var e domain.ResolverEntry
		if err := rows.Scan(&e.Fingerprint, &e.PublicKey, &e.Description, &e.Active, &e.RegisteredAt); err != nil {
			return nil, fmt.Errorf("postgres: scan resolver: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Compile-time interface check.
var _ domain.ResolverStore = (*ResolverStore)(nil)
