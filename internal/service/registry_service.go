package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/truthmarkets/settled/internal/crypto"
	"github.com/truthmarkets/settled/internal/domain"
)

// RegistryService is the measurement authority: it maintains the whitelist
// of authorized resolver measurements and the protocol parameters. Every
// mutating operation requires the caller to be the configured
// administrator.
type RegistryService struct {
	resolvers domain.ResolverStore
	params    domain.ParamsStore
	bus       domain.SignalBus
	audit     domain.AuditStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewRegistryService creates a RegistryService.
func NewRegistryService(
	resolvers domain.ResolverStore,
	params domain.ParamsStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *RegistryService {
	return &RegistryService{
		resolvers: resolvers,
		params:    params,
		bus:       bus,
		audit:     audit,
		logger:    logger.With(slog.String("component", "registry_service")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock. Intended for tests.
func (s *RegistryService) WithClock(now func() time.Time) *RegistryService {
	s.now = now
	return s
}

func (s *RegistryService) requireAdmin(ctx context.Context, caller string) error {
	params, err := s.params.Get(ctx)
	if err != nil {
		return fmt.Errorf("registry_service: load params: %w", err)
	}
	if caller == "" || caller != params.Admin {
		return domain.ErrUnauthorized
	}
	return nil
}

// Register whitelists a resolver measurement. The fingerprint must be
// exactly 32 bytes and the public key a valid uncompressed secp256k1 key.
// Registering an existing fingerprint issues a fresh entry, which is also
// how a revoked measurement is re-whitelisted.
func (s *RegistryService) Register(ctx context.Context, caller string, fingerprint, publicKey []byte, description string) (domain.ResolverEntry, error) {
	if err := s.requireAdmin(ctx, caller); err != nil {
		return domain.ResolverEntry{}, err
	}

	fp, err := domain.EncodeFingerprint(fingerprint)
	if err != nil {
		return domain.ResolverEntry{}, err
	}
	if err := crypto.ValidatePublicKey(publicKey); err != nil {
		return domain.ResolverEntry{}, fmt.Errorf("%w: %v", domain.ErrInvalidProof, err)
	}

	entry := domain.ResolverEntry{
		Fingerprint:  fp,
		PublicKey:    publicKey,
		Description:  description,
		Active:       true,
		RegisteredAt: s.now(),
	}
	if err := s.resolvers.Register(ctx, entry); err != nil {
		return domain.ResolverEntry{}, fmt.Errorf("registry_service: register %s: %w", fp, err)
	}

	publishEvent(ctx, s.bus, s.logger, domain.EventMeasurementWhitelisted, domain.MeasurementWhitelistedEvent{
		Event:       domain.EventMeasurementWhitelisted,
		Fingerprint: fp,
		Description: description,
	})
	auditLog(ctx, s.audit, s.logger, domain.EventMeasurementWhitelisted, map[string]any{
		"fingerprint": fp,
		"description": description,
		"caller":      caller,
	})

	s.logger.InfoContext(ctx, "measurement whitelisted",
		slog.String("fingerprint", fp),
	)
	return entry, nil
}

// Revoke deactivates a whitelist entry. The entry remains on record.
func (s *RegistryService) Revoke(ctx context.Context, caller, fingerprint string) error {
	if err := s.requireAdmin(ctx, caller); err != nil {
		return err
	}

	if err := s.resolvers.Deactivate(ctx, fingerprint); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("registry_service: revoke %s: %w", fingerprint, err)
	}

	publishEvent(ctx, s.bus, s.logger, domain.EventMeasurementRevoked, domain.MeasurementRevokedEvent{
		Event:       domain.EventMeasurementRevoked,
		Fingerprint: fingerprint,
	})
	auditLog(ctx, s.audit, s.logger, domain.EventMeasurementRevoked, map[string]any{
		"fingerprint": fingerprint,
		"caller":      caller,
	})

	s.logger.InfoContext(ctx, "measurement revoked",
		slog.String("fingerprint", fingerprint),
	)
	return nil
}

// IsActive reports whether a fingerprint is currently whitelisted.
// Unknown fingerprints are inactive, not errors.
func (s *RegistryService) IsActive(ctx context.Context, fingerprint string) (bool, error) {
	entry, err := s.resolvers.Get(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("registry_service: get %s: %w", fingerprint, err)
	}
	return entry.Active, nil
}

// Get returns one whitelist entry.
func (s *RegistryService) Get(ctx context.Context, fingerprint string) (domain.ResolverEntry, error) {
	entry, err := s.resolvers.Get(ctx, fingerprint)
	if err != nil {
		return domain.ResolverEntry{}, fmt.Errorf("registry_service: get %s: %w", fingerprint, err)
	}
	return entry, nil
}

// List returns whitelist entries.
func (s *RegistryService) List(ctx context.Context, opts domain.ListOpts) ([]domain.ResolverEntry, error) {
	entries, err := s.resolvers.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("registry_service: list: %w", err)
	}
	return entries, nil
}

// Params returns the current protocol parameters.
func (s *RegistryService) Params(ctx context.Context) (domain.Params, error) {
	params, err := s.params.Get(ctx)
	if err != nil {
		return domain.Params{}, fmt.Errorf("registry_service: load params: %w", err)
	}
	return params, nil
}

// UpdateAdmin hands administration to a new identity.
func (s *RegistryService) UpdateAdmin(ctx context.Context, caller, newAdmin string) error {
	if newAdmin == "" {
		return domain.ErrUnauthorized
	}
	return s.updateParams(ctx, caller, "admin_updated", func(p *domain.Params) {
		p.Admin = newAdmin
	})
}

// UpdateFeeRecipient changes who may withdraw accrued protocol fees.
func (s *RegistryService) UpdateFeeRecipient(ctx context.Context, caller, recipient string) error {
	return s.updateParams(ctx, caller, "fee_recipient_updated", func(p *domain.Params) {
		p.FeeRecipient = recipient
	})
}

// UpdateProtocolFee changes the protocol fee rate applied to claims
// created from now on; existing claims keep their snapshotted rate.
func (s *RegistryService) UpdateProtocolFee(ctx context.Context, caller string, feeBps int) error {
	if feeBps < 0 || feeBps > domain.BpsDenominator {
		return domain.ErrInvalidFeeRate
	}
	return s.updateParams(ctx, caller, "protocol_fee_updated", func(p *domain.Params) {
		p.ProtocolFeeBps = feeBps
	})
}

func (s *RegistryService) updateParams(ctx context.Context, caller, event string, mutate func(*domain.Params)) error {
	if err := s.requireAdmin(ctx, caller); err != nil {
		return err
	}

	params, err := s.params.Get(ctx)
	if err != nil {
		return fmt.Errorf("registry_service: load params: %w", err)
	}
	mutate(&params)
	params.UpdatedAt = s.now()

	if err := s.params.Update(ctx, params); err != nil {
		return fmt.Errorf("registry_service: update params: %w", err)
	}

	auditLog(ctx, s.audit, s.logger, event, map[string]any{
		"caller":           caller,
		"admin":            params.Admin,
		"fee_recipient":    params.FeeRecipient,
		"protocol_fee_bps": params.ProtocolFeeBps,
	})
	return nil
}
