package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/truthmarkets/settled/internal/crypto"
	"github.com/truthmarkets/settled/internal/domain"
)

// ResolutionService is the authorization gate in front of claim
// finalization. It validates that a submitted resolution carries a proof
// from a whitelisted resolver measurement, verifies the attestation
// signature against the registered public key, and only then forwards to
// the claim ledger. Authorization and finalization happen in one call so
// there is no gap between the check and the fund-affecting state change.
type ResolutionService struct {
	registry *RegistryService
	claims   *ClaimService
	blobs    domain.BlobWriter
	logger   *slog.Logger
}

// NewResolutionService creates a ResolutionService. blobs may be nil, in
// which case callers must supply a result reference themselves.
func NewResolutionService(
	registry *RegistryService,
	claims *ClaimService,
	blobs domain.BlobWriter,
	logger *slog.Logger,
) *ResolutionService {
	return &ResolutionService{
		registry: registry,
		claims:   claims,
		blobs:    blobs,
		logger:   logger.With(slog.String("component", "resolution_service")),
	}
}

// SubmitResolutionInput is an attested resolution as delivered by a
// resolver.
type SubmitResolutionInput struct {
	ClaimID   string
	Result    bool
	ResultRef string
	// Proof is the 104-byte attestation:
	// measurement(32) || timestamp_le(8) || signature(64).
	Proof []byte
}

// SubmitResolution authorizes and applies an attested resolution. It
// fails closed: unknown, revoked, or unverifiable measurements leave the
// claim untouched.
func (s *ResolutionService) SubmitResolution(ctx context.Context, in SubmitResolutionInput) (domain.Claim, error) {
	att, err := crypto.ParseAttestation(in.Proof)
	if err != nil {
		return domain.Claim{}, err
	}
	fingerprint := att.Fingerprint()

	entry, err := s.registry.Get(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Claim{}, domain.ErrNotWhitelisted
		}
		return domain.Claim{}, fmt.Errorf("resolution_service: lookup %s: %w", fingerprint, err)
	}
	if !entry.Active {
		return domain.Claim{}, domain.ErrNotWhitelisted
	}

	if err := att.Verify(entry.PublicKey, in.ClaimID, in.Result, in.ResultRef); err != nil {
		s.logger.WarnContext(ctx, "attestation verification failed",
			slog.String("claim_id", in.ClaimID),
			slog.String("fingerprint", fingerprint),
			slog.String("error", err.Error()),
		)
		return domain.Claim{}, err
	}

	// The attested reference goes on the claim verbatim, even when empty;
	// the synthesized blob is stored under a separate field so the record
	// the resolver signed over is never rewritten.
	var resultBlob string
	if s.blobs != nil {
		if ref, blobErr := s.storeResultBlob(ctx, in, fingerprint, att.Timestamp); blobErr != nil {
			s.logger.WarnContext(ctx, "result blob store failed",
				slog.String("claim_id", in.ClaimID),
				slog.String("error", blobErr.Error()),
			)
		} else {
			resultBlob = ref
		}
	}

	claim, err := s.claims.Resolve(ctx, in.ClaimID, in.Result, in.ResultRef, resultBlob, fingerprint)
	if err != nil {
		return domain.Claim{}, err
	}
	return claim, nil
}

// storeResultBlob persists the raw resolution payload so indexers can
// fetch it by reference, mirroring how resolvers publish results to the
// content-addressed store.
func (s *ResolutionService) storeResultBlob(ctx context.Context, in SubmitResolutionInput, fingerprint string, timestamp uint64) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"claim_id":    in.ClaimID,
		"result":      in.Result,
		"result_ref":  in.ResultRef,
		"fingerprint": fingerprint,
		"attested_at": time.UnixMilli(int64(timestamp)).UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("resolution_service: marshal result payload: %w", err)
	}

	ref := "results/" + in.ClaimID + ".json"
	if err := s.blobs.Put(ctx, ref, bytes.NewReader(payload), "application/json"); err != nil {
		return "", err
	}
	return ref, nil
}
