package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truthmarkets/settled/internal/domain"
)

type resolutionEnv struct {
	*settlementEnv
	registry *registryEnv
	svc      *ResolutionService
}

func newResolutionEnv(t *testing.T) *resolutionEnv {
	t.Helper()
	env := &resolutionEnv{
		settlementEnv: newSettlementEnv(t),
		registry:      newRegistryEnv(t),
	}
	env.svc = NewResolutionService(env.registry.svc, env.claimEnv.svc, nil, testLogger())
	return env
}

func (e *resolutionEnv) whitelist(t *testing.T) {
	t.Helper()
	_, err := e.registry.svc.Register(context.Background(), "admin",
		testMeasurement(0xAB), e.registry.attestor.PublicKey(), "test enclave")
	require.NoError(t, err)
}

func (e *resolutionEnv) attest(t *testing.T, claimID string, result bool, resultRef string) []byte {
	t.Helper()
	proof, err := e.registry.attestor.Attest(claimID, result, resultRef, e.now)
	require.NoError(t, err)
	return proof
}

// memBlobWriter records stored objects in a map.
type memBlobWriter struct {
	objects map[string][]byte
}

func (w *memBlobWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if w.objects == nil {
		w.objects = make(map[string][]byte)
	}
	w.objects[path] = raw
	return nil
}

func (w *memBlobWriter) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	return w.Put(ctx, path, data, "")
}

func TestSubmitResolution(t *testing.T) {
	env := newResolutionEnv(t)
	ctx := context.Background()
	env.whitelist(t)
	claim := env.create(t)
	env.advance(2 * time.Hour)

	proof := env.attest(t, claim.ID, true, "results/x.json")
	resolved, err := env.svc.SubmitResolution(ctx, SubmitResolutionInput{
		ClaimID:   claim.ID,
		Result:    true,
		ResultRef: "results/x.json",
		Proof:     proof,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.ClaimStatusResolved, resolved.Status)
	require.NotNil(t, resolved.Result)
	assert.True(t, *resolved.Result)
	require.NotNil(t, resolved.ResolverFingerprint)
	assert.Equal(t, env.registry.attestor.Fingerprint(), *resolved.ResolverFingerprint)

	// The stored reference is exactly the one the resolver signed over.
	require.NotNil(t, resolved.ResultRef)
	assert.Equal(t, "results/x.json", *resolved.ResultRef)
}

// The claim keeps the attested reference verbatim; the synthesized blob
// lands on its own field so the signed record is never rewritten.
func TestSubmitResolutionKeepsAttestedRefSeparateFromBlob(t *testing.T) {
	env := newResolutionEnv(t)
	ctx := context.Background()
	env.whitelist(t)
	blobs := &memBlobWriter{}
	env.svc = NewResolutionService(env.registry.svc, env.claimEnv.svc, blobs, testLogger())
	claim := env.create(t)
	env.advance(2 * time.Hour)

	// The resolver attested no reference at all.
	proof := env.attest(t, claim.ID, true, "")
	resolved, err := env.svc.SubmitResolution(ctx, SubmitResolutionInput{
		ClaimID: claim.ID,
		Result:  true,
		Proof:   proof,
	})
	require.NoError(t, err)

	assert.Nil(t, resolved.ResultRef, "no attested reference, none recorded")
	require.NotNil(t, resolved.ResultBlob)
	assert.Equal(t, "results/"+claim.ID+".json", *resolved.ResultBlob)
	assert.Contains(t, blobs.objects, *resolved.ResultBlob)
	assert.Contains(t, string(blobs.objects[*resolved.ResultBlob]), claim.ID)
}

func TestSubmitResolutionRejectsTamperedResult(t *testing.T) {
	env := newResolutionEnv(t)
	ctx := context.Background()
	env.whitelist(t)
	claim := env.create(t)
	env.advance(2 * time.Hour)

	// The proof attests YES; the submission flips it to NO.
	proof := env.attest(t, claim.ID, true, "")
	_, err := env.svc.SubmitResolution(ctx, SubmitResolutionInput{
		ClaimID: claim.ID,
		Result:  false,
		Proof:   proof,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidProof)

	// The claim must be untouched.
	got, err := env.claims.GetByID(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusOpen, got.Status)
}

func TestSubmitResolutionRejectsWrongClaim(t *testing.T) {
	env := newResolutionEnv(t)
	ctx := context.Background()
	env.whitelist(t)
	a := env.create(t)
	b := env.create(t)
	env.advance(2 * time.Hour)

	proof := env.attest(t, a.ID, true, "")
	_, err := env.svc.SubmitResolution(ctx, SubmitResolutionInput{
		ClaimID: b.ID,
		Result:  true,
		Proof:   proof,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidProof)
}

func TestSubmitResolutionUnknownMeasurement(t *testing.T) {
	env := newResolutionEnv(t)
	ctx := context.Background()
	claim := env.create(t)
	env.advance(2 * time.Hour)

	proof := env.attest(t, claim.ID, true, "")
	_, err := env.svc.SubmitResolution(ctx, SubmitResolutionInput{
		ClaimID: claim.ID,
		Result:  true,
		Proof:   proof,
	})
	assert.ErrorIs(t, err, domain.ErrNotWhitelisted)
}

func TestSubmitResolutionRevokedMeasurement(t *testing.T) {
	env := newResolutionEnv(t)
	ctx := context.Background()
	env.whitelist(t)
	require.NoError(t, env.registry.svc.Revoke(ctx, "admin", env.registry.attestor.Fingerprint()))

	claim := env.create(t)
	env.advance(2 * time.Hour)

	proof := env.attest(t, claim.ID, true, "")
	_, err := env.svc.SubmitResolution(ctx, SubmitResolutionInput{
		ClaimID: claim.ID,
		Result:  true,
		Proof:   proof,
	})
	assert.ErrorIs(t, err, domain.ErrNotWhitelisted)
}

func TestSubmitResolutionMalformedProof(t *testing.T) {
	env := newResolutionEnv(t)
	ctx := context.Background()
	claim := env.create(t)

	_, err := env.svc.SubmitResolution(ctx, SubmitResolutionInput{
		ClaimID: claim.ID,
		Result:  true,
		Proof:   []byte{0x01, 0x02, 0x03},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidProof)
}

func TestSubmitResolutionBeforeDeadline(t *testing.T) {
	env := newResolutionEnv(t)
	ctx := context.Background()
	env.whitelist(t)
	claim := env.create(t)

	// The proof itself is valid; finalization still waits for the deadline.
	proof := env.attest(t, claim.ID, true, "")
	_, err := env.svc.SubmitResolution(ctx, SubmitResolutionInput{
		ClaimID: claim.ID,
		Result:  true,
		Proof:   proof,
	})
	assert.ErrorIs(t, err, domain.ErrDeadlineNotReached)
}
