// Package crypto implements attestation proofs for claim resolution and
// encrypted key file handling.
//
// A proof is the fixed 104-byte attestation a resolver enclave emits:
//
//	measurement (32 bytes) || timestamp_le (8 bytes) || signature (64 bytes)
//
// The signature is a compact secp256k1 signature over
// keccak256(claim_id || result_byte || result_ref || timestamp_le) and is
// verified against the public key registered with the whitelisted
// measurement fingerprint.
package crypto

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/truthmarkets/settled/internal/domain"
)

const (
	// MeasurementLen is the enclave measurement (PCR0) length.
	MeasurementLen = 32
	// timestampLen is the little-endian millisecond timestamp length.
	timestampLen = 8
	// signatureLen is the compact secp256k1 signature length (r || s).
	signatureLen = 64
	// AttestationLen is the total serialized proof length.
	AttestationLen = MeasurementLen + timestampLen + signatureLen
)

// Attestation is a parsed resolution proof.
type Attestation struct {
	Measurement [MeasurementLen]byte
	Timestamp   uint64 // unix milliseconds
	Signature   [signatureLen]byte
}

// ParseAttestation decodes a raw proof, validating only structure. It
// returns domain.ErrInvalidProof when the length is wrong.
func ParseAttestation(raw []byte) (Attestation, error) {
	if len(raw) != AttestationLen {
		return Attestation{}, fmt.Errorf("%w: expected %d bytes, got %d",
			domain.ErrInvalidProof, AttestationLen, len(raw))
	}

	var att Attestation
	copy(att.Measurement[:], raw[:MeasurementLen])
	att.Timestamp = binary.LittleEndian.Uint64(raw[MeasurementLen : MeasurementLen+timestampLen])
	copy(att.Signature[:], raw[MeasurementLen+timestampLen:])
	return att, nil
}

// Encode serializes the attestation back to its 104-byte wire form.
func (a Attestation) Encode() []byte {
	out := make([]byte, 0, AttestationLen)
	out = append(out, a.Measurement[:]...)
	out = binary.LittleEndian.AppendUint64(out, a.Timestamp)
	out = append(out, a.Signature[:]...)
	return out
}

// Fingerprint returns the hex form of the measurement, which is the key
// the whitelist is indexed by.
func (a Attestation) Fingerprint() string {
	fp, _ := domain.EncodeFingerprint(a.Measurement[:])
	return fp
}

// ResolutionDigest computes the keccak256 digest the attestation signature
// binds: claim id, result, result reference, and timestamp.
func ResolutionDigest(claimID string, result bool, resultRef string, timestamp uint64) []byte {
	payload := make([]byte, 0, len(claimID)+1+len(resultRef)+timestampLen)
	payload = append(payload, []byte(claimID)...)
	if result {
		payload = append(payload, 1)
	} else {
		payload = append(payload, 0)
	}
	payload = append(payload, []byte(resultRef)...)
	payload = binary.LittleEndian.AppendUint64(payload, timestamp)
	return ethcrypto.Keccak256(payload)
}

// Verify checks the attestation signature over the given resolution fields
// against an uncompressed secp256k1 public key. It returns
// domain.ErrInvalidProof on any mismatch.
func (a Attestation) Verify(publicKey []byte, claimID string, result bool, resultRef string) error {
	if _, err := ethcrypto.UnmarshalPubkey(publicKey); err != nil {
		return fmt.Errorf("%w: bad public key: %v", domain.ErrInvalidProof, err)
	}

	digest := ResolutionDigest(claimID, result, resultRef, a.Timestamp)
	if !ethcrypto.VerifySignature(publicKey, digest, a.Signature[:]) {
		return fmt.Errorf("%w: signature mismatch for claim %s", domain.ErrInvalidProof, claimID)
	}
	return nil
}

// ValidatePublicKey checks that raw is a parseable uncompressed secp256k1
// public key, suitable for storing on a whitelist entry.
func ValidatePublicKey(raw []byte) error {
	if _, err := ethcrypto.UnmarshalPubkey(raw); err != nil {
		return fmt.Errorf("crypto: invalid public key: %w", err)
	}
	return nil
}

// Attestor signs resolution attestations. It is the counterpart of Verify,
// used by resolver-side tooling and tests to produce valid proofs.
type Attestor struct {
	privateKey  *ecdsa.PrivateKey
	measurement [MeasurementLen]byte
}

// NewAttestor creates an Attestor from a hex-encoded secp256k1 private key
// and the raw 32-byte enclave measurement.
func NewAttestor(privateKeyHex string, measurement []byte) (*Attestor, error) {
	if len(measurement) != MeasurementLen {
		return nil, domain.ErrInvalidFingerprint
	}

	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}

	a := &Attestor{privateKey: pk}
	copy(a.measurement[:], measurement)
	return a, nil
}

// PublicKey returns the uncompressed public key to register on the
// whitelist entry for this attestor's measurement.
func (a *Attestor) PublicKey() []byte {
	return ethcrypto.FromECDSAPub(&a.privateKey.PublicKey)
}

// Fingerprint returns the hex form of the attestor's measurement.
func (a *Attestor) Fingerprint() string {
	fp, _ := domain.EncodeFingerprint(a.measurement[:])
	return fp
}

// Attest builds and signs a 104-byte attestation for the given resolution.
func (a *Attestor) Attest(claimID string, result bool, resultRef string, now time.Time) ([]byte, error) {
	att := Attestation{
		Measurement: a.measurement,
		Timestamp:   uint64(now.UnixMilli()),
	}

	digest := ResolutionDigest(claimID, result, resultRef, att.Timestamp)
	sig, err := ethcrypto.Sign(digest, a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign attestation: %w", err)
	}

	// ethcrypto.Sign returns r || s || v; the wire format carries only
	// the 64-byte compact signature.
	copy(att.Signature[:], sig[:signatureLen])

	return att.Encode(), nil
}
