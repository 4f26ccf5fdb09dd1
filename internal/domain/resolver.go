package domain

import (
	"encoding/hex"
	"time"
)

// FingerprintLen is the required length of a resolver measurement
// fingerprint in bytes.
const FingerprintLen = 32

// ResolverEntry is the authorization record for one resolver identity.
// Entries are deactivated rather than deleted; re-whitelisting a revoked
// measurement requires a fresh register call.
type ResolverEntry struct {
	// Fingerprint is the hex-encoded 32-byte enclave measurement.
	Fingerprint string

	// PublicKey is the uncompressed secp256k1 public key (65 bytes) that
	// attestation signatures from this resolver verify against.
	PublicKey []byte

	Description  string
	Active       bool
	RegisteredAt time.Time
}

// EncodeFingerprint converts a raw 32-byte measurement to its canonical
// hex form. It returns ErrInvalidFingerprint when the length is wrong.
func EncodeFingerprint(raw []byte) (string, error) {
	if len(raw) != FingerprintLen {
		return "", ErrInvalidFingerprint
	}
	return hex.EncodeToString(raw), nil
}

// DecodeFingerprint parses a canonical hex fingerprint back to raw bytes.
func DecodeFingerprint(s string) ([]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != FingerprintLen {
		return nil, ErrInvalidFingerprint
	}
	return raw, nil
}
