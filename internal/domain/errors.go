package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidDeadline    = errors.New("deadline must be in the future")
	ErrInvalidStatus      = errors.New("invalid claim status for operation")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInvalidSide        = errors.New("side must be yes or no")
	ErrInvalidFeeRate     = errors.New("fee rate out of range")
	ErrDeadlineNotReached = errors.New("deadline not reached")
	ErrAlreadyResolved    = errors.New("claim already resolved")
	ErrNotResolved        = errors.New("claim not resolved")
	ErrAlreadyClaimed     = errors.New("position already claimed")
	ErrNoWinnings         = errors.New("nothing to claim")
	ErrNoFeesAccrued      = errors.New("no fees accrued")
	ErrInsufficientEscrow = errors.New("insufficient escrow")
	ErrInvalidFingerprint = errors.New("fingerprint must be exactly 32 bytes")
	ErrNotWhitelisted     = errors.New("measurement not whitelisted")
	ErrInvalidProof       = errors.New("invalid attestation proof")
	ErrRateLimited        = errors.New("rate limited")
	ErrLockHeld           = errors.New("lock already held")
)
