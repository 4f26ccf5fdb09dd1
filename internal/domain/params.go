package domain

import "time"

// Params holds the mutable protocol-wide settings. There is exactly one
// Params record; every mutation is guarded by an equality check against
// the stored administrator identity.
type Params struct {
	Admin          string
	FeeRecipient   string
	ProtocolFeeBps int
	UpdatedAt      time.Time
}
