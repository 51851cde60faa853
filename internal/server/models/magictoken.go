package models

import "time"

// MagicToken is a single-use authentication capability delivered out of
// band (email). It is deleted on first redemption and expires after a short
// TTL regardless.
type MagicToken struct {
	Token     string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
