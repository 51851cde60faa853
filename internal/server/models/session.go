package models

import "time"

// Session is one device's bearer credential, created when a magic link is
// redeemed. A user owns a set of sessions; the session references its owner
// by email but does not own the user record.
type Session struct {
	Token        string
	UserEmail    string
	DeviceType   string
	DeviceID     string
	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the session is past its expiry at the given time.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// SessionSummary is the redacted view returned by session listings. The
// token is truncated so a listing can never be used to hijack a device.
type SessionSummary struct {
	Token        string    `json:"token"`
	DeviceType   string    `json:"deviceType"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Current      bool      `json:"current"`
}
