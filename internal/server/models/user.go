// Package models defines the server-side records persisted in the
// credential store. All fields use time.Time; conversion to the stored
// representation (milliseconds since epoch) happens only inside store
// implementations.
package models

import "time"

// User account statuses, written by the payment webhook (external).
const (
	StatusActive        = "active"
	StatusCancelled     = "cancelled"
	StatusPaymentFailed = "payment_failed"
)

// Payment types.
const (
	PaymentLifetime     = "lifetime"
	PaymentSubscription = "subscription"
)

// User is one account record, keyed by email. It is created and mutated by
// the payment webhook (out of scope here) and by the sync handler; it is
// never deleted automatically.
type User struct {
	Email       string
	FirstName   string
	Tier        string
	Status      string
	PaymentType string
	AccessToken string
	CreatedAt   time.Time
	ExpiresAt   time.Time

	// Sync state. AppData holds the canonical serialized document;
	// Version only increases, incremented by one per successful push.
	AppData        []byte
	Version        int64
	LastModifiedAt time.Time
	LastDeviceType string

	LastActiveAt      time.Time
	LoginCount        int64
	SyncedFromLocalAt time.Time // set once by the initial local→cloud push

	// LegacySessionToken is present only on records created before the
	// multi-session model. normalizeUser converts it into a regular
	// Session and clears the field.
	LegacySessionToken string
}

// Active reports whether the account may authenticate and sync.
func (u *User) Active() bool {
	return u.Status == StatusActive
}
