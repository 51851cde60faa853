// Package common defines shared constants and sentinel errors used across
// client and server layers of the sync service. Callers should use errors.Is
// to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrInternal     = errors.New("internal error")
	ErrUnauthorized = errors.New("unauthorized")

	// Magic-link errors.
	ErrUserNotFound          = errors.New("user not found")
	ErrUserInactive          = errors.New("user account not active")
	ErrTokenInvalidOrExpired = errors.New("magic link invalid or expired")

	// Session errors.
	ErrSessionInvalid = errors.New("session invalid")

	// Sync errors.
	ErrVersionConflict = errors.New("version conflict")
	ErrEmptyOverwrite  = errors.New("refusing to overwrite existing tasks with empty data")

	// Client-side errors.
	ErrUnavailable = errors.New("server unavailable")
)
