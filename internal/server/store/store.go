// Package store defines the credential store interface: key-value
// persistence for users, sessions, and magic tokens. Implementations exist
// for Redis (production), PostgreSQL, and memory (tests, development).
//
// The interface is the system's single serialization boundary: callers work
// with typed records and implementations own the stored representation.
// No locking or transactions are provided. Each operation is a single key
// read or write, and the small race window on concurrent pushes is accepted
// (last push wins).
package store

import (
	"context"
	"time"

	"github.com/signalnoise/cloudsync/internal/server/models"
)

// Store is the credential store. Lookup misses are reported as
// common.ErrNotFound; implementations never return partially decoded
// records.
type Store interface {
	// Users.
	GetUser(ctx context.Context, email string) (*models.User, error)
	SaveUser(ctx context.Context, u *models.User) error
	// FindUserByLegacyToken locates a pre-multi-session user by the
	// session token stored directly on the user record. Used once per
	// legacy user, when an old device presents its credential before
	// the record has been migrated.
	FindUserByLegacyToken(ctx context.Context, token string) (*models.User, error)

	// Sessions. SaveSession registers the token in the owner's session
	// set; DeleteSession removes it from both places.
	GetSession(ctx context.Context, token string) (*models.Session, error)
	SaveSession(ctx context.Context, s *models.Session) error
	DeleteSession(ctx context.Context, token string) error
	SessionTokens(ctx context.Context, email string) ([]string, error)
	ClearSessions(ctx context.Context, email string) error

	// Magic tokens. ConsumeMagicToken atomically deletes the token and
	// returns its email, enforcing single use.
	SaveMagicToken(ctx context.Context, t *models.MagicToken) error
	ConsumeMagicToken(ctx context.Context, token string) (string, error)

	// Verification result cache, keyed by magic token. Absorbs
	// double-submits during the short window after redemption.
	CacheVerifyResult(ctx context.Context, token string, payload []byte, ttl time.Duration) error
	CachedVerifyResult(ctx context.Context, token string) ([]byte, error)

	Close() error
}
