// Package session manages per-device bearer sessions: creation on magic-link
// redemption, validation with rolling expiry, listing, and bulk revocation.
// It also performs the one-time migration of legacy single-token accounts
// into the multi-session model.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/signalnoise/cloudsync/internal/common"
	"github.com/signalnoise/cloudsync/internal/logging"
	"github.com/signalnoise/cloudsync/internal/server/models"
	"github.com/signalnoise/cloudsync/internal/server/store"
)

// TokenBytes is the entropy of a session token before hex encoding.
const TokenBytes = 32

// DeviceInfo describes the device redeeming or presenting a credential.
type DeviceInfo struct {
	UserAgent string
	DeviceID  string
}

// Manager owns the session lifecycle. The ttl is rolling: every successful
// validation slides the expiry forward by the full ttl.
type Manager struct {
	store  store.Store
	logger logging.Logger
	ttl    time.Duration
	now    func() time.Time
}

func NewManager(s store.Store, logger logging.Logger, ttl time.Duration) *Manager {
	return &Manager{
		store:  s,
		logger: logger,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Create mints a new session for the given user. Existing sessions on other
// devices are untouched.
func (m *Manager) Create(ctx context.Context, email string, device DeviceInfo) (*models.Session, error) {
	token, err := common.MakeRandHexString(TokenBytes)
	if err != nil {
		return nil, errors.Join(common.ErrInternal, err)
	}

	now := m.now()
	s := &models.Session{
		Token:        token,
		UserEmail:    email,
		DeviceType:   DeviceTypeFromUserAgent(device.UserAgent),
		DeviceID:     device.DeviceID,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(m.ttl),
	}
	if err := m.store.SaveSession(ctx, s); err != nil {
		return nil, err
	}

	m.logger.Info(ctx, "session created",
		"email", email, "deviceType", s.DeviceType)
	return s, nil
}

// Validate resolves a bearer token to its session and owner. Expired sessions
// are deleted lazily here. On success the session's expiry slides forward and
// the owner's LastActiveAt is updated.
//
// Tokens from the pre-multi-session model are accepted once: the owning user
// is found by the token stored on the record, migrated via normalizeUser, and
// validation proceeds against the converted session.
func (m *Manager) Validate(ctx context.Context, token string) (*models.Session, *models.User, error) {
	if token == "" {
		return nil, nil, common.ErrSessionInvalid
	}

	s, err := m.store.GetSession(ctx, token)
	if errors.Is(err, common.ErrNotFound) {
		s, err = m.migrateLegacy(ctx, token)
	}
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil, common.ErrSessionInvalid
		}
		return nil, nil, err
	}

	now := m.now()
	if s.Expired(now) {
		if derr := m.store.DeleteSession(ctx, s.Token); derr != nil {
			m.logger.Warn(ctx, "failed to delete expired session", "error", derr)
		}
		return nil, nil, common.ErrSessionInvalid
	}

	u, err := m.store.GetUser(ctx, s.UserEmail)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil, common.ErrSessionInvalid
		}
		return nil, nil, err
	}
	if !u.Active() {
		return nil, nil, common.ErrUserInactive
	}

	// Rolling expiry: active devices never log out.
	s.LastActiveAt = now
	s.ExpiresAt = now.Add(m.ttl)
	if err := m.store.SaveSession(ctx, s); err != nil {
		m.logger.Warn(ctx, "failed to slide session expiry", "error", err)
	}

	u.LastActiveAt = now
	if err := m.store.SaveUser(ctx, u); err != nil {
		m.logger.Warn(ctx, "failed to update user activity", "error", err)
	}

	return s, u, nil
}

// migrateLegacy handles a token that predates the session model. The user
// record carrying it is normalized (token converted to a real session) and
// the resulting session returned.
func (m *Manager) migrateLegacy(ctx context.Context, token string) (*models.Session, error) {
	u, err := m.store.FindUserByLegacyToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := m.NormalizeUser(ctx, u); err != nil {
		return nil, err
	}
	return m.store.GetSession(ctx, token)
}

// NormalizeUser migrates a legacy single-token record: the token becomes a
// regular session (device type unknown) and the field is cleared. Records
// without a legacy token pass through unchanged.
func (m *Manager) NormalizeUser(ctx context.Context, u *models.User) error {
	if u.LegacySessionToken == "" {
		return nil
	}

	now := m.now()
	s := &models.Session{
		Token:        u.LegacySessionToken,
		UserEmail:    u.Email,
		DeviceType:   "Unknown",
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(m.ttl),
	}
	if err := m.store.SaveSession(ctx, s); err != nil {
		return err
	}

	u.LegacySessionToken = ""
	if err := m.store.SaveUser(ctx, u); err != nil {
		return err
	}

	m.logger.Info(ctx, "migrated legacy session", "email", u.Email)
	return nil
}

// List returns redacted summaries of the user's live sessions, pruning any
// that have expired. The session matching currentToken is flagged.
func (m *Manager) List(ctx context.Context, email, currentToken string) ([]models.SessionSummary, error) {
	tokens, err := m.store.SessionTokens(ctx, email)
	if err != nil {
		return nil, err
	}

	now := m.now()
	summaries := make([]models.SessionSummary, 0, len(tokens))
	for _, t := range tokens {
		s, err := m.store.GetSession(ctx, t)
		if errors.Is(err, common.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if s.Expired(now) {
			if derr := m.store.DeleteSession(ctx, t); derr != nil {
				m.logger.Warn(ctx, "failed to prune expired session", "error", derr)
			}
			continue
		}
		summaries = append(summaries, models.SessionSummary{
			Token:        TruncateToken(s.Token),
			DeviceType:   s.DeviceType,
			CreatedAt:    s.CreatedAt,
			LastActiveAt: s.LastActiveAt,
			ExpiresAt:    s.ExpiresAt,
			Current:      s.Token == currentToken,
		})
	}
	return summaries, nil
}

// RevokeAll deletes every session of the user, logging out all devices at
// once. The caller's own session goes too.
func (m *Manager) RevokeAll(ctx context.Context, email string) error {
	if err := m.store.ClearSessions(ctx, email); err != nil {
		return err
	}
	m.logger.Info(ctx, "all sessions revoked", "email", email)
	return nil
}

// TruncateToken redacts a token for display: first eight characters plus an
// ellipsis. Short tokens are returned whole.
func TruncateToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}

// DeviceTypeFromUserAgent sniffs a coarse device label from the User-Agent
// header. Unrecognized agents report as Unknown.
func DeviceTypeFromUserAgent(ua string) string {
	switch {
	case strings.Contains(ua, "iPhone"):
		return "iPhone"
	case strings.Contains(ua, "iPad"):
		return "iPad"
	case strings.Contains(ua, "Android"):
		return "Android"
	case strings.Contains(ua, "Mac"):
		return "Mac"
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case strings.Contains(ua, "Linux"):
		return "Desktop"
	case ua == "":
		return "Unknown"
	default:
		return "Desktop"
	}
}
