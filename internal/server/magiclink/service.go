// Package magiclink implements passwordless authentication: short-lived
// single-use tokens issued by email and redeemed for device sessions.
package magiclink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/signalnoise/cloudsync/internal/common"
	"github.com/signalnoise/cloudsync/internal/logging"
	"github.com/signalnoise/cloudsync/internal/server/mail"
	"github.com/signalnoise/cloudsync/internal/server/models"
	"github.com/signalnoise/cloudsync/internal/server/session"
	"github.com/signalnoise/cloudsync/internal/server/store"
)

// TokenBytes is the entropy of a magic token before hex encoding.
const TokenBytes = 32

// Result is what a successful redemption returns: the newly minted session
// plus enough account info for the client to greet the user. It is also the
// payload cached for idempotent re-verification.
type Result struct {
	SessionToken string    `json:"sessionToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Email        string    `json:"email"`
	FirstName    string    `json:"firstName"`
	Tier         string    `json:"tier"`
}

// Service issues and redeems magic links.
type Service struct {
	store    store.Store
	sessions *session.Manager
	mailer   mail.Mailer
	logger   logging.Logger

	baseURL  string
	tokenTTL time.Duration
	// cacheTTL bounds the window in which redeeming the same token again
	// returns the original result instead of failing. Long enough for a
	// client retry or an email-scanner double fetch, short enough that a
	// leaked link goes stale almost immediately.
	cacheTTL time.Duration

	now func() time.Time
}

func NewService(s store.Store, sessions *session.Manager, mailer mail.Mailer,
	logger logging.Logger, baseURL string, tokenTTL, cacheTTL time.Duration) *Service {
	return &Service{
		store:    s,
		sessions: sessions,
		mailer:   mailer,
		logger:   logger,
		baseURL:  baseURL,
		tokenTTL: tokenTTL,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Issue creates a magic token for an existing active account and hands the
// login link to the mailer. Unknown addresses are rejected: this flow signs
// in, it does not sign up.
func (s *Service) Issue(ctx context.Context, email string) error {
	u, err := s.store.GetUser(ctx, email)
	if errors.Is(err, common.ErrNotFound) {
		return common.ErrUserNotFound
	}
	if err != nil {
		return err
	}
	if !u.Active() {
		return common.ErrUserInactive
	}

	token, err := common.MakeRandHexString(TokenBytes)
	if err != nil {
		return errors.Join(common.ErrInternal, err)
	}

	now := s.now()
	mt := &models.MagicToken{
		Token:     token,
		Email:     email,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.tokenTTL),
	}
	if err := s.store.SaveMagicToken(ctx, mt); err != nil {
		return err
	}

	link := fmt.Sprintf("%s/?token=%s", s.baseURL, token)
	if err := s.mailer.SendMagicLink(ctx, email, link); err != nil {
		// The token stays valid; the user can request another link.
		s.logger.Error(ctx, "magic link delivery failed", "email", email, "error", err)
	}

	s.logger.Info(ctx, "magic link issued", "email", email)
	return nil
}

// Redeem exchanges a magic token for a device session. The token is consumed
// atomically so each link works exactly once; a repeat within the cache
// window replays the original result so double-submitting clients do not see
// a spurious failure.
func (s *Service) Redeem(ctx context.Context, token string, device session.DeviceInfo) (*Result, error) {
	if cached, err := s.store.CachedVerifyResult(ctx, token); err == nil {
		var r Result
		if err := json.Unmarshal(cached, &r); err == nil {
			s.logger.Info(ctx, "magic link re-verified from cache", "email", r.Email)
			return &r, nil
		}
		s.logger.Warn(ctx, "discarding corrupt verify cache entry", "token", session.TruncateToken(token))
	}

	email, err := s.store.ConsumeMagicToken(ctx, token)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.ErrTokenInvalidOrExpired
	}
	if err != nil {
		return nil, err
	}

	u, err := s.store.GetUser(ctx, email)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if !u.Active() {
		return nil, common.ErrUserInactive
	}

	if err := s.sessions.NormalizeUser(ctx, u); err != nil {
		s.logger.Warn(ctx, "legacy session migration failed", "email", email, "error", err)
	}

	sess, err := s.sessions.Create(ctx, email, device)
	if err != nil {
		return nil, err
	}

	u.LoginCount++
	u.LastActiveAt = s.now()
	if err := s.store.SaveUser(ctx, u); err != nil {
		s.logger.Warn(ctx, "failed to record login", "email", email, "error", err)
	}

	r := &Result{
		SessionToken: sess.Token,
		ExpiresAt:    sess.ExpiresAt,
		Email:        u.Email,
		FirstName:    u.FirstName,
		Tier:         u.Tier,
	}

	payload, err := json.Marshal(r)
	if err == nil {
		if cerr := s.store.CacheVerifyResult(ctx, token, payload, s.cacheTTL); cerr != nil {
			s.logger.Warn(ctx, "failed to cache verify result", "error", cerr)
		}
	}

	s.logger.Info(ctx, "magic link redeemed",
		"email", email, "deviceType", sess.DeviceType, "loginCount", u.LoginCount)
	return r, nil
}
