// Package memory implements the credential store in process memory. It is
// the test double for the Redis and PostgreSQL stores and the default
// backend for local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/signalnoise/cloudsync/internal/common"
	"github.com/signalnoise/cloudsync/internal/server/models"
)

type cachedResult struct {
	payload   []byte
	expiresAt time.Time
}

// Store keeps all records in maps guarded by one RWMutex. TTL'd entries
// (magic tokens, verify cache) are checked lazily on read.
type Store struct {
	mu           sync.RWMutex
	users        map[string]models.User
	sessions     map[string]models.Session
	userSessions map[string]map[string]struct{}
	magicTokens  map[string]models.MagicToken
	verifyCache  map[string]cachedResult

	now func() time.Time
}

func New() *Store {
	return &Store{
		users:        make(map[string]models.User),
		sessions:     make(map[string]models.Session),
		userSessions: make(map[string]map[string]struct{}),
		magicTokens:  make(map[string]models.MagicToken),
		verifyCache:  make(map[string]cachedResult),
		now:          time.Now,
	}
}

// SetNow replaces the clock, for expiry tests.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) GetUser(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[email]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := u
	cp.AppData = append([]byte(nil), u.AppData...)
	return &cp, nil
}

func (s *Store) SaveUser(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *u
	cp.AppData = append([]byte(nil), u.AppData...)
	s.users[u.Email] = cp
	return nil
}

func (s *Store) FindUserByLegacyToken(ctx context.Context, token string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.LegacySessionToken != "" && u.LegacySessionToken == token {
			cp := u
			cp.AppData = append([]byte(nil), u.AppData...)
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (s *Store) GetSession(ctx context.Context, token string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[token]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := sess
	return &cp, nil
}

func (s *Store) SaveSession(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.Token] = *sess
	set, ok := s.userSessions[sess.UserEmail]
	if !ok {
		set = make(map[string]struct{})
		s.userSessions[sess.UserEmail] = set
	}
	set[sess.Token] = struct{}{}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[token]; ok {
		if set, ok := s.userSessions[sess.UserEmail]; ok {
			delete(set, token)
		}
	}
	delete(s.sessions, token)
	return nil
}

func (s *Store) SessionTokens(ctx context.Context, email string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.userSessions[email]
	tokens := make([]string, 0, len(set))
	for t := range set {
		tokens = append(tokens, t)
	}
	return tokens, nil
}

func (s *Store) ClearSessions(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for t := range s.userSessions[email] {
		delete(s.sessions, t)
	}
	delete(s.userSessions, email)
	return nil
}

func (s *Store) SaveMagicToken(ctx context.Context, t *models.MagicToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.magicTokens[t.Token] = *t
	return nil
}

func (s *Store) ConsumeMagicToken(ctx context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.magicTokens[token]
	if !ok {
		return "", common.ErrNotFound
	}
	delete(s.magicTokens, token)
	if s.now().After(t.ExpiresAt) {
		return "", common.ErrNotFound
	}
	return t.Email, nil
}

func (s *Store) CacheVerifyResult(ctx context.Context, token string, payload []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.verifyCache[token] = cachedResult{
		payload:   append([]byte(nil), payload...),
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *Store) CachedVerifyResult(ctx context.Context, token string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.verifyCache[token]
	if !ok {
		return nil, common.ErrNotFound
	}
	if s.now().After(c.expiresAt) {
		delete(s.verifyCache, token)
		return nil, common.ErrNotFound
	}
	return append([]byte(nil), c.payload...), nil
}

func (s *Store) Close() error {
	return nil
}
