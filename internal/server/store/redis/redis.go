// Package redis implements the credential store on Redis, using the same
// key schema as the production deployment:
//
//	sn:u:{email}              user record (hash)
//	sn:u:{email}:sessions     owner's session token set
//	sn:session:{token}        session record (hash)
//	sn:magic:{token}          magic token (string with TTL, value = email)
//	sn:magic:verified:{token} cached verification result (string with TTL)
//
// The client is constructed by the caller and injected here, so tests and
// tooling control its lifecycle.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/signalnoise/cloudsync/internal/common"
	"github.com/signalnoise/cloudsync/internal/server/models"
)

const keyPrefix = "sn:"

func userKey(email string) string         { return keyPrefix + "u:" + email }
func userSessionsKey(email string) string { return keyPrefix + "u:" + email + ":sessions" }
func sessionKey(token string) string      { return keyPrefix + "session:" + token }
func magicKey(token string) string        { return keyPrefix + "magic:" + token }
func verifyCacheKey(token string) string  { return keyPrefix + "magic:verified:" + token }

type Store struct {
	rdb *redis.Client
	now func() time.Time
}

// New wraps an already-configured Redis client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, now: time.Now}
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb), nil
}

// --- serialization boundary ---

func millis(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func encodeUser(u *models.User) map[string]any {
	return map[string]any{
		"email":             u.Email,
		"first_name":        u.FirstName,
		"tier":              u.Tier,
		"status":            u.Status,
		"payment_type":      u.PaymentType,
		"access_token":      u.AccessToken,
		"created":           millis(u.CreatedAt),
		"expires":           millis(u.ExpiresAt),
		"app_data":          string(u.AppData),
		"version":           strconv.FormatInt(u.Version, 10),
		"last_modified":     millis(u.LastModifiedAt),
		"last_device":       u.LastDeviceType,
		"last_active":       millis(u.LastActiveAt),
		"login_count":       strconv.FormatInt(u.LoginCount, 10),
		"synced_from_local": millis(u.SyncedFromLocalAt),
	}
}

func decodeUser(h map[string]string) *models.User {
	u := &models.User{
		Email:              h["email"],
		FirstName:          h["first_name"],
		Tier:               h["tier"],
		Status:             h["status"],
		PaymentType:        h["payment_type"],
		AccessToken:        h["access_token"],
		CreatedAt:          parseMillis(h["created"]),
		ExpiresAt:          parseMillis(h["expires"]),
		Version:            parseInt(h["version"]),
		LastModifiedAt:     parseMillis(h["last_modified"]),
		LastDeviceType:     h["last_device"],
		LastActiveAt:       parseMillis(h["last_active"]),
		LoginCount:         parseInt(h["login_count"]),
		SyncedFromLocalAt:  parseMillis(h["synced_from_local"]),
		LegacySessionToken: h["session_token"],
	}
	if d := h["app_data"]; d != "" {
		u.AppData = []byte(d)
	}
	return u
}

func encodeSession(s *models.Session) map[string]any {
	return map[string]any{
		"user_email":  s.UserEmail,
		"device_type": s.DeviceType,
		"device_id":   s.DeviceID,
		"created":     millis(s.CreatedAt),
		"last_active": millis(s.LastActiveAt),
		"expires":     millis(s.ExpiresAt),
	}
}

func decodeSession(token string, h map[string]string) *models.Session {
	return &models.Session{
		Token:        token,
		UserEmail:    h["user_email"],
		DeviceType:   h["device_type"],
		DeviceID:     h["device_id"],
		CreatedAt:    parseMillis(h["created"]),
		LastActiveAt: parseMillis(h["last_active"]),
		ExpiresAt:    parseMillis(h["expires"]),
	}
}

// --- users ---

func (s *Store) GetUser(ctx context.Context, email string) (*models.User, error) {
	h, err := s.rdb.HGetAll(ctx, userKey(email)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(h) == 0 {
		return nil, common.ErrNotFound
	}
	return decodeUser(h), nil
}

func (s *Store) SaveUser(ctx context.Context, u *models.User) error {
	key := userKey(u.Email)
	if err := s.rdb.HSet(ctx, key, encodeUser(u)).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	// The legacy field is only ever removed, never rewritten.
	if u.LegacySessionToken == "" {
		if err := s.rdb.HDel(ctx, key, "session_token").Err(); err != nil {
			return fmt.Errorf("redis hdel: %w", err)
		}
	}
	return nil
}

func (s *Store) FindUserByLegacyToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, common.ErrNotFound
	}

	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, keyPrefix+"u:*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, key := range keys {
			if strings.HasSuffix(key, ":sessions") {
				continue
			}
			legacy, err := s.rdb.HGet(ctx, key, "session_token").Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("redis hget: %w", err)
			}
			if legacy == token {
				h, err := s.rdb.HGetAll(ctx, key).Result()
				if err != nil {
					return nil, fmt.Errorf("redis hgetall: %w", err)
				}
				return decodeUser(h), nil
			}
		}
		cursor = next
		if cursor == 0 {
			return nil, common.ErrNotFound
		}
	}
}

// --- sessions ---

func (s *Store) GetSession(ctx context.Context, token string) (*models.Session, error) {
	h, err := s.rdb.HGetAll(ctx, sessionKey(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(h) == 0 {
		return nil, common.ErrNotFound
	}
	return decodeSession(token, h), nil
}

func (s *Store) SaveSession(ctx context.Context, sess *models.Session) error {
	if err := s.rdb.HSet(ctx, sessionKey(sess.Token), encodeSession(sess)).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	if err := s.rdb.SAdd(ctx, userSessionsKey(sess.UserEmail), sess.Token).Err(); err != nil {
		return fmt.Errorf("redis sadd: %w", err)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	email, err := s.rdb.HGet(ctx, sessionKey(token), "user_email").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis hget: %w", err)
	}
	if email != "" {
		if err := s.rdb.SRem(ctx, userSessionsKey(email), token).Err(); err != nil {
			return fmt.Errorf("redis srem: %w", err)
		}
	}
	if err := s.rdb.Del(ctx, sessionKey(token)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *Store) SessionTokens(ctx context.Context, email string) ([]string, error) {
	tokens, err := s.rdb.SMembers(ctx, userSessionsKey(email)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	return tokens, nil
}

func (s *Store) ClearSessions(ctx context.Context, email string) error {
	tokens, err := s.SessionTokens(ctx, email)
	if err != nil {
		return err
	}
	for _, t := range tokens {
		if err := s.rdb.Del(ctx, sessionKey(t)).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	if err := s.rdb.Del(ctx, userSessionsKey(email)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// --- magic tokens ---

func (s *Store) SaveMagicToken(ctx context.Context, t *models.MagicToken) error {
	ttl := t.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return common.ErrTokenInvalidOrExpired
	}
	if err := s.rdb.Set(ctx, magicKey(t.Token), t.Email, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *Store) ConsumeMagicToken(ctx context.Context, token string) (string, error) {
	email, err := s.rdb.GetDel(ctx, magicKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", common.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis getdel: %w", err)
	}
	return email, nil
}

// --- verify cache ---

func (s *Store) CacheVerifyResult(ctx context.Context, token string, payload []byte, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, verifyCacheKey(token), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *Store) CachedVerifyResult(ctx context.Context, token string) ([]byte, error) {
	payload, err := s.rdb.Get(ctx, verifyCacheKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return payload, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
