// Package postgres implements the credential store on PostgreSQL via the
// pgx stdlib driver. Schema migrations are embedded and applied with goose
// at startup. Timestamps are stored as milliseconds since epoch, matching
// the layout used by the other backends.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/signalnoise/cloudsync/internal/common"
	"github.com/signalnoise/cloudsync/internal/server/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to PostgreSQL and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.runMigrations(ctx); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return s, nil
}

func (s *Store) runMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db, "migrations")
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// --- users ---

const userColumns = `email, first_name, tier, status, payment_type, access_token,
	created_at, expires_at, app_data, version, last_modified_at, last_device_type,
	last_active_at, login_count, synced_from_local_at, legacy_session_token`

func scanUser(row *sql.Row) (*models.User, error) {
	u := &models.User{}
	var created, expires, lastModified, lastActive, syncedFromLocal int64
	var appData string

	err := row.Scan(&u.Email, &u.FirstName, &u.Tier, &u.Status, &u.PaymentType, &u.AccessToken,
		&created, &expires, &appData, &u.Version, &lastModified, &u.LastDeviceType,
		&lastActive, &u.LoginCount, &syncedFromLocal, &u.LegacySessionToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}

	u.CreatedAt = fromMillis(created)
	u.ExpiresAt = fromMillis(expires)
	u.LastModifiedAt = fromMillis(lastModified)
	u.LastActiveAt = fromMillis(lastActive)
	u.SyncedFromLocalAt = fromMillis(syncedFromLocal)
	if appData != "" {
		u.AppData = []byte(appData)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(s.db.QueryRowContext(ctx, query, email))
}

func (s *Store) FindUserByLegacyToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, common.ErrNotFound
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE legacy_session_token = $1`
	return scanUser(s.db.QueryRowContext(ctx, query, token))
}

func (s *Store) SaveUser(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (email) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			tier = EXCLUDED.tier,
			status = EXCLUDED.status,
			payment_type = EXCLUDED.payment_type,
			access_token = EXCLUDED.access_token,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			app_data = EXCLUDED.app_data,
			version = EXCLUDED.version,
			last_modified_at = EXCLUDED.last_modified_at,
			last_device_type = EXCLUDED.last_device_type,
			last_active_at = EXCLUDED.last_active_at,
			login_count = EXCLUDED.login_count,
			synced_from_local_at = EXCLUDED.synced_from_local_at,
			legacy_session_token = EXCLUDED.legacy_session_token`

	_, err := s.db.ExecContext(ctx, query,
		u.Email, u.FirstName, u.Tier, u.Status, u.PaymentType, u.AccessToken,
		millis(u.CreatedAt), millis(u.ExpiresAt), string(u.AppData), u.Version,
		millis(u.LastModifiedAt), u.LastDeviceType, millis(u.LastActiveAt),
		u.LoginCount, millis(u.SyncedFromLocalAt), u.LegacySessionToken)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

// --- sessions ---

func (s *Store) GetSession(ctx context.Context, token string) (*models.Session, error) {
	query := `SELECT token, user_email, device_type, device_id, created_at, last_active_at, expires_at
		FROM sessions WHERE token = $1`

	sess := &models.Session{}
	var created, lastActive, expires int64
	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&sess.Token, &sess.UserEmail, &sess.DeviceType, &sess.DeviceID,
		&created, &lastActive, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}

	sess.CreatedAt = fromMillis(created)
	sess.LastActiveAt = fromMillis(lastActive)
	sess.ExpiresAt = fromMillis(expires)
	return sess, nil
}

func (s *Store) SaveSession(ctx context.Context, sess *models.Session) error {
	query := `
		INSERT INTO sessions (token, user_email, device_type, device_id, created_at, last_active_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (token) DO UPDATE SET
			device_type = EXCLUDED.device_type,
			device_id = EXCLUDED.device_id,
			last_active_at = EXCLUDED.last_active_at,
			expires_at = EXCLUDED.expires_at`

	_, err := s.db.ExecContext(ctx, query,
		sess.Token, sess.UserEmail, sess.DeviceType, sess.DeviceID,
		millis(sess.CreatedAt), millis(sess.LastActiveAt), millis(sess.ExpiresAt))
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (s *Store) SessionTokens(ctx context.Context, email string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT token FROM sessions WHERE user_email = $1`, email)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (s *Store) ClearSessions(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_email = $1`, email)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

// --- magic tokens ---

func (s *Store) SaveMagicToken(ctx context.Context, t *models.MagicToken) error {
	query := `INSERT INTO magic_tokens (token, email, issued_at, expires_at) VALUES ($1, $2, $3, $4)`
	_, err := s.db.ExecContext(ctx, query, t.Token, t.Email, millis(t.IssuedAt), millis(t.ExpiresAt))
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (s *Store) ConsumeMagicToken(ctx context.Context, token string) (string, error) {
	query := `DELETE FROM magic_tokens WHERE token = $1 AND expires_at > $2 RETURNING email`

	var email string
	err := s.db.QueryRowContext(ctx, query, token, s.now().UnixMilli()).Scan(&email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", common.ErrNotFound
		}
		return "", fmt.Errorf("error performing sql request: %w", err)
	}
	return email, nil
}

// --- verify cache ---

func (s *Store) CacheVerifyResult(ctx context.Context, token string, payload []byte, ttl time.Duration) error {
	query := `
		INSERT INTO verify_cache (token, payload, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at`

	_, err := s.db.ExecContext(ctx, query, token, payload, s.now().Add(ttl).UnixMilli())
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	// Opportunistic cleanup of stale entries; the cache stays tiny.
	_, _ = s.db.ExecContext(ctx, `DELETE FROM verify_cache WHERE expires_at <= $1`, s.now().UnixMilli())
	return nil
}

func (s *Store) CachedVerifyResult(ctx context.Context, token string) ([]byte, error) {
	query := `SELECT payload FROM verify_cache WHERE token = $1 AND expires_at > $2`

	var payload []byte
	err := s.db.QueryRowContext(ctx, query, token, s.now().UnixMilli()).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	return payload, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
