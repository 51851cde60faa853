// Package localstore persists the client's working copy in SQLite: the task
// document itself plus the sync bookkeeping (session token, tracked server
// version, last sync time). Both live in single-row tables; the client is a
// one-account program.
package localstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pressly/goose/v3"

	"github.com/signalnoise/cloudsync/internal/appdata"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SyncState is the client's sync bookkeeping row.
type SyncState struct {
	// DeviceID identifies this installation across logins. Generated once
	// on first run and kept for the lifetime of the local database.
	DeviceID string

	SessionToken string
	Email        string
	FirstName    string
	Tier         string

	// TrackedVersion is the server version this client last reconciled
	// with. A higher version in the server's metadata means remote
	// changes exist.
	TrackedVersion int64
	LastSyncAt     time.Time

	// SyncedFromLocal records that this device already performed its
	// one-time upload of pre-account local data.
	SyncedFromLocal bool
}

// LoggedIn reports whether the client holds a session credential.
func (s *SyncState) LoggedIn() bool {
	return s.SessionToken != ""
}

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the local database and applies pending
// migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(ctx); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return s, nil
}

func (s *Store) runMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db, "migrations")
}

// LoadData returns the local document. A missing or corrupt row yields a
// default document, mirroring how the server treats its stored copy.
func (s *Store) LoadData(ctx context.Context) (*appdata.Data, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM app_data WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return appdata.Default(), nil
	}
	if err != nil {
		return nil, err
	}

	d, derr := appdata.Decode(payload)
	if derr != nil {
		return appdata.Default(), nil
	}
	return d, nil
}

// SaveData replaces the local document.
func (s *Store) SaveData(ctx context.Context, d *appdata.Data) error {
	payload, err := appdata.Encode(d)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_data (id, payload, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		string(payload), time.Now().UnixMilli())
	return err
}

// State returns the sync bookkeeping row, zero-valued if none exists yet.
func (s *Store) State(ctx context.Context) (*SyncState, error) {
	st := &SyncState{}
	var lastSyncMs int64
	var syncedFromLocal int64
	err := s.db.QueryRowContext(ctx, `
		SELECT device_id, session_token, email, first_name, tier, tracked_version, last_sync_at, synced_from_local
		FROM sync_state WHERE id = 1`).Scan(
		&st.DeviceID, &st.SessionToken, &st.Email, &st.FirstName, &st.Tier,
		&st.TrackedVersion, &lastSyncMs, &syncedFromLocal)
	if errors.Is(err, sql.ErrNoRows) {
		return &SyncState{}, nil
	}
	if err != nil {
		return nil, err
	}

	if lastSyncMs > 0 {
		st.LastSyncAt = time.UnixMilli(lastSyncMs)
	}
	st.SyncedFromLocal = syncedFromLocal != 0
	return st, nil
}

// SaveState replaces the sync bookkeeping row.
func (s *Store) SaveState(ctx context.Context, st *SyncState) error {
	var lastSyncMs int64
	if !st.LastSyncAt.IsZero() {
		lastSyncMs = st.LastSyncAt.UnixMilli()
	}
	syncedFromLocal := 0
	if st.SyncedFromLocal {
		syncedFromLocal = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (id, device_id, session_token, email, first_name, tier, tracked_version, last_sync_at, synced_from_local)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			device_id = excluded.device_id,
			session_token = excluded.session_token,
			email = excluded.email,
			first_name = excluded.first_name,
			tier = excluded.tier,
			tracked_version = excluded.tracked_version,
			last_sync_at = excluded.last_sync_at,
			synced_from_local = excluded.synced_from_local`,
		st.DeviceID, st.SessionToken, st.Email, st.FirstName, st.Tier,
		st.TrackedVersion, lastSyncMs, syncedFromLocal)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}
