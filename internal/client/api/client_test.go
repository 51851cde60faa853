package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnoise/cloudsync/internal/appdata"
	"github.com/signalnoise/cloudsync/internal/common"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	ts := httptest.NewServer(handler)
	return NewClient(ts.URL, 2*time.Second), ts
}

func TestVerifyInstallsToken(t *testing.T) {
	c, ts := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/verify", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sessionToken":"abc123","email":"a@b.com"}`))
	})
	defer ts.Close()

	r, err := c.Verify(context.Background(), "magic", "device-1")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", r.Email)
	assert.Equal(t, "abc123", c.Token())
}

func TestBearerHeaderSent(t *testing.T) {
	var gotAuth string
	c, ts := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"version":3,"taskCount":1}`))
	})
	defer ts.Close()

	c.SetToken("tok")
	m, err := c.SyncMeta(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.EqualValues(t, 3, m.Version)
}

func TestUnauthorizedMapped(t *testing.T) {
	c, ts := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"session invalid"}`))
	})
	defer ts.Close()

	_, err := c.Pull(context.Background())
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestConflictMapped(t *testing.T) {
	c, ts := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"version conflict"}`))
	})
	defer ts.Close()

	_, err := c.Push(context.Background(), PushRequest{Data: appdata.Default()})
	assert.ErrorIs(t, err, common.ErrVersionConflict)
}

func TestEmptyOverwriteMapped(t *testing.T) {
	c, ts := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"refusing to overwrite existing tasks with empty data"}`))
	})
	defer ts.Close()

	_, err := c.Push(context.Background(), PushRequest{Data: appdata.Default()})
	assert.ErrorIs(t, err, common.ErrEmptyOverwrite)
}

func TestServerDownMapped(t *testing.T) {
	c, ts := newTestClient(func(w http.ResponseWriter, r *http.Request) {})
	ts.Close() // refuse connections

	err := c.Ping(context.Background())
	assert.ErrorIs(t, err, common.ErrUnavailable)
}

func TestLogoutClearsToken(t *testing.T) {
	c, ts := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"all sessions revoked"}`))
	})
	defer ts.Close()

	c.SetToken("tok")
	require.NoError(t, c.Logout(context.Background()))
	assert.Empty(t, c.Token())
}
