package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnoise/cloudsync/internal/appdata"
	"github.com/signalnoise/cloudsync/internal/logging"
	"github.com/signalnoise/cloudsync/internal/server/magiclink"
	"github.com/signalnoise/cloudsync/internal/server/models"
	"github.com/signalnoise/cloudsync/internal/server/session"
	"github.com/signalnoise/cloudsync/internal/server/store/memory"
	"github.com/signalnoise/cloudsync/internal/server/syncsvc"
)

type linkMailer struct{ link string }

func (m *linkMailer) SendMagicLink(ctx context.Context, email, link string) error {
	m.link = link
	return nil
}

type testEnv struct {
	ts     *httptest.Server
	store  *memory.Store
	mailer *linkMailer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := memory.New()
	log := logging.NewDiscardLogger()
	mailer := &linkMailer{}

	sessions := session.NewManager(st, log, 30*24*time.Hour)
	auth := magiclink.NewService(st, sessions, mailer, log,
		"https://app.example.com", 15*time.Minute, 10*time.Second)
	sync := syncsvc.NewService(st, nil, log)

	srv := NewServer("", auth, sessions, sync, log)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)

	require.NoError(t, st.SaveUser(context.Background(), &models.User{
		Email:     "a@b.com",
		FirstName: "Ada",
		Tier:      "foundation",
		Status:    models.StatusActive,
	}))

	return &testEnv{ts: ts, store: st, mailer: mailer}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0)")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, raw
}

// login walks the full magic-link flow and returns a session token.
func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	resp, _ := e.do(t, http.MethodPost, "/auth/magic-link", "", map[string]string{"email": "a@b.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	i := strings.Index(e.mailer.link, "?token=")
	require.GreaterOrEqual(t, i, 0)
	magicToken := e.mailer.link[i+len("?token="):]

	resp, raw := e.do(t, http.MethodPost, "/auth/verify", "", map[string]string{"token": magicToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		SessionToken string `json:"sessionToken"`
	}
	require.NoError(t, json.Unmarshal(raw, &result))
	require.NotEmpty(t, result.SessionToken)
	return result.SessionToken
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	resp, raw := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))
}

func TestMagicLinkUnknownEmail(t *testing.T) {
	e := newTestEnv(t)
	resp, _ := e.do(t, http.MethodPost, "/auth/magic-link", "", map[string]string{"email": "nobody@b.com"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMagicLinkInactiveAccount(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.store.SaveUser(context.Background(), &models.User{
		Email:  "gone@b.com",
		Status: models.StatusCancelled,
	}))
	resp, _ := e.do(t, http.MethodPost, "/auth/magic-link", "", map[string]string{"email": "gone@b.com"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestVerifyBadToken(t *testing.T) {
	e := newTestEnv(t)
	resp, _ := e.do(t, http.MethodPost, "/auth/verify", "", map[string]string{"token": "bogus"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVerifyExpiredToken(t *testing.T) {
	e := newTestEnv(t)
	resp, _ := e.do(t, http.MethodPost, "/auth/magic-link", "", map[string]string{"email": "a@b.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	i := strings.Index(e.mailer.link, "?token=")
	require.GreaterOrEqual(t, i, 0)
	magicToken := e.mailer.link[i+len("?token="):]

	e.store.SetNow(func() time.Time { return time.Now().Add(16 * time.Minute) })

	resp, _ = e.do(t, http.MethodPost, "/auth/verify", "", map[string]string{"token": magicToken})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLoginFlowAndSessionInfo(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)

	resp, raw := e.do(t, http.MethodGet, "/auth/session", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info sessionInfoResponse
	require.NoError(t, json.Unmarshal(raw, &info))
	assert.Equal(t, "a@b.com", info.Email)
	assert.Equal(t, "Ada", info.FirstName)
	assert.Equal(t, "iPhone", info.DeviceType)
}

func TestAuthRequired(t *testing.T) {
	e := newTestEnv(t)
	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/auth/session"},
		{http.MethodGet, "/auth/sessions"},
		{http.MethodPost, "/auth/logout"},
		{http.MethodGet, "/sync/meta"},
		{http.MethodGet, "/sync"},
		{http.MethodPost, "/sync"},
		{http.MethodGet, "/tasks"},
	} {
		resp, _ := e.do(t, route.method, route.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "%s %s", route.method, route.path)

		resp, _ = e.do(t, route.method, route.path, "not-a-session", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "%s %s bad token", route.method, route.path)
	}
}

func TestSyncRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)

	resp, raw := e.do(t, http.MethodGet, "/sync/meta", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var meta syncsvc.Metadata
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.EqualValues(t, 0, meta.Version)

	data := appdata.Default()
	data.Tasks = []appdata.Task{{ID: 1, Text: "write tests", Type: appdata.TaskTypeSignal, Timestamp: time.Now()}}
	resp, raw = e.do(t, http.MethodPost, "/sync", token, map[string]any{"data": data})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.EqualValues(t, 1, meta.Version)
	assert.Equal(t, 1, meta.TaskCount)
	assert.Equal(t, "iPhone", meta.LastDeviceType)

	resp, raw = e.do(t, http.MethodGet, "/sync", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc syncsvc.Document
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.EqualValues(t, 1, doc.Version)
	require.Len(t, doc.Data.Tasks, 1)
	assert.Equal(t, "write tests", doc.Data.Tasks[0].Text)
}

func TestSyncConditionalPushConflict(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)

	data := appdata.Default()
	data.Tasks = []appdata.Task{{ID: 1, Text: "x", Type: appdata.TaskTypeNoise}}
	resp, _ := e.do(t, http.MethodPost, "/sync", token, map[string]any{"data": data})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/sync", token, map[string]any{"data": data, "baseVersion": 0})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/sync", token, map[string]any{"data": data, "baseVersion": 1})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSyncEmptyOverwriteRejected(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)

	data := appdata.Default()
	data.Tasks = []appdata.Task{{ID: 1, Text: "x", Type: appdata.TaskTypeNoise}}
	resp, _ := e.do(t, http.MethodPost, "/sync", token, map[string]any{"data": data})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/sync", token, map[string]any{"data": appdata.Default()})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/sync", token, map[string]any{"data": appdata.Default(), "force": true})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTaskCRUD(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)

	resp, raw := e.do(t, http.MethodPost, "/tasks", token, map[string]string{"text": "deep work", "type": "signal"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created appdata.Task
	require.NoError(t, json.Unmarshal(raw, &created))
	assert.Equal(t, "deep work", created.Text)

	resp, raw = e.do(t, http.MethodGet, "/tasks", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tasks []appdata.Task
	require.NoError(t, json.Unmarshal(raw, &tasks))
	require.Len(t, tasks, 1)

	done := true
	resp, raw = e.do(t, http.MethodPut, fmt.Sprintf("/tasks/%d", created.ID), token,
		map[string]any{"completed": done})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated appdata.Task
	require.NoError(t, json.Unmarshal(raw, &updated))
	assert.True(t, updated.Completed)

	resp, _ = e.do(t, http.MethodDelete, fmt.Sprintf("/tasks/%d", created.ID), token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = e.do(t, http.MethodDelete, fmt.Sprintf("/tasks/%d", created.ID), token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAddTaskValidation(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)

	resp, _ := e.do(t, http.MethodPost, "/tasks", token, map[string]string{"text": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionsListAndLogout(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t)
	other := e.login(t)

	resp, raw := e.do(t, http.MethodGet, "/auth/sessions", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []models.SessionSummary
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list, 2)

	var current int
	for _, s := range list {
		assert.True(t, strings.HasSuffix(s.Token, "..."))
		if s.Current {
			current++
		}
	}
	assert.Equal(t, 1, current)

	resp, _ = e.do(t, http.MethodPost, "/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Both devices are signed out.
	resp, _ = e.do(t, http.MethodGet, "/auth/session", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/auth/session", other, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLegacyTokenAccepted(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.store.SaveUser(context.Background(), &models.User{
		Email:              "old@b.com",
		Status:             models.StatusActive,
		LegacySessionToken: "legacy-abc",
	}))

	resp, raw := e.do(t, http.MethodGet, "/auth/session", "legacy-abc", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info sessionInfoResponse
	require.NoError(t, json.Unmarshal(raw, &info))
	assert.Equal(t, "old@b.com", info.Email)
}
