package magiclink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnoise/cloudsync/internal/common"
	"github.com/signalnoise/cloudsync/internal/logging"
	"github.com/signalnoise/cloudsync/internal/server/models"
	"github.com/signalnoise/cloudsync/internal/server/session"
	"github.com/signalnoise/cloudsync/internal/server/store/memory"
)

type captureMailer struct {
	email string
	link  string
	err   error
}

func (m *captureMailer) SendMagicLink(ctx context.Context, email, link string) error {
	m.email = email
	m.link = link
	return m.err
}

func newTestService(t *testing.T) (*Service, *memory.Store, *captureMailer) {
	t.Helper()
	st := memory.New()
	log := logging.NewDiscardLogger()
	mailer := &captureMailer{}
	sessions := session.NewManager(st, log, 30*24*time.Hour)
	svc := NewService(st, sessions, mailer, log,
		"https://app.example.com", 15*time.Minute, 10*time.Second)
	return svc, st, mailer
}

func seedActiveUser(t *testing.T, st *memory.Store) {
	t.Helper()
	require.NoError(t, st.SaveUser(context.Background(), &models.User{
		Email:     "a@b.com",
		FirstName: "Ada",
		Tier:      "foundation",
		Status:    models.StatusActive,
	}))
}

func issuedToken(t *testing.T, m *captureMailer) string {
	t.Helper()
	const marker = "?token="
	i := len(m.link) - 2*TokenBytes
	require.Greater(t, i, 0)
	require.Contains(t, m.link, marker)
	return m.link[i:]
}

func TestIssueUnknownUser(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.Issue(context.Background(), "nobody@b.com")
	assert.ErrorIs(t, err, common.ErrUserNotFound)
}

func TestIssueInactiveUser(t *testing.T) {
	svc, st, _ := newTestService(t)
	require.NoError(t, st.SaveUser(context.Background(), &models.User{
		Email:  "a@b.com",
		Status: models.StatusCancelled,
	}))

	err := svc.Issue(context.Background(), "a@b.com")
	assert.ErrorIs(t, err, common.ErrUserInactive)
}

func TestIssueAndRedeem(t *testing.T) {
	ctx := context.Background()
	svc, st, mailer := newTestService(t)
	seedActiveUser(t, st)

	require.NoError(t, svc.Issue(ctx, "a@b.com"))
	assert.Equal(t, "a@b.com", mailer.email)
	assert.Contains(t, mailer.link, "https://app.example.com/?token=")

	token := issuedToken(t, mailer)
	r, err := svc.Redeem(ctx, token, session.DeviceInfo{UserAgent: "Mozilla/5.0 (iPhone)"})
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", r.Email)
	assert.Equal(t, "Ada", r.FirstName)
	assert.Len(t, r.SessionToken, session.TokenBytes*2)

	u, err := st.GetUser(ctx, "a@b.com")
	require.NoError(t, err)
	assert.EqualValues(t, 1, u.LoginCount)
}

func TestRedeemUnknownToken(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Redeem(context.Background(), "bogus", session.DeviceInfo{})
	assert.ErrorIs(t, err, common.ErrTokenInvalidOrExpired)
}

func TestRedeemExpiredToken(t *testing.T) {
	ctx := context.Background()
	svc, st, mailer := newTestService(t)
	seedActiveUser(t, st)

	require.NoError(t, svc.Issue(ctx, "a@b.com"))
	st.SetNow(func() time.Time { return time.Now().Add(16 * time.Minute) })

	_, err := svc.Redeem(ctx, issuedToken(t, mailer), session.DeviceInfo{})
	assert.ErrorIs(t, err, common.ErrTokenInvalidOrExpired)
}

func TestRedeemIsIdempotentWithinCacheWindow(t *testing.T) {
	ctx := context.Background()
	svc, st, mailer := newTestService(t)
	seedActiveUser(t, st)

	require.NoError(t, svc.Issue(ctx, "a@b.com"))
	token := issuedToken(t, mailer)

	first, err := svc.Redeem(ctx, token, session.DeviceInfo{})
	require.NoError(t, err)

	// Same token again within the window replays the same session.
	second, err := svc.Redeem(ctx, token, session.DeviceInfo{})
	require.NoError(t, err)
	assert.Equal(t, first.SessionToken, second.SessionToken)

	u, err := st.GetUser(ctx, "a@b.com")
	require.NoError(t, err)
	assert.EqualValues(t, 1, u.LoginCount, "replay must not count as a login")
}

func TestRedeemFailsAfterCacheWindow(t *testing.T) {
	ctx := context.Background()
	svc, st, mailer := newTestService(t)
	seedActiveUser(t, st)

	require.NoError(t, svc.Issue(ctx, "a@b.com"))
	token := issuedToken(t, mailer)

	_, err := svc.Redeem(ctx, token, session.DeviceInfo{})
	require.NoError(t, err)

	st.SetNow(func() time.Time { return time.Now().Add(time.Minute) })
	_, err = svc.Redeem(ctx, token, session.DeviceInfo{})
	assert.ErrorIs(t, err, common.ErrTokenInvalidOrExpired)
}

func TestRedeemInactiveUser(t *testing.T) {
	ctx := context.Background()
	svc, st, mailer := newTestService(t)
	seedActiveUser(t, st)

	require.NoError(t, svc.Issue(ctx, "a@b.com"))

	u, err := st.GetUser(ctx, "a@b.com")
	require.NoError(t, err)
	u.Status = models.StatusPaymentFailed
	require.NoError(t, st.SaveUser(ctx, u))

	_, err = svc.Redeem(ctx, issuedToken(t, mailer), session.DeviceInfo{})
	assert.ErrorIs(t, err, common.ErrUserInactive)
}

func TestIssueSurvivesMailerFailure(t *testing.T) {
	ctx := context.Background()
	svc, st, mailer := newTestService(t)
	seedActiveUser(t, st)
	mailer.err = assert.AnError

	require.NoError(t, svc.Issue(ctx, "a@b.com"))

	// The token was stored regardless and can still be redeemed.
	_, err := svc.Redeem(ctx, issuedToken(t, mailer), session.DeviceInfo{})
	require.NoError(t, err)
}

func TestRedeemMigratesLegacySession(t *testing.T) {
	ctx := context.Background()
	svc, st, mailer := newTestService(t)
	require.NoError(t, st.SaveUser(ctx, &models.User{
		Email:              "a@b.com",
		Status:             models.StatusActive,
		LegacySessionToken: "legacy-token-1",
	}))

	require.NoError(t, svc.Issue(ctx, "a@b.com"))
	r, err := svc.Redeem(ctx, issuedToken(t, mailer), session.DeviceInfo{})
	require.NoError(t, err)

	// The legacy token now lives as a regular session next to the new one.
	legacy, err := st.GetSession(ctx, "legacy-token-1")
	require.NoError(t, err)
	assert.Equal(t, "Unknown", legacy.DeviceType)

	u, err := st.GetUser(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Empty(t, u.LegacySessionToken)
	assert.Equal(t, int64(1), u.LoginCount)

	tokens, err := st.SessionTokens(ctx, "a@b.com")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"legacy-token-1", r.SessionToken}, tokens)
}
