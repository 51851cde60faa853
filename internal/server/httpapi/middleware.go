package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/signalnoise/cloudsync/internal/common"
	"github.com/signalnoise/cloudsync/internal/server/models"
)

type contextKey int

const principalKey contextKey = iota

// principal is the authenticated caller attached to the request context.
type principal struct {
	user    *models.User
	session *models.Session
}

func principalFrom(ctx context.Context) (*principal, bool) {
	p, ok := ctx.Value(principalKey).(*principal)
	return p, ok
}

// bearerToken extracts the credential from the Authorization header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// authMiddleware validates the bearer token and attaches the resolved
// session and user to the request context. Validation itself slides the
// session expiry, so every authenticated request keeps the device signed in.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, common.ErrSessionInvalid)
			return
		}

		sess, user, err := s.sessions.Validate(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, &principal{user: user, session: sess})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug(r.Context(), "request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
