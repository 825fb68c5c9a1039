package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"minimal-sessions/configs"
)

var ErrUnauthenticated = errors.New("missing caller identity")

// Authenticator resolves the calling identity of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// HeaderAuthenticator trusts an identity header set by the upstream gateway.
// Websocket upgrades from browsers cannot set headers, so those alone may
// name the caller with the userId query parameter.
type HeaderAuthenticator struct {
	Header string
}

func (a HeaderAuthenticator) Authenticate(r *http.Request) (string, error) {
	header := a.Header
	if header == "" {
		header = configs.DefaultAuthHeader
	}
	if id := strings.TrimSpace(r.Header.Get(header)); id != "" {
		return id, nil
	}
	if !websocket.IsWebSocketUpgrade(r) {
		return "", ErrUnauthenticated
	}
	if id := strings.TrimSpace(r.URL.Query().Get("userId")); id != "" {
		return id, nil
	}
	return "", ErrUnauthenticated
}

type callerKey struct{}

func withCaller(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, callerKey{}, userID)
}

// CallerID returns the identity the auth middleware attached to ctx.
func CallerID(ctx context.Context) string {
	id, _ := ctx.Value(callerKey{}).(string)
	return id
}

// authMiddleware rejects unauthenticated requests and makes sure the caller
// exists as an identity before any handler runs.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.auth.Authenticate(r)
		if err != nil {
			s.logger.WithError(err).WithField("path", r.URL.Path).Warn("Rejected unauthenticated request")
			writeError(w, http.StatusUnauthorized, "AUTH", "authentication required")
			return
		}
		if err := s.keys.Register(r.Context(), userID); err != nil {
			s.logger.WithError(err).WithField("user_id", userID).Error("Error registering caller")
			writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
			return
		}
		next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), userID)))
	})
}
