package server

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/lexrag/internal/logging"
)

var (
	errMissingToken = errors.New("authorization required")
	errInvalidToken = errors.New("invalid token")
)

// adminOnly guards the admin routes with "Authorization: Bearer <adminKey>".
// An empty adminKey disables the check; New warns about that once at startup.
// The presented token is never logged.
func adminOnly(adminKey string, next http.Handler) http.Handler {
	if adminKey == "" {
		return next
	}
	want := []byte(adminKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := checkBearer(r, want)
		if err == nil {
			next.ServeHTTP(w, r)
			return
		}

		logging.FromContext(r.Context()).Warn("admin: request rejected",
			slog.String("path", r.URL.Path),
			slog.String("ip", clientIP(r)),
			slog.String("reason", err.Error()),
		)
		challenge := `Bearer realm="lexrag"`
		if errors.Is(err, errInvalidToken) {
			challenge += ` error="invalid_token"`
		}
		w.Header().Set("WWW-Authenticate", challenge)
		writeError(w, http.StatusUnauthorized, kindUnauthorized, err.Error())
	})
}

func checkBearer(r *http.Request, want []byte) error {
	token := bearerToken(r)
	if token == "" {
		return errMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
		return errInvalidToken
	}
	return nil
}

// bearerToken returns the token of an "Authorization: Bearer <token>" header,
// or "" when the header is absent or uses another scheme.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
