package admin

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/sentinelgate/gateway/internal/domain/auth"
)

// AdminAuthMiddleware wraps next and enforces a bearer token matching
// tokenHash (an Argon2id or legacy SHA-256 hash — see internal/domain/auth)
// on every request. A missing, malformed, or non-matching token is
// rejected with 401 before next ever runs.
func AdminAuthMiddleware(tokenHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				respondUnauthorized(w, "missing bearer token")
				return
			}

			match, err := auth.VerifyToken(token, tokenHash)
			if err != nil {
				logger.Error("admin auth: token verification failed", "error", err)
				respondUnauthorized(w, "invalid token")
				return
			}
			if !match {
				respondUnauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		return "", false
	}
	return token, true
}

func respondUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}`))
}
