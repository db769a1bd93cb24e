package handlers

import (
	"net/http"
	"strings"

	"github.com/hairizuanbinnoorazman/browser-relay/apitoken"
	"github.com/hairizuanbinnoorazman/browser-relay/logger"
)

// AuthMiddleware verifies bearer tokens on machine-caller requests.
type AuthMiddleware struct {
	tokens apitoken.Store
	logger logger.Logger
}

// NewAuthMiddleware creates the token-checking middleware.
func NewAuthMiddleware(tokens apitoken.Store, log logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		logger: log,
	}
}

// Handler rejects requests without a valid bearer token.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		if _, err := m.tokens.Verify(r.Context(), raw); err != nil {
			m.logger.Warn(r.Context(), "rejected api token", map[string]interface{}{
				"error": err.Error(),
			})
			respondError(w, http.StatusUnauthorized, "invalid api token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
