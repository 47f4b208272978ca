package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type contextKey struct{}

// ContextWithAPIKey adds an API key to the request context
func ContextWithAPIKey(ctx context.Context, key *APIKey) context.Context {
	return context.WithValue(ctx, contextKey{}, key)
}

// APIKeyFromContext retrieves the API key stored by Require
func APIKeyFromContext(ctx context.Context) (*APIKey, bool) {
	key, ok := ctx.Value(contextKey{}).(*APIKey)
	return key, ok
}

// Secret extracts the key from X-API-Key or an Authorization bearer token
func Secret(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// Middleware checks API keys in front of HTTP handlers. A middleware without
// a manager lets every request through.
type Middleware struct {
	manager *Manager
	logger  *zap.Logger
}

// NewMiddleware creates a new authentication middleware
func NewMiddleware(manager *Manager) *Middleware {
	return &Middleware{manager: manager, logger: zap.L().Named("auth")}
}

// Require only calls next for keys holding permission
func (m *Middleware) Require(permission string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.manager == nil {
			next.ServeHTTP(w, r)
			return
		}

		key, err := m.manager.Validate(Secret(r))
		if err != nil {
			m.logger.Debug("rejected request", zap.String("path", r.URL.Path), zap.Error(err))
			if errors.Is(err, ErrMissingKey) {
				w.Header().Set("WWW-Authenticate", "Bearer")
			}
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !key.HasPermission(permission) {
			writeError(w, http.StatusForbidden, "permission '"+permission+"' required")
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithAPIKey(r.Context(), key)))
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_")),
		"message": message,
		"code":    status,
	})
}
