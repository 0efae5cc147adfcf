package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ngoyal88/accesslog/pkg/keymanager"
)

// AuthMiddleware validates API keys and publishes the key's user as the
// authenticated user of the request.
func AuthMiddleware(km *keymanager.Manager, enableAuth bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip auth if disabled
			if !enableAuth {
				next.ServeHTTP(w, r)
				return
			}

			// Format: "Bearer alog_xxxxxxxxxxxxx"
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				rejectAuth(w, "missing_header", "Missing Authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				rejectAuth(w, "bad_format", "Invalid Authorization format. Use: Bearer <api_key>", http.StatusUnauthorized)
				return
			}

			apiKeyStr := parts[1]
			if !strings.HasPrefix(apiKeyStr, keymanager.KeyPrefix) {
				rejectAuth(w, "bad_format", "Invalid API key format", http.StatusUnauthorized)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			apiKey, err := km.GetKey(ctx, apiKeyStr)
			cancel()
			if err != nil {
				if errors.Is(err, keymanager.ErrKeyNotFound) {
					rejectAuth(w, "unknown_key", "Invalid API key", http.StatusUnauthorized)
				} else {
					log.Error().Err(err).Msg("[AUTH] key lookup failed")
					rejectAuth(w, "lookup_failed", "Authentication unavailable", http.StatusServiceUnavailable)
				}
				return
			}

			if !apiKey.Active {
				rejectAuth(w, "inactive", "API key is inactive", http.StatusForbidden)
				return
			}
			if apiKey.Expired(time.Now()) {
				rejectAuth(w, "expired", "API key has expired", http.StatusForbidden)
				return
			}
			if apiKey.QuotaExceeded() {
				rejectAuth(w, "quota", "API key quota exceeded", http.StatusTooManyRequests)
				return
			}

			// Update usage (async to not slow down request)
			go func(key string) {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := km.IncrementUsage(ctx, key); err != nil {
					log.Warn().Err(err).Msg("[AUTH] failed to record usage")
				}
			}(apiKeyStr)

			SetUser(r.Context(), apiKey.UserID)
			ctx = context.WithValue(r.Context(), apiKeyContextKey, apiKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAPIKeyFromContext retrieves the API key from request context
func GetAPIKeyFromContext(ctx context.Context) (*keymanager.APIKey, bool) {
	apiKey, ok := ctx.Value(apiKeyContextKey).(*keymanager.APIKey)
	return apiKey, ok
}

func rejectAuth(w http.ResponseWriter, reason, message string, status int) {
	authFailures.WithLabelValues(reason).Inc()
	respondError(w, message, status)
}

func respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
