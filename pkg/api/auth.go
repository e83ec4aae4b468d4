// API authentication middleware: static pre-shared key.
//
// Every request except the health probe MUST carry the key in one of:
//
//	apikey: <api_key>
//	X-API-Key: <api_key>
//	Authorization: Bearer <api_key>
//
// WebSocket upgrade requests may pass it as a query param instead:
//
//	ws://host/api/v1/ws?token=<api_key>
//
// The same key is sent to the downstream webhook in the "apikey" header.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/DanielVega-Smll94/whatsapp-service/pkg/infrastructure/webhook"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/logger"
)

// authMiddleware wraps a handler with key checking. NewServer always sets a
// key, so the pass-through branch is only reachable if key generation fails.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		logger.WarnC("auth", "API auth DISABLED, key generation failed")
		return next
	}

	logger.InfoC("auth", "API key auth ENABLED")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if !tokenValid(extractToken(r), apiKey) {
			logger.WarnCF("auth", "Rejected unauthenticated request", map[string]interface{}{
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			})
			w.Header().Set("WWW-Authenticate", `Bearer realm="whatsapp-service"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "unauthorized",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractToken pulls the key from the apikey header, X-API-Key header,
// Authorization bearer or ?token= query param, in that order.
func extractToken(r *http.Request) string {
	if key := r.Header.Get(webhook.APIKeyHeader); key != "" {
		return strings.TrimSpace(key)
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}

	if auth := r.Header.Get("Authorization"); auth != "" {
		if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}

	// ?token=<token> for WebSocket clients
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}

	return ""
}

// tokenValid does a constant-time comparison to prevent timing attacks.
func tokenValid(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// isPublicPath returns true for paths that never require authentication.
func isPublicPath(path string) bool {
	return path == "/api/health"
}
