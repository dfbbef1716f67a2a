// Package identity resolves the chat session key and client address of a request.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	SessionHeaderName = "X-Session-ID"
	SessionQueryParam = "session_id"
)

type contextKey int

const (
	sessionKeyKey contextKey = iota
	clientIPKey
)

var sessionKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// NewSessionKey returns a fresh random session key.
func NewSessionKey() string {
	return uuid.NewString()
}

// ValidSessionKey reports whether key is usable as a storage key.
func ValidSessionKey(key string) bool {
	return sessionKeyPattern.MatchString(key)
}

// SanitizeSessionKey returns key trimmed, or "" when it is not a valid key.
func SanitizeSessionKey(key string) string {
	key = strings.TrimSpace(key)
	if !ValidSessionKey(key) {
		return ""
	}
	return key
}

// SessionKeyFromContext returns the key injected by Middleware, or "".
func SessionKeyFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionKeyKey).(string); ok {
		return v
	}
	return ""
}

// ClientIPFromContext returns the client address injected by Middleware.
func ClientIPFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientIPKey).(string); ok {
		return v
	}
	return ""
}

func sessionKeyFromRequest(r *http.Request) string {
	key := r.Header.Get(SessionHeaderName)
	if key == "" {
		key = r.URL.Query().Get(SessionQueryParam)
	}
	return SanitizeSessionKey(key)
}

// Middleware injects the request's session key (header first, then query)
// and client address. A request without a valid key carries "".
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), sessionKeyKey, sessionKeyFromRequest(r))
		ctx = context.WithValue(ctx, clientIPKey, IPFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IPFromRequest returns a normalized remote IP.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
