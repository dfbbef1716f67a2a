package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewSessionKeyIsUUID(t *testing.T) {
	key := NewSessionKey()
	_, err := uuid.Parse(key)
	assert.NoError(t, err)
	assert.True(t, ValidSessionKey(key))
	assert.NotEqual(t, key, NewSessionKey())
}

func TestSanitizeSessionKey(t *testing.T) {
	assert.Equal(t, "s1", SanitizeSessionKey("  s1 "))
	assert.Equal(t, "", SanitizeSessionKey("../etc/passwd"))
	assert.Equal(t, "", SanitizeSessionKey(""))
	assert.Equal(t, "", SanitizeSessionKey("has space"))
}

func TestMiddlewareResolvesSessionKey(t *testing.T) {
	var gotKey, gotIP string
	h := Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotKey = SessionKeyFromContext(r.Context())
		gotIP = ClientIPFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/session?session_id=from-query", nil)
	req.Header.Set(SessionHeaderName, "from-header")
	req.RemoteAddr = "10.0.0.7:5555"
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "from-header", gotKey)
	assert.Equal(t, "10.0.0.7", gotIP)

	req = httptest.NewRequest(http.MethodGet, "/session?session_id=from-query", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "from-query", gotKey)

	req = httptest.NewRequest(http.MethodGet, "/session?session_id=bad/key", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Empty(t, gotKey)
}
