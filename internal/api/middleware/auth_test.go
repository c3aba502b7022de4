package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuth_MissingKey(t *testing.T) {
	// Auth checks the header before any DB lookup, so nil pool is safe here.
	handler := Auth(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/deployments", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]string
	err := json.Unmarshal(rec.Body.Bytes(), &body)
	assert.NoError(t, err)
	assert.Equal(t, "missing API key", body["error"])
}

func TestHashConsistency(t *testing.T) {
	key := "test-api-key-12345"
	hash := sha256.Sum256([]byte(key))
	keyHash := hex.EncodeToString(hash[:])
	assert.Len(t, keyHash, 64) // SHA-256 = 64 hex chars
}

func TestHasScope(t *testing.T) {
	tests := []struct {
		name     string
		identity *APIKeyIdentity
		resource string
		action   string
		want     bool
	}{
		{"exact match", &APIKeyIdentity{Scopes: []string{"deployments:write"}}, "deployments", "write", true},
		{"wildcard", &APIKeyIdentity{Scopes: []string{"*:*"}}, "deployments", "write", true},
		{"wrong action", &APIKeyIdentity{Scopes: []string{"deployments:read"}}, "deployments", "write", false},
		{"no scopes", &APIKeyIdentity{}, "deployments", "read", false},
		{"nil identity", nil, "deployments", "read", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasScope(tt.identity, tt.resource, tt.action))
		})
	}
}

func TestRequireScope_Denied(t *testing.T) {
	handler := RequireScope("deployments", "write")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	identity := &APIKeyIdentity{ID: "test-key-1", Scopes: []string{"deployments:read"}}
	req := httptest.NewRequest("POST", "/api/v1/deployments", nil)
	req = req.WithContext(context.WithValue(req.Context(), APIKeyIdentityKey, identity))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	assert.Contains(t, body["error"], "deployments:write")
}

func TestRequireScope_Allowed(t *testing.T) {
	handler := RequireScope("deployments", "write")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	identity := &APIKeyIdentity{ID: "test-key-1", Scopes: []string{"deployments:write"}}
	req := httptest.NewRequest("POST", "/api/v1/deployments", nil)
	req = req.WithContext(context.WithValue(req.Context(), APIKeyIdentityKey, identity))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}
