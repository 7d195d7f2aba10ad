package apikeys

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aminahq/amina-api/pkg/amina/auth"
	"github.com/aminahq/amina-api/pkg/amina/kv"
	"github.com/aminahq/amina-api/pkg/amina/ratelimit"
	"github.com/aminahq/amina-api/pkg/amina/response"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// sessionStub injects an authenticated dashboard user the way the
// session middleware would.
func sessionStub(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(auth.ContextKeyUserID, userID)
		c.Next()
	}
}

func setupKeysRouter(t *testing.T, store *Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(store)
	h.RegisterRoutes(r.Group("/user", sessionStub(testUserID)))
	return r
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) response.Envelope {
	var env response.Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	return env
}

func TestCreateKeyHandler(t *testing.T) {
	store := setupTestStore(t)
	r := setupKeysRouter(t, store)

	body, _ := json.Marshal(CreateKeyRequest{Name: "ci key", Permissions: []string{"stats"}})
	req := httptest.NewRequest("POST", "/user/keys", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	env := decodeEnvelope(t, w)
	if !env.Success {
		t.Error("Expected success envelope")
	}

	data, _ := json.Marshal(env.Data)
	var created CreateKeyResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("Failed to unmarshal key response: %v", err)
	}
	if created.Key == "" {
		t.Error("Expected plaintext key in the create response")
	}

	// The plaintext never appears again: listings carry no key material
	req = httptest.NewRequest("GET", "/user/keys", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if bytes.Contains(w.Body.Bytes(), []byte(created.Key)) {
		t.Error("Expected plaintext key to not appear in listings")
	}
}

func TestCreateKeyValidation(t *testing.T) {
	store := setupTestStore(t)
	r := setupKeysRouter(t, store)

	cases := []struct {
		name string
		body string
	}{
		{"missing name", `{}`},
		{"unknown scope", `{"name":"k","permissions":["admin"]}`},
		{"zero rate limit", `{"name":"k","rate_limit":{"requests":0,"window":60}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/user/keys", bytes.NewBufferString(tc.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestRevokeKeyHandler(t *testing.T) {
	store := setupTestStore(t)
	r := setupKeysRouter(t, store)

	_, record, err := store.Issue(testUserID, IssueOptions{Name: "my key"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	req := httptest.NewRequest("DELETE", "/user/keys/"+record.KeyID, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	// Revoking the same key again is a 404
	req = httptest.NewRequest("DELETE", "/user/keys/"+record.KeyID, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 on second revoke, got %d", w.Code)
	}
}

func setupAPIRouter(store *Store, limiter *ratelimit.Limiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", RequireAPIKey(store, limiter), func(c *gin.Context) {
		user, _ := GetUser(c)
		response.Success(c, http.StatusOK, gin.H{"user_id": user.ID})
	})
	return r
}

func TestRequireAPIKey(t *testing.T) {
	store := setupTestStore(t)
	limiter := ratelimit.New(kv.NewMemoryStore(), zerolog.Nop())
	r := setupAPIRouter(store, limiter)

	key, _, err := store.Issue(testUserID, IssueOptions{Name: "my key"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+key)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-RateLimit-Limit") == "" {
		t.Error("Expected rate limit headers on authenticated responses")
	}
}

func TestRequireAPIKeyRejections(t *testing.T) {
	store := setupTestStore(t)
	limiter := ratelimit.New(kv.NewMemoryStore(), zerolog.Nop())
	r := setupAPIRouter(store, limiter)

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic dXNlcjpwYXNz"},
		{"wrong prefix", "Bearer sk_live_abc123"},
		{"unknown key", "Bearer amina_00000000000000000000000000000000"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("Expected status 401, got %d", w.Code)
			}
		})
	}
}

func TestRequireAPIKeyThrottles(t *testing.T) {
	store := setupTestStore(t)
	limiter := ratelimit.New(kv.NewMemoryStore(), zerolog.Nop())
	r := setupAPIRouter(store, limiter)

	key, _, err := store.Issue(testUserID, IssueOptions{
		Name:   "tight key",
		Policy: &ratelimit.Policy{Requests: 3, Window: 60},
	})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/me", nil)
		req.Header.Set("Authorization", "Bearer "+key)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i+1, w.Code)
		}
		if got := w.Header().Get("X-RateLimit-Remaining"); got != fmt.Sprintf("%d", 2-i) {
			t.Errorf("request %d: expected remaining %d, got %s", i+1, 2-i, got)
		}
	}

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+key)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected status 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header on throttled responses")
	}

	env := decodeEnvelope(t, w)
	if env.Success || env.Error == nil || env.Error.Code != response.CodeRateLimit {
		t.Errorf("Expected rate limit error envelope, got %s", w.Body.String())
	}
}

func TestRequireAPIKeyStorageOutage(t *testing.T) {
	store := setupTestStore(t)
	limiter := ratelimit.New(kv.NewMemoryStore(), zerolog.Nop())
	r := setupAPIRouter(store, limiter)

	key, _, err := store.Issue(testUserID, IssueOptions{Name: "my key"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	// Sever the database: verification must answer 503, never 401,
	// so clients don't discard a valid key.
	sqlDB, err := store.db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql db: %v", err)
	}
	sqlDB.Close()

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+key)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 during outage, got %d", w.Code)
	}
}

func TestRequirePermission(t *testing.T) {
	store := setupTestStore(t)
	limiter := ratelimit.New(kv.NewMemoryStore(), zerolog.Nop())

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/stats", RequireAPIKey(store, limiter), RequirePermission("stats"), func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"ok": true})
	})

	scoped, _, err := store.Issue(testUserID, IssueOptions{Name: "images only", Permissions: []string{"images"}})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	allKey, _, err := store.Issue(testUserID, IssueOptions{Name: "all"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	req := httptest.NewRequest("GET", "/stats", nil)
	req.Header.Set("Authorization", "Bearer "+scoped)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 for missing scope, got %d", w.Code)
	}

	// "all" subsumes every scope
	req = httptest.NewRequest("GET", "/stats", nil)
	req.Header.Set("Authorization", "Bearer "+allKey)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for all scope, got %d", w.Code)
	}
}
