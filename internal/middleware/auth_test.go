package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotradegate/tradegate/internal/model"
	"github.com/gotradegate/tradegate/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestSecurity(t *testing.T) *service.SecurityManager {
	t.Helper()
	store := service.NewCredentialStore(nil)
	access := service.NewAccessControl()
	limiter := service.NewRateLimiter(nil, 1000, time.Minute)
	auth := service.NewAuthManager(store, nil, []byte("test-signing-key"), time.Hour, 5*time.Minute)
	guard := service.NewTradingGuard(access, limiter, nil, decimal.NewFromInt(10000), service.GuardThresholds{})
	sec := service.NewSecurityManager(auth, limiter, access, guard, nil)
	require.NoError(t, access.AssignRole("u1", "trader"))
	return sec
}

func newAuthRouter(sec *service.SecurityManager) *gin.Engine {
	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(Auth(sec))
	handler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": IdentityFrom(c).UserID})
	}
	v1.GET("/public/health", handler)
	v1.GET("/market/data", handler)
	v1.POST("/orders/place", handler)
	return r
}

func TestAuthMiddlewareAPIKey(t *testing.T) {
	sec := newTestSecurity(t)
	key, err := sec.Auth().CreateKey(context.Background(), "u1", nil)
	require.NoError(t, err)
	router := newAuthRouter(sec)

	req := httptest.NewRequest(http.MethodGet, "/v1/market/data", nil)
	req.Header.Set(HeaderAPIKey, key.Key)
	req.Header.Set(HeaderAPISecret, key.Secret)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "u1", resp["user"])
}

func TestAuthMiddlewareAnonymous(t *testing.T) {
	router := newAuthRouter(newTestSecurity(t))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/public/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/market/data", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var resp struct {
		Error model.Denial `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, model.CodeUnauthorized, resp.Error.Code)
}

func TestAuthMiddlewareWrongSecret(t *testing.T) {
	sec := newTestSecurity(t)
	key, err := sec.Auth().CreateKey(context.Background(), "u1", nil)
	require.NoError(t, err)
	router := newAuthRouter(sec)

	req := httptest.NewRequest(http.MethodGet, "/v1/market/data", nil)
	req.Header.Set(HeaderAPIKey, key.Key)
	req.Header.Set(HeaderAPISecret, "wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewareSignedRequest(t *testing.T) {
	sec := newTestSecurity(t)
	key, err := sec.Auth().CreateKey(context.Background(), "u1", nil)
	require.NoError(t, err)
	router := newAuthRouter(sec)

	payload := map[string]any{"symbol": "BTC-USD", "amount": 10.0}
	body, _ := json.Marshal(payload)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := service.SignRequest(key.Secret, key.Key, ts, payload)

	req := httptest.NewRequest(http.MethodPost, "/v1/orders/place", bytes.NewReader(body))
	req.Header.Set(HeaderAPIKey, key.Key)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, sig)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// A tampered body no longer matches the signature.
	req = httptest.NewRequest(http.MethodPost, "/v1/orders/place", bytes.NewReader([]byte(`{"symbol":"BTC-USD","amount":99.0}`)))
	req.Header.Set(HeaderAPIKey, key.Key)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, sig)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewareForbidden(t *testing.T) {
	sec := newTestSecurity(t)
	require.NoError(t, sec.Access().AssignRole("v1", "viewer"))
	key, err := sec.Auth().CreateKey(context.Background(), "v1", nil)
	require.NoError(t, err)
	router := newAuthRouter(sec)

	req := httptest.NewRequest(http.MethodPost, "/v1/orders/place", nil)
	req.Header.Set(HeaderAPIKey, key.Key)
	req.Header.Set(HeaderAPISecret, key.Secret)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestExtractCredentialPrecedence(t *testing.T) {
	build := func(headers map[string]string) *gin.Context {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/v1/x", nil)
		for k, v := range headers {
			c.Request.Header.Set(k, v)
		}
		return c
	}

	cred := ExtractCredential(build(map[string]string{
		HeaderAPIKey: "k", HeaderSignature: "sig", HeaderTimestamp: "1", HeaderAPISecret: "s",
	}))
	if _, ok := cred.(service.HMACCredential); !ok {
		t.Fatalf("signature header should win: got %T", cred)
	}

	cred = ExtractCredential(build(map[string]string{HeaderAPIKey: "k", HeaderAPISecret: "s"}))
	if _, ok := cred.(service.APIKeyCredential); !ok {
		t.Fatalf("expected APIKeyCredential, got %T", cred)
	}

	cred = ExtractCredential(build(map[string]string{"Authorization": "Bearer tok"}))
	bearer, ok := cred.(service.BearerCredential)
	if !ok {
		t.Fatalf("expected BearerCredential, got %T", cred)
	}
	assert.Equal(t, "tok", bearer.Token)

	// A key header beats a bearer token.
	cred = ExtractCredential(build(map[string]string{HeaderAPIKey: "k", "Authorization": "Bearer tok"}))
	if _, ok := cred.(service.APIKeyCredential); !ok {
		t.Fatalf("key should win over bearer: got %T", cred)
	}

	cred = ExtractCredential(build(nil))
	if _, ok := cred.(service.AnonymousCredential); !ok {
		t.Fatalf("expected AnonymousCredential, got %T", cred)
	}
}

func TestEndpointName(t *testing.T) {
	assert.Equal(t, "market/data", EndpointName("/v1/market/data"))
	assert.Equal(t, "public/health", EndpointName("/v1/public/health/"))
	assert.Equal(t, "metrics", EndpointName("/metrics"))
}

func TestIdentityFromDefaultsToAnonymous(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	identity := IdentityFrom(c)
	assert.True(t, identity.Anonymous())
	assert.Equal(t, model.MethodAnonymous, identity.Method)
}
