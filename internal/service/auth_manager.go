package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gotradegate/tradegate/internal/model"
	"github.com/gotradegate/tradegate/internal/pkg/logger"
	"github.com/gotradegate/tradegate/internal/pkg/metrics"
)

// RevocationStore tracks revoked token IDs until their natural expiry.
// Entries self-expire at the token's exp so the set stays bounded.
type RevocationStore interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// AuthManager issues and verifies the three credential kinds: API key
// pairs, HMAC-signed requests, and JWT bearer tokens. Every verification
// path fails closed with ok=false; errors are reserved for infrastructure
// faults. None of the failure modes distinguish unknown from wrong
// credentials.
type AuthManager struct {
	store     *CredentialStore
	revoked   RevocationStore
	jwtSecret []byte
	tokenTTL  time.Duration
	tolerance time.Duration // signed-request replay window

	mu     sync.Mutex
	active map[string]time.Time // jti -> exp, for issued tokens

	now func() time.Time
}

func NewAuthManager(store *CredentialStore, revoked RevocationStore, jwtSecret []byte, tokenTTL, hmacTolerance time.Duration) *AuthManager {
	if len(jwtSecret) == 0 {
		// A per-boot secret keeps the service usable without config; issued
		// tokens simply do not survive a restart.
		jwtSecret = make([]byte, 32)
		if _, err := rand.Read(jwtSecret); err != nil {
			panic(fmt.Sprintf("auth: cannot read entropy: %v", err))
		}
		logger.Warn("No JWT secret configured, generated ephemeral signing key")
	}
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	if hmacTolerance <= 0 {
		hmacTolerance = 5 * time.Minute
	}
	if revoked == nil {
		revoked = NewMemoryRevocationStore()
	}
	return &AuthManager{
		store:     store,
		revoked:   revoked,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		tolerance: hmacTolerance,
		active:    make(map[string]time.Time),
		now:       time.Now,
	}
}

// CreateKey issues a fresh API key pair for the user. The secret is
// returned exactly once here; read surfaces only ever see a masked view.
func (m *AuthManager) CreateKey(ctx context.Context, userID string, permissions []string) (*model.APIKey, error) {
	if userID == "" {
		return nil, fmt.Errorf("auth: user id required")
	}
	key, err := randomToken("tg_", 24)
	if err != nil {
		return nil, err
	}
	secret, err := randomToken("", 32)
	if err != nil {
		return nil, err
	}
	record := &model.APIKey{
		Key:         key,
		Secret:      secret,
		OwnerID:     userID,
		Permissions: permissions,
		CreatedAt:   m.now().UTC(),
	}
	if err := m.store.PutKey(ctx, record); err != nil {
		return nil, fmt.Errorf("auth: store key: %w", err)
	}
	return record, nil
}

// VerifyKey checks a key/secret pair. Unknown key and wrong secret are the
// same answer. The compare runs over SHA-256 digests so its duration does
// not depend on where the secrets diverge.
func (m *AuthManager) VerifyKey(ctx context.Context, key, secret string) (*model.APIKey, bool) {
	record, ok := m.store.GetKey(ctx, key)
	if !ok {
		metrics.AuthAttempts.WithLabelValues(model.MethodAPIKey, "denied").Inc()
		return nil, false
	}
	want := sha256.Sum256([]byte(record.Secret))
	got := sha256.Sum256([]byte(secret))
	if !hmac.Equal(want[:], got[:]) {
		metrics.AuthAttempts.WithLabelValues(model.MethodAPIKey, "denied").Inc()
		return nil, false
	}
	metrics.AuthAttempts.WithLabelValues(model.MethodAPIKey, "allowed").Inc()
	return record, true
}

// VerifySignedRequest validates an HMAC-signed call. The claimed timestamp
// must be within the replay window of server time; the signature is
// HMAC-SHA256 over key ++ timestamp ++ canonical payload, hex encoded.
func (m *AuthManager) VerifySignedRequest(ctx context.Context, key, timestamp, signature string, payload map[string]any) (*model.APIKey, bool) {
	record, ok := m.store.GetKey(ctx, key)
	if !ok {
		metrics.AuthAttempts.WithLabelValues(model.MethodHMAC, "denied").Inc()
		return nil, false
	}
	ts, err := strconv.ParseFloat(timestamp, 64)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues(model.MethodHMAC, "denied").Inc()
		return nil, false
	}
	skew := math.Abs(float64(m.now().Unix()) - ts)
	if skew > m.tolerance.Seconds() {
		metrics.AuthAttempts.WithLabelValues(model.MethodHMAC, "denied").Inc()
		return nil, false
	}
	expected := SignRequest(record.Secret, key, timestamp, payload)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		metrics.AuthAttempts.WithLabelValues(model.MethodHMAC, "denied").Inc()
		return nil, false
	}
	metrics.AuthAttempts.WithLabelValues(model.MethodHMAC, "allowed").Inc()
	return record, true
}

// SignRequest computes the signature a well-behaved client sends. Exported
// so clients of this package (and the tests) share one definition.
func SignRequest(secret, key, timestamp string, payload map[string]any) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(key))
	mac.Write([]byte(timestamp))
	mac.Write(CanonicalJSON(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// CanonicalJSON serializes a payload deterministically: encoding/json emits
// map keys in lexicographic order with no extra whitespace, which is exactly
// the canonical form signed requests are computed over.
func CanonicalJSON(payload map[string]any) []byte {
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		// Only non-serializable values (chans, funcs) can land here, and
		// transport-decoded payloads never carry those.
		return []byte("{}")
	}
	return data
}

// IssueToken mints a bearer token for the subject. Reserved claims win over
// caller-supplied extras.
func (m *AuthManager) IssueToken(ctx context.Context, userID string, extra map[string]any) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("auth: subject required")
	}
	now := m.now()
	exp := now.Add(m.tokenTTL)
	jti := uuid.New().String()

	claims := jwt.MapClaims{}
	for k, v := range extra {
		claims[k] = v
	}
	claims["sub"] = userID
	claims["iat"] = now.Unix()
	claims["exp"] = exp.Unix()
	claims["jti"] = jti

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}

	m.mu.Lock()
	m.pruneActiveLocked(now)
	m.active[jti] = exp
	m.mu.Unlock()
	return token, nil
}

// VerifyToken checks signature and expiry, then the revocation set. A
// revoked jti is never honored regardless of cryptographic validity.
func (m *AuthManager) VerifyToken(ctx context.Context, token string) (jwt.MapClaims, bool) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.jwtSecret, nil
	}, jwt.WithTimeFunc(func() time.Time { return m.now() }))
	if err != nil || !parsed.Valid {
		metrics.AuthAttempts.WithLabelValues(model.MethodBearer, "denied").Inc()
		return nil, false
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		metrics.AuthAttempts.WithLabelValues(model.MethodBearer, "denied").Inc()
		return nil, false
	}
	revoked, err := m.revoked.IsRevoked(ctx, jti)
	if err != nil {
		// Unverifiable revocation state fails closed.
		logger.LogError(ctx, err, "Revocation check failed, denying token")
		metrics.AuthAttempts.WithLabelValues(model.MethodBearer, "denied").Inc()
		return nil, false
	}
	if revoked {
		metrics.AuthAttempts.WithLabelValues(model.MethodBearer, "denied").Inc()
		return nil, false
	}
	metrics.AuthAttempts.WithLabelValues(model.MethodBearer, "allowed").Inc()
	return claims, true
}

// RevokeToken blacklists a token's jti. The decode deliberately skips
// signature verification: revocation has to work on tokens whose signing
// key has rotated away. Revoking an already-revoked token is a no-op.
func (m *AuthManager) RevokeToken(ctx context.Context, token string) error {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("auth: malformed token: %w", err)
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return fmt.Errorf("auth: token has no jti")
	}
	exp := m.now().Add(m.tokenTTL)
	if raw, err := claims.GetExpirationTime(); err == nil && raw != nil {
		exp = raw.Time
	}
	if err := m.revoked.Revoke(ctx, jti, exp); err != nil {
		return fmt.Errorf("auth: revoke %s: %w", jti, err)
	}
	m.mu.Lock()
	delete(m.active, jti)
	m.mu.Unlock()
	return nil
}

// ActiveTokens reports how many issued, unexpired, unrevoked jtis this
// instance is tracking.
func (m *AuthManager) ActiveTokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneActiveLocked(m.now())
	return len(m.active)
}

func (m *AuthManager) pruneActiveLocked(now time.Time) {
	for jti, exp := range m.active {
		if !exp.After(now) {
			delete(m.active, jti)
		}
	}
}

func randomToken(prefix string, bytes int) (string, error) {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: read entropy: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// MemoryRevocationStore keeps revoked jtis in-process with their original
// expiry and drops stale entries lazily on access. The Redis-backed variant
// in the repository package is the multi-instance equivalent.
type MemoryRevocationStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryRevocationStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.entries[jti] = expiresAt
	return nil
}

func (s *MemoryRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	exp, ok := s.entries[jti]
	if !ok {
		return false, nil
	}
	// Past its natural expiry the token is dead anyway; the signature check
	// rejects it before the revocation set is ever consulted.
	return exp.After(s.now()), nil
}

func (s *MemoryRevocationStore) sweepLocked() {
	now := s.now()
	for jti, exp := range s.entries {
		if !exp.After(now) {
			delete(s.entries, jti)
		}
	}
}
