package model

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gotradegate/tradegate/internal/pkg/apperrors"
)

// Auth method names carried on Identity.
const (
	MethodAPIKey    = "api_key"
	MethodBearer    = "bearer"
	MethodHMAC      = "hmac"
	MethodAnonymous = "anonymous"
)

// Identity is the authenticated principal attached to a request.
type Identity struct {
	UserID string `json:"user_id"`
	Method string `json:"method"`
	Key    string `json:"-"` // API key id when the request authenticated with a key
}

func (i Identity) Anonymous() bool {
	return i.UserID == ""
}

// Wire codes returned to the transport layer.
const (
	CodeUnauthorized      = "unauthorized"
	CodeForbidden         = "forbidden"
	CodeRateLimitExceeded = "rate_limit_exceeded"
	CodeOperationDenied   = "operation_denied"
)

// Denial is the structured refusal handed back to the transport layer.
// Rate-limit denials carry Remaining and ResetAt so clients can back off.
type Denial struct {
	Code      string     `json:"code"`
	Reason    string     `json:"reason"`
	Remaining *int       `json:"remaining,omitempty"`
	ResetAt   *time.Time `json:"reset_at,omitempty"`
}

func (d *Denial) Status() int {
	switch d.Code {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusForbidden
	}
}

// Verdict is the outcome of one security decision.
type Verdict struct {
	Allowed  bool
	Identity Identity
	Denial   *Denial
}

// RateDecision reports one rate-limiter evaluation. Remaining is
// limit minus the post-increment count and goes negative once the
// window is saturated.
type RateDecision struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// RiskTier classifies a trading operation by potential financial impact.
type RiskTier int

const (
	TierLow RiskTier = iota
	TierMedium
	TierHigh
	TierCritical
)

func (t RiskTier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	case TierCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// SecurityContext carries the session attributes the trading guard's upper
// tiers evaluate.
type SecurityContext struct {
	SessionID         string   `json:"session_id"`
	TwoFactorVerified bool     `json:"two_factor_verified"`
	LastAuthTime      FlexTime `json:"last_auth_time"`
	KnownDevice       bool     `json:"known_device"`
}

// GuardDecision is the trading guard's verdict for one operation.
type GuardDecision struct {
	Allowed bool
	Tier    RiskTier
	Reason  string
	Err     apperrors.ErrorType // empty when allowed
	Rate    *RateDecision       // present on rate-limit denials
}

// FlexTime accepts a JSON timestamp as unix seconds (number or numeric
// string) or RFC3339 text. Malformed values are kept as invalid instead of
// failing the bind so the guard can turn them into denials.
type FlexTime struct {
	t     time.Time
	valid bool
	set   bool
}

func NewFlexTime(t time.Time) FlexTime {
	return FlexTime{t: t, valid: true, set: true}
}

// Time returns the parsed timestamp and whether it is usable.
func (f FlexTime) Time() (time.Time, bool) {
	return f.t, f.valid
}

func (f FlexTime) IsSet() bool {
	return f.set
}

func (f *FlexTime) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		return nil
	}
	f.set = true
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = unquoted
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		sec, frac := math.Modf(secs)
		f.t = time.Unix(int64(sec), int64(frac*1e9)).UTC()
		f.valid = true
		return nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		f.t = t
		f.valid = true
		return nil
	}
	return nil
}

func (f FlexTime) MarshalJSON() ([]byte, error) {
	if !f.valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.t)
}
