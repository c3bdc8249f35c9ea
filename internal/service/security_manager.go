package service

import (
	"context"
	"strings"
	"time"

	"github.com/gotradegate/tradegate/internal/model"
)

// Per-endpoint-class rate limits. Market-data reads are high throughput;
// order placement and account mutations are tightly bounded. Endpoints not
// listed here get the limiter's default.
var defaultEndpointLimits = []struct {
	endpoint string
	limit    int
	window   time.Duration
}{
	{"market/data", 600, time.Minute},
	{"market/book", 600, time.Minute},
	{"orders/place", 10, time.Minute},
	{"orders/cancel", 30, time.Minute},
	{"account/read", 120, time.Minute},
	{"account/update", 5, time.Minute},
	{"authorize", 120, time.Minute},
	{"public/health", 300, time.Minute},
	{"public/time", 300, time.Minute},
}

// Per-tier limits for the guard's trading/<operation> endpoints.
var tierRateLimits = map[model.RiskTier]struct {
	limit  int
	window time.Duration
}{
	model.TierLow:      {120, time.Minute},
	model.TierMedium:   {30, time.Minute},
	model.TierHigh:     {10, time.Minute},
	model.TierCritical: {3, time.Minute},
}

// Resource requirement table, keyed by the endpoint's first path segment.
var defaultResourcePermissions = map[string][]string{
	"market":    {"read"},
	"orders":    {"trade"},
	"account":   {"read"},
	"analytics": {"analyze"},
	"admin":     {"admin"},
	"events":    {"admin"},
	"authorize": {"read"},
}

const publicNamespace = "public/"

// SecurityManager is the composition root: it wires the rate limiter, the
// auth manager, access control, and the trading guard behind the two entry
// points the transport layer calls.
type SecurityManager struct {
	auth    *AuthManager
	limiter *RateLimiter
	access  *AccessControl
	guard   *TradingGuard
	sink    AuditSink
}

func NewSecurityManager(auth *AuthManager, limiter *RateLimiter, access *AccessControl, guard *TradingGuard, sink AuditSink) *SecurityManager {
	m := &SecurityManager{
		auth:    auth,
		limiter: limiter,
		access:  access,
		guard:   guard,
		sink:    sink,
	}
	for _, e := range defaultEndpointLimits {
		limiter.Configure(e.endpoint, e.limit, e.window)
	}
	for resource, perms := range defaultResourcePermissions {
		access.DefineResource(resource, perms)
	}
	// Every known trading operation gets a resource entry and a tier-scaled
	// rate limit. Reads need read; everything that moves money needs trade.
	for _, op := range guard.Operations() {
		tier := guard.TierOf(op)
		required := []string{"trade"}
		if tier == model.TierLow {
			required = []string{"read"}
		}
		access.DefineResource("trading:"+op, required)
		if rl, ok := tierRateLimits[tier]; ok {
			limiter.Configure("trading/"+op, rl.limit, rl.window)
		}
	}
	return m
}

func (m *SecurityManager) Auth() *AuthManager        { return m.auth }
func (m *SecurityManager) Access() *AccessControl    { return m.access }
func (m *SecurityManager) Guard() *TradingGuard      { return m.guard }
func (m *SecurityManager) RateLimiter() *RateLimiter { return m.limiter }

// RegisterOperation adds a trading operation at runtime: tier, resource
// requirements, and rate limit in one step.
func (m *SecurityManager) RegisterOperation(op string, tier model.RiskTier, required []string) {
	m.guard.SetOperationTier(op, tier)
	m.access.DefineResource("trading:"+op, required)
	if rl, ok := tierRateLimits[tier]; ok {
		m.limiter.Configure("trading/"+op, rl.limit, rl.window)
	}
}

// AuthorizeRequest gates a request: rate limit, verify, public-namespace
// gate, then resource permission. The first failing stage short-circuits
// with a typed denial. The rate limit runs before verification and is
// keyed by the caller's client id (the HTTP layer passes the client IP),
// so credential floods spend budget and a client that is both over-limit
// and mis-credentialed sees the rate denial.
func (m *SecurityManager) AuthorizeRequest(ctx context.Context, cred Credential, clientID, endpoint string) model.Verdict {
	dec, err := m.limiter.Allow(ctx, clientID, endpoint)
	if err != nil {
		// Counter store unreachable: fail closed without a reset hint.
		return model.Verdict{Denial: &model.Denial{
			Code: model.CodeRateLimitExceeded, Reason: "rate limiter unavailable",
		}}
	}
	if !dec.Allowed {
		m.emit("", "rate_limit_breach", map[string]any{
			"endpoint": endpoint, "client": clientID, "limit": dec.Limit,
		}, model.SeverityWarning)
		return model.Verdict{Denial: rateDenial(dec)}
	}

	identity, denial := cred.Verify(ctx, m.auth)
	if denial != nil {
		m.emit("", "unauthorized_request", map[string]any{
			"endpoint": endpoint, "client": clientID, "reason": denial.Reason,
		}, model.SeverityWarning)
		return model.Verdict{Denial: denial}
	}

	public := strings.HasPrefix(endpoint, publicNamespace)
	if identity.Anonymous() && !public {
		denial := &model.Denial{Code: model.CodeUnauthorized, Reason: "authentication required"}
		m.emit("", "unauthorized_request", map[string]any{
			"endpoint": endpoint, "client": clientID, "reason": denial.Reason,
		}, model.SeverityWarning)
		return model.Verdict{Denial: denial}
	}

	if !public {
		resource := endpoint
		if i := strings.IndexByte(endpoint, '/'); i > 0 {
			resource = endpoint[:i]
		}
		if !m.access.CheckPermission(identity.UserID, resource) {
			m.emit(identity.UserID, "permission_denied", map[string]any{
				"endpoint": endpoint, "resource": resource,
			}, model.SeverityWarning)
			return model.Verdict{Identity: identity, Denial: &model.Denial{
				Code: model.CodeForbidden, Reason: "permission denied",
			}}
		}
	}

	return model.Verdict{Allowed: true, Identity: identity}
}

// AuthorizeTradingOperation authenticates, then gates the trading
// operation. Anonymous callers are never allowed here.
func (m *SecurityManager) AuthorizeTradingOperation(ctx context.Context, cred Credential, clientIP, operation string, params map[string]any, session model.SecurityContext) model.Verdict {
	identity, denial := cred.Verify(ctx, m.auth)
	if denial != nil {
		return model.Verdict{Denial: denial}
	}
	if identity.Anonymous() {
		return model.Verdict{Denial: &model.Denial{Code: model.CodeUnauthorized, Reason: "authentication required"}}
	}
	return m.AuthorizeTrading(ctx, identity, clientIP, operation, params, session)
}

// AuthorizeTrading gates a trading operation for an already-authenticated
// identity (the HTTP layer authenticates once in middleware).
func (m *SecurityManager) AuthorizeTrading(ctx context.Context, identity model.Identity, clientIP, operation string, params map[string]any, session model.SecurityContext) model.Verdict {
	decision := m.guard.Authorize(ctx, GuardRequest{
		UserID:    identity.UserID,
		ClientIP:  clientIP,
		Operation: operation,
		Params:    params,
		Session:   session,
	})
	if decision.Allowed {
		return model.Verdict{Allowed: true, Identity: identity}
	}
	if decision.Rate != nil {
		return model.Verdict{Identity: identity, Denial: rateDenial(*decision.Rate)}
	}
	return model.Verdict{Identity: identity, Denial: &model.Denial{
		Code:   model.CodeOperationDenied,
		Reason: decision.Reason,
	}}
}

func rateDenial(dec model.RateDecision) *model.Denial {
	remaining := dec.Remaining
	resetAt := dec.ResetAt
	return &model.Denial{
		Code:      model.CodeRateLimitExceeded,
		Reason:    "rate limit exceeded",
		Remaining: &remaining,
		ResetAt:   &resetAt,
	}
}

func (m *SecurityManager) emit(actor, name string, details map[string]any, severity string) {
	if m.sink == nil {
		return
	}
	m.sink.LogSecurityEvent(actor, name, details, severity)
}
