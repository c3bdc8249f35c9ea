package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gotradegate/tradegate/internal/model"
	"github.com/gotradegate/tradegate/internal/pkg/apperrors"
	"github.com/gotradegate/tradegate/internal/pkg/metrics"
)

// AuditSink receives security events. Implementations must never block the
// request path and must swallow their own failures.
type AuditSink interface {
	LogSecurityEvent(actor, name string, details map[string]any, severity string)
}

// Default operation risk table. Unknown operations are treated as Medium:
// failing open to Low would skip the session and activity checks for any
// operation someone forgot to register.
var defaultOperationTiers = map[string]model.RiskTier{
	"get_balance":              model.TierLow,
	"get_positions":            model.TierLow,
	"place_order":              model.TierMedium,
	"cancel_order":             model.TierMedium,
	"withdraw_funds":           model.TierHigh,
	"transfer_funds":           model.TierHigh,
	"close_account":            model.TierCritical,
	"change_security_settings": model.TierCritical,
}

// GuardRequest is one trading operation awaiting authorization.
type GuardRequest struct {
	UserID    string
	ClientIP  string
	Operation string
	Params    map[string]any
	Session   model.SecurityContext
}

// GuardThresholds tune the suspicious-activity heuristic and the
// recent-auth requirement. Zero values fall back to the defaults.
type GuardThresholds struct {
	ActivityWindow   time.Duration
	HighRiskOps      int
	TotalOps         int
	RepeatedOp       int
	RecentAuthWindow time.Duration
}

func (t *GuardThresholds) normalize() {
	if t.ActivityWindow <= 0 {
		t.ActivityWindow = 30 * time.Minute
	}
	if t.HighRiskOps <= 0 {
		t.HighRiskOps = 5
	}
	if t.TotalOps <= 0 {
		t.TotalOps = 50
	}
	if t.RepeatedOp <= 0 {
		t.RepeatedOp = 20
	}
	if t.RecentAuthWindow <= 0 {
		t.RecentAuthWindow = 15 * time.Minute
	}
}

type activityEntry struct {
	at        time.Time
	operation string
	tier      model.RiskTier
}

// TradingGuard runs an escalating chain of checks over trading operations.
// The chain is data: an ordered list of stages, each tagged with the lowest
// tier it applies to. An operation of tier T runs every stage tagged <= T,
// in order, and the first failing stage is the denial. Adding a tier or a
// check is a table change, not new dispatch logic.
type TradingGuard struct {
	access  *AccessControl
	limiter *RateLimiter
	sink    AuditSink

	mu     sync.Mutex
	tiers  map[string]model.RiskTier
	ledger map[string][]activityEntry // "{userID}|{clientIP}" -> trailing-window activity
	limits map[string]decimal.Decimal

	defaultLimit decimal.Decimal
	thresholds   GuardThresholds
	stages       []guardStage
	now          func() time.Time
}

type guardStage struct {
	name string
	tier model.RiskTier // lowest tier the stage applies to
	run  func(ctx context.Context, g *TradingGuard, req GuardRequest, tier model.RiskTier) *stageDenial
}

type stageDenial struct {
	errType apperrors.ErrorType
	reason  string
	rate    *model.RateDecision
}

func NewTradingGuard(access *AccessControl, limiter *RateLimiter, sink AuditSink, defaultLimit decimal.Decimal, thresholds GuardThresholds) *TradingGuard {
	thresholds.normalize()
	if defaultLimit.LessThanOrEqual(decimal.Zero) {
		defaultLimit = decimal.NewFromInt(10000)
	}
	g := &TradingGuard{
		access:       access,
		limiter:      limiter,
		sink:         sink,
		tiers:        make(map[string]model.RiskTier),
		ledger:       make(map[string][]activityEntry),
		limits:       make(map[string]decimal.Decimal),
		defaultLimit: defaultLimit,
		thresholds:   thresholds,
		now:          time.Now,
	}
	for op, tier := range defaultOperationTiers {
		g.tiers[op] = tier
	}
	g.stages = []guardStage{
		{name: "permission", tier: model.TierLow, run: checkOperationPermission},
		{name: "rate_limit", tier: model.TierLow, run: checkOperationRate},
		{name: "suspicious_activity", tier: model.TierMedium, run: checkSuspiciousActivity},
		{name: "session", tier: model.TierMedium, run: checkSession},
		{name: "transaction_limit", tier: model.TierHigh, run: checkTransactionLimit},
		{name: "two_factor", tier: model.TierHigh, run: checkTwoFactor},
		{name: "recent_auth", tier: model.TierCritical, run: checkRecentAuth},
		{name: "known_device", tier: model.TierCritical, run: checkKnownDevice},
	}
	return g
}

// SetOperationTier registers or reclassifies an operation.
func (g *TradingGuard) SetOperationTier(operation string, tier model.RiskTier) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tiers[operation] = tier
}

// TierOf reports the operation's risk tier; unregistered operations are
// Medium.
func (g *TradingGuard) TierOf(operation string) model.RiskTier {
	g.mu.Lock()
	defer g.mu.Unlock()
	if tier, ok := g.tiers[operation]; ok {
		return tier
	}
	return model.TierMedium
}

// Operations lists every registered operation name.
func (g *TradingGuard) Operations() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.tiers))
	for op := range g.tiers {
		out = append(out, op)
	}
	return out
}

// SetUserLimit overrides the per-transaction amount ceiling for one user.
// A non-positive amount clears the override.
func (g *TradingGuard) SetUserLimit(userID string, amount decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if amount.LessThanOrEqual(decimal.Zero) {
		delete(g.limits, userID)
		return
	}
	g.limits[userID] = amount
}

// UserLimit returns the user's transaction ceiling, falling back to the
// global default.
func (g *TradingGuard) UserLimit(userID string) decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	if limit, ok := g.limits[userID]; ok {
		return limit
	}
	return g.defaultLimit
}

// Authorize gates one trading operation. Denials are terminal decisions:
// the caller must not retry the same request. High and Critical outcomes
// are always emitted to the audit sink, allowed or not.
func (g *TradingGuard) Authorize(ctx context.Context, req GuardRequest) model.GuardDecision {
	tier := g.TierOf(req.Operation)
	g.recordActivity(req, tier)

	decision := model.GuardDecision{Allowed: true, Tier: tier}
	for _, stage := range g.stages {
		if stage.tier > tier {
			continue
		}
		if denial := stage.run(ctx, g, req, tier); denial != nil {
			decision = model.GuardDecision{
				Allowed: false,
				Tier:    tier,
				Reason:  denial.reason,
				Err:     denial.errType,
				Rate:    denial.rate,
			}
			metrics.GuardRejects.WithLabelValues(stage.name).Inc()
			break
		}
	}

	outcome := "allowed"
	if !decision.Allowed {
		outcome = "denied"
	}
	metrics.GuardDecisions.WithLabelValues(tier.String(), outcome).Inc()

	if tier >= model.TierHigh && g.sink != nil {
		severity := model.SeverityHigh
		if tier == model.TierCritical {
			severity = model.SeverityCritical
		}
		g.sink.LogSecurityEvent(req.UserID, "trading_operation", map[string]any{
			"operation": req.Operation,
			"tier":      tier.String(),
			"allowed":   decision.Allowed,
			"reason":    decision.Reason,
			"client_ip": req.ClientIP,
		}, severity)
	}
	return decision
}

// recordActivity appends the call to the (user, ip) ledger and prunes
// entries outside the trailing window. One critical section per call.
func (g *TradingGuard) recordActivity(req GuardRequest, tier model.RiskTier) {
	now := g.now()
	key := req.UserID + "|" + req.ClientIP
	g.mu.Lock()
	defer g.mu.Unlock()
	entries := append(g.ledger[key], activityEntry{at: now, operation: req.Operation, tier: tier})
	cutoff := now.Add(-g.thresholds.ActivityWindow)
	kept := entries[:0]
	for _, e := range entries {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	g.ledger[key] = kept
	if len(kept) == 0 {
		delete(g.ledger, key)
	}
}

func checkOperationPermission(ctx context.Context, g *TradingGuard, req GuardRequest, _ model.RiskTier) *stageDenial {
	if !g.access.CheckPermission(req.UserID, "trading:"+req.Operation) {
		return &stageDenial{errType: apperrors.ErrPermissionDenied, reason: "unauthorized operation"}
	}
	return nil
}

func checkOperationRate(ctx context.Context, g *TradingGuard, req GuardRequest, _ model.RiskTier) *stageDenial {
	dec, err := g.limiter.Allow(ctx, req.UserID, "trading/"+req.Operation)
	if err != nil {
		// Counter store unreachable: fail closed. A denial here is cheaper
		// than an unbounded burst while the backend is down.
		return &stageDenial{errType: apperrors.ErrRateLimited, reason: "rate limiter unavailable"}
	}
	if !dec.Allowed {
		return &stageDenial{
			errType: apperrors.ErrRateLimited,
			reason:  fmt.Sprintf("rate limit exceeded, resets at %s", dec.ResetAt.Format(time.RFC3339)),
			rate:    &dec,
		}
	}
	return nil
}

func checkSuspiciousActivity(ctx context.Context, g *TradingGuard, req GuardRequest, _ model.RiskTier) *stageDenial {
	key := req.UserID + "|" + req.ClientIP
	g.mu.Lock()
	defer g.mu.Unlock()
	var highRisk, total int
	perOp := make(map[string]int)
	for _, e := range g.ledger[key] {
		total++
		perOp[e.operation]++
		if e.tier >= model.TierHigh {
			highRisk++
		}
	}
	suspicious := highRisk >= g.thresholds.HighRiskOps || total >= g.thresholds.TotalOps
	if !suspicious {
		for _, n := range perOp {
			if n >= g.thresholds.RepeatedOp {
				suspicious = true
				break
			}
		}
	}
	if suspicious {
		return &stageDenial{errType: apperrors.ErrSuspiciousActivity, reason: "suspicious activity pattern detected"}
	}
	return nil
}

func checkSession(ctx context.Context, g *TradingGuard, req GuardRequest, _ model.RiskTier) *stageDenial {
	if req.Session.SessionID == "" {
		return &stageDenial{errType: apperrors.ErrNoValidSession, reason: "valid session required"}
	}
	return nil
}

func checkTransactionLimit(ctx context.Context, g *TradingGuard, req GuardRequest, _ model.RiskTier) *stageDenial {
	raw, present := req.Params["amount"]
	if !present {
		return nil
	}
	amount, ok := parseAmount(raw)
	if !ok {
		return &stageDenial{errType: apperrors.ErrTransactionLimit, reason: "invalid transaction amount"}
	}
	limit := g.UserLimit(req.UserID)
	if amount.GreaterThan(limit) {
		return &stageDenial{
			errType: apperrors.ErrTransactionLimit,
			reason:  fmt.Sprintf("amount exceeds transaction limit of %s", limit.String()),
		}
	}
	return nil
}

func checkTwoFactor(ctx context.Context, g *TradingGuard, req GuardRequest, _ model.RiskTier) *stageDenial {
	if !req.Session.TwoFactorVerified {
		return &stageDenial{errType: apperrors.ErrTwoFactorRequired, reason: "two-factor authentication required"}
	}
	return nil
}

func checkRecentAuth(ctx context.Context, g *TradingGuard, req GuardRequest, _ model.RiskTier) *stageDenial {
	denial := &stageDenial{errType: apperrors.ErrRecentAuthRequired, reason: "recent authentication required"}
	last, ok := req.Session.LastAuthTime.Time()
	if !req.Session.LastAuthTime.IsSet() || !ok || last.IsZero() {
		return denial
	}
	age := g.now().Sub(last)
	// A future last_auth_time is malformed input, not a fresher login.
	if age < 0 || age > g.thresholds.RecentAuthWindow {
		return denial
	}
	return nil
}

func checkKnownDevice(ctx context.Context, g *TradingGuard, req GuardRequest, _ model.RiskTier) *stageDenial {
	if !req.Session.KnownDevice {
		return &stageDenial{errType: apperrors.ErrUnknownDevice, reason: "operation must be performed from a known device"}
	}
	return nil
}

func parseAmount(raw any) (decimal.Decimal, bool) {
	switch v := raw.(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case float32:
		return decimal.NewFromFloat32(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	case decimal.Decimal:
		return v, true
	default:
		return decimal.Decimal{}, false
	}
}
