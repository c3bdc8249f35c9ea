package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotradegate/tradegate/internal/model"
	"github.com/gotradegate/tradegate/internal/pkg/apperrors"
)

type sinkEvent struct {
	actor    string
	name     string
	severity string
	details  map[string]any
}

type recordingSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

func (s *recordingSink) LogSecurityEvent(actor, name string, details map[string]any, severity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{actor: actor, name: name, severity: severity, details: details})
}

func (s *recordingSink) byName(name string) []sinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sinkEvent
	for _, e := range s.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

var guardTestBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// newTestGuard builds a guard with a trader user u1, every built-in
// operation gated on the trade permission, and a controllable clock.
func newTestGuard(t *testing.T) (*TradingGuard, *recordingSink, func(time.Time)) {
	t.Helper()
	access := NewAccessControl()
	limiter := NewRateLimiter(nil, 1000, time.Minute)
	sink := &recordingSink{}
	guard := NewTradingGuard(access, limiter, sink, decimal.NewFromInt(10000), GuardThresholds{})

	clock := guardTestBase
	guard.now = func() time.Time { return clock }
	limiter.now = guard.now

	for _, op := range guard.Operations() {
		access.DefineResource("trading:"+op, []string{"trade"})
	}
	require.NoError(t, access.AssignRole("u1", "trader"))
	return guard, sink, func(at time.Time) { clock = at }
}

func fullSession(at time.Time) model.SecurityContext {
	return model.SecurityContext{
		SessionID:         "sess-1",
		TwoFactorVerified: true,
		LastAuthTime:      model.NewFlexTime(at),
		KnownDevice:       true,
	}
}

func guardReq(op string, params map[string]any, session model.SecurityContext) GuardRequest {
	return GuardRequest{UserID: "u1", ClientIP: "10.0.0.1", Operation: op, Params: params, Session: session}
}

func TestGuardTierTable(t *testing.T) {
	guard, _, _ := newTestGuard(t)
	assert.Equal(t, model.TierLow, guard.TierOf("get_balance"))
	assert.Equal(t, model.TierMedium, guard.TierOf("place_order"))
	assert.Equal(t, model.TierHigh, guard.TierOf("withdraw_funds"))
	assert.Equal(t, model.TierCritical, guard.TierOf("close_account"))
	assert.Equal(t, model.TierMedium, guard.TierOf("never_registered"))

	guard.SetOperationTier("export_history", model.TierHigh)
	assert.Equal(t, model.TierHigh, guard.TierOf("export_history"))
}

func TestGuardLowTierNeedsNoSession(t *testing.T) {
	guard, _, _ := newTestGuard(t)
	dec := guard.Authorize(context.Background(), guardReq("get_balance", nil, model.SecurityContext{}))
	if !dec.Allowed {
		t.Fatalf("low-tier op denied: %s", dec.Reason)
	}
	assert.Equal(t, model.TierLow, dec.Tier)
}

func TestGuardPermissionIsFirstStage(t *testing.T) {
	guard, _, _ := newTestGuard(t)
	// u2 has no roles and no session either; the denial must still be the
	// permission stage, not a later one.
	req := GuardRequest{UserID: "u2", ClientIP: "10.0.0.2", Operation: "close_account"}
	dec := guard.Authorize(context.Background(), req)
	require.False(t, dec.Allowed)
	assert.Equal(t, apperrors.ErrPermissionDenied, dec.Err)
	assert.Equal(t, "unauthorized operation", dec.Reason)
}

func TestGuardMediumTierRequiresSession(t *testing.T) {
	guard, _, _ := newTestGuard(t)
	ctx := context.Background()

	dec := guard.Authorize(ctx, guardReq("place_order", map[string]any{"amount": 100.0}, model.SecurityContext{}))
	require.False(t, dec.Allowed)
	assert.Equal(t, apperrors.ErrNoValidSession, dec.Err)

	dec = guard.Authorize(ctx, guardReq("place_order", map[string]any{"amount": 100.0}, model.SecurityContext{SessionID: "sess-1"}))
	if !dec.Allowed {
		t.Fatalf("place_order with session denied: %s", dec.Reason)
	}
}

func TestGuardRateLimitDenialCarriesRateDecision(t *testing.T) {
	guard, _, _ := newTestGuard(t)
	guard.limiter.Configure("trading/get_balance", 1, time.Minute)
	ctx := context.Background()

	if dec := guard.Authorize(ctx, guardReq("get_balance", nil, model.SecurityContext{})); !dec.Allowed {
		t.Fatalf("first call denied: %s", dec.Reason)
	}
	dec := guard.Authorize(ctx, guardReq("get_balance", nil, model.SecurityContext{}))
	require.False(t, dec.Allowed)
	assert.Equal(t, apperrors.ErrRateLimited, dec.Err)
	require.NotNil(t, dec.Rate)
	assert.Equal(t, -1, dec.Rate.Remaining)
	assert.Contains(t, dec.Reason, "resets at")
}

func TestGuardTransactionLimit(t *testing.T) {
	guard, _, _ := newTestGuard(t)
	ctx := context.Background()
	session := fullSession(guardTestBase)

	dec := guard.Authorize(ctx, guardReq("withdraw_funds", map[string]any{"amount": 60000.0}, session))
	require.False(t, dec.Allowed)
	assert.Equal(t, apperrors.ErrTransactionLimit, dec.Err)
	assert.Contains(t, dec.Reason, "10000")

	guard.SetUserLimit("u1", decimal.NewFromInt(100000))
	dec = guard.Authorize(ctx, guardReq("withdraw_funds", map[string]any{"amount": 60000.0}, session))
	if !dec.Allowed {
		t.Fatalf("raised limit still denies: %s", dec.Reason)
	}

	// Clearing the override restores the default ceiling.
	guard.SetUserLimit("u1", decimal.Zero)
	assert.True(t, guard.UserLimit("u1").Equal(decimal.NewFromInt(10000)))
}

func TestGuardTransactionLimitAmountParsing(t *testing.T) {
	guard, _, _ := newTestGuard(t)
	ctx := context.Background()
	session := fullSession(guardTestBase)

	dec := guard.Authorize(ctx, guardReq("withdraw_funds", map[string]any{"amount": "not-a-number"}, session))
	require.False(t, dec.Allowed)
	assert.Equal(t, apperrors.ErrTransactionLimit, dec.Err)
	assert.Equal(t, "invalid transaction amount", dec.Reason)

	// String amounts parse like decimals.
	dec = guard.Authorize(ctx, guardReq("withdraw_funds", map[string]any{"amount": "9999.99"}, session))
	if !dec.Allowed {
		t.Fatalf("string amount under the limit denied: %s", dec.Reason)
	}

	// No amount in the params means nothing to check.
	dec = guard.Authorize(ctx, guardReq("withdraw_funds", nil, session))
	if !dec.Allowed {
		t.Fatalf("amountless high-tier op denied: %s", dec.Reason)
	}
}

func TestGuardTwoFactorRequiredAtHighTier(t *testing.T) {
	guard, _, _ := newTestGuard(t)
	session := fullSession(guardTestBase)
	session.TwoFactorVerified = false

	dec := guard.Authorize(context.Background(), guardReq("withdraw_funds", nil, session))
	require.False(t, dec.Allowed)
	assert.Equal(t, apperrors.ErrTwoFactorRequired, dec.Err)

	// Medium tier does not run the two-factor stage.
	dec = guard.Authorize(context.Background(), guardReq("place_order", nil, session))
	if !dec.Allowed {
		t.Fatalf("medium-tier op should not require 2fa: %s", dec.Reason)
	}
}

func TestGuardTierEscalationIsMonotonic(t *testing.T) {
	guard, _, _ := newTestGuard(t)
	session := fullSession(guardTestBase)
	session.TwoFactorVerified = false

	high := guard.Authorize(context.Background(), guardReq("withdraw_funds", nil, session))
	critical := guard.Authorize(context.Background(), guardReq("close_account", nil, session))

	require.False(t, high.Allowed)
	require.False(t, critical.Allowed)
	// A failure at tier T produces the identical denial for any op of tier
	// >= T under the same context.
	assert.Equal(t, high.Err, critical.Err)
	assert.Equal(t, high.Reason, critical.Reason)
}

func TestGuardRecentAuthWindow(t *testing.T) {
	guard, _, setClock := newTestGuard(t)
	ctx := context.Background()
	setClock(guardTestBase.Add(time.Hour))
	now := guardTestBase.Add(time.Hour)

	session := fullSession(now.Add(-14 * time.Minute))
	if dec := guard.Authorize(ctx, guardReq("close_account", nil, session)); !dec.Allowed {
		t.Fatalf("14-minute-old auth denied: %s", dec.Reason)
	}

	session = fullSession(now.Add(-16 * time.Minute))
	dec := guard.Authorize(ctx, guardReq("close_account", nil, session))
	require.False(t, dec.Allowed)
	assert.Equal(t, apperrors.ErrRecentAuthRequired, dec.Err)

	// Missing and future timestamps are both treated as stale.
	session = fullSession(now)
	session.LastAuthTime = model.FlexTime{}
	dec = guard.Authorize(ctx, guardReq("close_account", nil, session))
	require.False(t, dec.Allowed)
	assert.Equal(t, apperrors.ErrRecentAuthRequired, dec.Err)

	session = fullSession(now.Add(5 * time.Minute))
	dec = guard.Authorize(ctx, guardReq("close_account", nil, session))
	require.False(t, dec.Allowed)
	assert.Equal(t, apperrors.ErrRecentAuthRequired, dec.Err)
}

func TestGuardKnownDeviceAtCriticalTier(t *testing.T) {
	guard, _, _ := newTestGuard(t)
	session := fullSession(guardTestBase)
	session.KnownDevice = false

	dec := guard.Authorize(context.Background(), guardReq("change_security_settings", nil, session))
	require.False(t, dec.Allowed)
	assert.Equal(t, apperrors.ErrUnknownDevice, dec.Err)

	// High tier does not check the device.
	dec = guard.Authorize(context.Background(), guardReq("withdraw_funds", nil, session))
	if !dec.Allowed {
		t.Fatalf("high-tier op should not check device: %s", dec.Reason)
	}
}

func TestGuardSuspiciousHighRiskBurst(t *testing.T) {
	guard, _, _ := newTestGuard(t)
	ctx := context.Background()
	session := fullSession(guardTestBase)

	for i := 1; i <= 4; i++ {
		dec := guard.Authorize(ctx, guardReq("withdraw_funds", nil, session))
		if !dec.Allowed {
			t.Fatalf("call %d denied early: %s", i, dec.Reason)
		}
	}
	dec := guard.Authorize(ctx, guardReq("withdraw_funds", nil, session))
	require.False(t, dec.Allowed, "fifth high-risk op inside the window must trip the heuristic")
	assert.Equal(t, apperrors.ErrSuspiciousActivity, dec.Err)
	assert.Equal(t, "suspicious activity pattern detected", dec.Reason)
}

func TestGuardSuspiciousWindowSlides(t *testing.T) {
	guard, _, setClock := newTestGuard(t)
	ctx := context.Background()

	// Five high-risk ops spaced 31 minutes apart never coexist in the
	// 30-minute trailing window.
	clock := guardTestBase
	for i := 1; i <= 5; i++ {
		setClock(clock)
		dec := guard.Authorize(ctx, guardReq("withdraw_funds", nil, fullSession(clock)))
		if !dec.Allowed {
			t.Fatalf("spaced call %d denied: %s", i, dec.Reason)
		}
		clock = clock.Add(31 * time.Minute)
	}
}

func TestGuardSuspiciousRepeatedOperation(t *testing.T) {
	guard, _, _ := newTestGuard(t)
	ctx := context.Background()
	session := fullSession(guardTestBase)

	for i := 1; i <= 19; i++ {
		dec := guard.Authorize(ctx, guardReq("place_order", nil, session))
		if !dec.Allowed {
			t.Fatalf("call %d denied early: %s", i, dec.Reason)
		}
	}
	dec := guard.Authorize(ctx, guardReq("place_order", nil, session))
	require.False(t, dec.Allowed, "20th repeat of one op must trip the heuristic")
	assert.Equal(t, apperrors.ErrSuspiciousActivity, dec.Err)
}

func TestGuardLowTierOpsCountTowardTotals(t *testing.T) {
	guard, _, _ := newTestGuard(t)
	ctx := context.Background()
	session := fullSession(guardTestBase)

	// Low-tier calls skip the suspicious stage but still land in the ledger.
	for i := 0; i < 49; i++ {
		if dec := guard.Authorize(ctx, guardReq("get_balance", nil, session)); !dec.Allowed {
			t.Fatalf("low-tier call denied: %s", dec.Reason)
		}
	}
	dec := guard.Authorize(ctx, guardReq("place_order", nil, session))
	require.False(t, dec.Allowed)
	assert.Equal(t, apperrors.ErrSuspiciousActivity, dec.Err)
}

func TestGuardLedgerIsolatesClientIPs(t *testing.T) {
	guard, _, _ := newTestGuard(t)
	ctx := context.Background()
	session := fullSession(guardTestBase)

	for i := 0; i < 4; i++ {
		req := guardReq("withdraw_funds", nil, session)
		if dec := guard.Authorize(ctx, req); !dec.Allowed {
			t.Fatalf("call denied early: %s", dec.Reason)
		}
	}
	other := guardReq("withdraw_funds", nil, session)
	other.ClientIP = "10.9.9.9"
	if dec := guard.Authorize(ctx, other); !dec.Allowed {
		t.Fatalf("activity from another IP shares the ledger: %s", dec.Reason)
	}
}

func TestGuardAuditsHighTierOutcomes(t *testing.T) {
	guard, sink, _ := newTestGuard(t)
	ctx := context.Background()

	guard.Authorize(ctx, guardReq("get_balance", nil, model.SecurityContext{}))
	assert.Empty(t, sink.byName("trading_operation"), "low tier is not audited")

	guard.Authorize(ctx, guardReq("withdraw_funds", nil, fullSession(guardTestBase)))
	events := sink.byName("trading_operation")
	require.Len(t, events, 1)
	assert.Equal(t, "u1", events[0].actor)
	assert.Equal(t, model.SeverityHigh, events[0].severity)
	assert.Equal(t, true, events[0].details["allowed"])

	// Denied critical outcomes are audited too.
	session := fullSession(guardTestBase)
	session.TwoFactorVerified = false
	guard.Authorize(ctx, guardReq("close_account", nil, session))
	events = sink.byName("trading_operation")
	require.Len(t, events, 2)
	assert.Equal(t, model.SeverityCritical, events[1].severity)
	assert.Equal(t, false, events[1].details["allowed"])
	if reason, _ := events[1].details["reason"].(string); !strings.Contains(reason, "two-factor") {
		t.Fatalf("audit detail reason = %q", reason)
	}
}
