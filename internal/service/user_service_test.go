package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotradegate/tradegate/internal/config"
	"github.com/gotradegate/tradegate/internal/pkg/apperrors"
)

func newTestUserService(t *testing.T) (*UserService, *AccessControl, *TradingGuard) {
	t.Helper()
	store := NewCredentialStore(nil)
	access := NewAccessControl()
	limiter := NewRateLimiter(nil, 1000, time.Minute)
	guard := NewTradingGuard(access, limiter, nil, decimal.NewFromInt(10000), GuardThresholds{})
	auth := NewAuthManager(store, nil, []byte("test-signing-key"), time.Hour, 5*time.Minute)
	return NewUserService(store, access, guard, auth), access, guard
}

func TestUserServiceCreate(t *testing.T) {
	svc, access, guard := newTestUserService(t)
	ctx := context.Background()

	user, err := svc.Create(ctx, UserCreateRequest{
		ID:               "u1",
		Name:             "Trader One",
		Roles:            []string{"trader"},
		TransactionLimit: 50000,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"trader"}, user.Roles)
	assert.Equal(t, []string{"trader"}, access.RolesOf("u1"))
	assert.True(t, guard.UserLimit("u1").Equal(decimal.NewFromInt(50000)))

	_, err = svc.Create(ctx, UserCreateRequest{ID: "u1"})
	requireErrType(t, err, apperrors.ErrInvalidRequest)

	_, err = svc.Create(ctx, UserCreateRequest{ID: "u2", Roles: []string{"superuser"}})
	requireErrType(t, err, apperrors.ErrInvalidRequest)

	_, err = svc.Create(ctx, UserCreateRequest{})
	requireErrType(t, err, apperrors.ErrInvalidRequest)
}

func TestUserServiceDeleteClearsEverything(t *testing.T) {
	svc, access, guard := newTestUserService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, UserCreateRequest{ID: "u1", Roles: []string{"trader"}, TransactionLimit: 50000})
	require.NoError(t, err)
	key, err := svc.CreateKey(ctx, "u1", nil)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "u1"))
	assert.Empty(t, access.RolesOf("u1"))
	assert.True(t, guard.UserLimit("u1").Equal(decimal.NewFromInt(10000)), "limit override cleared")
	assert.Empty(t, svc.Keys(ctx, "u1"))
	if _, ok := svc.store.GetKey(ctx, key.Key); ok {
		t.Fatalf("issued key survived user deletion")
	}

	requireErrType(t, svc.Delete(ctx, "u1"), apperrors.ErrNotFound)
}

func TestUserServiceRoleLifecycle(t *testing.T) {
	svc, _, _ := newTestUserService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, UserCreateRequest{ID: "u1", Roles: []string{"viewer"}})
	require.NoError(t, err)

	user, err := svc.AssignRole(ctx, "u1", "trader")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"viewer", "trader"}, user.Roles)

	user, err = svc.RevokeRole(ctx, "u1", "viewer")
	require.NoError(t, err)
	assert.Equal(t, []string{"trader"}, user.Roles)

	_, err = svc.AssignRole(ctx, "ghost", "trader")
	requireErrType(t, err, apperrors.ErrNotFound)

	_, err = svc.RevokeRole(ctx, "u1", "admin")
	requireErrType(t, err, apperrors.ErrInvalidRequest)
}

func TestUserServiceSetLimit(t *testing.T) {
	svc, _, _ := newTestUserService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, UserCreateRequest{ID: "u1"})
	require.NoError(t, err)

	user, err := svc.SetLimit(ctx, "u1", decimal.NewFromInt(75000))
	require.NoError(t, err)
	assert.True(t, user.TxLimit.Equal(decimal.NewFromInt(75000)))
	assert.True(t, svc.Limit("u1").Equal(decimal.NewFromInt(75000)))

	_, err = svc.SetLimit(ctx, "u1", decimal.NewFromInt(-1))
	requireErrType(t, err, apperrors.ErrInvalidRequest)
}

func TestUserServiceKeyLifecycle(t *testing.T) {
	svc, _, _ := newTestUserService(t)
	ctx := context.Background()

	_, err := svc.CreateKey(ctx, "ghost", nil)
	requireErrType(t, err, apperrors.ErrNotFound)

	_, err = svc.Create(ctx, UserCreateRequest{ID: "u1"})
	require.NoError(t, err)
	key, err := svc.CreateKey(ctx, "u1", []string{"read"})
	require.NoError(t, err)
	assert.Len(t, svc.Keys(ctx, "u1"), 1)

	require.NoError(t, svc.DeleteKey(ctx, key.Key))
	assert.Empty(t, svc.Keys(ctx, "u1"))
	requireErrType(t, svc.DeleteKey(ctx, key.Key), apperrors.ErrNotFound)
}

func TestUserServiceSeed(t *testing.T) {
	svc, access, _ := newTestUserService(t)
	ctx := context.Background()

	svc.Seed(ctx, []config.UserConfig{
		{ID: "u1", Name: "Seeded", Roles: []string{"trader"}, APIKey: "tg_seed", APISecret: "seed-secret", TransactionLimit: 50000},
		{ID: "u2", Roles: []string{"bogus-role"}}, // skipped, not fatal
	})

	assert.Equal(t, []string{"trader"}, access.RolesOf("u1"))
	key, ok := svc.store.GetKey(ctx, "tg_seed")
	require.True(t, ok)
	assert.Equal(t, "u1", key.OwnerID)
	if _, ok := svc.store.GetUser(ctx, "u2"); ok {
		t.Fatalf("user with unknown role should be skipped")
	}

	// Seeding twice is idempotent enough: the duplicate is skipped.
	svc.Seed(ctx, []config.UserConfig{{ID: "u1"}})
	assert.Equal(t, []string{"trader"}, access.RolesOf("u1"))
}

func requireErrType(t *testing.T, err error, want apperrors.ErrorType) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	appErr, ok := err.(*apperrors.AppError)
	if !ok {
		t.Fatalf("expected *apperrors.AppError, got %T: %v", err, err)
	}
	if appErr.Type != want {
		t.Fatalf("error type = %s, want %s", appErr.Type, want)
	}
}
