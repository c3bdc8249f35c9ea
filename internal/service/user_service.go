package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gotradegate/tradegate/internal/config"
	"github.com/gotradegate/tradegate/internal/model"
	"github.com/gotradegate/tradegate/internal/pkg/apperrors"
	"github.com/gotradegate/tradegate/internal/pkg/logger"
)

// UserService provisions identities: users, their roles, transaction
// limits, and API keys. It keeps the credential store, access control, and
// the guard's limit table consistent with each other.
type UserService struct {
	store  *CredentialStore
	access *AccessControl
	guard  *TradingGuard
	auth   *AuthManager
}

type UserCreateRequest struct {
	ID               string   `json:"id" binding:"required"`
	Name             string   `json:"name"`
	Roles            []string `json:"roles"`
	TransactionLimit float64  `json:"transaction_limit"`
}

func NewUserService(store *CredentialStore, access *AccessControl, guard *TradingGuard, auth *AuthManager) *UserService {
	return &UserService{store: store, access: access, guard: guard, auth: auth}
}

func (s *UserService) Create(ctx context.Context, req UserCreateRequest) (*model.User, error) {
	if req.ID == "" {
		return nil, apperrors.NewInvalidRequest("user id required")
	}
	if _, exists := s.store.GetUser(ctx, req.ID); exists {
		return nil, apperrors.NewInvalidRequest(fmt.Sprintf("user %q already exists", req.ID))
	}
	for _, role := range req.Roles {
		if !s.access.HasRole(role) {
			return nil, apperrors.NewInvalidRequest(fmt.Sprintf("unknown role %q", role))
		}
	}

	user := &model.User{
		ID:        req.ID,
		Name:      req.Name,
		Roles:     append([]string(nil), req.Roles...),
		CreatedAt: time.Now().UTC(),
	}
	if req.TransactionLimit > 0 {
		user.TxLimit = decimal.NewFromFloat(req.TransactionLimit)
	}
	if err := s.store.PutUser(ctx, user); err != nil {
		return nil, apperrors.Wrap(err)
	}
	for _, role := range req.Roles {
		if err := s.access.AssignRole(user.ID, role); err != nil {
			return nil, apperrors.Wrap(err)
		}
	}
	if req.TransactionLimit > 0 {
		s.guard.SetUserLimit(user.ID, user.TxLimit)
	}
	return user, nil
}

func (s *UserService) Get(ctx context.Context, id string) (*model.User, error) {
	user, ok := s.store.GetUser(ctx, id)
	if !ok {
		return nil, apperrors.NewNotFound(fmt.Sprintf("user %q not found", id))
	}
	return user, nil
}

func (s *UserService) List(ctx context.Context) []*model.User {
	return s.store.ListUsers(ctx)
}

// Delete removes the user, every role assignment, the guard limit
// override, and all issued keys.
func (s *UserService) Delete(ctx context.Context, id string) error {
	if _, ok := s.store.GetUser(ctx, id); !ok {
		return apperrors.NewNotFound(fmt.Sprintf("user %q not found", id))
	}
	s.access.RemoveUser(id)
	s.guard.SetUserLimit(id, decimal.Zero)
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return apperrors.Wrap(err)
	}
	return nil
}

func (s *UserService) AssignRole(ctx context.Context, userID, role string) (*model.User, error) {
	user, ok := s.store.GetUser(ctx, userID)
	if !ok {
		return nil, apperrors.NewNotFound(fmt.Sprintf("user %q not found", userID))
	}
	if err := s.access.AssignRole(userID, role); err != nil {
		return nil, apperrors.NewInvalidRequest(err.Error())
	}
	user.Roles = s.access.RolesOf(userID)
	if err := s.store.PutUser(ctx, user); err != nil {
		return nil, apperrors.Wrap(err)
	}
	return user, nil
}

func (s *UserService) RevokeRole(ctx context.Context, userID, role string) (*model.User, error) {
	user, ok := s.store.GetUser(ctx, userID)
	if !ok {
		return nil, apperrors.NewNotFound(fmt.Sprintf("user %q not found", userID))
	}
	if err := s.access.RevokeRole(userID, role); err != nil {
		return nil, apperrors.NewInvalidRequest(err.Error())
	}
	user.Roles = s.access.RolesOf(userID)
	if err := s.store.PutUser(ctx, user); err != nil {
		return nil, apperrors.Wrap(err)
	}
	return user, nil
}

func (s *UserService) SetLimit(ctx context.Context, userID string, amount decimal.Decimal) (*model.User, error) {
	user, ok := s.store.GetUser(ctx, userID)
	if !ok {
		return nil, apperrors.NewNotFound(fmt.Sprintf("user %q not found", userID))
	}
	if amount.LessThan(decimal.Zero) {
		return nil, apperrors.NewInvalidRequest("limit must not be negative")
	}
	s.guard.SetUserLimit(userID, amount)
	user.TxLimit = amount
	if err := s.store.PutUser(ctx, user); err != nil {
		return nil, apperrors.Wrap(err)
	}
	return user, nil
}

func (s *UserService) Limit(userID string) decimal.Decimal {
	return s.guard.UserLimit(userID)
}

// CreateKey issues an API key pair for an existing user.
func (s *UserService) CreateKey(ctx context.Context, userID string, permissions []string) (*model.APIKey, error) {
	if _, ok := s.store.GetUser(ctx, userID); !ok {
		return nil, apperrors.NewNotFound(fmt.Sprintf("user %q not found", userID))
	}
	key, err := s.auth.CreateKey(ctx, userID, permissions)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	return key, nil
}

func (s *UserService) Keys(ctx context.Context, userID string) []*model.APIKey {
	return s.store.KeysOf(ctx, userID)
}

func (s *UserService) DeleteKey(ctx context.Context, key string) error {
	if _, ok := s.store.GetKey(ctx, key); !ok {
		return apperrors.NewNotFound("key not found")
	}
	if err := s.store.DeleteKey(ctx, key); err != nil {
		return apperrors.Wrap(err)
	}
	return nil
}

// Seed provisions users and fixed API keys from config at startup.
func (s *UserService) Seed(ctx context.Context, users []config.UserConfig) {
	for _, uc := range users {
		user, err := s.Create(ctx, UserCreateRequest{
			ID:               uc.ID,
			Name:             uc.Name,
			Roles:            uc.Roles,
			TransactionLimit: uc.TransactionLimit,
		})
		if err != nil {
			logger.Warn("Skipping seed user", "user", uc.ID, "error", err.Error())
			continue
		}
		if uc.APIKey != "" && uc.APISecret != "" {
			record := &model.APIKey{
				Key:         uc.APIKey,
				Secret:      uc.APISecret,
				OwnerID:     user.ID,
				Permissions: uc.KeyPermissions,
				CreatedAt:   time.Now().UTC(),
			}
			if err := s.store.PutKey(ctx, record); err != nil {
				logger.Warn("Skipping seed key", "user", uc.ID, "error", err.Error())
			}
		}
	}
}
