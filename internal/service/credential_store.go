package service

import (
	"context"
	"sync"

	"github.com/gotradegate/tradegate/internal/model"
)

// CredentialRepo is the optional durable backing for users and API keys.
// The in-memory maps stay authoritative for the hot path; the repo is the
// write-through and the miss fallback.
type CredentialRepo interface {
	SaveUser(ctx context.Context, u *model.User) error
	DeleteUser(ctx context.Context, id string) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	ListUsers(ctx context.Context) ([]*model.User, error)
	SaveKey(ctx context.Context, k *model.APIKey) error
	DeleteKey(ctx context.Context, key string) error
	GetKey(ctx context.Context, key string) (*model.APIKey, error)
	ListKeys(ctx context.Context, ownerID string) ([]*model.APIKey, error)
}

// CredentialStore owns the user and API-key tables. Reads are lock-cheap;
// misses fall through to the repo when one is wired and re-warm the cache.
type CredentialStore struct {
	mu    sync.RWMutex
	users map[string]*model.User   // userID -> user
	keys  map[string]*model.APIKey // key -> record
	repo  CredentialRepo
}

func NewCredentialStore(repo CredentialRepo) *CredentialStore {
	return &CredentialStore{
		users: make(map[string]*model.User),
		keys:  make(map[string]*model.APIKey),
		repo:  repo,
	}
}

func (s *CredentialStore) PutUser(ctx context.Context, u *model.User) error {
	if u == nil {
		return nil
	}
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
	if s.repo != nil {
		return s.repo.SaveUser(ctx, u)
	}
	return nil
}

func (s *CredentialStore) GetUser(ctx context.Context, id string) (*model.User, bool) {
	s.mu.RLock()
	u, ok := s.users[id]
	s.mu.RUnlock()
	if ok {
		return u, true
	}
	if s.repo == nil {
		return nil, false
	}
	u, err := s.repo.GetUser(ctx, id)
	if err != nil || u == nil {
		return nil, false
	}
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
	return u, true
}

func (s *CredentialStore) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.users, id)
	for key, record := range s.keys {
		if record.OwnerID == id {
			delete(s.keys, key)
		}
	}
	s.mu.Unlock()
	if s.repo != nil {
		return s.repo.DeleteUser(ctx, id)
	}
	return nil
}

func (s *CredentialStore) ListUsers(ctx context.Context) []*model.User {
	if s.repo != nil {
		if users, err := s.repo.ListUsers(ctx); err == nil && len(users) > 0 {
			s.mu.Lock()
			for _, u := range users {
				s.users[u.ID] = u
			}
			s.mu.Unlock()
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out
}

func (s *CredentialStore) PutKey(ctx context.Context, k *model.APIKey) error {
	if k == nil {
		return nil
	}
	s.mu.Lock()
	s.keys[k.Key] = k
	s.mu.Unlock()
	if s.repo != nil {
		return s.repo.SaveKey(ctx, k)
	}
	return nil
}

func (s *CredentialStore) GetKey(ctx context.Context, key string) (*model.APIKey, bool) {
	s.mu.RLock()
	k, ok := s.keys[key]
	s.mu.RUnlock()
	if ok {
		return k, true
	}
	if s.repo == nil {
		return nil, false
	}
	k, err := s.repo.GetKey(ctx, key)
	if err != nil || k == nil {
		return nil, false
	}
	s.mu.Lock()
	s.keys[k.Key] = k
	s.mu.Unlock()
	return k, true
}

// DeleteKey revokes an issued credential. Revocation is deletion: the record
// is gone from both the cache and the repo.
func (s *CredentialStore) DeleteKey(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
	if s.repo != nil {
		return s.repo.DeleteKey(ctx, key)
	}
	return nil
}

func (s *CredentialStore) KeysOf(ctx context.Context, ownerID string) []*model.APIKey {
	if s.repo != nil {
		if keys, err := s.repo.ListKeys(ctx, ownerID); err == nil && len(keys) > 0 {
			s.mu.Lock()
			for _, k := range keys {
				s.keys[k.Key] = k
			}
			s.mu.Unlock()
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.APIKey
	for _, k := range s.keys {
		if k.OwnerID == ownerID {
			out = append(out, k)
		}
	}
	return out
}
