package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// User is a provisioned identity on the trading platform. Users are seeded
// from config or created through the admin API; there is no self-registration
// flow.
type User struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Roles     []string        `json:"roles"`
	TxLimit   decimal.Decimal `json:"transaction_limit"` // zero means the global default applies
	Disabled  bool            `json:"disabled,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// APIKey is a credential record issued to a user. The secret stays server
// side because signed-request verification has to recompute the HMAC; it is
// never serialized and is masked on every read surface.
type APIKey struct {
	Key         string    `json:"api_key"`
	Secret      string    `json:"-"`
	OwnerID     string    `json:"owner_id"`
	Permissions []string  `json:"permissions,omitempty"` // empty set means the key carries the owner's full authority
	CreatedAt   time.Time `json:"created_at"`
}

// APIKeyPublic is the masked view returned by admin listings.
type APIKeyPublic struct {
	Key         string    `json:"api_key"`
	Secret      string    `json:"secret"`
	OwnerID     string    `json:"owner_id"`
	Permissions []string  `json:"permissions,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (k *APIKey) Public() *APIKeyPublic {
	if k == nil {
		return nil
	}
	return &APIKeyPublic{
		Key:         k.Key,
		Secret:      MaskSecret(k.Secret),
		OwnerID:     k.OwnerID,
		Permissions: k.Permissions,
		CreatedAt:   k.CreatedAt,
	}
}

func MaskSecret(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return "****"
	}
	return value[:4] + "..." + value[len(value)-4:]
}
