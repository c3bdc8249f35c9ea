package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/gotradegate/tradegate/internal/model"
)

var ErrNotFound = errors.New("repository: not found")

// PostgresCredentialRepo persists users and API keys. It backs the
// in-memory CredentialStore; the store's maps stay authoritative on the hot
// path and this repo is the write-through plus the miss fallback.
type PostgresCredentialRepo struct {
	db *sqlx.DB
}

func NewPostgresCredentialRepo(db *sqlx.DB) *PostgresCredentialRepo {
	repo := &PostgresCredentialRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

type userDB struct {
	ID        string         `db:"id"`
	Name      sql.NullString `db:"name"`
	RolesJSON []byte         `db:"roles"`
	TxLimit   sql.NullString `db:"tx_limit"`
	Disabled  bool           `db:"disabled"`
	CreatedAt time.Time      `db:"created_at"`
}

type keyDB struct {
	Key       string    `db:"api_key"`
	Secret    string    `db:"secret"`
	OwnerID   string    `db:"owner_id"`
	PermsJSON []byte    `db:"permissions"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *PostgresCredentialRepo) SaveUser(ctx context.Context, u *model.User) error {
	roles, _ := json.Marshal(u.Roles)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, name, roles, tx_limit, disabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = $2, roles = $3, tx_limit = $4, disabled = $5
	`, u.ID, u.Name, roles, u.TxLimit.String(), u.Disabled, u.CreatedAt)
	return err
}

func (r *PostgresCredentialRepo) DeleteUser(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE owner_id = $1`, id); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	return err
}

func (r *PostgresCredentialRepo) GetUser(ctx context.Context, id string) (*model.User, error) {
	var row userDB
	err := r.db.GetContext(ctx, &row, `SELECT id, name, roles, tx_limit, disabled, created_at FROM users WHERE id = $1 LIMIT 1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return userToDomain(&row)
}

func (r *PostgresCredentialRepo) ListUsers(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT id, name, roles, tx_limit, disabled, created_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.User
	for rows.Next() {
		var row userDB
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		u, err := userToDomain(&row)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func userToDomain(row *userDB) (*model.User, error) {
	u := &model.User{
		ID:        row.ID,
		Name:      row.Name.String,
		Disabled:  row.Disabled,
		CreatedAt: row.CreatedAt,
	}
	if len(row.RolesJSON) > 0 {
		if err := json.Unmarshal(row.RolesJSON, &u.Roles); err != nil {
			return nil, err
		}
	}
	if row.TxLimit.Valid && row.TxLimit.String != "" {
		limit, err := decimal.NewFromString(row.TxLimit.String)
		if err != nil {
			return nil, err
		}
		u.TxLimit = limit
	}
	return u, nil
}

func (r *PostgresCredentialRepo) SaveKey(ctx context.Context, k *model.APIKey) error {
	perms, _ := json.Marshal(k.Permissions)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO api_keys (api_key, secret, owner_id, permissions, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (api_key) DO UPDATE
		SET secret = $2, owner_id = $3, permissions = $4
	`, k.Key, k.Secret, k.OwnerID, perms, k.CreatedAt)
	return err
}

func (r *PostgresCredentialRepo) DeleteKey(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE api_key = $1`, key)
	return err
}

func (r *PostgresCredentialRepo) GetKey(ctx context.Context, key string) (*model.APIKey, error) {
	var row keyDB
	err := r.db.GetContext(ctx, &row, `SELECT api_key, secret, owner_id, permissions, created_at FROM api_keys WHERE api_key = $1 LIMIT 1`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return keyToDomain(&row)
}

func (r *PostgresCredentialRepo) ListKeys(ctx context.Context, ownerID string) ([]*model.APIKey, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT api_key, secret, owner_id, permissions, created_at FROM api_keys WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.APIKey
	for rows.Next() {
		var row keyDB
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		k, err := keyToDomain(&row)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func keyToDomain(row *keyDB) (*model.APIKey, error) {
	k := &model.APIKey{
		Key:       row.Key,
		Secret:    row.Secret,
		OwnerID:   row.OwnerID,
		CreatedAt: row.CreatedAt,
	}
	if len(row.PermsJSON) > 0 {
		if err := json.Unmarshal(row.PermsJSON, &k.Permissions); err != nil {
			return nil, err
		}
	}
	return k, nil
}

func (r *PostgresCredentialRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT,
			roles JSONB,
			tx_limit TEXT,
			disabled BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMPTZ
		)
	`)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS api_keys (
			api_key TEXT PRIMARY KEY,
			secret TEXT,
			owner_id TEXT,
			permissions JSONB,
			created_at TIMESTAMPTZ
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_api_keys_owner ON api_keys (owner_id)`)
	return nil
}
