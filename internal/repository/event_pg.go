package repository

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gotradegate/tradegate/internal/model"
)

// PostgresEventRepo is the durable sink behind the audit pipeline.
type PostgresEventRepo struct {
	db *sqlx.DB
}

func NewPostgresEventRepo(db *sqlx.DB) *PostgresEventRepo {
	repo := &PostgresEventRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

type eventDB struct {
	ID          string    `db:"id"`
	Actor       string    `db:"actor"`
	Name        string    `db:"name"`
	Severity    string    `db:"severity"`
	IP          string    `db:"ip"`
	DetailsJSON []byte    `db:"details"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r *PostgresEventRepo) Insert(ctx context.Context, event *model.SecurityEvent) error {
	if event == nil {
		return nil
	}
	details, _ := json.Marshal(event.Details)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO security_events (id, actor, name, severity, ip, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, event.ID, event.Actor, event.Name, event.Severity, event.IP, details, event.CreatedAt)
	return err
}

func (r *PostgresEventRepo) List(ctx context.Context, actor string, limit int, from, to *time.Time) ([]*model.SecurityEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `SELECT id, actor, name, severity, ip, details, created_at FROM security_events WHERE 1=1`
	args := []interface{}{}
	idx := 1
	appendArg := func(clause string, value interface{}) {
		query += clause + "$" + strconv.Itoa(idx)
		args = append(args, value)
		idx++
	}
	if actor != "" {
		appendArg(" AND actor = ", actor)
	}
	if from != nil {
		appendArg(" AND created_at >= ", *from)
	}
	if to != nil {
		appendArg(" AND created_at <= ", *to)
	}
	query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(idx)
	args = append(args, limit)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.SecurityEvent
	for rows.Next() {
		var row eventDB
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		event := &model.SecurityEvent{
			ID:        row.ID,
			Actor:     row.Actor,
			Name:      row.Name,
			Severity:  row.Severity,
			IP:        row.IP,
			CreatedAt: row.CreatedAt,
		}
		if len(row.DetailsJSON) > 0 {
			_ = json.Unmarshal(row.DetailsJSON, &event.Details)
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

// Purge drops events older than the retention horizon. Called from a
// periodic goroutine in the server wiring.
func (r *PostgresEventRepo) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM security_events WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresEventRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS security_events (
			id TEXT PRIMARY KEY,
			actor TEXT,
			name TEXT,
			severity TEXT,
			ip TEXT,
			details JSONB,
			created_at TIMESTAMPTZ
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_security_events_actor ON security_events (actor, created_at)`)
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_security_events_created ON security_events (created_at)`)
	return nil
}
