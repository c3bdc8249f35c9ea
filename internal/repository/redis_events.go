package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gotradegate/tradegate/internal/model"
)

// RedisEventRepo keeps a capped list of recent security events when no
// Postgres is wired: LPUSH newest-first, LTRIM to the cap.
type RedisEventRepo struct {
	client  *RedisClient
	listKey string
	listMax int
}

func NewRedisEventRepo(client *RedisClient, listKey string, listMax int) *RedisEventRepo {
	if listKey == "" {
		listKey = "security_events"
	}
	if listMax <= 0 {
		listMax = 10000
	}
	return &RedisEventRepo{client: client, listKey: listKey, listMax: listMax}
}

func (r *RedisEventRepo) Insert(ctx context.Context, event *model.SecurityEvent) error {
	if event == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	pipe := r.client.Client.Pipeline()
	pipe.LPush(ctx, r.listKey, payload)
	pipe.LTrim(ctx, r.listKey, 0, int64(r.listMax-1))
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisEventRepo) List(ctx context.Context, actor string, limit int, from, to *time.Time) ([]*model.SecurityEvent, error) {
	if limit <= 0 || limit > r.listMax {
		limit = 100
	}
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	// Scan newest-first and filter client-side; the list is capped so the
	// worst case is bounded.
	raw, err := r.client.Client.LRange(ctx, r.listKey, 0, int64(r.listMax-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*model.SecurityEvent, 0, limit)
	for _, item := range raw {
		var event model.SecurityEvent
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			continue
		}
		if actor != "" && event.Actor != actor {
			continue
		}
		if from != nil && event.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && event.CreatedAt.After(*to) {
			continue
		}
		out = append(out, &event)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
