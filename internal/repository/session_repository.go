package repository

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/riteshkumar/facepay-ledger/internal/errors"
	"github.com/riteshkumar/facepay-ledger/internal/models"
)

// SessionRepository stores FacePay sessions keyed by session id. Save
// overwrites; retention is how long a session stays readable after its last
// write, which lets terminal sessions be reported on for a while.
type SessionRepository interface {
	Save(ctx context.Context, session *models.FacePaySession, retention time.Duration) error
	Get(ctx context.Context, id string) (*models.FacePaySession, error)
	// ListOpen returns sessions that have not reached a terminal state.
	ListOpen(ctx context.Context) ([]*models.FacePaySession, error)
}

const (
	sessionKeyPrefix = "facepay:session:"
	openSessionsKey  = "facepay:sessions:open"
)

// RedisSessionRepository stores sessions as JSON values with a TTL and keeps
// the ids of non-terminal sessions in a set for the sweeper.
type RedisSessionRepository struct {
	client *redis.Client
}

func NewRedisSessionRepository(client *redis.Client) *RedisSessionRepository {
	return &RedisSessionRepository{client: client}
}

func (r *RedisSessionRepository) Save(ctx context.Context, session *models.FacePaySession, retention time.Duration) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+session.ID, payload, retention)
	if session.State.Terminal() {
		pipe.SRem(ctx, openSessionsKey, session.ID)
	} else {
		pipe.SAdd(ctx, openSessionsKey, session.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) Get(ctx context.Context, id string) (*models.FacePaySession, error) {
	payload, err := r.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, errors.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	session := &models.FacePaySession{}
	if err := json.Unmarshal(payload, session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return session, nil
}

func (r *RedisSessionRepository) ListOpen(ctx context.Context) ([]*models.FacePaySession, error) {
	ids, err := r.client.SMembers(ctx, openSessionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list open sessions: %w", err)
	}

	sessions := make([]*models.FacePaySession, 0, len(ids))
	for _, id := range ids {
		session, err := r.Get(ctx, id)
		if errors.IsNotFound(err) {
			// Value already evicted by its TTL; drop the dangling id.
			r.client.SRem(ctx, openSessionsKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}
