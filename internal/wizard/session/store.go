// Package session persists wizard session snapshots in Redis so a tenant can
// resume a half-finished letter.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"letter-wizard/internal/common/errors"
	"letter-wizard/internal/common/logger"
	"letter-wizard/internal/common/metrics"
	"letter-wizard/internal/wizard/controller"
)

const keyPrefix = "wizard:session:"

// Store reads and writes session snapshots with a rolling TTL.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewStore(client *redis.Client, ttl time.Duration, log logger.Logger) *Store {
	return &Store{client: client, ttl: ttl, logger: log}
}

// NewID mints a session identifier.
func NewID() string {
	return uuid.NewString()
}

func key(id string) string {
	return keyPrefix + id
}

// Save writes a snapshot, refreshing the session TTL.
func (s *Store) Save(ctx context.Context, id string, snap *controller.Snapshot) *errors.StandardError {
	payload, err := json.Marshal(snap)
	if err != nil {
		return errors.NewSessionStoreFailedError(err)
	}

	created, err := s.client.SetNX(ctx, key(id), payload, s.ttl).Result()
	if err != nil {
		return errors.NewSessionStoreFailedError(err)
	}
	if created {
		metrics.ActiveSessions.Inc()
		return nil
	}
	if err := s.client.Set(ctx, key(id), payload, s.ttl).Err(); err != nil {
		return errors.NewSessionStoreFailedError(err)
	}
	return nil
}

// Load reads a snapshot. Missing and expired sessions are indistinguishable.
func (s *Store) Load(ctx context.Context, id string) (*controller.Snapshot, *errors.StandardError) {
	payload, err := s.client.Get(ctx, key(id)).Bytes()
	if err == redis.Nil {
		return nil, errors.NewSessionNotFoundError(id)
	}
	if err != nil {
		return nil, errors.NewSessionStoreFailedError(err)
	}

	var snap controller.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		s.logger.Error("Corrupt session snapshot", map[string]interface{}{
			"session_id": id,
			"error":      err.Error(),
		})
		return nil, errors.NewSessionNotFoundError(id)
	}
	return &snap, nil
}

// Delete removes a session.
func (s *Store) Delete(ctx context.Context, id string) *errors.StandardError {
	deleted, err := s.client.Del(ctx, key(id)).Result()
	if err != nil {
		return errors.NewSessionStoreFailedError(err)
	}
	if deleted > 0 {
		metrics.ActiveSessions.Dec()
	}
	return nil
}
