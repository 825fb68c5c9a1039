package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"minimal-sessions/common"
	"minimal-sessions/configs"
	"minimal-sessions/session"
)

// RedisIdentityStore keeps each identity as a JSON document under
// configs.ServerIdentityKey.
type RedisIdentityStore struct {
	client *redis.Client
}

func NewRedisIdentityStore(client *redis.Client) *RedisIdentityStore {
	return &RedisIdentityStore{client: client}
}

func identityKey(userID string) string {
	return fmt.Sprintf(configs.ServerIdentityKey, userID)
}

func (s *RedisIdentityStore) Identity(ctx context.Context, userID string) (*common.Identity, error) {
	data, err := s.client.Get(ctx, identityKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load identity %s: %w", userID, err)
	}
	var id common.Identity
	if err := json.Unmarshal([]byte(data), &id); err != nil {
		return nil, fmt.Errorf("failed to decode identity %s: %w", userID, err)
	}
	return &id, nil
}

func (s *RedisIdentityStore) Exists(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.Exists(ctx, identityKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check identity %s: %w", userID, err)
	}
	return n > 0, nil
}

func (s *RedisIdentityStore) SigningKey(ctx context.Context, userID string) (string, error) {
	id, err := s.Identity(ctx, userID)
	if err != nil || id == nil {
		return "", err
	}
	return id.SigningKey, nil
}

func (s *RedisIdentityStore) Register(ctx context.Context, userID string) error {
	data, err := json.Marshal(common.Identity{UserID: userID})
	if err != nil {
		return err
	}
	if err := s.client.SetNX(ctx, identityKey(userID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to register identity %s: %w", userID, err)
	}
	return nil
}

func (s *RedisIdentityStore) PutKeys(ctx context.Context, userID, exchangeKey, signingKey string, at time.Time) (common.Identity, error) {
	at = at.UTC()
	id := common.Identity{
		UserID:        userID,
		SigningKey:    signingKey,
		ExchangeKey:   exchangeKey,
		KeysUpdatedAt: &at,
	}
	data, err := json.Marshal(id)
	if err != nil {
		return common.Identity{}, err
	}
	if err := s.client.Set(ctx, identityKey(userID), data, 0).Err(); err != nil {
		return common.Identity{}, fmt.Errorf("failed to publish keys for %s: %w", userID, err)
	}
	return id, nil
}

var _ session.KeyRegistry = (*RedisIdentityStore)(nil)
