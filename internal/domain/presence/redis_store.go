package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis key layout
const (
	onlineKeyPrefix   = "online:"
	holdersKeyPrefix  = "presence:holders:"
	instanceKeyPrefix = "presence:instance:"
	instancesKey      = "presence:instances"
)

func onlineKey(userID uuid.UUID) string  { return onlineKeyPrefix + userID.String() }
func holdersKey(userID uuid.UUID) string { return holdersKeyPrefix + userID.String() }
func heartbeatKey(instanceID string) string {
	return instanceKeyPrefix + instanceID
}
func instanceUsersKey(instanceID string) string {
	return instanceKeyPrefix + instanceID + ":users"
}

// RedisStore implements Store and Registry on plain keys. Holder
// membership changes and their count run in one MULTI/EXEC.
type RedisStore struct {
	client       *redis.Client
	ttl          time.Duration
	heartbeatTTL time.Duration
}

// NewRedisStore creates presence store over redis
func NewRedisStore(client *redis.Client, ttl, heartbeatTTL time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, heartbeatTTL: heartbeatTTL}
}

func (s *RedisStore) MarkOnline(ctx context.Context, userID uuid.UUID) error {
	if err := s.client.Set(ctx, onlineKey(userID), "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("mark online: %w", err)
	}
	return nil
}

func (s *RedisStore) MarkOffline(ctx context.Context, userID uuid.UUID) error {
	if err := s.client.Del(ctx, onlineKey(userID)).Err(); err != nil {
		return fmt.Errorf("mark offline: %w", err)
	}
	return nil
}

func (s *RedisStore) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	n, err := s.client.Exists(ctx, onlineKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("is online: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) BatchStatus(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = onlineKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("batch status: %w", err)
	}
	for i, id := range userIDs {
		out[id] = values[i] != nil
	}
	return out, nil
}

func (s *RedisStore) Hold(ctx context.Context, instanceID string, userID uuid.UUID) (int64, error) {
	var holders *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, holdersKey(userID), instanceID)
		pipe.SAdd(ctx, instanceUsersKey(instanceID), userID.String())
		pipe.SAdd(ctx, instancesKey, instanceID)
		holders = pipe.SCard(ctx, holdersKey(userID))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("hold presence: %w", err)
	}
	return holders.Val(), nil
}

func (s *RedisStore) Release(ctx context.Context, instanceID string, userID uuid.UUID) (int64, error) {
	var remaining *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, holdersKey(userID), instanceID)
		pipe.SRem(ctx, instanceUsersKey(instanceID), userID.String())
		remaining = pipe.SCard(ctx, holdersKey(userID))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("release presence: %w", err)
	}
	return remaining.Val(), nil
}

func (s *RedisStore) Heartbeat(ctx context.Context, instanceID string) error {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, heartbeatKey(instanceID), time.Now().Unix(), s.heartbeatTTL)
		pipe.SAdd(ctx, instancesKey, instanceID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("instance heartbeat: %w", err)
	}
	return nil
}

func (s *RedisStore) DeadInstances(ctx context.Context) ([]string, error) {
	instances, err := s.client.SMembers(ctx, instancesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	var dead []string
	for _, id := range instances {
		n, err := s.client.Exists(ctx, heartbeatKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("check heartbeat: %w", err)
		}
		if n == 0 {
			dead = append(dead, id)
		}
	}
	return dead, nil
}

func (s *RedisStore) ReleaseInstance(ctx context.Context, instanceID string) ([]uuid.UUID, error) {
	members, err := s.client.SMembers(ctx, instanceUsersKey(instanceID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list instance users: %w", err)
	}

	var orphaned []uuid.UUID
	for _, raw := range members {
		userID, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		remaining, err := s.Release(ctx, instanceID, userID)
		if err != nil {
			return orphaned, err
		}
		if remaining == 0 {
			orphaned = append(orphaned, userID)
		}
	}

	if err := s.client.Del(ctx, instanceUsersKey(instanceID)).Err(); err != nil {
		return orphaned, fmt.Errorf("drop instance users: %w", err)
	}
	if err := s.client.SRem(ctx, instancesKey, instanceID).Err(); err != nil {
		return orphaned, fmt.Errorf("drop instance: %w", err)
	}
	return orphaned, nil
}
