package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// PresencePrefix is the Redis key prefix for per-user presence sets.
	PresencePrefix = "presence:"

	// PresenceTTL is how long a presence mark survives without a refresh.
	// Gateways refresh on their heartbeat sweep, so a crashed instance's
	// marks age out on their own.
	PresenceTTL = 60 * time.Second
)

// PresenceStore tracks which users are online across all gateway instances.
// Each key is a set of instance names currently holding a connection for
// that user.
type PresenceStore struct {
	client   *redis.Client
	instance string
}

// NewPresenceStore connects to Redis and verifies the connection.
func NewPresenceStore(redisAddr, instance string) (*PresenceStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}
	return &PresenceStore{client: client, instance: instance}, nil
}

// Online marks the user as online on this instance.
func (s *PresenceStore) Online(ctx context.Context, userID string) error {
	key := PresencePrefix + userID
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, key, s.instance)
	pipe.Expire(ctx, key, PresenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Offline drops this instance's mark for the user.
func (s *PresenceStore) Offline(ctx context.Context, userID string) error {
	return s.client.SRem(ctx, PresencePrefix+userID, s.instance).Err()
}

// IsOnline reports whether any instance currently holds a connection for
// the user.
func (s *PresenceStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.SCard(ctx, PresencePrefix+userID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// OnlineUsers filters userIDs down to those online anywhere.
func (s *PresenceStore) OnlineUsers(ctx context.Context, userIDs []string) ([]string, error) {
	var online []string
	for _, id := range userIDs {
		ok, err := s.IsOnline(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			online = append(online, id)
		}
	}
	return online, nil
}

// Refresh extends the TTL for every given user's presence key. Called from
// the gateway's heartbeat sweep with the users it still holds connections
// for.
func (s *PresenceStore) Refresh(ctx context.Context, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, id := range userIDs {
		pipe.Expire(ctx, PresencePrefix+id, PresenceTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the Redis connection.
func (s *PresenceStore) Close() error {
	return s.client.Close()
}
