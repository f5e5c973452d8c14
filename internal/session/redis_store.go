// Package session provides Redis-backed refresh sessions and short-lived
// locks for work that must not run twice at once.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrSessionNotFound = errors.New("refresh session not found or expired")

// defaultRefreshTTL applies when a caller passes an expiry in the past.
const defaultRefreshTTL = 30 * 24 * time.Hour

// RedisStore keeps one key per hashed refresh token whose value is the owning
// user id, plus a set per user naming that user's token hashes. Expiry is left
// to Redis; the set may name tokens that are already gone.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// Connect opens a client and checks it is reachable.
func Connect(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisStoreWithClient shares client with the rest of the process; Close
// is left to the owner.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "refresh:", now: time.Now}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + "user:" + userID
}

func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("save refresh session: empty user id")
	}
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		ttl = defaultRefreshTTL
	}
	userKey := s.userKey(userID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(tokenHash), userID, ttl)
		pipe.SAdd(ctx, userKey, tokenHash)
		// Tokens share one lifetime, so the newest save sets the index expiry.
		pipe.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

// ConsumeRefreshSession reads and deletes the token with GETDEL.
func (s *RedisStore) ConsumeRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	userID, err := s.client.GetDel(ctx, s.key(tokenHash)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", ErrSessionNotFound
	case err != nil:
		return "", fmt.Errorf("consume refresh session: %w", err)
	case userID == "":
		return "", ErrSessionNotFound
	}
	return userID, nil
}

func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// RevokeUserSessions deletes every token listed in the user's index.
func (s *RedisStore) RevokeUserSessions(ctx context.Context, userID string) error {
	userKey := s.userKey(userID)
	hashes, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("list user sessions: %w", err)
	}
	keys := make([]string, 0, len(hashes)+1)
	for _, hash := range hashes {
		keys = append(keys, s.key(hash))
	}
	keys = append(keys, userKey)
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	return nil
}
