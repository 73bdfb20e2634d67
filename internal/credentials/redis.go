package credentials

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldAccessToken   = "access_token"
	fieldAccessExpiry  = "access_token_expiry"
	fieldRefreshToken  = "refresh_token"
	fieldRefreshExpiry = "refresh_token_expiry"
)

// RedisStore keeps each identity's tokens in a hash, plus one index key per
// token pointing back at the username. Keys carry no TTL: an expired session
// must still be found so it can be torn down with an explicit reason.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "vision:",
	}
}

func (s *RedisStore) identityKey(username string) string { return s.prefix + "identity:" + username }
func (s *RedisStore) accessKey(token string) string      { return s.prefix + "access:" + token }
func (s *RedisStore) refreshKey(token string) string     { return s.prefix + "refresh:" + token }

func (s *RedisStore) FindByAccessToken(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrNotFound
	}
	identity, err := s.findByIndex(ctx, s.accessKey(token))
	if err != nil {
		return Identity{}, err
	}
	// A stale index key can outlive a reissue; the hash is authoritative.
	if identity.AccessToken != token {
		return Identity{}, ErrNotFound
	}
	return identity, nil
}

func (s *RedisStore) FindByRefreshToken(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrNotFound
	}
	identity, err := s.findByIndex(ctx, s.refreshKey(token))
	if err != nil {
		return Identity{}, err
	}
	if identity.RefreshToken != token {
		return Identity{}, ErrNotFound
	}
	return identity, nil
}

func (s *RedisStore) FindByUsername(ctx context.Context, username string) (Identity, error) {
	fields, err := s.client.HGetAll(ctx, s.identityKey(username)).Result()
	if err != nil {
		return Identity{}, fmt.Errorf("lookup credentials: %w", err)
	}
	if len(fields) == 0 {
		return Identity{}, ErrNotFound
	}

	accessExpiry, err := strconv.ParseInt(fields[fieldAccessExpiry], 10, 64)
	if err != nil {
		return Identity{}, fmt.Errorf("parse access expiry: %w", err)
	}
	refreshExpiry, err := strconv.ParseInt(fields[fieldRefreshExpiry], 10, 64)
	if err != nil {
		return Identity{}, fmt.Errorf("parse refresh expiry: %w", err)
	}

	return Identity{
		Username:           username,
		AccessToken:        fields[fieldAccessToken],
		AccessTokenExpiry:  time.UnixMilli(accessExpiry),
		RefreshToken:       fields[fieldRefreshToken],
		RefreshTokenExpiry: time.UnixMilli(refreshExpiry),
	}, nil
}

func (s *RedisStore) findByIndex(ctx context.Context, key string) (Identity, error) {
	username, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Identity{}, ErrNotFound
	}
	if err != nil {
		return Identity{}, fmt.Errorf("lookup token index: %w", err)
	}
	return s.FindByUsername(ctx, username)
}

func (s *RedisStore) ResetTokens(ctx context.Context, username string) error {
	identity, err := s.FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.accessKey(identity.AccessToken), s.refreshKey(identity.RefreshToken), s.identityKey(username))
		return nil
	})
	if err != nil {
		return fmt.Errorf("reset tokens: %w", err)
	}
	return nil
}

func (s *RedisStore) ExtendAccessExpiry(ctx context.Context, username string, newExpiry time.Time) error {
	exists, err := s.client.HExists(ctx, s.identityKey(username), fieldAccessToken).Result()
	if err != nil {
		return fmt.Errorf("extend access expiry: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	if err := s.client.HSet(ctx, s.identityKey(username), fieldAccessExpiry, newExpiry.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("extend access expiry: %w", err)
	}
	return nil
}

func (s *RedisStore) Issue(ctx context.Context, identity Identity) error {
	if err := s.ResetTokens(ctx, identity.Username); err != nil {
		return err
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.identityKey(identity.Username),
			fieldAccessToken, identity.AccessToken,
			fieldAccessExpiry, identity.AccessTokenExpiry.UnixMilli(),
			fieldRefreshToken, identity.RefreshToken,
			fieldRefreshExpiry, identity.RefreshTokenExpiry.UnixMilli(),
		)
		pipe.Set(ctx, s.accessKey(identity.AccessToken), identity.Username, 0)
		pipe.Set(ctx, s.refreshKey(identity.RefreshToken), identity.Username, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("issue tokens: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
