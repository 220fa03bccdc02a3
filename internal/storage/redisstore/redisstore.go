// Package redisstore persists values in Redis under a key namespace, for
// deployments where several terminals share one customer profile.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/five82/platter/internal/storage"
)

const (
	defaultNamespace = "platter"
	pingTimeout      = 5 * time.Second
)

// Options configures a Store.
type Options struct {
	URL       string
	Namespace string
	// TTL expires idle entries; zero keeps them forever.
	TTL time.Duration
}

// Store implements storage.Store on top of a redis client.
type Store struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

var _ storage.Store = (*Store)(nil)

// Open parses opts.URL, connects and verifies the connection with PING.
func Open(opts Options) (*Store, error) {
	if opts.URL == "" {
		return nil, errors.New("redis url is required")
	}
	redisOpt, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(redisOpt)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return New(client, opts.Namespace, opts.TTL), nil
}

// New wraps an existing client.
func New(client *redis.Client, namespace string, ttl time.Duration) *Store {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &Store{client: client, namespace: namespace, ttl: ttl}
}

// Load returns the namespaced value, or storage.ErrNotFound.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return data, nil
}

// Save sets the namespaced value with the configured TTL (none when zero).
func (s *Store) Save(ctx context.Context, key string, value []byte) error {
	if !storage.ValidKey(key) {
		return fmt.Errorf("invalid storage key %q", key)
	}
	if err := s.client.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Delete removes the namespaced key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Close closes the redis client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) key(key string) string {
	return s.namespace + ":" + key
}
