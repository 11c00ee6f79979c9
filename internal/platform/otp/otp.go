// Package otp generates and stores short-lived one-time codes for email
// verification and password resets.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CodeTTL is how long a code stays valid.
const CodeTTL = 10 * time.Minute

// ErrCodeNotFound is returned when no code exists for the key or it expired.
var ErrCodeNotFound = errors.New("otp: code not found")

// Store keeps one-time codes with expiry.
type Store interface {
	Set(ctx context.Context, key, code string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// GenerateCode returns a random 6-digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

const redisKeyPrefix = "otp:"

// RedisStore keeps codes in Redis, leaning on key TTLs for expiry.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Set(ctx context.Context, key, code string, ttl time.Duration) error {
	if err := s.client.Set(ctx, redisKeyPrefix+key, code, ttl).Err(); err != nil {
		return fmt.Errorf("store code: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	code, err := s.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCodeNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load code: %w", err)
	}
	return code, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete code: %w", err)
	}
	return nil
}

type memoryEntry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore keeps codes in process memory. Used in dev and tests when no
// Redis is configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Set(_ context.Context, key, code string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{code: code, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return "", ErrCodeNotFound
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		return "", ErrCodeNotFound
	}
	return entry.code, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
