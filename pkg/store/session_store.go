package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"footyai/internal/util"
	"footyai/pkg/domain"
)

// RedisSessionStore keeps session snapshots in Redis with TTL.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSessionStore builds a Redis-backed session store.
func NewRedisSessionStore(addr, password string, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSessionStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		prefix: "footyai:session:",
		ttl:    ttl,
	}
}

// NewSession writes a token -> user snapshot mapping with TTL.
func (s *RedisSessionStore) NewSession(user domain.User) (string, error) {
	token := util.NewID()
	if err := s.SetSessionUser(token, user); err != nil {
		return "", err
	}
	return token, nil
}

// GetSessionUser resolves the token to its user snapshot.
// A snapshot that fails to decode is treated as an absent session rather
// than an error; the caller simply sees a logged-out state.
func (s *RedisSessionStore) GetSessionUser(token string) (domain.User, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	raw, err := s.client.Get(ctx, s.prefix+token).Result()
	if err == redis.Nil {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, err
	}
	var user domain.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		slog.Warn("discarding malformed session snapshot", "err", err)
		return domain.User{}, false, nil
	}
	return user, true, nil
}

// SetSessionUser writes or refreshes the user snapshot for a token.
func (s *RedisSessionStore) SetSessionUser(token string, user domain.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.client.Set(ctx, s.prefix+token, raw, s.ttl).Err()
}

// DeleteSession removes a token mapping.
func (s *RedisSessionStore) DeleteSession(token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.client.Del(ctx, s.prefix+token).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}

// MemorySessionStore keeps session snapshots in-process.
type MemorySessionStore struct {
	mu   sync.RWMutex
	sess map[string]domain.User
}

// NewMemorySessionStore initializes an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sess: make(map[string]domain.User)}
}

// NewSession creates a session token bound to a user snapshot.
func (m *MemorySessionStore) NewSession(user domain.User) (string, error) {
	token := util.NewID()
	m.mu.Lock()
	m.sess[token] = user
	m.mu.Unlock()
	return token, nil
}

// GetSessionUser returns the user snapshot bound to a token.
func (m *MemorySessionStore) GetSessionUser(token string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.sess[token]
	return user, ok, nil
}

// SetSessionUser replaces the user snapshot for a token.
func (m *MemorySessionStore) SetSessionUser(token string, user domain.User) error {
	m.mu.Lock()
	m.sess[token] = user
	m.mu.Unlock()
	return nil
}

// DeleteSession removes a token mapping.
func (m *MemorySessionStore) DeleteSession(token string) error {
	m.mu.Lock()
	delete(m.sess, token)
	m.mu.Unlock()
	return nil
}
