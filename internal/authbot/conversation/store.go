package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aussiebroadwan/authbot/internal/authbot/domain"
	"github.com/redis/go-redis/v9"
)

// Store keeps the per-user conversation. A user without state is idle, so Get
// never reports a miss.
type Store interface {
	Get(ctx context.Context, userID string) (domain.Conversation, error)
	Put(ctx context.Context, userID string, c domain.Conversation) error
	Delete(ctx context.Context, userID string) error
}

// MemoryStore is a process-local Store. Entries idle for longer than TTL read
// back as idle and are dropped on that read.
type MemoryStore struct {
	TTL time.Duration
	Now func() time.Time

	mu    sync.Mutex
	items map[string]domain.Conversation
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		TTL:   ttl,
		Now:   time.Now,
		items: make(map[string]domain.Conversation),
	}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.items[userID]
	if !ok {
		return domain.Idle(), nil
	}
	if s.TTL > 0 && s.Now().Sub(c.UpdatedAt) >= s.TTL {
		delete(s.items, userID)
		return domain.Idle(), nil
	}
	return c, nil
}

func (s *MemoryStore) Put(_ context.Context, userID string, c domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.UpdatedAt = s.Now()
	s.items[userID] = c
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, userID)
	return nil
}

// Len reports how many conversations are held, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// RedisStore keeps conversations in Redis as JSON with a TTL, so several bot
// processes can share them.
type RedisStore struct {
	Client redis.Cmdable
	Prefix string
	TTL    time.Duration
	Now    func() time.Time
}

func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "authbot:conversation:"
	}
	return &RedisStore{Client: client, Prefix: prefix, TTL: ttl, Now: time.Now}
}

func (s *RedisStore) key(userID string) string { return s.Prefix + userID }

func (s *RedisStore) Get(ctx context.Context, userID string) (domain.Conversation, error) {
	raw, err := s.Client.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Idle(), nil
		}
		return domain.Conversation{}, fmt.Errorf("conversation get: %w", err)
	}

	var c domain.Conversation
	if err := json.Unmarshal(raw, &c); err != nil {
		return domain.Conversation{}, fmt.Errorf("conversation decode: %w", err)
	}
	return c, nil
}

func (s *RedisStore) Put(ctx context.Context, userID string, c domain.Conversation) error {
	c.UpdatedAt = s.Now()
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("conversation encode: %w", err)
	}
	if err := s.Client.Set(ctx, s.key(userID), raw, s.TTL).Err(); err != nil {
		return fmt.Errorf("conversation put: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := s.Client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("conversation delete: %w", err)
	}
	return nil
}
