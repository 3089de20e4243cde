package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store 멱등성 키 저장소 인터페이스
//
// 지연 최적화용 캐시일 뿐이며, 유일한 멱등성 보장 수단이 아니다.
type Store interface {
	// Reserve 멱등성 키를 예약 (이미 존재하면 false 반환)
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Exists 키가 아직 살아 있는지 확인
	Exists(ctx context.Context, key string) (bool, error)
	// Release 멱등성 키 해제
	Release(ctx context.Context, key string) error
}

// RedisStore Redis 기반 멱등성 저장소
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore Redis 기반 멱등성 저장소 생성
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

// Reserve 멱등성 키 예약 (SET NX PX)
func (s *RedisStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	result, err := s.client.SetNX(ctx, s.getFullKey(key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	return result, nil
}

// Exists 키 존재 여부 확인
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := s.client.Exists(ctx, s.getFullKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return exists > 0, nil
}

// Release 멱등성 키 해제
func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.getFullKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

func (s *RedisStore) getFullKey(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}
