package store

import (
	"github.com/okian/txguard/internal/domain/clock"
	"github.com/redis/go-redis/v9"
)

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxKeys bounds the number of keys. 0 or negative means unbounded.
func WithMaxKeys(n int) MemoryOption {
	return func(s *MemoryStore) {
		s.maxKeys = n
	}
}

// WithClock sets the time source used for TTL expiry.
func WithClock(c clock.Clock) MemoryOption {
	return func(s *MemoryStore) {
		if c != nil {
			s.clock = c
		}
	}
}

// RedisOption configures a RedisStore.
type RedisOption func(*redis.Options)

// WithRedisPassword sets the AUTH password.
func WithRedisPassword(password string) RedisOption {
	return func(o *redis.Options) {
		o.Password = password
	}
}

// WithRedisDB selects the logical database.
func WithRedisDB(db int) RedisOption {
	return func(o *redis.Options) {
		o.DB = db
	}
}

// WithRedisPoolSize sets the connection pool size.
func WithRedisPoolSize(n int) RedisOption {
	return func(o *redis.Options) {
		if n > 0 {
			o.PoolSize = n
		}
	}
}
