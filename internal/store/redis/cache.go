package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheResolution stores a host -> ip resolution
func (s *Store) CacheResolution(ctx context.Context, host, ip string, ttl time.Duration) error {
	if err := s.client.Set(ctx, DNSKey(host), ip, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache resolution: %w", err)
	}
	return nil
}

// GetCachedResolution retrieves a cached resolution. A miss returns "".
func (s *Store) GetCachedResolution(ctx context.Context, host string) (string, error) {
	ip, err := s.client.Get(ctx, DNSKey(host)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil // Cache miss
		}
		return "", fmt.Errorf("failed to get cached resolution: %w", err)
	}
	return ip, nil
}

// InvalidateResolution removes a cached resolution
func (s *Store) InvalidateResolution(ctx context.Context, host string) error {
	if err := s.client.Del(ctx, DNSKey(host)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate resolution: %w", err)
	}
	return nil
}

// FlushResolutions removes all cached resolutions
func (s *Store) FlushResolutions(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, KeyPrefixDNS+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete cache key: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to flush resolutions: %w", err)
	}
	return nil
}
