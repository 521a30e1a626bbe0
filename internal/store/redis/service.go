package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/lbwatch/internal/domain"
)

const (
	// DefaultServiceTTL is the default TTL for service entries (48 hours)
	DefaultServiceTTL = 48 * time.Hour
)

// ErrServiceNotFound is returned when a service key is not stored.
var ErrServiceNotFound = errors.New("service not found")

// Store persists the published inventory and the DNS cache in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore creates a new Redis store
func NewStore(client *redis.Client) *Store {
	return &Store{
		client: client,
		ttl:    DefaultServiceTTL,
	}
}

// SaveService stores a service in Redis
func (s *Store) SaveService(ctx context.Context, service *domain.Service) error {
	data, err := json.Marshal(service)
	if err != nil {
		return fmt.Errorf("failed to marshal service %s: %w", service.Key(), err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, ServiceKey(service.Key()), data, s.ttl)
	pipe.SAdd(ctx, AllServicesKey(), service.Key())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save service %s: %w", service.Key(), err)
	}

	return nil
}

// GetService retrieves a service by its "<port>/<protocol>" key
func (s *Store) GetService(ctx context.Context, key string) (*domain.Service, error) {
	data, err := s.client.Get(ctx, ServiceKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, key)
		}
		return nil, fmt.Errorf("failed to get service: %w", err)
	}

	var service domain.Service
	if err := json.Unmarshal(data, &service); err != nil {
		return nil, fmt.Errorf("failed to unmarshal service %s: %w", key, err)
	}

	return &service, nil
}

// GetAllServices retrieves all stored services keyed by "<port>/<protocol>".
// Entries that expired or no longer decode are skipped.
func (s *Store) GetAllServices(ctx context.Context) (map[string]*domain.Service, error) {
	keys, err := s.client.SMembers(ctx, AllServicesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get service keys: %w", err)
	}

	services := make(map[string]*domain.Service, len(keys))
	if len(keys) == 0 {
		return services, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, ServiceKey(key))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get services: %w", err)
	}

	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var service domain.Service
		if err := json.Unmarshal(data, &service); err != nil {
			continue
		}
		services[keys[i]] = &service
	}

	return services, nil
}

// DeleteService removes a service from Redis
func (s *Store) DeleteService(ctx context.Context, key string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, ServiceKey(key))
	pipe.SRem(ctx, AllServicesKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete service %s: %w", key, err)
	}
	return nil
}

// SaveServicesMany stores multiple services in Redis (bulk operation)
func (s *Store) SaveServicesMany(ctx context.Context, services map[string]*domain.Service) error {
	if len(services) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for key, service := range services {
		data, err := json.Marshal(service)
		if err != nil {
			return fmt.Errorf("failed to marshal service %s: %w", key, err)
		}
		pipe.Set(ctx, ServiceKey(key), data, s.ttl)
		pipe.SAdd(ctx, AllServicesKey(), key)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save services: %w", err)
	}

	return nil
}

// PruneServices deletes every stored service whose key is not in keep and
// returns the deleted keys.
func (s *Store) PruneServices(ctx context.Context, keep map[string]*domain.Service) ([]string, error) {
	stored, err := s.client.SMembers(ctx, AllServicesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get service keys: %w", err)
	}

	var stale []string
	for _, key := range stored {
		if _, ok := keep[key]; !ok {
			stale = append(stale, key)
		}
	}
	if len(stale) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	for _, key := range stale {
		pipe.Del(ctx, ServiceKey(key))
		pipe.SRem(ctx, AllServicesKey(), key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to prune services: %w", err)
	}

	return stale, nil
}
