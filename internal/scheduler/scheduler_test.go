package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/lbwatch/internal/domain"
	"github.com/MrSnakeDoc/lbwatch/internal/index"
	"github.com/MrSnakeDoc/lbwatch/internal/logger"
	"github.com/MrSnakeDoc/lbwatch/internal/registrator"
	redisstore "github.com/MrSnakeDoc/lbwatch/internal/store/redis"
)

type source struct{ name string }

func (s source) Name() string    { return s.name }
func (s source) IsHealthy() bool { return true }
func (s source) Priority() int   { return 5 }

func newStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstore.NewStore(client), mr
}

func web(ips ...string) *domain.Service {
	svc := domain.NewService("web", "registrator:etcd://e/s", 80, "tcp").WithSlotPolicy(domain.AppendSlots{})
	for _, ip := range ips {
		svc = svc.AddServer(domain.NewServer(ip, "8080", ""))
	}
	return svc
}

func TestPublisherSkipsUntilLive(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()
	log := logger.NewNop()

	require.NoError(t, store.SaveService(ctx, web("10.0.0.1")))

	idx := index.NewMemoryIndex(log, nil)
	pub := NewPublisher(store, idx, log, time.Hour)

	// An empty or seeded index must not prune what is stored.
	require.NoError(t, pub.Publish(ctx))
	idx.Seed(map[string]*domain.Service{"80/tcp": web("10.0.0.1")})
	require.NoError(t, pub.Publish(ctx))
	assert.True(t, mr.Exists(redisstore.ServiceKey("80/tcp")))

	idx.Update(source{"a"}, registrator.Snapshot{"53/udp": domain.NewService("dns", "a", 53, "udp")})
	require.NoError(t, pub.Publish(ctx))

	all, err := store.GetAllServices(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Contains(t, all, "53/udp")
}

func TestPublisherFollowsIndex(t *testing.T) {
	store, _ := newStore(t)
	log := logger.NewNop()
	idx := index.NewMemoryIndex(log, nil)

	pub := NewPublisher(store, idx, log, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub.Start(ctx)
	defer pub.Stop()

	idx.Update(source{"a"}, registrator.Snapshot{"80/tcp": web("10.0.0.1", "10.0.0.2")})

	require.Eventually(t, func() bool {
		svc, err := store.GetService(context.Background(), "80/tcp")
		return err == nil && svc.Len() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisSyncerSeedsIndex(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	log := logger.NewNop()

	idx := index.NewMemoryIndex(log, nil)
	syncer := NewRedisSyncer(store, idx, log)

	// Nothing stored: nothing seeded.
	require.NoError(t, syncer.Sync(ctx))
	assert.Equal(t, 0, idx.Count())

	stored := web("10.0.0.3", "10.0.0.1", "10.0.0.2")
	require.NoError(t, store.SaveService(ctx, stored))
	require.NoError(t, syncer.Sync(ctx))

	svc, ok := idx.GetService("80/tcp")
	require.True(t, ok)
	assert.Equal(t, stored.Slots(), svc.Slots(), "seeding keeps the persisted slot order")
	assert.True(t, idx.Snapshot().Seeded)
	assert.False(t, idx.Ready())
}

func TestOverridesReloader(t *testing.T) {
	log := logger.NewNop()
	idx := index.NewMemoryIndex(log, nil)
	idx.Update(source{"a"}, registrator.Snapshot{"80/tcp": web("10.0.0.1")})

	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte("services:\n  web:\n    application: http\n"), 0o644))

	trigger := make(chan struct{}, 1)
	reloader := NewOverridesReloader(path, idx, log, time.Hour, trigger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, reloader.Start(ctx))
	defer reloader.Stop()

	svc, _ := idx.GetService("80/tcp")
	assert.Equal(t, "http", svc.Application())

	require.NoError(t, os.WriteFile(path, []byte("services:\n  web:\n    application: tcp\n    weight: 10\n"), 0o644))
	trigger <- struct{}{}

	require.Eventually(t, func() bool {
		svc, _ := idx.GetService("80/tcp")
		return svc.Application() == "tcp" && svc.Slots()[0].Weight() == 10
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOverridesReloaderRejectsInvalidFile(t *testing.T) {
	log := logger.NewNop()
	idx := index.NewMemoryIndex(log, nil)

	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte("services:\n  web:\n    weight: -1\n"), 0o644))

	reloader := NewOverridesReloader(path, idx, log, time.Hour, nil)
	assert.Error(t, reloader.Start(context.Background()))
}
