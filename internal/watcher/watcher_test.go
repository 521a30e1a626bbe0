package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/lbwatch/internal/logger"
	"github.com/MrSnakeDoc/lbwatch/internal/metrics"
	"github.com/MrSnakeDoc/lbwatch/internal/registrator"
	"github.com/MrSnakeDoc/lbwatch/internal/registry"
	"github.com/MrSnakeDoc/lbwatch/internal/resilience"
	"github.com/MrSnakeDoc/lbwatch/internal/resolver"
)

const testAddress = "etcd://etcd:2379/services"

type fetchResult struct {
	resp *registry.Response
	err  error
}

type fakeClient struct {
	mu      sync.Mutex
	fetches []fetchResult
	waits   []uint64
	changes chan struct{}
}

func newFakeClient(fetches ...fetchResult) *fakeClient {
	return &fakeClient{fetches: fetches, changes: make(chan struct{}, 8)}
}

func (c *fakeClient) Address() string { return testAddress }

func (c *fakeClient) Fetch(ctx context.Context) (*registry.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.fetches) == 0 {
		return nil, errors.New("registry unreachable")
	}
	next := c.fetches[0]
	c.fetches = c.fetches[1:]
	return next.resp, next.err
}

func (c *fakeClient) Wait(ctx context.Context, index uint64) error {
	c.mu.Lock()
	c.waits = append(c.waits, index)
	c.mu.Unlock()

	select {
	case <-c.changes:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeClient) waitIndexes() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.waits...)
}

type update struct {
	src      Source
	snapshot registrator.Snapshot
}

type fakeBackend struct {
	updates chan update
}

func (b *fakeBackend) Update(src Source, snapshot registrator.Snapshot) {
	b.updates <- update{src: src, snapshot: snapshot}
}

func redisTree(index uint64) fetchResult {
	return fetchResult{resp: &registry.Response{
		Index: index,
		Node: &registry.Node{Key: "/services", Dir: true, Nodes: []*registry.Node{
			{Key: "/services/redis", Dir: true, Nodes: []*registry.Node{
				{Key: "/services/redis/c1:10.0.0.5:6379:tcp", Value: "redis-host:6379"},
			}},
		}},
	}}
}

func newTestWatcher(client *fakeClient, m *metrics.Registry) (*Watcher, *fakeBackend) {
	log := logger.NewNop()
	dns := resolver.Func(func(context.Context, string) (string, error) { return "10.0.0.9", nil })
	backend := &fakeBackend{updates: make(chan update, 8)}
	runner := resilience.NewRunner(resilience.Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond}, 1, log)

	w := New(client, registrator.NewParser(client.Address(), dns, log), backend, runner, Options{Metrics: m}, log)
	return w, backend
}

func receive(t *testing.T, ch <-chan update) update {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a snapshot")
		return update{}
	}
}

func TestWatcherPublishesAndWaitsAfterIndex(t *testing.T) {
	client := newFakeClient(fetchResult{err: errors.New("connection refused")}, redisTree(41))
	m := metrics.NewStandalone()
	w, backend := newTestWatcher(client, m)

	assert.False(t, w.IsHealthy(), "a watcher is unhealthy before its first read")
	assert.Equal(t, StateInitial, w.State())
	assert.Equal(t, DefaultPriority, w.Priority())

	ctx, cancel := context.WithCancel(context.Background())
	done := w.Start(ctx)

	u := receive(t, backend.updates)
	assert.Same(t, w, u.src)
	require.Contains(t, u.snapshot, "6379/tcp")
	assert.Equal(t, "redis", u.snapshot["6379/tcp"].Name())
	assert.Equal(t, "registrator:"+testAddress, u.snapshot["6379/tcp"].Source())

	require.Eventually(t, func() bool {
		return len(client.waitIndexes()) == 1 && w.State() == StateWaiting
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint64{42}, client.waitIndexes())
	assert.True(t, w.IsHealthy())

	cancel()
	<-done

	st := w.Status()
	assert.Equal(t, uint64(2), st.Cycles)
	assert.Equal(t, uint64(1), st.Failures)
	assert.Equal(t, uint64(41), st.LastIndex)
	assert.Equal(t, testAddress, st.Name)
	assert.False(t, st.LastRefresh.IsZero())
	assert.Equal(t, int64(1), m.Counter(context.Background(), metrics.FetchesTotal, testAddress))
	assert.Equal(t, int64(1), m.Counter(context.Background(), metrics.CycleFailuresTotal, testAddress))
}

func TestWatcherRefetchesOnChange(t *testing.T) {
	client := newFakeClient(redisTree(10), redisTree(15))
	w, backend := newTestWatcher(client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	receive(t, backend.updates)
	client.changes <- struct{}{}
	receive(t, backend.updates)

	require.Eventually(t, func() bool { return len(client.waitIndexes()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint64{11, 16}, client.waitIndexes())
}

func TestWatcherStaysHealthyAfterFailures(t *testing.T) {
	// One good read, then the registry goes away for good.
	client := newFakeClient(redisTree(7))
	w, backend := newTestWatcher(client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	receive(t, backend.updates)
	client.changes <- struct{}{}

	require.Eventually(t, func() bool { return w.Status().Failures >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, w.IsHealthy(), "health never goes back to false once a read succeeded")
}

func TestWatcherSkippedEntries(t *testing.T) {
	bad := redisTree(3)
	bad.resp.Node.Nodes[0].Nodes = append(bad.resp.Node.Nodes[0].Nodes,
		&registry.Node{Key: "/services/redis/broken", Value: "x"})

	client := newFakeClient(bad)
	w, backend := newTestWatcher(client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	u := receive(t, backend.updates)
	assert.Len(t, u.snapshot, 1)
	require.Eventually(t, func() bool { return w.Status().Skipped == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "initial", StateInitial.String())
	assert.Equal(t, "fetching", StateFetching.String())
	assert.Equal(t, "waiting", StateWaiting.String())
	assert.Equal(t, "State(9)", State(9).String())
}
