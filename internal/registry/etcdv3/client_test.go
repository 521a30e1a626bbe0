package etcdv3

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/etcdserverpb"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/MrSnakeDoc/lbwatch/internal/registry"
)

type fakeKV struct {
	clientv3.KV
	resp   *clientv3.GetResponse
	err    error
	gotKey string
}

func (f *fakeKV) Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	f.gotKey = key
	return f.resp, f.err
}

type fakeWatcher struct {
	clientv3.Watcher
	responses []clientv3.WatchResponse
	closeCh   bool
	gotKey    string
}

func (f *fakeWatcher) Watch(ctx context.Context, key string, opts ...clientv3.OpOption) clientv3.WatchChan {
	f.gotKey = key
	ch := make(chan clientv3.WatchResponse, len(f.responses))
	for _, r := range f.responses {
		ch <- r
	}
	if f.closeCh {
		close(ch)
	}
	return ch
}

func kv(key, value string) *mvccpb.KeyValue {
	return &mvccpb.KeyValue{Key: []byte(key), Value: []byte(value)}
}

func TestFetchBuildsTree(t *testing.T) {
	f := &fakeKV{resp: &clientv3.GetResponse{
		Header: &etcdserverpb.ResponseHeader{Revision: 17},
		Kvs: []*mvccpb.KeyValue{
			kv("/services/redis/c1:10.0.0.5:6379", "redis-host:6379"),
			kv("/services/web/c2:10.0.0.6:80:TCP", "web-host:80"),
		},
	}}
	c := NewWithKV(f, nil, "services/", "etcd3://etcd:2379/services")

	resp, err := c.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/services/", f.gotKey)
	assert.Equal(t, uint64(17), resp.Index)
	require.Len(t, resp.Node.Nodes, 2)
	assert.Equal(t, "redis", resp.Node.Nodes[0].Name())
	assert.Equal(t, "redis-host:6379", resp.Node.Nodes[0].Nodes[0].Value)
	assert.Equal(t, "etcd3://etcd:2379/services", c.Address())
}

func TestFetchErrors(t *testing.T) {
	c := NewWithKV(&fakeKV{err: errors.New("unavailable")}, nil, "/services", "x")
	_, err := c.Fetch(context.Background())
	assert.Error(t, err)

	c = NewWithKV(&fakeKV{resp: &clientv3.GetResponse{}}, nil, "/services", "x")
	_, err = c.Fetch(context.Background())
	assert.ErrorIs(t, err, registry.ErrMissingIndex)
}

func TestWait(t *testing.T) {
	event := &clientv3.Event{Type: mvccpb.PUT, Kv: kv("/services/web/c3:1:80", "h:80")}

	tests := []struct {
		name    string
		watcher *fakeWatcher
		wantErr error
		anyErr  bool
	}{
		{
			name: "change reported",
			watcher: &fakeWatcher{responses: []clientv3.WatchResponse{
				{Created: true},
				{Events: []*clientv3.Event{event}},
			}},
		},
		{
			name:    "compacted revision refetches",
			watcher: &fakeWatcher{responses: []clientv3.WatchResponse{{CompactRevision: 12}}},
		},
		{
			name:    "closed channel",
			watcher: &fakeWatcher{closeCh: true},
			wantErr: ErrWatchClosed,
		},
		{
			name:    "canceled watch",
			watcher: &fakeWatcher{responses: []clientv3.WatchResponse{{Canceled: true}}},
			anyErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewWithKV(nil, tt.watcher, "/services", "x")
			err := c.Wait(context.Background(), 18)

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.anyErr:
				assert.Error(t, err)
			default:
				assert.NoError(t, err)
			}
			assert.Equal(t, "/services/", tt.watcher.gotKey)
		})
	}
}

func TestNewRejectsOtherSchemes(t *testing.T) {
	_, err := New("http://etcd:2379/services", Options{})
	assert.Error(t, err)

	_, err = New("etcd3:///services", Options{})
	assert.Error(t, err)
}

func TestParseURL(t *testing.T) {
	endpoints, path, err := ParseURL("etcd3://etcd-a:2379;etcd-b:2379/services/prod")
	require.NoError(t, err)
	assert.Equal(t, []string{"etcd-a:2379", "etcd-b:2379"}, endpoints)
	assert.Equal(t, "/services/prod", path)

	endpoints, path, err = ParseURL("etcd3://etcd:2379")
	require.NoError(t, err)
	assert.Equal(t, []string{"etcd:2379"}, endpoints)
	assert.Equal(t, "/", path)
}
