// Package etcdv3 reads a registrator tree stored in etcd's v3 key space.
//
// The v3 API is flat, so keys are regrouped into the same directory tree a
// recursive v2 read returns. The store revision plays the role of the v2
// change index: a watch started at revision+1 fires on the first change
// after the read.
package etcdv3

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/MrSnakeDoc/lbwatch/internal/registry"
)

// ErrWatchClosed is returned when the watch channel closes without
// reporting a change.
var ErrWatchClosed = errors.New("etcd watch closed")

// Options tunes the etcd connection.
type Options struct {
	DialTimeout  time.Duration
	FetchTimeout time.Duration
}

// Client implements registry.Client on top of clientv3.
type Client struct {
	kv           clientv3.KV
	watcher      clientv3.Watcher
	closeFn      func() error
	prefix       string
	address      string
	fetchTimeout time.Duration
}

// New connects to the endpoints of an etcd3://host:port[;host:port]/path URL.
func New(rawURL string, opts Options) (*Client, error) {
	endpoints, path, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: opts.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd %v: %w", endpoints, err)
	}

	c := NewWithKV(cli.KV, cli.Watcher, path, rawURL)
	c.fetchTimeout = opts.FetchTimeout
	c.closeFn = cli.Close
	return c, nil
}

// ParseURL splits an etcd3:// URL into its endpoints and watched path.
// Endpoints are separated by ';' since ',' separates registries in the
// configuration. The URL is cut by hand: a host list with several ports is
// not a valid URL authority.
func ParseURL(rawURL string) (endpoints []string, path string, err error) {
	rest, ok := strings.CutPrefix(rawURL, "etcd3://")
	if !ok {
		return nil, "", fmt.Errorf("registry url %q: unsupported scheme, want etcd3", rawURL)
	}

	hosts, path, _ := strings.Cut(rest, "/")
	for _, ep := range strings.Split(hosts, ";") {
		if ep = strings.TrimSpace(ep); ep != "" {
			endpoints = append(endpoints, ep)
		}
	}
	if len(endpoints) == 0 {
		return nil, "", fmt.Errorf("registry url %q has no endpoint", rawURL)
	}
	return endpoints, "/" + path, nil
}

// NewWithKV builds a client over existing KV and Watcher implementations.
func NewWithKV(kv clientv3.KV, watcher clientv3.Watcher, prefix, address string) *Client {
	prefix = "/" + strings.Trim(prefix, "/")
	if prefix == "/" {
		prefix = ""
	}
	return &Client{
		kv:      kv,
		watcher: watcher,
		prefix:  prefix,
		address: address,
	}
}

// Address returns the registry URL as configured.
func (c *Client) Address() string { return c.address }

// Close releases the etcd connection when the client owns it.
func (c *Client) Close() error {
	if c.closeFn == nil {
		return nil
	}
	return c.closeFn()
}

// Fetch reads every key under the watched prefix.
func (c *Client) Fetch(ctx context.Context) (*registry.Response, error) {
	if c.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
	}

	resp, err := c.kv.Get(ctx, c.prefix+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("get %s/: %w", c.prefix, err)
	}
	if resp.Header == nil || resp.Header.Revision <= 0 {
		return nil, fmt.Errorf("get %s/: %w", c.prefix, registry.ErrMissingIndex)
	}

	kvs := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		kvs[string(kv.Key)] = string(kv.Value)
	}

	return &registry.Response{
		Node:  registry.BuildTree(c.prefix, kvs),
		Index: uint64(resp.Header.Revision),
	}, nil
}

// Wait watches the prefix from revision index and returns on the first
// change. A compacted revision is reported as a change so the caller
// refetches at once.
func (c *Client) Wait(ctx context.Context, index uint64) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wch := c.watcher.Watch(wctx, c.prefix+"/", clientv3.WithPrefix(), clientv3.WithRev(int64(index)))
	for wr := range wch {
		if wr.CompactRevision != 0 {
			return nil
		}
		if err := wr.Err(); err != nil {
			return fmt.Errorf("watch %s/: %w", c.prefix, err)
		}
		if wr.Canceled {
			return fmt.Errorf("watch %s/: %w", c.prefix, ErrWatchClosed)
		}
		if len(wr.Events) > 0 {
			return nil
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("watch %s/: %w", c.prefix, ErrWatchClosed)
}
