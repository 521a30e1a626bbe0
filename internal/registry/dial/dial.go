// Package dial opens the registry client matching a registry URL scheme.
package dial

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MrSnakeDoc/lbwatch/internal/registry"
	"github.com/MrSnakeDoc/lbwatch/internal/registry/etcdv2"
	"github.com/MrSnakeDoc/lbwatch/internal/registry/etcdv3"
)

// Client is a registry client holding connections to release on shutdown.
type Client interface {
	registry.Client
	io.Closer
}

// Options applies to every registry.
type Options struct {
	FetchTimeout time.Duration
	DialTimeout  time.Duration // etcd3 only
}

// Open returns a client for rawURL:
//
//	etcd://host:port/path, http(s)://host:port/path  etcd v2 keys API
//	etcd3://host:port[;host:port]/path               etcd v3 gRPC API
func Open(rawURL string, opts Options) (Client, error) {
	scheme, _, ok := strings.Cut(rawURL, "://")
	if !ok {
		return nil, fmt.Errorf("registry url %q has no scheme", rawURL)
	}

	switch strings.ToLower(scheme) {
	case "etcd", "http", "https":
		return etcdv2.New(rawURL, etcdv2.Options{FetchTimeout: opts.FetchTimeout})
	case "etcd3":
		return etcdv3.New(rawURL, etcdv3.Options{
			DialTimeout:  opts.DialTimeout,
			FetchTimeout: opts.FetchTimeout,
		})
	default:
		return nil, fmt.Errorf("registry url %q: unsupported scheme %q", rawURL, scheme)
	}
}
