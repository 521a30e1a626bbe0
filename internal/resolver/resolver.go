// Package resolver turns registry hostnames into the IPv4 addresses a load
// balancer is configured with.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/MrSnakeDoc/lbwatch/internal/logger"
)

// ErrNoIPv4 is returned when a host resolves but has no IPv4 address.
var ErrNoIPv4 = errors.New("no IPv4 address")

// Resolver resolves a hostname to a single IPv4 address.
type Resolver interface {
	LookupIPv4(ctx context.Context, host string) (string, error)
}

// Func adapts a plain function to Resolver.
type Func func(ctx context.Context, host string) (string, error)

func (f Func) LookupIPv4(ctx context.Context, host string) (string, error) { return f(ctx, host) }

// NetResolver resolves through the system resolver.
type NetResolver struct {
	resolver *net.Resolver
	timeout  time.Duration
}

// NewNetResolver returns a resolver bounded by timeout per lookup (zero
// means unbounded).
func NewNetResolver(timeout time.Duration) *NetResolver {
	return &NetResolver{resolver: net.DefaultResolver, timeout: timeout}
}

// LookupIPv4 returns literal IPv4 addresses unchanged and otherwise the
// first IPv4 address of host.
func (r *NetResolver) LookupIPv4(ctx context.Context, host string) (string, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		if addr.Is4() || addr.Is4In6() {
			return addr.Unmap().String(), nil
		}
		return "", fmt.Errorf("resolve %s: %w", host, ErrNoIPv4)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	addrs, err := r.resolver.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, a := range addrs {
		if a.Unmap().Is4() {
			return a.Unmap().String(), nil
		}
	}
	return "", fmt.Errorf("resolve %s: %w", host, ErrNoIPv4)
}

// Cache stores resolutions. It is satisfied by the Redis store.
type Cache interface {
	GetCachedResolution(ctx context.Context, host string) (string, error)
	CacheResolution(ctx context.Context, host, ip string, ttl time.Duration) error
}

// CachingResolver answers from Cache when it can and caches what the
// wrapped resolver returns. Cache failures are logged and ignored.
type CachingResolver struct {
	next   Resolver
	cache  Cache
	ttl    time.Duration
	logger logger.Logger
}

// NewCachingResolver wraps next with a cache keeping entries for ttl.
func NewCachingResolver(next Resolver, cache Cache, ttl time.Duration, log logger.Logger) *CachingResolver {
	return &CachingResolver{next: next, cache: cache, ttl: ttl, logger: log}
}

func (r *CachingResolver) LookupIPv4(ctx context.Context, host string) (string, error) {
	ip, err := r.cache.GetCachedResolution(ctx, host)
	switch {
	case err != nil:
		r.logger.Warn("dns cache read failed", logger.String("host", host), logger.Error(err))
	case ip != "":
		return ip, nil
	}

	ip, err = r.next.LookupIPv4(ctx, host)
	if err != nil {
		return "", err
	}

	if err := r.cache.CacheResolution(ctx, host, ip, r.ttl); err != nil {
		r.logger.Warn("dns cache write failed", logger.String("host", host), logger.Error(err))
	}
	return ip, nil
}
