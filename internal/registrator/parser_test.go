package registrator

import (
	"context"
	"errors"
	"testing"

	"github.com/MrSnakeDoc/lbwatch/internal/domain"
	"github.com/MrSnakeDoc/lbwatch/internal/logger"
	"github.com/MrSnakeDoc/lbwatch/internal/registry"
	"github.com/MrSnakeDoc/lbwatch/internal/resolver"
)

var errNoSuchHost = errors.New("no such host")

func fakeDNS(table map[string]string) resolver.Resolver {
	return resolver.Func(func(_ context.Context, host string) (string, error) {
		if ip, ok := table[host]; ok {
			return ip, nil
		}
		return "", errNoSuchHost
	})
}

func dir(key string, leaves ...*registry.Node) *registry.Node {
	return &registry.Node{Key: key, Dir: true, Nodes: leaves}
}

func leaf(key, value string) *registry.Node {
	return &registry.Node{Key: key, Value: value}
}

func newTestParser(dns map[string]string) *Parser {
	return NewParser("etcd://etcd:2379/services", fakeDNS(dns), logger.NewNop())
}

func TestParseRedisExample(t *testing.T) {
	tree := dir("/services",
		dir("/services/redis",
			leaf("/services/redis/c1:10.0.0.5:6379:tcp", "redis-host:6379"),
		),
	)

	snap, errs := newTestParser(map[string]string{"redis-host": "10.0.0.9"}).Parse(context.Background(), tree)
	if len(errs) != 0 {
		t.Fatalf("unexpected entry errors: %v", errs)
	}
	if len(snap) != 1 {
		t.Fatalf("expected 1 service, got %d", len(snap))
	}

	svc, ok := snap["6379/tcp"]
	if !ok {
		t.Fatalf("missing key 6379/tcp in %v", snap)
	}
	if svc.Name() != "redis" || svc.Port() != 6379 || svc.Protocol() != "tcp" {
		t.Errorf("service = %s", svc)
	}
	if svc.Source() != "registrator:etcd://etcd:2379/services" {
		t.Errorf("Source() = %q", svc.Source())
	}

	want := domain.NewServer("10.0.0.9", "6379", "redis-host")
	servers := svc.Servers()
	if len(servers) != 1 || !servers[0].Equal(want) || servers[0].Hostname() != "redis-host" {
		t.Errorf("servers = %v, want [%s]", servers, want)
	}
}

func TestParseGroupsByPortAndProtocol(t *testing.T) {
	tree := dir("/services",
		dir("/services/web",
			leaf("/services/web/c1:10.0.0.5:80", "web-a:8080"),
			leaf("/services/web/c2:10.0.0.6:80:TCP", "web-b:8080"),
			leaf("/services/web/c3:10.0.0.6:80:tcp", "web-b:8080"),
		),
		dir("/services/dns",
			leaf("/services/dns/c4:10.0.0.7:53:udp", "dns-a:53"),
			leaf("/services/dns/c5:10.0.0.7:53:tcp", "dns-a:53"),
		),
	)

	dns := map[string]string{"web-a": "10.0.1.1", "web-b": "10.0.1.2", "dns-a": "10.0.1.3"}
	snap, errs := newTestParser(dns).Parse(context.Background(), tree)
	if len(errs) != 0 {
		t.Fatalf("unexpected entry errors: %v", errs)
	}

	tests := []struct {
		key     string
		name    string
		servers int
	}{
		{"80/tcp", "web", 2},
		{"53/udp", "dns", 1},
		{"53/tcp", "dns", 1},
	}

	if len(snap) != len(tests) {
		t.Fatalf("expected %d services, got %d", len(tests), len(snap))
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			svc, ok := snap[tt.key]
			if !ok {
				t.Fatalf("missing service %s", tt.key)
			}
			if svc.Name() != tt.name || svc.Len() != tt.servers {
				t.Errorf("service = %s, want %s with %d servers", svc, tt.name, tt.servers)
			}
			if svc.Key() != tt.key {
				t.Errorf("Key() = %q, want %q", svc.Key(), tt.key)
			}
		})
	}

	if got := snap.Servers(); got != 4 {
		t.Errorf("Servers() = %d, want 4", got)
	}
}

func TestParseDefaultsToTCP(t *testing.T) {
	tree := dir("/services", dir("/services/app", leaf("/services/app/c1:10.0.0.5:3000", "app:3000")))

	snap, _ := newTestParser(map[string]string{"app": "10.0.0.1"}).Parse(context.Background(), tree)
	svc, ok := snap["3000/tcp"]
	if !ok {
		t.Fatalf("expected key 3000/tcp, got %v", snap)
	}
	if svc.Protocol() != "tcp" {
		t.Errorf("Protocol() = %q, want tcp", svc.Protocol())
	}
}

func TestParsePortSuffixOverridesServicePort(t *testing.T) {
	tree := dir("/services", dir("/services/cache@9090", leaf("/services/cache@9090/c1:10.0.0.5:6379", "cache-host:6379")))

	snap, _ := newTestParser(map[string]string{"cache-host": "10.0.0.4"}).Parse(context.Background(), tree)

	// The snapshot key follows the registered port, the service port the name.
	svc, ok := snap["6379/tcp"]
	if !ok {
		t.Fatalf("expected key 6379/tcp, got %v", snap)
	}
	if svc.Name() != "cache" || svc.Port() != 9090 {
		t.Errorf("service = %s, want cache on port 9090", svc)
	}
	if srv := svc.Servers()[0]; srv.Port() != "6379" {
		t.Errorf("server port = %q, want 6379", srv.Port())
	}
}

func TestParseIsolatesBadEntries(t *testing.T) {
	tree := dir("/services",
		dir("/services/web",
			leaf("/services/web/c1:10.0.0.5:80", "web-a:8080"),
			leaf("/services/web/c2:10.0.0.5", "web-a:8080"),
			leaf("/services/web/c3:10.0.0.5:http", "web-a:8080"),
			leaf("/services/web/c4:10.0.0.5:80", "web-a"),
			leaf("/services/web/c5:10.0.0.5:80", "unknown-host:8080"),
			leaf("/services/web/c6:10.0.0.6:80", "web-b:8080"),
		),
	)

	dns := map[string]string{"web-a": "10.0.1.1", "web-b": "10.0.1.2"}
	snap, errs := newTestParser(dns).Parse(context.Background(), tree)

	if svc := snap["80/tcp"]; svc == nil || svc.Len() != 2 {
		t.Fatalf("expected the two valid backends to survive, got %v", snap)
	}

	wantCauses := []error{ErrMalformedKey, ErrMalformedKey, ErrMalformedValue, errNoSuchHost}
	if len(errs) != len(wantCauses) {
		t.Fatalf("expected %d entry errors, got %d: %v", len(wantCauses), len(errs), errs)
	}
	for i, want := range wantCauses {
		if !errors.Is(errs[i], want) {
			t.Errorf("error %d = %v, want %v", i, errs[i], want)
		}
		if errs[i].Dir != "/services/web" {
			t.Errorf("error %d Dir = %q", i, errs[i].Dir)
		}
	}
	if errs[3].Key != "/services/web/c5:10.0.0.5:80" || errs[3].Value != "unknown-host:8080" {
		t.Errorf("entry error lacks context: %+v", errs[3])
	}
}

func TestParseEmptyTrees(t *testing.T) {
	p := newTestParser(nil)

	for _, tree := range []*registry.Node{nil, dir("/services"), dir("/services", dir("/services/empty"))} {
		snap, errs := p.Parse(context.Background(), tree)
		if len(snap) != 0 || len(errs) != 0 {
			t.Errorf("Parse(%v) = (%v, %v), want empty", tree, snap, errs)
		}
	}
}
