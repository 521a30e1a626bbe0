package domain

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultApplication is the application type of a plain TCP/UDP service.
	DefaultApplication = "binary"
	// DefaultProtocol is used when a registry entry does not name one.
	DefaultProtocol = "tcp"
	// DefaultHealthcheckURL is probed when health checking is enabled
	// without an explicit URL.
	DefaultHealthcheckURL = "/"
)

// Service represents one logical (name, port, protocol) group of backends
// as it should be exposed by a load balancer.
//
// A Service is immutable once handed out: every operation returns a new
// *Service and leaves the receiver untouched, so a snapshot can be read by
// other goroutines while the next one is being built.
//
// Besides the server set, a Service keeps an ordered slot list holding the
// very same servers. The set answers membership questions; the slot list
// gives renderers a stable backend order across refreshes. Both always hold
// exactly the same servers.
type Service struct {
	// ─────────────────────────────
	// Identity
	// ─────────────────────────────

	// name is the service name, stripped of any "@<port>" suffix.
	name string

	// source tells which watcher/registry produced the service.
	// Example: registrator:http://etcd:2379/services
	source string

	port     int
	protocol string

	// ─────────────────────────────
	// Rendering hints
	// ─────────────────────────────

	application    string
	healthcheck    bool
	healthcheckURL string

	// Zero means "use the load balancer default".
	timeoutClient time.Duration
	timeoutServer time.Duration

	// ─────────────────────────────
	// Backends
	// ─────────────────────────────

	servers map[ServerKey]Server
	slots   []slot
	policy  SlotPolicy
}

// slot is one position of the rendered backend list. Unfilled slots only
// exist while Update runs; they let additions reuse the positions freed by
// removals.
type slot struct {
	server Server
	filled bool
}

// NewService creates an empty service. A trailing "@<digits>" on name
// overrides port and is stripped from the name.
func NewService(name, source string, port int, protocol string) *Service {
	svc := &Service{
		name:           name,
		source:         source,
		port:           port,
		protocol:       protocol,
		application:    DefaultApplication,
		healthcheckURL: DefaultHealthcheckURL,
		servers:        make(map[ServerKey]Server),
		policy:         DefaultSlotPolicy,
	}

	if n, p, ok := SplitPortSuffix(name); ok {
		svc.name = n
		svc.port = p
	}

	return svc
}

// ServiceKey builds the "<port>/<protocol>" key used to index snapshots.
func ServiceKey(port int, protocol string) string {
	return strconv.Itoa(port) + "/" + strings.ToLower(protocol)
}

func (s *Service) Name() string                 { return s.name }
func (s *Service) Source() string               { return s.source }
func (s *Service) Port() int                    { return s.port }
func (s *Service) Protocol() string             { return s.protocol }
func (s *Service) Application() string          { return s.application }
func (s *Service) Healthcheck() bool            { return s.healthcheck }
func (s *Service) HealthcheckURL() string       { return s.healthcheckURL }
func (s *Service) TimeoutClient() time.Duration { return s.timeoutClient }
func (s *Service) TimeoutServer() time.Duration { return s.timeoutServer }

// Key returns the "<port>/<protocol>" key of the service itself.
func (s *Service) Key() string { return ServiceKey(s.port, s.protocol) }

// PortName returns the port in a form usable as an identifier.
func (s *Service) PortName() string {
	return strings.Map(func(r rune) rune {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			return r
		}
		return '_'
	}, strconv.Itoa(s.port))
}

// Len returns the number of servers.
func (s *Service) Len() int { return len(s.servers) }

// Contains reports whether srv (by identity tuple) is a member.
func (s *Service) Contains(srv Server) bool {
	_, ok := s.servers[srv.Key()]
	return ok
}

// Servers returns the server set sorted by identity tuple.
func (s *Service) Servers() []Server {
	out := slices.Collect(maps.Values(s.servers))
	slices.SortFunc(out, CompareServers)
	return out
}

// Slots returns the servers in their stable rendering order.
func (s *Service) Slots() []Server {
	out := make([]Server, 0, len(s.slots))
	for _, sl := range s.slots {
		out = append(out, sl.server)
	}
	return out
}

// Equal compares name, port, protocol and server set.
func (s *Service) Equal(other *Service) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.name != other.name || s.port != other.port || s.protocol != other.protocol {
		return false
	}
	if len(s.servers) != len(other.servers) {
		return false
	}
	for k := range s.servers {
		if _, ok := other.servers[k]; !ok {
			return false
		}
	}
	return true
}

// ─────────────────────────────────────────────────────────────────
// Copy-on-write operations
// ─────────────────────────────────────────────────────────────────

// AddServer returns a service that also contains srv. The first free slot
// is reused; without one, srv is inserted where the slot policy says.
// Adding a server that is already a member returns s itself.
func (s *Service) AddServer(srv Server) *Service {
	if s.Contains(srv) {
		return s
	}
	c := s.clone()
	c.add(srv)
	c.verify()
	return c
}

// RemoveServer returns a service without srv. Every other server keeps its
// relative order.
func (s *Service) RemoveServer(srv Server) (*Service, error) {
	if !s.Contains(srv) {
		return nil, fmt.Errorf("remove %s from service %q: %w", srv, s.name, ErrServerNotFound)
	}
	c := s.clone()
	c.release(srv)
	c.compact()
	c.verify()
	return c, nil
}

// Update reconciles s with a freshly parsed version of the same service.
//
// The metadata of other (name, source, port, protocol, timeouts) is copied
// over, servers missing from other are removed and servers new in other are
// added. Servers present in both keep their slot; new servers first take the
// slots freed by removals. When both server sets are equal the slot order is
// left exactly as it was.
func (s *Service) Update(other *Service) *Service {
	c := s.clone()
	c.name = other.name
	c.source = other.source
	c.port = other.port
	c.protocol = other.protocol
	c.timeoutClient = other.timeoutClient
	c.timeoutServer = other.timeoutServer

	var gone, fresh []Server
	for _, sl := range c.slots {
		if _, ok := other.servers[sl.server.Key()]; !ok {
			gone = append(gone, sl.server)
		}
	}
	for _, sl := range other.slots {
		if _, ok := c.servers[sl.server.Key()]; !ok {
			fresh = append(fresh, sl.server)
		}
	}

	for _, srv := range gone {
		c.release(srv)
	}
	for _, srv := range fresh {
		c.add(srv)
	}
	c.compact()
	c.verify()
	return c
}

// MapServers returns a service whose servers are replaced by fn(server),
// slot by slot. When fn maps two servers onto the same identity, the one
// holding the earlier slot wins.
func (s *Service) MapServers(fn func(Server) Server) *Service {
	c := s.clone()
	c.servers = make(map[ServerKey]Server, len(s.servers))
	c.slots = make([]slot, 0, len(s.slots))
	for _, sl := range s.slots {
		srv := fn(sl.server)
		if _, dup := c.servers[srv.Key()]; dup {
			continue
		}
		c.servers[srv.Key()] = srv
		c.slots = append(c.slots, slot{server: srv, filled: true})
	}
	c.verify()
	return c
}

// WithApplication returns a copy of s using the given application type
// (for example "http").
func (s *Service) WithApplication(application string) *Service {
	c := s.clone()
	c.application = application
	return c
}

// WithHealthcheck returns a copy of s with health checking toggled. An
// empty url keeps the current one.
func (s *Service) WithHealthcheck(enabled bool, url string) *Service {
	c := s.clone()
	c.healthcheck = enabled
	if url != "" {
		c.healthcheckURL = url
	}
	return c
}

// WithTimeouts returns a copy of s with client/server timeout overrides.
func (s *Service) WithTimeouts(client, server time.Duration) *Service {
	c := s.clone()
	c.timeoutClient = client
	c.timeoutServer = server
	return c
}

// WithSource returns a copy of s tagged with another provenance.
func (s *Service) WithSource(source string) *Service {
	c := s.clone()
	c.source = source
	return c
}

// WithSlotPolicy returns a copy of s placing new servers with p.
func (s *Service) WithSlotPolicy(p SlotPolicy) *Service {
	c := s.clone()
	if p == nil {
		p = DefaultSlotPolicy
	}
	c.policy = p
	return c
}

// String renders the service for logs.
// Example: redis:6379/tcp(timeoutclient=30s) -> [10.0.0.9:6379]
func (s *Service) String() string {
	var opts []string
	if s.timeoutClient > 0 {
		opts = append(opts, "timeoutclient="+s.timeoutClient.String())
	}
	if s.timeoutServer > 0 {
		opts = append(opts, "timeoutserver="+s.timeoutServer.String())
	}
	if s.healthcheck {
		opts = append(opts, "healthcheck=true", "healthcheckurl="+s.healthcheckURL)
	}

	kind := s.protocol
	if s.application != DefaultApplication {
		kind = s.application
	}

	var suffix string
	if len(opts) > 0 {
		suffix = "(" + strings.Join(opts, ",") + ")"
	}

	servers := s.Servers()
	parts := make([]string, len(servers))
	for i, srv := range servers {
		parts[i] = srv.String()
	}

	return fmt.Sprintf("%s:%d/%s%s -> [%s]", s.name, s.port, kind, suffix, strings.Join(parts, ", "))
}

// ─────────────────────────────────────────────────────────────────
// Internal mutation, only ever applied to a fresh clone
// ─────────────────────────────────────────────────────────────────

func (s *Service) clone() *Service {
	c := *s
	c.servers = make(map[ServerKey]Server, len(s.servers))
	maps.Copy(c.servers, s.servers)
	c.slots = slices.Clone(s.slots)
	if c.policy == nil {
		c.policy = DefaultSlotPolicy
	}
	return &c
}

func (s *Service) add(srv Server) {
	key := srv.Key()
	if _, ok := s.servers[key]; ok {
		return
	}
	s.servers[key] = srv

	for i := range s.slots {
		if !s.slots[i].filled {
			s.slots[i] = slot{server: srv, filled: true}
			return
		}
	}

	pos := s.policy.Position(len(s.slots))
	if pos < 0 || pos > len(s.slots) {
		panic(&InvariantError{
			Service: s.name,
			Detail:  fmt.Sprintf("slot policy returned position %d for %d slots", pos, len(s.slots)),
		})
	}
	s.slots = slices.Insert(s.slots, pos, slot{server: srv, filled: true})
}

// release drops srv from the set and leaves its slot empty.
func (s *Service) release(srv Server) {
	key := srv.Key()
	delete(s.servers, key)

	for i := range s.slots {
		if s.slots[i].filled && s.slots[i].server.Key() == key {
			s.slots[i] = slot{}
			return
		}
	}

	panic(&InvariantError{
		Service: s.name,
		Detail:  fmt.Sprintf("server %s is a member but holds no slot", srv),
	})
}

func (s *Service) compact() {
	s.slots = slices.DeleteFunc(s.slots, func(sl slot) bool { return !sl.filled })
}

func (s *Service) verify() {
	if len(s.slots) != len(s.servers) {
		panic(&InvariantError{
			Service: s.name,
			Detail:  fmt.Sprintf("%d slots for %d servers", len(s.slots), len(s.servers)),
		})
	}

	seen := make(map[ServerKey]struct{}, len(s.slots))
	for i, sl := range s.slots {
		key := sl.server.Key()
		if !sl.filled {
			panic(&InvariantError{Service: s.name, Detail: fmt.Sprintf("slot %d is empty", i)})
		}
		if _, ok := s.servers[key]; !ok {
			panic(&InvariantError{Service: s.name, Detail: fmt.Sprintf("slot %d holds unknown server %s", i, sl.server)})
		}
		if _, dup := seen[key]; dup {
			panic(&InvariantError{Service: s.name, Detail: fmt.Sprintf("server %s holds two slots", sl.server)})
		}
		seen[key] = struct{}{}
	}
}
