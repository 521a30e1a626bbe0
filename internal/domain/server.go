package domain

import (
	"cmp"
	"fmt"
	"strings"
)

// DefaultWeight is the load-balancer weight given to every discovered server.
const DefaultWeight = 500

// Server is one backend endpoint of a Service.
//
// Server is a value type: the With* helpers return modified copies and
// never touch the receiver, so a Server can be shared freely between
// snapshots and goroutines.
type Server struct {
	ip       string
	port     string
	hostname string
	weight   int
	maxConn  int // 0 means no cap
}

// ServerKey is the identity tuple of a Server. Two servers with the same
// key are the same backend, whatever their hostname.
type ServerKey struct {
	IP      string
	Port    string
	Weight  int
	MaxConn int
}

// NewServer builds a server from a resolved address, the port it listens on
// and the hostname it was resolved from.
func NewServer(ip, port, hostname string) Server {
	return Server{
		ip:       ip,
		port:     port,
		hostname: hostname,
		weight:   DefaultWeight,
	}
}

func (s Server) IP() string       { return s.ip }
func (s Server) Port() string     { return s.port }
func (s Server) Hostname() string { return s.hostname }
func (s Server) Weight() int      { return s.weight }

// MaxConn returns the connection cap and whether one is set.
func (s Server) MaxConn() (int, bool) { return s.maxConn, s.maxConn > 0 }

// Key returns the identity tuple used for equality, set membership and
// ordering.
func (s Server) Key() ServerKey {
	return ServerKey{IP: s.ip, Port: s.port, Weight: s.weight, MaxConn: s.maxConn}
}

// Equal reports whether both servers have the same identity tuple.
func (s Server) Equal(other Server) bool { return s.Key() == other.Key() }

// WithWeight returns a copy of s carrying the given weight.
func (s Server) WithWeight(weight int) Server {
	s.weight = weight
	return s
}

// WithMaxConn returns a copy of s capped at maxConn connections.
// A value <= 0 removes the cap.
func (s Server) WithMaxConn(maxConn int) Server {
	if maxConn < 0 {
		maxConn = 0
	}
	s.maxConn = maxConn
	return s
}

// String renders "ip:port", followed by the non-default attributes.
// Example: 10.0.0.9:6379(weight=100,maxconn=20)
func (s Server) String() string {
	var extra []string
	if s.weight != DefaultWeight {
		extra = append(extra, fmt.Sprintf("weight=%d", s.weight))
	}
	if s.maxConn > 0 {
		extra = append(extra, fmt.Sprintf("maxconn=%d", s.maxConn))
	}

	result := s.ip + ":" + s.port
	if len(extra) > 0 {
		result += "(" + strings.Join(extra, ",") + ")"
	}
	return result
}

// CompareServers orders servers by (ip, port, weight, maxconn).
func CompareServers(a, b Server) int {
	if c := cmp.Compare(a.ip, b.ip); c != 0 {
		return c
	}
	if c := cmp.Compare(a.port, b.port); c != 0 {
		return c
	}
	if c := cmp.Compare(a.weight, b.weight); c != 0 {
		return c
	}
	return cmp.Compare(a.maxConn, b.maxConn)
}
