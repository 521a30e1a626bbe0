package domain

import (
	"slices"
	"testing"
)

func TestServerIdentity(t *testing.T) {
	a := NewServer("10.0.0.5", "6379", "redis-a")
	b := NewServer("10.0.0.5", "6379", "redis-b")

	if !a.Equal(b) {
		t.Error("servers with the same (ip, port, weight, maxconn) should be equal")
	}

	set := map[ServerKey]Server{a.Key(): a}
	set[b.Key()] = b
	if len(set) != 1 {
		t.Errorf("equal servers should collide in a set, got %d entries", len(set))
	}

	heavy := a.WithWeight(1000)
	if heavy.Equal(a) {
		t.Error("a different weight should make a distinct server")
	}
	set[heavy.Key()] = heavy
	if len(set) != 2 {
		t.Errorf("expected 2 entries, got %d", len(set))
	}

	capped := a.WithMaxConn(10)
	if capped.Equal(a) {
		t.Error("a different maxconn should make a distinct server")
	}
}

func TestServerSettersReturnCopies(t *testing.T) {
	a := NewServer("10.0.0.5", "80", "web")
	_ = a.WithWeight(10)
	_ = a.WithMaxConn(3)

	if a.Weight() != DefaultWeight {
		t.Errorf("Weight() = %d, want %d", a.Weight(), DefaultWeight)
	}
	if _, ok := a.MaxConn(); ok {
		t.Error("MaxConn should be unset")
	}

	if n, ok := a.WithMaxConn(3).MaxConn(); !ok || n != 3 {
		t.Errorf("MaxConn() = (%d, %v), want (3, true)", n, ok)
	}
	if _, ok := a.WithMaxConn(3).WithMaxConn(-1).MaxConn(); ok {
		t.Error("negative maxconn should clear the cap")
	}
}

func TestServerString(t *testing.T) {
	tests := []struct {
		name string
		srv  Server
		want string
	}{
		{"defaults", NewServer("10.0.0.1", "80", "h"), "10.0.0.1:80"},
		{"weight", NewServer("10.0.0.1", "80", "h").WithWeight(10), "10.0.0.1:80(weight=10)"},
		{"both", NewServer("10.0.0.1", "80", "h").WithWeight(10).WithMaxConn(5), "10.0.0.1:80(weight=10,maxconn=5)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.srv.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompareServers(t *testing.T) {
	servers := []Server{
		NewServer("10.0.0.2", "80", ""),
		NewServer("10.0.0.1", "81", ""),
		NewServer("10.0.0.1", "80", "").WithWeight(600),
		NewServer("10.0.0.1", "80", ""),
	}
	slices.SortFunc(servers, CompareServers)

	want := []string{"10.0.0.1:80", "10.0.0.1:80(weight=600)", "10.0.0.1:81", "10.0.0.2:80"}
	for i, s := range servers {
		if s.String() != want[i] {
			t.Errorf("position %d = %s, want %s", i, s, want[i])
		}
	}
}

func TestSplitPortSuffix(t *testing.T) {
	tests := []struct {
		raw      string
		wantName string
		wantPort int
		wantOK   bool
	}{
		{"cache@9090", "cache", 9090, true},
		{"x@0", "x", 0, true},
		{"cache", "cache", 0, false},
		{"@80", "@80", 0, false},
		{"cache@", "cache@", 0, false},
		{"cache@-1", "cache@-1", 0, false},
		{"cache@99999999999999999999999", "cache@99999999999999999999999", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			name, port, ok := SplitPortSuffix(tt.raw)
			if name != tt.wantName || port != tt.wantPort || ok != tt.wantOK {
				t.Errorf("SplitPortSuffix(%q) = (%q, %d, %v), want (%q, %d, %v)",
					tt.raw, name, port, ok, tt.wantName, tt.wantPort, tt.wantOK)
			}
		})
	}
}
