// Package registrator turns the tree registrator maintains in the registry
// into a snapshot of services keyed by "<port>/<protocol>".
package registrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrSnakeDoc/lbwatch/internal/domain"
	"github.com/MrSnakeDoc/lbwatch/internal/logger"
	"github.com/MrSnakeDoc/lbwatch/internal/registry"
	"github.com/MrSnakeDoc/lbwatch/internal/resolver"
)

// SourcePrefix prefixes the provenance label of every parsed service.
const SourcePrefix = "registrator:"

var (
	ErrMalformedKey   = errors.New("malformed backend key")
	ErrMalformedValue = errors.New("malformed backend value")
)

// Snapshot maps "<port>/<protocol>" to the service registered under it.
type Snapshot map[string]*domain.Service

// Servers returns the total number of servers across all services.
func (s Snapshot) Servers() int {
	n := 0
	for _, svc := range s {
		n += svc.Len()
	}
	return n
}

// EntryError describes one registry entry that could not be parsed.
type EntryError struct {
	Dir   string // service directory key
	Key   string // backend key
	Value string // backend value
	Err   error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("service %s backend %s=%s: %v", e.Dir, e.Key, e.Value, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

// Parser builds snapshots from registry trees.
type Parser struct {
	source   string
	resolver resolver.Resolver
	logger   logger.Logger
}

// NewParser returns a parser labelling services with the registry address.
func NewParser(address string, res resolver.Resolver, log logger.Logger) *Parser {
	return &Parser{
		source:   SourcePrefix + address,
		resolver: res,
		logger:   log,
	}
}

// Source returns the provenance label given to parsed services.
func (p *Parser) Source() string { return p.source }

// Parse walks the service directories directly under tree.
//
// Every backend entry is parsed on its own: an entry with a malformed key
// or value, or whose hostname does not resolve, is logged, reported in the
// returned errors and skipped. Parse never fails as a whole.
func (p *Parser) Parse(ctx context.Context, tree *registry.Node) (Snapshot, []*EntryError) {
	snapshot := make(Snapshot)
	if tree == nil {
		return snapshot, nil
	}

	var errs []*EntryError
	for _, dir := range tree.Nodes {
		for _, leaf := range dir.Nodes {
			if err := p.parseEntry(ctx, snapshot, dir, leaf); err != nil {
				entryErr := &EntryError{Dir: dir.Key, Key: leaf.Key, Value: leaf.Value, Err: err}
				p.logger.Warn("failed to parse service backend",
					logger.String("service", dir.Key),
					logger.String("key", leaf.Key),
					logger.String("value", leaf.Value),
					logger.Error(err))
				errs = append(errs, entryErr)
			}
		}
	}

	return snapshot, errs
}

func (p *Parser) parseEntry(ctx context.Context, snapshot Snapshot, dir, leaf *registry.Node) error {
	port, protocol, err := parseKey(leaf.Name())
	if err != nil {
		return err
	}

	host, serverPort, err := parseValue(leaf.Value)
	if err != nil {
		return err
	}

	ip, err := p.resolver.LookupIPv4(ctx, host)
	if err != nil {
		return err
	}

	key := domain.ServiceKey(port, protocol)
	svc, ok := snapshot[key]
	if !ok {
		svc = domain.NewService(dir.Name(), p.source, port, protocol)
	}
	snapshot[key] = svc.AddServer(domain.NewServer(ip, serverPort, host))
	return nil
}

// parseKey reads "<container>:<ip>:<port>[:<protocol>]".
func parseKey(key string) (int, string, error) {
	parts := strings.Split(key, ":")
	if len(parts) < 3 {
		return 0, "", fmt.Errorf("%w: %q has %d fields, want at least 3", ErrMalformedKey, key, len(parts))
	}

	port, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, "", fmt.Errorf("%w: port %q: %w", ErrMalformedKey, parts[2], err)
	}

	protocol := domain.DefaultProtocol
	if len(parts) > 3 && parts[3] != "" {
		protocol = strings.ToLower(parts[3])
	}
	return port, protocol, nil
}

// parseValue reads "<hostname>:<port>".
func parseValue(value string) (string, string, error) {
	host, port, ok := strings.Cut(value, ":")
	if !ok || host == "" || port == "" {
		return "", "", fmt.Errorf("%w: %q, want <hostname>:<port>", ErrMalformedValue, value)
	}
	if i := strings.IndexByte(port, ':'); i >= 0 {
		port = port[:i]
	}
	return host, port, nil
}
