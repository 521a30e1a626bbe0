package overrides

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/MrSnakeDoc/lbwatch/internal/domain"
)

// Set is a validated collection of overrides, keyed by service name.
type Set struct {
	byName map[string]ServiceProps
}

// Compile validates config and returns the overrides it describes.
func Compile(config Config) (*Set, error) {
	set := &Set{byName: make(map[string]ServiceProps, len(config.Services))}

	var errs []error
	for _, name := range slices.Sorted(maps.Keys(config.Services)) {
		props := config.Services[name]
		if err := validate(props); err != nil {
			errs = append(errs, fmt.Errorf("service %q: %w", name, err))
			continue
		}
		set.byName[name] = props
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return set, nil
}

func validate(p ServiceProps) error {
	switch {
	case p.Weight != nil && *p.Weight < 0:
		return fmt.Errorf("weight must be >= 0, got %d", *p.Weight)
	case p.MaxConn != nil && *p.MaxConn < 0:
		return fmt.Errorf("maxconn must be >= 0, got %d", *p.MaxConn)
	case p.TimeoutClient < 0 || p.TimeoutServer < 0:
		return errors.New("timeouts must be >= 0")
	case p.HealthcheckURL != "" && !strings.HasPrefix(p.HealthcheckURL, "/"):
		return fmt.Errorf("healthcheckurl must start with /, got %q", p.HealthcheckURL)
	}
	return nil
}

// Len returns the number of services with overrides.
func (s *Set) Len() int { return len(s.byName) }

// Apply returns svc with its overrides applied, or svc itself when it has
// none. Server positions are preserved.
func (s *Set) Apply(svc *domain.Service) *domain.Service {
	props, ok := s.byName[svc.Name()]
	if !ok {
		return svc
	}

	if props.Application != "" {
		svc = svc.WithApplication(props.Application)
	}
	if props.Healthcheck != nil || props.HealthcheckURL != "" {
		enabled := svc.Healthcheck()
		if props.Healthcheck != nil {
			enabled = *props.Healthcheck
		}
		svc = svc.WithHealthcheck(enabled, props.HealthcheckURL)
	}
	if props.TimeoutClient > 0 || props.TimeoutServer > 0 {
		client, server := svc.TimeoutClient(), svc.TimeoutServer()
		if props.TimeoutClient > 0 {
			client = props.TimeoutClient
		}
		if props.TimeoutServer > 0 {
			server = props.TimeoutServer
		}
		svc = svc.WithTimeouts(client, server)
	}
	if props.Weight != nil || props.MaxConn != nil {
		svc = svc.MapServers(func(srv domain.Server) domain.Server {
			if props.Weight != nil {
				srv = srv.WithWeight(*props.Weight)
			}
			if props.MaxConn != nil {
				srv = srv.WithMaxConn(*props.MaxConn)
			}
			return srv
		})
	}

	return svc
}
