package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ServerJSON is the wire form of a Server.
type ServerJSON struct {
	IP       string `json:"ip" yaml:"ip"`
	Port     string `json:"port" yaml:"port"`
	Hostname string `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	Weight   *int   `json:"weight,omitempty" yaml:"weight,omitempty"` // nil = DefaultWeight
	MaxConn  int    `json:"maxconn,omitempty" yaml:"maxconn,omitempty"`
}

// ServiceJSON is the wire form of a Service. Servers are listed in slot
// order so a decoded service renders exactly like the encoded one.
type ServiceJSON struct {
	Name           string       `json:"name" yaml:"name"`
	Source         string       `json:"source" yaml:"source"`
	Port           int          `json:"port" yaml:"port"`
	Protocol       string       `json:"protocol" yaml:"protocol"`
	Application    string       `json:"application" yaml:"application"`
	Healthcheck    bool         `json:"healthcheck" yaml:"healthcheck"`
	HealthcheckURL string       `json:"healthcheckurl" yaml:"healthcheckurl"`
	TimeoutClient  string       `json:"timeoutclient,omitempty" yaml:"timeoutclient,omitempty"`
	TimeoutServer  string       `json:"timeoutserver,omitempty" yaml:"timeoutserver,omitempty"`
	Servers        []ServerJSON `json:"servers" yaml:"servers"`
}

// View returns the wire form of s.
func (s *Service) View() ServiceJSON {
	v := ServiceJSON{
		Name:           s.name,
		Source:         s.source,
		Port:           s.port,
		Protocol:       s.protocol,
		Application:    s.application,
		Healthcheck:    s.healthcheck,
		HealthcheckURL: s.healthcheckURL,
		Servers:        make([]ServerJSON, 0, len(s.slots)),
	}
	if s.timeoutClient > 0 {
		v.TimeoutClient = s.timeoutClient.String()
	}
	if s.timeoutServer > 0 {
		v.TimeoutServer = s.timeoutServer.String()
	}
	for _, sl := range s.slots {
		srv := sl.server
		weight := srv.weight
		v.Servers = append(v.Servers, ServerJSON{
			IP:       srv.ip,
			Port:     srv.port,
			Hostname: srv.hostname,
			Weight:   &weight,
			MaxConn:  srv.maxConn,
		})
	}
	return v
}

// FromView rebuilds a Service from its wire form, keeping the slot order.
func FromView(v ServiceJSON) (*Service, error) {
	svc := NewService(v.Name, v.Source, v.Port, v.Protocol)
	// The name and port were stored already split; a name that still holds
	// an "@<digits>" part is kept as is.
	svc.name = v.Name
	svc.port = v.Port

	if v.Application != "" {
		svc.application = v.Application
	}
	svc.healthcheck = v.Healthcheck
	if v.HealthcheckURL != "" {
		svc.healthcheckURL = v.HealthcheckURL
	}

	var err error
	if svc.timeoutClient, err = parseOptionalDuration(v.TimeoutClient); err != nil {
		return nil, fmt.Errorf("service %q timeoutclient: %w", v.Name, err)
	}
	if svc.timeoutServer, err = parseOptionalDuration(v.TimeoutServer); err != nil {
		return nil, fmt.Errorf("service %q timeoutserver: %w", v.Name, err)
	}

	for _, sj := range v.Servers {
		srv := NewServer(sj.IP, sj.Port, sj.Hostname).WithMaxConn(sj.MaxConn)
		if sj.Weight != nil {
			srv = srv.WithWeight(*sj.Weight)
		}
		if svc.Contains(srv) {
			return nil, fmt.Errorf("service %q: duplicate server %s", v.Name, srv)
		}
		svc.servers[srv.Key()] = srv
		svc.slots = append(svc.slots, slot{server: srv, filled: true})
	}

	return svc, nil
}

// MarshalJSON encodes the service in its wire form.
func (s *Service) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.View())
}

// UnmarshalJSON decodes a service from its wire form.
//
// It is the only method that writes into an existing *Service; use it on a
// fresh value only.
func (s *Service) UnmarshalJSON(data []byte) error {
	var v ServiceJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	svc, err := FromView(v)
	if err != nil {
		return err
	}
	*s = *svc
	return nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
