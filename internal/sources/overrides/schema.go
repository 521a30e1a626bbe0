package overrides

import "time"

// Config represents the top-level structure of the overrides file
//
//	services:
//	  web:
//	    application: http
//	    healthcheck: true
//	    healthcheckurl: /status
//	    timeoutclient: 30s
//	    weight: 100
type Config struct {
	Services map[string]ServiceProps `yaml:"services"`
}

// ServiceProps holds what may be overridden for one service name. Unset
// fields leave the discovered value alone.
type ServiceProps struct {
	Application    string        `yaml:"application,omitempty"`
	Healthcheck    *bool         `yaml:"healthcheck,omitempty"`
	HealthcheckURL string        `yaml:"healthcheckurl,omitempty"`
	TimeoutClient  time.Duration `yaml:"timeoutclient,omitempty"`
	TimeoutServer  time.Duration `yaml:"timeoutserver,omitempty"`
	Weight         *int          `yaml:"weight,omitempty"`
	MaxConn        *int          `yaml:"maxconn,omitempty"`
}
