package redis

import (
	"fmt"
	"strings"
)

const (
	// KeyPrefixService is the prefix for service keys
	KeyPrefixService = "lbwatch:service:"
	// KeyPrefixDNS is the prefix for cached hostname resolutions
	KeyPrefixDNS = "lbwatch:dns:"
	// KeyAllServices is the key for the set of all service keys
	KeyAllServices = "lbwatch:services:all"
)

// ServiceKey returns the Redis key for a service by its "<port>/<protocol>" key
func ServiceKey(key string) string {
	return KeyPrefixService + key
}

// DNSKey returns the Redis key for a cached resolution of host
func DNSKey(host string) string {
	return KeyPrefixDNS + strings.ToLower(host)
}

// AllServicesKey returns the key for the set of all service keys
func AllServicesKey() string {
	return KeyAllServices
}

// ExtractServiceKey extracts the "<port>/<protocol>" key from a Redis key
func ExtractServiceKey(key string) (string, error) {
	if !strings.HasPrefix(key, KeyPrefixService) || len(key) == len(KeyPrefixService) {
		return "", fmt.Errorf("invalid service key: %s", key)
	}
	return key[len(KeyPrefixService):], nil
}
