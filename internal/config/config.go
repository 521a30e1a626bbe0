package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Registries
	Registries         []string      // registry URLs (etcd://, http(s)://, etcd3://)
	RegistryPriority   int           // precedence of registrator sources (default: 5)
	FetchTimeout       time.Duration // bound on a full registry read (default: 10s)
	RetryInitial       time.Duration // first backoff after a failed cycle (default: 1s)
	RetryMax           time.Duration // backoff cap (default: 30s)
	RetryWarnThreshold int           // failures logged at warn before switching to error
	DNSCacheTTL        time.Duration // 0 = resolve on every read
	DNSTimeout         time.Duration // bound on a single hostname lookup
	EtcdDialTimeout    time.Duration // etcd v3 dial timeout
	OverridesFile      string        // optional YAML overrides, empty = disabled
	OverridesReload    time.Duration // interval to reload the overrides file
	PublishInterval    time.Duration // periodic re-publish to Redis
	TracingMode        string        // "none" | "stdout" | "otlp"
	OTLPEndpoint       string        // host:port of the OTLP gRPC collector
	RateLimitRPS       float64       // per client IP
	RateLimitBurst     int           // per client IP
	AllowedHosts       []string      // optional, restrict access to specific Host headers
	AllowedCIDRS       []string      // optional, restrict POST /reload to these networks
	TrustProxy         bool          // true => trust X-Forwarded-For headers
	ServiceName        string        // reported to tracing backends

	// Redis (optional, empty RedisAddr disables persistence)
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("LBW_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("LBW_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("LBW_LOG_LEVEL", "info"),
		PrettyLog: mustBool("LBW_PRETTY_LOG", true),

		// Registries
		Registries:         parseRegistries(requireEnvSlice("LBW_REGISTRIES")),
		RegistryPriority:   getenvInt("LBW_REGISTRY_PRIORITY", 5),
		FetchTimeout:       mustDuration("LBW_FETCH_TIMEOUT", 10*time.Second),
		RetryInitial:       mustDuration("LBW_RETRY_INITIAL", time.Second),
		RetryMax:           mustDuration("LBW_RETRY_MAX", 30*time.Second),
		RetryWarnThreshold: getenvInt("LBW_RETRY_WARN_THRESHOLD", 3),
		DNSCacheTTL:        mustDuration("LBW_DNS_CACHE_TTL", 0),
		DNSTimeout:         mustDuration("LBW_DNS_TIMEOUT", 2*time.Second),
		EtcdDialTimeout:    mustDuration("LBW_ETCD_DIAL_TIMEOUT", 5*time.Second),
		OverridesFile:      getenv("LBW_OVERRIDES_FILE", ""), // Optional, empty = overrides disabled
		OverridesReload:    mustDuration("LBW_OVERRIDES_RELOAD_INTERVAL", time.Minute),
		PublishInterval:    mustDuration("LBW_PUBLISH_INTERVAL", 30*time.Second),
		TracingMode:        mustOneOf("LBW_TRACING", "none", "none", "stdout", "otlp"),
		OTLPEndpoint:       getenv("LBW_OTLP_ENDPOINT", "localhost:4317"),
		RateLimitRPS:       getenvFloat("LBW_RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getenvInt("LBW_RATE_LIMIT_BURST", 20),
		ServiceName:        getenv("LBW_SERVICE_NAME", "lbwatch"),

		// Redis settings
		RedisAddr:             getenv("LBW_REDIS_ADDR", ""), // Optional, empty = persistence disabled
		RedisUser:             getenv("LBW_REDIS_USERNAME", "default"),
		RedisPasswordRequired: mustBool("LBW_REDIS_PASSWORD_REQUIRED", false),
		RedisPassword:         getenv("LBW_REDIS_PASSWORD", ""),
		RedisDB:               getenvInt("LBW_REDIS_DB", 0),
		RedisDT:               mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("REDIS_WARN_THRESHOLD", 3),

		// Access restrictions
		AllowedHosts: splitAndTrim(getenv("LBW_ALLOWED_HOSTS", "")),
		AllowedCIDRS: parseAllowedIPs(getenv("LBW_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("LBW_TRUST_PROXY", false),
	}

	// Validate Redis password configuration
	if cfg.RedisAddr != "" && cfg.RedisPasswordRequired && cfg.RedisPassword == "" {
		panic("❌ FATAL: LBW_REDIS_PASSWORD is required when LBW_REDIS_PASSWORD_REQUIRED=true")
	}
	if cfg.RetryMax < cfg.RetryInitial {
		panic(fmt.Sprintf("❌ FATAL: LBW_RETRY_MAX (%v) is lower than LBW_RETRY_INITIAL (%v)", cfg.RetryMax, cfg.RetryInitial))
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		cfgCopy.RedisPassword = "***REDACTED***"
		if cfg.RedisUser != "" {
			cfgCopy.RedisUser = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnvSlice(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return splitAndTrim(v)
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func mustOneOf(key, def string, allowed ...string) string {
	v := strings.ToLower(getenv(key, def))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	panic(fmt.Sprintf("❌ FATAL: %s=%q, want one of %s", key, v, strings.Join(allowed, ", ")))
}

// parseRegistries checks every registry URL has a supported scheme and a
// host, and is listed once.
func parseRegistries(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		// Watchers are identified by their URL.
		if _, dup := seen[r]; dup {
			panic(fmt.Sprintf("❌ FATAL: Registry URL %q is listed more than once", r))
		}
		seen[r] = struct{}{}

		// etcd3 URLs may list several host:port pairs, not a URL authority.
		if rest, ok := strings.CutPrefix(r, "etcd3://"); ok {
			if hosts, _, _ := strings.Cut(rest, "/"); strings.Trim(hosts, "; ") == "" {
				panic(fmt.Sprintf("❌ FATAL: Registry URL %q has no host", r))
			}
			out = append(out, r)
			continue
		}

		u, err := url.Parse(r)
		if err != nil {
			panic(fmt.Sprintf("❌ FATAL: Invalid registry URL %q: %v", r, err))
		}
		switch u.Scheme {
		case "etcd", "http", "https":
		default:
			panic(fmt.Sprintf("❌ FATAL: Unsupported registry scheme in %q (want etcd, etcd3, http or https)", r))
		}
		if u.Host == "" {
			panic(fmt.Sprintf("❌ FATAL: Registry URL %q has no host", r))
		}
		out = append(out, r)
	}
	return out
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
