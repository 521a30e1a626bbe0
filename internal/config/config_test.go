package config

import (
	"os"
	"testing"
	"time"
)

func TestRequireEnvSlice(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		value     string
		expected  []string
		wantPanic bool
	}{
		{
			name:      "single value",
			key:       "TEST_SLICE",
			value:     "value1",
			expected:  []string{"value1"},
			wantPanic: false,
		},
		{
			name:      "multiple values",
			key:       "TEST_SLICE_MULTI",
			value:     "value1, value2, value3",
			expected:  []string{"value1", "value2", "value3"},
			wantPanic: false,
		},
		{
			name:      "missing variable",
			key:       "TEST_SLICE_MISSING",
			value:     "",
			wantPanic: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				if err := os.Setenv(tt.key, tt.value); err != nil {
					t.Fatalf("failed to set env var: %v", err)
				}
				defer func() {
					if err := os.Unsetenv(tt.key); err != nil {
						t.Errorf("failed to unset env var: %v", err)
					}
				}()
			}

			if tt.wantPanic {
				defer func() {
					if r := recover(); r == nil {
						t.Errorf("requireEnvSlice() should have panicked")
					}
				}()
			}

			result := requireEnvSlice(tt.key)
			if !tt.wantPanic {
				if len(result) != len(tt.expected) {
					t.Errorf("requireEnvSlice() length = %v, want %v", len(result), len(tt.expected))
				}
				for i := range result {
					if result[i] != tt.expected[i] {
						t.Errorf("requireEnvSlice()[%d] = %v, want %v", i, result[i], tt.expected[i])
					}
				}
			}
		})
	}
}

func TestMustDuration(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      time.Duration
		expected time.Duration
	}{
		{
			name:     "valid duration",
			key:      "TEST_DURATION",
			value:    "5s",
			def:      1 * time.Second,
			expected: 5 * time.Second,
		},
		{
			name:     "invalid duration uses default",
			key:      "TEST_DURATION_INVALID",
			value:    "invalid",
			def:      10 * time.Second,
			expected: 10 * time.Second,
		},
		{
			name:     "missing variable uses default",
			key:      "TEST_DURATION_MISSING",
			value:    "",
			def:      15 * time.Second,
			expected: 15 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				if err := os.Setenv(tt.key, tt.value); err != nil {
					t.Fatalf("failed to set env var: %v", err)
				}
				defer func() {
					if err := os.Unsetenv(tt.key); err != nil {
						t.Errorf("failed to unset env var: %v", err)
					}
				}()
			}

			result := mustDuration(tt.key, tt.def)
			if result != tt.expected {
				t.Errorf("mustDuration() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMustBool(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      bool
		expected bool
	}{
		{
			name:     "true value",
			key:      "TEST_BOOL",
			value:    "true",
			def:      false,
			expected: true,
		},
		{
			name:     "false value",
			key:      "TEST_BOOL_FALSE",
			value:    "false",
			def:      true,
			expected: false,
		},
		{
			name:     "invalid value uses default",
			key:      "TEST_BOOL_INVALID",
			value:    "invalid",
			def:      true,
			expected: true,
		},
		{
			name:     "missing variable uses default",
			key:      "TEST_BOOL_MISSING",
			value:    "",
			def:      false,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				if err := os.Setenv(tt.key, tt.value); err != nil {
					t.Fatalf("failed to set env var: %v", err)
				}
				defer func() {
					if err := os.Unsetenv(tt.key); err != nil {
						t.Errorf("failed to unset env var: %v", err)
					}
				}()
			}

			result := mustBool(tt.key, tt.def)
			if result != tt.expected {
				t.Errorf("mustBool() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestParseRegistries(t *testing.T) {
	tests := []struct {
		name      string
		raw       []string
		wantPanic bool
	}{
		{name: "etcd v2", raw: []string{"etcd://etcd:2379/services"}},
		{name: "http and etcd3", raw: []string{"http://10.0.0.1:2379/services", "etcd3://a:2379;b:2379/services"}},
		{name: "unsupported scheme", raw: []string{"consul://c:8500/services"}, wantPanic: true},
		{name: "missing host", raw: []string{"etcd:///services"}, wantPanic: true},
		{name: "etcd3 without endpoint", raw: []string{"etcd3:///services"}, wantPanic: true},
		{name: "same registry twice", raw: []string{"etcd://etcd:2379/services", "etcd://etcd:2379/services"}, wantPanic: true},
		{name: "same host other path", raw: []string{"etcd://etcd:2379/services", "etcd://etcd:2379/other"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.wantPanic {
				defer func() {
					if r := recover(); r == nil {
						t.Errorf("parseRegistries() should have panicked")
					}
				}()
			}

			result := parseRegistries(tt.raw)
			if !tt.wantPanic && len(result) != len(tt.raw) {
				t.Errorf("parseRegistries() = %v, want %v", result, tt.raw)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LBW_REGISTRIES", "etcd://etcd:2379/services, etcd://etcd-b:2379/services")

	cfg := Load()

	if len(cfg.Registries) != 2 {
		t.Fatalf("Registries = %v, want 2 entries", cfg.Registries)
	}
	if cfg.RegistryPriority != 5 {
		t.Errorf("RegistryPriority = %d, want 5", cfg.RegistryPriority)
	}
	if cfg.FetchTimeout != 10*time.Second || cfg.RetryInitial != time.Second || cfg.RetryMax != 30*time.Second {
		t.Errorf("unexpected timing defaults: %+v", cfg)
	}
	if cfg.RedisAddr != "" || cfg.OverridesFile != "" {
		t.Error("redis and overrides should be disabled by default")
	}
	if cfg.TracingMode != "none" {
		t.Errorf("TracingMode = %q, want none", cfg.TracingMode)
	}
	if cfg.RateLimitRPS != 10 || cfg.RateLimitBurst != 20 {
		t.Errorf("rate limit = %v/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LBW_REGISTRIES", "etcd3://a:2379;b:2379/services")
	t.Setenv("LBW_REGISTRY_PRIORITY", "7")
	t.Setenv("LBW_TRACING", "STDOUT")
	t.Setenv("LBW_ALLOWED_CIDRS", "10.0.0.0/8, 192.168.1.1")
	t.Setenv("LBW_RATE_LIMIT_RPS", "2.5")

	cfg := Load()

	if cfg.RegistryPriority != 7 {
		t.Errorf("RegistryPriority = %d, want 7", cfg.RegistryPriority)
	}
	if cfg.TracingMode != "stdout" {
		t.Errorf("TracingMode = %q, want stdout", cfg.TracingMode)
	}
	if len(cfg.AllowedCIDRS) != 2 {
		t.Errorf("AllowedCIDRS = %v", cfg.AllowedCIDRS)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Errorf("RateLimitRPS = %v, want 2.5", cfg.RateLimitRPS)
	}
}

func TestLoadPanics(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "registries missing", env: map[string]string{"LBW_REGISTRIES": ""}},
		{name: "bad tracing mode", env: map[string]string{"LBW_REGISTRIES": "etcd://e:2379/s", "LBW_TRACING": "jaeger"}},
		{name: "retry max below initial", env: map[string]string{
			"LBW_REGISTRIES": "etcd://e:2379/s", "LBW_RETRY_INITIAL": "10s", "LBW_RETRY_MAX": "1s",
		}},
		{name: "redis password required", env: map[string]string{
			"LBW_REGISTRIES": "etcd://e:2379/s", "LBW_REDIS_ADDR": "redis:6379", "LBW_REDIS_PASSWORD_REQUIRED": "true",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			defer func() {
				if r := recover(); r == nil {
					t.Errorf("Load() should have panicked")
				}
			}()
			Load()
		})
	}
}
