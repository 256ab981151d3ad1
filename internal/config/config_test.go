package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{
			name:   "default mode is api",
			check:  func(c *Config) bool { return c.Mode == "api" },
			expect: "api",
		},
		{
			name:   "default host is 0.0.0.0",
			check:  func(c *Config) bool { return c.Host == "0.0.0.0" },
			expect: "0.0.0.0",
		},
		{
			name:   "default port is 8080",
			check:  func(c *Config) bool { return c.Port == 8080 },
			expect: "8080",
		},
		{
			name:   "default IP mode is floating",
			check:  func(c *Config) bool { return c.IPMode == IPModeFloating },
			expect: "floating",
		},
		{
			name:   "default storage backend is local",
			check:  func(c *Config) bool { return c.StorageBackend == StorageLocal },
			expect: "local",
		},
		{
			name:   "default local storage prefix",
			check:  func(c *Config) bool { return c.NodeLocalStoragePrefix == "/var/lib/kuberdock/storage" },
			expect: "/var/lib/kuberdock/storage",
		},
		{
			name:   "default internal user",
			check:  func(c *Config) bool { return c.InternalUser == "kuberdock-internal" },
			expect: "kuberdock-internal",
		},
		{
			name:   "default registry",
			check:  func(c *Config) bool { return c.DefaultRegistry == "https://registry-1.docker.io" },
			expect: "https://registry-1.docker.io",
		},
		{
			name:   "default SSE keepalive",
			check:  func(c *Config) bool { return c.SSEKeepaliveInterval == 15*time.Second },
			expect: "15s",
		},
		{
			name:   "listen addr format",
			check:  func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" },
			expect: "0.0.0.0:8080",
		},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}

func TestLoadRejectsBadModes(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "unknown ip mode", key: "IP_MODE", value: "static"},
		{name: "unknown storage backend", key: "STORAGE_BACKEND", value: "nfs"},
		{name: "aws backend without region", key: "STORAGE_BACKEND", value: "aws"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%s: expected error, got nil", tt.key, tt.value)
			}
		})
	}
}
