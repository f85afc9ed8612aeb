package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SYSTEM_JWT_SECRET", "test-secret")
	t.Setenv("SYS_SECRET", "01234567890123456789012345678901")

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
			name:   "default log level is info",
			check:  func(c *Config) bool { return c.LogLevel == "info" },
			expect: "info",
		},
		{
			name:   "default log format is json",
			check:  func(c *Config) bool { return c.LogFormat == "json" },
			expect: "json",
		},
		{
			name:   "default metrics path",
			check:  func(c *Config) bool { return c.MetricsPath == "/metrics" },
			expect: "/metrics",
		},
		{
			name:   "default max active pools",
			check:  func(c *Config) bool { return c.MaxActivePools == 500 },
			expect: "500",
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

func TestLoadRequiresSecrets(t *testing.T) {
	if _, err := Load(); err == nil {
		t.Fatal("expected error when SYSTEM_JWT_SECRET and SYS_SECRET are unset")
	}
}

func TestLoadNormalisesServiceMode(t *testing.T) {
	t.Setenv("SYSTEM_JWT_SECRET", "test-secret")
	t.Setenv("SYS_SECRET", "01234567890123456789012345678901")
	t.Setenv("SERVICE_MODE", "WORKER")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Mode != "worker" {
		t.Errorf("expected mode worker, got %q", cfg.Mode)
	}
}

func TestLoadRejectsUnknownServiceMode(t *testing.T) {
	t.Setenv("SYSTEM_JWT_SECRET", "test-secret")
	t.Setenv("SYS_SECRET", "01234567890123456789012345678901")
	t.Setenv("SERVICE_MODE", "BATCH")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown SERVICE_MODE")
	}
}

func TestLoadComposesRedisURL(t *testing.T) {
	t.Setenv("SYSTEM_JWT_SECRET", "test-secret")
	t.Setenv("SYS_SECRET", "01234567890123456789012345678901")
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("REDIS_PORT", "6380")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.RedisURL != "redis://cache.internal:6380/0" {
		t.Errorf("unexpected redis URL %q", cfg.RedisURL)
	}

	t.Setenv("REDIS_URL", "redis://explicit:6379/2")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.RedisURL != "redis://explicit:6379/2" {
		t.Errorf("REDIS_URL should win over host/port, got %q", cfg.RedisURL)
	}
}
