package config

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	return &cfg
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaultConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want defaults to validate", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.Heartbeat != 15*time.Second {
		t.Errorf("heartbeat = %v", cfg.Server.Heartbeat)
	}
	if !cfg.Memory.Enabled {
		t.Error("memory disabled by default")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"empty listen addr", func(c *Config) { c.Server.ListenAddr = "" }, ErrInvalidListenAddr},
		{"bad dsn scheme", func(c *Config) { c.PostgresDSN = "mysql://x" }, ErrInvalidPostgresDSN},
		{"reply threshold too high", func(c *Config) { c.Memory.ReplyThreshold = 1.5 }, ErrInvalidThreshold},
		{"dedup threshold zero", func(c *Config) { c.Memory.DedupThreshold = 0 }, ErrInvalidThreshold},
		{"negative debounce", func(c *Config) { c.Memory.Debounce = -time.Second }, ErrInvalidDebounce},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("XPERT_LISTEN_ADDR", ":9999")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/xpert")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.ListenAddr != ":9999" {
		t.Errorf("listen addr = %q, want env override", cfg.Server.ListenAddr)
	}
	if cfg.PostgresDSN != "postgres://u:p@db:5432/xpert" {
		t.Errorf("dsn = %q, want DATABASE_URL override", cfg.PostgresDSN)
	}
}
