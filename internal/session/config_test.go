package session

import (
	"errors"
	"testing"
	"time"

	apperrors "collabtext/internal/platform/errors"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_URL", "wss://collab.example.com/ws")
	t.Setenv("ROOM", "notes")
	t.Setenv("RECONNECT_MAX_BACKOFF", "5s")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ServerURL != "wss://collab.example.com/ws" || cfg.Room != "notes" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.MinBackoff != 100*time.Millisecond || cfg.MaxBackoff != 5*time.Second {
		t.Fatalf("backoff = %v..%v", cfg.MinBackoff, cfg.MaxBackoff)
	}
}

func TestLoadConfigRequiresRoom(t *testing.T) {
	t.Setenv("SERVER_URL", "ws://localhost:8081/ws")
	t.Setenv("ROOM", "")

	if _, err := LoadConfig(); !errors.Is(err, apperrors.ErrContractViolation) {
		t.Fatalf("load config: %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{ServerURL: "ws://localhost:8081/ws", Room: "doc"}
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "valid", mutate: func(*Config) {}, ok: true},
		{name: "http scheme", mutate: func(c *Config) { c.ServerURL = "http://localhost/ws" }},
		{name: "no host", mutate: func(c *Config) { c.ServerURL = "ws:///ws" }},
		{name: "bad url", mutate: func(c *Config) { c.ServerURL = "ws://%zz" }},
		{name: "no room", mutate: func(c *Config) { c.Room = "" }},
		{name: "negative backoff", mutate: func(c *Config) { c.MinBackoff = -time.Second }},
		{name: "inverted backoff", mutate: func(c *Config) {
			c.MinBackoff = time.Second
			c.MaxBackoff = time.Millisecond
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("validate: %v", err)
			}
			if !tt.ok && !errors.Is(err, apperrors.ErrContractViolation) {
				t.Fatalf("expected contract violation, got %v", err)
			}
		})
	}
}
