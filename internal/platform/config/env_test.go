package config

import (
	"strings"
	"testing"
	"time"
)

type envTestConfig struct {
	Addr     string        `env:"COLLABTEXT_TEST_ADDR" envDefault:":8081"`
	Debounce time.Duration `env:"COLLABTEXT_TEST_DEBOUNCE" envDefault:"1s"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != ":8081" {
		t.Fatalf("expected default addr :8081, got %q", cfg.Addr)
	}
	if cfg.Debounce != time.Second {
		t.Fatalf("expected default debounce 1s, got %v", cfg.Debounce)
	}
}

func TestParseEnvOverride(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("COLLABTEXT_TEST_DEBOUNCE", "250ms")

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Debounce != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %v", cfg.Debounce)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("COLLABTEXT_TEST_DEBOUNCE", "soon")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}
