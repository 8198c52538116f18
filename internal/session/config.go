package session

import (
	"net/url"
	"time"

	"collabtext/internal/platform/config"
	apperrors "collabtext/internal/platform/errors"
)

// Config addresses a room and names the local participant.
type Config struct {
	ServerURL   string        `env:"SERVER_URL" envDefault:"ws://localhost:8081/ws"`
	Room        string        `env:"ROOM"`
	DisplayName string        `env:"DISPLAY_NAME" envDefault:"anonymous"`
	MinBackoff  time.Duration `env:"RECONNECT_MIN_BACKOFF" envDefault:"100ms"`
	MaxBackoff  time.Duration `env:"RECONNECT_MAX_BACKOFF" envDefault:"2500ms"`
}

// LoadConfig reads a Config from the environment and validates it.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields Open depends on.
func (c Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeContractViolation, "server url", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return apperrors.Newf(apperrors.CodeContractViolation, "server url %q: scheme must be ws or wss", c.ServerURL)
	}
	if u.Host == "" {
		return apperrors.Newf(apperrors.CodeContractViolation, "server url %q: missing host", c.ServerURL)
	}
	if c.Room == "" {
		return apperrors.New(apperrors.CodeContractViolation, "room is required")
	}
	if c.MinBackoff < 0 || c.MaxBackoff < 0 {
		return apperrors.New(apperrors.CodeContractViolation, "reconnect backoff must not be negative")
	}
	if c.MaxBackoff > 0 && c.MaxBackoff < c.MinBackoff {
		return apperrors.New(apperrors.CodeContractViolation, "reconnect max backoff is below the minimum")
	}
	return nil
}
