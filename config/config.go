package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every setting the notepad commands read. Values come from NOTEPAD_*
// environment variables and are then overridden by command-line flags.
type Config struct {
	// HostURL selects the host storage API. Empty means the local fallback.
	HostURL string `env:"NOTEPAD_HOST_URL"`
	DataDir string `env:"NOTEPAD_DATA_DIR" envDefault:".data"`
	Port    string `env:"NOTEPAD_PORT" envDefault:"8080"`

	Theme    string `env:"NOTEPAD_THEME" envDefault:"dark"`
	LogLevel string `env:"NOTEPAD_LOG_LEVEL" envDefault:"info"`
	IDScheme string `env:"NOTEPAD_ID_SCHEME" envDefault:"uuid"`

	MaxPendingWrites int           `env:"NOTEPAD_MAX_PENDING_WRITES" envDefault:"64"`
	FlushTimeout     time.Duration `env:"NOTEPAD_FLUSH_TIMEOUT" envDefault:"5s"`

	// Typing simulator
	EnableGen      bool `env:"NOTEPAD_GEN"`
	RequestsPerMin int  `env:"NOTEPAD_RPM" envDefault:"60"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load returns the configuration from the environment, validated.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks values that flags or the environment may have set to nonsense.
func (c Config) Validate() error {
	switch strings.ToLower(c.Theme) {
	case "dark", "light":
	default:
		return fmt.Errorf("invalid theme %q: use dark or light", c.Theme)
	}
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}
	if c.MaxPendingWrites < 0 {
		return fmt.Errorf("max pending writes must not be negative")
	}
	if c.RequestsPerMin < 0 {
		return fmt.Errorf("rpm must not be negative")
	}
	return nil
}

// ListenAddr returns the port in host:port form for net/http.
func (c Config) ListenAddr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}
