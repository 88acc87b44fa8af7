package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chat-sync/internal/utils"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port     string `envconfig:"PORT" default:"3001"`
	Env      string `envconfig:"ENV" default:"dev"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// memory, pebble or postgres
	StoreBackend string `envconfig:"STORE_BACKEND" default:"memory"`
	PebbleDir    string `envconfig:"PEBBLE_DIR" default:"data/realtime"`

	DatabaseURL      string `envconfig:"DATABASE_URL"`
	PostgresUser     string `envconfig:"POSTGRES_USER" default:"postgres"`
	PostgresPassword string `envconfig:"POSTGRES_PASSWORD" default:"postgres"`
	PostgresHost     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	PostgresPort     string `envconfig:"POSTGRES_PORT" default:"5432"`
	PostgresDB       string `envconfig:"POSTGRES_DB" default:"chatdb"`

	JWTSecret string        `envconfig:"JWT_SECRET"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"72h"`

	StoreOpTimeout     time.Duration   `envconfig:"STORE_OP_TIMEOUT" default:"10s"`
	SweepInterval      time.Duration   `envconfig:"SWEEP_INTERVAL" default:"3s"`
	WriteRetries       uint64          `envconfig:"WRITE_RETRIES" default:"3"`
	EphemeralDurations []time.Duration `envconfig:"EPHEMERAL_DURATIONS" default:"0s,10s,30s,60s"`

	AllowOrigins string `envconfig:"CORS_ALLOW_ORIGINS" default:"*"`
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	utils.LoadEnv()

	c := &Config{}
	if err := envconfig.Process("", c); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	if c.JWTSecret == "" {
		slog.Warn("JWT_SECRET not set, using insecure development secret")
		c.JWTSecret = "secret"
	}
	return c, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case "memory", "pebble", "postgres":
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.StoreOpTimeout <= 0 {
		return errors.New("config: STORE_OP_TIMEOUT must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("config: SWEEP_INTERVAL must be positive")
	}
	for _, d := range c.EphemeralDurations {
		if d < 0 {
			return fmt.Errorf("config: negative ephemeral duration %s", d)
		}
	}
	return nil
}

// PostgresURL is DATABASE_URL, or a URL assembled from the POSTGRES_* parts.
func (c *Config) PostgresURL() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return "postgres://" + c.PostgresUser + ":" + c.PostgresPassword + "@" +
		c.PostgresHost + ":" + c.PostgresPort + "/" + c.PostgresDB + "?sslmode=disable"
}
