package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Service is the process configuration of cmd/identityd.
type Service struct {
	ListenAddr string `yaml:"listen_addr" env:"IDENTITY_LISTEN_ADDR" env-default:":8080"`

	DBDriver string `yaml:"db_driver" env:"IDENTITY_DB_DRIVER" env-default:"postgres"`
	DBURL    string `yaml:"db_url" env:"IDENTITY_DB_URL"`

	RedisAddr     string `yaml:"redis_addr" env:"IDENTITY_REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"IDENTITY_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"IDENTITY_REDIS_DB" env-default:"0"`

	JWTSecret string        `yaml:"jwt_secret" env:"IDENTITY_JWT_SECRET"`
	Issuer    string        `yaml:"issuer" env:"IDENTITY_JWT_ISSUER" env-default:"goIdentity"`
	AccessTTL time.Duration `yaml:"access_ttl" env:"IDENTITY_ACCESS_TTL" env-default:"15m"`

	SweepSchedule string `yaml:"sweep_schedule" env:"IDENTITY_SWEEP_SCHEDULE" env-default:"@every 5m"`

	SentryDSN   string `yaml:"sentry_dsn" env:"IDENTITY_SENTRY_DSN"`
	Environment string `yaml:"environment" env:"IDENTITY_ENV" env-default:"development"`
	LogLevel    string `yaml:"log_level" env:"IDENTITY_LOG_LEVEL" env-default:"info"`

	// Tunables seeds the runtime Provider. Environment variables with the
	// IDENTITY_ prefix take precedence.
	Tunables map[string]string `yaml:"tunables"`
}

// LoadService reads path if it exists, then the environment, then validates.
func LoadService(path string) (*Service, error) {
	cfg := &Service{}
	if path != "" {
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return nil, err
			}
		}
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, err
	}
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields.
func (c *Service) Validate() error {
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return errors.New("config: db_driver must be postgres or sqlite")
	}
	if strings.TrimSpace(c.DBURL) == "" {
		return errors.New("config: db_url is required")
	}
	if len(c.JWTSecret) < 32 {
		return errors.New("config: jwt_secret must be at least 32 bytes")
	}
	if c.AccessTTL <= 0 {
		return errors.New("config: access_ttl must be > 0")
	}
	return nil
}

// Provider returns the runtime tunables: environment first, then the file.
func (c *Service) Provider() Provider {
	return Layered{NewEnv("IDENTITY_"), NewStatic(c.Tunables)}
}
