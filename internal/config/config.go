package config

import (
	"encoding/base64"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	ServerAddr  string `env:"STAFFROOM_ADDR" envDefault:"localhost:8000"`
	DatabaseDSN string `env:"STAFFROOM_DSN"`

	// ResourceURL is the base URL of the resource API where messages
	// and rooms live.
	ResourceURL string `env:"STAFFROOM_RESOURCE_URL"`
	// ServiceToken is the bearer token the relay presents to the
	// resource API when persisting messages.
	ServiceToken string `env:"STAFFROOM_SERVICE_TOKEN"`

	// IdentityURL is the base URL of the token service used to verify
	// bearer tokens. When empty, tokens are verified locally as HS256
	// JWTs signed with SigningKey.
	IdentityURL string `env:"STAFFROOM_IDENTITY_URL"`

	// SigningSecret is the base64-encoded HS256 key for local token
	// verification. Required when IdentityURL is unset.
	SigningSecret string `env:"STAFFROOM_SIGNING_KEY"`

	UploadDir string `env:"STAFFROOM_UPLOAD_DIR" envDefault:"uploads"`
	// BaseFileURL is the public URL prefix under which stored uploads
	// are served, e.g. "http://localhost:8000/files".
	BaseFileURL string `env:"STAFFROOM_FILE_URL"`

	AllowedOrigins []string `env:"STAFFROOM_ALLOWED_ORIGINS" envSeparator:","`

	SigningKey []byte `env:"-"`
}

// Load reads configuration from the environment, honoring a local
// .env file if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}
	if c.ResourceURL == "" {
		return fmt.Errorf("resource API URL cannot be empty")
	}

	if c.IdentityURL == "" {
		if c.SigningSecret == "" {
			return fmt.Errorf("signing secret is required when no identity service is configured")
		}

		key, err := base64.StdEncoding.DecodeString(c.SigningSecret)
		if err != nil {
			return fmt.Errorf("decode signing secret: %w", err)
		}
		c.SigningKey = key
	}

	if c.BaseFileURL == "" {
		c.BaseFileURL = "http://" + c.ServerAddr + "/files"
	}

	return nil
}
