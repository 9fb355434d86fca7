package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port             int    `env:"PORT" envDefault:"8080"`
	PairingStore     string `env:"PAIRING_STORE" envDefault:"postgres"`
	DatabaseURL      string `env:"DATABASE_URL"`
	RedisURL         string `env:"REDIS_URL,required"`
	TokenSecret      string `env:"TOKEN_SECRET,required"`
	TokenIssuer      string `env:"TOKEN_ISSUER" envDefault:"pairing-server"`
	TokenTTLSeconds  int    `env:"TOKEN_TTL_SECONDS" envDefault:"86400"`
	PairingTTLSecs   int    `env:"PAIRING_TTL_SECONDS" envDefault:"600"`
	ProviderTTLSecs  int    `env:"PROVIDER_TTL_SECONDS" envDefault:"300"`
	RetentionSeconds int    `env:"RETENTION_SECONDS" envDefault:"600"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`

	// Federated provider. The service runs without one; the provider
	// login endpoints report NOT_FOUND until issuer and client are set.
	OIDCProviderID   string `env:"OIDC_PROVIDER_ID" envDefault:"oidc"`
	OIDCIssuerURL    string `env:"OIDC_ISSUER_URL"`
	OIDCClientID     string `env:"OIDC_CLIENT_ID"`
	OIDCClientSecret string `env:"OIDC_CLIENT_SECRET"`
	OIDCRedirectURL  string `env:"OIDC_REDIRECT_URL"`
}

func (c *Config) PairingTTL() time.Duration {
	return time.Duration(c.PairingTTLSecs) * time.Second
}

func (c *Config) ProviderTTL() time.Duration {
	return time.Duration(c.ProviderTTLSecs) * time.Second
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionSeconds) * time.Second
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) ProviderConfigured() bool {
	return c.OIDCIssuerURL != "" && c.OIDCClientID != "" && c.OIDCClientSecret != ""
}

func (c *Config) Validate(isProduction bool) error {
	switch c.PairingStore {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when PAIRING_STORE=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("PAIRING_STORE must be postgres or memory, got %q", c.PairingStore)
	}

	if isProduction {
		if err := validateSecret("TOKEN_SECRET", c.TokenSecret); err != nil {
			return err
		}
		if c.PairingStore == "memory" {
			log.Warn().Msg("PAIRING_STORE=memory in production: pairing state is lost on restart")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.ProviderConfigured() && !strings.HasPrefix(c.OIDCRedirectURL, "https://") {
			log.Warn().Msg("OIDC_REDIRECT_URL is not https in production")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
