package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nfowler/go-realm/internal/realm"
)

type Config struct {
	ServerAddr     string   `yaml:"server_addr"`
	DatabaseDSN    string   `yaml:"database_dsn"`
	Version        string   `yaml:"version"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Operator API credentials. The password is stored as a bcrypt hash,
	// never in the clear.
	AdminUser         string `yaml:"admin_user"`
	AdminPasswordHash string `yaml:"admin_password_hash"`

	// Durations are Go duration strings in the file ("5s", "2h").
	RawTransactionCooldown  string `yaml:"transaction_cooldown"`
	RawTransactionRetention string `yaml:"transaction_retention"`

	TransactionCooldown  time.Duration `yaml:"-"`
	TransactionRetention time.Duration `yaml:"-"`

	// SigningSecret is base64 in the file, decoded into SigningKey.
	SigningSecret string `yaml:"signing_secret"`
	SigningKey    []byte `yaml:"-"`
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// LoadFile reads a YAML config file and validates it.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewConfig builds a config from individual settings, typically flags.
func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	cfg := &Config{
		ServerAddr:     serverAddr,
		DatabaseDSN:    databaseDSN,
		SigningSecret:  base64Secret,
		AllowedOrigins: allowedOrigins,
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finalize() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}
	if c.SigningSecret == "" {
		return fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(c.SigningSecret)
	if err != nil {
		return fmt.Errorf("decode signing secret: %w", err)
	}
	c.SigningKey = signingKey

	if c.RawTransactionCooldown != "" {
		d, err := time.ParseDuration(c.RawTransactionCooldown)
		if err != nil {
			return fmt.Errorf("parse transaction cooldown: %w", err)
		}
		c.TransactionCooldown = d
	}
	if c.RawTransactionRetention != "" {
		d, err := time.ParseDuration(c.RawTransactionRetention)
		if err != nil {
			return fmt.Errorf("parse transaction retention: %w", err)
		}
		c.TransactionRetention = d
	}

	if c.Version == "" {
		c.Version = realm.ProtocolVersion
	}
	if c.TransactionCooldown <= 0 {
		c.TransactionCooldown = realm.DefaultTransactionCooldown
	}
	if c.TransactionRetention <= 0 {
		c.TransactionRetention = time.Hour
	}

	return nil
}
