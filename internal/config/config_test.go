package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfowler/go-realm/internal/realm"
)

func TestNewConfig(t *testing.T) {
	var (
		addr = "localhost:8080"
		dsn  = "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"
		key  = "c29tZV9zZWNyZXQ="
		orig = []string{"http://localhost:3000"}
	)

	tcases := []struct {
		name string
		addr string
		dsn  string
		key  string
		err  bool
	}{
		{name: "valid config", addr: addr, dsn: dsn, key: key, err: false},
		{name: "empty address", addr: "", dsn: dsn, key: key, err: true},
		{name: "empty DSN", addr: addr, dsn: "", key: key, err: true},
		{name: "empty signing key", addr: addr, dsn: dsn, key: "", err: true},
		{name: "invalid base64", addr: addr, dsn: dsn, key: "!!!", err: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewConfig(tc.addr, tc.dsn, tc.key, orig)
			if tc.err {
				assert.Error(t, err, "expected error for config: %s", tc.name)
				return
			}
			assert.NoError(t, err, "expected no error for config: %s", tc.name)

			assert.Equal(t, tc.addr, cfg.ServerAddr, "expected server address to match")
			assert.Equal(t, tc.dsn, cfg.DatabaseDSN, "expected database DSN to match")
			assert.Equal(t, orig, cfg.AllowedOrigins, "expected allowed origins to match")
			assert.NotEmpty(t, cfg.SigningKey, "expected signing key decoded")
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := NewConfig("localhost:8080", "dsn", "c29tZV9zZWNyZXQ=", nil)
	require.NoError(t, err, "expected valid config")

	assert.Equal(t, realm.ProtocolVersion, cfg.Version, "expected the protocol version defaulted")
	assert.Equal(t, realm.DefaultTransactionCooldown, cfg.TransactionCooldown, "expected the cooldown defaulted")
	assert.Equal(t, time.Hour, cfg.TransactionRetention, "expected the retention defaulted")
}

func TestLoadFile(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
server_addr: "0.0.0.0:9000"
database_dsn: "host=db user=realm dbname=realm sslmode=disable"
signing_secret: "c29tZV9zZWNyZXQ="
allowed_origins:
  - "https://realm.example.com"
admin_user: "operator"
transaction_cooldown: 5s
transaction_retention: 2h
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600), "failed to write test config")

		cfg, err := LoadFile(path)
		require.NoError(t, err, "expected file to load")

		assert.Equal(t, "0.0.0.0:9000", cfg.ServerAddr, "expected the address from the file")
		assert.Equal(t, []string{"https://realm.example.com"}, cfg.AllowedOrigins, "expected origins from the file")
		assert.Equal(t, "operator", cfg.AdminUser, "expected the admin user from the file")
		assert.Equal(t, 5*time.Second, cfg.TransactionCooldown, "expected the cooldown parsed")
		assert.Equal(t, 2*time.Hour, cfg.TransactionRetention, "expected the retention parsed")
		assert.Equal(t, []byte("some_secret"), cfg.SigningKey, "expected the secret decoded")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err, "expected a missing file to fail")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("{{not yaml"), 0o600), "failed to write test config")

		_, err := LoadFile(path)
		assert.Error(t, err, "expected bad yaml to fail")
	})

	t.Run("incomplete file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`server_addr: "localhost:8000"`), 0o600), "failed to write test config")

		_, err := LoadFile(path)
		assert.Error(t, err, "expected missing required fields to fail")
	})
}
