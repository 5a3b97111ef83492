package api_gateway_config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	pg "github.com/NordCoder/Studymate/internal/repository/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSecret = "0123456789abcdef0123456789abcdef"

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "api-gateway.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV_FILE_PATH", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("AUTH_JWT_SECRET", validSecret)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTTL)
	assert.Equal(t, "studymate", cfg.Auth.Issuer)
	assert.Equal(t, StorePostgres, cfg.Session.Store)
	assert.Equal(t, "consume", cfg.Session.Rotation)
	assert.Equal(t, 12, cfg.Hasher.Cost)
	assert.Equal(t, 2*time.Second, cfg.DB.QueryTimeout)
	assert.Equal(t, validSecret, cfg.Auth.JWTSecret)
}

func TestLoad_FileAndEnv(t *testing.T) {
	t.Setenv("ENV_FILE_PATH", filepath.Join(t.TempDir(), "missing.env"))
	p := writeYAML(t, `
auth:
  jwt_secret: from-file-0123456789abcdef0123456789
  access_ttl: 5m
session:
  store: redis
  rotation: keep
redis:
  addr: cache:6379
`)
	t.Setenv("SESSION_ROTATION", "consume")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, StoreRedis, cfg.Session.Store)
	assert.Equal(t, "consume", cfg.Session.Rotation)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
}

func TestLoad_DotEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("AUTH_JWT_SECRET="+validSecret+"\n"), 0o600))
	t.Setenv("ENV_FILE_PATH", envFile)
	t.Setenv("AUTH_JWT_SECRET", "")
	require.NoError(t, os.Unsetenv("AUTH_JWT_SECRET"))
	t.Cleanup(func() { _ = os.Unsetenv("AUTH_JWT_SECRET") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, validSecret, cfg.Auth.JWTSecret)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			DB:      pg.Config{DSN: "postgres://localhost/studymate"},
			Auth:    Auth{JWTSecret: validSecret, AccessTTL: time.Minute, RefreshTTL: time.Hour},
			Hasher:  Hasher{Cost: 12},
			Session: Session{Store: StorePostgres, Rotation: "consume"},
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"memory needs no db", func(c *Config) { c.Session.Store = StoreMemory; c.DB.DSN = "" }, true},
		{"secret from arn", func(c *Config) { c.Auth.JWTSecret = ""; c.Auth.JWTSecretARN = "arn:x" }, true},
		{"no secret", func(c *Config) { c.Auth.JWTSecret = "" }, false},
		{"unknown store", func(c *Config) { c.Session.Store = "mongo" }, false},
		{"unknown rotation", func(c *Config) { c.Session.Rotation = "never" }, false},
		{"access outlives refresh", func(c *Config) { c.Auth.AccessTTL = 2 * time.Hour }, false},
		{"redis without addr", func(c *Config) { c.Session.Store = StoreRedis }, false},
		{"cost too low", func(c *Config) { c.Hasher.Cost = 2 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(&c)
			err := c.Validate()
			if tc.ok {
				require.NoError(t, err)
				return
			}
			var ce ErrConfig
			require.ErrorAs(t, err, &ce)
		})
	}
}
