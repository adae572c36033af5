package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setMinimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_PRIVATE_KEY", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
}

func TestLoadDefaults(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, BackendMemory, cfg.RefreshStoreBackend)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 720*time.Hour, cfg.Auth.AbsoluteLifetime)
	assert.False(t, cfg.NeedsRedis())
	assert.False(t, cfg.NeedsPostgres())

	engineCfg := cfg.EngineConfig()
	require.NoError(t, engineCfg.Validate())
	assert.Equal(t, "trading-api", engineCfg.JWT.Audience)
}

func TestLoadOverrides(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("REFRESH_STORE_BACKEND", "redis")
	t.Setenv("CREDENTIAL_STORE_BACKEND", "postgres")
	t.Setenv("REFRESH_TOKEN_TTL", "24h")
	t.Setenv("AUDIT_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SEED_USERS", "alice:u1:$argon2id$x;bob:u2:$2a$y")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.NeedsRedis())
	assert.True(t, cfg.NeedsPostgres())
	assert.Equal(t, 24*time.Hour, cfg.EngineConfig().Refresh.TTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Audit.KafkaBrokers)
	assert.Len(t, cfg.SeedUsers, 2)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown refresh backend", func(c *Config) { c.RefreshStoreBackend = "mongo" }},
		{"redis credential backend", func(c *Config) { c.CredentialStoreBackend = BackendRedis }},
		{"env keys without key", func(c *Config) { c.Keys.PrivateKeyB64 = "" }},
		{"file keys without path", func(c *Config) { c.Keys.Source = KeySourceFile }},
		{"s3 keys without bucket", func(c *Config) { c.Keys.Source = KeySourceS3 }},
		{"asynq with memory store", func(c *Config) { c.Sweeper.Mode = "asynq" }},
		{"unknown sweeper", func(c *Config) { c.Sweeper.Mode = "cron" }},
		{"limiter without attempts", func(c *Config) { c.Limiter.Enabled = true; c.Limiter.MaxAttempts = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setMinimalEnv(t)
			cfg, err := Load()
			require.NoError(t, err)
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestPrivateKeyDecoding(t *testing.T) {
	k := KeysConfig{PrivateKeyB64: "AAECAw"}
	b, err := k.PrivateKey()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3}, b)

	_, err = KeysConfig{PrivateKeyB64: "%%%"}.PrivateKey()
	assert.Error(t, err)
}
