package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		original, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, original)
			}
		})
	}
}

func TestLoad_DefaultsToDevelopment(t *testing.T) {
	clearEnv(t, "APP_ENV", "DATABASE_URL", "ADDR")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, Development, cfg.Env)
	require.Equal(t, ":8080", cfg.Addr)
}

func TestLoad_RejectsInvalidEnv(t *testing.T) {
	clearEnv(t, "APP_ENV")
	os.Setenv("APP_ENV", "bogus")
	t.Cleanup(func() { os.Unsetenv("APP_ENV") })

	_, err := Load()
	require.Error(t, err)
}

func TestValidate_ProductionRequiresDatabaseURL(t *testing.T) {
	cfg := &Config{Env: Production}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidate_DevelopmentToleratesMissingDatabaseURL(t *testing.T) {
	cfg := &Config{Env: Development}
	require.NoError(t, cfg.Validate())
}

func TestValidate_ProductionRequiresSecrets(t *testing.T) {
	cfg := &Config{Env: Production, DatabaseURL: "postgres://x"}
	err := cfg.Validate()
	require.Error(t, err)

	cfg.EncryptionKey = "k"
	cfg.PPWebhookSecret = "s"
	cfg.AuthJWTSecret = "j"
	cfg.AdminKey = "a"
	cfg.WorkerSecret = "w"
	require.NoError(t, cfg.Validate())
}

func TestValidate_DevelopmentToleratesMissingSecrets(t *testing.T) {
	cfg := &Config{Env: Development, DatabaseURL: "postgres://x"}
	require.NoError(t, cfg.Validate())
}
