package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/riverbend/recoveryengine/internal/app/config"
	"github.com/riverbend/recoveryengine/internal/app/domain/merchant"
	"github.com/riverbend/recoveryengine/internal/app/domain/task"
	"github.com/riverbend/recoveryengine/internal/app/storage/memory"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:           config.Development,
		Addr:          ":0",
		PublicBaseURL: "http://localhost",
		SessionSecret: "test-session-secret",
	}
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestNew_DefaultsToMemoryStore(t *testing.T) {
	a, err := New(Options{Config: testConfig()})
	require.NoError(t, err)
	require.NotNil(t, a.Store)
}

func TestStartRunsWatchdogBeforeWorker(t *testing.T) {
	store := memory.New()
	a, err := New(Options{Config: testConfig(), Store: store})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, a.Stop(stopCtx))
	}()

	count, err := store.CountPendingOrRunningByType(ctx, merchant.SystemID, task.TypeReportUsage)
	require.NoError(t, err)
	require.Equal(t, 1, count, "watchdog must seed the report_usage chain on start")
}

func TestNew_RejectsBadJanitorSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.JanitorSchedule = "not a cron spec"
	_, err := New(Options{Config: cfg})
	require.Error(t, err)
}

func TestCipherFromConfig_EphemeralKeyInDevelopment(t *testing.T) {
	cipher, err := CipherFromConfig(testConfig(), nil)
	require.NoError(t, err)

	ct, err := cipher.Encrypt([]byte("secret token"))
	require.NoError(t, err)
	pt, err := cipher.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, []byte("secret token"), pt)
}

func TestCipherFromConfig_ProductionRequiresKey(t *testing.T) {
	cfg := testConfig()
	cfg.Env = config.Production
	_, err := CipherFromConfig(cfg, nil)
	require.Error(t, err)
}
