package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appcrypto "github.com/riverbend/recoveryengine/internal/app/crypto"
	"github.com/riverbend/recoveryengine/internal/app/domain/merchant"
	"github.com/riverbend/recoveryengine/internal/app/domain/usage"
	"github.com/riverbend/recoveryengine/internal/platform/database"
	"github.com/riverbend/recoveryengine/internal/platform/migrations"
)

func sqlErrNoRows() error { return sql.ErrNoRows }

func fixedTime() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}

func merchantFixture() merchant.Merchant {
	return merchant.Merchant{
		AuthUserID: "auth_" + randomSuffix(),
		Email:      "merchant@example.com",
		Tier:       "free",
	}
}

func usageLogFixture(merchantID string) usage.Log {
	return usage.Log{
		MerchantID: merchantID,
		MetricType: usage.MetricDunningEmailSent,
		Amount:     1,
	}
}

var fixtureCounter int

// randomSuffix keeps merchantFixture's AuthUserID unique across calls within
// a single test process without pulling in math/rand for a throwaway value.
func randomSuffix() string {
	fixtureCounter++
	return time.Now().UTC().Format("150405") + "_" + string(rune('a'+fixtureCounter%26))
}

// newIntegrationStore opens a real Postgres connection from TEST_POSTGRES_DSN,
// applies migrations and truncates every table. Tests using it skip cleanly
// when the env var is unset, matching the corpus's gating convention for
// tests that need a live database.
func newIntegrationStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := database.Open(context.Background(), dsn)
	require.NoError(t, err)

	require.NoError(t, migrations.Apply(context.Background(), db))
	_, err = db.Exec(`TRUNCATE merchants, tasks, usage_logs, processed_events, daily_metrics, email_templates CASCADE`)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return New(db, appcrypto.NoopCipher{}), context.Background()
}
