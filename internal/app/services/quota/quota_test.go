package quota

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riverbend/recoveryengine/internal/app/domain/merchant"
	"github.com/riverbend/recoveryengine/internal/app/domain/task"
	"github.com/riverbend/recoveryengine/internal/app/domain/usage"
	"github.com/riverbend/recoveryengine/internal/app/storage/memory"
)

func TestCheckIngress_AllowsUnderLimit(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	m, err := store.CreateMerchant(ctx, merchant.Merchant{AuthUserID: "u1", PlanID: FreePlanID})
	require.NoError(t, err)

	require.NoError(t, New(store).CheckIngress(ctx, m))
}

func TestCheckIngress_RejectsOverMonthlyLimit(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	m, err := store.CreateMerchant(ctx, merchant.Merchant{AuthUserID: "u1", PlanID: FreePlanID})
	require.NoError(t, err)

	plan := PlanFor(m.PlanID)
	for i := int64(0); i < plan.MonthlyLimit; i++ {
		_, err := store.CreateUsageLog(ctx, usage.Log{MerchantID: m.ID, MetricType: usage.MetricDunningEmailSent, Amount: 1})
		require.NoError(t, err)
	}

	err = New(store).CheckIngress(ctx, m)
	require.ErrorIs(t, err, ErrMonthlyLimitExceeded)
}

func TestCheckIngress_RejectsOverQueueLimit(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	m, err := store.CreateMerchant(ctx, merchant.Merchant{AuthUserID: "u1", PlanID: FreePlanID})
	require.NoError(t, err)

	plan := PlanFor(m.PlanID)
	for i := int64(0); i < plan.QueueLimit; i++ {
		_, err := store.CreateTask(ctx, task.Task{MerchantID: m.ID, Type: task.TypeDunningRetry, Payload: []byte(`{"invoiceId":"in_1"}`)})
		require.NoError(t, err)
	}

	err = New(store).CheckIngress(ctx, m)
	require.ErrorIs(t, err, ErrQueueLimitExceeded)
}

func TestCheckMonthly_UnknownPlanFallsBackToFree(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	m, err := store.CreateMerchant(ctx, merchant.Merchant{AuthUserID: "u1", PlanID: "not-a-real-plan"})
	require.NoError(t, err)

	require.NoError(t, New(store).CheckMonthly(ctx, m))
}
