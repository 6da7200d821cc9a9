package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/riverbend/recoveryengine/internal/app/domain/merchant"
	"github.com/riverbend/recoveryengine/internal/app/domain/task"
	"github.com/riverbend/recoveryengine/internal/app/domain/usage"
	"github.com/riverbend/recoveryengine/internal/app/services/email"
	"github.com/riverbend/recoveryengine/internal/app/services/pp"
	"github.com/riverbend/recoveryengine/internal/app/services/quota"
	"github.com/riverbend/recoveryengine/internal/app/storage/memory"
)

type fakeTenantClient struct {
	invoice pp.Invoice
	err     error
}

func (c *fakeTenantClient) GetInvoice(_ context.Context, _ string) (pp.Invoice, error) {
	return c.invoice, c.err
}

type fakeTenantFactory struct {
	client *fakeTenantClient
}

func (f *fakeTenantFactory) ForMerchant(_ context.Context, _ string) (pp.TenantClient, error) {
	return f.client, nil
}

// fakePlatform records meter-event uploads and serves a canned error per
// idempotency key.
type fakePlatform struct {
	mu     sync.Mutex
	calls  []string
	errors map[string]error
}

func (p *fakePlatform) PostMeterEvent(_ context.Context, _ string, idempotencyKey string, _ int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, idempotencyKey)
	if p.errors != nil {
		if err, ok := p.errors[idempotencyKey]; ok {
			return err
		}
	}
	return nil
}

func (p *fakePlatform) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeGateway struct {
	mu    sync.Mutex
	sends []string
	err   error
}

func (g *fakeGateway) Send(_ context.Context, to, _, _, _, _ string) (email.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return email.SendResult{}, g.err
	}
	g.sends = append(g.sends, to)
	return email.SendResult{Accepted: true, ID: "msg_1"}, nil
}

func (g *fakeGateway) sendCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sends)
}

type workerFixture struct {
	store    *memory.Store
	gateway  *fakeGateway
	platform *fakePlatform
	tenant   *fakeTenantClient
	worker   *Worker
}

func newFixture(t *testing.T) *workerFixture {
	t.Helper()
	store := memory.New()
	gateway := &fakeGateway{}
	platform := &fakePlatform{}
	tenant := &fakeTenantClient{}
	linker := email.NewTrackingLinker("https://app.example.com", []byte("secret"))
	sender := email.NewSender(store, gateway, linker)
	w := New(store, quota.New(store), &fakeTenantFactory{client: tenant}, platform, sender, nil)
	return &workerFixture{store: store, gateway: gateway, platform: platform, tenant: tenant, worker: w}
}

func (f *workerFixture) createMerchant(t *testing.T) merchant.Merchant {
	t.Helper()
	m, err := f.store.CreateMerchant(context.Background(), merchant.Merchant{
		Email:              "owner@example.com",
		PlanID:             quota.FreePlanID,
		ConnectedAccountID: "acct_A",
		PlatformCustomerID: "cus_A",
		AccessTokenEnc:     []byte("tok"),
	})
	require.NoError(t, err)
	return m
}

func dunningPayload(t *testing.T, invoiceID string, attempt int) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(task.DunningRetryPayload{InvoiceID: invoiceID, AttemptCount: attempt})
	require.NoError(t, err)
	return raw
}

func countLogs(t *testing.T, f *workerFixture, merchantID, metricType string) int {
	t.Helper()
	logs, err := f.store.ListActivity(context.Background(), merchantID, 0)
	require.NoError(t, err)
	n := 0
	for _, l := range logs {
		if l.MetricType == metricType {
			n++
		}
	}
	return n
}

func TestDunningRetry_SendsEmailAndLogsUsage(t *testing.T) {
	f := newFixture(t)
	m := f.createMerchant(t)
	f.tenant.invoice = pp.Invoice{ID: "in_1", Status: pp.InvoiceStatusOpen, CustomerEmail: "cust@example.com", AmountDue: 2500}

	created, err := f.store.CreateTask(context.Background(), task.Task{
		MerchantID: m.ID, Type: task.TypeDunningRetry, Payload: dunningPayload(t, "in_1", 1),
	})
	require.NoError(t, err)

	f.worker.processTask(context.Background(), created)

	got, err := f.store.GetTask(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, got.Status)
	require.Equal(t, 1, f.gateway.sendCount())
	require.Equal(t, 1, countLogs(t, f, m.ID, usage.MetricDunningEmailSent))
}

func TestDunningRetry_PaidInvoiceIsANoop(t *testing.T) {
	f := newFixture(t)
	m := f.createMerchant(t)
	f.tenant.invoice = pp.Invoice{ID: "in_1", Status: pp.InvoiceStatusPaid, CustomerEmail: "cust@example.com"}

	created, err := f.store.CreateTask(context.Background(), task.Task{
		MerchantID: m.ID, Type: task.TypeDunningRetry, Payload: dunningPayload(t, "in_1", 1),
	})
	require.NoError(t, err)

	f.worker.processTask(context.Background(), created)

	got, err := f.store.GetTask(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, got.Status)
	require.Zero(t, f.gateway.sendCount())
	require.Zero(t, countLogs(t, f, m.ID, usage.MetricDunningEmailSent))
}

func TestDunningRetry_QuotaBreachFailsWithoutSending(t *testing.T) {
	f := newFixture(t)
	m := f.createMerchant(t)
	f.tenant.invoice = pp.Invoice{ID: "in_1", Status: pp.InvoiceStatusOpen, CustomerEmail: "cust@example.com"}

	limit := quota.PlanFor(m.PlanID).MonthlyLimit
	_, err := f.store.CreateUsageLog(context.Background(), usage.Log{
		MerchantID: m.ID, MetricType: usage.MetricDunningEmailSent, Amount: limit,
	})
	require.NoError(t, err)

	created, err := f.store.CreateTask(context.Background(), task.Task{
		MerchantID: m.ID, Type: task.TypeDunningRetry, Payload: dunningPayload(t, "in_1", 2),
	})
	require.NoError(t, err)

	f.worker.processTask(context.Background(), created)

	got, err := f.store.GetTask(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusFailed, got.Status)
	require.Zero(t, f.gateway.sendCount(), "no email may be sent past the quota")
	require.Equal(t, 1, countLogs(t, f, m.ID, usage.MetricQuotaExceeded))

	count, err := f.store.MonthlyDunningCount(context.Background(), m.ID)
	require.NoError(t, err)
	require.Equal(t, limit, count, "no extra dunning_email_sent log may be written")
}

func TestDunningRetry_SendFailureKeepsUsageLog(t *testing.T) {
	f := newFixture(t)
	m := f.createMerchant(t)
	f.tenant.invoice = pp.Invoice{ID: "in_1", Status: pp.InvoiceStatusOpen, CustomerEmail: "cust@example.com"}
	f.gateway.err = errors.New("gateway down")

	created, err := f.store.CreateTask(context.Background(), task.Task{
		MerchantID: m.ID, Type: task.TypeDunningRetry, Payload: dunningPayload(t, "in_1", 1),
	})
	require.NoError(t, err)

	f.worker.processTask(context.Background(), created)

	got, err := f.store.GetTask(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusFailed, got.Status)
	require.Equal(t, 1, countLogs(t, f, m.ID, usage.MetricDunningEmailSent),
		"the attempt still counts against quota when the send fails")
}

func TestReportUsage_PoisonPillIsMarkedReported(t *testing.T) {
	f := newFixture(t)
	m := f.createMerchant(t)

	first, err := f.store.CreateUsageLog(context.Background(), usage.Log{MerchantID: m.ID, MetricType: usage.MetricDunningEmailSent, Amount: 1})
	require.NoError(t, err)
	_, err = f.store.CreateUsageLog(context.Background(), usage.Log{MerchantID: m.ID, MetricType: usage.MetricDunningEmailSent, Amount: 1})
	require.NoError(t, err)

	f.platform.errors = map[string]error{
		"usage_log_" + strconv.FormatInt(first.ID, 10): &pp.ErrPermanent{Code: "400", Err: errors.New("bad request")},
	}

	created, err := f.store.CreateTask(context.Background(), task.Task{MerchantID: merchant.SystemID, Type: task.TypeReportUsage})
	require.NoError(t, err)
	f.worker.processTask(context.Background(), created)

	unreported, err := f.store.UnreportedUsageLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, unreported, "both the poison pill and the success must be marked reported")
}

func TestReportUsage_TransientErrorLeavesLogUnreported(t *testing.T) {
	f := newFixture(t)
	m := f.createMerchant(t)

	l, err := f.store.CreateUsageLog(context.Background(), usage.Log{MerchantID: m.ID, MetricType: usage.MetricDunningEmailSent, Amount: 1})
	require.NoError(t, err)

	f.platform.errors = map[string]error{
		"usage_log_" + strconv.FormatInt(l.ID, 10): &pp.ErrTransient{Err: errors.New("rate limited")},
	}

	created, err := f.store.CreateTask(context.Background(), task.Task{MerchantID: merchant.SystemID, Type: task.TypeReportUsage})
	require.NoError(t, err)
	f.worker.processTask(context.Background(), created)

	unreported, err := f.store.UnreportedUsageLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, unreported, 1, "transient failures stay queued for the next cycle")
}

func TestReportUsage_IdempotencyReplayCountsAsReported(t *testing.T) {
	f := newFixture(t)
	m := f.createMerchant(t)

	l, err := f.store.CreateUsageLog(context.Background(), usage.Log{MerchantID: m.ID, MetricType: usage.MetricDunningEmailSent, Amount: 1})
	require.NoError(t, err)

	f.platform.errors = map[string]error{
		"usage_log_" + strconv.FormatInt(l.ID, 10): pp.ErrIdempotencyKeyInUse,
	}

	created, err := f.store.CreateTask(context.Background(), task.Task{MerchantID: merchant.SystemID, Type: task.TypeReportUsage})
	require.NoError(t, err)
	f.worker.processTask(context.Background(), created)

	unreported, err := f.store.UnreportedUsageLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, unreported)
}

func TestReportUsage_OverQuotaLogsSkipThePlatformCall(t *testing.T) {
	f := newFixture(t)
	m := f.createMerchant(t)

	limit := quota.PlanFor(m.PlanID).MonthlyLimit
	_, err := f.store.CreateUsageLog(context.Background(), usage.Log{
		MerchantID: m.ID, MetricType: usage.MetricDunningEmailSent, Amount: limit + 1,
	})
	require.NoError(t, err)

	created, err := f.store.CreateTask(context.Background(), task.Task{MerchantID: merchant.SystemID, Type: task.TypeReportUsage})
	require.NoError(t, err)
	f.worker.processTask(context.Background(), created)

	require.Zero(t, f.platform.callCount(), "over-quota rows are marked reported without calling PP")
	unreported, err := f.store.UnreportedUsageLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, unreported)
}

func TestReportUsage_AlwaysEnqueuesSuccessor(t *testing.T) {
	f := newFixture(t)

	created, err := f.store.CreateTask(context.Background(), task.Task{MerchantID: merchant.SystemID, Type: task.TypeReportUsage})
	require.NoError(t, err)
	claimed, ok, err := f.store.ClaimNextTask(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, created.ID, claimed.ID)

	f.worker.processTask(context.Background(), claimed)

	count, err := f.store.CountPendingOrRunningByType(context.Background(), merchant.SystemID, task.TypeReportUsage)
	require.NoError(t, err)
	require.Equal(t, 1, count, "a successor report_usage task must exist after every run")
}

func TestWeeklyDigest_EnqueuesSuccessorEvenWhenMerchantIsGone(t *testing.T) {
	f := newFixture(t)

	created, err := f.store.CreateTask(context.Background(), task.Task{MerchantID: "missing", Type: task.TypeSendWeeklyDigest})
	require.NoError(t, err)
	f.worker.processTask(context.Background(), created)

	got, err := f.store.GetTask(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusFailed, got.Status)

	count, err := f.store.CountPendingOrRunningByType(context.Background(), "missing", task.TypeSendWeeklyDigest)
	require.NoError(t, err)
	require.Equal(t, 1, count, "the digest chain must survive a failed run")
}

func TestWeeklyDigest_SendsToSupportAddress(t *testing.T) {
	f := newFixture(t)
	m, err := f.store.CreateMerchant(context.Background(), merchant.Merchant{SupportEmail: "ops@example.com", PlanID: quota.FreePlanID})
	require.NoError(t, err)

	created, err := f.store.CreateTask(context.Background(), task.Task{MerchantID: m.ID, Type: task.TypeSendWeeklyDigest})
	require.NoError(t, err)
	f.worker.processTask(context.Background(), created)

	got, err := f.store.GetTask(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, got.Status)
	require.Equal(t, 1, f.gateway.sendCount())
}

func TestDispatch_UnknownTypeFails(t *testing.T) {
	f := newFixture(t)
	created, err := f.store.CreateTask(context.Background(), task.Task{MerchantID: "m", Type: task.Type("bogus")})
	require.NoError(t, err)

	f.worker.processTask(context.Background(), created)

	got, err := f.store.GetTask(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusFailed, got.Status)
}

func TestClaimNextTask_AtMostOneClaimant(t *testing.T) {
	store := memory.New()
	_, err := store.CreateTask(context.Background(), task.Task{
		MerchantID: "m", Type: task.TypeDunningRetry, RunAt: time.Now().Add(-time.Second),
	})
	require.NoError(t, err)

	const claimants = 16
	var wg sync.WaitGroup
	results := make(chan bool, claimants)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.ClaimNextTask(context.Background())
			if err != nil {
				t.Errorf("claim: %v", err)
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	claims := 0
	for ok := range results {
		if ok {
			claims++
		}
	}
	require.Equal(t, 1, claims, "exactly one concurrent claimant may win")
}

func TestWorker_StartStopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.worker.Start(context.Background()))
	require.NoError(t, f.worker.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.worker.Stop(ctx))
	require.NoError(t, f.worker.Stop(ctx))
}
