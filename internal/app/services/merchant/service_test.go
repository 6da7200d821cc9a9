package merchant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	merchantdomain "github.com/riverbend/recoveryengine/internal/app/domain/merchant"
	"github.com/riverbend/recoveryengine/internal/app/domain/task"
	"github.com/riverbend/recoveryengine/internal/app/services/pp"
	"github.com/riverbend/recoveryengine/internal/app/storage/memory"
)

type fakeOAuthClient struct {
	authorizeURL        string
	exchangeTokens      pp.OAuthTokens
	exchangeAccountID   string
	exchangeErr         error
	cancelErr           error
	deauthorizeErr      error
	cancelCalls         int
	deauthorizeCalls    int
}

func (f *fakeOAuthClient) AuthorizeURL(state string) string {
	return f.authorizeURL + "?state=" + state
}

func (f *fakeOAuthClient) ExchangeCode(ctx context.Context, code string) (pp.OAuthTokens, string, error) {
	if f.exchangeErr != nil {
		return pp.OAuthTokens{}, "", f.exchangeErr
	}
	return f.exchangeTokens, f.exchangeAccountID, nil
}

func (f *fakeOAuthClient) CancelSubscriptions(ctx context.Context, connectedAccountID string) error {
	f.cancelCalls++
	return f.cancelErr
}

func (f *fakeOAuthClient) Deauthorize(ctx context.Context, connectedAccountID string) error {
	f.deauthorizeCalls++
	return f.deauthorizeErr
}

var _ pp.OAuthClient = (*fakeOAuthClient)(nil)

func TestEnsureMerchant_AutoProvisionsOnFirstSight(t *testing.T) {
	store := memory.New()
	svc := New(store, nil, nil)

	m, err := svc.EnsureMerchant(context.Background(), "auth_1", "a@b.com")
	require.NoError(t, err)
	require.NotEmpty(t, m.ID)
	require.Equal(t, "FREE", m.PlanID)

	again, err := svc.EnsureMerchant(context.Background(), "auth_1", "a@b.com")
	require.NoError(t, err)
	require.Equal(t, m.ID, again.ID)
}

func TestBeginConnect_PersistsStateAndReturnsURL(t *testing.T) {
	store := memory.New()
	fake := &fakeOAuthClient{authorizeURL: "https://connect.pp.test/oauth/authorize"}
	svc := New(store, fake, nil)

	m, err := svc.EnsureMerchant(context.Background(), "auth_1", "a@b.com")
	require.NoError(t, err)

	url, err := svc.BeginConnect(context.Background(), m)
	require.NoError(t, err)
	require.Contains(t, url, "https://connect.pp.test/oauth/authorize?state=")

	stored, err := store.GetMerchant(context.Background(), m.ID)
	require.NoError(t, err)
	require.NotEmpty(t, stored.OAuthState)
}

func TestCompleteConnect_RejectsStateMismatch(t *testing.T) {
	store := memory.New()
	fake := &fakeOAuthClient{}
	svc := New(store, fake, nil)

	m, err := svc.EnsureMerchant(context.Background(), "auth_1", "a@b.com")
	require.NoError(t, err)
	m.OAuthState = "expected"

	_, err = svc.CompleteConnect(context.Background(), m, "wrong", "code")
	require.ErrorIs(t, err, ErrOAuthStateMismatch)
}

func TestCompleteConnect_PersistsTokensAndClearsState(t *testing.T) {
	store := memory.New()
	fake := &fakeOAuthClient{
		exchangeTokens:    pp.OAuthTokens{AccessToken: "at_1", RefreshToken: "rt_1"},
		exchangeAccountID: "acct_1",
	}
	svc := New(store, fake, nil)

	m, err := svc.EnsureMerchant(context.Background(), "auth_1", "a@b.com")
	require.NoError(t, err)

	url, err := svc.BeginConnect(context.Background(), m)
	require.NoError(t, err)
	require.NotEmpty(t, url)

	pending, err := store.GetMerchant(context.Background(), m.ID)
	require.NoError(t, err)

	updated, err := svc.CompleteConnect(context.Background(), pending, pending.OAuthState, "code_1")
	require.NoError(t, err)
	require.Equal(t, "acct_1", updated.ConnectedAccountID)
	require.Empty(t, updated.OAuthState)
	require.True(t, updated.Connected())
}

func TestDisconnect_WipesCredentialsAndDeletesTasks(t *testing.T) {
	store := memory.New()
	fake := &fakeOAuthClient{}
	svc := New(store, fake, nil)

	m, err := svc.EnsureMerchant(context.Background(), "auth_1", "a@b.com")
	require.NoError(t, err)
	m.ConnectedAccountID = "acct_1"
	m, err = store.UpdateMerchant(context.Background(), m)
	require.NoError(t, err)

	_, err = store.CreateTask(context.Background(), task.Task{MerchantID: m.ID, Type: task.TypeDunningRetry, Status: task.StatusPending})
	require.NoError(t, err)

	updated, err := svc.Disconnect(context.Background(), m)
	require.NoError(t, err)
	require.False(t, updated.Connected())
	require.Equal(t, 1, fake.cancelCalls)
	require.Equal(t, 1, fake.deauthorizeCalls)

	tasks, err := store.ListTasksByMerchant(context.Background(), m.ID, task.StatusPending, 10)
	require.NoError(t, err)
	require.Empty(t, tasks)
}

func TestUpdateSettings_RejectsInvalidBrandColor(t *testing.T) {
	store := memory.New()
	svc := New(store, nil, nil)

	m, err := svc.EnsureMerchant(context.Background(), "auth_1", "a@b.com")
	require.NoError(t, err)

	bad := "not-a-color"
	_, err = svc.UpdateSettings(context.Background(), m, merchantdomain.SettingsPatch{BrandColor: &bad})
	require.ErrorIs(t, err, ErrInvalidBrandColor)
}

func TestUpdateSettings_RejectsNonHTTPSLogo(t *testing.T) {
	store := memory.New()
	svc := New(store, nil, nil)

	m, err := svc.EnsureMerchant(context.Background(), "auth_1", "a@b.com")
	require.NoError(t, err)

	bad := "http://example.com/logo.png"
	_, err = svc.UpdateSettings(context.Background(), m, merchantdomain.SettingsPatch{LogoURL: &bad})
	require.ErrorIs(t, err, ErrInvalidLogoURL)
}

func TestUpdateSettings_AppliesWhitelistedFields(t *testing.T) {
	store := memory.New()
	svc := New(store, nil, nil)

	m, err := svc.EnsureMerchant(context.Background(), "auth_1", "a@b.com")
	require.NoError(t, err)

	fromName := "Acme Billing"
	color := "#112233"
	updated, err := svc.UpdateSettings(context.Background(), m, merchantdomain.SettingsPatch{FromName: &fromName, BrandColor: &color})
	require.NoError(t, err)
	require.Equal(t, "Acme Billing", updated.FromName)
	require.Equal(t, "#112233", updated.BrandColor)
}

func TestErase_AbortsWhenCancelSubscriptionsFails(t *testing.T) {
	store := memory.New()
	fake := &fakeOAuthClient{cancelErr: assert.AnError}
	svc := New(store, fake, nil)

	m, err := svc.EnsureMerchant(context.Background(), "auth_1", "a@b.com")
	require.NoError(t, err)
	m.ConnectedAccountID = "acct_1"
	m, err = store.UpdateMerchant(context.Background(), m)
	require.NoError(t, err)

	err = svc.Erase(context.Background(), m)
	require.Error(t, err)

	_, err = store.GetMerchant(context.Background(), m.ID)
	require.NoError(t, err)
}

func TestErase_DeletesEverythingOnSuccess(t *testing.T) {
	store := memory.New()
	svc := New(store, nil, nil)

	m, err := svc.EnsureMerchant(context.Background(), "auth_1", "a@b.com")
	require.NoError(t, err)

	err = svc.Erase(context.Background(), m)
	require.NoError(t, err)

	_, err = store.GetMerchant(context.Background(), m.ID)
	require.Error(t, err)
}
