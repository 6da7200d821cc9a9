// Package merchant implements the tenant boundary: lazy auto-provisioning
// of a merchant on first authenticated request, the PP OAuth
// connect/callback/disconnect flow, self-service settings updates, and
// GDPR erasure.
package merchant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	appcrypto "github.com/riverbend/recoveryengine/internal/app/crypto"
	merchantdomain "github.com/riverbend/recoveryengine/internal/app/domain/merchant"
	"github.com/riverbend/recoveryengine/internal/app/domain/task"
	"github.com/riverbend/recoveryengine/internal/app/domain/usage"
	"github.com/riverbend/recoveryengine/internal/app/services/pp"
	"github.com/riverbend/recoveryengine/internal/app/services/quota"
	"github.com/riverbend/recoveryengine/internal/app/storage"
	"github.com/riverbend/recoveryengine/pkg/logger"
)

var brandColorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// ErrInvalidBrandColor is returned when a settings patch's brand color does
// not match the required hex format.
var ErrInvalidBrandColor = errors.New("merchant: brand color must match ^#[0-9A-Fa-f]{6}$")

// ErrInvalidLogoURL is returned when a settings patch's logo URL is not https.
var ErrInvalidLogoURL = errors.New("merchant: logo url must start with https://")

// ErrOAuthStateMismatch is returned when a connect callback's state does
// not match the one persisted at authorize time.
var ErrOAuthStateMismatch = errors.New("merchant: oauth state mismatch")

// ErrErasureAborted is returned when Erase fails to cancel the merchant's
// PP subscriptions; the HTTP layer maps this to 502 specifically, since no
// row has been deleted and the erasure can be safely retried.
var ErrErasureAborted = errors.New("merchant: erasure aborted, cancel subscriptions failed")

// Service wires merchant CRUD, OAuth connect lifecycle and erasure.
type Service struct {
	store storage.Store
	oauth pp.OAuthClient
	log   *logger.Logger
}

// New builds a Service. oauth may be nil in environments that never connect
// to PP (e.g. pure ingestion tests); connect/disconnect calls then fail.
func New(store storage.Store, oauth pp.OAuthClient, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("merchant")
	}
	return &Service{store: store, oauth: oauth, log: log}
}

// EnsureMerchant looks up a merchant by the
// authentication provider's opaque user id, auto-provisioning a FREE-plan
// merchant on first sight. CreateMerchant's ON CONFLICT(auth_user_id)
// fallback makes two concurrent first requests for the same user resolve
// to the same row.
func (s *Service) EnsureMerchant(ctx context.Context, authUserID, email string) (merchantdomain.Merchant, error) {
	if authUserID == "" {
		return merchantdomain.Merchant{}, fmt.Errorf("merchant: auth user id required")
	}

	existing, err := s.store.GetMerchantByAuthUserID(ctx, authUserID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return merchantdomain.Merchant{}, fmt.Errorf("merchant: lookup by auth user id: %w", err)
	}

	created, err := s.store.CreateMerchant(ctx, merchantdomain.Merchant{
		AuthUserID: authUserID,
		Email:      email,
		Tier:       "standard",
		PlanID:     quota.FreePlanID,
	})
	if err != nil {
		return merchantdomain.Merchant{}, fmt.Errorf("merchant: auto-provision: %w", err)
	}
	return created, nil
}

// BeginConnect generates a fresh CSRF state, persists it on the merchant,
// and returns the provider's authorize URL (POST /pp/connect/authorize).
func (s *Service) BeginConnect(ctx context.Context, m merchantdomain.Merchant) (string, error) {
	if s.oauth == nil {
		return "", fmt.Errorf("merchant: pp oauth client not configured")
	}

	stateBytes, err := appcrypto.GenerateRandomBytes(32)
	if err != nil {
		return "", fmt.Errorf("merchant: generate oauth state: %w", err)
	}
	state := fmt.Sprintf("%x", stateBytes)

	m.OAuthState = state
	if _, err := s.store.UpdateMerchant(ctx, m); err != nil {
		return "", fmt.Errorf("merchant: persist oauth state: %w", err)
	}
	return s.oauth.AuthorizeURL(state), nil
}

// CompleteConnect implements GET /pp/connect/callback: validates state,
// exchanges the code for tokens, persists them (encrypted at rest by the
// store), clears the CSRF state and logs merchant_connected.
func (s *Service) CompleteConnect(ctx context.Context, m merchantdomain.Merchant, state, code string) (merchantdomain.Merchant, error) {
	if s.oauth == nil {
		return merchantdomain.Merchant{}, fmt.Errorf("merchant: pp oauth client not configured")
	}
	if m.OAuthState == "" || state != m.OAuthState {
		return merchantdomain.Merchant{}, ErrOAuthStateMismatch
	}

	tokens, connectedAccountID, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return merchantdomain.Merchant{}, fmt.Errorf("merchant: exchange oauth code: %w", err)
	}

	m.ConnectedAccountID = connectedAccountID
	m.AccessTokenEnc = []byte(tokens.AccessToken)
	m.RefreshTokenEnc = []byte(tokens.RefreshToken)
	m.OAuthState = ""

	updated, err := s.store.UpdateMerchant(ctx, m)
	if err != nil {
		return merchantdomain.Merchant{}, fmt.Errorf("merchant: persist oauth tokens: %w", err)
	}

	if _, err := s.store.CreateUsageLog(ctx, usage.Log{MerchantID: m.ID, MetricType: usage.MetricMerchantConnected, Amount: 1}); err != nil {
		s.log.WithError(err).WithField("merchant_id", m.ID).Warn("record merchant_connected log failed")
	}
	return updated, nil
}

// Disconnect implements POST /pp/disconnect: best-effort cancellation of
// tenant subscriptions and OAuth deauthorization, unconditional wipe of
// stored credentials, and deletion of pending/running tasks so no further
// dunning work fires against a disconnected account.
func (s *Service) Disconnect(ctx context.Context, m merchantdomain.Merchant) (merchantdomain.Merchant, error) {
	if m.ConnectedAccountID != "" && s.oauth != nil {
		if err := s.oauth.CancelSubscriptions(ctx, m.ConnectedAccountID); err != nil {
			s.log.WithError(err).WithField("merchant_id", m.ID).Warn("disconnect: cancel subscriptions failed, continuing")
		}
		if err := s.oauth.Deauthorize(ctx, m.ConnectedAccountID); err != nil {
			s.log.WithError(err).WithField("merchant_id", m.ID).Warn("disconnect: deauthorize failed, continuing")
		}
	}

	m.ConnectedAccountID = ""
	m.PlatformCustomerID = ""
	m.AccessTokenEnc = nil
	m.RefreshTokenEnc = nil
	m.OAuthState = ""

	updated, err := s.store.UpdateMerchant(ctx, m)
	if err != nil {
		return merchantdomain.Merchant{}, fmt.Errorf("merchant: wipe credentials: %w", err)
	}

	for _, status := range []task.Status{task.StatusPending, task.StatusRunning} {
		open, err := s.store.ListTasksByMerchant(ctx, m.ID, status, 0)
		if err != nil {
			return merchantdomain.Merchant{}, fmt.Errorf("merchant: list %s tasks: %w", status, err)
		}
		for _, t := range open {
			if err := s.store.DeleteTask(ctx, t.ID); err != nil {
				return merchantdomain.Merchant{}, fmt.Errorf("merchant: delete pending tasks: %w", err)
			}
		}
	}

	if _, err := s.store.CreateUsageLog(ctx, usage.Log{MerchantID: m.ID, MetricType: usage.MetricMerchantDisconnected, Amount: 1}); err != nil {
		s.log.WithError(err).WithField("merchant_id", m.ID).Warn("record merchant_disconnected log failed")
	}
	return updated, nil
}

// UpdateSettings applies the whitelisted self-service patch behind
// PATCH /merchants/:id, validating brand color and logo URL before
// persisting.
func (s *Service) UpdateSettings(ctx context.Context, m merchantdomain.Merchant, patch merchantdomain.SettingsPatch) (merchantdomain.Merchant, error) {
	if patch.BrandColor != nil && *patch.BrandColor != "" && !brandColorPattern.MatchString(*patch.BrandColor) {
		return merchantdomain.Merchant{}, ErrInvalidBrandColor
	}
	if patch.LogoURL != nil && *patch.LogoURL != "" && !strings.HasPrefix(*patch.LogoURL, "https://") {
		return merchantdomain.Merchant{}, ErrInvalidLogoURL
	}

	patch.Apply(&m)
	updated, err := s.store.UpdateMerchant(ctx, m)
	if err != nil {
		return merchantdomain.Merchant{}, fmt.Errorf("merchant: update settings: %w", err)
	}
	return updated, nil
}

// Erase implements the GDPR erasure endpoint (DELETE
// /admin/merchants/:id): subscription cancellation must succeed before any
// row is removed, since an erased merchant with a live PP subscription
// becomes unbillable zombie revenue with no tenant left to contact.
func (s *Service) Erase(ctx context.Context, m merchantdomain.Merchant) error {
	if m.ConnectedAccountID != "" && s.oauth != nil {
		if err := s.oauth.CancelSubscriptions(ctx, m.ConnectedAccountID); err != nil {
			return fmt.Errorf("%w: %v", ErrErasureAborted, err)
		}
		if err := s.oauth.Deauthorize(ctx, m.ConnectedAccountID); err != nil {
			s.log.WithError(err).WithField("merchant_id", m.ID).Warn("erasure: deauthorize failed, continuing")
		}
	}

	if err := s.store.DeleteTasksByMerchant(ctx, m.ID); err != nil {
		return fmt.Errorf("merchant: erasure: delete tasks: %w", err)
	}
	if err := s.store.DeleteUsageLogsByMerchant(ctx, m.ID); err != nil {
		return fmt.Errorf("merchant: erasure: delete usage logs: %w", err)
	}
	if err := s.store.DeleteDailyMetricsByMerchant(ctx, m.ID); err != nil {
		return fmt.Errorf("merchant: erasure: delete daily metrics: %w", err)
	}
	if err := s.store.DeleteMerchant(ctx, m.ID); err != nil {
		return fmt.Errorf("merchant: erasure: delete merchant: %w", err)
	}
	return nil
}
