// Package webhook implements the PP webhook ingress: signature
// verification, per-IP rate limiting, "first writer wins" event
// deduplication, and event routing into the task queue.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/riverbend/recoveryengine/internal/app/domain/merchant"
	"github.com/riverbend/recoveryengine/internal/app/domain/task"
	"github.com/riverbend/recoveryengine/internal/app/domain/usage"
	"github.com/riverbend/recoveryengine/internal/app/domain/webhookevent"
	"github.com/riverbend/recoveryengine/internal/app/metrics"
	"github.com/riverbend/recoveryengine/internal/app/storage"
	"github.com/riverbend/recoveryengine/pkg/logger"
)

// Outcome is the result reported back to the HTTP layer for logging and
// response shaping; none of these values are contractual to PP.
const (
	OutcomeIgnored  = "ignored"
	OutcomeEnqueued = "enqueued"
	OutcomeLogged   = "logged"
	OutcomeUpdated  = "updated"
)

// ErrRateLimited is returned when the calling IP has exceeded the ingress
// rate limit.
var ErrRateLimited = errors.New("webhook: rate limit exceeded")

// priceFree is the subscription_plan_id recorded when a platform-side
// subscription event (one with no account) is neither active nor trialing,
// or carries no price id.
const priceFree = "price_free"

// Service processes inbound PP webhook deliveries.
type Service struct {
	store   storage.Store
	secret  []byte
	limiter *RateLimiter
	log     *logger.Logger
}

// New builds a Service. log may be nil, in which case a default component
// logger is created.
func New(store storage.Store, secret string, limiter *RateLimiter, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("webhook")
	}
	return &Service{store: store, secret: []byte(secret), limiter: limiter, log: log}
}

// HandleEvent implements the full ingress pipeline: rate limit,
// signature verify, idempotency lock, route. Signature failures and
// rate-limit rejections return before any state mutation.
func (s *Service) HandleEvent(ctx context.Context, clientIP, signatureHeader string, body []byte) (string, error) {
	allowed, err := s.limiter.Allow(ctx, clientIP)
	if err != nil {
		return "", fmt.Errorf("webhook: rate limit check: %w", err)
	}
	if !allowed {
		metrics.RecordWebhookEvent("unknown", "rate_limited")
		return "", ErrRateLimited
	}

	if err := verifySignature(signatureHeader, body, s.secret, time.Now()); err != nil {
		metrics.RecordWebhookEvent("unknown", "invalid_signature")
		return "", err
	}

	var env webhookevent.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		metrics.RecordWebhookEvent("unknown", "malformed")
		return "", fmt.Errorf("webhook: parse envelope: %w", err)
	}

	acquired, err := s.store.AttemptEventLock(ctx, env.ID)
	if err != nil {
		return "", fmt.Errorf("webhook: attempt event lock: %w", err)
	}
	if !acquired {
		metrics.RecordWebhookEvent(env.Type, "duplicate")
		return OutcomeIgnored, nil
	}

	outcome, err := s.route(ctx, env)
	if err != nil {
		metrics.RecordWebhookEvent(env.Type, "error")
		return "", err
	}
	metrics.RecordWebhookEvent(env.Type, outcome)
	return outcome, nil
}

func (s *Service) route(ctx context.Context, env webhookevent.Envelope) (string, error) {
	switch env.Type {
	case "invoice.payment_failed":
		return s.handlePaymentFailed(ctx, env)
	case "invoice.payment_action_required":
		return s.handlePaymentActionRequired(ctx, env)
	case "customer.subscription.deleted":
		return s.handleSubscriptionDeleted(ctx, env)
	case "customer.subscription.created", "customer.subscription.updated":
		return s.handleSubscriptionUpsert(ctx, env)
	default:
		return OutcomeIgnored, nil
	}
}

func (s *Service) handlePaymentFailed(ctx context.Context, env webhookevent.Envelope) (string, error) {
	billingReason, _ := env.Data.Object["billing_reason"].(string)
	if billingReason != "subscription_cycle" {
		return OutcomeIgnored, nil
	}

	m, err := s.resolveMerchantByAccount(ctx, env.Account)
	if err != nil {
		return "", err
	}

	invoiceID, _ := env.Data.Object["id"].(string)
	attemptCount := intFromObject(env.Data.Object, "attempt_count")

	payload, err := json.Marshal(task.DunningRetryPayload{InvoiceID: invoiceID, AttemptCount: attemptCount})
	if err != nil {
		return "", fmt.Errorf("webhook: marshal dunning_retry payload: %w", err)
	}

	t := task.Task{
		MerchantID: m.ID,
		Type:       task.TypeDunningRetry,
		Payload:    payload,
		Status:     task.StatusPending,
		RunAt:      time.Now().Add(retryDelay(attemptCount)),
	}
	if _, err := s.store.CreateTask(ctx, t); err != nil {
		return "", fmt.Errorf("webhook: enqueue dunning_retry: %w", err)
	}
	if _, err := s.store.CreateUsageLog(ctx, usage.Log{MerchantID: m.ID, MetricType: usage.MetricTaskScheduled, Amount: 1}); err != nil {
		s.log.WithError(err).WithField("merchant_id", m.ID).Warn("record task_scheduled log failed")
	}
	return OutcomeEnqueued, nil
}

func (s *Service) handlePaymentActionRequired(ctx context.Context, env webhookevent.Envelope) (string, error) {
	m, err := s.resolveMerchantByAccount(ctx, env.Account)
	if err != nil {
		return "", err
	}

	invoiceID, _ := env.Data.Object["id"].(string)
	hostedURL, _ := env.Data.Object["hosted_invoice_url"].(string)

	payload, err := json.Marshal(task.NotifyActionRequiredPayload{InvoiceID: invoiceID, HostedInvoiceURL: hostedURL})
	if err != nil {
		return "", fmt.Errorf("webhook: marshal notify_action_required payload: %w", err)
	}

	t := task.Task{
		MerchantID: m.ID,
		Type:       task.TypeNotifyActionRequired,
		Payload:    payload,
		Status:     task.StatusPending,
		RunAt:      time.Now(),
	}
	if _, err := s.store.CreateTask(ctx, t); err != nil {
		return "", fmt.Errorf("webhook: enqueue notify_action_required: %w", err)
	}
	if _, err := s.store.CreateUsageLog(ctx, usage.Log{MerchantID: m.ID, MetricType: usage.MetricActionRequiredNotified, Amount: 1}); err != nil {
		s.log.WithError(err).WithField("merchant_id", m.ID).Warn("record action_required_notification log failed")
	}
	return OutcomeEnqueued, nil
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, env webhookevent.Envelope) (string, error) {
	m, err := s.resolveMerchantByAccount(ctx, env.Account)
	if err != nil {
		return "", err
	}
	if _, err := s.store.CreateUsageLog(ctx, usage.Log{MerchantID: m.ID, MetricType: usage.MetricSubscriptionChurned, Amount: 1}); err != nil {
		s.log.WithError(err).WithField("merchant_id", m.ID).Warn("record subscription_churned log failed")
	}
	return OutcomeLogged, nil
}

// handleSubscriptionUpsert implements the trust-boundary rule: a
// subscription event carrying event.account describes the tenant's own
// Connect account activity and must never mutate platform billing state.
// Only platform-originated events (no account) update subscription_plan_id.
func (s *Service) handleSubscriptionUpsert(ctx context.Context, env webhookevent.Envelope) (string, error) {
	if env.Account != "" {
		return OutcomeIgnored, nil
	}

	platformCustomerID, _ := env.Data.Object["customer"].(string)
	if platformCustomerID == "" {
		return OutcomeIgnored, nil
	}

	m, err := s.store.GetMerchantByPlatformCustomerID(ctx, platformCustomerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return OutcomeIgnored, nil
		}
		return "", fmt.Errorf("webhook: resolve merchant by platform customer id: %w", err)
	}

	status, _ := env.Data.Object["status"].(string)
	planID := priceFree
	if status == "active" || status == "trialing" {
		if id := priceIDFromObject(env.Data.Object); id != "" {
			planID = id
		}
	}

	m.SubscriptionPlanID = planID
	if _, err := s.store.UpdateMerchant(ctx, m); err != nil {
		return "", fmt.Errorf("webhook: update subscription_plan_id: %w", err)
	}
	return OutcomeUpdated, nil
}

func (s *Service) resolveMerchantByAccount(ctx context.Context, account string) (merchant.Merchant, error) {
	m, err := s.store.GetMerchantByConnectedAccountID(ctx, account)
	if err != nil {
		return merchant.Merchant{}, fmt.Errorf("webhook: resolve merchant by connected account: %w", err)
	}
	return m, nil
}

// retryDelay implements the dunning retry schedule: 1->3d, 2->5d, 3->7d,
// otherwise 7d.
func retryDelay(attemptCount int) time.Duration {
	switch attemptCount {
	case 1:
		return 3 * 24 * time.Hour
	case 2:
		return 5 * 24 * time.Hour
	case 3:
		return 7 * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

func intFromObject(obj webhookevent.RawObject, key string) int {
	switch v := obj[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// priceIDFromObject reads a subscription's active price id, checking the
// modern items.data[0].price.id shape before falling back to the legacy
// plan.id field.
func priceIDFromObject(obj webhookevent.RawObject) string {
	if items, ok := obj["items"].(map[string]interface{}); ok {
		if data, ok := items["data"].([]interface{}); ok && len(data) > 0 {
			if item, ok := data[0].(map[string]interface{}); ok {
				if price, ok := item["price"].(map[string]interface{}); ok {
					if id, ok := price["id"].(string); ok {
						return id
					}
				}
			}
		}
	}
	if plan, ok := obj["plan"].(map[string]interface{}); ok {
		if id, ok := plan["id"].(string); ok {
			return id
		}
	}
	return ""
}
