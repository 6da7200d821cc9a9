package email

import (
	"context"
	"fmt"

	"github.com/riverbend/recoveryengine/internal/app/domain/merchant"
	"github.com/riverbend/recoveryengine/internal/app/domain/template"
	"github.com/riverbend/recoveryengine/internal/app/domain/usage"
	"github.com/riverbend/recoveryengine/internal/app/storage"
)

// Sender composes a merchant's template (or the default copy), embeds
// signed tracking links for logID, and dispatches through the gateway.
type Sender struct {
	store   storage.TemplateStore
	gateway Gateway
	linker  *TrackingLinker
}

// NewSender builds a Sender over store, gateway and linker.
func NewSender(store storage.TemplateStore, gateway Gateway, linker *TrackingLinker) *Sender {
	return &Sender{store: store, gateway: gateway, linker: linker}
}

// SendDunning renders and sends the dunning-retry email to the failed
// invoice's customer, returning the gateway's send result. logID is the
// usage log row the open/click pixels and link report against; m is the
// tenant merchant whose template override (if any) is used.
func (s *Sender) SendDunning(ctx context.Context, m merchant.Merchant, customerEmail string, attempt template.RetryAttempt, logID int64, t Tokens) (SendResult, error) {
	subject, body := defaultDunningSubject, defaultDunningBody
	if attempt.Valid() {
		if override, ok, err := s.store.GetEmailTemplate(ctx, m.ID, attempt); err != nil {
			return SendResult{}, fmt.Errorf("email: load template override: %w", err)
		} else if ok {
			subject, body = override.Subject, override.Body
		}
	}

	t.UpdateURL = s.linker.ClickURL(logID, t.UpdateURL)
	renderedSubject, renderedBody := Render(subject, body, t)

	html := renderedBody + fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" />`, s.linker.OpenURL(logID))
	return s.gateway.Send(ctx, customerEmail, renderedSubject, html, renderedBody, m.ID)
}

// SendActionRequired sends the SCA/3DS notification email for an invoice
// requiring customer action.
func (s *Sender) SendActionRequired(ctx context.Context, m merchant.Merchant, customerEmail string, logID int64, t Tokens) (SendResult, error) {
	subject := "Action required to complete your payment"
	body := "Hi {{customer_name}},\n\nYour bank requires additional verification to complete your payment of {{amount}}. " +
		"Please complete it here: {{update_url}}\n"

	t.UpdateURL = s.linker.ClickURL(logID, t.UpdateURL)
	renderedSubject, renderedBody := Render(subject, body, t)
	html := renderedBody + fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" />`, s.linker.OpenURL(logID))
	return s.gateway.Send(ctx, customerEmail, renderedSubject, html, renderedBody, m.ID)
}

// SendWeeklyDigest sends the aggregate 7-day metrics summary to the
// merchant's own support address.
func (s *Sender) SendWeeklyDigest(ctx context.Context, m merchant.Merchant, metrics usage.DailyMetric) (SendResult, error) {
	name := m.FromName
	if name == "" {
		name = m.ID
	}
	subject := fmt.Sprintf("Your weekly recovery summary for %s", name)
	body := fmt.Sprintf(
		"This week: %d dunning emails sent, %d opens, %d clicks, %d cents recovered.\n",
		metrics.EmailsSent, metrics.TotalOpens, metrics.TotalClicks, metrics.RecoveredCents,
	)
	return s.gateway.Send(ctx, m.SupportEmail, subject, body, body, m.ID)
}
