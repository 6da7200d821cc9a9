package email

import "context"

// SendResult is the gateway's acknowledgement of an accepted send.
type SendResult struct {
	Accepted bool
	ID       string
}

// Gateway is the delivery provider's send contract: to, subject, an HTML
// and a plaintext alternative, and a caller-supplied reference id echoed
// back on the X-Entity-Ref-ID header for provider-side audit trails.
type Gateway interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody, refID string) (SendResult, error)
}
