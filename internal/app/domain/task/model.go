// Package task models the durable work queue entry and its payload variants.
package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Type is the closed set of task types the worker knows how to dispatch.
type Type string

const (
	TypeDunningRetry          Type = "dunning_retry"
	TypeNotifyActionRequired  Type = "notify_action_required"
	TypeReportUsage           Type = "report_usage"
	TypeSendWeeklyDigest      Type = "send_weekly_digest"
)

// CreatableTypes is the whitelist accepted by POST /tasks; the other two
// types are system-scheduled only and can never be requested by a tenant.
var CreatableTypes = map[Type]bool{
	TypeDunningRetry:         true,
	TypeNotifyActionRequired: true,
}

// Status is a task's place in the pending -> running -> {completed, failed} DAG.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task is a single unit of scheduled work.
type Task struct {
	ID         int64
	MerchantID string // merchant.SystemID for singleton system tasks
	Type       Type
	Payload    json.RawMessage
	Status     Status
	RunAt      time.Time
	CreatedAt  time.Time
}

// DunningRetryPayload is the tagged payload for TypeDunningRetry.
type DunningRetryPayload struct {
	InvoiceID    string `json:"invoiceId"`
	AttemptCount int    `json:"attemptCount,omitempty"`
}

// NotifyActionRequiredPayload is the tagged payload for TypeNotifyActionRequired.
type NotifyActionRequiredPayload struct {
	InvoiceID        string `json:"invoiceId"`
	HostedInvoiceURL string `json:"hostedInvoiceUrl,omitempty"`
}

// DecodeDunningRetry parses and validates a dunning_retry payload.
func DecodeDunningRetry(raw json.RawMessage) (DunningRetryPayload, error) {
	var p DunningRetryPayload
	if err := decodeStrict(raw, &p); err != nil {
		return DunningRetryPayload{}, fmt.Errorf("decode dunning_retry payload: %w", err)
	}
	if p.InvoiceID == "" {
		return DunningRetryPayload{}, fmt.Errorf("dunning_retry payload missing invoiceId")
	}
	return p, nil
}

// DecodeNotifyActionRequired parses and validates a notify_action_required payload.
func DecodeNotifyActionRequired(raw json.RawMessage) (NotifyActionRequiredPayload, error) {
	var p NotifyActionRequiredPayload
	if err := decodeStrict(raw, &p); err != nil {
		return NotifyActionRequiredPayload{}, fmt.Errorf("decode notify_action_required payload: %w", err)
	}
	if p.InvoiceID == "" {
		return NotifyActionRequiredPayload{}, fmt.Errorf("notify_action_required payload missing invoiceId")
	}
	return p, nil
}

func decodeStrict(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
