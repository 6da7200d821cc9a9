// Package pp models the payment provider's HTTP surface as narrow Go
// interfaces: the pieces of the worker and webhook handler actually call
// are invoices, customers and metered usage records, nothing more.
package pp

import (
	"context"
	"errors"
)

// Invoice is the subset of the provider's invoice object the worker needs.
type Invoice struct {
	ID               string
	Status           string // "open", "paid", "void", ...
	CustomerID       string
	CustomerEmail    string
	HostedInvoiceURL string
	AmountDue        int64
}

const (
	InvoiceStatusOpen = "open"
	InvoiceStatusPaid = "paid"
	InvoiceStatusVoid = "void"
)

// Subscription is the subset of the provider's subscription object the
// webhook handler needs to resolve a tenant's plan.
type Subscription struct {
	ID         string
	CustomerID string
	Status     string // "active", "trialing", "past_due", "canceled", ...
	PriceID    string
}

// TenantClient is scoped to one merchant's connected account: every call is
// made with that account's OAuth-derived credentials, so invoices and
// customers returned belong to that tenant alone.
type TenantClient interface {
	GetInvoice(ctx context.Context, invoiceID string) (Invoice, error)
}

// PlatformClient operates against the platform's own account, used only for
// metered billing of the platform's subscription to its merchants, never
// for tenant-scoped data.
type PlatformClient interface {
	// PostMeterEvent uploads one usage record. idempotencyKey deduplicates
	// retried uploads on the provider's side; ErrIdempotencyKeyInUse is
	// returned (not wrapped as a failure) when the key was already
	// consumed by a prior, successful call.
	PostMeterEvent(ctx context.Context, customerID string, idempotencyKey string, quantity int64) error
}

// ErrIdempotencyKeyInUse signals the provider already accepted this
// idempotency key; the caller should treat the upload as already-reported.
var ErrIdempotencyKeyInUse = errors.New("pp: idempotency key already in use")

// ErrPermanent wraps a 4xx / invalid-request / resource_* class of error:
// retrying will never succeed, so the caller should stop trying this row.
type ErrPermanent struct {
	Code string
	Err  error
}

func (e *ErrPermanent) Error() string { return "pp: permanent error (" + e.Code + "): " + e.Err.Error() }
func (e *ErrPermanent) Unwrap() error { return e.Err }

// ErrTransient wraps a network / 5xx / rate-limit class of error: the
// caller should leave the row unprocessed for a later retry.
type ErrTransient struct {
	Err error
}

func (e *ErrTransient) Error() string { return "pp: transient error: " + e.Err.Error() }
func (e *ErrTransient) Unwrap() error { return e.Err }

// Classify buckets err into permanent, transient or nil (already-handled).
// A raw error not already tagged by a provider client is treated as
// transient, matching the conservative "leave unreported for retry" default
// in the reporter's error-classification rule.
func Classify(err error) (permanent bool, transient bool) {
	if err == nil {
		return false, false
	}
	var perm *ErrPermanent
	if errors.As(err, &perm) {
		return true, false
	}
	var trans *ErrTransient
	if errors.As(err, &trans) {
		return false, true
	}
	return false, true
}
