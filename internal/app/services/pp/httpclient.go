package pp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/riverbend/recoveryengine/internal/httputil"
)

// defaultTimeout bounds every outbound call per the suggested 10s external
// call budget; a slow or hung provider must not stall the worker's single
// dispatch loop indefinitely.
const defaultTimeout = 10 * time.Second

// HTTPClient is the concrete provider client, usable both as a TenantClient
// (constructed with an OAuth-derived access token) and a PlatformClient
// (constructed with the platform's own secret key).
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPClient builds a client scoped to apiKey, whose meaning depends on
// the caller: a merchant's OAuth access token for tenant calls, or the
// platform's secret key for platform calls.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: httputil.DefaultTransportWithMinTLS12(),
		},
	}
}

var _ TenantClient = (*HTTPClient)(nil)
var _ PlatformClient = (*HTTPClient)(nil)

type invoiceWire struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	Customer         string `json:"customer"`
	CustomerEmail    string `json:"customer_email"`
	HostedInvoiceURL string `json:"hosted_invoice_url"`
	AmountDue        int64  `json:"amount_due"`
}

func (c *HTTPClient) GetInvoice(ctx context.Context, invoiceID string) (Invoice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/invoices/"+url.PathEscape(invoiceID), nil)
	if err != nil {
		return Invoice{}, fmt.Errorf("pp: build get invoice request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return Invoice{}, &ErrTransient{Err: err}
	}
	defer resp.Body.Close()

	if err := statusToClassifiedError(resp.StatusCode); err != nil {
		return Invoice{}, err
	}

	var wire invoiceWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return Invoice{}, &ErrTransient{Err: fmt.Errorf("decode invoice: %w", err)}
	}
	return Invoice{
		ID:               wire.ID,
		Status:           wire.Status,
		CustomerID:       wire.Customer,
		CustomerEmail:    wire.CustomerEmail,
		HostedInvoiceURL: wire.HostedInvoiceURL,
		AmountDue:        wire.AmountDue,
	}, nil
}

func (c *HTTPClient) PostMeterEvent(ctx context.Context, customerID string, idempotencyKey string, quantity int64) error {
	form := url.Values{}
	form.Set("event_name", "dunning_email_sent")
	form.Set("payload[stripe_customer_id]", customerID)
	form.Set("payload[value]", strconv.FormatInt(quantity, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/billing/meter_events", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("pp: build meter event request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Idempotency-Key", idempotencyKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return &ErrTransient{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return ErrIdempotencyKeyInUse
	}
	return statusToClassifiedError(resp.StatusCode)
}

func statusToClassifiedError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 400 && status < 500:
		return &ErrPermanent{Code: strconv.Itoa(status), Err: fmt.Errorf("pp: request rejected with status %d", status)}
	default:
		return &ErrTransient{Err: fmt.Errorf("pp: provider returned status %d", status)}
	}
}
