package email

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/riverbend/recoveryengine/internal/httputil"
)

const gatewayTimeout = 10 * time.Second

// HTTPGateway posts to the email delivery provider's transactional send
// endpoint, attaching X-Entity-Ref-ID on every call.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPGateway builds a gateway client against baseURL, authenticating
// with apiKey.
func NewHTTPGateway(baseURL, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout:   gatewayTimeout,
			Transport: httputil.DefaultTransportWithMinTLS12(),
		},
	}
}

var _ Gateway = (*HTTPGateway)(nil)

type sendRequest struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html"`
	TextBody string `json:"text"`
}

type sendResponse struct {
	ID string `json:"id"`
}

func (g *HTTPGateway) Send(ctx context.Context, to, subject, htmlBody, textBody, refID string) (SendResult, error) {
	body, err := json.Marshal(sendRequest{To: to, Subject: subject, HTMLBody: htmlBody, TextBody: textBody})
	if err != nil {
		return SendResult{}, fmt.Errorf("email: encode send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/send", strings.NewReader(string(body)))
	if err != nil {
		return SendResult{}, fmt.Errorf("email: build send request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Entity-Ref-ID", refID)

	resp, err := g.http.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("email: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SendResult{}, fmt.Errorf("email: gateway returned status %d", resp.StatusCode)
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SendResult{}, fmt.Errorf("email: decode send response: %w", err)
	}
	return SendResult{Accepted: true, ID: out.ID}, nil
}
