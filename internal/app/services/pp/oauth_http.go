package pp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/riverbend/recoveryengine/internal/httputil"
)

// HTTPOAuthClient implements OAuthClient against PP's OAuth/Connect
// endpoints using the platform's own client id/secret.
type HTTPOAuthClient struct {
	baseURL      string
	authorizeURL string
	clientID     string
	clientSecret string
	redirectURL  string
	http         *http.Client
}

// NewHTTPOAuthClient builds an HTTPOAuthClient. authorizeURL is the
// provider-hosted consent screen; baseURL is the API host used for the
// token exchange and subscription/deauthorize calls.
func NewHTTPOAuthClient(baseURL, authorizeURL, clientID, clientSecret, redirectURL string) *HTTPOAuthClient {
	return &HTTPOAuthClient{
		baseURL:      baseURL,
		authorizeURL: authorizeURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURL:  redirectURL,
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: httputil.DefaultTransportWithMinTLS12(),
		},
	}
}

var _ OAuthClient = (*HTTPOAuthClient)(nil)

func (c *HTTPOAuthClient) AuthorizeURL(state string) string {
	v := url.Values{}
	v.Set("client_id", c.clientID)
	v.Set("response_type", "code")
	v.Set("scope", "read_write")
	v.Set("redirect_uri", c.redirectURL)
	v.Set("state", state)
	return c.authorizeURL + "?" + v.Encode()
}

type oauthTokenResponse struct {
	AccessToken         string `json:"access_token"`
	RefreshToken        string `json:"refresh_token"`
	StripeUserID        string `json:"stripe_user_id"`
	StripePublishableID string `json:"stripe_publishable_key"`
}

func (c *HTTPOAuthClient) ExchangeCode(ctx context.Context, code string) (OAuthTokens, string, error) {
	form := url.Values{}
	form.Set("client_secret", c.clientSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return OAuthTokens{}, "", fmt.Errorf("pp: build oauth token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return OAuthTokens{}, "", &ErrTransient{Err: err}
	}
	defer resp.Body.Close()

	if err := statusToClassifiedError(resp.StatusCode); err != nil {
		return OAuthTokens{}, "", err
	}

	var wire oauthTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return OAuthTokens{}, "", &ErrTransient{Err: fmt.Errorf("decode oauth token response: %w", err)}
	}
	return OAuthTokens{AccessToken: wire.AccessToken, RefreshToken: wire.RefreshToken}, wire.StripeUserID, nil
}

func (c *HTTPOAuthClient) CancelSubscriptions(ctx context.Context, connectedAccountID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/subscriptions/cancel_all", nil)
	if err != nil {
		return fmt.Errorf("pp: build cancel subscriptions request: %w", err)
	}
	req.Header.Set("Stripe-Account", connectedAccountID)
	req.Header.Set("Authorization", "Bearer "+c.clientSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return &ErrTransient{Err: err}
	}
	defer resp.Body.Close()
	return statusToClassifiedError(resp.StatusCode)
}

func (c *HTTPOAuthClient) Deauthorize(ctx context.Context, connectedAccountID string) error {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("stripe_user_id", connectedAccountID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth/deauthorize", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("pp: build deauthorize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.clientSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return &ErrTransient{Err: err}
	}
	defer resp.Body.Close()
	return statusToClassifiedError(resp.StatusCode)
}
