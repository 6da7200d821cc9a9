package pp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPOAuthClient_AuthorizeURL(t *testing.T) {
	client := NewHTTPOAuthClient("https://api.pp.test", "https://connect.pp.test/oauth/authorize", "ca_client", "sk_secret", "https://app.test/callback")
	url := client.AuthorizeURL("state123")

	require.Contains(t, url, "https://connect.pp.test/oauth/authorize?")
	require.Contains(t, url, "client_id=ca_client")
	require.Contains(t, url, "state=state123")
	require.Contains(t, url, "response_type=code")
}

func TestHTTPOAuthClient_ExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/oauth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "authorization_code", r.FormValue("grant_type"))
		require.Equal(t, "ac_123", r.FormValue("code"))
		w.Write([]byte(`{"access_token":"at_1","refresh_token":"rt_1","stripe_user_id":"acct_1"}`))
	}))
	defer srv.Close()

	client := NewHTTPOAuthClient(srv.URL, srv.URL+"/oauth/authorize", "ca_client", "sk_secret", "https://app.test/callback")
	tokens, connectedAccountID, err := client.ExchangeCode(context.Background(), "ac_123")
	require.NoError(t, err)
	require.Equal(t, "at_1", tokens.AccessToken)
	require.Equal(t, "rt_1", tokens.RefreshToken)
	require.Equal(t, "acct_1", connectedAccountID)
}

func TestHTTPOAuthClient_ExchangeCode_ClassifiesPermanentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewHTTPOAuthClient(srv.URL, srv.URL+"/oauth/authorize", "ca_client", "sk_secret", "https://app.test/callback")
	_, _, err := client.ExchangeCode(context.Background(), "bad_code")
	require.Error(t, err)
	permanent, _ := Classify(err)
	require.True(t, permanent)
}

func TestHTTPOAuthClient_CancelSubscriptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/subscriptions/cancel_all", r.URL.Path)
		require.Equal(t, "acct_1", r.Header.Get("Stripe-Account"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewHTTPOAuthClient(srv.URL, srv.URL+"/oauth/authorize", "ca_client", "sk_secret", "https://app.test/callback")
	err := client.CancelSubscriptions(context.Background(), "acct_1")
	require.NoError(t, err)
}

func TestHTTPOAuthClient_Deauthorize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/oauth/deauthorize", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "acct_1", r.FormValue("stripe_user_id"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewHTTPOAuthClient(srv.URL, srv.URL+"/oauth/authorize", "ca_client", "sk_secret", "https://app.test/callback")
	err := client.Deauthorize(context.Background(), "acct_1")
	require.NoError(t, err)
}
