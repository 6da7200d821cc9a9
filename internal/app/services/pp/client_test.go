package pp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetInvoice_DecodesSuccessfulResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/invoices/in_1", r.URL.Path)
		require.Equal(t, "Bearer tok_tenant", r.Header.Get("Authorization"))
		w.Write([]byte(`{"id":"in_1","status":"open","customer":"cus_1","customer_email":"a@b.com"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "tok_tenant")
	inv, err := client.GetInvoice(context.Background(), "in_1")
	require.NoError(t, err)
	require.Equal(t, "open", inv.Status)
	require.Equal(t, "cus_1", inv.CustomerID)
}

func TestGetInvoice_ClassifiesPermanentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "tok_tenant")
	_, err := client.GetInvoice(context.Background(), "in_missing")
	require.Error(t, err)
	permanent, transient := Classify(err)
	require.True(t, permanent)
	require.False(t, transient)
}

func TestPostMeterEvent_TreatsConflictAsIdempotencyReplay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "usage_log_42", r.Header.Get("Idempotency-Key"))
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "sk_platform")
	err := client.PostMeterEvent(context.Background(), "cus_1", "usage_log_42", 1)
	require.ErrorIs(t, err, ErrIdempotencyKeyInUse)
}

func TestPostMeterEvent_ClassifiesTransientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "sk_platform")
	err := client.PostMeterEvent(context.Background(), "cus_1", "usage_log_1", 1)
	_, transient := Classify(err)
	require.True(t, transient)
}
