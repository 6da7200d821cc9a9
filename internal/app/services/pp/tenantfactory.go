package pp

import (
	"context"
	"errors"
	"fmt"

	"github.com/riverbend/recoveryengine/internal/app/domain/merchant"
)

// ErrNotConnected is returned when a tenant-scoped call is attempted for a
// merchant that has never completed the OAuth connect flow.
var ErrNotConnected = errors.New("pp: merchant has no connected account")

// MerchantSource is the slice of the store the tenant factory needs: a
// merchant lookup whose token fields come back decrypted.
type MerchantSource interface {
	GetMerchant(ctx context.Context, id string) (merchant.Merchant, error)
}

// TenantFactory builds tenant-scoped clients from a merchant's stored OAuth
// access token. Clients are built per call rather than cached: the token can
// be wiped by a disconnect at any time and a stale cached client would keep
// calling with revoked credentials.
type TenantFactory struct {
	source  MerchantSource
	baseURL string
}

// NewTenantFactory builds a TenantFactory over source, issuing clients
// against baseURL.
func NewTenantFactory(source MerchantSource, baseURL string) *TenantFactory {
	return &TenantFactory{source: source, baseURL: baseURL}
}

// ForMerchant returns a client scoped to merchantID's connected account.
func (f *TenantFactory) ForMerchant(ctx context.Context, merchantID string) (TenantClient, error) {
	m, err := f.source.GetMerchant(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("pp: load merchant %s: %w", merchantID, err)
	}
	if !m.Connected() || len(m.AccessTokenEnc) == 0 {
		return nil, ErrNotConnected
	}
	return NewHTTPClient(f.baseURL, string(m.AccessTokenEnc)), nil
}
