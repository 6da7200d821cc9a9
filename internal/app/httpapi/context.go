package httpapi

import (
	"context"

	"github.com/riverbend/recoveryengine/internal/app/domain/merchant"
)

type ctxKey int

const merchantCtxKey ctxKey = iota

func contextWithMerchant(ctx context.Context, m merchant.Merchant) context.Context {
	return context.WithValue(ctx, merchantCtxKey, m)
}

// merchantFromContext returns the merchant attached by the auth middleware.
// Handlers behind requireAuth can assume ok is always true; it is false only
// if called from a route that skipped the middleware, which is a wiring bug.
func merchantFromContext(ctx context.Context) (merchant.Merchant, bool) {
	m, ok := ctx.Value(merchantCtxKey).(merchant.Merchant)
	return m, ok
}
