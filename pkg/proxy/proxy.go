// Package proxy defines the disposable-wallet fallback used when a payment
// destination does not support NIP-57 zap receipts.
//
// The flow routes the payment through an intermediate hop:
//
//  1. Create a disposable wallet.
//  2. Invoice the payer from the disposable wallet.
//  3. Detect the inbound settlement.
//  4. Forward funds to the real destination address.
//  5. Dispose of the wallet.
//
// The backing service is not yet integrated; CreateWallet returns
// ErrProxyNotAvailable and callers fall back to a direct LNURL invoice in a
// degraded, merchant-observed confirmation mode.
package proxy

import (
	"context"
	"errors"
)

// ErrProxyNotAvailable means the proxy wallet service is not integrated yet.
// It is a feature gate, not a failure: callers fall through to the direct
// LNURL flow.
var ErrProxyNotAvailable = errors.New("proxy wallet not available")

// Payment is an inbound settlement notification for a disposable wallet.
type Payment struct {
	AmountMsat int64
	Preimage   string
}

// Wallet is a disposable intermediary that invoices the payer and forwards
// funds onward.
type Wallet interface {
	// InvoiceCallback returns a bolt11 invoice for amountMsat drawn on the
	// disposable wallet.
	InvoiceCallback(ctx context.Context, amountMsat int64) (string, error)

	// OnPayment registers a one-shot notification for inbound settlement.
	OnPayment(fn func(Payment))

	// Forward attempts onward settlement to the destination Lightning
	// address. A false return means funds remain custodied in the disposable
	// wallet; callers must surface that to the operator, never swallow it.
	Forward(ctx context.Context, destination string, amountMsat int64) (bool, error)

	// Dispose releases the disposable wallet. Call exactly once, after
	// Forward resolves (success or failure).
	Dispose()
}

// Provider creates disposable wallets.
type Provider interface {
	CreateWallet(ctx context.Context) (Wallet, error)
}

// UnavailableProvider is the current stub Provider.
type UnavailableProvider struct{}

func (UnavailableProvider) CreateWallet(ctx context.Context) (Wallet, error) {
	return nil, ErrProxyNotAvailable
}
