package exchange

import "context"

// Venue places orders on a live trading venue. The agent only talks to this
// interface; a nil Venue means simulation mode, where fills come from the
// synthetic book instead of an exchange.
type Venue interface {
	Name() string

	SubmitMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	SubmitLimitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	Account(ctx context.Context) (Account, error)

	Close() error
}
