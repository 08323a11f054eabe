// Package broker defines the brokerage collaborator used by the allocator and
// the value types exchanged with it.
package broker

import "context"

// Gateway abstracts the brokerage account the allocator trades.
type Gateway interface {
	// AccountValues may return an empty slice while the gateway is still
	// warming up; callers poll with AccountValuesWithRetry.
	AccountValues(ctx context.Context) ([]AccountValue, error)
	Portfolio(ctx context.Context) ([]Position, error)
	// Trades lists the orders of the current session, open or done.
	Trades(ctx context.Context) ([]Trade, error)
	OpenTrades(ctx context.Context) ([]Trade, error)
	Fills(ctx context.Context) ([]Fill, error)

	PlaceOrder(ctx context.Context, contract Contract, order Order) (Trade, error)
	CancelOrder(ctx context.Context, orderID int64) error

	ContractDetails(ctx context.Context, id int64) (Contract, error)
	// Futures lists the listed futures contracts of a root symbol.
	Futures(ctx context.Context, symbol, exchange string) ([]Contract, error)
	// ForexPair resolves the cash pair quoting currency in base.
	ForexPair(ctx context.Context, currency, base string) (Contract, error)
	Tickers(ctx context.Context, ids ...int64) (map[int64]Ticker, error)
}
