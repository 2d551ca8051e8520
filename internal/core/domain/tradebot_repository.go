package domain

import "context"

// TradeBotRepository is the abstraction for the storage of trade bot entries.
type TradeBotRepository interface {
	// GetTradeBotData returns the entry for the given trade private key or
	// ErrTradeBotNotFound.
	GetTradeBotData(ctx context.Context, tradePrivateKey []byte) (*TradeBotData, error)
	// ExistsTradeWithATExcludingStates returns whether any entry refers to
	// the given AT and is not in one of the given states.
	ExistsTradeWithATExcludingStates(
		ctx context.Context, atAddress string, excludeStates []TradeBotState,
	) (bool, error)
	// GetAllTradeBotData returns every entry ordered by creation timestamp.
	GetAllTradeBotData(ctx context.Context) ([]TradeBotData, error)
	// GetActiveTradeBotData returns the entries not in a terminal state.
	GetActiveTradeBotData(ctx context.Context) ([]TradeBotData, error)
	// SaveTradeBotData inserts or replaces the given entry.
	SaveTradeBotData(ctx context.Context, data TradeBotData) error
	// UpdateTradeBotData applies updateFn to the entry with the given key.
	UpdateTradeBotData(
		ctx context.Context, tradePrivateKey []byte,
		updateFn func(t *TradeBotData) (*TradeBotData, error),
	) error
	// DeleteTradeBotData removes the entry and returns the number of deleted
	// rows.
	DeleteTradeBotData(ctx context.Context, tradePrivateKey []byte) (int, error)
}
