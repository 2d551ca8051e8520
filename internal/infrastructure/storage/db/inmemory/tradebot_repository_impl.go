package inmemory

import (
	"context"

	"github.com/qortal/qortd/internal/core/domain"
)

type tradeBotRepositoryImpl struct {
	rm *repoManager
}

func (r *tradeBotRepositoryImpl) GetTradeBotData(
	ctx context.Context, tradePrivateKey []byte,
) (*domain.TradeBotData, error) {
	var data *domain.TradeBotData
	err := r.rm.read(ctx, func(s *session) error {
		t, ok := r.rm.store.trades[domain.TradeKey(tradePrivateKey)]
		if !ok {
			return domain.ErrTradeBotNotFound
		}
		t = cloneTrade(t)
		data = &t
		return nil
	})
	return data, err
}

func (r *tradeBotRepositoryImpl) ExistsTradeWithATExcludingStates(
	ctx context.Context, atAddress string, excludeStates []domain.TradeBotState,
) (bool, error) {
	trades, err := r.findTrades(ctx, func(t domain.TradeBotData) bool {
		if t.ATAddress != atAddress {
			return false
		}
		for _, state := range excludeStates {
			if t.State == state {
				return false
			}
		}
		return true
	})
	if err != nil {
		return false, err
	}
	return len(trades) > 0, nil
}

func (r *tradeBotRepositoryImpl) GetAllTradeBotData(
	ctx context.Context,
) ([]domain.TradeBotData, error) {
	return r.findTrades(ctx, func(domain.TradeBotData) bool { return true })
}

func (r *tradeBotRepositoryImpl) GetActiveTradeBotData(
	ctx context.Context,
) ([]domain.TradeBotData, error) {
	return r.findTrades(ctx, func(t domain.TradeBotData) bool {
		return !t.IsTerminal()
	})
}

func (r *tradeBotRepositoryImpl) SaveTradeBotData(
	ctx context.Context, data domain.TradeBotData,
) error {
	if len(data.TradePrivateKey) != 32 {
		return domain.ErrTradeBotInvalidKey
	}
	return r.rm.write(ctx, func(s *session) error {
		mapPut(s, r.rm.store.trades, data.Key(), cloneTrade(data))
		return nil
	})
}

func (r *tradeBotRepositoryImpl) UpdateTradeBotData(
	ctx context.Context, tradePrivateKey []byte,
	updateFn func(t *domain.TradeBotData) (*domain.TradeBotData, error),
) error {
	key := domain.TradeKey(tradePrivateKey)
	return r.rm.write(ctx, func(s *session) error {
		current, ok := r.rm.store.trades[key]
		if !ok {
			return domain.ErrTradeBotNotFound
		}
		current = cloneTrade(current)
		updated, err := updateFn(&current)
		if err != nil {
			return err
		}
		if updated.Key() != key {
			return ErrTradeKeyMustNotChange
		}
		mapPut(s, r.rm.store.trades, key, cloneTrade(*updated))
		return nil
	})
}

func (r *tradeBotRepositoryImpl) DeleteTradeBotData(
	ctx context.Context, tradePrivateKey []byte,
) (int, error) {
	count := 0
	err := r.rm.write(ctx, func(s *session) error {
		if mapDelete(s, r.rm.store.trades, domain.TradeKey(tradePrivateKey)) {
			count = 1
		}
		return nil
	})
	return count, err
}

func (r *tradeBotRepositoryImpl) findTrades(
	ctx context.Context, match func(domain.TradeBotData) bool,
) ([]domain.TradeBotData, error) {
	trades := make([]domain.TradeBotData, 0)
	err := r.rm.read(ctx, func(s *session) error {
		for _, t := range r.rm.store.trades {
			if match(t) {
				trades = append(trades, cloneTrade(t))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	domain.SortTradeBotData(trades)
	return trades, nil
}

func cloneTrade(t domain.TradeBotData) domain.TradeBotData {
	t.TradePrivateKey = cloneBytes(t.TradePrivateKey)
	t.TradeNativePublicKey = cloneBytes(t.TradeNativePublicKey)
	t.TradeNativePublicKeyHash = cloneBytes(t.TradeNativePublicKeyHash)
	t.HashOfSecret = cloneBytes(t.HashOfSecret)
	t.TradeForeignPublicKey = cloneBytes(t.TradeForeignPublicKey)
	t.TradeForeignPublicKeyHash = cloneBytes(t.TradeForeignPublicKeyHash)
	t.PartnerForeignPublicKeyHash = cloneBytes(t.PartnerForeignPublicKeyHash)
	t.Secret = cloneBytes(t.Secret)
	return t
}
