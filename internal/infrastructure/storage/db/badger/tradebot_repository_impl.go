package dbbadger

import (
	"context"
	"errors"

	"github.com/qortal/qortd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type tradeBotRepositoryImpl struct {
	rm *repoManager
}

func (r *tradeBotRepositoryImpl) GetTradeBotData(
	ctx context.Context, tradePrivateKey []byte,
) (*domain.TradeBotData, error) {
	var data *domain.TradeBotData
	err := r.rm.read(ctx, "get trade bot entry", func(s *session) error {
		var err error
		data, err = r.getTrade(s, domain.TradeKey(tradePrivateKey))
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (r *tradeBotRepositoryImpl) ExistsTradeWithATExcludingStates(
	ctx context.Context, atAddress string, excludeStates []domain.TradeBotState,
) (bool, error) {
	query := badgerhold.Where("ATAddress").Eq(atAddress)
	if len(excludeStates) > 0 {
		states := make([]interface{}, 0, len(excludeStates))
		for _, st := range excludeStates {
			states = append(states, st)
		}
		query = query.And("State").Not().In(states...)
	}

	count := uint64(0)
	err := r.rm.read(ctx, "find trade bot entries", func(s *session) error {
		var err error
		count, err = r.rm.store.TxCount(s.txn, &domain.TradeBotData{}, query)
		return err
	})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *tradeBotRepositoryImpl) GetAllTradeBotData(
	ctx context.Context,
) ([]domain.TradeBotData, error) {
	return r.findTrades(ctx, &badgerhold.Query{})
}

func (r *tradeBotRepositoryImpl) GetActiveTradeBotData(
	ctx context.Context,
) ([]domain.TradeBotData, error) {
	query := badgerhold.Where("StateValue").Lt(domain.Done.Value())
	return r.findTrades(ctx, query)
}

func (r *tradeBotRepositoryImpl) SaveTradeBotData(
	ctx context.Context, data domain.TradeBotData,
) error {
	if len(data.TradePrivateKey) != 32 {
		return domain.ErrTradeBotInvalidKey
	}
	return r.rm.write(ctx, "save trade bot entry", func(s *session) error {
		return upsertRecord(s, r.rm.store, data.Key(), data)
	})
}

func (r *tradeBotRepositoryImpl) UpdateTradeBotData(
	ctx context.Context, tradePrivateKey []byte,
	updateFn func(t *domain.TradeBotData) (*domain.TradeBotData, error),
) error {
	key := domain.TradeKey(tradePrivateKey)
	var fnErr error
	err := r.rm.write(ctx, "update trade bot entry", func(s *session) error {
		current, err := r.getTrade(s, key)
		if err != nil {
			return err
		}
		updated, err := updateFn(current)
		if err != nil {
			fnErr = err
			return err
		}
		if updated.Key() != key {
			fnErr = ErrTradeKeyMustNotChange
			return fnErr
		}
		return upsertRecord(s, r.rm.store, key, *updated)
	})
	if fnErr != nil {
		return fnErr
	}
	return err
}

func (r *tradeBotRepositoryImpl) DeleteTradeBotData(
	ctx context.Context, tradePrivateKey []byte,
) (int, error) {
	count := 0
	err := r.rm.write(ctx, "delete trade bot entry", func(s *session) error {
		deleted, err := deleteRecord[domain.TradeBotData](
			s, r.rm.store, domain.TradeKey(tradePrivateKey),
		)
		if deleted {
			count = 1
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *tradeBotRepositoryImpl) getTrade(
	s *session, key string,
) (*domain.TradeBotData, error) {
	var data domain.TradeBotData
	if err := r.rm.store.TxGet(s.txn, key, &data); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrTradeBotNotFound
		}
		return nil, err
	}
	return &data, nil
}

func (r *tradeBotRepositoryImpl) findTrades(
	ctx context.Context, query *badgerhold.Query,
) ([]domain.TradeBotData, error) {
	trades := make([]domain.TradeBotData, 0)
	err := r.rm.read(ctx, "find trade bot entries", func(s *session) error {
		return r.rm.store.TxFind(s.txn, &trades, query)
	})
	if err != nil {
		return nil, err
	}
	domain.SortTradeBotData(trades)
	return trades, nil
}
