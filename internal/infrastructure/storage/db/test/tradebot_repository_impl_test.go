package db_test

import (
	"context"
	"testing"

	"github.com/qortal/qortd/internal/core/domain"
	"github.com/stretchr/testify/require"
)

func TestTradeBotRepositoryImplementations(t *testing.T) {
	repositories := createRepositories(t)

	for i := range repositories {
		repo := repositories[i]

		t.Run(repo.Name, func(t *testing.T) {
			t.Parallel()

			t.Run("testSaveAndGetTradeBotData", func(t *testing.T) {
				testSaveAndGetTradeBotData(t, repo)
			})
			t.Run("testUpdateTradeBotData", func(t *testing.T) {
				testUpdateTradeBotData(t, repo)
			})
			t.Run("testGetActiveTradeBotData", func(t *testing.T) {
				testGetActiveTradeBotData(t, repo)
			})
		})
	}
}

func makeRandomTradeBotData(t *testing.T, state domain.TradeBotState) domain.TradeBotData {
	trade, err := domain.NewTradeBotData(randomBytes(32), "BitcoinACCTv3", state)
	require.NoError(t, err)
	trade.ATAddress = randomAddress()
	trade.TradeNativeAddress = randomAddress()
	trade.TradeForeignPublicKeyHash = randomBytes(20)
	trade.QortAmount = 100000000
	trade.ForeignAmount = 50000
	return *trade
}

func testSaveAndGetTradeBotData(t *testing.T, repo repository) {
	ctx := context.Background()
	tradeRepo := repo.TradeBotRepository()

	trade := makeRandomTradeBotData(t, domain.Offering)
	err := tradeRepo.SaveTradeBotData(ctx, trade)
	require.NoError(t, err)

	err = tradeRepo.SaveTradeBotData(ctx, domain.TradeBotData{TradePrivateKey: []byte{1}})
	require.ErrorIs(t, err, domain.ErrTradeBotInvalidKey)

	got, err := tradeRepo.GetTradeBotData(ctx, trade.TradePrivateKey)
	require.NoError(t, err)
	require.Equal(t, trade, *got)

	got, err = tradeRepo.GetTradeBotData(ctx, randomBytes(32))
	require.ErrorIs(t, err, domain.ErrTradeBotNotFound)
	require.Nil(t, got)

	exists, err := tradeRepo.ExistsTradeWithATExcludingStates(ctx, trade.ATAddress, nil)
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = tradeRepo.ExistsTradeWithATExcludingStates(
		ctx, trade.ATAddress, []domain.TradeBotState{domain.Offering, domain.Cancelled},
	)
	require.NoError(t, err)
	require.False(t, exists)

	exists, err = tradeRepo.ExistsTradeWithATExcludingStates(ctx, randomAddress(), nil)
	require.NoError(t, err)
	require.False(t, exists)

	count, err := tradeRepo.DeleteTradeBotData(ctx, trade.TradePrivateKey)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = tradeRepo.DeleteTradeBotData(ctx, trade.TradePrivateKey)
	require.NoError(t, err)
	require.Zero(t, count)
}

func testUpdateTradeBotData(t *testing.T, repo repository) {
	ctx := context.Background()
	tradeRepo := repo.TradeBotRepository()

	trade := makeRandomTradeBotData(t, domain.FundingPending)
	err := tradeRepo.SaveTradeBotData(ctx, trade)
	require.NoError(t, err)

	err = tradeRepo.UpdateTradeBotData(
		ctx, trade.TradePrivateKey,
		func(t *domain.TradeBotData) (*domain.TradeBotData, error) {
			t.FundingTxID = randomHex(32)
			if _, err := t.Advance(domain.AliceWaitingForATConfirm); err != nil {
				return nil, err
			}
			return t, nil
		},
	)
	require.NoError(t, err)

	got, err := tradeRepo.GetTradeBotData(ctx, trade.TradePrivateKey)
	require.NoError(t, err)
	require.Equal(t, domain.AliceWaitingForATConfirm, got.State)
	require.Equal(t, domain.AliceWaitingForATConfirm.Value(), got.StateValue)
	require.NotEmpty(t, got.FundingTxID)

	err = tradeRepo.UpdateTradeBotData(
		ctx, trade.TradePrivateKey,
		func(t *domain.TradeBotData) (*domain.TradeBotData, error) {
			if _, err := t.Advance(domain.Offering); err != nil {
				return nil, err
			}
			return t, nil
		},
	)
	require.ErrorIs(t, err, domain.ErrTradeBotInvalidTransition)

	err = tradeRepo.UpdateTradeBotData(
		ctx, randomBytes(32),
		func(t *domain.TradeBotData) (*domain.TradeBotData, error) {
			return t, nil
		},
	)
	require.ErrorIs(t, err, domain.ErrTradeBotNotFound)
}

func testGetActiveTradeBotData(t *testing.T, repo repository) {
	ctx := context.Background()
	tradeRepo := repo.TradeBotRepository()

	before, err := tradeRepo.GetAllTradeBotData(ctx)
	require.NoError(t, err)
	beforeActive, err := tradeRepo.GetActiveTradeBotData(ctx)
	require.NoError(t, err)

	states := []domain.TradeBotState{
		domain.BobWaitingForATConfirm, domain.WaitingForSecret, domain.Done,
		domain.Refunded, domain.AliceRefunding,
	}
	for _, state := range states {
		err := tradeRepo.SaveTradeBotData(ctx, makeRandomTradeBotData(t, state))
		require.NoError(t, err)
	}

	all, err := tradeRepo.GetAllTradeBotData(ctx)
	require.NoError(t, err)
	require.Len(t, all, len(before)+len(states))
	for i := 1; i < len(all); i++ {
		require.LessOrEqual(t, all[i-1].Timestamp, all[i].Timestamp)
	}

	active, err := tradeRepo.GetActiveTradeBotData(ctx)
	require.NoError(t, err)
	require.Len(t, active, len(beforeActive)+3)
	for _, trade := range active {
		require.False(t, trade.IsTerminal())
	}
}
