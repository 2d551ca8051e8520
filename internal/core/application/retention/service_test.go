package retention_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/qortal/qortd/internal/core/application/retention"
	"github.com/qortal/qortd/internal/core/domain"
	"github.com/qortal/qortd/internal/core/ports"
	"github.com/qortal/qortd/internal/infrastructure/storage/db/inmemory"
)

var ctx = context.Background()

type mockChainTip struct {
	mock.Mock
}

func (m *mockChainTip) GetChainHeight(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func newChainTip(height int) *mockChainTip {
	tip := &mockChainTip{}
	tip.On("GetChainHeight", mock.Anything).Return(height, nil)
	return tip
}

var testConfig = retention.Config{
	TrimInterval:    10 * time.Millisecond,
	TrimBatchSize:   100,
	TrimLimit:       5,
	TrimKeepBlocks:  2,
	PruneEnabled:    true,
	PruneInterval:   10 * time.Millisecond,
	PruneBatchSize:  100,
	PruneKeepBlocks: 2,
	TxTimeout:       time.Second,
}

func TestNewService(t *testing.T) {
	tests := []struct {
		name   string
		config func(c retention.Config) retention.Config
		err    error
	}{
		{
			name: "zero trim batch size",
			config: func(c retention.Config) retention.Config {
				c.TrimBatchSize = 0
				return c
			},
			err: retention.ErrInvalidBatchSize,
		},
		{
			name: "zero trim interval",
			config: func(c retention.Config) retention.Config {
				c.TrimInterval = 0
				return c
			},
			err: retention.ErrInvalidInterval,
		},
		{
			name: "zero prune batch size",
			config: func(c retention.Config) retention.Config {
				c.PruneBatchSize = 0
				return c
			},
			err: retention.ErrInvalidBatchSize,
		},
		{
			name: "pruning disabled",
			config: func(c retention.Config) retention.Config {
				c.PruneEnabled = false
				c.PruneBatchSize = 0
				return c
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			svc, err := retention.NewService(
				inmemory.NewRepoManager(0), newChainTip(10), tt.config(testConfig),
			)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				require.Nil(t, svc)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, svc)
		})
	}
}

func TestTrimAndPrune(t *testing.T) {
	repoManager := newRepoManager(t)
	svc, err := retention.NewService(repoManager, newChainTip(12), testConfig)
	require.NoError(t, err)

	// Nothing is trimmed yet.
	count, err := svc.PruneBatch(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	trimmed := 0
	for _, expected := range []int{5, 5, 1, 0} {
		count, err := svc.TrimBatch(ctx)
		require.NoError(t, err)
		require.Equal(t, expected, count)
		trimmed += count
	}
	require.Equal(t, 11, trimmed)

	trimHeight, pruneHeight, err := svc.Watermarks(ctx)
	require.NoError(t, err)
	require.Equal(t, 11, trimHeight)
	require.Zero(t, pruneHeight)

	repo := repoManager.ATRepository()
	for _, address := range []string{"AT1", "AT2"} {
		latest, err := repo.GetLatestATState(ctx, address)
		require.NoError(t, err)
		require.False(t, latest.IsTrimmed())
	}
	state, err := repo.GetATStateAtHeight(ctx, "AT1", 9)
	require.NoError(t, err)
	require.True(t, state.IsTrimmed())

	count, err = svc.PruneBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 11, count)

	trimHeight, pruneHeight, err = svc.Watermarks(ctx)
	require.NoError(t, err)
	require.Equal(t, 11, trimHeight)
	require.Equal(t, 11, pruneHeight)

	_, err = repo.GetATStateAtHeight(ctx, "AT1", 9)
	require.ErrorIs(t, err, domain.ErrATStateNotFound)
	latest, err := repo.GetLatestATState(ctx, "AT1")
	require.NoError(t, err)
	require.Equal(t, 10, latest.Height)
	latest, err = repo.GetLatestATState(ctx, "AT2")
	require.NoError(t, err)
	require.Equal(t, 3, latest.Height)
	require.NoError(t, repo.CheckConsistency(ctx))

	// Nothing left, watermarks only move forward.
	count, err = svc.TrimBatch(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
	count, err = svc.PruneBatch(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestShortChain(t *testing.T) {
	repoManager := newRepoManager(t)
	svc, err := retention.NewService(repoManager, newChainTip(2), testConfig)
	require.NoError(t, err)

	count, err := svc.TrimBatch(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	trimHeight, _, err := svc.Watermarks(ctx)
	require.NoError(t, err)
	require.Zero(t, trimHeight)
}

func TestChainTipFailure(t *testing.T) {
	tip := &mockChainTip{}
	tip.On("GetChainHeight", mock.Anything).Return(0, fmt.Errorf("node offline"))

	svc, err := retention.NewService(newRepoManager(t), tip, testConfig)
	require.NoError(t, err)

	_, err = svc.TrimBatch(ctx)
	require.Error(t, err)
	_, err = svc.PruneBatch(ctx)
	require.Error(t, err)
}

func TestStartStop(t *testing.T) {
	repoManager := newRepoManager(t)
	svc, err := retention.NewService(repoManager, newChainTip(12), testConfig)
	require.NoError(t, err)

	require.NoError(t, svc.Start(ctx))
	require.ErrorIs(t, svc.Start(ctx), retention.ErrAlreadyStarted)

	require.Eventually(t, func() bool {
		trimHeight, pruneHeight, err := svc.Watermarks(ctx)
		return err == nil && trimHeight == 11 && pruneHeight == 11
	}, 5*time.Second, 20*time.Millisecond)

	svc.Stop()
	svc.Stop()

	require.NoError(t, repoManager.ATRepository().CheckConsistency(ctx))
}

func TestNodeAheadOfStore(t *testing.T) {
	repoManager := inmemory.NewRepoManager(0)
	t.Cleanup(repoManager.Close)
	svc, err := retention.NewService(repoManager, newChainTip(200), testConfig)
	require.NoError(t, err)

	// No block applied yet, watermarks must not move.
	for i := 0; i < 3; i++ {
		count, err := svc.TrimBatch(ctx)
		require.NoError(t, err)
		require.Zero(t, count)
	}
	count, err := svc.PruneBatch(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
	trimHeight, pruneHeight, err := svc.Watermarks(ctx)
	require.NoError(t, err)
	require.Zero(t, trimHeight)
	require.Zero(t, pruneHeight)

	repo := repoManager.ATRepository()
	require.NoError(t, repo.SaveAT(ctx, domain.ATData{
		Address:        "AT1",
		CodeHash:       []byte{0x01},
		CreationHeight: 20,
		Creation:       1000,
		IsExecutable:   true,
	}))
	for _, height := range []int{20, 30, 150} {
		require.NoError(t, repo.SaveATState(ctx, domain.ATStateData{
			ATAddress: "AT1",
			Height:    height,
			Creation:  int64(1000 + height),
			StateHash: []byte{byte(height)},
			StateData: []byte(fmt.Sprintf("AT1-%d", height)),
		}))
	}
	saveBlocks(t, repoManager, 150)

	// Height 30 is the latest state below the keep window, so it stays whole.
	for _, expected := range []int{1, 0, 0} {
		count, err := svc.TrimBatch(ctx)
		require.NoError(t, err)
		require.Equal(t, expected, count)
	}
	trimHeight, _, err = svc.Watermarks(ctx)
	require.NoError(t, err)
	require.Equal(t, 149, trimHeight)

	state, err := repo.GetATStateAtHeight(ctx, "AT1", 20)
	require.NoError(t, err)
	require.True(t, state.IsTrimmed())
	state, err = repo.GetATStateAtHeight(ctx, "AT1", 30)
	require.NoError(t, err)
	require.False(t, state.IsTrimmed())

	count, err = svc.PruneBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	_, err = repo.GetATStateAtHeight(ctx, "AT1", 20)
	require.ErrorIs(t, err, domain.ErrATStateNotFound)
	_, err = repo.GetATStateAtHeight(ctx, "AT1", 30)
	require.NoError(t, err)

	latest, err := repo.GetLatestATState(ctx, "AT1")
	require.NoError(t, err)
	require.Equal(t, 150, latest.Height)
	require.False(t, latest.IsTrimmed())
	require.NoError(t, repo.CheckConsistency(ctx))
}

// newRepoManager returns a store with blocks applied up to height 12, where
// AT1 has states at heights 1 to 10 and AT2 at heights 1 to 3.
func newRepoManager(t *testing.T) ports.RepoManager {
	repoManager := inmemory.NewRepoManager(0)
	t.Cleanup(repoManager.Close)
	saveBlocks(t, repoManager, 12)

	repo := repoManager.ATRepository()
	for address, lastHeight := range map[string]int{"AT1": 10, "AT2": 3} {
		require.NoError(t, repo.SaveAT(ctx, domain.ATData{
			Address:        address,
			CodeHash:       []byte{0x01},
			CreationHeight: 1,
			Creation:       1000,
			IsExecutable:   true,
		}))
		for height := 1; height <= lastHeight; height++ {
			require.NoError(t, repo.SaveATState(ctx, domain.ATStateData{
				ATAddress: address,
				Height:    height,
				Creation:  int64(1000 + height),
				StateHash: []byte{byte(height)},
				StateData: []byte(fmt.Sprintf("%s-%d", address, height)),
			}))
		}
	}
	return repoManager
}

func saveBlocks(t *testing.T, repoManager ports.RepoManager, lastHeight int) {
	repo := repoManager.BlockRepository()
	for height := 1; height <= lastHeight; height++ {
		require.NoError(t, repo.SaveBlockRef(ctx, domain.BlockRef{
			Height:    height,
			Signature: fmt.Sprintf("block-%d", height),
			Timestamp: int64(height) * 60000,
		}))
	}
}
