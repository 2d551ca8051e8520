package db_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qortal/qortd/internal/core/domain"
	"github.com/stretchr/testify/require"
)

func TestATRepositoryImplementations(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T, repo repository)
	}{
		{"testSaveAndGetATStates", testSaveAndGetATStates},
		{"testGetATsByFunctionality", testGetATsByFunctionality},
		{"testGetMatchingFinalATStates", testGetMatchingFinalATStates},
		{"testGetMatchingFinalATStatesQuorum", testGetMatchingFinalATStatesQuorum},
		{"testTrimATStates", testTrimATStates},
		{"testTrimATStatesLimit", testTrimATStatesLimit},
		{"testTrimAndPruneProtection", testTrimAndPruneProtection},
		{"testPruneATStates", testPruneATStates},
		{"testDeleteATStatesAtHeight", testDeleteATStatesAtHeight},
		{"testDeleteAT", testDeleteAT},
		{"testWatermarks", testWatermarks},
		{"testForEachATState", testForEachATState},
	}

	for i := range tests {
		tt := tests[i]

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			for _, repo := range createRepositories(t) {
				repo := repo
				t.Run(repo.Name, func(t *testing.T) {
					tt.fn(t, repo)
				})
			}
		})
	}
}

func testSaveAndGetATStates(t *testing.T, repo repository) {
	ctx := context.Background()
	atRepo := repo.ATRepository()

	at := makeRandomAT(5)
	err := atRepo.SaveAT(ctx, at)
	require.NoError(t, err)

	err = atRepo.SaveAT(ctx, domain.ATData{Address: randomAddress()})
	require.ErrorIs(t, err, domain.ErrInvalidAT)

	gotAT, err := atRepo.GetATByAddress(ctx, at.Address)
	require.NoError(t, err)
	require.Equal(t, at, *gotAT)

	exists, err := atRepo.ExistsAT(ctx, at.Address)
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = atRepo.ExistsAT(ctx, randomAddress())
	require.NoError(t, err)
	require.False(t, exists)

	creatorPubkey, err := atRepo.GetCreatorPublicKey(ctx, at.Address)
	require.NoError(t, err)
	require.Equal(t, at.CreatorPublicKey, creatorPubkey)

	creationHeight, err := atRepo.GetATCreationHeight(ctx, at.Address)
	require.NoError(t, err)
	require.Equal(t, 5, creationHeight)

	invalidStates := []struct {
		state       domain.ATStateData
		expectedErr error
	}{
		{domain.ATStateData{Height: 1, Creation: 1, StateHash: []byte{1}}, domain.ErrMissingAddress},
		{domain.ATStateData{ATAddress: at.Address, Creation: 1, StateHash: []byte{1}}, domain.ErrMissingHeight},
		{domain.ATStateData{ATAddress: at.Address, Height: 1, StateHash: []byte{1}}, domain.ErrMissingCreation},
		{domain.ATStateData{ATAddress: at.Address, Height: 1, Creation: 1}, domain.ErrMissingStateHash},
	}
	for _, tt := range invalidStates {
		err := atRepo.SaveATState(ctx, tt.state)
		require.ErrorIs(t, err, domain.ErrInvalidATState)
		require.Contains(t, err.Error(), tt.expectedErr.Error())
	}

	states := []domain.ATStateData{
		makeState(at.Address, 10, 1000, 1, 0),
		makeState(at.Address, 20, 2000, 1, 0),
		makeState(at.Address, 30, 3000, 1, 4),
	}
	for _, s := range states {
		err := atRepo.SaveATState(ctx, s)
		require.NoError(t, err)
	}

	state, err := atRepo.GetATStateAtHeight(ctx, at.Address, 20)
	require.NoError(t, err)
	require.Equal(t, states[1], *state)

	state, err = atRepo.GetATStateAtHeight(ctx, at.Address, 15)
	require.ErrorIs(t, err, domain.ErrATStateNotFound)
	require.Nil(t, state)

	state, err = atRepo.GetLatestATState(ctx, at.Address)
	require.NoError(t, err)
	require.Equal(t, states[2], *state)

	state, err = atRepo.GetLatestATState(ctx, randomAddress())
	require.ErrorIs(t, err, domain.ErrATStateNotFound)
	require.Nil(t, state)

	blockStates, err := atRepo.GetBlockATStatesAtHeight(ctx, 20)
	require.NoError(t, err)
	require.Len(t, blockStates, 1)
	require.Equal(t, states[1], blockStates[0])

	blockStates, err = atRepo.GetBlockATStatesAtHeight(ctx, 21)
	require.NoError(t, err)
	require.Empty(t, blockStates)

	hasIndex, err := atRepo.HasATStatesHeightIndex(ctx)
	require.NoError(t, err)
	require.True(t, hasIndex)

	err = atRepo.CheckConsistency(ctx)
	require.NoError(t, err)
}

func testGetATsByFunctionality(t *testing.T, repo repository) {
	ctx := context.Background()
	atRepo := repo.ATRepository()

	ats := []domain.ATData{makeRandomAT(1), makeRandomAT(2), makeRandomAT(3)}
	ats[1].IsExecutable = false
	other := makeRandomAT(4)
	other.CodeHash = randomBytes(32)
	for _, at := range append(ats, other) {
		err := atRepo.SaveAT(ctx, at)
		require.NoError(t, err)
	}

	found, err := atRepo.GetATsByFunctionality(ctx, codeHash, nil, domain.Unbounded)
	require.NoError(t, err)
	require.Equal(t, ats, found)

	found, err = atRepo.GetATsByFunctionality(
		ctx, codeHash, boolPtr(true), domain.Unbounded,
	)
	require.NoError(t, err)
	require.Equal(t, []domain.ATData{ats[0], ats[2]}, found)

	found, err = atRepo.GetATsByFunctionality(
		ctx, codeHash, nil, domain.NewPage(1, 1, false),
	)
	require.NoError(t, err)
	require.Equal(t, []domain.ATData{ats[1]}, found)

	found, err = atRepo.GetATsByFunctionality(
		ctx, codeHash, nil, domain.NewPage(2, 0, true),
	)
	require.NoError(t, err)
	require.Equal(t, []domain.ATData{ats[2], ats[1]}, found)

	found, err = atRepo.GetAllATsByFunctionality(
		ctx, [][]byte{codeHash, other.CodeHash}, boolPtr(true),
	)
	require.NoError(t, err)
	require.Equal(t, []domain.ATData{ats[0], ats[2], other}, found)

	found, err = atRepo.GetAllExecutableATs(ctx)
	require.NoError(t, err)
	require.Len(t, found, 3)

	err = atRepo.UpdateAT(ctx, ats[1].Address, func(at *domain.ATData) (*domain.ATData, error) {
		at.IsExecutable = true
		at.IsFinished = true
		return at, nil
	})
	require.NoError(t, err)

	found, err = atRepo.GetAllExecutableATs(ctx)
	require.NoError(t, err)
	require.Len(t, found, 4)

	err = atRepo.UpdateAT(ctx, ats[1].Address, func(at *domain.ATData) (*domain.ATData, error) {
		return nil, errors.New("something went wrong")
	})
	require.EqualError(t, err, "something went wrong")

	err = atRepo.UpdateAT(ctx, randomAddress(), func(at *domain.ATData) (*domain.ATData, error) {
		return at, nil
	})
	require.ErrorIs(t, err, domain.ErrATNotFound)
}

func testGetMatchingFinalATStates(t *testing.T, repo repository) {
	ctx := context.Background()
	atRepo := repo.ATRepository()

	at1, at2, at3 := makeRandomAT(1), makeRandomAT(2), makeRandomAT(3)
	at3.CodeHash = randomBytes(32)
	for _, at := range []domain.ATData{at1, at2, at3} {
		err := atRepo.SaveAT(ctx, at)
		require.NoError(t, err)
	}

	finalState1 := makeState(at1.Address, 30, 3000, 1, 4)
	finalState1.IsFinished = true
	finalState2 := makeState(at2.Address, 15, 1500, 1, 0)
	finalState3 := makeState(at3.Address, 25, 2500, 1, 4)
	finalState3.IsFinished = true

	states := []domain.ATStateData{
		makeState(at1.Address, 10, 1000, 1, 0),
		makeState(at1.Address, 20, 2000, 1, 0),
		finalState1, finalState2, finalState3,
	}
	for _, s := range states {
		err := atRepo.SaveATState(ctx, s)
		require.NoError(t, err)
	}

	tests := []struct {
		name     string
		filter   domain.MatchingStatesFilter
		page     domain.Page
		expected []domain.ATStateData
	}{
		{
			name:     "code hash only",
			filter:   domain.MatchingStatesFilter{CodeHash: codeHash},
			page:     domain.Unbounded,
			expected: []domain.ATStateData{finalState2, finalState1},
		},
		{
			name: "finished",
			filter: domain.MatchingStatesFilter{
				CodeHash:   codeHash,
				IsFinished: boolPtr(true),
			},
			page:     domain.Unbounded,
			expected: []domain.ATStateData{finalState1},
		},
		{
			name: "expected value of final state",
			filter: domain.MatchingStatesFilter{
				CodeHash:       codeHash,
				DataByteOffset: intPtr(8),
				ExpectedValue:  uint64Ptr(4),
			},
			page:     domain.Unbounded,
			expected: []domain.ATStateData{finalState1},
		},
		{
			name: "non final states are ignored",
			filter: domain.MatchingStatesFilter{
				CodeHash:       codeHash,
				DataByteOffset: intPtr(8),
				ExpectedValue:  uint64Ptr(0),
			},
			page:     domain.Unbounded,
			expected: []domain.ATStateData{finalState2},
		},
		{
			name: "offset out of payload",
			filter: domain.MatchingStatesFilter{
				CodeHash:       codeHash,
				DataByteOffset: intPtr(16),
				ExpectedValue:  uint64Ptr(0),
			},
			page:     domain.Unbounded,
			expected: []domain.ATStateData{},
		},
		{
			name: "minimum final height",
			filter: domain.MatchingStatesFilter{
				CodeHash:           codeHash,
				MinimumFinalHeight: intPtr(20),
			},
			page:     domain.Unbounded,
			expected: []domain.ATStateData{finalState1},
		},
		{
			name:     "reverse",
			filter:   domain.MatchingStatesFilter{CodeHash: codeHash},
			page:     domain.NewPage(0, 0, true),
			expected: []domain.ATStateData{finalState1, finalState2},
		},
		{
			name:     "offset and limit",
			filter:   domain.MatchingStatesFilter{CodeHash: codeHash},
			page:     domain.NewPage(1, 1, false),
			expected: []domain.ATStateData{finalState1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, err := atRepo.GetMatchingFinalATStates(ctx, tt.filter, tt.page)
			require.NoError(t, err)
			require.Equal(t, tt.expected, found)
		})
	}

	t.Run("invalid filter", func(t *testing.T) {
		_, err := atRepo.GetMatchingFinalATStates(
			ctx, domain.MatchingStatesFilter{}, domain.Unbounded,
		)
		require.ErrorIs(t, err, domain.ErrInvalidMatchingFilter)

		_, err = atRepo.GetMatchingFinalATStates(
			ctx, domain.MatchingStatesFilter{
				CodeHash:       codeHash,
				DataByteOffset: intPtr(8),
			}, domain.Unbounded,
		)
		require.ErrorIs(t, err, domain.ErrInvalidMatchingFilter)
	})
}

func testGetMatchingFinalATStatesQuorum(t *testing.T, repo repository) {
	ctx := context.Background()
	atRepo := repo.ATRepository()

	finalStates := make([]domain.ATStateData, 0, 4)
	for i := 1; i <= 4; i++ {
		at := makeRandomAT(i)
		err := atRepo.SaveAT(ctx, at)
		require.NoError(t, err)

		state := makeState(at.Address, i*10, int64(i)*1000, 1, 4)
		err = atRepo.SaveATState(ctx, state)
		require.NoError(t, err)
		finalStates = append(finalStates, state)
	}
	filter := domain.MatchingStatesFilter{CodeHash: codeHash}

	tests := []struct {
		name          string
		minimumCount  int
		maximumCount  int
		minimumPeriod time.Duration
		expected      []domain.ATStateData
	}{
		{
			name:          "extended by period",
			minimumCount:  2,
			minimumPeriod: 1500 * time.Millisecond,
			expected:      []domain.ATStateData{finalStates[3], finalStates[2], finalStates[1]},
		},
		{
			name:          "capped by maximum count",
			minimumCount:  2,
			maximumCount:  2,
			minimumPeriod: 1500 * time.Millisecond,
			expected:      []domain.ATStateData{finalStates[3], finalStates[2]},
		},
		{
			name:         "minimum count only",
			minimumCount: 3,
			expected:     []domain.ATStateData{finalStates[3], finalStates[2], finalStates[1]},
		},
		{
			name:          "whole period",
			minimumCount:  1,
			minimumPeriod: time.Hour,
			expected: []domain.ATStateData{
				finalStates[3], finalStates[2], finalStates[1], finalStates[0],
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, err := atRepo.GetMatchingFinalATStatesQuorum(
				ctx, filter, tt.minimumCount, tt.maximumCount, tt.minimumPeriod,
			)
			require.NoError(t, err)
			require.Equal(t, tt.expected, found)
		})
	}
}

func testTrimATStates(t *testing.T, repo repository) {
	ctx := context.Background()
	atRepo := repo.ATRepository()

	at := makeRandomAT(1)
	err := atRepo.SaveAT(ctx, at)
	require.NoError(t, err)

	states := []domain.ATStateData{
		makeState(at.Address, 10, 1000, 1, 0),
		makeState(at.Address, 20, 2000, 1, 0),
		makeState(at.Address, 30, 3000, 1, 4),
	}
	for _, s := range states {
		err := atRepo.SaveATState(ctx, s)
		require.NoError(t, err)
	}

	err = atRepo.RebuildLatestATStates(ctx, 30)
	require.NoError(t, err)

	count, err := atRepo.TrimATStates(ctx, 20, 10, 10)
	require.NoError(t, err)
	require.Zero(t, count)

	count, err = atRepo.TrimATStates(ctx, 10, 20, 10)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	for _, s := range states[:2] {
		state, err := atRepo.GetATStateAtHeight(ctx, at.Address, s.Height)
		require.NoError(t, err)
		require.True(t, state.IsTrimmed())
		require.Equal(t, s.StateHash, state.StateHash)
		require.Equal(t, s.Creation, state.Creation)
	}

	latest, err := atRepo.GetLatestATState(ctx, at.Address)
	require.NoError(t, err)
	require.False(t, latest.IsTrimmed())
	require.Equal(t, states[2].StateData, latest.StateData)

	count, err = atRepo.TrimATStates(ctx, 10, 20, 10)
	require.NoError(t, err)
	require.Zero(t, count)

	err = atRepo.CheckConsistency(ctx)
	require.NoError(t, err)
}

func testTrimATStatesLimit(t *testing.T, repo repository) {
	ctx := context.Background()
	atRepo := repo.ATRepository()

	for i := 0; i < 5; i++ {
		at := makeRandomAT(1)
		err := atRepo.SaveAT(ctx, at)
		require.NoError(t, err)
		err = atRepo.SaveATState(ctx, makeState(at.Address, 10, 1000, 1))
		require.NoError(t, err)
		err = atRepo.SaveATState(ctx, makeState(at.Address, 20, 2000, 2))
		require.NoError(t, err)
	}

	count, err := atRepo.TrimATStates(ctx, 10, 10, 3)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	count, err = atRepo.TrimATStates(ctx, 10, 10, 3)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	count, err = atRepo.TrimATStates(ctx, 10, 20, 0)
	require.NoError(t, err)
	require.Zero(t, count)
}

func testTrimAndPruneProtection(t *testing.T, repo repository) {
	ctx := context.Background()
	atRepo := repo.ATRepository()

	at := makeRandomAT(1)
	err := atRepo.SaveAT(ctx, at)
	require.NoError(t, err)
	for _, h := range []int{10, 20, 30} {
		err := atRepo.SaveATState(ctx, makeState(at.Address, h, int64(h)*100, 1))
		require.NoError(t, err)
	}

	// The cache references height 20, the true latest row is at 30.
	err = atRepo.RebuildLatestATStates(ctx, 25)
	require.NoError(t, err)

	count, err := atRepo.TrimATStates(ctx, 0, 30, 0)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = atRepo.PruneATStates(ctx, 0, 30)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	_, err = atRepo.GetATStateAtHeight(ctx, at.Address, 10)
	require.ErrorIs(t, err, domain.ErrATStateNotFound)

	for _, h := range []int{20, 30} {
		state, err := atRepo.GetATStateAtHeight(ctx, at.Address, h)
		require.NoError(t, err)
		require.False(t, state.IsTrimmed())
	}

	err = atRepo.CheckConsistency(ctx)
	require.NoError(t, err)
}

func testPruneATStates(t *testing.T, repo repository) {
	ctx := context.Background()
	atRepo := repo.ATRepository()

	at := makeRandomAT(1)
	err := atRepo.SaveAT(ctx, at)
	require.NoError(t, err)
	for _, h := range []int{10, 20, 30} {
		err := atRepo.SaveATState(ctx, makeState(at.Address, h, int64(h)*100, 1))
		require.NoError(t, err)
	}

	count, err := atRepo.PruneATStates(ctx, 30, 10)
	require.NoError(t, err)
	require.Zero(t, count)

	count, err = atRepo.PruneATStates(ctx, 10, 30)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	latest, err := atRepo.GetLatestATState(ctx, at.Address)
	require.NoError(t, err)
	require.Equal(t, 30, latest.Height)

	blockStates, err := atRepo.GetBlockATStatesAtHeight(ctx, 20)
	require.NoError(t, err)
	require.Empty(t, blockStates)

	count, err = atRepo.PruneATStates(ctx, 10, 30)
	require.NoError(t, err)
	require.Zero(t, count)

	err = atRepo.CheckConsistency(ctx)
	require.NoError(t, err)
}

func testDeleteATStatesAtHeight(t *testing.T, repo repository) {
	ctx := context.Background()
	atRepo := repo.ATRepository()

	addresses := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		at := makeRandomAT(1)
		err := atRepo.SaveAT(ctx, at)
		require.NoError(t, err)
		for _, h := range []int{10, 20} {
			err := atRepo.SaveATState(ctx, makeState(at.Address, h, int64(h)*100, 1))
			require.NoError(t, err)
		}
		addresses = append(addresses, at.Address)
	}

	err := atRepo.RebuildLatestATStates(ctx, 20)
	require.NoError(t, err)

	err = atRepo.DeleteATStatesAtHeight(ctx, 20)
	require.NoError(t, err)

	for _, address := range addresses {
		latest, err := atRepo.GetLatestATState(ctx, address)
		require.NoError(t, err)
		require.Equal(t, 10, latest.Height)
	}

	// Dangling cache entries must have been removed along with the rows.
	err = atRepo.CheckConsistency(ctx)
	require.NoError(t, err)

	err = atRepo.DeleteATState(ctx, addresses[0], 10)
	require.NoError(t, err)

	_, err = atRepo.GetLatestATState(ctx, addresses[0])
	require.ErrorIs(t, err, domain.ErrATStateNotFound)

	err = atRepo.DeleteATState(ctx, addresses[0], 10)
	require.NoError(t, err)
}

func testDeleteAT(t *testing.T, repo repository) {
	ctx := context.Background()
	atRepo := repo.ATRepository()

	at := makeRandomAT(1)
	err := atRepo.SaveAT(ctx, at)
	require.NoError(t, err)
	for _, h := range []int{10, 20} {
		err := atRepo.SaveATState(ctx, makeState(at.Address, h, int64(h)*100, 1))
		require.NoError(t, err)
	}
	err = atRepo.RebuildLatestATStates(ctx, 20)
	require.NoError(t, err)

	err = atRepo.DeleteAT(ctx, at.Address)
	require.NoError(t, err)

	_, err = atRepo.GetATByAddress(ctx, at.Address)
	require.ErrorIs(t, err, domain.ErrATNotFound)

	_, err = atRepo.GetLatestATState(ctx, at.Address)
	require.ErrorIs(t, err, domain.ErrATStateNotFound)

	blockStates, err := atRepo.GetBlockATStatesAtHeight(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, blockStates)

	err = atRepo.CheckConsistency(ctx)
	require.NoError(t, err)
}

func testWatermarks(t *testing.T, repo repository) {
	ctx := context.Background()
	atRepo := repo.ATRepository()

	trimHeight, err := atRepo.GetATTrimHeight(ctx)
	require.NoError(t, err)
	require.Zero(t, trimHeight)

	err = atRepo.SetATTrimHeight(ctx, 100)
	require.NoError(t, err)
	err = atRepo.SetATPruneHeight(ctx, 50)
	require.NoError(t, err)

	trimHeight, err = atRepo.GetATTrimHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, 100, trimHeight)

	pruneHeight, err := atRepo.GetATPruneHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, 50, pruneHeight)

	// Watermarks are persisted whatever the outcome of the enclosing
	// transaction.
	_, err = repo.write(func(ctx context.Context) (interface{}, error) {
		if err := atRepo.SetATTrimHeight(ctx, 200); err != nil {
			return nil, err
		}
		return nil, errors.New("something went wrong")
	})
	require.Error(t, err)

	trimHeight, err = atRepo.GetATTrimHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, 200, trimHeight)
}

func testForEachATState(t *testing.T, repo repository) {
	ctx := context.Background()
	atRepo := repo.ATRepository()

	at := makeRandomAT(1)
	err := atRepo.SaveAT(ctx, at)
	require.NoError(t, err)
	for _, h := range []int{10, 20, 30} {
		err := atRepo.SaveATState(ctx, makeState(at.Address, h, int64(h)*100, 1))
		require.NoError(t, err)
	}

	heights := make([]int, 0)
	err = atRepo.ForEachATState(ctx, func(s domain.ATStateData) error {
		heights = append(heights, s.Height)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{10, 20, 30}, heights)

	stop := errors.New("stop")
	err = atRepo.ForEachATState(ctx, func(s domain.ATStateData) error {
		return stop
	})
	require.ErrorIs(t, err, stop)
}
