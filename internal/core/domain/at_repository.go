package domain

import (
	"context"
	"time"
)

// ATRepository is the abstraction for the storage of ATs and of their
// per-height execution states.
type ATRepository interface {
	// GetATByAddress returns the AT with the given address or ErrATNotFound.
	GetATByAddress(ctx context.Context, address string) (*ATData, error)
	// ExistsAT returns whether an AT with the given address exists.
	ExistsAT(ctx context.Context, address string) (bool, error)
	// GetCreatorPublicKey returns the public key of the creator of the AT.
	GetCreatorPublicKey(ctx context.Context, address string) ([]byte, error)
	// GetAllExecutableATs returns all executable ATs ordered by creation height
	// and address.
	GetAllExecutableATs(ctx context.Context) ([]ATData, error)
	// GetATsByFunctionality returns a page of the ATs running the given code,
	// optionally filtered by the executable flag.
	GetATsByFunctionality(
		ctx context.Context, codeHash []byte, isExecutable *bool, page Page,
	) ([]ATData, error)
	// GetAllATsByFunctionality returns the ATs running any of the given codes.
	GetAllATsByFunctionality(
		ctx context.Context, codeHashes [][]byte, isExecutable *bool,
	) ([]ATData, error)
	// GetATCreationHeight returns the height of the block that deployed the AT.
	GetATCreationHeight(ctx context.Context, address string) (int, error)
	// SaveAT inserts or replaces the given AT.
	SaveAT(ctx context.Context, at ATData) error
	// UpdateAT applies updateFn to the AT with the given address.
	UpdateAT(
		ctx context.Context, address string,
		updateFn func(at *ATData) (*ATData, error),
	) error
	// DeleteAT removes the AT together with all its states.
	DeleteAT(ctx context.Context, address string) error

	// GetATStateAtHeight returns the state with exactly the given height or
	// ErrATStateNotFound.
	GetATStateAtHeight(
		ctx context.Context, address string, height int,
	) (*ATStateData, error)
	// GetLatestATState returns the state with the greatest height, trimmed or
	// not.
	GetLatestATState(ctx context.Context, address string) (*ATStateData, error)
	// GetMatchingFinalATStates returns the final states of the ATs matching
	// the given filter.
	GetMatchingFinalATStates(
		ctx context.Context, filter MatchingStatesFilter, page Page,
	) ([]ATStateData, error)
	// GetMatchingFinalATStatesQuorum returns at least minimumCount matching
	// final states spanning at least minimumPeriod, if enough exist, capped to
	// maximumCount. Results are sorted most recent first.
	GetMatchingFinalATStatesQuorum(
		ctx context.Context, filter MatchingStatesFilter,
		minimumCount, maximumCount int, minimumPeriod time.Duration,
	) ([]ATStateData, error)
	// GetBlockATStatesAtHeight returns all the states produced at height.
	GetBlockATStatesAtHeight(ctx context.Context, height int) ([]ATStateData, error)
	// RebuildLatestATStates recomputes the latest-state cache considering only
	// states up to maxHeight.
	RebuildLatestATStates(ctx context.Context, maxHeight int) error

	// GetATTrimHeight returns the first height not yet trimmed.
	GetATTrimHeight(ctx context.Context) (int, error)
	// SetATTrimHeight persists the trim watermark independently of any
	// transaction in ctx.
	SetATTrimHeight(ctx context.Context, height int) error
	// TrimATStates drops the payload of at most limit states in the inclusive
	// height range and returns how many rows were trimmed.
	TrimATStates(ctx context.Context, minHeight, maxHeight, limit int) (int, error)
	// GetATPruneHeight returns the first height not yet pruned.
	GetATPruneHeight(ctx context.Context) (int, error)
	// SetATPruneHeight persists the prune watermark independently of any
	// transaction in ctx.
	SetATPruneHeight(ctx context.Context, height int) error
	// PruneATStates deletes the states in the inclusive height range and
	// returns how many rows were deleted.
	PruneATStates(ctx context.Context, minHeight, maxHeight int) (int, error)
	// HasATStatesHeightIndex returns whether states can be looked up by height
	// without a full scan.
	HasATStatesHeightIndex(ctx context.Context) (bool, error)

	// SaveATState inserts or replaces the state at (address, height).
	SaveATState(ctx context.Context, state ATStateData) error
	// DeleteATState removes the state at (address, height), if any.
	DeleteATState(ctx context.Context, address string, height int) error
	// DeleteATStatesAtHeight removes every state produced at height.
	DeleteATStatesAtHeight(ctx context.Context, height int) error
	// ForEachATState calls fn for every stored state ordered by address and
	// height. Iteration stops at the first error.
	ForEachATState(ctx context.Context, fn func(ATStateData) error) error
	// CheckConsistency verifies the indexes against the stored rows.
	CheckConsistency(ctx context.Context) error
}

// MatchingStatesFilter selects final AT states, ie. the latest state of each
// AT running the code identified by CodeHash.
type MatchingStatesFilter struct {
	CodeHash           []byte
	IsFinished         *bool
	DataByteOffset     *int
	ExpectedValue      *uint64
	MinimumFinalHeight *int
}

// Validate ...
func (f MatchingStatesFilter) Validate() error {
	if len(f.CodeHash) <= 0 {
		return ErrInvalidMatchingFilter
	}
	if (f.DataByteOffset == nil) != (f.ExpectedValue == nil) {
		return ErrInvalidMatchingFilter
	}
	if f.DataByteOffset != nil && *f.DataByteOffset < 0 {
		return ErrInvalidMatchingFilter
	}
	return nil
}

// Matches returns whether the given final state, belonging to an AT with the
// right code hash, satisfies the filter.
func (f MatchingStatesFilter) Matches(state ATStateData) bool {
	if f.IsFinished != nil && state.IsFinished != *f.IsFinished {
		return false
	}
	if f.MinimumFinalHeight != nil && state.Height < *f.MinimumFinalHeight {
		return false
	}
	if f.DataByteOffset != nil {
		value, ok := state.DataValueHex(*f.DataByteOffset)
		if !ok || value != ExpectedValueHex(*f.ExpectedValue) {
			return false
		}
	}
	return true
}

// BlockRef identifies a block applied to the AT state store.
type BlockRef struct {
	Height    int
	Signature string
	Timestamp int64
	// DeployedATs lists the addresses of the ATs deployed by the block.
	DeployedATs []string
}

// BlockRepository keeps track of the blocks applied to the AT state store so
// that chain reorganizations can be detected.
type BlockRepository interface {
	GetBlockRef(ctx context.Context, height int) (*BlockRef, error)
	GetLastBlockRef(ctx context.Context) (*BlockRef, error)
	SaveBlockRef(ctx context.Context, block BlockRef) error
	DeleteBlockRef(ctx context.Context, height int) error
}
