package inmemory

import (
	"context"
	"fmt"
	"time"

	"github.com/qortal/qortd/internal/core/domain"
)

// number of rows visited between two context checks during scans.
const scanCheckInterval = 256

type atRepositoryImpl struct {
	rm *repoManager
}

func (r *atRepositoryImpl) GetATByAddress(
	ctx context.Context, address string,
) (*domain.ATData, error) {
	var at *domain.ATData
	err := r.rm.read(ctx, func(s *session) error {
		a, ok := r.rm.store.ats[address]
		if !ok {
			return domain.ErrATNotFound
		}
		a = cloneAT(a)
		at = &a
		return nil
	})
	return at, err
}

func (r *atRepositoryImpl) ExistsAT(
	ctx context.Context, address string,
) (bool, error) {
	var exists bool
	err := r.rm.read(ctx, func(s *session) error {
		_, exists = r.rm.store.ats[address]
		return nil
	})
	return exists, err
}

func (r *atRepositoryImpl) GetCreatorPublicKey(
	ctx context.Context, address string,
) ([]byte, error) {
	at, err := r.GetATByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	return at.CreatorPublicKey, nil
}

func (r *atRepositoryImpl) GetAllExecutableATs(
	ctx context.Context,
) ([]domain.ATData, error) {
	return r.findATs(ctx, func(a domain.ATData) bool {
		return a.IsExecutable
	}, domain.Unbounded)
}

func (r *atRepositoryImpl) GetATsByFunctionality(
	ctx context.Context, codeHash []byte, isExecutable *bool, page domain.Page,
) ([]domain.ATData, error) {
	return r.findATs(ctx, func(a domain.ATData) bool {
		return a.HasCodeHash(codeHash) &&
			(isExecutable == nil || a.IsExecutable == *isExecutable)
	}, page)
}

func (r *atRepositoryImpl) GetAllATsByFunctionality(
	ctx context.Context, codeHashes [][]byte, isExecutable *bool,
) ([]domain.ATData, error) {
	return r.findATs(ctx, func(a domain.ATData) bool {
		if isExecutable != nil && a.IsExecutable != *isExecutable {
			return false
		}
		for _, codeHash := range codeHashes {
			if a.HasCodeHash(codeHash) {
				return true
			}
		}
		return false
	}, domain.Unbounded)
}

func (r *atRepositoryImpl) GetATCreationHeight(
	ctx context.Context, address string,
) (int, error) {
	at, err := r.GetATByAddress(ctx, address)
	if err != nil {
		return 0, err
	}
	return at.CreationHeight, nil
}

func (r *atRepositoryImpl) SaveAT(ctx context.Context, at domain.ATData) error {
	if at.Address == "" || len(at.CodeHash) <= 0 {
		return domain.ErrInvalidAT
	}
	return r.rm.write(ctx, func(s *session) error {
		mapPut(s, r.rm.store.ats, at.Address, cloneAT(at))
		return nil
	})
}

func (r *atRepositoryImpl) UpdateAT(
	ctx context.Context, address string,
	updateFn func(at *domain.ATData) (*domain.ATData, error),
) error {
	return r.rm.write(ctx, func(s *session) error {
		current, ok := r.rm.store.ats[address]
		if !ok {
			return domain.ErrATNotFound
		}
		current = cloneAT(current)
		updated, err := updateFn(&current)
		if err != nil {
			return err
		}
		if updated.Address != address {
			return ErrAddressMustNotChange
		}
		mapPut(s, r.rm.store.ats, address, cloneAT(*updated))
		return nil
	})
}

func (r *atRepositoryImpl) DeleteAT(ctx context.Context, address string) error {
	return r.rm.write(ctx, func(s *session) error {
		st := r.rm.store
		for _, state := range st.statesOf(address) {
			s.deleteState(st, address, state.Height)
		}
		mapDelete(s, st.latest, address)
		mapDelete(s, st.ats, address)
		return nil
	})
}

func (r *atRepositoryImpl) GetATStateAtHeight(
	ctx context.Context, address string, height int,
) (*domain.ATStateData, error) {
	var state *domain.ATStateData
	err := r.rm.read(ctx, func(s *session) error {
		found, ok := r.rm.store.getState(address, height)
		if !ok {
			return domain.ErrATStateNotFound
		}
		found = cloneState(found)
		state = &found
		return nil
	})
	return state, err
}

func (r *atRepositoryImpl) GetLatestATState(
	ctx context.Context, address string,
) (*domain.ATStateData, error) {
	var state *domain.ATStateData
	err := r.rm.read(ctx, func(s *session) error {
		found, ok := r.rm.store.latestState(address)
		if !ok {
			return domain.ErrATStateNotFound
		}
		found = cloneState(found)
		state = &found
		return nil
	})
	return state, err
}

func (r *atRepositoryImpl) GetMatchingFinalATStates(
	ctx context.Context, filter domain.MatchingStatesFilter, page domain.Page,
) ([]domain.ATStateData, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	var states []domain.ATStateData
	err := r.rm.read(ctx, func(s *session) error {
		finalStates, err := r.finalStates(ctx, filter.CodeHash)
		if err != nil {
			return err
		}
		states = domain.FilterFinalStates(finalStates, filter, page)
		return nil
	})
	return states, err
}

func (r *atRepositoryImpl) GetMatchingFinalATStatesQuorum(
	ctx context.Context, filter domain.MatchingStatesFilter,
	minimumCount, maximumCount int, minimumPeriod time.Duration,
) ([]domain.ATStateData, error) {
	matches, err := r.GetMatchingFinalATStates(ctx, filter, domain.Unbounded)
	if err != nil {
		return nil, err
	}
	return domain.SelectQuorum(matches, minimumCount, maximumCount, minimumPeriod), nil
}

func (r *atRepositoryImpl) GetBlockATStatesAtHeight(
	ctx context.Context, height int,
) ([]domain.ATStateData, error) {
	states := make([]domain.ATStateData, 0)
	err := r.rm.read(ctx, func(s *session) error {
		st := r.rm.store
		for _, k := range st.heightKeysInRange(height, height) {
			if state, ok := st.getState(k.address, k.height); ok {
				states = append(states, cloneState(state))
			}
		}
		return nil
	})
	return states, err
}

func (r *atRepositoryImpl) RebuildLatestATStates(
	ctx context.Context, maxHeight int,
) error {
	return r.rm.write(ctx, func(s *session) error {
		st := r.rm.store
		latest := make(map[string]int)
		visited := 0
		var scanErr error
		st.states.Ascend(func(state domain.ATStateData) bool {
			visited++
			if visited%scanCheckInterval == 0 {
				if scanErr = domain.CheckContext(ctx); scanErr != nil {
					return false
				}
			}
			if state.Height <= maxHeight {
				latest[state.ATAddress] = state.Height
			}
			return true
		})
		if scanErr != nil {
			return scanErr
		}

		prev := st.latest
		st.latest = latest
		s.undo = append(s.undo, func() {
			st.latest = prev
		})
		return nil
	})
}

func (r *atRepositoryImpl) GetATTrimHeight(ctx context.Context) (int, error) {
	if err := domain.CheckContext(ctx); err != nil {
		return 0, err
	}
	r.rm.metaLock.Lock()
	defer r.rm.metaLock.Unlock()
	return r.rm.trimHeight, nil
}

func (r *atRepositoryImpl) SetATTrimHeight(ctx context.Context, height int) error {
	if err := domain.CheckContext(ctx); err != nil {
		return err
	}
	r.rm.metaLock.Lock()
	defer r.rm.metaLock.Unlock()
	r.rm.trimHeight = height
	return nil
}

func (r *atRepositoryImpl) GetATPruneHeight(ctx context.Context) (int, error) {
	if err := domain.CheckContext(ctx); err != nil {
		return 0, err
	}
	r.rm.metaLock.Lock()
	defer r.rm.metaLock.Unlock()
	return r.rm.pruneHeight, nil
}

func (r *atRepositoryImpl) SetATPruneHeight(ctx context.Context, height int) error {
	if err := domain.CheckContext(ctx); err != nil {
		return err
	}
	r.rm.metaLock.Lock()
	defer r.rm.metaLock.Unlock()
	r.rm.pruneHeight = height
	return nil
}

func (r *atRepositoryImpl) TrimATStates(
	ctx context.Context, minHeight, maxHeight, limit int,
) (int, error) {
	if minHeight > maxHeight {
		return 0, nil
	}
	count := 0
	err := r.rm.write(ctx, func(s *session) error {
		st := r.rm.store
		protected := newProtection(st)
		for i, k := range st.heightKeysInRange(minHeight, maxHeight) {
			if i%scanCheckInterval == 0 {
				if err := domain.CheckContext(ctx); err != nil {
					return err
				}
			}
			state, ok := st.getState(k.address, k.height)
			if !ok || state.IsTrimmed() || protected.isProtected(state) {
				continue
			}
			treePut(s, st.states, state.Trimmed())
			count++
			if limit > 0 && count >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *atRepositoryImpl) PruneATStates(
	ctx context.Context, minHeight, maxHeight int,
) (int, error) {
	if minHeight > maxHeight {
		return 0, nil
	}
	count := 0
	err := r.rm.write(ctx, func(s *session) error {
		st := r.rm.store
		protected := newProtection(st)
		for i, k := range st.heightKeysInRange(minHeight, maxHeight) {
			if i%scanCheckInterval == 0 {
				if err := domain.CheckContext(ctx); err != nil {
					return err
				}
			}
			state, ok := st.getState(k.address, k.height)
			if !ok || protected.isProtected(state) {
				continue
			}
			s.deleteState(st, k.address, k.height)
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *atRepositoryImpl) HasATStatesHeightIndex(ctx context.Context) (bool, error) {
	return true, domain.CheckContext(ctx)
}

func (r *atRepositoryImpl) SaveATState(
	ctx context.Context, state domain.ATStateData,
) error {
	if err := state.Validate(); err != nil {
		return err
	}
	return r.rm.write(ctx, func(s *session) error {
		s.putState(r.rm.store, cloneState(state))
		return nil
	})
}

func (r *atRepositoryImpl) DeleteATState(
	ctx context.Context, address string, height int,
) error {
	return r.rm.write(ctx, func(s *session) error {
		s.deleteState(r.rm.store, address, height)
		return nil
	})
}

func (r *atRepositoryImpl) DeleteATStatesAtHeight(
	ctx context.Context, height int,
) error {
	return r.rm.write(ctx, func(s *session) error {
		st := r.rm.store
		for _, k := range st.heightKeysInRange(height, height) {
			s.deleteState(st, k.address, k.height)
		}
		return nil
	})
}

func (r *atRepositoryImpl) ForEachATState(
	ctx context.Context, fn func(domain.ATStateData) error,
) error {
	return r.rm.read(ctx, func(s *session) error {
		var iterErr error
		visited := 0
		r.rm.store.states.Ascend(func(state domain.ATStateData) bool {
			visited++
			if visited%scanCheckInterval == 0 {
				if iterErr = domain.CheckContext(ctx); iterErr != nil {
					return false
				}
			}
			if iterErr = fn(cloneState(state)); iterErr != nil {
				return false
			}
			return true
		})
		return iterErr
	})
}

func (r *atRepositoryImpl) CheckConsistency(ctx context.Context) error {
	return r.rm.read(ctx, func(s *session) error {
		st := r.rm.store
		for address, height := range st.latest {
			if _, ok := st.getState(address, height); !ok {
				return fmt.Errorf(
					"latest state cache points to missing state %s@%d",
					address, height,
				)
			}
		}
		if st.states.Len() != st.heightIndex.Len() {
			return fmt.Errorf(
				"height index has %d entries for %d states",
				st.heightIndex.Len(), st.states.Len(),
			)
		}
		var inconsistency error
		st.heightIndex.Ascend(func(k heightKey) bool {
			if _, ok := st.getState(k.address, k.height); !ok {
				inconsistency = fmt.Errorf(
					"height index points to missing state %s@%d", k.address, k.height,
				)
				return false
			}
			if _, ok := st.ats[k.address]; !ok {
				inconsistency = fmt.Errorf("state %s@%d has no AT", k.address, k.height)
				return false
			}
			return true
		})
		return inconsistency
	})
}

func (r *atRepositoryImpl) findATs(
	ctx context.Context, match func(domain.ATData) bool, page domain.Page,
) ([]domain.ATData, error) {
	ats := make([]domain.ATData, 0)
	err := r.rm.read(ctx, func(s *session) error {
		for _, a := range r.rm.store.ats {
			if match(a) {
				ats = append(ats, cloneAT(a))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	domain.SortATs(ats, page.Reverse)
	return domain.Paginate(ats, page), nil
}

// finalStates returns the latest state of every AT running the given code.
func (r *atRepositoryImpl) finalStates(
	ctx context.Context, codeHash []byte,
) ([]domain.ATStateData, error) {
	st := r.rm.store
	states := make([]domain.ATStateData, 0)
	for address, at := range st.ats {
		if !at.HasCodeHash(codeHash) {
			continue
		}
		if err := domain.CheckContext(ctx); err != nil {
			return nil, err
		}
		if latest, ok := st.latestState(address); ok {
			states = append(states, cloneState(latest))
		}
	}
	return states, nil
}

// protection tells whether a state row must survive trimming and pruning,
// that is whether it is referenced by the latest state cache or it is the
// latest row of its AT.
type protection struct {
	st     *store
	latest map[string]int
}

func newProtection(st *store) *protection {
	return &protection{st, make(map[string]int)}
}

func (p *protection) isProtected(state domain.ATStateData) bool {
	if cached, ok := p.st.latest[state.ATAddress]; ok && cached == state.Height {
		return true
	}
	latestHeight, ok := p.latest[state.ATAddress]
	if !ok {
		latest, _ := p.st.latestState(state.ATAddress)
		latestHeight = latest.Height
		p.latest[state.ATAddress] = latestHeight
	}
	return state.Height >= latestHeight
}
