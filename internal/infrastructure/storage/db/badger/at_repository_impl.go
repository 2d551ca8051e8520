package dbbadger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/qortal/qortd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

// number of keys visited between two context checks during scans.
const scanCheckInterval = 256

type stateRecord struct {
	Creation   int64
	StateHash  []byte
	StateData  []byte
	Trimmed    bool
	Fees       uint64
	IsInitial  bool
	IsFinished bool
}

type atRepositoryImpl struct {
	rm *repoManager
}

func (r *atRepositoryImpl) GetATByAddress(
	ctx context.Context, address string,
) (*domain.ATData, error) {
	var at *domain.ATData
	err := r.rm.read(ctx, "get AT", func(s *session) error {
		var err error
		at, err = r.getAT(s, address)
		return err
	})
	if err != nil {
		return nil, err
	}
	return at, nil
}

func (r *atRepositoryImpl) ExistsAT(
	ctx context.Context, address string,
) (bool, error) {
	_, err := r.GetATByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, domain.ErrATNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
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
	query := badgerhold.Where("IsExecutable").Eq(true)
	return r.findATs(ctx, query, domain.Unbounded)
}

func (r *atRepositoryImpl) GetATsByFunctionality(
	ctx context.Context, codeHash []byte, isExecutable *bool, page domain.Page,
) ([]domain.ATData, error) {
	query := badgerhold.Where("CodeHash").MatchFunc(matchCodeHashes(codeHash))
	if isExecutable != nil {
		query = query.And("IsExecutable").Eq(*isExecutable)
	}
	return r.findATs(ctx, query, page)
}

func (r *atRepositoryImpl) GetAllATsByFunctionality(
	ctx context.Context, codeHashes [][]byte, isExecutable *bool,
) ([]domain.ATData, error) {
	if len(codeHashes) <= 0 {
		return []domain.ATData{}, nil
	}
	query := badgerhold.Where("CodeHash").MatchFunc(matchCodeHashes(codeHashes...))
	if isExecutable != nil {
		query = query.And("IsExecutable").Eq(*isExecutable)
	}
	return r.findATs(ctx, query, domain.Unbounded)
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
	return r.rm.write(ctx, "save AT", func(s *session) error {
		return upsertRecord(s, r.rm.store, at.Address, at)
	})
}

func (r *atRepositoryImpl) UpdateAT(
	ctx context.Context, address string,
	updateFn func(at *domain.ATData) (*domain.ATData, error),
) error {
	var fnErr error
	err := r.rm.write(ctx, "update AT", func(s *session) error {
		current, err := r.getAT(s, address)
		if err != nil {
			return err
		}
		updated, err := updateFn(current)
		if err != nil {
			fnErr = err
			return err
		}
		if updated.Address != address {
			fnErr = ErrAddressMustNotChange
			return fnErr
		}
		return upsertRecord(s, r.rm.store, address, *updated)
	})
	if fnErr != nil {
		return fnErr
	}
	return err
}

func (r *atRepositoryImpl) DeleteAT(ctx context.Context, address string) error {
	return r.rm.write(ctx, "delete AT", func(s *session) error {
		keys, err := scanKeys(ctx, s.txn, stateAddressPrefix(address), nil, false, nil)
		if err != nil {
			return err
		}
		for _, key := range keys {
			_, height, _ := parseStateKey(key)
			if err := r.deleteState(s, address, height); err != nil {
				return err
			}
		}
		if _, err := s.delete(latestKey(address)); err != nil {
			return err
		}
		_, err = deleteRecord[domain.ATData](s, r.rm.store, address)
		return err
	})
}

func (r *atRepositoryImpl) GetATStateAtHeight(
	ctx context.Context, address string, height int,
) (*domain.ATStateData, error) {
	var state *domain.ATStateData
	err := r.rm.read(ctx, "get AT state", func(s *session) error {
		var err error
		state, err = r.getState(s, address, height)
		if err != nil {
			return err
		}
		if state == nil {
			return domain.ErrATStateNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (r *atRepositoryImpl) GetLatestATState(
	ctx context.Context, address string,
) (*domain.ATStateData, error) {
	var state *domain.ATStateData
	err := r.rm.read(ctx, "get latest AT state", func(s *session) error {
		var err error
		state, err = r.latestState(s, address)
		if err != nil {
			return err
		}
		if state == nil {
			return domain.ErrATStateNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (r *atRepositoryImpl) GetMatchingFinalATStates(
	ctx context.Context, filter domain.MatchingStatesFilter, page domain.Page,
) ([]domain.ATStateData, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	var states []domain.ATStateData
	err := r.rm.read(ctx, "get matching final AT states", func(s *session) error {
		ats := make([]domain.ATData, 0)
		query := badgerhold.Where("CodeHash").MatchFunc(matchCodeHashes(filter.CodeHash))
		if err := r.rm.store.TxFind(s.txn, &ats, query); err != nil {
			return err
		}

		finalStates := make([]domain.ATStateData, 0, len(ats))
		for _, at := range ats {
			if err := domain.CheckContext(ctx); err != nil {
				return err
			}
			latest, err := r.latestState(s, at.Address)
			if err != nil {
				return err
			}
			if latest != nil {
				finalStates = append(finalStates, *latest)
			}
		}
		states = domain.FilterFinalStates(finalStates, filter, page)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return states, nil
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
	err := r.rm.read(ctx, "get block AT states", func(s *session) error {
		keys, err := scanKeys(ctx, s.txn, heightIndexPrefixFor(height), nil, false, nil)
		if err != nil {
			return err
		}
		for _, key := range keys {
			_, address, _ := parseHeightIndexKey(key)
			state, err := r.getState(s, address, height)
			if err != nil {
				return err
			}
			if state != nil {
				states = append(states, *state)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}

func (r *atRepositoryImpl) RebuildLatestATStates(
	ctx context.Context, maxHeight int,
) error {
	return r.rm.write(ctx, "rebuild latest AT states", func(s *session) error {
		stateKeys, err := scanKeys(ctx, s.txn, []byte{statePrefix}, nil, false, nil)
		if err != nil {
			return err
		}
		latest := make(map[string]int)
		for _, key := range stateKeys {
			address, height, ok := parseStateKey(key)
			if ok && height <= maxHeight {
				latest[address] = height
			}
		}

		cachedKeys, err := scanKeys(ctx, s.txn, []byte{latestPrefix}, nil, false, nil)
		if err != nil {
			return err
		}
		for _, key := range cachedKeys {
			if _, ok := latest[string(key[1:])]; ok {
				continue
			}
			if _, err := s.delete(key); err != nil {
				return err
			}
		}
		for address, height := range latest {
			if err := s.set(latestKey(address), encodeHeight(height)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *atRepositoryImpl) GetATTrimHeight(ctx context.Context) (int, error) {
	return r.getMeta(ctx, trimHeightKey)
}

func (r *atRepositoryImpl) SetATTrimHeight(ctx context.Context, height int) error {
	return r.setMeta(ctx, trimHeightKey, height)
}

func (r *atRepositoryImpl) GetATPruneHeight(ctx context.Context) (int, error) {
	return r.getMeta(ctx, pruneHeightKey)
}

func (r *atRepositoryImpl) SetATPruneHeight(ctx context.Context, height int) error {
	return r.setMeta(ctx, pruneHeightKey, height)
}

func (r *atRepositoryImpl) TrimATStates(
	ctx context.Context, minHeight, maxHeight, limit int,
) (int, error) {
	if minHeight > maxHeight {
		return 0, nil
	}
	count := 0
	err := r.rm.write(ctx, "trim AT states", func(s *session) error {
		keys, err := r.heightKeysInRange(ctx, s, minHeight, maxHeight)
		if err != nil {
			return err
		}
		protected := newProtection(r, s)
		for _, key := range keys {
			height, address, _ := parseHeightIndexKey(key)
			state, err := r.getState(s, address, height)
			if err != nil {
				return err
			}
			if state == nil || state.IsTrimmed() {
				continue
			}
			isProtected, err := protected.isProtected(*state)
			if err != nil {
				return err
			}
			if isProtected {
				continue
			}
			if err := r.putState(s, state.Trimmed()); err != nil {
				return err
			}
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
	err := r.rm.write(ctx, "prune AT states", func(s *session) error {
		keys, err := r.heightKeysInRange(ctx, s, minHeight, maxHeight)
		if err != nil {
			return err
		}
		protected := newProtection(r, s)
		for _, key := range keys {
			height, address, _ := parseHeightIndexKey(key)
			isProtected, err := protected.isProtected(
				domain.ATStateData{ATAddress: address, Height: height},
			)
			if err != nil {
				return err
			}
			if isProtected {
				continue
			}
			if err := r.deleteState(s, address, height); err != nil {
				return err
			}
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
	return r.rm.write(ctx, "save AT state", func(s *session) error {
		return r.putState(s, state)
	})
}

func (r *atRepositoryImpl) DeleteATState(
	ctx context.Context, address string, height int,
) error {
	return r.rm.write(ctx, "delete AT state", func(s *session) error {
		return r.deleteState(s, address, height)
	})
}

func (r *atRepositoryImpl) DeleteATStatesAtHeight(
	ctx context.Context, height int,
) error {
	return r.rm.write(ctx, "delete AT states at height", func(s *session) error {
		keys, err := scanKeys(ctx, s.txn, heightIndexPrefixFor(height), nil, false, nil)
		if err != nil {
			return err
		}
		for _, key := range keys {
			_, address, _ := parseHeightIndexKey(key)
			if err := r.deleteState(s, address, height); err != nil {
				return err
			}
		}
		return nil
	})
}

// ForEachATState must not be given a fn using the repository within a write
// transaction, since badger allows a single open iterator per update txn.
func (r *atRepositoryImpl) ForEachATState(
	ctx context.Context, fn func(domain.ATStateData) error,
) error {
	return r.rm.read(ctx, "iterate AT states", func(s *session) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{statePrefix}
		it := s.txn.NewIterator(opts)
		defer it.Close()

		visited := 0
		for it.Rewind(); it.Valid(); it.Next() {
			visited++
			if visited%scanCheckInterval == 0 {
				if err := domain.CheckContext(ctx); err != nil {
					return err
				}
			}
			item := it.Item()
			address, height, ok := parseStateKey(item.Key())
			if !ok {
				continue
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			state, err := decodeState(address, height, value)
			if err != nil {
				return err
			}
			if err := fn(*state); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *atRepositoryImpl) CheckConsistency(ctx context.Context) error {
	return r.rm.read(ctx, "check consistency", func(s *session) error {
		stateKeys, err := scanKeys(ctx, s.txn, []byte{statePrefix}, nil, false, nil)
		if err != nil {
			return err
		}
		states := make(map[string]struct{}, len(stateKeys))
		addresses := make(map[string]struct{})
		for _, key := range stateKeys {
			address, height, ok := parseStateKey(key)
			if !ok {
				return fmt.Errorf("%w: state %x", ErrMalformedKey, key)
			}
			states[fmt.Sprintf("%s@%d", address, height)] = struct{}{}
			addresses[address] = struct{}{}
		}

		indexKeys, err := scanKeys(ctx, s.txn, []byte{heightIndexPrefix}, nil, false, nil)
		if err != nil {
			return err
		}
		if len(indexKeys) != len(stateKeys) {
			return fmt.Errorf(
				"height index has %d entries for %d states",
				len(indexKeys), len(stateKeys),
			)
		}
		for _, key := range indexKeys {
			height, address, _ := parseHeightIndexKey(key)
			if _, ok := states[fmt.Sprintf("%s@%d", address, height)]; !ok {
				return fmt.Errorf(
					"height index points to missing state %s@%d", address, height,
				)
			}
		}

		cachedKeys, err := scanKeys(ctx, s.txn, []byte{latestPrefix}, nil, false, nil)
		if err != nil {
			return err
		}
		for _, key := range cachedKeys {
			value, _, err := getRaw(s.txn, key)
			if err != nil {
				return err
			}
			address, height := string(key[1:]), decodeHeight(value)
			if _, ok := states[fmt.Sprintf("%s@%d", address, height)]; !ok {
				return fmt.Errorf(
					"latest state cache points to missing state %s@%d",
					address, height,
				)
			}
		}

		for address := range addresses {
			at, err := r.getAT(s, address)
			if err != nil && !errors.Is(err, domain.ErrATNotFound) {
				return err
			}
			if at == nil {
				return fmt.Errorf("states of %s have no AT", address)
			}
		}
		return nil
	})
}

func (r *atRepositoryImpl) getAT(s *session, address string) (*domain.ATData, error) {
	var at domain.ATData
	if err := r.rm.store.TxGet(s.txn, address, &at); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrATNotFound
		}
		return nil, err
	}
	return &at, nil
}

func (r *atRepositoryImpl) findATs(
	ctx context.Context, query *badgerhold.Query, page domain.Page,
) ([]domain.ATData, error) {
	query = query.SortBy("CreationHeight", "Address")
	if page.Reverse {
		query = query.Reverse()
	}
	if page.Offset > 0 {
		query = query.Skip(page.Offset)
	}
	if page.Limit > 0 {
		query = query.Limit(page.Limit)
	}

	ats := make([]domain.ATData, 0)
	err := r.rm.read(ctx, "find ATs", func(s *session) error {
		return r.rm.store.TxFind(s.txn, &ats, query)
	})
	if err != nil {
		return nil, err
	}
	return ats, nil
}

func (r *atRepositoryImpl) getState(
	s *session, address string, height int,
) (*domain.ATStateData, error) {
	value, ok, err := getRaw(s.txn, stateKey(address, height))
	if err != nil || !ok {
		return nil, err
	}
	return decodeState(address, height, value)
}

func (r *atRepositoryImpl) latestState(
	s *session, address string,
) (*domain.ATStateData, error) {
	prefix := stateAddressPrefix(address)
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = prefix
	it := s.txn.NewIterator(opts)
	defer it.Close()

	it.Seek(append(append([]byte{}, prefix...), 0xff, 0xff, 0xff, 0xff, 0xff))
	if !it.ValidForPrefix(prefix) {
		return nil, nil
	}
	item := it.Item()
	_, height, ok := parseStateKey(item.Key())
	if !ok {
		return nil, fmt.Errorf("%w: state %x", ErrMalformedKey, item.Key())
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return decodeState(address, height, value)
}

func (r *atRepositoryImpl) putState(s *session, state domain.ATStateData) error {
	value, err := encodeState(state)
	if err != nil {
		return err
	}
	if err := s.set(stateKey(state.ATAddress, state.Height), value); err != nil {
		return err
	}
	return s.set(heightIndexKey(state.Height, state.ATAddress), []byte{})
}

func (r *atRepositoryImpl) deleteState(s *session, address string, height int) error {
	if _, err := s.delete(stateKey(address, height)); err != nil {
		return err
	}
	if _, err := s.delete(heightIndexKey(height, address)); err != nil {
		return err
	}
	cached, ok, err := getRaw(s.txn, latestKey(address))
	if err != nil {
		return err
	}
	if ok && decodeHeight(cached) == height {
		_, err = s.delete(latestKey(address))
	}
	return err
}

func (r *atRepositoryImpl) heightKeysInRange(
	ctx context.Context, s *session, minHeight, maxHeight int,
) ([][]byte, error) {
	return scanKeys(
		ctx, s.txn, []byte{heightIndexPrefix}, heightIndexPrefixFor(minHeight), false,
		func(key []byte) bool {
			height, _, ok := parseHeightIndexKey(key)
			return ok && height <= maxHeight
		},
	)
}

func (r *atRepositoryImpl) getMeta(ctx context.Context, key []byte) (int, error) {
	if err := domain.CheckContext(ctx); err != nil {
		return 0, err
	}
	height := 0
	err := r.rm.store.Badger().View(func(txn *badger.Txn) error {
		value, ok, err := getRaw(txn, key)
		if err != nil || !ok {
			return err
		}
		height = decodeHeight(value)
		return nil
	})
	if err != nil {
		return 0, domain.NewDataError("get watermark", err)
	}
	return height, nil
}

// setMeta commits the watermark in a dedicated transaction, whatever the
// session in ctx.
func (r *atRepositoryImpl) setMeta(ctx context.Context, key []byte, height int) error {
	if err := domain.CheckContext(ctx); err != nil {
		return err
	}
	err := r.rm.store.Badger().Update(func(txn *badger.Txn) error {
		return txn.Set(key, encodeHeight(height))
	})
	return domain.NewDataError("set watermark", err)
}

// scanKeys collects the keys with the given prefix, starting from seek if not
// nil, while accept returns true. The iterator is closed before returning so
// that callers can keep using the update transaction.
func scanKeys(
	ctx context.Context, txn *badger.Txn, prefix, seek []byte, reverse bool,
	accept func(key []byte) bool,
) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	opts.Reverse = reverse
	it := txn.NewIterator(opts)
	defer it.Close()

	if seek == nil {
		seek = prefix
	}
	keys := make([][]byte, 0)
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		if len(keys)%scanCheckInterval == 0 {
			if err := domain.CheckContext(ctx); err != nil {
				return nil, err
			}
		}
		key := it.Item().KeyCopy(nil)
		if accept != nil && !accept(key) {
			break
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func matchCodeHashes(codeHashes ...[]byte) badgerhold.MatchFunc {
	return func(ra *badgerhold.RecordAccess) (bool, error) {
		codeHash, ok := ra.Field().([]byte)
		if !ok {
			return false, nil
		}
		for _, h := range codeHashes {
			if bytes.Equal(codeHash, h) {
				return true, nil
			}
		}
		return false, nil
	}
}

func encodeState(state domain.ATStateData) ([]byte, error) {
	return badgerhold.DefaultEncode(stateRecord{
		Creation:   state.Creation,
		StateHash:  state.StateHash,
		StateData:  state.StateData,
		Trimmed:    state.IsTrimmed(),
		Fees:       state.Fees,
		IsInitial:  state.IsInitial,
		IsFinished: state.IsFinished,
	})
}

func decodeState(address string, height int, value []byte) (*domain.ATStateData, error) {
	var rec stateRecord
	if err := badgerhold.DefaultDecode(value, &rec); err != nil {
		return nil, err
	}
	stateData := rec.StateData
	if !rec.Trimmed && stateData == nil {
		stateData = []byte{}
	}
	return &domain.ATStateData{
		ATAddress:  address,
		Height:     height,
		Creation:   rec.Creation,
		StateHash:  rec.StateHash,
		StateData:  stateData,
		Fees:       rec.Fees,
		IsInitial:  rec.IsInitial,
		IsFinished: rec.IsFinished,
	}, nil
}

// protection tells whether a state row must survive trimming and pruning,
// that is whether it is referenced by the latest state cache or it is the
// latest row of its AT.
type protection struct {
	r      *atRepositoryImpl
	s      *session
	latest map[string]int
}

func newProtection(r *atRepositoryImpl, s *session) *protection {
	return &protection{r, s, make(map[string]int)}
}

func (p *protection) isProtected(state domain.ATStateData) (bool, error) {
	cached, ok, err := getRaw(p.s.txn, latestKey(state.ATAddress))
	if err != nil {
		return false, err
	}
	if ok && decodeHeight(cached) == state.Height {
		return true, nil
	}

	latestHeight, ok := p.latest[state.ATAddress]
	if !ok {
		latest, err := p.r.latestState(p.s, state.ATAddress)
		if err != nil {
			return false, err
		}
		if latest != nil {
			latestHeight = latest.Height
		}
		p.latest[state.ATAddress] = latestHeight
	}
	return state.Height >= latestHeight, nil
}
