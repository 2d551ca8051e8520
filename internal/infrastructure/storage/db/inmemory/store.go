package inmemory

import (
	"math"

	"github.com/google/btree"
	"github.com/qortal/qortd/internal/core/domain"
)

const btreeDegree = 32

type heightKey struct {
	height  int
	address string
}

type store struct {
	ats         map[string]domain.ATData
	states      *btree.BTreeG[domain.ATStateData]
	heightIndex *btree.BTreeG[heightKey]
	latest      map[string]int
	blocks      *btree.BTreeG[domain.BlockRef]
	trades      map[string]domain.TradeBotData
}

func newStore() *store {
	return &store{
		ats:         make(map[string]domain.ATData),
		states:      btree.NewG(btreeDegree, lessState),
		heightIndex: btree.NewG(btreeDegree, lessHeightKey),
		latest:      make(map[string]int),
		blocks: btree.NewG(btreeDegree, func(a, b domain.BlockRef) bool {
			return a.Height < b.Height
		}),
		trades: make(map[string]domain.TradeBotData),
	}
}

func lessState(a, b domain.ATStateData) bool {
	if a.ATAddress != b.ATAddress {
		return a.ATAddress < b.ATAddress
	}
	return a.Height < b.Height
}

func lessHeightKey(a, b heightKey) bool {
	if a.height != b.height {
		return a.height < b.height
	}
	return a.address < b.address
}

func stateKey(address string, height int) domain.ATStateData {
	return domain.ATStateData{ATAddress: address, Height: height}
}

func (st *store) getState(address string, height int) (domain.ATStateData, bool) {
	return st.states.Get(stateKey(address, height))
}

func (st *store) latestState(address string) (domain.ATStateData, bool) {
	var latest domain.ATStateData
	found := false
	st.states.DescendLessOrEqual(
		stateKey(address, math.MaxInt),
		func(s domain.ATStateData) bool {
			if s.ATAddress == address {
				latest = s
				found = true
			}
			return false
		},
	)
	return latest, found
}

func (st *store) statesOf(address string) []domain.ATStateData {
	states := make([]domain.ATStateData, 0)
	st.states.AscendRange(
		stateKey(address, 0), stateKey(address, math.MaxInt),
		func(s domain.ATStateData) bool {
			states = append(states, s)
			return true
		},
	)
	return states
}

func (st *store) heightKeysInRange(minHeight, maxHeight int) []heightKey {
	keys := make([]heightKey, 0)
	st.heightIndex.AscendGreaterOrEqual(
		heightKey{height: minHeight},
		func(k heightKey) bool {
			if k.height > maxHeight {
				return false
			}
			keys = append(keys, k)
			return true
		},
	)
	return keys
}

func (s *session) putState(st *store, state domain.ATStateData) {
	treePut(s, st.states, state)
	treePut(s, st.heightIndex, heightKey{state.Height, state.ATAddress})
}

func (s *session) deleteState(st *store, address string, height int) bool {
	_, ok := treeDelete(s, st.states, stateKey(address, height))
	treeDelete(s, st.heightIndex, heightKey{height, address})
	if cached, ok := st.latest[address]; ok && cached == height {
		mapDelete(s, st.latest, address)
	}
	return ok
}

func treePut[T any](s *session, tree *btree.BTreeG[T], item T) {
	prev, replaced := tree.ReplaceOrInsert(item)
	s.undo = append(s.undo, func() {
		if replaced {
			tree.ReplaceOrInsert(prev)
			return
		}
		tree.Delete(item)
	})
}

func treeDelete[T any](s *session, tree *btree.BTreeG[T], item T) (T, bool) {
	prev, ok := tree.Delete(item)
	if ok {
		s.undo = append(s.undo, func() {
			tree.ReplaceOrInsert(prev)
		})
	}
	return prev, ok
}

func mapPut[K comparable, V any](s *session, m map[K]V, key K, value V) {
	prev, existed := m[key]
	s.undo = append(s.undo, func() {
		if existed {
			m[key] = prev
			return
		}
		delete(m, key)
	})
	m[key] = value
}

func mapDelete[K comparable, V any](s *session, m map[K]V, key K) bool {
	prev, existed := m[key]
	if !existed {
		return false
	}
	s.undo = append(s.undo, func() {
		m[key] = prev
	})
	delete(m, key)
	return true
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

func cloneState(s domain.ATStateData) domain.ATStateData {
	s.StateHash = cloneBytes(s.StateHash)
	s.StateData = cloneBytes(s.StateData)
	return s
}

func cloneAT(a domain.ATData) domain.ATData {
	a.CreatorPublicKey = cloneBytes(a.CreatorPublicKey)
	a.CodeBytes = cloneBytes(a.CodeBytes)
	a.CodeHash = cloneBytes(a.CodeHash)
	return a
}
