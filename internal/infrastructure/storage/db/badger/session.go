package dbbadger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v3"
	"github.com/qortal/qortd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type sessionKey struct{}

// session wraps a badger transaction with an undo log, used to roll back to a
// savepoint without discarding the whole transaction.
type session struct {
	txn        *badger.Txn
	readOnly   bool
	undo       []func(txn *badger.Txn) error
	savepoints []int
}

func sessionFromContext(ctx context.Context) (*session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*session)
	return s, ok
}

func (s *session) rollbackTo(index int) error {
	for i := len(s.undo) - 1; i >= index; i-- {
		if err := s.undo[i](s.txn); err != nil {
			return err
		}
	}
	s.undo = s.undo[:index]
	return nil
}

func getRaw(txn *badger.Txn, key []byte) ([]byte, bool, error) {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *session) set(key, value []byte) error {
	prev, existed, err := getRaw(s.txn, key)
	if err != nil {
		return err
	}
	s.undo = append(s.undo, func(txn *badger.Txn) error {
		if existed {
			return txn.Set(key, prev)
		}
		return txn.Delete(key)
	})
	return s.txn.Set(key, value)
}

func (s *session) delete(key []byte) (bool, error) {
	prev, existed, err := getRaw(s.txn, key)
	if err != nil || !existed {
		return false, err
	}
	s.undo = append(s.undo, func(txn *badger.Txn) error {
		return txn.Set(key, prev)
	})
	return true, s.txn.Delete(key)
}

// upsertRecord stores value under key in the badgerhold store, remembering
// the previous record for rollback.
func upsertRecord[T any](
	s *session, store *badgerhold.Store, key interface{}, value T,
) error {
	var prev T
	existed := true
	if err := store.TxGet(s.txn, key, &prev); err != nil {
		if !errors.Is(err, badgerhold.ErrNotFound) {
			return err
		}
		existed = false
	}
	s.undo = append(s.undo, func(txn *badger.Txn) error {
		if existed {
			return store.TxUpsert(txn, key, prev)
		}
		return store.TxDelete(txn, key, prev)
	})
	return store.TxUpsert(s.txn, key, value)
}

// deleteRecord removes the record stored under key, if any.
func deleteRecord[T any](
	s *session, store *badgerhold.Store, key interface{},
) (bool, error) {
	var prev T
	if err := store.TxGet(s.txn, key, &prev); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	s.undo = append(s.undo, func(txn *badger.Txn) error {
		return store.TxUpsert(txn, key, prev)
	})
	return true, store.TxDelete(s.txn, key, prev)
}

func checkWritable(s *session) error {
	if s.readOnly {
		return domain.ErrReadOnlyTransaction
	}
	return nil
}
