package dbbadger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"
	"github.com/qortal/qortd/internal/core/domain"
	"github.com/qortal/qortd/internal/core/ports"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
)

const (
	maxConflictRetries = 3
	valueLogGCInterval = 30 * time.Minute
)

type repoManager struct {
	store   *badgerhold.Store
	timeout time.Duration
	quit    chan struct{}

	atRepository       domain.ATRepository
	blockRepository    domain.BlockRepository
	tradeBotRepository domain.TradeBotRepository
}

// NewRepoManager opens (or creates if not exists) the badger store in the
// given directory. An empty baseDbDir opens an in-memory store. If timeout is
// positive, it is used as deadline for transactions whose context has none.
func NewRepoManager(
	baseDbDir string, logger badger.Logger, timeout time.Duration,
) (ports.RepoManager, error) {
	var dbDir string
	if len(baseDbDir) > 0 {
		dbDir = filepath.Join(baseDbDir, "atstates")
	}

	store, err := createDb(dbDir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	rm := &repoManager{
		store:   store,
		timeout: timeout,
		quit:    make(chan struct{}),
	}
	rm.atRepository = &atRepositoryImpl{rm}
	rm.blockRepository = &blockRepositoryImpl{rm}
	rm.tradeBotRepository = &tradeBotRepositoryImpl{rm}

	if len(dbDir) > 0 {
		go rm.runValueLogGC()
	}

	return rm, nil
}

func (m *repoManager) ATRepository() domain.ATRepository {
	return m.atRepository
}

func (m *repoManager) BlockRepository() domain.BlockRepository {
	return m.blockRepository
}

func (m *repoManager) TradeBotRepository() domain.TradeBotRepository {
	return m.tradeBotRepository
}

func (m *repoManager) Close() {
	close(m.quit)
	if err := m.store.Close(); err != nil {
		log.WithError(err).Warn("error while closing db")
	}
}

func (m *repoManager) RunTransaction(
	ctx context.Context,
	readOnly bool,
	handler func(ctx context.Context) (interface{}, error),
) (interface{}, error) {
	if s, ok := sessionFromContext(ctx); ok {
		if s.readOnly && !readOnly {
			return nil, domain.ErrReadOnlyTransaction
		}
		return handler(ctx)
	}

	if _, ok := ctx.Deadline(); !ok && m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	for attempt := 0; ; attempt++ {
		res, err := m.runOnce(ctx, readOnly, handler)
		if err != nil {
			if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
				log.WithError(err).Debug("retrying conflicting transaction")
				continue
			}
			return nil, err
		}
		return res, nil
	}
}

func (m *repoManager) runOnce(
	ctx context.Context,
	readOnly bool,
	handler func(ctx context.Context) (interface{}, error),
) (res interface{}, err error) {
	if err := domain.CheckContext(ctx); err != nil {
		return nil, err
	}

	s := &session{
		txn:      m.store.Badger().NewTransaction(!readOnly),
		readOnly: readOnly,
	}
	defer s.txn.Discard()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("recovered: %v", rec)
		}
	}()

	res, err = handler(context.WithValue(ctx, sessionKey{}, s))
	if err != nil {
		return nil, err
	}
	if readOnly {
		return res, nil
	}
	if err := domain.CheckContext(ctx); err != nil {
		return nil, err
	}
	if err := s.txn.Commit(); err != nil {
		return nil, domain.NewDataError("commit", err)
	}
	return res, nil
}

func (m *repoManager) SetSavepoint(ctx context.Context) error {
	s, ok := sessionFromContext(ctx)
	if !ok {
		return domain.ErrNoTransaction
	}
	s.savepoints = append(s.savepoints, len(s.undo))
	return nil
}

func (m *repoManager) RollbackToSavepoint(ctx context.Context) error {
	s, ok := sessionFromContext(ctx)
	if !ok {
		return domain.ErrNoTransaction
	}
	if len(s.savepoints) <= 0 {
		return domain.ErrNoSavepoint
	}
	last := len(s.savepoints) - 1
	if err := s.rollbackTo(s.savepoints[last]); err != nil {
		return domain.NewDataError("rollback to savepoint", err)
	}
	s.savepoints = s.savepoints[:last]
	return nil
}

// read runs fn within the session in ctx, or within a new read-only badger
// transaction.
func (m *repoManager) read(
	ctx context.Context, op string, fn func(s *session) error,
) error {
	if err := domain.CheckContext(ctx); err != nil {
		return err
	}
	if s, ok := sessionFromContext(ctx); ok {
		return domain.NewDataError(op, fn(s))
	}
	err := m.store.Badger().View(func(txn *badger.Txn) error {
		return fn(&session{txn: txn, readOnly: true})
	})
	return domain.NewDataError(op, err)
}

// write runs fn within the session in ctx, or within a new badger transaction
// committed right after.
func (m *repoManager) write(
	ctx context.Context, op string, fn func(s *session) error,
) error {
	if err := domain.CheckContext(ctx); err != nil {
		return err
	}
	if s, ok := sessionFromContext(ctx); ok {
		if err := checkWritable(s); err != nil {
			return err
		}
		return domain.NewDataError(op, fn(s))
	}
	_, err := m.RunTransaction(ctx, false, func(ctx context.Context) (interface{}, error) {
		s, _ := sessionFromContext(ctx)
		return nil, fn(s)
	})
	return domain.NewDataError(op, err)
}

func (m *repoManager) runValueLogGC() {
	ticker := time.NewTicker(valueLogGCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.quit:
			return
		case <-ticker.C:
			if err := m.store.Badger().RunValueLogGC(0.5); err != nil &&
				err != badger.ErrNoRewrite {
				log.WithError(err).Warn("value log garbage collection failed")
			}
		}
	}
}

func createDb(dbDir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	return badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
}
