package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qortal/qortd/internal/core/domain"
	"github.com/qortal/qortd/internal/core/ports"
)

type sessionKey struct{}

// session is the in-memory transaction. Writes are applied to the store
// straight away and undone in reverse order on rollback.
type session struct {
	readOnly   bool
	undo       []func()
	savepoints []int
}

func (s *session) rollbackTo(index int) {
	for i := len(s.undo) - 1; i >= index; i-- {
		s.undo[i]()
	}
	s.undo = s.undo[:index]
}

type repoManager struct {
	// A write transaction holds lock for its whole duration, so readers
	// observe either the state before or after it.
	lock  sync.RWMutex
	store *store

	metaLock    sync.Mutex
	trimHeight  int
	pruneHeight int

	timeout time.Duration

	atRepository       domain.ATRepository
	blockRepository    domain.BlockRepository
	tradeBotRepository domain.TradeBotRepository
}

// NewRepoManager returns a RepoManager keeping everything in memory. If
// timeout is positive, it is used as deadline for transactions whose context
// has none.
func NewRepoManager(timeout time.Duration) ports.RepoManager {
	rm := &repoManager{
		store:   newStore(),
		timeout: timeout,
	}
	rm.atRepository = &atRepositoryImpl{rm}
	rm.blockRepository = &blockRepositoryImpl{rm}
	rm.tradeBotRepository = &tradeBotRepositoryImpl{rm}
	return rm
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

func (m *repoManager) Close() {}

func (m *repoManager) RunTransaction(
	ctx context.Context,
	readOnly bool,
	handler func(ctx context.Context) (interface{}, error),
) (interface{}, error) {
	if s, ok := ctx.Value(sessionKey{}).(*session); ok {
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

	var res interface{}
	err := m.withSession(ctx, readOnly, func(s *session) (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("recovered: %v", rec)
			}
		}()
		res, err = handler(context.WithValue(ctx, sessionKey{}, s))
		return
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (m *repoManager) SetSavepoint(ctx context.Context) error {
	s, ok := ctx.Value(sessionKey{}).(*session)
	if !ok {
		return domain.ErrNoTransaction
	}
	s.savepoints = append(s.savepoints, len(s.undo))
	return nil
}

func (m *repoManager) RollbackToSavepoint(ctx context.Context) error {
	s, ok := ctx.Value(sessionKey{}).(*session)
	if !ok {
		return domain.ErrNoTransaction
	}
	if len(s.savepoints) <= 0 {
		return domain.ErrNoSavepoint
	}
	last := len(s.savepoints) - 1
	s.rollbackTo(s.savepoints[last])
	s.savepoints = s.savepoints[:last]
	return nil
}

// withSession runs fn within a brand new session, holding the store lock.
func (m *repoManager) withSession(
	ctx context.Context, readOnly bool, fn func(s *session) error,
) error {
	if err := domain.CheckContext(ctx); err != nil {
		return err
	}

	if readOnly {
		m.lock.RLock()
		defer m.lock.RUnlock()
	} else {
		m.lock.Lock()
		defer m.lock.Unlock()
	}

	s := &session{readOnly: readOnly}
	if err := fn(s); err != nil {
		s.rollbackTo(0)
		return err
	}
	if err := domain.CheckContext(ctx); err != nil {
		s.rollbackTo(0)
		return err
	}
	return nil
}

// read runs fn within the session in ctx, or within a new read-only one.
func (m *repoManager) read(ctx context.Context, fn func(s *session) error) error {
	if s, ok := ctx.Value(sessionKey{}).(*session); ok {
		if err := domain.CheckContext(ctx); err != nil {
			return err
		}
		return fn(s)
	}
	return m.withSession(ctx, true, fn)
}

// write runs fn within the session in ctx, or within a new one committed
// right after.
func (m *repoManager) write(ctx context.Context, fn func(s *session) error) error {
	if s, ok := ctx.Value(sessionKey{}).(*session); ok {
		if s.readOnly {
			return domain.ErrReadOnlyTransaction
		}
		if err := domain.CheckContext(ctx); err != nil {
			return err
		}
		return fn(s)
	}
	return m.withSession(ctx, false, fn)
}
