// Package retention bounds the growth of the AT state store: old states are
// first trimmed, ie. reduced to their hash, then pruned.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/qortal/qortd/internal/core/application"
	"github.com/qortal/qortd/internal/core/domain"
	"github.com/qortal/qortd/internal/core/ports"
)

const (
	readOnlyTx = true

	kindTrim  = "trim"
	kindPrune = "prune"
)

var (
	// ErrInvalidBatchSize ...
	ErrInvalidBatchSize = errors.New("batch size must be positive")
	// ErrInvalidInterval ...
	ErrInvalidInterval = errors.New("interval must be positive")
	// ErrAlreadyStarted ...
	ErrAlreadyStarted = errors.New("retention service already started")
)

// Config holds the retention parameters. Heights within KeepBlocks of the
// chain tip, or not yet applied to the store, are never touched.
type Config struct {
	TrimInterval   time.Duration
	TrimBatchSize  int
	TrimLimit      int
	TrimKeepBlocks int

	PruneEnabled    bool
	PruneInterval   time.Duration
	PruneBatchSize  int
	PruneKeepBlocks int

	// TxTimeout bounds every batch transaction, 0 means no timeout.
	TxTimeout time.Duration
}

func (c Config) validate() error {
	if c.TrimBatchSize <= 0 {
		return fmt.Errorf("trim: %w", ErrInvalidBatchSize)
	}
	if c.TrimInterval <= 0 {
		return fmt.Errorf("trim: %w", ErrInvalidInterval)
	}
	if c.PruneEnabled {
		if c.PruneBatchSize <= 0 {
			return fmt.Errorf("prune: %w", ErrInvalidBatchSize)
		}
		if c.PruneInterval <= 0 {
			return fmt.Errorf("prune: %w", ErrInvalidInterval)
		}
	}
	return nil
}

// Service runs the trimmer and, if enabled, the pruner in background.
// Batches can also be run one at a time with TrimBatch and PruneBatch.
type Service struct {
	repoManager ports.RepoManager
	chainTip    ports.ChainTip
	cfg         Config

	// height the latest states cache was last rebuilt at, 0 if never.
	cacheHeight int
	lock        sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService ...
func NewService(
	repoManager ports.RepoManager, chainTip ports.ChainTip, cfg Config,
) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Service{
		repoManager: repoManager,
		chainTip:    chainTip,
		cfg:         cfg,
	}, nil
}

// Start spawns the background loops. They stop when ctx is done or Stop is
// called, always between two batches.
func (s *Service) Start(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.cancel != nil {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.cacheHeight = 0

	s.wg.Add(1)
	go s.loop(ctx, kindTrim, s.cfg.TrimInterval, s.TrimBatch)

	if s.cfg.PruneEnabled {
		s.wg.Add(1)
		go s.loop(ctx, kindPrune, s.cfg.PruneInterval, s.PruneBatch)
	}
	log.Debug("retention service started")
	return nil
}

// Stop interrupts the background loops and waits for them to return.
func (s *Service) Stop() {
	s.lock.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.lock.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	log.Debug("retention service stopped")
}

func (s *Service) loop(
	ctx context.Context, kind string, interval time.Duration,
	batch func(ctx context.Context) (int, error),
) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := batch(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				application.RetentionFailures.WithLabelValues(kind).Inc()
				log.WithError(err).Warnf("%s batch failed", kind)
			}
		}
	}
}

// TrimBatch trims the next batch of heights and returns the number of states
// trimmed. The trim watermark moves forward only once a batch finds nothing
// left to trim.
func (s *Service) TrimBatch(ctx context.Context) (int, error) {
	runID := uuid.New().String()
	repo := s.repoManager.ATRepository()

	tip, err := s.tipHeight(ctx)
	if err != nil {
		return 0, err
	}
	trimHeight, err := repo.GetATTrimHeight(ctx)
	if err != nil {
		return 0, err
	}
	trimHeight = maxInt(trimHeight, 1)

	upper := minInt(trimHeight+s.cfg.TrimBatchSize, tip-s.cfg.TrimKeepBlocks)
	if upper < trimHeight {
		return 0, nil
	}
	if err := s.ensureLatestStates(ctx, upper, tip-s.cfg.TrimKeepBlocks); err != nil {
		return 0, err
	}

	count, err := s.withTimeout(ctx, func(ctx context.Context) (int, error) {
		return repo.TrimATStates(ctx, trimHeight, upper, s.cfg.TrimLimit)
	})
	if err != nil {
		return 0, err
	}
	application.TrimmedStates.Add(float64(count))

	logger := log.WithFields(log.Fields{
		"run":  runID,
		"from": trimHeight,
		"to":   upper,
	})
	if count > 0 {
		logger.Debugf("trimmed %d AT states", count)
		return count, nil
	}

	if err := repo.SetATTrimHeight(ctx, upper+1); err != nil {
		return 0, err
	}
	application.Watermarks.WithLabelValues(kindTrim).Set(float64(upper + 1))
	logger.Debugf("AT states trimmed up to height %d", upper)
	return 0, nil
}

// PruneBatch deletes the states of the next batch of already trimmed heights
// and returns how many were deleted.
func (s *Service) PruneBatch(ctx context.Context) (int, error) {
	runID := uuid.New().String()
	repo := s.repoManager.ATRepository()

	tip, err := s.tipHeight(ctx)
	if err != nil {
		return 0, err
	}
	trimHeight, err := repo.GetATTrimHeight(ctx)
	if err != nil {
		return 0, err
	}
	pruneHeight, err := repo.GetATPruneHeight(ctx)
	if err != nil {
		return 0, err
	}
	pruneHeight = maxInt(pruneHeight, 1)

	upper := minInt(
		pruneHeight+s.cfg.PruneBatchSize, trimHeight-1,
		tip-s.cfg.PruneKeepBlocks,
	)
	if upper < pruneHeight {
		return 0, nil
	}
	if err := s.ensureLatestStates(ctx, upper, tip-s.cfg.PruneKeepBlocks); err != nil {
		return 0, err
	}

	count, err := s.withTimeout(ctx, func(ctx context.Context) (int, error) {
		return repo.PruneATStates(ctx, pruneHeight, upper)
	})
	if err != nil {
		return 0, err
	}
	application.PrunedStates.Add(float64(count))

	if err := repo.SetATPruneHeight(ctx, upper+1); err != nil {
		return 0, err
	}
	application.Watermarks.WithLabelValues(kindPrune).Set(float64(upper + 1))

	log.WithFields(log.Fields{
		"run":  runID,
		"from": pruneHeight,
		"to":   upper,
	}).Debugf("pruned %d AT states", count)
	return count, nil
}

// tipHeight returns the highest height retention may work below: the node
// tip, capped at the last block applied to the store. It is 0 until the
// first block is applied.
func (s *Service) tipHeight(ctx context.Context) (int, error) {
	tip, err := s.chainTip.GetChainHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get chain height: %w", err)
	}
	last, err := s.repoManager.BlockRepository().GetLastBlockRef(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrBlockNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get last applied block: %w", err)
	}
	return minInt(tip, last.Height), nil
}

// ensureLatestStates rebuilds the latest states cache at maxHeight if it was
// never built or if it was built below upper.
func (s *Service) ensureLatestStates(ctx context.Context, upper, maxHeight int) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.cacheHeight > 0 && upper <= s.cacheHeight {
		return nil
	}
	if _, err := s.withTimeout(ctx, func(ctx context.Context) (int, error) {
		return 0, s.repoManager.ATRepository().RebuildLatestATStates(ctx, maxHeight)
	}); err != nil {
		return fmt.Errorf("failed to rebuild latest AT states: %w", err)
	}
	s.cacheHeight = maxHeight
	log.Debugf("latest AT states rebuilt at height %d", maxHeight)
	return nil
}

func (s *Service) withTimeout(
	ctx context.Context, fn func(ctx context.Context) (int, error),
) (int, error) {
	if s.cfg.TxTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TxTimeout)
		defer cancel()
	}
	res, err := s.repoManager.RunTransaction(
		ctx, !readOnlyTx, func(ctx context.Context) (interface{}, error) {
			return fn(ctx)
		},
	)
	if err != nil {
		return 0, err
	}
	return res.(int), nil
}

// Watermarks returns the current trim and prune heights.
func (s *Service) Watermarks(ctx context.Context) (trimHeight, pruneHeight int, err error) {
	repo := s.repoManager.ATRepository()
	if trimHeight, err = repo.GetATTrimHeight(ctx); err != nil {
		return
	}
	pruneHeight, err = repo.GetATPruneHeight(ctx)
	return
}

func minInt(first int, others ...int) int {
	m := first
	for _, v := range others {
		if v < m {
			m = v
		}
	}
	return m
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
