package atstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/qortal/qortd/internal/core/domain"
	"github.com/qortal/qortd/internal/core/ports"
)

var (
	// ErrReorgTooDeep is returned when no common block is found within the
	// max reorg depth.
	ErrReorgTooDeep = errors.New("chain reorganization deeper than allowed")
	// ErrAlreadyStarted ...
	ErrAlreadyStarted = errors.New("block listener already started")
)

// ListenerConfig ...
type ListenerConfig struct {
	PollInterval time.Duration
	// StartHeight is the first block applied to an empty store.
	StartHeight int
	// MaxReorgDepth bounds the number of blocks orphaned in a single reorg.
	MaxReorgDepth int
	// MaxBlocksPerSync bounds the blocks applied by a single Sync, 0 means no
	// limit.
	MaxBlocksPerSync int
}

func (c ListenerConfig) withDefaults() ListenerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.StartHeight <= 0 {
		c.StartHeight = 1
	}
	if c.MaxReorgDepth <= 0 {
		c.MaxReorgDepth = 100
	}
	return c
}

// Listener follows the Qortal chain through the node bridge and applies new
// blocks to the AT state store.
type Listener struct {
	svc       *Service
	node      ports.QortalNode
	blockRepo domain.BlockRepository
	cfg       ListenerConfig

	syncLock sync.Mutex
	lock     sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewListener ...
func NewListener(
	svc *Service, node ports.QortalNode, cfg ListenerConfig,
) *Listener {
	return &Listener{
		svc:       svc,
		node:      node,
		blockRepo: svc.repoManager.BlockRepository(),
		cfg:       cfg.withDefaults(),
	}
}

// Start spawns the polling loop.
func (l *Listener) Start(ctx context.Context) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.cancel != nil {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.wg.Add(1)
	go l.observeBlockchain(ctx)
	return nil
}

// Stop interrupts the polling loop and waits for it to return.
func (l *Listener) Stop() {
	l.lock.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.lock.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	l.wg.Wait()
}

func (l *Listener) observeBlockchain(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := l.Sync(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("failed to sync AT states with the chain")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sync rolls back the blocks orphaned by the chain, if any, then applies the
// missing ones up to the chain tip. It returns the number of blocks applied.
func (l *Listener) Sync(ctx context.Context) (int, error) {
	l.syncLock.Lock()
	defer l.syncLock.Unlock()

	tip, err := l.node.GetChainHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get chain height: %w", err)
	}

	next := l.cfg.StartHeight
	last, err := l.blockRepo.GetLastBlockRef(ctx)
	if err != nil && !errors.Is(err, domain.ErrBlockNotFound) {
		return 0, err
	}
	if last != nil {
		forkHeight, err := l.findForkHeight(ctx, last.Height, tip)
		if err != nil {
			return 0, err
		}
		next = forkHeight + 1
	}

	count := 0
	for height := next; height <= tip; height++ {
		if l.cfg.MaxBlocksPerSync > 0 && count >= l.cfg.MaxBlocksPerSync {
			break
		}
		if err := ctx.Err(); err != nil {
			return count, err
		}

		block, err := l.node.GetBlock(ctx, height)
		if err != nil {
			return count, fmt.Errorf("failed to get block %d: %w", height, err)
		}
		if block == nil {
			break
		}
		if err := l.svc.ApplyBlock(ctx, *block); err != nil {
			return count, err
		}
		count++
	}

	if count > 0 {
		log.Debugf("applied %d blocks up to height %d", count, next+count-1)
	}
	return count, nil
}

// findForkHeight walks back from the last applied block, orphaning every
// block whose signature differs from the node's one, and returns the height
// of the most recent block shared with the node.
func (l *Listener) findForkHeight(ctx context.Context, height, tip int) (int, error) {
	for depth := 0; height > 0; depth++ {
		local, err := l.blockRepo.GetBlockRef(ctx, height)
		if err != nil {
			if errors.Is(err, domain.ErrBlockNotFound) {
				return height, nil
			}
			return 0, err
		}

		if height <= tip {
			remote, err := l.node.GetBlock(ctx, height)
			if err != nil {
				return 0, fmt.Errorf("failed to get block %d: %w", height, err)
			}
			if remote != nil && remote.Signature == local.Signature {
				return height, nil
			}
		}

		if depth >= l.cfg.MaxReorgDepth {
			return 0, fmt.Errorf("%w: %d blocks", ErrReorgTooDeep, depth)
		}
		log.Warnf("block %d orphaned by the chain, rolling back", height)
		if err := l.svc.OrphanBlock(ctx, height); err != nil {
			return 0, err
		}
		height--
	}
	return 0, nil
}
