// Package atstate keeps the AT state store in line with the Qortal chain:
// blocks are applied as they get produced and rolled back on reorgs.
package atstate

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/qortal/qortd/internal/core/application"
	"github.com/qortal/qortd/internal/core/domain"
	"github.com/qortal/qortd/internal/core/ports"
)

const readOnlyTx = true

var (
	// ErrInvalidHeight ...
	ErrInvalidHeight = errors.New("block height must be positive")
	// ErrHeightMismatch is returned when a block carries states produced at
	// another height.
	ErrHeightMismatch = errors.New("AT state height does not match block height")
)

// Service is the boundary through which blocks reach the AT state store.
type Service struct {
	repoManager ports.RepoManager
}

// NewService ...
func NewService(repoManager ports.RepoManager) *Service {
	return &Service{repoManager}
}

// ApplyBlock saves the ATs deployed and the states produced by the given
// block in a single transaction. Applying the same block twice leaves the
// store unchanged.
func (s *Service) ApplyBlock(ctx context.Context, block ports.Block) error {
	if block.Height <= 0 {
		return ErrInvalidHeight
	}
	for _, state := range block.ATStates {
		if state.Height != 0 && state.Height != block.Height {
			return fmt.Errorf(
				"%w: state of AT %s at height %d in block %d",
				ErrHeightMismatch, state.ATAddress, state.Height, block.Height,
			)
		}
	}

	if _, err := s.repoManager.RunTransaction(
		ctx, !readOnlyTx, func(ctx context.Context) (interface{}, error) {
			return nil, s.applyBlock(ctx, block)
		},
	); err != nil {
		return fmt.Errorf("failed to apply block %d: %w", block.Height, err)
	}

	application.AppliedBlocks.Inc()
	log.WithFields(log.Fields{
		"height": block.Height,
		"ats":    len(block.DeployedATs),
		"states": len(block.ATStates),
	}).Debug("block applied")
	return nil
}

func (s *Service) applyBlock(ctx context.Context, block ports.Block) error {
	repo := s.repoManager.ATRepository()

	deployed := make([]string, 0, len(block.DeployedATs))
	for _, at := range block.DeployedATs {
		if at.CreationHeight == 0 {
			at.CreationHeight = block.Height
		}
		if at.Creation == 0 {
			at.Creation = block.Timestamp
		}
		if err := repo.SaveAT(ctx, at); err != nil {
			return err
		}
		deployed = append(deployed, at.Address)
	}

	for _, state := range block.ATStates {
		// ATs deployed before the first synced block are not tracked.
		exists, err := repo.ExistsAT(ctx, state.ATAddress)
		if err != nil {
			return err
		}
		if !exists {
			log.WithFields(log.Fields{
				"height": block.Height,
				"at":     state.ATAddress,
			}).Debug("skipping state of unknown AT")
			continue
		}

		state.Height = block.Height
		if state.Creation == 0 {
			state.Creation = block.Timestamp
		}
		if err := repo.SaveATState(ctx, state); err != nil {
			return err
		}
		if !state.IsFinished {
			continue
		}
		if err := repo.UpdateAT(
			ctx, state.ATAddress,
			func(at *domain.ATData) (*domain.ATData, error) {
				at.IsFinished = true
				at.IsExecutable = false
				return at, nil
			},
		); err != nil {
			return err
		}
	}

	return s.repoManager.BlockRepository().SaveBlockRef(ctx, domain.BlockRef{
		Height:      block.Height,
		Signature:   block.Signature,
		Timestamp:   block.Timestamp,
		DeployedATs: deployed,
	})
}

// OrphanBlock rolls back the block at the given height: its states are
// deleted, the ATs it deployed are dropped and the others get their finished
// flag back from their new latest state.
func (s *Service) OrphanBlock(ctx context.Context, height int) error {
	if height <= 0 {
		return ErrInvalidHeight
	}

	if _, err := s.repoManager.RunTransaction(
		ctx, !readOnlyTx, func(ctx context.Context) (interface{}, error) {
			return nil, s.orphanBlock(ctx, height)
		},
	); err != nil {
		return fmt.Errorf("failed to orphan block %d: %w", height, err)
	}

	application.OrphanedBlocks.Inc()
	log.WithField("height", height).Debug("block orphaned")
	return nil
}

func (s *Service) orphanBlock(ctx context.Context, height int) error {
	repo := s.repoManager.ATRepository()
	blockRepo := s.repoManager.BlockRepository()

	var deployed []string
	block, err := blockRepo.GetBlockRef(ctx, height)
	if err != nil && !errors.Is(err, domain.ErrBlockNotFound) {
		return err
	}
	if block != nil {
		deployed = block.DeployedATs
	}

	states, err := repo.GetBlockATStatesAtHeight(ctx, height)
	if err != nil {
		return err
	}
	if err := repo.DeleteATStatesAtHeight(ctx, height); err != nil {
		return err
	}

	for _, address := range deployed {
		if err := repo.DeleteAT(ctx, address); err != nil {
			return err
		}
	}

	for _, state := range states {
		at, err := repo.GetATByAddress(ctx, state.ATAddress)
		if err != nil {
			if errors.Is(err, domain.ErrATNotFound) {
				continue
			}
			return err
		}
		if at.CreationHeight >= height {
			if err := repo.DeleteAT(ctx, at.Address); err != nil {
				return err
			}
			continue
		}

		isFinished := false
		latest, err := repo.GetLatestATState(ctx, at.Address)
		if err != nil && !errors.Is(err, domain.ErrATStateNotFound) {
			return err
		}
		if latest != nil {
			isFinished = latest.IsFinished
		}
		if isFinished == at.IsFinished {
			continue
		}
		if err := repo.UpdateAT(
			ctx, at.Address,
			func(at *domain.ATData) (*domain.ATData, error) {
				at.IsFinished = isFinished
				at.IsExecutable = !isFinished
				return at, nil
			},
		); err != nil {
			return err
		}
	}

	return blockRepo.DeleteBlockRef(ctx, height)
}
