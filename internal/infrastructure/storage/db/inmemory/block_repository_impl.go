package inmemory

import (
	"context"

	"github.com/qortal/qortd/internal/core/domain"
)

type blockRepositoryImpl struct {
	rm *repoManager
}

func (r *blockRepositoryImpl) GetBlockRef(
	ctx context.Context, height int,
) (*domain.BlockRef, error) {
	var block *domain.BlockRef
	err := r.rm.read(ctx, func(s *session) error {
		b, ok := r.rm.store.blocks.Get(domain.BlockRef{Height: height})
		if !ok {
			return domain.ErrBlockNotFound
		}
		b = cloneBlock(b)
		block = &b
		return nil
	})
	return block, err
}

func (r *blockRepositoryImpl) GetLastBlockRef(
	ctx context.Context,
) (*domain.BlockRef, error) {
	var block *domain.BlockRef
	err := r.rm.read(ctx, func(s *session) error {
		b, ok := r.rm.store.blocks.Max()
		if !ok {
			return domain.ErrBlockNotFound
		}
		b = cloneBlock(b)
		block = &b
		return nil
	})
	return block, err
}

func (r *blockRepositoryImpl) SaveBlockRef(
	ctx context.Context, block domain.BlockRef,
) error {
	return r.rm.write(ctx, func(s *session) error {
		treePut(s, r.rm.store.blocks, cloneBlock(block))
		return nil
	})
}

func (r *blockRepositoryImpl) DeleteBlockRef(ctx context.Context, height int) error {
	return r.rm.write(ctx, func(s *session) error {
		treeDelete(s, r.rm.store.blocks, domain.BlockRef{Height: height})
		return nil
	})
}

func cloneBlock(b domain.BlockRef) domain.BlockRef {
	if b.DeployedATs != nil {
		b.DeployedATs = append([]string(nil), b.DeployedATs...)
	}
	return b
}
