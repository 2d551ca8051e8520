package dbbadger

import (
	"context"

	"github.com/dgraph-io/badger/v3"
	"github.com/qortal/qortd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type blockRecord struct {
	Signature   string
	Timestamp   int64
	DeployedATs []string
}

type blockRepositoryImpl struct {
	rm *repoManager
}

func (r *blockRepositoryImpl) GetBlockRef(
	ctx context.Context, height int,
) (*domain.BlockRef, error) {
	var block *domain.BlockRef
	err := r.rm.read(ctx, "get block", func(s *session) error {
		value, ok, err := getRaw(s.txn, blockKey(height))
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrBlockNotFound
		}
		block, err = decodeBlock(height, value)
		return err
	})
	if err != nil {
		return nil, err
	}
	return block, nil
}

func (r *blockRepositoryImpl) GetLastBlockRef(
	ctx context.Context,
) (*domain.BlockRef, error) {
	var block *domain.BlockRef
	err := r.rm.read(ctx, "get last block", func(s *session) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte{blockPrefix}
		it := s.txn.NewIterator(opts)
		defer it.Close()

		it.Seek([]byte{blockPrefix, 0xff, 0xff, 0xff, 0xff})
		if !it.ValidForPrefix(opts.Prefix) {
			return domain.ErrBlockNotFound
		}
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		block, err = decodeBlock(decodeHeight(item.Key()[1:]), value)
		return err
	})
	if err != nil {
		return nil, err
	}
	return block, nil
}

func (r *blockRepositoryImpl) SaveBlockRef(
	ctx context.Context, block domain.BlockRef,
) error {
	value, err := badgerhold.DefaultEncode(blockRecord{
		Signature:   block.Signature,
		Timestamp:   block.Timestamp,
		DeployedATs: block.DeployedATs,
	})
	if err != nil {
		return err
	}
	return r.rm.write(ctx, "save block", func(s *session) error {
		return s.set(blockKey(block.Height), value)
	})
}

func (r *blockRepositoryImpl) DeleteBlockRef(ctx context.Context, height int) error {
	return r.rm.write(ctx, "delete block", func(s *session) error {
		_, err := s.delete(blockKey(height))
		return err
	})
}

func decodeBlock(height int, value []byte) (*domain.BlockRef, error) {
	var rec blockRecord
	if err := badgerhold.DefaultDecode(value, &rec); err != nil {
		return nil, err
	}
	return &domain.BlockRef{
		Height:      height,
		Signature:   rec.Signature,
		Timestamp:   rec.Timestamp,
		DeployedATs: rec.DeployedATs,
	}, nil
}
