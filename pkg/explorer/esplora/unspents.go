package esplora

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/qortal/qortd/pkg/explorer"
)

func (e *esplora) GetUnspents(ctx context.Context, addr string) ([]explorer.Utxo, error) {
	var outs []utxo
	if err := e.getJSON(ctx, fmt.Sprintf("/address/%s/utxo", addr), &outs); err != nil {
		return nil, fmt.Errorf("error on retrieving utxos: %w", err)
	}

	unspents := make([]explorer.Utxo, 0, len(outs))
	for _, u := range outs {
		unspents = append(unspents, u.toExplorer())
	}
	return unspents, nil
}

func (e *esplora) GetUnspentsForAddresses(
	ctx context.Context, addresses []string,
) ([]explorer.Utxo, error) {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxParallelRequests)

	lock := &sync.Mutex{}
	unspents := make([]explorer.Utxo, 0)
	for _, addr := range addresses {
		addr := addr
		eg.Go(func() error {
			utxos, err := e.GetUnspents(ctx, addr)
			if err != nil {
				return err
			}
			lock.Lock()
			unspents = append(unspents, utxos...)
			lock.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return unspents, nil
}
