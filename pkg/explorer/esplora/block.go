package esplora

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/qortal/qortd/pkg/explorer"
)

func (e *esplora) GetBlockHeight(ctx context.Context) (int, error) {
	resp, err := e.get(ctx, "/blocks/tip/height")
	if err != nil {
		return -1, err
	}
	blockHeight, err := strconv.Atoi(strings.TrimSpace(resp))
	if err != nil {
		return -1, err
	}
	return blockHeight, nil
}

func (e *esplora) GetTipBlock(ctx context.Context) (*explorer.Block, error) {
	hash, err := e.get(ctx, "/blocks/tip/hash")
	if err != nil {
		return nil, err
	}
	var b block
	if err := e.getJSON(ctx, fmt.Sprintf("/block/%s", strings.TrimSpace(hash)), &b); err != nil {
		return nil, err
	}
	return b.toExplorer(), nil
}
