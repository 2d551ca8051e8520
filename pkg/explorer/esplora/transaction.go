package esplora

import (
	"context"
	"fmt"
	"strings"

	"github.com/qortal/qortd/pkg/explorer"
	"github.com/qortal/qortd/pkg/httputil"
)

func (e *esplora) GetTransactionHex(ctx context.Context, txid string) (string, error) {
	resp, err := e.get(ctx, fmt.Sprintf("/tx/%s/hex", txid))
	if err != nil {
		if httputil.IsNotFound(err) {
			return "", explorer.ErrTxNotFound
		}
		return "", err
	}
	return strings.TrimSpace(resp), nil
}

func (e *esplora) GetTransactionStatus(
	ctx context.Context, txid string,
) (*explorer.TransactionStatus, error) {
	var st status
	if err := e.getJSON(ctx, fmt.Sprintf("/tx/%s/status", txid), &st); err != nil {
		if httputil.IsNotFound(err) {
			return nil, explorer.ErrTxNotFound
		}
		return nil, err
	}
	return st.toExplorer(), nil
}

func (e *esplora) BroadcastTransaction(ctx context.Context, txHex string) (string, error) {
	e.limiter.Take()
	resp, err := e.client.Post(ctx, e.apiURL+"/tx", txHex, "text/plain")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}
