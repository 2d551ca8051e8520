package explorer

import (
	"context"
	"errors"
)

// ErrTxNotFound is returned when the explorer does not know a transaction.
var ErrTxNotFound = errors.New("transaction not found")

// Utxo is an unspent output of a bitcoin-like chain.
type Utxo struct {
	TxID      string
	Vout      uint32
	Value     uint64
	Confirmed bool
}

// TransactionStatus tells whether and where a transaction has been included
// in the chain.
type TransactionStatus struct {
	Confirmed   bool
	BlockHash   string
	BlockHeight int
	BlockTime   int64
}

// Block is the header info of a block.
type Block struct {
	Hash       string
	Height     int
	Timestamp  int64
	MedianTime int64
}

// Service is representation of an explorer that allows to fetch data from a
// bitcoin-like blockchain and to broadcast transactions.
type Service interface {
	// GetUnspents fetches the utxos of the given address.
	GetUnspents(ctx context.Context, addr string) ([]Utxo, error)
	// GetUnspentsForAddresses fetches the utxos of the given list of addresses.
	GetUnspentsForAddresses(ctx context.Context, addresses []string) ([]Utxo, error)
	// GetTransactionHex fetches the transaction in hex format given its hash.
	GetTransactionHex(ctx context.Context, txid string) (string, error)
	// GetTransactionStatus returns the status of the tx identified by its
	// hash, or ErrTxNotFound.
	GetTransactionStatus(ctx context.Context, txid string) (*TransactionStatus, error)
	// BroadcastTransaction attempts to add the given tx in hex format to the
	// mempool and returns its tx hash.
	BroadcastTransaction(ctx context.Context, txhex string) (string, error)
	// GetBlockHeight returns the height of the chain tip.
	GetBlockHeight(ctx context.Context) (int, error)
	// GetTipBlock returns the header info of the chain tip.
	GetTipBlock(ctx context.Context) (*Block, error)
}
