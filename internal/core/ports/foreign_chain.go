package ports

import "context"

// Unspent is an unspent output of a foreign chain address.
type Unspent struct {
	TxID      string
	Vout      uint32
	Value     uint64
	Confirmed bool
}

// TxStatus ...
type TxStatus struct {
	Found       bool
	Confirmed   bool
	BlockHeight int
	BlockTime   int64
}

// ForeignChain is the read/submit capability of a bitcoin-like chain.
type ForeignChain interface {
	GetBalance(ctx context.Context, address string) (uint64, error)
	GetUnspents(ctx context.Context, address string) ([]Unspent, error)
	GetTransactionStatus(ctx context.Context, txid string) (*TxStatus, error)
	BroadcastTransaction(ctx context.Context, txHex string) (string, error)
	GetMedianBlockTime(ctx context.Context) (int64, error)
}

// ForeignWallet funds foreign chain addresses on behalf of the user.
type ForeignWallet interface {
	FundAddress(ctx context.Context, address string, amount uint64) (string, error)
}
