package esplora

import "github.com/qortal/qortd/pkg/explorer"

type status struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int    `json:"block_height"`
	BlockHash   string `json:"block_hash"`
	BlockTime   int64  `json:"block_time"`
}

func (s status) toExplorer() *explorer.TransactionStatus {
	return &explorer.TransactionStatus{
		Confirmed:   s.Confirmed,
		BlockHash:   s.BlockHash,
		BlockHeight: s.BlockHeight,
		BlockTime:   s.BlockTime,
	}
}

type utxo struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  uint64 `json:"value"`
	Status status `json:"status"`
}

func (u utxo) toExplorer() explorer.Utxo {
	return explorer.Utxo{
		TxID:      u.TxID,
		Vout:      u.Vout,
		Value:     u.Value,
		Confirmed: u.Status.Confirmed,
	}
}

type block struct {
	ID         string `json:"id"`
	Height     int    `json:"height"`
	Timestamp  int64  `json:"timestamp"`
	MedianTime int64  `json:"mediantime"`
}

func (b block) toExplorer() *explorer.Block {
	return &explorer.Block{
		Hash:       b.ID,
		Height:     b.Height,
		Timestamp:  b.Timestamp,
		MedianTime: b.MedianTime,
	}
}
