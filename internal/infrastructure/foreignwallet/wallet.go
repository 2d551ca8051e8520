// Package foreignwallet implements a single key wallet for bitcoin-like
// chains, used to fund the P2SH addresses of the trades.
package foreignwallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"

	"github.com/qortal/qortd/internal/core/ports"
	"github.com/qortal/qortd/pkg/explorer"
	"github.com/qortal/qortd/pkg/mathutil"
)

const (
	dustLimit = 546
	// DefaultFeePerByte ...
	DefaultFeePerByte = 10
)

var (
	// ErrInvalidAmount ...
	ErrInvalidAmount = errors.New("amount must be above dust limit")
	// ErrWrongNetwork ...
	ErrWrongNetwork = errors.New("private key is not for the given network")
)

// Wallet spends the confirmed unspents of the P2PKH address of a single key.
type Wallet struct {
	key        *btcutil.WIF
	address    *btcutil.AddressPubKeyHash
	params     *chaincfg.Params
	chain      ports.ForeignChain
	feePerByte uint64

	// serializes funding so that two payments never select the same coins.
	lock sync.Mutex
}

// NewWallet returns a wallet for the given WIF encoded private key.
func NewWallet(
	wif string, params *chaincfg.Params, chain ports.ForeignChain,
	feePerByte uint64,
) (*Wallet, error) {
	key, err := btcutil.DecodeWIF(wif)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if !key.IsForNet(params) {
		return nil, ErrWrongNetwork
	}
	pkh := btcutil.Hash160(key.SerializePubKey())
	address, err := btcutil.NewAddressPubKeyHash(pkh, params)
	if err != nil {
		return nil, err
	}
	if feePerByte == 0 {
		feePerByte = DefaultFeePerByte
	}
	return &Wallet{
		key:        key,
		address:    address,
		params:     params,
		chain:      chain,
		feePerByte: feePerByte,
	}, nil
}

// Address returns the receiving address of the wallet.
func (w *Wallet) Address() string {
	return w.address.EncodeAddress()
}

// Balance returns the sum of the wallet confirmed unspents.
func (w *Wallet) Balance(ctx context.Context) (uint64, error) {
	utxos, err := w.confirmedUnspents(ctx)
	if err != nil {
		return 0, err
	}
	balance := uint64(0)
	for _, u := range utxos {
		balance += u.Value
	}
	return balance, nil
}

// FundAddress pays amount to address, sending the change back to the wallet.
// It returns the id of the broadcasted transaction.
func (w *Wallet) FundAddress(
	ctx context.Context, address string, amount uint64,
) (string, error) {
	if amount < dustLimit {
		return "", ErrInvalidAmount
	}
	outAddr, err := btcutil.DecodeAddress(address, w.params)
	if err != nil {
		return "", fmt.Errorf("invalid address %s: %w", address, err)
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	utxos, err := w.confirmedUnspents(ctx)
	if err != nil {
		return "", err
	}

	// The fee depends on the number of selected coins, retry the selection
	// until it covers the fee of the resulting tx.
	fee := mathutil.TxFee(1, 2, w.feePerByte)
	var coins []explorer.Utxo
	var change uint64
	for {
		coins, change, err = explorer.SelectUnspents(utxos, amount+fee)
		if err != nil {
			return "", fmt.Errorf("funding %d: %w", amount, err)
		}
		needed := mathutil.TxFee(len(coins), 2, w.feePerByte)
		if needed <= fee {
			break
		}
		fee = needed
	}

	txHex, txid, err := w.buildTx(coins, outAddr, amount, change)
	if err != nil {
		return "", err
	}
	if _, err := w.chain.BroadcastTransaction(ctx, txHex); err != nil {
		return "", fmt.Errorf("broadcasting funding tx: %w", err)
	}

	log.WithFields(log.Fields{
		"txid":    txid,
		"address": address,
		"amount":  mathutil.FormatAmount(amount),
		"fee":     fee,
	}).Info("funding tx broadcasted")
	return txid, nil
}

func (w *Wallet) confirmedUnspents(ctx context.Context) ([]explorer.Utxo, error) {
	unspents, err := w.chain.GetUnspents(ctx, w.Address())
	if err != nil {
		return nil, fmt.Errorf("fetching wallet unspents: %w", err)
	}
	utxos := make([]explorer.Utxo, 0, len(unspents))
	for _, u := range unspents {
		if !u.Confirmed {
			continue
		}
		utxos = append(utxos, explorer.Utxo{
			TxID: u.TxID, Vout: u.Vout, Value: u.Value, Confirmed: true,
		})
	}
	return utxos, nil
}

func (w *Wallet) buildTx(
	coins []explorer.Utxo, outAddr btcutil.Address, amount, change uint64,
) (string, string, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	for _, c := range coins {
		hash, err := chainhash.NewHashFromStr(c.TxID)
		if err != nil {
			return "", "", fmt.Errorf("invalid txid %s: %w", c.TxID, err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, c.Vout), nil, nil))
	}

	outScript, err := txscript.PayToAddrScript(outAddr)
	if err != nil {
		return "", "", err
	}
	tx.AddTxOut(wire.NewTxOut(int64(amount), outScript))

	ownScript, err := txscript.PayToAddrScript(w.address)
	if err != nil {
		return "", "", err
	}
	// Dust change goes to the miners.
	if change > dustLimit {
		tx.AddTxOut(wire.NewTxOut(int64(change), ownScript))
	}

	for i := range tx.TxIn {
		script, err := txscript.SignatureScript(
			tx, i, ownScript, txscript.SigHashAll, w.key.PrivKey, w.key.CompressPubKey,
		)
		if err != nil {
			return "", "", fmt.Errorf("signing input %d: %w", i, err)
		}
		tx.TxIn[i].SignatureScript = script
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", "", err
	}
	return hex.EncodeToString(buf.Bytes()), tx.TxHash().String(), nil
}
