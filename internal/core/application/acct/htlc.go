package acct

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/qortal/qortd/internal/core/ports"
)

const dustLimit = 546

var (
	// ErrNoUnspents ...
	ErrNoUnspents = errors.New("no unspents to spend")
	// ErrInsufficientFunds is returned when the spent amount does not cover
	// the fee.
	ErrInsufficientFunds = errors.New("insufficient funds to cover fee")
)

// BuildRedeemScript returns the script of the P2SH locking the foreign coins:
// spendable by redeemerPKH with the preimage of hashOfSecret, or by
// refunderPKH after lockTime.
func BuildRedeemScript(
	refunderPKH []byte, lockTime uint32, redeemerPKH, hashOfSecret []byte,
) ([]byte, error) {
	if len(refunderPKH) != hashSize || len(redeemerPKH) != hashSize ||
		len(hashOfSecret) != hashSize {
		return nil, ErrInvalidHashLength
	}
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_IF).
		AddOp(txscript.OP_HASH160).AddData(hashOfSecret).AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160).AddData(redeemerPKH).
		AddOp(txscript.OP_ELSE).
		AddInt64(int64(lockTime)).AddOp(txscript.OP_CHECKLOCKTIMEVERIFY).AddOp(txscript.OP_DROP).
		AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160).AddData(refunderPKH).
		AddOp(txscript.OP_ENDIF).
		AddOp(txscript.OP_EQUALVERIFY).AddOp(txscript.OP_CHECKSIG).
		Script()
}

// P2SHAddress returns the address paying to the given redeem script.
func P2SHAddress(redeemScript []byte, params *chaincfg.Params) (string, error) {
	addr, err := btcutil.NewAddressScriptHash(redeemScript, params)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// SpendParams describe a transaction spending every given P2SH unspent to a
// single output.
type SpendParams struct {
	Unspents      []ports.Unspent
	RedeemScript  []byte
	Key           *btcec.PrivateKey
	OutputAddress string
	Fee           uint64
	Params        *chaincfg.Params
}

// BuildRedeemTx returns the hex and the id of the transaction spending the
// P2SH with the secret.
func BuildRedeemTx(p SpendParams, secret []byte) (string, string, error) {
	if len(secret) != secretSize {
		return "", "", ErrInvalidSecretLength
	}
	return buildSpendTx(p, 0, wire.MaxTxInSequenceNum, func(sig, pubkey []byte) ([]byte, error) {
		return txscript.NewScriptBuilder().
			AddData(sig).AddData(pubkey).AddData(secret).AddOp(txscript.OP_TRUE).
			AddData(p.RedeemScript).
			Script()
	})
}

// BuildRefundTx returns the hex and the id of the transaction taking the
// P2SH funds back once lockTime has passed.
func BuildRefundTx(p SpendParams, lockTime uint32) (string, string, error) {
	return buildSpendTx(p, lockTime, wire.MaxTxInSequenceNum-1, func(sig, pubkey []byte) ([]byte, error) {
		return txscript.NewScriptBuilder().
			AddData(sig).AddData(pubkey).AddOp(txscript.OP_FALSE).
			AddData(p.RedeemScript).
			Script()
	})
}

func buildSpendTx(
	p SpendParams, lockTime, sequence uint32,
	unlockingScript func(sig, pubkey []byte) ([]byte, error),
) (string, string, error) {
	if len(p.Unspents) <= 0 {
		return "", "", ErrNoUnspents
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	total := uint64(0)
	for _, u := range p.Unspents {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return "", "", fmt.Errorf("invalid txid %s: %w", u.TxID, err)
		}
		in := wire.NewTxIn(wire.NewOutPoint(hash, u.Vout), nil, nil)
		in.Sequence = sequence
		tx.AddTxIn(in)
		total += u.Value
	}
	if total < p.Fee+dustLimit {
		return "", "", fmt.Errorf(
			"%w: got %d, fee is %d", ErrInsufficientFunds, total, p.Fee,
		)
	}

	addr, err := btcutil.DecodeAddress(p.OutputAddress, p.Params)
	if err != nil {
		return "", "", fmt.Errorf("invalid output address: %w", err)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return "", "", err
	}
	tx.AddTxOut(wire.NewTxOut(int64(total-p.Fee), pkScript))
	tx.LockTime = lockTime

	pubkey := p.Key.PubKey().SerializeCompressed()
	for i := range tx.TxIn {
		sig, err := txscript.RawTxInSignature(
			tx, i, p.RedeemScript, txscript.SigHashAll, p.Key,
		)
		if err != nil {
			return "", "", fmt.Errorf("signing input %d: %w", i, err)
		}
		script, err := unlockingScript(sig, pubkey)
		if err != nil {
			return "", "", err
		}
		tx.TxIn[i].SignatureScript = script
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", "", err
	}
	return hex.EncodeToString(buf.Bytes()), tx.TxHash().String(), nil
}
