package acct

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/qortal/qortd/internal/core/ports"
	"github.com/stretchr/testify/require"
)

const (
	testLockTime   = 1700000000
	testFundAmount = 100000
	testFee        = 1000
)

func TestHTLC(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	bob := newTestKeys(t)
	alice := newTestKeys(t)
	secret := SecretA(alice.NativePrivateKey.Seed())

	redeemScript, err := BuildRedeemScript(
		alice.ForeignPublicKeyHash, testLockTime,
		bob.ForeignPublicKeyHash, HashOfSecret(secret),
	)
	require.NoError(t, err)

	p2sh, err := P2SHAddress(redeemScript, params)
	require.NoError(t, err)
	addr, err := btcutil.DecodeAddress(p2sh, params)
	require.NoError(t, err)
	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	unspents := []ports.Unspent{{
		TxID:      chainhash.HashH(randomBytes(t, 32)).String(),
		Vout:      1,
		Value:     testFundAmount,
		Confirmed: true,
	}}

	t.Run("redeem", func(t *testing.T) {
		txHex, txid, err := BuildRedeemTx(SpendParams{
			Unspents:      unspents,
			RedeemScript:  redeemScript,
			Key:           bob.ForeignPrivateKey,
			OutputAddress: pkhAddress(t, bob.ForeignPublicKeyHash, params),
			Fee:           testFee,
			Params:        params,
		}, secret)
		require.NoError(t, err)

		tx := decodeTx(t, txHex)
		require.Equal(t, tx.TxHash().String(), txid)
		require.Len(t, tx.TxOut, 1)
		require.Equal(t, int64(testFundAmount-testFee), tx.TxOut[0].Value)
		require.NoError(t, execute(tx, pkScript))
	})

	t.Run("redeem with wrong secret", func(t *testing.T) {
		txHex, _, err := BuildRedeemTx(SpendParams{
			Unspents:      unspents,
			RedeemScript:  redeemScript,
			Key:           bob.ForeignPrivateKey,
			OutputAddress: pkhAddress(t, bob.ForeignPublicKeyHash, params),
			Fee:           testFee,
			Params:        params,
		}, randomBytes(t, 32))
		require.NoError(t, err)
		require.Error(t, execute(decodeTx(t, txHex), pkScript))
	})

	t.Run("redeem with refunder key", func(t *testing.T) {
		txHex, _, err := BuildRedeemTx(SpendParams{
			Unspents:      unspents,
			RedeemScript:  redeemScript,
			Key:           alice.ForeignPrivateKey,
			OutputAddress: pkhAddress(t, alice.ForeignPublicKeyHash, params),
			Fee:           testFee,
			Params:        params,
		}, secret)
		require.NoError(t, err)
		require.Error(t, execute(decodeTx(t, txHex), pkScript))
	})

	t.Run("refund", func(t *testing.T) {
		txHex, _, err := BuildRefundTx(SpendParams{
			Unspents:      unspents,
			RedeemScript:  redeemScript,
			Key:           alice.ForeignPrivateKey,
			OutputAddress: pkhAddress(t, alice.ForeignPublicKeyHash, params),
			Fee:           testFee,
			Params:        params,
		}, testLockTime)
		require.NoError(t, err)

		tx := decodeTx(t, txHex)
		require.Equal(t, uint32(testLockTime), tx.LockTime)
		require.NoError(t, execute(tx, pkScript))
	})

	t.Run("refund before lock time", func(t *testing.T) {
		txHex, _, err := BuildRefundTx(SpendParams{
			Unspents:      unspents,
			RedeemScript:  redeemScript,
			Key:           alice.ForeignPrivateKey,
			OutputAddress: pkhAddress(t, alice.ForeignPublicKeyHash, params),
			Fee:           testFee,
			Params:        params,
		}, testLockTime-1)
		require.NoError(t, err)
		require.Error(t, execute(decodeTx(t, txHex), pkScript))
	})

	t.Run("invalid", func(t *testing.T) {
		base := SpendParams{
			RedeemScript:  redeemScript,
			Key:           bob.ForeignPrivateKey,
			OutputAddress: pkhAddress(t, bob.ForeignPublicKeyHash, params),
			Fee:           testFee,
			Params:        params,
		}

		_, _, err := BuildRedeemTx(base, secret)
		require.ErrorIs(t, err, ErrNoUnspents)

		base.Unspents = unspents
		base.Fee = testFundAmount
		_, _, err = BuildRedeemTx(base, secret)
		require.ErrorIs(t, err, ErrInsufficientFunds)

		_, _, err = BuildRedeemTx(base, secret[:10])
		require.ErrorIs(t, err, ErrInvalidSecretLength)

		_, err = BuildRedeemScript(alice.ForeignPublicKeyHash[:5], 0, bob.ForeignPublicKeyHash, HashOfSecret(secret))
		require.ErrorIs(t, err, ErrInvalidHashLength)
	})
}

func pkhAddress(t *testing.T, pkh []byte, params *chaincfg.Params) string {
	addr, err := btcutil.NewAddressPubKeyHash(pkh, params)
	require.NoError(t, err)
	return addr.EncodeAddress()
}

func decodeTx(t *testing.T, txHex string) *wire.MsgTx {
	raw, err := hex.DecodeString(txHex)
	require.NoError(t, err)
	tx := wire.NewMsgTx(wire.TxVersion)
	require.NoError(t, tx.Deserialize(bytes.NewReader(raw)))
	return tx
}

func execute(tx *wire.MsgTx, pkScript []byte) error {
	fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, testFundAmount)
	hashes := txscript.NewTxSigHashes(tx, fetcher)
	engine, err := txscript.NewEngine(
		pkScript, tx, 0, txscript.StandardVerifyFlags, nil, hashes,
		testFundAmount, fetcher,
	)
	if err != nil {
		return err
	}
	return engine.Execute()
}
