package foreignwallet_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/qortal/qortd/internal/core/application/acct"
	"github.com/qortal/qortd/internal/core/ports"
	"github.com/qortal/qortd/internal/infrastructure/foreignwallet"
	"github.com/qortal/qortd/pkg/explorer"
)

const (
	txid1 = "1100000000000000000000000000000000000000000000000000000000000000"
	txid2 = "2200000000000000000000000000000000000000000000000000000000000000"
	txid3 = "3300000000000000000000000000000000000000000000000000000000000000"
)

var ctx = context.Background()

func TestFundAddress(t *testing.T) {
	params, err := acct.LitecoinParams(acct.NetworkRegtest)
	require.NoError(t, err)
	wif, _ := newKey(t, params)
	recipient := newAddress(t, params)

	chain := &mockChain{}
	w, err := foreignwallet.NewWallet(wif, params, chain, 10)
	require.NoError(t, err)

	unspents := []ports.Unspent{
		{TxID: txid1, Vout: 0, Value: 40000, Confirmed: true},
		{TxID: txid2, Vout: 1, Value: 100000, Confirmed: true},
		{TxID: txid3, Vout: 0, Value: 1000000, Confirmed: false},
	}
	chain.On("GetUnspents", mock.Anything, w.Address()).Return(unspents, nil)

	var broadcasted string
	chain.On("BroadcastTransaction", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { broadcasted = args.String(1) }).
		Return("txid", nil)

	balance, err := w.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(140000), balance)

	txid, err := w.FundAddress(ctx, recipient, 50000)
	require.NoError(t, err)
	require.NotEmpty(t, txid)

	tx := decodeTx(t, broadcasted)
	require.Equal(t, txid, tx.TxHash().String())
	require.Len(t, tx.TxIn, 1)
	require.Equal(t, txid2, tx.TxIn[0].PreviousOutPoint.Hash.String())
	require.Len(t, tx.TxOut, 2)
	require.Equal(t, int64(50000), tx.TxOut[0].Value)
	require.Equal(t, int64(100000-50000-2260), tx.TxOut[1].Value)

	ownScript := payToAddrScript(t, w.Address(), params)
	require.Equal(t, ownScript, tx.TxOut[1].PkScript)
	verifyInputs(t, tx, ownScript, map[wire.OutPoint]int64{
		tx.TxIn[0].PreviousOutPoint: 100000,
	})
}

func TestFundAddressFailures(t *testing.T) {
	params, err := acct.LitecoinParams(acct.NetworkRegtest)
	require.NoError(t, err)
	wif, _ := newKey(t, params)
	recipient := newAddress(t, params)

	chain := &mockChain{}
	w, err := foreignwallet.NewWallet(wif, params, chain, 10)
	require.NoError(t, err)
	chain.On("GetUnspents", mock.Anything, w.Address()).Return([]ports.Unspent{
		{TxID: txid1, Vout: 0, Value: 40000, Confirmed: true},
	}, nil)

	tests := []struct {
		name        string
		address     string
		amount      uint64
		expectedErr error
	}{
		{"dust amount", recipient, 100, foreignwallet.ErrInvalidAmount},
		{"insufficient funds", recipient, 40000, explorer.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := w.FundAddress(ctx, tt.address, tt.amount)
			require.ErrorIs(t, err, tt.expectedErr)
		})
	}

	t.Run("invalid address", func(t *testing.T) {
		_, err := w.FundAddress(ctx, "notanaddress", 10000)
		require.Error(t, err)
	})
	chain.AssertNotCalled(t, "BroadcastTransaction", mock.Anything, mock.Anything)
}

func TestNewWallet(t *testing.T) {
	params, err := acct.LitecoinParams(acct.NetworkRegtest)
	require.NoError(t, err)

	_, err = foreignwallet.NewWallet("invalid", params, &mockChain{}, 0)
	require.Error(t, err)

	wif, _ := newKey(t, &chaincfg.MainNetParams)
	_, err = foreignwallet.NewWallet(wif, params, &mockChain{}, 0)
	require.ErrorIs(t, err, foreignwallet.ErrWrongNetwork)
}

func newKey(t *testing.T, params *chaincfg.Params) (string, *btcec.PrivateKey) {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	wif, err := btcutil.NewWIF(key, params, true)
	require.NoError(t, err)
	return wif.String(), key
}

func newAddress(t *testing.T, params *chaincfg.Params) string {
	_, key := newKey(t, params)
	pkh := btcutil.Hash160(key.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressPubKeyHash(pkh, params)
	require.NoError(t, err)
	return addr.EncodeAddress()
}

func payToAddrScript(t *testing.T, address string, params *chaincfg.Params) []byte {
	addr, err := btcutil.DecodeAddress(address, params)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return script
}

func decodeTx(t *testing.T, txHex string) *wire.MsgTx {
	buf, err := hex.DecodeString(txHex)
	require.NoError(t, err)
	tx := wire.NewMsgTx(wire.TxVersion)
	require.NoError(t, tx.Deserialize(bytes.NewReader(buf)))
	return tx
}

func verifyInputs(
	t *testing.T, tx *wire.MsgTx, prevScript []byte,
	prevValues map[wire.OutPoint]int64,
) {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for outpoint, value := range prevValues {
		fetcher.AddPrevOut(outpoint, wire.NewTxOut(value, prevScript))
	}
	hashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, in := range tx.TxIn {
		engine, err := txscript.NewEngine(
			prevScript, tx, i, txscript.StandardVerifyFlags, nil, hashes,
			prevValues[in.PreviousOutPoint], fetcher,
		)
		require.NoError(t, err)
		require.NoError(t, engine.Execute())
	}
}

type mockChain struct {
	mock.Mock
}

func (m *mockChain) GetBalance(ctx context.Context, address string) (uint64, error) {
	args := m.Called(ctx, address)
	var res uint64
	if a := args.Get(0); a != nil {
		res = a.(uint64)
	}
	return res, args.Error(1)
}

func (m *mockChain) GetUnspents(
	ctx context.Context, address string,
) ([]ports.Unspent, error) {
	args := m.Called(ctx, address)
	var res []ports.Unspent
	if a := args.Get(0); a != nil {
		res = a.([]ports.Unspent)
	}
	return res, args.Error(1)
}

func (m *mockChain) GetTransactionStatus(
	ctx context.Context, txid string,
) (*ports.TxStatus, error) {
	args := m.Called(ctx, txid)
	var res *ports.TxStatus
	if a := args.Get(0); a != nil {
		res = a.(*ports.TxStatus)
	}
	return res, args.Error(1)
}

func (m *mockChain) BroadcastTransaction(ctx context.Context, txHex string) (string, error) {
	args := m.Called(ctx, txHex)
	return args.String(0), args.Error(1)
}

func (m *mockChain) GetMedianBlockTime(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	var res int64
	if a := args.Get(0); a != nil {
		res = a.(int64)
	}
	return res, args.Error(1)
}
