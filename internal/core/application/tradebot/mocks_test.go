package tradebot_test

import (
	"context"
	"crypto/ed25519"

	"github.com/stretchr/testify/mock"

	"github.com/qortal/qortd/internal/core/ports"
)

// **** Qortal node ****

type mockNode struct {
	mock.Mock
}

func (m *mockNode) GetChainHeight(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockNode) GetBlock(ctx context.Context, height int) (*ports.Block, error) {
	args := m.Called(ctx, height)

	var res *ports.Block
	if a := args.Get(0); a != nil {
		res = a.(*ports.Block)
	}
	return res, args.Error(1)
}

func (m *mockNode) DeployAT(
	ctx context.Context, req ports.DeployATRequest,
) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockNode) SendMessage(
	ctx context.Context, sender ed25519.PrivateKey, recipient string,
	data []byte,
) (string, error) {
	args := m.Called(ctx, sender, recipient, data)
	return args.String(0), args.Error(1)
}

func (m *mockNode) GetMessages(
	ctx context.Context, recipient string, since int64,
) ([]ports.Message, error) {
	args := m.Called(ctx, recipient, since)

	var res []ports.Message
	if a := args.Get(0); a != nil {
		res = a.([]ports.Message)
	}
	return res, args.Error(1)
}

// **** Foreign chain ****

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

func (m *mockChain) BroadcastTransaction(
	ctx context.Context, txHex string,
) (string, error) {
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

// **** Foreign wallet ****

type mockWallet struct {
	mock.Mock
}

func (m *mockWallet) FundAddress(
	ctx context.Context, address string, amount uint64,
) (string, error) {
	args := m.Called(ctx, address, amount)
	return args.String(0), args.Error(1)
}
