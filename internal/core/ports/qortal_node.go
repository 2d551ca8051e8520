package ports

import (
	"context"
	"crypto/ed25519"

	"github.com/qortal/qortd/internal/core/domain"
)

// Block is what the node reports about the ATs of a single block.
type Block struct {
	Height      int
	Signature   string
	Timestamp   int64
	DeployedATs []domain.ATData
	ATStates    []domain.ATStateData
}

// Message is an arbitrary payload sent from an account to another one, or to
// an AT.
type Message struct {
	Sender    string
	Recipient string
	Data      []byte
	Timestamp int64
	Height    int
	Signature string
}

// DeployATRequest holds what is needed to deploy a trading AT.
type DeployATRequest struct {
	Name        string
	Description string
	ACCTName    string
	CodeHash    []byte
	DataBytes   []byte
	QortAmount  uint64
}

// ChainTip returns the current height of the Qortal chain.
type ChainTip interface {
	GetChainHeight(ctx context.Context) (int, error)
}

// QortalNode is the bridge to the local Qortal node.
type QortalNode interface {
	ChainTip
	GetBlock(ctx context.Context, height int) (*Block, error)
	DeployAT(ctx context.Context, req DeployATRequest) (string, error)
	SendMessage(
		ctx context.Context, sender ed25519.PrivateKey, recipient string,
		data []byte,
	) (string, error)
	// GetMessages returns the messages sent to recipient with timestamp not
	// older than since (ms).
	GetMessages(
		ctx context.Context, recipient string, since int64,
	) ([]Message, error)
}
