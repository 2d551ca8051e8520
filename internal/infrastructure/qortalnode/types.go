package qortalnode

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/qortal/qortd/internal/core/domain"
	"github.com/qortal/qortd/internal/core/ports"
)

// Byte fields are base58 encoded, like everywhere in the node API.

type atJSON struct {
	Address          string `json:"ATAddress"`
	CreatorPublicKey string `json:"creatorPublicKey"`
	CodeBytes        string `json:"codeBytes"`
	CodeHash         string `json:"codeHash"`
	CreationHeight   int    `json:"creationHeight"`
	Creation         int64  `json:"creation"`
	IsExecutable     bool   `json:"isExecutable"`
	IsSleeping       bool   `json:"isSleeping"`
	SleepUntilHeight int    `json:"sleepUntilHeight"`
	IsFinished       bool   `json:"isFinished"`
	HadFatalError    bool   `json:"hadFatalError"`
	IsFrozen         bool   `json:"isFrozen"`
}

type atStateJSON struct {
	Address    string `json:"ATAddress"`
	Height     int    `json:"height"`
	Creation   int64  `json:"creation"`
	StateHash  string `json:"stateHash"`
	StateData  string `json:"stateData"`
	Fees       uint64 `json:"fees"`
	IsInitial  bool   `json:"isInitial"`
	IsFinished bool   `json:"isFinished"`
}

type blockJSON struct {
	Height      int           `json:"height"`
	Signature   string        `json:"signature"`
	Timestamp   int64         `json:"timestamp"`
	DeployedATs []atJSON      `json:"deployedATs"`
	ATStates    []atStateJSON `json:"atStates"`
}

type messageJSON struct {
	SenderPublicKey string `json:"senderPublicKey,omitempty"`
	Sender          string `json:"sender,omitempty"`
	Recipient       string `json:"recipient"`
	Data            string `json:"data"`
	Timestamp       int64  `json:"timestamp"`
	Height          int    `json:"blockHeight,omitempty"`
	Signature       string `json:"signature"`
}

type deployATJSON struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"aTType"`
	Tags        string `json:"tags"`
	CodeHash    string `json:"codeHash"`
	DataBytes   string `json:"dataBytes"`
	Amount      uint64 `json:"amount"`
}

type txResultJSON struct {
	Signature string `json:"signature"`
}

func (b blockJSON) toPort() (*ports.Block, error) {
	block := &ports.Block{
		Height:      b.Height,
		Signature:   b.Signature,
		Timestamp:   b.Timestamp,
		DeployedATs: make([]domain.ATData, 0, len(b.DeployedATs)),
		ATStates:    make([]domain.ATStateData, 0, len(b.ATStates)),
	}
	for _, at := range b.DeployedATs {
		block.DeployedATs = append(block.DeployedATs, domain.ATData{
			Address:          at.Address,
			CreatorPublicKey: base58.Decode(at.CreatorPublicKey),
			CodeBytes:        base58.Decode(at.CodeBytes),
			CodeHash:         base58.Decode(at.CodeHash),
			CreationHeight:   at.CreationHeight,
			Creation:         at.Creation,
			IsExecutable:     at.IsExecutable,
			IsSleeping:       at.IsSleeping,
			SleepUntilHeight: at.SleepUntilHeight,
			IsFinished:       at.IsFinished,
			HadFatalError:    at.HadFatalError,
			IsFrozen:         at.IsFrozen,
		})
	}
	for _, s := range b.ATStates {
		stateHash, err := decode(s.StateHash)
		if err != nil {
			return nil, fmt.Errorf("state of %s: %w", s.Address, err)
		}
		block.ATStates = append(block.ATStates, domain.ATStateData{
			ATAddress:  s.Address,
			Height:     s.Height,
			Creation:   s.Creation,
			StateHash:  stateHash,
			StateData:  base58.Decode(s.StateData),
			Fees:       s.Fees,
			IsInitial:  s.IsInitial,
			IsFinished: s.IsFinished,
		})
	}
	return block, nil
}

func (m messageJSON) toPort() (ports.Message, error) {
	data, err := decode(m.Data)
	if err != nil {
		return ports.Message{}, fmt.Errorf("message %s: %w", m.Signature, err)
	}
	return ports.Message{
		Sender:    m.Sender,
		Recipient: m.Recipient,
		Data:      data,
		Timestamp: m.Timestamp,
		Height:    m.Height,
		Signature: m.Signature,
	}, nil
}

// decode returns an error for a non empty value that is not valid base58,
// which base58.Decode would turn into an empty slice.
func decode(s string) ([]byte, error) {
	b := base58.Decode(s)
	if s != "" && len(b) == 0 {
		return nil, ErrInvalidEncoding
	}
	return b, nil
}
