package acct

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/qortal/qortd/internal/core/domain"
)

// Data segment layout of the bitcoin-like trading ATs, byte offsets.
const (
	creatorAddressOffset          = 0
	creatorForeignPKHOffset       = 32
	hashOfSecretOffset            = 56
	tradeTimeoutOffset            = 80
	qortAmountOffset              = 88
	foreignAmountOffset           = 96
	modeOffset                    = 104
	partnerAddressOffset          = 112
	partnerForeignPKHOffset       = 144
	lockTimeAOffset               = 168
	refundTimeoutOffset           = 176
	partnerReceivingAddressOffset = 184
	secretOffset                  = 216

	// DataLength is the size of the data segment.
	DataLength = 248

	addressFieldSize = 32
	hashFieldSize    = 24
	hashSize         = 20
	secretSize       = 32
)

// OfferParams are the fields of a new trading AT set by its creator.
type OfferParams struct {
	CreatorTradeAddress string
	CreatorForeignPKH   []byte
	// TradeTimeout is expressed in minutes.
	TradeTimeout  uint64
	QortAmount    uint64
	ForeignAmount uint64
}

// TradeParams are the fields sent by the creator to lock the AT to a
// partner.
type TradeParams struct {
	PartnerAddress    string
	PartnerForeignPKH []byte
	HashOfSecret      []byte
	LockTimeA         uint64
	// RefundTimeout is expressed in minutes.
	RefundTimeout uint64
}

// Bitcoiny is the ACCT trading QORT against a bitcoin-like coin through a
// P2SH hash time locked contract.
type Bitcoiny struct {
	name       string
	blockchain string
	codeBytes  []byte
	codeHash   []byte
	params     *chaincfg.Params
}

// NewBitcoiny returns the ACCT identified by name for the given foreign
// chain. The code hash is the SHA256 of the code bytes deployed with the AT.
func NewBitcoiny(name, blockchain string, params *chaincfg.Params) *Bitcoiny {
	codeBytes := []byte("qortal/acct/" + name)
	codeHash := sha256.Sum256(codeBytes)
	return &Bitcoiny{
		name:       name,
		blockchain: blockchain,
		codeBytes:  codeBytes,
		codeHash:   codeHash[:],
		params:     params,
	}
}

func (b *Bitcoiny) Name() string {
	return b.name
}

func (b *Bitcoiny) CodeBytes() []byte {
	return b.codeBytes
}

func (b *Bitcoiny) CodeHash() []byte {
	return b.codeHash
}

func (b *Bitcoiny) ModeByteOffset() int {
	return modeOffset
}

func (b *Bitcoiny) ForeignBlockchain() string {
	return b.blockchain
}

// Params returns the parameters of the foreign chain.
func (b *Bitcoiny) Params() *chaincfg.Params {
	return b.params
}

func (b *Bitcoiny) PopulateTradeDataFromAT(
	ctx context.Context, repo domain.ATRepository, at domain.ATData,
) (*domain.CrossChainTradeData, error) {
	if !at.HasCodeHash(b.codeHash) {
		return nil, fmt.Errorf("%w: AT %s does not run %s", ErrUnexpectedLayout, at.Address, b.name)
	}
	state, err := repo.GetLatestATState(ctx, at.Address)
	if err != nil {
		return nil, err
	}
	return b.populate(at, *state)
}

func (b *Bitcoiny) PopulateTradeDataFromState(
	ctx context.Context, repo domain.ATRepository, state domain.ATStateData,
) (*domain.CrossChainTradeData, error) {
	at, err := repo.GetATByAddress(ctx, state.ATAddress)
	if err != nil {
		return nil, err
	}
	if !at.HasCodeHash(b.codeHash) {
		return nil, fmt.Errorf("%w: AT %s does not run %s", ErrUnexpectedLayout, at.Address, b.name)
	}
	return b.populate(*at, state)
}

func (b *Bitcoiny) populate(
	at domain.ATData, state domain.ATStateData,
) (*domain.CrossChainTradeData, error) {
	if state.IsTrimmed() {
		return nil, ErrTrimmedState
	}
	data := state.StateData
	if len(data) < DataLength {
		return nil, fmt.Errorf(
			"%w: expected %d bytes, got %d", ErrUnexpectedLayout, DataLength, len(data),
		)
	}

	mode := domain.AcctMode(binary.BigEndian.Uint64(data[modeOffset:]))
	if !mode.IsValid() {
		return nil, fmt.Errorf("%w: unknown mode %d", ErrUnexpectedLayout, mode)
	}

	tradeData := &domain.CrossChainTradeData{
		ATAddress:             at.Address,
		ACCTName:              b.name,
		ForeignBlockchain:     b.blockchain,
		CreatorAddress:        AddressFromPublicKey(at.CreatorPublicKey),
		CreatorTradeAddress:   bytesToAddress(data[creatorAddressOffset:]),
		CreatorForeignPKH:     copyBytes(data[creatorForeignPKHOffset : creatorForeignPKHOffset+hashSize]),
		CreationTimestamp:     at.Creation,
		CreationHeight:        at.CreationHeight,
		StateHeight:           state.Height,
		TradeTimeout:          binary.BigEndian.Uint64(data[tradeTimeoutOffset:]),
		QortAmount:            binary.BigEndian.Uint64(data[qortAmountOffset:]),
		ExpectedForeignAmount: binary.BigEndian.Uint64(data[foreignAmountOffset:]),
		Mode:                  mode,
		IsFinished:            state.IsFinished || at.IsFinished,
	}
	if !mode.IsFinal() {
		tradeData.QortBalance = tradeData.QortAmount
	}

	// Partner fields are meaningful only once the AT has been locked.
	if mode != domain.AcctModeOffering && mode != domain.AcctModeCancelled {
		tradeData.HashOfSecretA = copyBytes(data[hashOfSecretOffset : hashOfSecretOffset+hashSize])
		tradeData.PartnerAddress = bytesToAddress(data[partnerAddressOffset:])
		tradeData.PartnerForeignPKH = copyBytes(data[partnerForeignPKHOffset : partnerForeignPKHOffset+hashSize])
		tradeData.LockTimeA = binary.BigEndian.Uint64(data[lockTimeAOffset:])
		tradeData.TradeRefundTimeout = binary.BigEndian.Uint64(data[refundTimeoutOffset:])
		tradeData.PartnerReceivingAddress = bytesToAddress(data[partnerReceivingAddressOffset:])
	}
	return tradeData, nil
}

// BuildInitialData returns the data segment of a new offering AT.
func (b *Bitcoiny) BuildInitialData(req OfferParams) ([]byte, error) {
	creatorAddress, err := addressToBytes(req.CreatorTradeAddress, addressFieldSize)
	if err != nil {
		return nil, err
	}
	if len(req.CreatorForeignPKH) != hashSize {
		return nil, ErrInvalidHashLength
	}
	if req.QortAmount == 0 || req.ForeignAmount == 0 || req.TradeTimeout == 0 {
		return nil, fmt.Errorf("%w: amounts and trade timeout must be positive", ErrInvalidMessage)
	}

	data := make([]byte, DataLength)
	copy(data[creatorAddressOffset:], creatorAddress)
	copy(data[creatorForeignPKHOffset:], req.CreatorForeignPKH)
	binary.BigEndian.PutUint64(data[tradeTimeoutOffset:], req.TradeTimeout)
	binary.BigEndian.PutUint64(data[qortAmountOffset:], req.QortAmount)
	binary.BigEndian.PutUint64(data[foreignAmountOffset:], req.ForeignAmount)
	binary.BigEndian.PutUint64(data[modeOffset:], uint64(domain.AcctModeOffering))
	return data, nil
}

// BuildCancelMessage returns the message making the AT refund its creator.
func (b *Bitcoiny) BuildCancelMessage(creatorAddress string) ([]byte, error) {
	return addressToBytes(creatorAddress, addressFieldSize)
}

// BuildTradeMessage returns the message locking the AT to a partner.
func (b *Bitcoiny) BuildTradeMessage(req TradeParams) ([]byte, error) {
	partnerAddress, err := addressToBytes(req.PartnerAddress, addressFieldSize)
	if err != nil {
		return nil, err
	}
	if len(req.PartnerForeignPKH) != hashSize || len(req.HashOfSecret) != hashSize {
		return nil, ErrInvalidHashLength
	}

	msg := make([]byte, 0, addressFieldSize+2*hashFieldSize+16)
	msg = append(msg, partnerAddress...)
	msg = append(msg, padRight(req.PartnerForeignPKH, hashFieldSize)...)
	msg = append(msg, padRight(req.HashOfSecret, hashFieldSize)...)
	msg = binary.BigEndian.AppendUint64(msg, req.LockTimeA)
	msg = binary.BigEndian.AppendUint64(msg, req.RefundTimeout)
	return msg, nil
}

// BuildRedeemMessage returns the message revealing the secret to the AT,
// that pays out to receivingAddress.
func (b *Bitcoiny) BuildRedeemMessage(
	secret []byte, receivingAddress string,
) ([]byte, error) {
	if len(secret) != secretSize {
		return nil, ErrInvalidSecretLength
	}
	address, err := addressToBytes(receivingAddress, addressFieldSize)
	if err != nil {
		return nil, err
	}
	msg := make([]byte, 0, secretSize+addressFieldSize)
	msg = append(msg, secret...)
	return append(msg, address...), nil
}

func (b *Bitcoiny) FindSecretA(
	ctx context.Context, repo domain.ATRepository,
	data domain.CrossChainTradeData,
) ([]byte, error) {
	state, err := repo.GetLatestATState(ctx, data.ATAddress)
	if err != nil {
		if errors.Is(err, domain.ErrATStateNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if state.IsTrimmed() || len(state.StateData) < DataLength {
		return nil, nil
	}

	mode, _ := state.DataValueUint64(modeOffset)
	if domain.AcctMode(mode) != domain.AcctModeRedeemed {
		return nil, nil
	}

	secret := copyBytes(state.StateData[secretOffset : secretOffset+secretSize])
	if len(data.HashOfSecretA) <= 0 ||
		!bytes.Equal(btcutil.Hash160(secret), data.HashOfSecretA) {
		return nil, nil
	}
	return secret, nil
}

func copyBytes(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
