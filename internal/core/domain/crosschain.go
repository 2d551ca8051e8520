package domain

import (
	"bytes"

	"github.com/shopspring/decimal"

	"github.com/qortal/qortd/pkg/mathutil"
)

// AcctMode is the protocol phase of a cross-chain trading AT as encoded in its
// data segment.
type AcctMode uint64

const (
	AcctModeOffering AcctMode = iota
	AcctModeTrading
	AcctModeCancelled
	AcctModeRefunded
	AcctModeRedeemed
)

var acctModeNames = map[AcctMode]string{
	AcctModeOffering:  "OFFERING",
	AcctModeTrading:   "TRADING",
	AcctModeCancelled: "CANCELLED",
	AcctModeRefunded:  "REFUNDED",
	AcctModeRedeemed:  "REDEEMED",
}

func (m AcctMode) String() string {
	if name, ok := acctModeNames[m]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsValid ...
func (m AcctMode) IsValid() bool {
	_, ok := acctModeNames[m]
	return ok
}

// IsFinal returns whether the AT reached a mode it can not leave.
func (m AcctMode) IsFinal() bool {
	return m == AcctModeCancelled || m == AcctModeRefunded || m == AcctModeRedeemed
}

// CrossChainTradeData is the projection of a trading AT's state. It is never
// persisted.
type CrossChainTradeData struct {
	ATAddress               string
	ACCTName                string
	ForeignBlockchain       string
	CreatorAddress          string
	CreatorTradeAddress     string
	CreatorForeignPKH       []byte
	CreationTimestamp       int64
	CreationHeight          int
	StateHeight             int
	QortBalance             uint64
	QortAmount              uint64
	ExpectedForeignAmount   uint64
	TradeTimeout            uint64
	Mode                    AcctMode
	HashOfSecretA           []byte
	PartnerAddress          string
	PartnerForeignPKH       []byte
	PartnerReceivingAddress string
	LockTimeA               uint64
	TradeRefundTimeout      uint64
	IsFinished              bool
}

// Price returns the amount of foreign coin paid for a single QORT.
func (d CrossChainTradeData) Price() decimal.Decimal {
	return mathutil.Price(d.QortAmount, d.ExpectedForeignAmount)
}

// IsOffering ...
func (d CrossChainTradeData) IsOffering() bool {
	return d.Mode == AcctModeOffering
}

// IsTradingWith returns whether the AT is locked to the given partner with
// the given hash of secret.
func (d CrossChainTradeData) IsTradingWith(partner string, hashOfSecret []byte) bool {
	return d.Mode == AcctModeTrading && d.IsLockedTo(partner, hashOfSecret)
}

// IsLockedTo returns whether partner and hash of secret recorded in the AT
// match the given ones, whatever the current mode.
func (d CrossChainTradeData) IsLockedTo(partner string, hashOfSecret []byte) bool {
	if d.PartnerAddress != partner || len(hashOfSecret) <= 0 {
		return false
	}
	return bytes.Equal(d.HashOfSecretA, hashOfSecret)
}
