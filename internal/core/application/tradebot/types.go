package tradebot

import (
	"errors"
	"time"
)

var (
	// ErrUnsupportedBlockchain is returned when no foreign chain client is
	// configured for the blockchain traded by an ACCT.
	ErrUnsupportedBlockchain = errors.New("foreign blockchain not supported")
	// ErrATNotOffering ...
	ErrATNotOffering = errors.New("AT is not offering QORT")
	// ErrTradeInProgress is returned when responding to an offer the node is
	// already trading with.
	ErrTradeInProgress = errors.New("a trade with this AT is already in progress")
	// ErrNotDeletable is returned when deleting an entry that may still hold
	// funds.
	ErrNotDeletable = errors.New("trade entry can not be deleted in its current state")
	// ErrInvalidAmount ...
	ErrInvalidAmount = errors.New("amounts must be positive")
	// ErrAlreadyStarted ...
	ErrAlreadyStarted = errors.New("trade bot already started")
)

// Config holds the trade bot parameters.
type Config struct {
	// Interval between two ticks.
	Interval time.Duration
	// Concurrency is the max number of trades processed in parallel during a
	// tick.
	Concurrency int
	// ForeignFee is the fee paid by P2SH redeem and refund transactions.
	ForeignFee uint64
	// Clock defaults to time.Now.
	Clock func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// CreateOfferRequest is what Bob needs to offer QORT for foreign coin.
type CreateOfferRequest struct {
	ACCTName string
	// CreatorAddress is the Qortal address refunded if the offer is
	// cancelled.
	CreatorAddress string
	QortAmount     uint64
	ForeignAmount  uint64
	// TradeTimeout is expressed in minutes.
	TradeTimeout uint64
	// ForeignReceivingAddress receives the foreign coin once redeemed.
	ForeignReceivingAddress string
}

// RespondToOfferRequest is what Alice needs to take an offer.
type RespondToOfferRequest struct {
	ATAddress string
	// ReceivingAddress is the Qortal address the AT pays out to.
	ReceivingAddress string
	// ForeignRefundAddress optionally receives the foreign coin if the trade
	// fails, the trade foreign key does otherwise.
	ForeignRefundAddress string
}
