package domain

import (
	"encoding/hex"
	"sort"
	"time"
)

// TradeBotState is the protocol state of a trade bot entry.
type TradeBotState string

const (
	BobWaitingForATConfirm   TradeBotState = "BOB_WAITING_FOR_AT_CONFIRM"
	Offering                 TradeBotState = "OFFERING"
	ForeignFundingPending    TradeBotState = "FOREIGN_FUNDING_PENDING"
	BobWaitingForATLock      TradeBotState = "BOB_WAITING_FOR_AT_LOCK"
	WaitingForSecret         TradeBotState = "WAITING_FOR_SECRET"
	SecretRevealed           TradeBotState = "SECRET_REVEALED"
	FundingPending           TradeBotState = "FUNDING_PENDING"
	AliceWaitingForATConfirm TradeBotState = "ALICE_WAITING_FOR_AT_CONFIRM"
	AliceWaitingForATRedeem  TradeBotState = "ALICE_WAITING_FOR_AT_REDEEM"
	AliceRefunding           TradeBotState = "ALICE_REFUNDING"
	Done                     TradeBotState = "DONE"
	Refunded                 TradeBotState = "REFUNDED"
	Cancelled                TradeBotState = "CANCELLED"
)

// TradeRole tells whether the local node created the AT (Bob) or responded to
// its offer (Alice).
type TradeRole int

const (
	RoleBob TradeRole = iota
	RoleAlice
)

func (r TradeRole) String() string {
	if r == RoleAlice {
		return "alice"
	}
	return "bob"
}

var stateValues = map[TradeBotState]int{
	BobWaitingForATConfirm:   10,
	Offering:                 20,
	ForeignFundingPending:    30,
	BobWaitingForATLock:      40,
	WaitingForSecret:         50,
	SecretRevealed:           60,
	FundingPending:           80,
	AliceWaitingForATConfirm: 90,
	AliceWaitingForATRedeem:  100,
	AliceRefunding:           110,
	Done:                     200,
	Refunded:                 210,
	Cancelled:                220,
}

var transitions = map[TradeBotState][]TradeBotState{
	BobWaitingForATConfirm:   {Offering, Cancelled},
	Offering:                 {ForeignFundingPending, Cancelled},
	ForeignFundingPending:    {BobWaitingForATLock, WaitingForSecret, Offering, Cancelled},
	BobWaitingForATLock:      {WaitingForSecret, Cancelled},
	WaitingForSecret:         {SecretRevealed, Refunded},
	SecretRevealed:           {Done},
	FundingPending:           {AliceWaitingForATConfirm, AliceRefunding, Cancelled},
	AliceWaitingForATConfirm: {AliceWaitingForATRedeem, AliceRefunding, Done},
	AliceWaitingForATRedeem:  {Done, AliceRefunding},
	AliceRefunding:           {Refunded},
}

// Value returns the numeric code of the state, 0 if unknown.
func (s TradeBotState) Value() int {
	return stateValues[s]
}

// IsValid ...
func (s TradeBotState) IsValid() bool {
	_, ok := stateValues[s]
	return ok
}

// IsTerminal ...
func (s TradeBotState) IsTerminal() bool {
	return s == Done || s == Refunded || s == Cancelled
}

// Role returns who owns a trade in this state. Terminal states are shared by
// both roles.
func (s TradeBotState) Role() TradeRole {
	switch s {
	case FundingPending, AliceWaitingForATConfirm, AliceWaitingForATRedeem,
		AliceRefunding:
		return RoleAlice
	default:
		return RoleBob
	}
}

// CanTransitionTo ...
func (s TradeBotState) CanTransitionTo(next TradeBotState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TradeStateFromValue returns the state with the given numeric code.
func TradeStateFromValue(value int) (TradeBotState, bool) {
	for state, v := range stateValues {
		if v == value {
			return state, true
		}
	}
	return "", false
}

// TradeBotData is the persisted progress of a single swap attempt, identified
// by its trade private key.
type TradeBotData struct {
	TradePrivateKey             []byte
	ACCTName                    string
	Role                        TradeRole
	State                       TradeBotState
	StateValue                  int
	CreatorAddress              string
	ATAddress                   string
	TradeNativePublicKey        []byte
	TradeNativePublicKeyHash    []byte
	TradeNativeAddress          string
	HashOfSecret                []byte
	ForeignBlockchain           string
	TradeForeignPublicKey       []byte
	TradeForeignPublicKeyHash   []byte
	QortAmount                  uint64
	ForeignAmount               uint64
	ForeignReceivingAddress     string
	LockTimeA                   uint64
	ReceivingAccountInfo        string
	PartnerNativeAddress        string
	PartnerForeignPublicKeyHash []byte
	FundingTxID                 string
	SettlementTxID              string
	Secret                      []byte
	CancelRequested             bool
	CancelSubmitted             bool
	LastError                   string
	Timestamp                   int64
	UpdatedAt                   int64
}

// NewTradeBotData returns an entry in the given initial state.
func NewTradeBotData(
	tradePrivateKey []byte, acctName string, state TradeBotState,
) (*TradeBotData, error) {
	if len(tradePrivateKey) != 32 {
		return nil, ErrTradeBotInvalidKey
	}
	if !state.IsValid() {
		return nil, ErrTradeBotUnknownState
	}
	now := time.Now().UnixMilli()
	return &TradeBotData{
		TradePrivateKey: tradePrivateKey,
		ACCTName:        acctName,
		Role:            state.Role(),
		State:           state,
		StateValue:      state.Value(),
		Timestamp:       now,
		UpdatedAt:       now,
	}, nil
}

// Key returns the hex encoded trade private key, used as primary key.
func (t *TradeBotData) Key() string {
	return TradeKey(t.TradePrivateKey)
}

// TradeKey returns the primary key for the given trade private key.
func TradeKey(tradePrivateKey []byte) string {
	return hex.EncodeToString(tradePrivateKey)
}

// IsTerminal ...
func (t *TradeBotData) IsTerminal() bool {
	return t.State.IsTerminal()
}

// Advance moves the trade to the next state. It returns false without error
// if the trade is already in that state.
func (t *TradeBotData) Advance(next TradeBotState) (bool, error) {
	if t.State == next {
		return false, nil
	}
	if t.State.IsTerminal() {
		return false, ErrTradeBotTerminal
	}
	if !t.State.CanTransitionTo(next) {
		return false, ErrTradeBotInvalidTransition
	}
	t.State = next
	t.StateValue = next.Value()
	t.LastError = ""
	t.UpdatedAt = time.Now().UnixMilli()
	return true, nil
}

// RequestCancel flags the trade for cancellation. Only Bob trades whose AT
// is still offering can be cancelled.
func (t *TradeBotData) RequestCancel() (bool, error) {
	if t.CancelRequested {
		return false, nil
	}
	switch t.State {
	case BobWaitingForATConfirm, Offering, ForeignFundingPending:
	default:
		return false, ErrTradeBotInvalidTransition
	}
	t.CancelRequested = true
	t.UpdatedAt = time.Now().UnixMilli()
	return true, nil
}

// ResetPartner drops the data of a responder that never funded its leg.
func (t *TradeBotData) ResetPartner() {
	t.PartnerNativeAddress = ""
	t.PartnerForeignPublicKeyHash = nil
	t.HashOfSecret = nil
	t.LockTimeA = 0
}

// SortTradeBotData orders entries by creation timestamp, then by key.
func SortTradeBotData(trades []TradeBotData) {
	sort.SliceStable(trades, func(i, j int) bool {
		if trades[i].Timestamp != trades[j].Timestamp {
			return trades[i].Timestamp < trades[j].Timestamp
		}
		return trades[i].Key() < trades[j].Key()
	})
}
