// Package backup exports the node-local data that can not be rebuilt from
// the chain, and imports it back.
package backup

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/qortal/qortd/internal/core/domain"
	"github.com/qortal/qortd/internal/core/ports"
)

const readOnlyTx = true

// ErrInvalidRecord is returned when an imported record can not be restored.
var ErrInvalidRecord = errors.New("invalid backup record")

// Service ...
type Service struct {
	repoManager ports.RepoManager
}

// NewService ...
func NewService(repoManager ports.RepoManager) *Service {
	return &Service{repoManager}
}

// ExportTradeBotStates writes every trade bot entry to w as a JSON array and
// returns the number of exported entries.
func (s *Service) ExportTradeBotStates(ctx context.Context, w io.Writer) (int, error) {
	trades, err := s.repoManager.TradeBotRepository().GetAllTradeBotData(ctx)
	if err != nil {
		return 0, err
	}
	records := make([]tradeBotRecord, 0, len(trades))
	for _, t := range trades {
		records = append(records, newTradeBotRecord(t))
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return 0, fmt.Errorf("failed to encode trade bot entries: %w", err)
	}
	return len(records), nil
}

// ImportTradeBotStates reads a JSON array written by ExportTradeBotStates and
// inserts or replaces the entries it holds, all or nothing. It returns the
// number of imported entries.
func (s *Service) ImportTradeBotStates(ctx context.Context, r io.Reader) (int, error) {
	var records []tradeBotRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidRecord, err)
	}

	trades := make([]domain.TradeBotData, 0, len(records))
	for i, rec := range records {
		trade, err := rec.toDomain()
		if err != nil {
			return 0, fmt.Errorf("record %d: %w", i, err)
		}
		trades = append(trades, *trade)
	}

	if _, err := s.repoManager.RunTransaction(
		ctx, !readOnlyTx, func(ctx context.Context) (interface{}, error) {
			repo := s.repoManager.TradeBotRepository()
			for _, t := range trades {
				if err := repo.SaveTradeBotData(ctx, t); err != nil {
					return nil, err
				}
			}
			return nil, nil
		},
	); err != nil {
		return 0, err
	}

	log.Infof("imported %d trade bot entries", len(trades))
	return len(trades), nil
}

// ExportATStates writes every stored AT state to w, one JSON object per line,
// ordered by AT address and height. It returns the number of exported states.
func (s *Service) ExportATStates(ctx context.Context, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	count := 0
	if err := s.repoManager.ATRepository().ForEachATState(
		ctx, func(state domain.ATStateData) error {
			if err := enc.Encode(newATStateRecord(state)); err != nil {
				return err
			}
			count++
			return nil
		},
	); err != nil {
		return count, fmt.Errorf("failed to export AT states: %w", err)
	}
	return count, nil
}

type tradeBotRecord struct {
	TradePrivateKey             string `json:"tradePrivateKey"`
	ACCTName                    string `json:"acctName"`
	Role                        string `json:"role"`
	State                       string `json:"tradeState"`
	StateValue                  int    `json:"tradeStateValue"`
	CreatorAddress              string `json:"creatorAddress,omitempty"`
	ATAddress                   string `json:"atAddress,omitempty"`
	TradeNativePublicKey        string `json:"tradeNativePublicKey"`
	TradeNativePublicKeyHash    string `json:"tradeNativePublicKeyHash"`
	TradeNativeAddress          string `json:"tradeNativeAddress"`
	HashOfSecret                string `json:"hashOfSecret,omitempty"`
	ForeignBlockchain           string `json:"foreignBlockchain"`
	TradeForeignPublicKey       string `json:"tradeForeignPublicKey"`
	TradeForeignPublicKeyHash   string `json:"tradeForeignPublicKeyHash"`
	QortAmount                  uint64 `json:"qortAmount"`
	ForeignAmount               uint64 `json:"foreignAmount"`
	ForeignReceivingAddress     string `json:"foreignKey,omitempty"`
	LockTimeA                   uint64 `json:"lockTimeA,omitempty"`
	ReceivingAccountInfo        string `json:"receivingAccountInfo,omitempty"`
	PartnerNativeAddress        string `json:"partnerNativeAddress,omitempty"`
	PartnerForeignPublicKeyHash string `json:"partnerForeignPublicKeyHash,omitempty"`
	FundingTxID                 string `json:"fundingTxId,omitempty"`
	SettlementTxID              string `json:"settlementTxId,omitempty"`
	Secret                      string `json:"secret,omitempty"`
	CancelRequested             bool   `json:"cancelRequested,omitempty"`
	CancelSubmitted             bool   `json:"cancelSubmitted,omitempty"`
	Timestamp                   int64  `json:"timestamp"`
	UpdatedAt                   int64  `json:"updatedAt"`
}

func newTradeBotRecord(t domain.TradeBotData) tradeBotRecord {
	return tradeBotRecord{
		TradePrivateKey:             hex.EncodeToString(t.TradePrivateKey),
		ACCTName:                    t.ACCTName,
		Role:                        t.Role.String(),
		State:                       string(t.State),
		StateValue:                  t.StateValue,
		CreatorAddress:              t.CreatorAddress,
		ATAddress:                   t.ATAddress,
		TradeNativePublicKey:        hex.EncodeToString(t.TradeNativePublicKey),
		TradeNativePublicKeyHash:    hex.EncodeToString(t.TradeNativePublicKeyHash),
		TradeNativeAddress:          t.TradeNativeAddress,
		HashOfSecret:                hex.EncodeToString(t.HashOfSecret),
		ForeignBlockchain:           t.ForeignBlockchain,
		TradeForeignPublicKey:       hex.EncodeToString(t.TradeForeignPublicKey),
		TradeForeignPublicKeyHash:   hex.EncodeToString(t.TradeForeignPublicKeyHash),
		QortAmount:                  t.QortAmount,
		ForeignAmount:               t.ForeignAmount,
		ForeignReceivingAddress:     t.ForeignReceivingAddress,
		LockTimeA:                   t.LockTimeA,
		ReceivingAccountInfo:        t.ReceivingAccountInfo,
		PartnerNativeAddress:        t.PartnerNativeAddress,
		PartnerForeignPublicKeyHash: hex.EncodeToString(t.PartnerForeignPublicKeyHash),
		FundingTxID:                 t.FundingTxID,
		SettlementTxID:              t.SettlementTxID,
		Secret:                      hex.EncodeToString(t.Secret),
		CancelRequested:             t.CancelRequested,
		CancelSubmitted:             t.CancelSubmitted,
		Timestamp:                   t.Timestamp,
		UpdatedAt:                   t.UpdatedAt,
	}
}

func (r tradeBotRecord) toDomain() (*domain.TradeBotData, error) {
	state := domain.TradeBotState(r.State)
	if !state.IsValid() {
		// Older exports only carry the numeric state.
		var ok bool
		if state, ok = domain.TradeStateFromValue(r.StateValue); !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidRecord, domain.ErrTradeBotUnknownState)
		}
	}

	role := state.Role()
	switch r.Role {
	case "alice":
		role = domain.RoleAlice
	case "bob":
		role = domain.RoleBob
	}

	d := &hexDecoder{}
	t := &domain.TradeBotData{
		TradePrivateKey:             d.decode(r.TradePrivateKey),
		ACCTName:                    r.ACCTName,
		Role:                        role,
		State:                       state,
		StateValue:                  state.Value(),
		CreatorAddress:              r.CreatorAddress,
		ATAddress:                   r.ATAddress,
		TradeNativePublicKey:        d.decode(r.TradeNativePublicKey),
		TradeNativePublicKeyHash:    d.decode(r.TradeNativePublicKeyHash),
		TradeNativeAddress:          r.TradeNativeAddress,
		HashOfSecret:                d.decode(r.HashOfSecret),
		ForeignBlockchain:           r.ForeignBlockchain,
		TradeForeignPublicKey:       d.decode(r.TradeForeignPublicKey),
		TradeForeignPublicKeyHash:   d.decode(r.TradeForeignPublicKeyHash),
		QortAmount:                  r.QortAmount,
		ForeignAmount:               r.ForeignAmount,
		ForeignReceivingAddress:     r.ForeignReceivingAddress,
		LockTimeA:                   r.LockTimeA,
		ReceivingAccountInfo:        r.ReceivingAccountInfo,
		PartnerNativeAddress:        r.PartnerNativeAddress,
		PartnerForeignPublicKeyHash: d.decode(r.PartnerForeignPublicKeyHash),
		FundingTxID:                 r.FundingTxID,
		SettlementTxID:              r.SettlementTxID,
		Secret:                      d.decode(r.Secret),
		CancelRequested:             r.CancelRequested,
		CancelSubmitted:             r.CancelSubmitted,
		Timestamp:                   r.Timestamp,
		UpdatedAt:                   r.UpdatedAt,
	}
	if d.err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRecord, d.err)
	}
	if len(t.TradePrivateKey) != 32 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRecord, domain.ErrTradeBotInvalidKey)
	}
	return t, nil
}

type atStateRecord struct {
	ATAddress  string `json:"atAddress"`
	Height     int    `json:"height"`
	Creation   int64  `json:"created"`
	StateHash  string `json:"stateHash"`
	StateData  string `json:"stateData,omitempty"`
	Fees       uint64 `json:"fees"`
	IsInitial  bool   `json:"isInitial"`
	IsFinished bool   `json:"isFinished"`
}

func newATStateRecord(s domain.ATStateData) atStateRecord {
	return atStateRecord{
		ATAddress:  s.ATAddress,
		Height:     s.Height,
		Creation:   s.Creation,
		StateHash:  hex.EncodeToString(s.StateHash),
		StateData:  hex.EncodeToString(s.StateData),
		Fees:       s.Fees,
		IsInitial:  s.IsInitial,
		IsFinished: s.IsFinished,
	}
}

// hexDecoder keeps the first decoding error so that many fields can be
// decoded in a row.
type hexDecoder struct {
	err error
}

func (d *hexDecoder) decode(s string) []byte {
	if d.err != nil || s == "" {
		return nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		d.err = err
		return nil
	}
	return b
}
