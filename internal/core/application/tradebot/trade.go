package tradebot

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"

	"github.com/qortal/qortd/internal/core/application"
	"github.com/qortal/qortd/internal/core/application/acct"
	"github.com/qortal/qortd/internal/core/domain"
	"github.com/qortal/qortd/internal/core/ports"
)

// bitcoinyACCT is an ACCT whose foreign leg is a P2SH on a bitcoin-like
// chain.
type bitcoinyACCT interface {
	acct.ACCT
	Params() *chaincfg.Params
}

type stateHandler func(ctx context.Context, t *trade) error

// trade is the working copy of an entry during a single tick.
type trade struct {
	entry *domain.TradeBotData
	acct  bitcoinyACCT
	keys  *acct.TradeKeys
	chain ports.ForeignChain
	dirty bool
}

func (t *trade) advance(next domain.TradeBotState) error {
	changed, err := t.entry.Advance(next)
	if err != nil {
		return fmt.Errorf("%s -> %s: %w", t.entry.State, next, err)
	}
	if changed {
		t.dirty = true
		application.TradeBotTransitions.WithLabelValues(string(next)).Inc()
	}
	return nil
}

func (t *trade) markDirty() {
	t.dirty = true
}

func (t *trade) logger() *log.Entry {
	return log.WithFields(log.Fields{
		"trade": shortKey(*t.entry),
		"at":    t.entry.ATAddress,
	})
}

// redeemScript returns the script of the P2SH locking Alice's foreign coins.
func (t *trade) redeemScript() ([]byte, error) {
	refunderPKH := t.entry.PartnerForeignPublicKeyHash
	redeemerPKH := t.entry.TradeForeignPublicKeyHash
	if t.entry.Role == domain.RoleAlice {
		refunderPKH, redeemerPKH = redeemerPKH, refunderPKH
	}
	return acct.BuildRedeemScript(
		refunderPKH, uint32(t.entry.LockTimeA), redeemerPKH, t.entry.HashOfSecret,
	)
}

func (t *trade) p2shAddress() ([]byte, string, error) {
	script, err := t.redeemScript()
	if err != nil {
		return nil, "", err
	}
	addr, err := acct.P2SHAddress(script, t.acct.Params())
	if err != nil {
		return nil, "", err
	}
	return script, addr, nil
}

// processTrade moves the entry one step forward. The entry is re-read under
// its own lock so that concurrent ticks and API calls never act on a stale
// copy.
func (s *Service) processTrade(ctx context.Context, tradePrivateKey []byte) error {
	unlock := s.lockTrade(tradePrivateKey)
	defer unlock()

	repo := s.repoManager.TradeBotRepository()
	entry, err := repo.GetTradeBotData(ctx, tradePrivateKey)
	if err != nil {
		if errors.Is(err, domain.ErrTradeBotNotFound) {
			return nil
		}
		return err
	}
	if entry.IsTerminal() {
		return nil
	}

	handler, ok := s.handlers()[entry.State]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrTradeBotUnknownState, entry.State)
	}
	t, err := s.newTrade(entry)
	if err != nil {
		return err
	}

	handlerErr := handler(ctx, t)
	if handlerErr != nil {
		t.entry.LastError = handlerErr.Error()
		t.markDirty()
	}
	if !t.dirty {
		return nil
	}

	if err := repo.UpdateTradeBotData(
		ctx, tradePrivateKey,
		func(_ *domain.TradeBotData) (*domain.TradeBotData, error) {
			t.entry.UpdatedAt = s.cfg.Clock().UnixMilli()
			return t.entry, nil
		},
	); err != nil {
		return err
	}
	return handlerErr
}

func (s *Service) newTrade(entry *domain.TradeBotData) (*trade, error) {
	a, err := s.getACCT(entry.ACCTName)
	if err != nil {
		return nil, err
	}
	chain, err := s.getChain(entry.ForeignBlockchain)
	if err != nil {
		return nil, err
	}
	keys, err := acct.DeriveTradeKeys(entry.TradePrivateKey)
	if err != nil {
		return nil, err
	}
	return &trade{entry: entry, acct: a, keys: keys, chain: chain}, nil
}

func (s *Service) handlers() map[domain.TradeBotState]stateHandler {
	return map[domain.TradeBotState]stateHandler{
		domain.BobWaitingForATConfirm:   s.handleBobWaitingForATConfirm,
		domain.Offering:                 s.handleOffering,
		domain.ForeignFundingPending:    s.handleForeignFundingPending,
		domain.BobWaitingForATLock:      s.handleBobWaitingForATLock,
		domain.WaitingForSecret:         s.handleWaitingForSecret,
		domain.SecretRevealed:           s.handleSecretRevealed,
		domain.FundingPending:           s.handleFundingPending,
		domain.AliceWaitingForATConfirm: s.handleAliceWaitingForATConfirm,
		domain.AliceWaitingForATRedeem:  s.handleAliceWaitingForATRedeem,
		domain.AliceRefunding:           s.handleAliceRefunding,
	}
}

// tradeData returns the current view of the trade's AT, or nil if the AT is
// not known yet.
func (s *Service) tradeData(
	ctx context.Context, t *trade,
) (*domain.CrossChainTradeData, error) {
	repo := s.repoManager.ATRepository()
	at, err := repo.GetATByAddress(ctx, t.entry.ATAddress)
	if err != nil {
		if errors.Is(err, domain.ErrATNotFound) {
			return nil, nil
		}
		return nil, err
	}
	data, err := t.acct.PopulateTradeDataFromAT(ctx, repo, *at)
	if err != nil {
		if errors.Is(err, domain.ErrATStateNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// spendP2SH builds and broadcasts a transaction spending every unspent of the
// P2SH to outputAddress, either with the secret or, if secret is nil, with a
// refund after the lock time.
func (s *Service) spendP2SH(
	ctx context.Context, t *trade, outputAddress string, secret []byte,
) (string, error) {
	script, p2sh, err := t.p2shAddress()
	if err != nil {
		return "", err
	}
	unspents, err := t.chain.GetUnspents(ctx, p2sh)
	if err != nil {
		return "", err
	}
	params := acct.SpendParams{
		Unspents:      unspents,
		RedeemScript:  script,
		Key:           t.keys.ForeignPrivateKey,
		OutputAddress: outputAddress,
		Fee:           s.cfg.ForeignFee,
		Params:        t.acct.Params(),
	}

	var txHex string
	if secret != nil {
		txHex, _, err = acct.BuildRedeemTx(params, secret)
	} else {
		txHex, _, err = acct.BuildRefundTx(params, uint32(t.entry.LockTimeA))
	}
	if err != nil {
		return "", err
	}
	return t.chain.BroadcastTransaction(ctx, txHex)
}

func hashMatches(secret, hashOfSecret []byte) bool {
	return len(secret) > 0 && bytes.Equal(acct.HashOfSecret(secret), hashOfSecret)
}
