package tradebot

import (
	"context"
	"fmt"
	"sort"

	"github.com/qortal/qortd/internal/core/application/acct"
	"github.com/qortal/qortd/internal/core/domain"
)

func (s *Service) handleBobWaitingForATConfirm(ctx context.Context, t *trade) error {
	data, err := s.tradeData(ctx, t)
	if err != nil || data == nil {
		return err
	}
	switch data.Mode {
	case domain.AcctModeOffering:
		t.logger().Info("AT confirmed, offering")
		return t.advance(domain.Offering)
	case domain.AcctModeCancelled:
		return t.advance(domain.Cancelled)
	}
	return nil
}

func (s *Service) handleOffering(ctx context.Context, t *trade) error {
	data, err := s.tradeData(ctx, t)
	if err != nil || data == nil {
		return err
	}
	if data.Mode == domain.AcctModeCancelled {
		t.logger().Info("AT cancelled")
		return t.advance(domain.Cancelled)
	}
	if !data.IsOffering() {
		return nil
	}

	if t.entry.CancelRequested {
		return s.submitCancel(ctx, t)
	}

	offer, sender, err := s.findOffer(ctx, t)
	if err != nil || offer == nil {
		return err
	}
	t.entry.PartnerNativeAddress = sender
	t.entry.PartnerForeignPublicKeyHash = offer.PartnerForeignPKH
	t.entry.HashOfSecret = offer.HashOfSecret
	t.entry.LockTimeA = offer.LockTimeA
	t.logger().Infof("offer taken by %s", sender)
	return t.advance(domain.ForeignFundingPending)
}

func (s *Service) handleForeignFundingPending(ctx context.Context, t *trade) error {
	data, err := s.tradeData(ctx, t)
	if err != nil || data == nil {
		return err
	}
	switch data.Mode {
	case domain.AcctModeCancelled:
		return t.advance(domain.Cancelled)
	case domain.AcctModeTrading:
		if data.IsTradingWith(t.entry.PartnerNativeAddress, t.entry.HashOfSecret) {
			return t.advance(domain.WaitingForSecret)
		}
		return nil
	}

	if t.entry.CancelRequested {
		return s.submitCancel(ctx, t)
	}

	refundTimeout := acct.CalcRefundTimeout(
		s.cfg.Clock().UnixMilli(), t.entry.LockTimeA,
	)
	if refundTimeout == 0 {
		t.logger().Warn("partner did not fund in time, offering again")
		t.entry.ResetPartner()
		return t.advance(domain.Offering)
	}

	_, p2sh, err := t.p2shAddress()
	if err != nil {
		return err
	}
	balance, err := t.chain.GetBalance(ctx, p2sh)
	if err != nil {
		return err
	}
	if balance < t.entry.ForeignAmount {
		return nil
	}

	msg, err := t.acct.BuildTradeMessage(acct.TradeParams{
		PartnerAddress:    t.entry.PartnerNativeAddress,
		PartnerForeignPKH: t.entry.PartnerForeignPublicKeyHash,
		HashOfSecret:      t.entry.HashOfSecret,
		LockTimeA:         t.entry.LockTimeA,
		RefundTimeout:     refundTimeout,
	})
	if err != nil {
		return err
	}
	if _, err := s.node.SendMessage(
		ctx, t.keys.NativePrivateKey, t.entry.ATAddress, msg,
	); err != nil {
		return fmt.Errorf("failed to send trade message: %w", err)
	}
	t.logger().Infof("P2SH %s funded, trade message sent", p2sh)
	return t.advance(domain.BobWaitingForATLock)
}

func (s *Service) handleBobWaitingForATLock(ctx context.Context, t *trade) error {
	data, err := s.tradeData(ctx, t)
	if err != nil || data == nil {
		return err
	}
	if data.Mode == domain.AcctModeCancelled {
		return t.advance(domain.Cancelled)
	}
	if data.Mode == domain.AcctModeOffering {
		return nil
	}
	if !data.IsLockedTo(t.entry.PartnerNativeAddress, t.entry.HashOfSecret) {
		return fmt.Errorf("AT locked to unexpected partner %s", data.PartnerAddress)
	}
	t.logger().Info("AT locked to partner")
	return t.advance(domain.WaitingForSecret)
}

func (s *Service) handleWaitingForSecret(ctx context.Context, t *trade) error {
	data, err := s.tradeData(ctx, t)
	if err != nil || data == nil {
		return err
	}
	switch data.Mode {
	case domain.AcctModeRefunded:
		t.logger().Warn("AT refunded before secret was revealed")
		return t.advance(domain.Refunded)
	case domain.AcctModeRedeemed:
	default:
		return nil
	}
	if !data.IsLockedTo(t.entry.PartnerNativeAddress, t.entry.HashOfSecret) {
		return fmt.Errorf("AT redeemed by unexpected partner %s", data.PartnerAddress)
	}

	secret, err := t.acct.FindSecretA(ctx, s.repoManager.ATRepository(), *data)
	if err != nil {
		return err
	}
	if !hashMatches(secret, t.entry.HashOfSecret) {
		return nil
	}

	txid, err := s.spendP2SH(ctx, t, t.entry.ForeignReceivingAddress, secret)
	if err != nil {
		return fmt.Errorf("failed to redeem P2SH: %w", err)
	}
	t.entry.Secret = secret
	t.entry.SettlementTxID = txid
	t.logger().Infof("secret found, P2SH redeemed in tx %s", txid)
	return t.advance(domain.SecretRevealed)
}

func (s *Service) handleSecretRevealed(ctx context.Context, t *trade) error {
	status, err := t.chain.GetTransactionStatus(ctx, t.entry.SettlementTxID)
	if err != nil {
		return err
	}
	if status.Confirmed {
		t.logger().Info("trade completed")
		return t.advance(domain.Done)
	}
	if status.Found {
		return nil
	}

	// The redeem tx has been dropped by the foreign chain, broadcast it again.
	txid, err := s.spendP2SH(ctx, t, t.entry.ForeignReceivingAddress, t.entry.Secret)
	if err != nil {
		return fmt.Errorf("failed to redeem P2SH: %w", err)
	}
	if txid != t.entry.SettlementTxID {
		t.entry.SettlementTxID = txid
		t.markDirty()
	}
	return nil
}

func (s *Service) submitCancel(ctx context.Context, t *trade) error {
	if t.entry.CancelSubmitted {
		return nil
	}
	msg, err := t.acct.BuildCancelMessage(t.entry.CreatorAddress)
	if err != nil {
		return err
	}
	if _, err := s.node.SendMessage(
		ctx, t.keys.NativePrivateKey, t.entry.ATAddress, msg,
	); err != nil {
		return fmt.Errorf("failed to send cancel message: %w", err)
	}
	t.entry.CancelSubmitted = true
	t.markDirty()
	t.logger().Info("cancel message sent")
	return nil
}

// findOffer returns the oldest valid offer message sent to the trade address
// since the entry was created, together with its sender.
func (s *Service) findOffer(
	ctx context.Context, t *trade,
) (*acct.OfferMessage, string, error) {
	messages, err := s.node.GetMessages(
		ctx, t.entry.TradeNativeAddress, t.entry.Timestamp,
	)
	if err != nil {
		return nil, "", err
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp < messages[j].Timestamp
	})

	nowMs := s.cfg.Clock().UnixMilli()
	for _, m := range messages {
		if !acct.IsValidAddress(m.Sender) {
			continue
		}
		offer, err := acct.ParseOfferMessage(m.Data)
		if err != nil {
			t.logger().WithError(err).Debugf("ignoring message from %s", m.Sender)
			continue
		}
		if acct.CalcRefundTimeout(nowMs, offer.LockTimeA) == 0 {
			continue
		}
		return offer, m.Sender, nil
	}
	return nil, "", nil
}
