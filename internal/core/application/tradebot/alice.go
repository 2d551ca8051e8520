package tradebot

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/qortal/qortd/internal/core/application/acct"
	"github.com/qortal/qortd/internal/core/domain"
)

func (s *Service) handleFundingPending(ctx context.Context, t *trade) error {
	data, err := s.tradeData(ctx, t)
	if err != nil {
		return err
	}
	if data == nil || !data.IsOffering() {
		if t.entry.FundingTxID == "" {
			t.logger().Warn("AT no longer offering, giving up")
			return t.advance(domain.Cancelled)
		}
		t.logger().Warn("AT no longer offering, refunding")
		return t.advance(domain.AliceRefunding)
	}

	_, p2sh, err := t.p2shAddress()
	if err != nil {
		return err
	}

	if t.entry.FundingTxID == "" {
		// A previous funding may have been broadcast without its txid being
		// saved.
		txid, err := fundingTxID(ctx, t, p2sh)
		if err != nil {
			return err
		}
		if txid != "" {
			t.entry.FundingTxID = txid
			t.markDirty()
			t.logger().Warnf("P2SH %s already funded in tx %s", p2sh, txid)
			return nil
		}

		wallet, err := s.getWallet(t.entry.ForeignBlockchain)
		if err != nil {
			return err
		}
		txid, err = wallet.FundAddress(ctx, p2sh, t.entry.ForeignAmount+s.cfg.ForeignFee)
		if err != nil {
			return fmt.Errorf("failed to fund P2SH %s: %w", p2sh, err)
		}
		t.entry.FundingTxID = txid
		t.markDirty()
		t.logger().Infof("P2SH %s funded in tx %s", p2sh, txid)
		return nil
	}

	status, err := t.chain.GetTransactionStatus(ctx, t.entry.FundingTxID)
	if err != nil {
		return err
	}
	if !status.Confirmed {
		return nil
	}

	msg, err := acct.BuildOfferMessage(acct.OfferMessage{
		PartnerForeignPKH: t.entry.TradeForeignPublicKeyHash,
		HashOfSecret:      t.entry.HashOfSecret,
		LockTimeA:         t.entry.LockTimeA,
	})
	if err != nil {
		return err
	}
	if _, err := s.node.SendMessage(
		ctx, t.keys.NativePrivateKey, t.entry.PartnerNativeAddress, msg,
	); err != nil {
		return fmt.Errorf("failed to send offer message: %w", err)
	}
	t.logger().Info("funding confirmed, offer message sent")
	return t.advance(domain.AliceWaitingForATConfirm)
}

// fundingTxID returns the tx of the largest output paid to the P2SH address
// if its unspents cover the expected foreign amount, an empty string
// otherwise.
func fundingTxID(ctx context.Context, t *trade, p2sh string) (string, error) {
	unspents, err := t.chain.GetUnspents(ctx, p2sh)
	if err != nil {
		return "", fmt.Errorf("failed to get P2SH %s unspents: %w", p2sh, err)
	}
	var (
		balance uint64
		largest uint64
		txid    string
	)
	for _, u := range unspents {
		balance += u.Value
		if u.Value > largest {
			largest, txid = u.Value, u.TxID
		}
	}
	if balance < t.entry.ForeignAmount {
		return "", nil
	}
	return txid, nil
}

func (s *Service) handleAliceWaitingForATConfirm(ctx context.Context, t *trade) error {
	data, err := s.tradeData(ctx, t)
	if err != nil || data == nil {
		return err
	}
	lockedToUs := data.IsLockedTo(t.entry.TradeNativeAddress, t.entry.HashOfSecret)

	switch {
	case data.Mode == domain.AcctModeTrading && lockedToUs:
		secret := acct.SecretA(t.entry.TradePrivateKey)
		msg, err := t.acct.BuildRedeemMessage(secret, t.entry.ReceivingAccountInfo)
		if err != nil {
			return err
		}
		if _, err := s.node.SendMessage(
			ctx, t.keys.NativePrivateKey, t.entry.ATAddress, msg,
		); err != nil {
			return fmt.Errorf("failed to send redeem message: %w", err)
		}
		t.logger().Info("AT locked to us, secret revealed")
		return t.advance(domain.AliceWaitingForATRedeem)

	case data.Mode == domain.AcctModeRedeemed && lockedToUs:
		return t.advance(domain.Done)

	case data.Mode != domain.AcctModeOffering:
		t.logger().Warnf("AT is %s and not locked to us, refunding", data.Mode)
		return t.advance(domain.AliceRefunding)

	case s.lockTimeAPassed(t):
		t.logger().Warn("AT not locked in time, refunding")
		return t.advance(domain.AliceRefunding)
	}
	return nil
}

func (s *Service) handleAliceWaitingForATRedeem(ctx context.Context, t *trade) error {
	data, err := s.tradeData(ctx, t)
	if err != nil || data == nil {
		return err
	}
	switch {
	case data.Mode == domain.AcctModeRedeemed:
		t.logger().Info("trade completed")
		return t.advance(domain.Done)
	case data.Mode == domain.AcctModeRefunded, s.lockTimeAPassed(t):
		t.logger().Warn("AT not redeemed, refunding")
		return t.advance(domain.AliceRefunding)
	}
	return nil
}

func (s *Service) handleAliceRefunding(ctx context.Context, t *trade) error {
	if t.entry.FundingTxID == "" {
		return t.advance(domain.Refunded)
	}

	// The refund is valid only once the median time of the foreign chain
	// passed the lock time.
	medianTime, err := t.chain.GetMedianBlockTime(ctx)
	if err != nil {
		return err
	}
	if uint64(medianTime) < t.entry.LockTimeA {
		return nil
	}

	refundAddress, err := s.refundAddress(t)
	if err != nil {
		return err
	}
	txid, err := s.spendP2SH(ctx, t, refundAddress, nil)
	if err != nil {
		return fmt.Errorf("failed to refund P2SH: %w", err)
	}
	t.entry.SettlementTxID = txid
	t.logger().Infof("P2SH refunded in tx %s", txid)
	return t.advance(domain.Refunded)
}

func (s *Service) lockTimeAPassed(t *trade) bool {
	return uint64(s.cfg.Clock().Unix()) >= t.entry.LockTimeA
}

// refundAddress returns where refunded foreign coins go: the configured
// receiving address if any, the trade foreign key otherwise.
func (s *Service) refundAddress(t *trade) (string, error) {
	if t.entry.ForeignReceivingAddress != "" {
		return t.entry.ForeignReceivingAddress, nil
	}
	addr, err := btcutil.NewAddressPubKeyHash(
		t.entry.TradeForeignPublicKeyHash, t.acct.Params(),
	)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}
