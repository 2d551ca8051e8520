package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/qortal/qortd/internal/core/domain"
	"github.com/qortal/qortd/pkg/mathutil"
)

var keyFlag = cli.StringFlag{
	Name:     "key",
	Usage:    "the hex encoded trade private key of the entry",
	Required: true,
}

var trades = cli.Command{
	Name:  "trades",
	Usage: "list the trade bot entries",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "active",
			Usage: "list only the trades not yet completed",
		},
	},
	Action: listTradesAction,
}

var offers = cli.Command{
	Name:   "offers",
	Usage:  "list the trading ATs currently offering QORT",
	Action: listOffersAction,
}

var cancelTrade = cli.Command{
	Name:   "cancel",
	Usage:  "request the cancellation of an offer, submitted at the next daemon start",
	Flags:  []cli.Flag{&keyFlag},
	Action: cancelTradeAction,
}

var deleteTrade = cli.Command{
	Name:   "delete",
	Usage:  "delete a completed trade bot entry, or one that never locked funds",
	Flags:  []cli.Flag{&keyFlag},
	Action: deleteTradeAction,
}

type tradeView struct {
	TradePrivateKey   string `json:"tradePrivateKey"`
	ACCT              string `json:"acct"`
	Role              string `json:"role"`
	State             string `json:"state"`
	ATAddress         string `json:"atAddress,omitempty"`
	ForeignBlockchain string `json:"foreignBlockchain"`
	QortAmount        string `json:"qortAmount"`
	ForeignAmount     string `json:"foreignAmount"`
	Partner           string `json:"partner,omitempty"`
	FundingTxID       string `json:"fundingTxId,omitempty"`
	SettlementTxID    string `json:"settlementTxId,omitempty"`
	CancelRequested   bool   `json:"cancelRequested,omitempty"`
	LastError         string `json:"lastError,omitempty"`
	UpdatedAt         string `json:"updatedAt"`
}

type offerView struct {
	ATAddress     string `json:"atAddress"`
	ACCT          string `json:"acct"`
	Creator       string `json:"creator"`
	QortAmount    string `json:"qortAmount"`
	ForeignAmount string `json:"foreignAmount"`
	Price         string `json:"price"`
	TradeTimeout  uint64 `json:"tradeTimeoutMinutes"`
	StateHeight   int    `json:"stateHeight"`
}

func listTradesAction(ctx *cli.Context) error {
	svc, cleanup, err := getTradeBot(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	entries, err := svc.ListEntries(context.Background())
	if err != nil {
		return err
	}

	views := make([]tradeView, 0, len(entries))
	for _, e := range entries {
		if ctx.Bool("active") && e.IsTerminal() {
			continue
		}
		views = append(views, newTradeView(e))
	}
	return printJSON(ctx, views)
}

func listOffersAction(ctx *cli.Context) error {
	svc, cleanup, err := getTradeBot(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	list, err := svc.ListOffers(context.Background())
	if err != nil {
		return err
	}

	views := make([]offerView, 0, len(list))
	for _, o := range list {
		views = append(views, offerView{
			ATAddress:     o.ATAddress,
			ACCT:          o.ACCTName,
			Creator:       o.CreatorAddress,
			QortAmount:    mathutil.FormatAmount(o.QortAmount),
			ForeignAmount: mathutil.FormatAmount(o.ExpectedForeignAmount),
			Price:         o.Price().StringFixed(mathutil.Precision),
			TradeTimeout:  o.TradeTimeout,
			StateHeight:   o.StateHeight,
		})
	}
	return printJSON(ctx, views)
}

func cancelTradeAction(ctx *cli.Context) error {
	key, err := parseTradeKey(ctx)
	if err != nil {
		return err
	}
	svc, cleanup, err := getTradeBot(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := svc.RequestCancel(context.Background(), key); err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, "cancellation requested")
	return nil
}

func deleteTradeAction(ctx *cli.Context) error {
	key, err := parseTradeKey(ctx)
	if err != nil {
		return err
	}
	svc, cleanup, err := getTradeBot(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := svc.DeleteEntry(context.Background(), key); err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, "trade deleted")
	return nil
}

func parseTradeKey(ctx *cli.Context) ([]byte, error) {
	key, err := hex.DecodeString(ctx.String(keyFlag.Name))
	if err != nil || len(key) != 32 {
		return nil, &invalidUsageError{ctx, ctx.Command.Name}
	}
	return key, nil
}

func newTradeView(e domain.TradeBotData) tradeView {
	return tradeView{
		TradePrivateKey:   hex.EncodeToString(e.TradePrivateKey),
		ACCT:              e.ACCTName,
		Role:              e.State.Role().String(),
		State:             string(e.State),
		ATAddress:         e.ATAddress,
		ForeignBlockchain: e.ForeignBlockchain,
		QortAmount:        mathutil.FormatAmount(e.QortAmount),
		ForeignAmount:     mathutil.FormatAmount(e.ForeignAmount),
		Partner:           e.PartnerNativeAddress,
		FundingTxID:       e.FundingTxID,
		SettlementTxID:    e.SettlementTxID,
		CancelRequested:   e.CancelRequested,
		LastError:         e.LastError,
		UpdatedAt:         time.UnixMilli(e.UpdatedAt).UTC().Format(time.RFC3339),
	}
}
