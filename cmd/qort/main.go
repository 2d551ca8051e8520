package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/qortal/qortd/config"
	"github.com/qortal/qortd/internal/core/application"
	"github.com/qortal/qortd/internal/core/application/acct"
	"github.com/qortal/qortd/internal/core/application/tradebot"
	"github.com/qortal/qortd/internal/core/ports"
	dbbadger "github.com/qortal/qortd/internal/infrastructure/storage/db/badger"
)

const repoTimeout = time.Minute

var (
	datadirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "the data directory of qortd",
		Value: config.GetDatadir(),
	}
	networkFlag = cli.StringFlag{
		Name:  "network",
		Usage: "the network qortd is running on: mainnet, testnet or regtest",
		Value: config.NetworkMainnet,
	}
)

func main() {
	log.SetLevel(log.WarnLevel)

	if err := newApp().Run(os.Args); err != nil {
		fatal(err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()

	app.Name = "qort"
	app.Usage = "Command line interface to inspect and maintain the data " +
		"directory of qortd. The daemon must be stopped while running it."
	app.Flags = []cli.Flag{&datadirFlag, &networkFlag}
	app.Commands = append(
		app.Commands,
		&trades,
		&offers,
		&cancelTrade,
		&deleteTrade,
		&exportTrades,
		&importTrades,
		&exportStates,
		&watermarks,
		&checkConsistency,
	)
	return app
}

// openRepoManager opens the badger store of the selected network. The caller
// must close it.
func openRepoManager(ctx *cli.Context) (ports.RepoManager, error) {
	dbDir := filepath.Join(
		ctx.String(datadirFlag.Name), ctx.String(networkFlag.Name), config.DbLocation,
	)
	if _, err := os.Stat(dbDir); err != nil {
		return nil, fmt.Errorf("no qortd data found in %s", dbDir)
	}
	return dbbadger.NewRepoManager(dbDir, dbbadger.NewLogger(log.ErrorLevel), repoTimeout)
}

// getTradeBot returns a trade bot that can be used only to read and edit the
// local entries, it has no access to the chains.
func getTradeBot(ctx *cli.Context) (*tradebot.Service, func(), error) {
	registry, err := acct.DefaultRegistry(ctx.String(networkFlag.Name))
	if err != nil {
		return nil, nil, err
	}
	repoManager, err := openRepoManager(ctx)
	if err != nil {
		return nil, nil, err
	}
	svc := tradebot.NewService(repoManager, nil, nil, nil, registry, tradebot.Config{})
	return svc, repoManager.Close, nil
}

func printJSON(ctx *cli.Context, v interface{}) error {
	buf, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(ctx.App.Writer, string(buf))
	return err
}

type invalidUsageError struct {
	ctx     *cli.Context
	command string
}

func (e *invalidUsageError) Error() string {
	return fmt.Sprintf("invalid usage of command %s", e.command)
}

func fatal(err error) {
	var e *invalidUsageError
	if errors.As(err, &e) {
		_ = cli.ShowCommandHelp(e.ctx, e.command)
	} else {
		_, _ = fmt.Fprintf(
			os.Stderr, "[qort] %s: %v\n", application.ErrorCode(err), err,
		)
	}
	os.Exit(1)
}
