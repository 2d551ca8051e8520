package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/qortal/qortd/internal/core/application/backup"
	"github.com/qortal/qortd/internal/core/domain"
)

var (
	outFlag = cli.StringFlag{
		Name:  "out",
		Usage: "the file to write to, stdout if omitted",
	}
	inFlag = cli.StringFlag{
		Name:     "in",
		Usage:    "the file to read from",
		Required: true,
	}
)

var exportTrades = cli.Command{
	Name:   "export-trades",
	Usage:  "export the trade bot entries as JSON",
	Flags:  []cli.Flag{&outFlag},
	Action: exportTradesAction,
}

var importTrades = cli.Command{
	Name:   "import-trades",
	Usage:  "import trade bot entries previously exported, existing ones are overwritten",
	Flags:  []cli.Flag{&inFlag},
	Action: importTradesAction,
}

var exportStates = cli.Command{
	Name:   "export-states",
	Usage:  "export every stored AT state as JSON lines",
	Flags:  []cli.Flag{&outFlag},
	Action: exportStatesAction,
}

var watermarks = cli.Command{
	Name:   "watermarks",
	Usage:  "print the last applied block and the trim and prune heights",
	Action: watermarksAction,
}

var checkConsistency = cli.Command{
	Name:   "check",
	Usage:  "check the consistency of the AT state indexes",
	Action: checkConsistencyAction,
}

func exportTradesAction(ctx *cli.Context) error {
	return withExport(ctx, func(svc *backup.Service, w io.Writer) (int, error) {
		return svc.ExportTradeBotStates(context.Background(), w)
	})
}

func exportStatesAction(ctx *cli.Context) error {
	return withExport(ctx, func(svc *backup.Service, w io.Writer) (int, error) {
		return svc.ExportATStates(context.Background(), w)
	})
}

func importTradesAction(ctx *cli.Context) error {
	file, err := os.Open(ctx.String(inFlag.Name))
	if err != nil {
		return err
	}
	defer file.Close()

	repoManager, err := openRepoManager(ctx)
	if err != nil {
		return err
	}
	defer repoManager.Close()

	count, err := backup.NewService(repoManager).ImportTradeBotStates(
		context.Background(), file,
	)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "imported %d trades\n", count)
	return nil
}

func watermarksAction(ctx *cli.Context) error {
	repoManager, err := openRepoManager(ctx)
	if err != nil {
		return err
	}
	defer repoManager.Close()

	bgCtx := context.Background()
	atRepo := repoManager.ATRepository()
	trimHeight, err := atRepo.GetATTrimHeight(bgCtx)
	if err != nil {
		return err
	}
	pruneHeight, err := atRepo.GetATPruneHeight(bgCtx)
	if err != nil {
		return err
	}

	lastHeight := 0
	last, err := repoManager.BlockRepository().GetLastBlockRef(bgCtx)
	if err != nil && !errors.Is(err, domain.ErrBlockNotFound) {
		return err
	}
	if last != nil {
		lastHeight = last.Height
	}

	return printJSON(ctx, map[string]int{
		"lastBlockHeight": lastHeight,
		"trimHeight":      trimHeight,
		"pruneHeight":     pruneHeight,
	})
}

func checkConsistencyAction(ctx *cli.Context) error {
	repoManager, err := openRepoManager(ctx)
	if err != nil {
		return err
	}
	defer repoManager.Close()

	if err := repoManager.ATRepository().CheckConsistency(context.Background()); err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, "AT states are consistent")
	return nil
}

func withExport(
	ctx *cli.Context, export func(*backup.Service, io.Writer) (int, error),
) error {
	repoManager, err := openRepoManager(ctx)
	if err != nil {
		return err
	}
	defer repoManager.Close()

	w := ctx.App.Writer
	if path := ctx.String(outFlag.Name); path != "" {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		w = file
	}

	count, err := export(backup.NewService(repoManager), w)
	if err != nil {
		return err
	}
	if w != ctx.App.Writer {
		fmt.Fprintf(ctx.App.Writer, "exported %d records\n", count)
	}
	return nil
}
