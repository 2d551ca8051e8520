package main

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/qortal/qortd/config"
	"github.com/qortal/qortd/internal/core/application/acct"
	"github.com/qortal/qortd/internal/core/domain"
	"github.com/qortal/qortd/internal/core/ports"
	"github.com/qortal/qortd/internal/infrastructure/foreignchain"
	"github.com/qortal/qortd/internal/infrastructure/foreignwallet"
	"github.com/qortal/qortd/internal/infrastructure/qortalnode"
	dbbadger "github.com/qortal/qortd/internal/infrastructure/storage/db/badger"
	"github.com/qortal/qortd/internal/infrastructure/storage/db/inmemory"
	"github.com/qortal/qortd/pkg/stats"
)

func newRepoManager() (ports.RepoManager, error) {
	timeout := config.GetDuration(config.RepositoryTimeoutKey)
	if config.GetString(config.DbTypeKey) == config.DbTypeInmemory {
		log.Warn("using in-memory repository, data will be lost on shutdown")
		return inmemory.NewRepoManager(timeout), nil
	}
	return dbbadger.NewRepoManager(
		config.GetDbDir(), dbbadger.NewLogger(log.WarnLevel), timeout,
	)
}

func newQortalNode() (ports.QortalNode, error) {
	return qortalnode.NewClient(
		config.GetString(config.NodeEndpointKey),
		config.GetString(config.NodeAPIKeyKey),
		config.GetDuration(config.NodeRequestTimeoutKey),
	)
}

// newForeignServices returns the ACCTs of the configured network, together
// with a chain client for every foreign blockchain with explorers and a wallet
// for every one with a key.
func newForeignServices() (
	*acct.Registry, map[string]ports.ForeignChain,
	map[string]ports.ForeignWallet, error,
) {
	network := config.GetString(config.NetworkKey)
	registry, err := acct.DefaultRegistry(network)
	if err != nil {
		return nil, nil, nil, err
	}

	endpoints, err := config.GetForeignChainEndpoints()
	if err != nil {
		return nil, nil, nil, err
	}
	walletKeys, err := config.GetForeignWalletKeys()
	if err != nil {
		return nil, nil, nil, err
	}

	chains := make(map[string]ports.ForeignChain)
	for blockchain, urls := range endpoints {
		client, err := foreignchain.NewEsploraClient(
			blockchain, urls,
			config.GetInt(config.ForeignRequestsPerSecondKey),
			config.GetDuration(config.ForeignRequestTimeoutKey),
		)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%s explorers: %w", blockchain, err)
		}
		chains[blockchain] = client
	}

	wallets := make(map[string]ports.ForeignWallet)
	for blockchain, wif := range walletKeys {
		chain, ok := chains[blockchain]
		if !ok {
			return nil, nil, nil, fmt.Errorf(
				"wallet key given for %s but no explorer is configured", blockchain,
			)
		}
		params, err := acct.ParamsForBlockchain(blockchain, network)
		if err != nil {
			return nil, nil, nil, err
		}
		wallet, err := foreignwallet.NewWallet(
			wif, params, chain, config.GetUint64(config.ForeignFeePerByteKey),
		)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%s wallet: %w", blockchain, err)
		}
		log.Infof("%s wallet address: %s", blockchain, wallet.Address())
		wallets[blockchain] = wallet
	}

	for _, a := range registry.All() {
		if _, ok := chains[a.ForeignBlockchain()]; !ok {
			log.Debugf("no explorer configured for %s, %s trades disabled",
				a.ForeignBlockchain(), a.Name())
		}
	}
	return registry, chains, wallets, nil
}

// storeCollector reports how far the store is synced and retained, and how many
// trades are in progress.
func storeCollector(repoManager ports.RepoManager) stats.Collector {
	return func(ctx context.Context) (log.Fields, error) {
		lastHeight := 0
		last, err := repoManager.BlockRepository().GetLastBlockRef(ctx)
		if err != nil && !errors.Is(err, domain.ErrBlockNotFound) {
			return nil, err
		}
		if last != nil {
			lastHeight = last.Height
		}

		atRepo := repoManager.ATRepository()
		trimHeight, err := atRepo.GetATTrimHeight(ctx)
		if err != nil {
			return nil, err
		}
		pruneHeight, err := atRepo.GetATPruneHeight(ctx)
		if err != nil {
			return nil, err
		}
		active, err := repoManager.TradeBotRepository().GetActiveTradeBotData(ctx)
		if err != nil {
			return nil, err
		}

		return log.Fields{
			"lastBlockHeight": lastHeight,
			"trimHeight":      trimHeight,
			"pruneHeight":     pruneHeight,
			"activeTrades":    len(active),
		}, nil
	}
}
