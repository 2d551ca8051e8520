package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/qortal/qortd/config"
	"github.com/qortal/qortd/internal/core/application"
	"github.com/qortal/qortd/internal/core/application/atstate"
	"github.com/qortal/qortd/internal/core/application/retention"
	"github.com/qortal/qortd/internal/core/application/tradebot"
	"github.com/qortal/qortd/pkg/stats"
)

const statsFile = "stats"

func main() {
	if err := config.Validate(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}
	logCloser := config.InitLogger()
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repoManager, err := newRepoManager()
	if err != nil {
		log.WithError(err).Fatal("error while opening repository")
	}
	defer repoManager.Close()

	node, err := newQortalNode()
	if err != nil {
		log.WithError(err).Fatal("error while setting up node client")
	}
	registry, chains, wallets, err := newForeignServices()
	if err != nil {
		log.WithError(err).Fatal("error while setting up foreign chains")
	}

	registerer := prometheus.NewRegistry()
	if err := application.RegisterMetrics(registerer); err != nil {
		log.WithError(err).Fatal("error while registering metrics")
	}

	listener := atstate.NewListener(
		atstate.NewService(repoManager), node, atstate.ListenerConfig{
			PollInterval:  config.GetDuration(config.NodePollIntervalKey),
			StartHeight:   config.GetInt(config.StartHeightKey),
			MaxReorgDepth: config.GetInt(config.MaxReorgDepthKey),
		},
	)
	retentionSvc, err := retention.NewService(repoManager, node, retention.Config{
		TrimInterval:    config.GetDuration(config.TrimIntervalKey),
		TrimBatchSize:   config.GetInt(config.TrimBatchSizeKey),
		TrimLimit:       config.GetInt(config.TrimLimitKey),
		TrimKeepBlocks:  config.GetInt(config.TrimKeepBlocksKey),
		PruneEnabled:    config.GetBool(config.PruneEnabledKey),
		PruneInterval:   config.GetDuration(config.PruneIntervalKey),
		PruneBatchSize:  config.GetInt(config.PruneBatchSizeKey),
		PruneKeepBlocks: config.GetInt(config.PruneKeepBlocksKey),
		TxTimeout:       config.GetDuration(config.RepositoryTimeoutKey),
	})
	if err != nil {
		log.WithError(err).Fatal("error while setting up retention service")
	}
	tradeBot := tradebot.NewService(
		repoManager, node, chains, wallets, registry, tradebot.Config{
			Interval:    config.GetDuration(config.TradeBotIntervalKey),
			Concurrency: config.GetInt(config.TradeBotConcurrencyKey),
			ForeignFee:  config.GetUint64(config.ForeignFeeKey),
		},
	)

	if err := listener.Start(ctx); err != nil {
		log.WithError(err).Fatal("error while starting block listener")
	}
	defer listener.Stop()
	if err := retentionSvc.Start(ctx); err != nil {
		log.WithError(err).Fatal("error while starting retention service")
	}
	defer retentionSvc.Stop()
	if err := tradeBot.Start(ctx); err != nil {
		log.WithError(err).Fatal("error while starting trade bot")
	}
	defer tradeBot.Stop()

	var metricsServer *http.Server
	if addr := config.GetString(config.MetricsAddrKey); addr != "" {
		metricsServer = serveMetrics(addr, registerer)
	}
	if interval := config.GetDuration(config.StatsIntervalKey); interval > 0 {
		reporter, err := stats.NewReporter(
			interval, registerer, filepath.Join(config.GetDatadir(), statsFile),
			map[string]stats.Collector{
				"runtime": stats.Runtime,
				"store":   storeCollector(repoManager),
			},
		)
		if err != nil {
			log.WithError(err).Fatal("error while setting up stats reporter")
		}
		reporter.Start(ctx)
		defer reporter.Stop()
	}

	log.Infof(
		"qortd started on %s, node %s",
		config.GetString(config.NetworkKey), config.GetString(config.NodeEndpointKey),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, os.Interrupt)
	<-sigChan

	log.Info("shutting down")
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("error while stopping metrics server")
		}
	}
}

func serveMetrics(addr string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
	log.Infof("metrics served on %s/metrics", addr)
	return srv
}
