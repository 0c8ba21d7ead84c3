// coinpickd maintains a queryable index of the unspent outputs of a
// Bitcoin-compatible chain and serves coin-selection queries over HTTP.
//
// Usage:
//
//	coinpickd [--config config.toml] [--mode indexer|api|both] [--log-level info]
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/Klingon-tech/coinpick/config"
	"github.com/Klingon-tech/coinpick/internal/api"
	"github.com/Klingon-tech/coinpick/internal/chain"
	"github.com/Klingon-tech/coinpick/internal/indexer"
	klog "github.com/Klingon-tech/coinpick/internal/log"
	"github.com/Klingon-tech/coinpick/internal/selector"
	"github.com/Klingon-tech/coinpick/internal/storage"
	"github.com/Klingon-tech/coinpick/internal/utxo"
)

func main() {
	configPath := flag.String("config", "config.toml", "Configuration file path")
	mode := flag.String("mode", "both", "Run mode: indexer, api, or both")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	if err := klog.Init(*logLevel, false, ""); err != nil {
		os.Exit(1)
	}
	logger := klog.WithComponent("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load configuration")
	}
	logger.Info().Str("path", *configPath).Str("mode", *mode).Msg("Starting coinpick")

	runIndexer := true
	runAPI := true
	switch *mode {
	case "indexer":
		runAPI = false
	case "api":
		runIndexer = false
	case "both":
	default:
		logger.Warn().Str("mode", *mode).Msg("Unknown mode, running both indexer and API")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.NewBadgerWithOptions(cfg.Storage.DBPath, storage.BadgerOptions{
		Compression: cfg.Storage.EnableCompression,
		CacheSizeMB: cfg.Storage.CacheSizeMB,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Storage.DBPath).Msg("Failed to open database")
	}
	defer db.Close()
	store := utxo.NewStore(db)
	logger.Info().Str("path", cfg.Storage.DBPath).Msg("Database opened")

	var (
		ix  *indexer.Indexer
		hub *indexer.Hub
	)
	if runIndexer {
		client := chain.New(cfg.Bitcoin.RPCURL, cfg.Bitcoin.RPCUser, cfg.Bitcoin.RPCPassword)
		if err := client.Ping(ctx); err != nil {
			logger.Fatal().Err(err).Str("url", cfg.Bitcoin.RPCURL).Msg("Node RPC unreachable")
		}
		logger.Info().Str("url", cfg.Bitcoin.RPCURL).Msg("Connected to node RPC")

		hub = indexer.NewHub()
		ix = indexer.New(client, store, cfg, hub)
	}

	if runAPI {
		var rescanner api.Rescanner
		if ix != nil {
			rescanner = ix
		}
		server := api.New(cfg.API, store, selector.New(store), hub, rescanner)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.API.ListenAddr()).Msg("Failed to start API server")
		}
		defer server.Stop()
	}

	if runIndexer {
		errCh := make(chan error, 1)
		go func() { errCh <- ix.Start(ctx) }()

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				// Store corruption or a dead node: nothing sane to do
				// but surface it and stop.
				logger.Fatal().Err(err).Msg("Indexer terminated")
			}
		case <-ctx.Done():
			<-errCh
		}
	} else {
		<-ctx.Done()
	}

	logger.Info().Msg("Shutting down")
}
