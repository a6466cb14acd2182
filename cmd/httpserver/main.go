package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ruteri/token-registry-sync/bindings/toptokens"
	"github.com/ruteri/token-registry-sync/cmd/flags"
	"github.com/ruteri/token-registry-sync/common"
	"github.com/ruteri/token-registry-sync/httpserver"
	"github.com/ruteri/token-registry-sync/interfaces"
	"github.com/ruteri/token-registry-sync/journal"
	"github.com/ruteri/token-registry-sync/metrics"
	"github.com/ruteri/token-registry-sync/network"
	"github.com/ruteri/token-registry-sync/provider"
	"github.com/ruteri/token-registry-sync/registry"
	"github.com/ruteri/token-registry-sync/registrysync"
	"github.com/ruteri/token-registry-sync/session"
	"github.com/ruteri/token-registry-sync/storage"
	"github.com/ruteri/token-registry-sync/txcoord"
	"github.com/urfave/cli/v2"
)

var listenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	Usage:   "address to listen on for API",
	EnvVars: []string{"LISTEN_ADDR"},
}

var walletPollFlag = &cli.DurationFlag{
	Name:  "wallet-poll-interval",
	Value: 2 * time.Second,
	Usage: "how often a node-managed wallet is polled for chain and account changes",
}

func main() {
	allFlags := append([]cli.Flag{listenAddrFlag, walletPollFlag, flags.WaitTimeoutFlag, flags.LogServiceFlagFn("token-registry-sync")}, flags.CommonFlags...)
	allFlags = append(allFlags, flags.ClientFlags...)

	app := &cli.App{
		Name:  "token-registry-sync",
		Usage: "Serve the TopTokens registry through a wallet-gated sync client",
		Flags: allFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			clientCfg, err := flags.ConfigureClient(cCtx)
			if err != nil {
				logger.Error("Invalid client configuration", "err", err)
				return err
			}
			serverCfg := flags.ConfigureServer(cCtx, logger, cCtx.String(listenAddrFlag.Name))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			metricsSrv, err := metrics.New(common.PackageName, serverCfg.MetricsAddr)
			if err != nil {
				logger.Error("Failed to create metrics server", "err", err)
				return err
			}
			reg := metricsSrv.Registry()

			gateway, err := setupGateway(ctx, cCtx, clientCfg, logger)
			if err != nil {
				logger.Error("Failed to set up wallet provider", "err", err)
				return err
			}

			guard := network.NewGuard(gateway, clientCfg.Network, logger)
			sess := session.New(gateway, guard, logger, metrics.NewSessionMetrics(reg, common.PackageName))
			defer sess.Close()

			contractABI, err := toptokens.ABI()
			if err != nil {
				return err
			}
			client := registry.NewContractClient(gateway, sess, clientCfg.ContractAddress, contractABI, logger)
			tokenRegistry := registry.NewTokenRegistry(client, clientCfg.MaxRecords)

			engine := registrysync.NewEngine(tokenRegistry, sess, registrysync.Config{
				ReadTimeout:    clientCfg.ReadTimeout,
				PublishTimeout: 30 * time.Second,
			}, logger, metrics.NewSyncMetrics(reg, common.PackageName))
			sess.AddObserver(engine)

			coord := txcoord.NewCoordinator(client, sess, guard, engine, txcoord.Config{
				PollInterval: clientCfg.ConfirmationPollInterval,
			}, logger, metrics.NewTxMetrics(reg, common.PackageName))
			defer coord.Close()

			handler := httpserver.NewHandler(sess, engine, tokenRegistry, coord, guard.RequiredChainID(), logger)

			locations, err := flags.ArchiveLocations(cCtx)
			if err != nil {
				logger.Error("Invalid archive location", "err", err)
				return err
			}
			if len(locations) > 0 {
				backend, err := storage.NewStorageBackendFactory(logger).CreateMultiBackend(locations)
				if err != nil {
					logger.Error("Failed to create archive backends", "err", err)
					return err
				}
				archive := storage.NewArchive(backend, logger)
				engine.SetPublisher(archive)
				coord.SetArchiver(archive)
				handler.SetArchive(archive)
				logger.Info("Snapshot archive enabled", "backends", backend.Name())
			}

			if path := cCtx.String(flags.JournalFlag.Name); path != "" {
				j, err := journal.Open(path, logger)
				if err != nil {
					logger.Error("Failed to open transaction journal", "err", err)
					return err
				}
				defer j.Close()
				coord.SetJournal(j)

				resumed, err := coord.Resume(ctx)
				if err != nil {
					logger.Error("Failed to resume journaled transactions", "err", err)
					return err
				}
				if len(resumed) > 0 {
					logger.Info("Resumed pending transactions", "count", len(resumed))
				}
			}

			go func() {
				if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("Wallet notification loop stopped", "err", err)
				}
			}()

			server, err := httpserver.New(serverCfg, handler, metricsSrv)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop",
				"contract", clientCfg.ContractAddress.Hex(),
				"chainID", clientCfg.Network.ChainID)
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// setupGateway picks the wallet provider: the in-memory mock, a keyed wallet
// when a key source is configured, or the node's own accounts otherwise.
func setupGateway(ctx context.Context, cCtx *cli.Context, cfg *interfaces.ClientConfig, logger *slog.Logger) (interfaces.ProviderGateway, error) {
	if cCtx.Bool(flags.MockWalletFlag.Name) {
		key, err := flags.LoadWalletKey(ctx, cCtx)
		if errors.Is(err, provider.ErrKeyNotFound) {
			key, err = crypto.GenerateKey()
		}
		if err != nil {
			return nil, err
		}
		account := crypto.PubkeyToAddress(key.PublicKey)
		logger.Warn("Using in-memory mock wallet", "account", account.Hex())
		return registry.NewMockWallet(cfg.ContractAddress, cfg.Network.ChainID, account), nil
	}

	rpcURL := cCtx.String(flags.RpcAddrFlag.Name)

	key, err := flags.LoadWalletKey(ctx, cCtx)
	switch {
	case err == nil:
		upstream, err := rpc.DialContext(ctx, rpcURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", interfaces.ErrProviderUnavailable, err)
		}
		wallet, err := provider.NewKeyedWallet(ctx, key, upstream, logger)
		if err != nil {
			return nil, err
		}
		wallet.AddNetwork(cfg.Network)
		logger.Info("Using keyed wallet", "account", wallet.Address().Hex(), "rpc", rpcURL)
		return wallet, nil

	case errors.Is(err, provider.ErrKeyNotFound):
		gateway, err := provider.DialRPCGateway(ctx, rpcURL, logger)
		if err != nil {
			return nil, err
		}
		go gateway.Watch(ctx, cCtx.Duration(walletPollFlag.Name))
		logger.Info("Using node-managed accounts", "rpc", rpcURL)
		return gateway, nil

	default:
		return nil, err
	}
}
