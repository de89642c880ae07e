package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/nodelist-registry/cmd/flags"
	"github.com/ruteri/nodelist-registry/common"
	"github.com/ruteri/nodelist-registry/httpserver"
	"github.com/ruteri/nodelist-registry/interfaces"
	"github.com/ruteri/nodelist-registry/metrics"
	"github.com/ruteri/nodelist-registry/resolver"
	"github.com/ruteri/nodelist-registry/storage"
	"github.com/urfave/cli/v2"
)

var flagListenAddr = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var flagCacheTTL = &cli.DurationFlag{
	Name:  "cache-ttl",
	Value: 30 * time.Second,
	Usage: "how long resolved chain data is served from cache; 0 disables caching",
}

var flagAdminKeysFile = &cli.StringFlag{
	Name:  "admin-keys-file",
	Usage: "JSON file with admin addresses; enables the /admin API",
}

func main() {
	app := &cli.App{
		Name:  "nodelist-server",
		Usage: "Serve resolved chain node lists over HTTP",
		Flags: append(append([]cli.Flag{
			flagListenAddr,
			flagCacheTTL,
			flagAdminKeysFile,
			flags.PublishFlag,
			flags.LogServiceFlagFn("nodelist-server"),
		}, flags.CommonFlags...), flags.ChainFlags...),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	cfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flagListenAddr.Name))

	chainCfg, err := flags.LoadChainConfig(cCtx, logger)
	if err != nil {
		return err
	}
	if err := flags.ValidateForRead(cCtx, chainCfg.ClientConfig); err != nil {
		return err
	}
	client, err := flags.NewChainClient(cCtx, chainCfg.ClientConfig, logger)
	if err != nil {
		logger.Error("Failed to create chain client", "err", err)
		return err
	}

	metricsSrv, err := metrics.New(common.PackageName, cfg.MetricsAddr)
	if err != nil {
		return err
	}

	chainResolver := resolver.NewChainResolver(logger, resolver.WithObserver(metricsSrv.Recorder()))
	source := httpserver.ChainSourceFunc(func(ctx context.Context, chainID interfaces.ChainID) (*interfaces.ChainData, error) {
		return chainResolver.Resolve(ctx, client, chainID)
	})

	opts := []httpserver.HandlerOption{httpserver.WithCacheObserver(metricsSrv.Recorder())}
	if uris := cCtx.StringSlice(flags.PublishFlag.Name); len(uris) > 0 {
		backend, err := storage.NewStorageBackendFactory(logger).CreateMultiBackend(uris)
		if err != nil {
			logger.Error("Failed to create storage backends", "err", err)
			return err
		}
		logger.Info("Publishing chain data snapshots", "location", backend.LocationURI())
		opts = append(opts, httpserver.WithStorage(backend))
	}
	handler := httpserver.NewHandler(source, cCtx.Duration(flagCacheTTL.Name), logger, opts...)

	var admin *httpserver.AdminHandler
	if path := cCtx.String(flagAdminKeysFile.Name); path != "" {
		admin, err = loadAdmin(path, handler, cfg)
		if err != nil {
			logger.Error("Failed to load admin keys", "err", err)
			return err
		}
	}

	server, err := httpserver.New(cfg, handler, admin, metricsSrv)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	logger.Info("Starting server",
		"chainRegistry", chainCfg.ChainRegistry.Hex(),
		"bootNodes", len(chainCfg.BootNodes))
	if err := server.Start(); err != nil {
		logger.Error("Failed to start server", "err", err)
		return err
	}

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	server.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}

func loadAdmin(path string, handler *httpserver.Handler, cfg *httpserver.HTTPServerConfig) (*httpserver.AdminHandler, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	admins, err := httpserver.LoadAdminKeys(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Log.Info("Admin keys loaded", "count", len(admins))
	return httpserver.NewAdminHandler(handler, admins, cfg.Log), nil
}
