package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/nodelist-registry/cmd/flags"
	"github.com/ruteri/nodelist-registry/common"
	"github.com/ruteri/nodelist-registry/cryptoutils"
	"github.com/ruteri/nodelist-registry/interfaces"
	"github.com/ruteri/nodelist-registry/keysource"
	"github.com/ruteri/nodelist-registry/metrics"
	"github.com/ruteri/nodelist-registry/registry"
	"github.com/ruteri/nodelist-registry/resolver"
	"github.com/ruteri/nodelist-registry/storage"
	"github.com/sethvargo/go-retry"
	"github.com/urfave/cli/v2"
)

var flagDeployerKey = &cli.StringFlag{
	Name:     "deployer-key",
	Required: true,
	Usage:    "key source URI of the deployer key (file://, env://, keystore://, vault://, derive://)",
}

var flagConcurrency = &cli.IntFlag{
	Name:  "concurrency",
	Usage: "number of node registrations in flight; overrides the config file",
}

var flagPushGateway = &cli.StringFlag{
	Name:  "push-gateway",
	Usage: "Prometheus push gateway URL to push run metrics to",
}

var flagRetries = &cli.DurationFlag{
	Name:  "retry-for",
	Value: 30 * time.Second,
	Usage: "keep retrying transport failures for this long",
}

var flagKey = &cli.StringFlag{
	Name:     "key",
	Required: true,
	Usage:    "key source URI of the key to split",
}

var flagShares = &cli.IntFlag{
	Name:  "shares",
	Value: 5,
	Usage: "number of shares",
}

var flagThreshold = &cli.IntFlag{
	Name:  "threshold",
	Value: 3,
	Usage: "shares required to reconstruct the key",
}

var flagSharesDir = &cli.StringFlag{
	Name:     "dir",
	Required: true,
	Usage:    "directory holding the shares",
}

var flagOut = &cli.StringFlag{
	Name:     "out",
	Required: true,
	Usage:    "file to write the reconstructed hex key to",
}

func main() {
	app := &cli.App{
		Name:  "registrar",
		Usage: "Deploy node registries, register server nodes and resolve chains",
		Flags: append([]cli.Flag{flags.LogServiceFlagFn("registrar")}, flags.LogFlags...),
		Commands: []*cli.Command{
			{
				Name:  "register",
				Usage: "deploy the registries and register the configured nodes; without nodes only the chain entry is written",
				Flags: append([]cli.Flag{flagDeployerKey, flagConcurrency, flags.PublishFlag, flagPushGateway}, flags.ChainFlags...),
				Action: func(cCtx *cli.Context) error {
					return runRegister(cCtx, flags.SetupLogger(cCtx))
				},
			},
			{
				Name:  "resolve",
				Usage: "print the chain data registered for a chain",
				Flags: append([]cli.Flag{flagRetries, flags.PublishFlag, flagPushGateway}, flags.ChainFlags...),
				Action: func(cCtx *cli.Context) error {
					return runResolve(cCtx, flags.SetupLogger(cCtx))
				},
			},
			{
				Name:  "split-key",
				Usage: "split a key into Shamir shares",
				Flags: []cli.Flag{flagKey, flagShares, flagThreshold, flagSharesDir},
				Action: func(cCtx *cli.Context) error {
					return runSplitKey(cCtx, flags.SetupLogger(cCtx))
				},
			},
			{
				Name:  "combine-key",
				Usage: "reconstruct a key from Shamir shares",
				Flags: []cli.Flag{flagSharesDir, flagOut},
				Action: func(cCtx *cli.Context) error {
					return runCombineKey(cCtx, flags.SetupLogger(cCtx))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runRegister(cCtx *cli.Context, logger *slog.Logger) error {
	ctx := cCtx.Context

	cfg, err := flags.LoadChainConfig(cCtx, logger)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	client, err := flags.NewChainClient(cCtx, cfg.ClientConfig, logger)
	if err != nil {
		return fmt.Errorf("could not create chain client: %w", err)
	}
	artifacts, err := flags.LoadArtifacts(cCtx, cfg)
	if err != nil {
		return fmt.Errorf("could not load contract artifacts: %w", err)
	}

	loader := keysource.NewLoader(logger)
	deployerKey, err := loader.Load(ctx, cCtx.String(flagDeployerKey.Name))
	if err != nil {
		return fmt.Errorf("could not load deployer key: %w", err)
	}
	req, err := buildRegisterRequest(ctx, loader, cfg, deployerKey)
	if err != nil {
		return err
	}

	metricsSrv, err := metrics.New(common.PackageName, "")
	if err != nil {
		return err
	}
	defer pushMetrics(cCtx, metricsSrv, "registrar_register", logger)

	concurrency := cfg.Concurrency
	if cCtx.IsSet(flagConcurrency.Name) {
		concurrency = cCtx.Int(flagConcurrency.Name)
	}

	manager := registry.NewRegistryManager(client, artifacts, logger,
		registry.WithConcurrency(concurrency),
		registry.WithObserver(metricsSrv.Recorder()))

	var (
		result *interfaces.RegistrationResult
		regErr error
	)
	if len(req.Nodes) == 0 {
		logger.Info("No nodes configured, updating the chain entry only", "chainId", req.ChainID.String())
		result, regErr = manager.LinkChain(ctx, req)
	} else {
		result, regErr = manager.Register(ctx, req)
	}
	if result != nil {
		if err := printJSON(result); err != nil {
			return err
		}
		if err := publish(cCtx, logger, func(ctx context.Context, backend interfaces.StorageBackend) (interfaces.ContentID, error) {
			return storage.PublishRegistration(ctx, backend, result)
		}); err != nil {
			return errors.Join(regErr, err)
		}
	}
	return regErr
}

// buildRegisterRequest loads every node key. Keys are held in memory only for
// the duration of the run.
func buildRegisterRequest(ctx context.Context, loader *keysource.Loader, cfg *flags.Config, deployerKey *ecdsa.PrivateKey) (registry.RegisterRequest, error) {
	req := registry.RegisterRequest{
		DeployerKey: deployerKey,
		ChainID:     cfg.ChainID,
		Meta:        cfg.Meta,
		Nodes:       make([]interfaces.NodeDescriptor, 0, len(cfg.Nodes)),
	}
	if cfg.ChainRegistry != (gethcommon.Address{}) {
		address := cfg.ChainRegistry
		req.ChainRegistry = &address
	}
	if cfg.ServerRegistry != (gethcommon.Address{}) {
		address := cfg.ServerRegistry
		req.ServerRegistry = &address
	}

	for i, node := range cfg.Nodes {
		key, err := loader.Load(ctx, node.Key)
		if err != nil {
			return req, fmt.Errorf("could not load key of node %d (%s): %w", i, node.URL, err)
		}
		deposit, err := node.DepositWei()
		if err != nil {
			return req, err
		}
		req.Nodes = append(req.Nodes, interfaces.NodeDescriptor{
			URL:        node.URL,
			PrivateKey: key,
			Properties: node.Properties,
			Deposit:    deposit,
		})
	}
	return req, nil
}

func runResolve(cCtx *cli.Context, logger *slog.Logger) error {
	cfg, err := flags.LoadChainConfig(cCtx, logger)
	if err != nil {
		return err
	}
	if err := flags.ValidateForRead(cCtx, cfg.ClientConfig); err != nil {
		return err
	}

	client, err := flags.NewChainClient(cCtx, cfg.ClientConfig, logger)
	if err != nil {
		return fmt.Errorf("could not create chain client: %w", err)
	}

	metricsSrv, err := metrics.New(common.PackageName, "")
	if err != nil {
		return err
	}
	defer pushMetrics(cCtx, metricsSrv, "registrar_resolve", logger)

	chainResolver := resolver.NewChainResolver(logger, resolver.WithObserver(metricsSrv.Recorder()))

	var data *interfaces.ChainData
	backoff := retry.WithMaxDuration(cCtx.Duration(flagRetries.Name), retry.NewExponential(250*time.Millisecond))
	err = retry.Do(cCtx.Context, backoff, func(ctx context.Context) error {
		resolved, err := chainResolver.Resolve(ctx, client, cfg.ChainID)
		if err != nil {
			if interfaces.IsRetryable(err) {
				logger.Warn("Resolve failed, retrying", "chainId", cfg.ChainID.String(), "err", err)
				return retry.RetryableError(err)
			}
			return err
		}
		data = resolved
		return nil
	})
	if err != nil {
		return err
	}

	if err := printJSON(data); err != nil {
		return err
	}
	return publish(cCtx, logger, func(ctx context.Context, backend interfaces.StorageBackend) (interfaces.ContentID, error) {
		return storage.PublishChainData(ctx, backend, data)
	})
}

func runSplitKey(cCtx *cli.Context, logger *slog.Logger) error {
	key, err := keysource.NewLoader(logger).Load(cCtx.Context, cCtx.String(flagKey.Name))
	if err != nil {
		return fmt.Errorf("could not load key: %w", err)
	}

	shares, err := keysource.SplitKey(key, cCtx.Int(flagShares.Name), cCtx.Int(flagThreshold.Name))
	if err != nil {
		return err
	}
	paths, err := keysource.WriteShares(cCtx.String(flagSharesDir.Name), key, shares)
	if err != nil {
		return err
	}

	logger.Info("Key split",
		"address", cryptoutils.AddressOf(key).Hex(),
		"shares", len(paths),
		"threshold", cCtx.Int(flagThreshold.Name))
	return printJSON(map[string]any{
		"address": cryptoutils.AddressOf(key),
		"shares":  paths,
	})
}

func runCombineKey(cCtx *cli.Context, logger *slog.Logger) error {
	key, err := keysource.LoadShares(cCtx.String(flagSharesDir.Name))
	if err != nil {
		return err
	}
	if err := crypto.SaveECDSA(cCtx.String(flagOut.Name), key); err != nil {
		return fmt.Errorf("could not write key: %w", err)
	}
	logger.Info("Key reconstructed", "address", cryptoutils.AddressOf(key).Hex(), "out", cCtx.String(flagOut.Name))
	return nil
}

// publish stores the output in every --publish location and logs its
// content id.
func publish(cCtx *cli.Context, logger *slog.Logger, store func(context.Context, interfaces.StorageBackend) (interfaces.ContentID, error)) error {
	uris := cCtx.StringSlice(flags.PublishFlag.Name)
	if len(uris) == 0 {
		return nil
	}

	backend, err := storage.NewStorageBackendFactory(logger).CreateMultiBackend(uris)
	if err != nil {
		return fmt.Errorf("could not create storage backends: %w", err)
	}
	id, err := store(cCtx.Context, backend)
	if err != nil {
		return fmt.Errorf("could not publish: %w", err)
	}
	logger.Info("Published", "contentId", id.String(), "location", backend.LocationURI())
	return nil
}

func pushMetrics(cCtx *cli.Context, metricsSrv *metrics.MetricsServer, job string, logger *slog.Logger) {
	gateway := cCtx.String(flagPushGateway.Name)
	if gateway == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Push(ctx, gateway, job); err != nil {
		logger.Warn("Failed to push metrics", "gateway", gateway, "err", err)
	}
}

func printJSON(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
