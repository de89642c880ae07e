package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/nodelist-registry/cmd/flags"
	"github.com/ruteri/nodelist-registry/devchain"
	"github.com/ruteri/nodelist-registry/interfaces"
	"github.com/ruteri/nodelist-registry/keysource"
	"github.com/urfave/cli/v2"
)

var flagSealKey = &cli.StringFlag{
	Name:     "seal-key",
	Required: true,
	Usage:    "key source URI of the block sealing key",
}

var flagChainID = &cli.StringFlag{
	Name:  "chain-id",
	Value: "0x99",
	Usage: "chain id served by the node",
}

var flagListenAddr = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8545",
	Usage: "address to serve the node API on",
}

var flagPublicURL = &cli.StringFlag{
	Name:  "public-url",
	Usage: "URL clients use to reach the node; defaults to http://<listen-addr>",
}

var flagAlloc = &cli.StringSliceFlag{
	Name:  "alloc",
	Usage: "genesis balance as <address>:<wei>, may be repeated",
}

func main() {
	app := &cli.App{
		Name:  "devnode",
		Usage: "Run a development chain node",
		Flags: append([]cli.Flag{
			flagSealKey,
			flagChainID,
			flagListenAddr,
			flagPublicURL,
			flagAlloc,
			flags.LogServiceFlagFn("devnode"),
		}, flags.LogFlags...),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	chainID, err := interfaces.NewChainID(cCtx.String(flagChainID.Name))
	if err != nil {
		return err
	}
	sealKey, err := keysource.NewLoader(logger).Load(cCtx.Context, cCtx.String(flagSealKey.Name))
	if err != nil {
		return fmt.Errorf("could not load seal key: %w", err)
	}
	alloc, err := parseAlloc(cCtx.StringSlice(flagAlloc.Name))
	if err != nil {
		return err
	}

	node, err := devchain.NewNode(chainID.Big(), sealKey, logger, devchain.WithGenesisAlloc(alloc))
	if err != nil {
		return err
	}

	listenAddr := cCtx.String(flagListenAddr.Name)
	publicURL := cCtx.String(flagPublicURL.Name)
	if publicURL == "" {
		publicURL = "http://" + listenAddr
	}
	bootNode := interfaces.BootNode{Address: node.Sealer(), URL: publicURL}

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           newRouter(node, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting devchain node",
			"chainId", chainID.String(),
			"sealer", node.Sealer().Hex(),
			"listenAddress", listenAddr,
			"genesisAccounts", len(alloc))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "err", err)
		}
	}()

	fmt.Println(bootNode.String())

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit
	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func newRouter(node *devchain.Node, logger *slog.Logger) http.Handler {
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return httplogger.LoggingMiddlewareSlog(logger, next)
	})
	devchain.NewHandler(node, logger).RegisterRoutes(router)
	return router
}

// parseAlloc parses <address>:<wei> genesis balances.
func parseAlloc(entries []string) (map[common.Address]*big.Int, error) {
	alloc := make(map[common.Address]*big.Int, len(entries))
	for _, entry := range entries {
		address, amount, ok := strings.Cut(entry, ":")
		if !ok || !common.IsHexAddress(address) {
			return nil, fmt.Errorf("invalid alloc %q, expected <address>:<wei>", entry)
		}
		balance, ok := new(big.Int).SetString(amount, 0)
		if !ok || balance.Sign() < 0 {
			return nil, fmt.Errorf("invalid alloc balance %q", amount)
		}
		alloc[common.HexToAddress(address)] = balance
	}
	return alloc, nil
}
