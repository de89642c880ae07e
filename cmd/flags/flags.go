package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/nodelist-registry/common"
	"github.com/ruteri/nodelist-registry/httpserver"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *httpserver.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var RpcAddrFlag = &cli.StringFlag{
	Name:  "rpc-addr",
	Usage: "Ethereum JSON-RPC endpoint; when empty, boot nodes are reached through the devchain node API",
}

var ChainIDFlag = &cli.StringFlag{
	Name:  "chain-id",
	Usage: "chain to operate on: hex (0x99), decimal or alias (mainnet)",
}

var ChainRegistryFlag = &cli.StringFlag{
	Name:  "chain-registry",
	Usage: "chain registry contract address",
}

var ServerRegistryFlag = &cli.StringFlag{
	Name:  "server-registry",
	Usage: "server registry contract address; when set, resolved data must point at it",
}

var BootNodeFlag = &cli.StringSliceFlag{
	Name:  "boot-node",
	Usage: "boot node as <address>:<url>, may be repeated",
}

var SeedDomainFlag = &cli.StringFlag{
	Name:  "seed-domain",
	Usage: "discover boot nodes from TXT records of this domain",
}

var DNSServerFlag = &cli.StringFlag{
	Name:  "dns-server",
	Usage: "DNS server (host:port) for seed discovery; defaults to the system resolver",
}

var ConfigFlag = &cli.StringFlag{
	Name:  "config",
	Usage: "YAML configuration file",
}

var NodeTimeoutFlag = &cli.DurationFlag{
	Name:  "node-timeout",
	Value: 10 * time.Second,
	Usage: "per-request timeout when talking to boot nodes",
}

var PublishFlag = &cli.StringSliceFlag{
	Name:  "publish",
	Usage: "storage location URI to publish the result to (file://, s3://, ipfs://, vault://), may be repeated",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}

// ChainFlags select the chain and how to reach it.
var ChainFlags = []cli.Flag{
	ConfigFlag,
	RpcAddrFlag,
	ChainIDFlag,
	ChainRegistryFlag,
	ServerRegistryFlag,
	BootNodeFlag,
	SeedDomainFlag,
	DNSServerFlag,
	NodeTimeoutFlag,
	ChainRegistryCodeFlag,
	ServerRegistryCodeFlag,
}
