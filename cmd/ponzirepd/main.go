package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ponzirep/config"
	"ponzirep/core"
	"ponzirep/core/events"
	"ponzirep/core/genesis"
	"ponzirep/core/types"
	"ponzirep/crypto"
	"ponzirep/indexer"
	"ponzirep/observability"
	"ponzirep/observability/logging"
	"ponzirep/observability/metrics"
	telemetry "ponzirep/observability/otel"
	"ponzirep/rpc"
	"ponzirep/storage"
)

const genesisPathEnv = "PONZIREP_GENESIS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis JSON file (overrides PONZIREP_GENESIS and config GenesisFile)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.SetupWithOptions(logging.Options{
		Service:    "ponzirepd",
		Env:        cfg.Environment,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "ponzirepd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		logger.Error("Failed to initialise telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()
	if cfg.Telemetry.Enabled() {
		logger.Info("telemetry export enabled",
			slog.String("endpoint", cfg.Telemetry.Endpoint),
			slog.Bool("traces", cfg.Telemetry.Traces),
			slog.Bool("metrics", cfg.Telemetry.Metrics))
	}

	spec, err := resolveGenesis(cfg, resolveGenesisPath(*genesisFlag, cfg.GenesisFile, os.LookupEnv))
	if err != nil {
		logger.Error("Failed to resolve genesis", slog.Any("error", err))
		os.Exit(1)
	}

	sink := events.Fanout{observability.Events()}
	var index *indexer.Store
	if cfg.Index.Enabled() {
		index, err = indexer.Open(cfg.Index.Driver, cfg.Index.DSN, logger)
		if err != nil {
			logger.Error("Failed to open offer index", slog.Any("error", err))
			os.Exit(1)
		}
		defer index.Close()
		sink = append(sink, index)
		logger.Info("offer index enabled", slog.String("driver", cfg.Index.Driver))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}

	node, err := core.NewNode(db, spec,
		core.WithLogger(logger),
		core.WithEventSink(sink),
		core.WithEventLimit(cfg.RPC.EventLimit),
		core.WithMetrics(metrics.Escrow()),
	)
	if err != nil {
		db.Close()
		logger.Error("Failed to create node", slog.Any("error", err))
		os.Exit(1)
	}
	defer node.Close()

	height, root := node.Head()
	logger.Info("ledger opened",
		slog.Uint64("height", height),
		slog.String("root", root.Hex()),
		slog.String("contract", node.Contract().Hex()),
		slog.String("owner", node.Owner().Hex()))

	secret := cfg.RPC.Secret()
	logger.Info("RPC authentication configured", logging.MaskField("jwt_secret", secret))
	rpcCfg := rpc.Config{
		JWTSecret:    secret,
		RateLimit:    cfg.RPC.RateLimit,
		RateBurst:    cfg.RPC.RateBurst,
		ReadTimeout:  cfg.RPC.ReadTimeout(),
		WriteTimeout: cfg.RPC.WriteTimeout(),
		IdleTimeout:  cfg.RPC.IdleTimeout(),
		Tracing:      cfg.Telemetry.Traces,
	}
	if index != nil {
		rpcCfg.Index = index
	}
	server := rpc.NewServer(node, rpcCfg, logger)

	rpcErrCh := make(chan error, 1)
	go func() {
		rpcErrCh <- server.Start(cfg.RPCAddress)
		close(rpcErrCh)
	}()

	if err := waitForRPCStartup(cfg.RPCAddress, rpcErrCh, 5*time.Second); err != nil {
		logger.Error("RPC server failed to start", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("PonziRep node running", slog.String("addr", cfg.RPCAddress))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err, ok := <-rpcErrCh:
		if ok && err != nil {
			logger.Error("RPC server terminated", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("RPC shutdown failed", slog.Any("error", err))
	}
}

type envLookupFunc func(string) (string, bool)

func resolveGenesisPath(cliPath, cfgPath string, lookup envLookupFunc) string {
	if trimmed := strings.TrimSpace(cliPath); trimmed != "" {
		return trimmed
	}
	if lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return strings.TrimSpace(cfgPath)
}

// resolveGenesis loads the genesis file when one is configured and otherwise
// builds a single-owner development genesis for the keystore account.
func resolveGenesis(cfg *config.Config, path string) (*genesis.GenesisSpec, error) {
	if path != "" {
		return genesis.LoadGenesisSpec(path)
	}
	if strings.TrimSpace(cfg.KeystorePath) == "" {
		return nil, errors.New("no genesis file and no keystore configured")
	}
	owner, err := crypto.KeystoreAddress(cfg.KeystorePath)
	if err != nil {
		return nil, fmt.Errorf("read owner keystore: %w", err)
	}
	funds, err := types.ParseEther(cfg.DevFunds)
	if err != nil {
		return nil, fmt.Errorf("DevFunds: %w", err)
	}
	spec := genesis.DevGenesis(cfg.ChainID, owner.Common(), funds)
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func waitForRPCStartup(addr string, errCh <-chan error, timeout time.Duration) error {
	dialAddr := dialAddressFor(addr)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		conn, err := net.DialTimeout("tcp", dialAddr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case err, ok := <-errCh:
			if !ok || err == nil {
				return fmt.Errorf("RPC server exited before startup confirmation")
			}
			return err
		case <-ticker.C:
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for RPC server to start on %s", addr)
		}
	}
}

func dialAddressFor(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
