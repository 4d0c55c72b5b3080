package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"stratachain/cmd/internal/passphrase"
	"stratachain/config"
	"stratachain/core"
	"stratachain/crypto"
	"stratachain/observability/logging"
	"stratachain/rpc"
	"stratachain/storage"
)

const (
	nodePassEnv = "STRATA_NODE_PASS"
	genesisEnv  = "STRATA_GENESIS"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis JSON file (overrides STRATA_GENESIS and config GenesisFile)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("STRATA_ENV"))

	passSource := passphrase.NewSource(nodePassEnv)
	cfg, err := config.Load(*configFile, config.WithKeystorePassphraseSource(passSource.Get))
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.SetupWithOptions("stratad", env, logging.Options{FilePath: cfg.LogFile})

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	processor := core.NewProcessor(db, crypto.Secp256k1Verifier{}, core.WithLogger(logger))

	if err := ensureGenesis(logger, processor, db, resolveGenesisPath(*genesisFlag, cfg.GenesisFile)); err != nil {
		logger.Error("Failed to initialise genesis state", slog.Any("error", err))
		os.Exit(1)
	}

	server := rpc.NewServer(processor, logger)
	logger.Info("node ready",
		slog.String("network", cfg.NetworkName),
		slog.String("rpc", cfg.ListenAddress),
	)
	if err := server.Start(cfg.ListenAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// resolveGenesisPath prefers the CLI flag, then the environment, then the
// config file entry. An empty result means no genesis accounts are seeded.
func resolveGenesisPath(flagValue, configValue string) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	if fromEnv := strings.TrimSpace(os.Getenv(genesisEnv)); fromEnv != "" {
		return fromEnv
	}
	return strings.TrimSpace(configValue)
}

func ensureGenesis(logger *slog.Logger, processor *core.Processor, db storage.Database, genesisPath string) error {
	initialized, err := core.GenesisInitialized(db)
	if err != nil {
		return err
	}
	if initialized {
		logger.Info("genesis state already initialised")
		return nil
	}
	if genesisPath == "" {
		logger.Warn("no genesis file configured; starting with empty account state")
		return nil
	}
	spec, err := core.LoadGenesis(genesisPath)
	if err != nil {
		return err
	}
	logger.Info("initialising genesis state",
		slog.String("network", spec.NetworkName),
		slog.Int("accounts", len(spec.Accounts)),
	)
	return processor.InitGenesis(spec)
}
