package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/custodia-network/vaultd/anchor"
	"github.com/custodia-network/vaultd/audit"
	"github.com/custodia-network/vaultd/config"
	"github.com/custodia-network/vaultd/db"
	"github.com/custodia-network/vaultd/eth"
	"github.com/custodia-network/vaultd/ledger"
	"github.com/custodia-network/vaultd/oracle"
	"github.com/custodia-network/vaultd/proxy"
	"github.com/custodia-network/vaultd/roles"
	"github.com/custodia-network/vaultd/token"
	"github.com/custodia-network/vaultd/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// StartCmd represents the start command
var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the vault daemon",
	Long: `Start the vault daemon with the configuration from ~/.vaultd/config.toml.
The daemon serves the vault RPC interface and anchors its audit log to the
configured data availability layer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startCommand()
	},
}

func startCommand() error {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceColors:     true,
	})
	log.SetLevel(logrus.InfoLevel)

	ctx := context.Background()

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %v", err)
	}

	configPath := filepath.Join(home, ".vaultd", "config.toml")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	if _, err := os.Stat(cfg.Genesis.FilePath); os.IsNotExist(err) {
		return fmt.Errorf("genesis.json not found at %s", cfg.Genesis.FilePath)
	}

	vaultDB, err := db.NewLevelDB(cfg.Database.VaultDBPath)
	if err != nil {
		log.Fatalf("Failed to open vault database: %v", err)
	}
	defer vaultDB.Close()

	auditDB, err := db.NewLevelDB(cfg.Database.AuditDBPath)
	if err != nil {
		log.Fatalf("Failed to open audit database: %v", err)
	}
	defer auditDB.Close()

	ethClient, err := eth.NewClient(cfg.General.EthRPCURL)
	if err != nil {
		log.Fatalf("Failed to initialize asset chain client: %v", err)
	}
	defer ethClient.Close()

	if !common.IsHexAddress(cfg.Oracle.Aggregator) {
		log.Fatalf("Invalid price aggregator address: %s", cfg.Oracle.Aggregator)
	}
	priceSource, err := oracle.NewChainlinkSource(ethClient, common.HexToAddress(cfg.Oracle.Aggregator), log)
	if err != nil {
		log.Fatalf("Failed to initialize price source: %v", err)
	}

	operatorKey, err := crypto.LoadECDSA(cfg.General.OperatorKeyFile)
	if err != nil {
		log.Fatalf("Failed to load operator key: %v", err)
	}
	transferor, err := token.NewEthTransferor(ctx, ethClient, operatorKey, log)
	if err != nil {
		log.Fatalf("Failed to initialize asset transferor: %v", err)
	}

	registry := roles.NewRegistry(vaultDB)
	store := ledger.NewStore(vaultDB)

	initialized, err := store.Initialized()
	if err != nil {
		log.Fatalf("Failed to check vault state: %v", err)
	}
	if !initialized {
		gen, err := ledger.LoadGenesisFile(cfg.Genesis.FilePath)
		if err != nil {
			log.Fatalf("Failed to load genesis: %v", err)
		}
		if err := store.InitGenesis(gen, registry, log); err != nil {
			log.Fatalf("Failed to apply genesis: %v", err)
		}
		root, err := store.StateRoot()
		if err != nil {
			log.Fatalf("Failed to compute genesis state root: %v", err)
		}
		log.Infof("Genesis state root: %s", root)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize audit sink: %v", err)
	}
	defer zapLogger.Sync()

	auditLog, err := audit.NewLog(auditDB, zapLogger)
	if err != nil {
		log.Fatalf("Failed to open audit log: %v", err)
	}

	// Initialize anchor client with retry logic
	var anchorClient anchor.Client
	log.Info("Initializing anchor client...")
	for {
		if cfg.Anchor.Type == "celestia" {
			log.Info("Attempting to connect to Celestia...")
			anchorClient, err = anchor.NewCelestiaClient(cfg.Anchor.NodeAddr, cfg.Anchor.AuthToken, cfg.Anchor.Namespace, log)
		} else if cfg.Anchor.Type == "avail" {
			log.Info("Attempting to connect to Avail...")
			anchorClient, err = anchor.NewAvailClient(cfg.Anchor.NodeAddr, cfg.Anchor.AuthToken, cfg.Anchor.AppID, log)
		} else {
			log.Fatalf("Unsupported anchor type: %s", cfg.Anchor.Type)
		}

		if err == nil {
			log.Infof("Successfully connected to %s anchor layer", cfg.Anchor.Type)
			break
		}

		log.Warnf("Failed to initialize %s client: %v", cfg.Anchor.Type, err)
		log.Info("Retrying in 5 seconds...")
		time.Sleep(5 * time.Second)
	}

	engine := vault.NewEngine(vault.Config{
		Ledger:         store,
		Registry:       registry,
		Price:          priceSource,
		Assets:         transferor,
		Audit:          auditLog,
		VaultAddr:      transferor.Operator(),
		NativeDecimals: cfg.Oracle.NativeDecimals,
		Log:            log,
	})

	interval := time.Duration(cfg.Anchor.IntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	runner := anchor.NewRunner(auditLog, store, auditDB, anchorClient, cfg.Anchor.Type, interval, cfg.Anchor.MaxEvents, log)
	go runner.Run(ctx)

	log.Infof("Starting vault daemon on %s...", cfg.General.RPCPort)
	if err := proxy.Start(cfg.General.RPCPort, cfg.General.WebSocketPort, engine, auditLog, log); err != nil {
		log.Fatalf("RPC server failed: %v", err)
	}

	return nil
}
