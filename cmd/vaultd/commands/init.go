package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/custodia-network/vaultd/config"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// InitCmd represents the init command
var InitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the vault daemon",
	Long: `Initialize the vault daemon with the required configuration.
This command creates the data directories, the operator key and the configuration file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return initCommand(cmd)
	},
}

func init() {
	InitCmd.Flags().String("eth.rpc-url", "http://127.0.0.1:8545", "Asset chain RPC URL")
	InitCmd.Flags().String("oracle.aggregator", "", "Price aggregator contract address")
	InitCmd.Flags().Uint("oracle.native-decimals", 18, "Native asset atomic-unit decimals")

	InitCmd.Flags().String("anchor.type", "", "Anchor DA layer type (avail/celestia)")
	InitCmd.Flags().String("anchor.node-addr", "", "Anchor DA node address")
	InitCmd.Flags().String("anchor.auth-token", "", "Anchor DA auth token or seed")
	InitCmd.Flags().String("anchor.namespace", "", "Anchor DA namespace")
	InitCmd.Flags().Uint32("anchor.app-id", 0, "Anchor Avail AppID")

	InitCmd.Flags().String("rpc.port", ":11111", "RPC server port")
	InitCmd.Flags().String("ws.port", ":11112", "Audit feed WebSocket port")

	InitCmd.MarkFlagRequired("oracle.aggregator")
	InitCmd.MarkFlagRequired("anchor.type")
	InitCmd.MarkFlagRequired("anchor.node-addr")
	InitCmd.MarkFlagRequired("anchor.auth-token")
	InitCmd.MarkFlagRequired("anchor.namespace")
}

func initCommand(cmd *cobra.Command) error {
	ethRPCURL, _ := cmd.Flags().GetString("eth.rpc-url")
	aggregator, _ := cmd.Flags().GetString("oracle.aggregator")
	nativeDecimals, _ := cmd.Flags().GetUint("oracle.native-decimals")
	anchorType, _ := cmd.Flags().GetString("anchor.type")
	anchorNodeAddr, _ := cmd.Flags().GetString("anchor.node-addr")
	anchorAuthToken, _ := cmd.Flags().GetString("anchor.auth-token")
	anchorNamespace, _ := cmd.Flags().GetString("anchor.namespace")
	anchorAppID, _ := cmd.Flags().GetUint32("anchor.app-id")
	rpcPort, _ := cmd.Flags().GetString("rpc.port")
	wsPort, _ := cmd.Flags().GetString("ws.port")

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceColors:     true,
	})
	log.SetLevel(logrus.InfoLevel)

	if anchorType != "avail" && anchorType != "celestia" {
		return fmt.Errorf("invalid --anchor.type: %s. Must be either 'avail' or 'celestia'", anchorType)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %v", err)
	}

	vaultDir := filepath.Join(home, ".vaultd")
	if err := os.MkdirAll(vaultDir, 0755); err != nil {
		return fmt.Errorf("failed to create .vaultd directory: %v", err)
	}

	dataDir := filepath.Join(vaultDir, "data")
	dirs := []string{
		filepath.Join(dataDir, "vault_db"),
		filepath.Join(dataDir, "audit_db"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %v", dir, err)
		}
	}

	// Operator key signs outbound asset transfers
	keyPath := filepath.Join(vaultDir, "operator.key")
	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		key, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate operator key: %v", err)
		}
		if err := crypto.SaveECDSA(keyPath, key); err != nil {
			return fmt.Errorf("failed to save operator key: %v", err)
		}
		log.Infof("Generated operator key at %s (address %s)",
			keyPath, crypto.PubkeyToAddress(key.PublicKey).Hex())
	}

	cfg := config.DefaultConfig()
	cfg.General.EthRPCURL = ethRPCURL
	cfg.General.RPCPort = rpcPort
	cfg.General.WebSocketPort = wsPort
	cfg.General.OperatorKeyFile = keyPath
	cfg.Database.VaultDBPath = filepath.Join(dataDir, "vault_db")
	cfg.Database.AuditDBPath = filepath.Join(dataDir, "audit_db")
	cfg.Oracle.Aggregator = aggregator
	cfg.Oracle.NativeDecimals = nativeDecimals
	cfg.Anchor.Type = anchorType
	cfg.Anchor.NodeAddr = anchorNodeAddr
	cfg.Anchor.AuthToken = anchorAuthToken
	cfg.Anchor.Namespace = anchorNamespace
	cfg.Anchor.AppID = anchorAppID
	cfg.Genesis.FilePath = filepath.Join(vaultDir, "genesis.json")

	configPath := filepath.Join(vaultDir, "config.toml")
	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("failed to create config file: %v", err)
	}
	log.Infof("Created config file at: %s", configPath)

	// Genesis template; the admin address must be filled in before start
	if _, err := os.Stat(cfg.Genesis.FilePath); os.IsNotExist(err) {
		template := `{
  "admin": "0x0000000000000000000000000000000000000000",
  "bank_cap_usd": 10000000000000,
  "allowed_tokens": [],
  "paused": false
}
`
		if err := os.WriteFile(cfg.Genesis.FilePath, []byte(template), 0644); err != nil {
			return fmt.Errorf("failed to write genesis template: %v", err)
		}
		log.Infof("Created genesis template at: %s", cfg.Genesis.FilePath)
	}

	fmt.Println("\n=== Configuration Summary ===")
	fmt.Printf("Asset chain RPC: %s\n", cfg.General.EthRPCURL)
	fmt.Printf("Price aggregator: %s\n", cfg.Oracle.Aggregator)
	fmt.Printf("Anchor DA layer: %s\n", cfg.Anchor.Type)
	fmt.Printf("Anchor node: %s\n", cfg.Anchor.NodeAddr)
	fmt.Printf("RPC port: %s\n", cfg.General.RPCPort)
	fmt.Printf("Config file: %s\n", configPath)

	log.Info("\nInitialization completed successfully!")
	log.Info("Please set the admin address in ~/.vaultd/genesis.json")
	log.Info("After editing the genesis file, you can start the vault using: ./vaultd start")

	return nil
}
