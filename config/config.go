package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
)

// Config holds the application configuration
type Config struct {
	General  GeneralConfig  `toml:"general"`
	Database DatabaseConfig `toml:"database"`
	Oracle   OracleConfig   `toml:"oracle"`
	Anchor   AnchorConfig   `toml:"anchor"`
	Genesis  GenesisConfig  `toml:"genesis"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	RPCPort         string `toml:"rpc_port"`
	WebSocketPort   string `toml:"ws_port"`
	EthRPCURL       string `toml:"eth_rpc_url"`
	OperatorKeyFile string `toml:"operator_key_file"`
}

// DatabaseConfig holds database paths
type DatabaseConfig struct {
	VaultDBPath string `toml:"vault_db_path"`
	AuditDBPath string `toml:"audit_db_path"`
}

// OracleConfig holds the price-feed settings
type OracleConfig struct {
	Aggregator     string `toml:"aggregator"` // aggregator contract address
	NativeDecimals uint   `toml:"native_decimals"`
}

// AnchorConfig holds DA anchoring settings
type AnchorConfig struct {
	Type         string `toml:"type"` // "celestia" or "avail"
	NodeAddr     string `toml:"node_addr"`
	AuthToken    string `toml:"auth_token"`
	Namespace    string `toml:"namespace"`
	AppID        uint32 `toml:"app_id"`
	IntervalSecs int    `toml:"interval_secs"`
	MaxEvents    uint64 `toml:"max_events"`
}

// GenesisConfig points at the genesis file
type GenesisConfig struct {
	FilePath string `toml:"file_path"`
}

// DefaultConfig returns the default configuration values
func DefaultConfig() Config {
	return Config{
		General: GeneralConfig{
			RPCPort:       ":11111",
			WebSocketPort: ":11112",
			EthRPCURL:     "http://127.0.0.1:8545",
		},
		Database: DatabaseConfig{
			VaultDBPath: "./data/vault_db",
			AuditDBPath: "./data/audit_db",
		},
		Oracle: OracleConfig{
			NativeDecimals: 18,
		},
		Anchor: AnchorConfig{
			IntervalSecs: 60,
			MaxEvents:    128,
		},
	}
}

// LoadConfig reads from config.toml and returns Config struct
func LoadConfig(path string) (Config, error) {
	var cfg Config
	file, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %v", err)
	}

	err = toml.Unmarshal(file, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %v", err)
	}

	return cfg, nil
}

// Save writes the config as TOML to path
func (c Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %v", err)
	}
	return os.WriteFile(path, data, 0644)
}
