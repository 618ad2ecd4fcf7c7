package config

import (
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.General.EthRPCURL = "http://10.0.0.5:8545"
	cfg.Oracle.Aggregator = "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"
	cfg.Anchor.Type = "celestia"
	cfg.Anchor.NodeAddr = "http://127.0.0.1:26658"
	cfg.Anchor.Namespace = "76616c7464"
	cfg.Genesis.FilePath = "/tmp/genesis.json"

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded != cfg {
		t.Errorf("round trip mismatch:\nsaved  %+v\nloaded %+v", cfg, loaded)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Oracle.NativeDecimals != 18 {
		t.Errorf("default native decimals = %d, want 18", cfg.Oracle.NativeDecimals)
	}
	if cfg.Anchor.IntervalSecs <= 0 {
		t.Errorf("default anchor interval = %d", cfg.Anchor.IntervalSecs)
	}
	if cfg.General.RPCPort == "" || cfg.General.WebSocketPort == "" {
		t.Error("default ports are empty")
	}
}
