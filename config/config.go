// Package config handles application configuration.
//
// Configuration lives in a TOML file with four sections: the node RPC
// endpoint, the storage engine, the HTTP API, and the indexer. A missing
// file is not an error — the defaults are written to it and used. RPC
// credentials can be supplied through the environment (optionally via a
// .env file) so they stay out of the config file.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment overrides for the [bitcoin] section.
const (
	EnvRPCURL      = "COINPICK_RPC_URL"
	EnvRPCUser     = "COINPICK_RPC_USER"
	EnvRPCPassword = "COINPICK_RPC_PASSWORD"
)

// Config holds the daemon configuration.
type Config struct {
	Bitcoin BitcoinConfig `toml:"bitcoin"`
	Storage StorageConfig `toml:"storage"`
	API     APIConfig     `toml:"api"`
	Indexer IndexerConfig `toml:"indexer"`
}

// BitcoinConfig describes the chain source node.
type BitcoinConfig struct {
	RPCURL      string `toml:"rpc_url"`
	RPCUser     string `toml:"rpc_user"`
	RPCPassword string `toml:"rpc_password"`
	// Network names the chain the node is expected to run:
	// mainnet, testnet, signet, or regtest.
	Network string `toml:"network"`
}

// StorageConfig tunes the persistent store.
type StorageConfig struct {
	DBPath            string `toml:"db_path"`
	EnableCompression bool   `toml:"enable_compression"`
	CacheSizeMB       int64  `toml:"cache_size_mb"`
}

// APIConfig describes the HTTP server.
type APIConfig struct {
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	EnableCORS  bool   `toml:"enable_cors"`
}

// IndexerConfig tunes block processing.
type IndexerConfig struct {
	StartHeight      uint64 `toml:"start_height"`
	BatchSize        uint64 `toml:"batch_size"`
	PollIntervalSecs uint64 `toml:"poll_interval_secs"`
	EnableValidation bool   `toml:"enable_validation"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Bitcoin: BitcoinConfig{
			RPCURL:      "http://127.0.0.1:8332",
			RPCUser:     "1",
			RPCPassword: "1",
			Network:     "regtest",
		},
		Storage: StorageConfig{
			DBPath:            "./utxo_index.db",
			EnableCompression: true,
			CacheSizeMB:       256,
		},
		API: APIConfig{
			BindAddress: "127.0.0.1",
			Port:        3030,
			EnableCORS:  true,
		},
		Indexer: IndexerConfig{
			StartHeight:      0,
			BatchSize:        10,
			PollIntervalSecs: 5,
			EnableValidation: true,
		},
	}
}

// Load reads the config file at path. When the file does not exist the
// defaults are written there and used. Environment variables (after an
// optional .env load) override the RPC credentials last.
func Load(path string) (Config, error) {
	// A missing .env is fine; it only exists to carry credentials.
	_ = godotenv.Load()

	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := cfg.Save(path); err != nil {
			return Config{}, fmt.Errorf("write default config: %w", err)
		}
	} else {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv(EnvRPCURL); v != "" {
		cfg.Bitcoin.RPCURL = v
	}
	if v := os.Getenv(EnvRPCUser); v != "" {
		cfg.Bitcoin.RPCUser = v
	}
	if v := os.Getenv(EnvRPCPassword); v != "" {
		cfg.Bitcoin.RPCPassword = v
	}
	return cfg, nil
}

// Save writes the configuration as TOML.
func (c Config) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(c)
}

// ListenAddr returns the API bind address with port.
func (c APIConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}
