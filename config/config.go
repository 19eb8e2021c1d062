package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ponzirep/crypto"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress   string `toml:"RPCAddress"`
	DataDir      string `toml:"DataDir"`
	GenesisFile  string `toml:"GenesisFile"`
	KeystorePath string `toml:"KeystorePath"`
	Environment  string `toml:"Environment"`
	// ChainID and DevFunds are used only when GenesisFile is empty: the node
	// then starts a single-owner ledger owned by the keystore account.
	ChainID  uint64 `toml:"ChainID"`
	DevFunds string `toml:"DevFunds"`

	RPC       RPC       `toml:"rpc"`
	Logging   Logging   `toml:"logging"`
	Index     Index     `toml:"index"`
	Telemetry Telemetry `toml:"telemetry"`
}

// Load loads the configuration from the given path, writing a default file
// and a fresh owner keystore when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %q", path, undecoded[0].String())
	}

	if strings.TrimSpace(cfg.GenesisFile) == "" {
		if err := ensureKeystore(path, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8545"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./ponzirep-data"
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "local"
	}
	if c.ChainID == 0 {
		c.ChainID = 31337
	}
	if strings.TrimSpace(c.DevFunds) == "" {
		c.DevFunds = "1000"
	}
	c.RPC.applyDefaults()
	c.Logging.applyDefaults()
	c.Index.applyDefaults()
	c.Telemetry.applyDefaults()
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.KeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.KeystorePath != keystorePath {
		cfg.KeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{KeystorePath: keystorePath}
	cfg.applyDefaults()

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "owner.keystore")
}
