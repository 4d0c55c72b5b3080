package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"stratachain/crypto"
)

type Config struct {
	ListenAddress    string `toml:"ListenAddress"`
	DataDir          string `toml:"DataDir"`
	GenesisFile      string `toml:"GenesisFile"`
	NetworkName      string `toml:"NetworkName"`
	NodeKeystorePath string `toml:"NodeKeystorePath"`
	LogFile          string `toml:"LogFile"`
}

// PassphraseSource resolves the keystore passphrase on demand.
type PassphraseSource func() (string, error)

type loadOptions struct {
	passphrase PassphraseSource
}

// Option customises Load behaviour.
type Option func(*loadOptions)

// WithKeystorePassphraseSource supplies the passphrase used when the node
// keystore has to be created on first start.
func WithKeystorePassphraseSource(source PassphraseSource) Option {
	return func(o *loadOptions) { o.passphrase = source }
}

// Load loads the configuration from the given path, creating a default config
// file when none exists yet.
func Load(path string, opts ...Option) (*Config, error) {
	options := &loadOptions{}
	for _, opt := range opts {
		opt(options)
	}

	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.applyDefaults(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ensureKeystore(cfg, options.passphrase); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults(path string) error {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = "127.0.0.1:8545"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "strata-local"
	}
	if strings.TrimSpace(cfg.NodeKeystorePath) == "" {
		cfg.NodeKeystorePath = defaultKeystorePath(path)
	}
	return nil
}

// Validate rejects configurations the node cannot start with.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("config: DataDir must not be empty")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress must not be empty")
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: "127.0.0.1:8545",
		DataDir:       "./strata-data",
		NetworkName:   "strata-local",
	}
	if err := cfg.applyDefaults(path); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ensureKeystore creates the node keystore on first start so the operator has
// a funded identity to submit messages with.
func ensureKeystore(cfg *Config, passphrase PassphraseSource) error {
	if _, err := os.Stat(cfg.NodeKeystorePath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if passphrase == nil {
		// Without a passphrase source the keystore is left to the operator.
		return nil
	}
	secret, err := passphrase()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	return crypto.SaveToKeystore(cfg.NodeKeystorePath, key, secret)
}

func defaultKeystorePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "node-keystore.json")
}
