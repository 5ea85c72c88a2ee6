package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"
)

// Supported bitcoin networks.
const (
	NetworkMainnet  = "mainnet"
	NetworkTestnet4 = "testnet4"
	NetworkTestnet3 = "testnet3"
	NetworkSignet   = "signet"
	NetworkRegtest  = "regtest"
)

// Supported wallet types.
const (
	WalletTypeBitcoind = "bitcoind"
	WalletTypeWIF      = "wif"
)

const (
	DefaultAPIURL       = "http://localhost:6969/api"
	DefaultPollInterval = 3 * time.Second
	DefaultHTTPTimeout  = 30 * time.Second

	mainnetMempoolURL  = "https://mempool.space/api"
	testnet4MempoolURL = "https://mempool.space/testnet4/api"
	signetMempoolURL   = "https://mempool.space/signet/api"
	testnet3MempoolURL = "https://mempool.space/testnet/api"
)

// RPCConfig holds the bitcoind JSON-RPC connection settings.
type RPCConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Wallet   string `mapstructure:"wallet"`
}

// WalletConfig describes the stored bitcoin wallet used for reconnection.
type WalletConfig struct {
	Type           string    `mapstructure:"type"`
	PaymentAddress string    `mapstructure:"payment_address"`
	PublicKey      string    `mapstructure:"public_key"`
	WIF            string    `mapstructure:"wif"`
	RPC            RPCConfig `mapstructure:"rpc"`
}

// Config holds the application configuration
type Config struct {
	APIURL         string        `mapstructure:"api_url"`
	MempoolURL     string        `mapstructure:"mempool_url"`
	Network        string        `mapstructure:"network"`
	ReceiveAddress string        `mapstructure:"receive_address"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout"`
	LogLevel       string        `mapstructure:"log_level"`
	LogDir         string        `mapstructure:"log_dir"`
	Wallet         WalletConfig  `mapstructure:"wallet"`
}

var globalConfig *Config

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".btc-borrow")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")

	setDefaults(v)

	// BTC_BORROW_WALLET_RPC_HOST -> wallet.rpc.host
	v.SetEnvPrefix("BTC_BORROW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if cfg.MempoolURL == "" {
		cfg.MempoolURL = DefaultMempoolURL(cfg.Network)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_url", DefaultAPIURL)
	v.SetDefault("mempool_url", "")
	v.SetDefault("network", NetworkTestnet4)
	v.SetDefault("receive_address", "")
	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("http_timeout", DefaultHTTPTimeout)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_dir", "")
	v.SetDefault("wallet.type", "")
	v.SetDefault("wallet.payment_address", "")
	v.SetDefault("wallet.public_key", "")
	v.SetDefault("wallet.wif", "")
	v.SetDefault("wallet.rpc.host", "127.0.0.1")
	v.SetDefault("wallet.rpc.port", 48332)
	v.SetDefault("wallet.rpc.user", "")
	v.SetDefault("wallet.rpc.password", "")
	v.SetDefault("wallet.rpc.wallet", "")
}

// Validate checks the configuration for values the flow cannot work with.
func (c *Config) Validate() error {
	if _, err := ParamsForNetwork(c.Network); err != nil {
		return err
	}
	if c.APIURL == "" {
		return fmt.Errorf("api_url must not be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http_timeout must be positive, got %s", c.HTTPTimeout)
	}
	switch c.Wallet.Type {
	case "", WalletTypeBitcoind, WalletTypeWIF:
	default:
		return fmt.Errorf("unknown wallet type %q (expected %q or %q)", c.Wallet.Type, WalletTypeBitcoind, WalletTypeWIF)
	}
	return nil
}

// ChainParams returns the bitcoin network parameters.
func (c *Config) ChainParams() *chaincfg.Params {
	params, err := ParamsForNetwork(c.Network)
	if err != nil {
		return &chaincfg.TestNet3Params
	}
	return params
}

// ParamsForNetwork maps a network name to its chain parameters. testnet4 shares
// the address encoding of testnet3.
func ParamsForNetwork(network string) (*chaincfg.Params, error) {
	switch strings.ToLower(network) {
	case NetworkMainnet, "bitcoin":
		return &chaincfg.MainNetParams, nil
	case NetworkTestnet4, NetworkTestnet3, "testnet":
		return &chaincfg.TestNet3Params, nil
	case NetworkSignet:
		return &chaincfg.SigNetParams, nil
	case NetworkRegtest:
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}

// DefaultMempoolURL returns the mempool.space API base for a network.
func DefaultMempoolURL(network string) string {
	switch strings.ToLower(network) {
	case NetworkMainnet, "bitcoin":
		return mainnetMempoolURL
	case NetworkSignet:
		return signetMempoolURL
	case NetworkTestnet3, "testnet":
		return testnet3MempoolURL
	default:
		return testnet4MempoolURL
	}
}

// Get returns the global configuration
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}
	return globalConfig
}

// Set updates the global configuration
func Set(cfg *Config) {
	globalConfig = cfg
}
