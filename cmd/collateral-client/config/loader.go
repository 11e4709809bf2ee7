package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var EmbeddedConfigYAML []byte

const EnvPrefix = "CC"

type ClientSettings struct {
	LocalHost       string
	Port            string
	AllowOrigins    []string
	WritesPerSecond float64
	DefaultNetwork  string
	// NetworksFile overrides the embedded network resource.
	NetworksFile   string
	JournalFile    string
	HeadPoll       time.Duration
	ConfirmTimeout time.Duration
	SettleDelay    time.Duration
}

type WalletConfig struct {
	// Provider skips the selection prompt when set.
	Provider      string
	Keyfile       string
	KeystoreDir   string
	CreateKeyfile bool
}

type SwapConfig struct {
	Enabled           bool
	BaseURL           string
	RequestsPerMinute int
	Timeout           time.Duration
}

type RPC struct {
	Name string
	URL  string
	WSS  string
}

type NetworkRPCs struct {
	Name    string
	ChainID uint64
	RPCs    []RPC
}

type EthereumConfig struct {
	ActiveNetwork string
	ActiveRPC     string
	Networks      map[string]NetworkRPCs
}

type Config struct {
	ClientSettings *ClientSettings
	Wallet         WalletConfig
	Swap           SwapConfig
	Ethereum       *EthereumConfig
	InfuraKey      string
}

func SearchPaths() []string {
	home, _ := os.UserHomeDir()
	return []string{
		filepath.Join(home, ".config", "collateral-client"),
		filepath.Join(home, "config"),
		".",
	}
}

// Load merges the embedded defaults, the first config.yaml found on paths and
// CC_* environment variables, in that order.
func Load() (*Config, error) {
	return LoadFrom(SearchPaths())
}

func LoadFrom(paths []string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(EmbeddedConfigYAML)); err != nil {
		return nil, fmt.Errorf("config: embedded defaults: %w", err)
	}

	v.SetConfigName("config")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"InfuraKey",
		"ClientSettings.Port",
		"ClientSettings.LocalHost",
		"ClientSettings.DefaultNetwork",
		"ClientSettings.NetworksFile",
		"ClientSettings.JournalFile",
		"Wallet.Provider",
		"Wallet.Keyfile",
		"Wallet.KeystoreDir",
		"Swap.Enabled",
		"Swap.BaseURL",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if cfg.ClientSettings == nil {
		cfg.ClientSettings = &ClientSettings{}
	}
	if cfg.Ethereum == nil {
		cfg.Ethereum = &EthereumConfig{}
	}
	return &cfg, nil
}

func infuraRPC(chain, key string) RPC {
	return RPC{
		Name: "Infura",
		URL:  fmt.Sprintf("https://%s.infura.io/v3/%s", chain, key),
		WSS:  fmt.Sprintf("wss://%s.infura.io/ws/v3/%s", chain, key),
	}
}

// HasRPCs reports whether every configured network has at least one endpoint.
func (c *Config) HasRPCs() bool {
	if c.Ethereum == nil || len(c.Ethereum.Networks) == 0 {
		return false
	}
	for _, n := range c.Ethereum.Networks {
		if len(n.RPCs) == 0 || strings.TrimSpace(n.RPCs[0].URL+n.RPCs[0].WSS) == "" {
			return false
		}
	}
	return true
}

func (c *Config) InjectInfuraKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("infura api key is empty")
	}

	for netName, net := range c.Ethereum.Networks {
		rpc := infuraRPC(strings.ToLower(netName), key)

		// first slot is the infura slot
		if len(net.RPCs) == 0 {
			net.RPCs = []RPC{rpc}
		} else {
			net.RPCs[0] = rpc
		}

		// map value copy
		c.Ethereum.Networks[netName] = net
	}

	return nil
}

// ApplyEnv selects the default network from CC_ENV.
func (c *Config) ApplyEnv() error {
	raw := strings.TrimSpace(os.Getenv(EnvPrefix + "_ENV"))

	var network string
	switch strings.ToLower(raw) {
	case "":
		return nil

	case "prod", "production":
		network = "mainnet"

	case "dev", "develop", "development":
		network = "kovan"

	case "local":
		network = "rinkeby"

	default:
		return fmt.Errorf("invalid %s_ENV %q (allowed: local, develop, prod, empty)", EnvPrefix, raw)
	}

	c.ClientSettings.DefaultNetwork = network
	c.Ethereum.ActiveNetwork = network
	return nil
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	s := c.ClientSettings
	if strings.TrimSpace(s.LocalHost) == "" {
		return errors.New("config: ClientSettings.LocalHost is empty")
	}
	if strings.TrimSpace(s.Port) == "" {
		return errors.New("config: ClientSettings.Port is empty")
	}
	if strings.TrimSpace(s.DefaultNetwork) == "" {
		return errors.New("config: ClientSettings.DefaultNetwork is empty")
	}
	if s.WritesPerSecond < 0 {
		return errors.New("config: ClientSettings.WritesPerSecond is negative")
	}
	if c.Swap.RequestsPerMinute < 0 {
		return errors.New("config: Swap.RequestsPerMinute is negative")
	}
	if len(c.Ethereum.Networks) == 0 {
		return errors.New("config: Ethereum.Networks is empty")
	}
	for name, n := range c.Ethereum.Networks {
		if n.ChainID == 0 {
			return fmt.Errorf("config: Ethereum.Networks[%q] has no ChainID", name)
		}
	}
	return nil
}

func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.ClientSettings.LocalHost, c.ClientSettings.Port)
}
