package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"brokerfund/crypto"
)

// Config is the settlement daemon configuration.
type Config struct {
	ListenAddress        string `toml:"ListenAddress"`
	DataDir              string `toml:"DataDir"`
	Environment          string `toml:"Environment"`
	ChainID              uint64 `toml:"ChainID"`
	EngineAddress        string `toml:"EngineAddress"`
	AdminAddress         string `toml:"AdminAddress"`
	ProtocolFeeRecipient string `toml:"ProtocolFeeRecipient"`
	ManagementFeeRateBps uint64 `toml:"ManagementFeeRateBps"`
	EventLogPath         string `toml:"EventLogPath"`
	LogFile              string `toml:"LogFile"`

	// PausedModules lists modules that reject settlement at startup.
	PausedModules []string `toml:"PausedModules"`

	Auth      Auth      `toml:"auth"`
	RateLimit RateLimit `toml:"rate_limit"`
	Quota     Quota     `toml:"quota"`
	Vault     Vault     `toml:"vault"`
	Telemetry Telemetry `toml:"telemetry"`
}

// Auth configures bearer token verification for the HTTP API.
type Auth struct {
	HMACSecret string `toml:"HMACSecret"`
	// HMACSecretEnv names an environment variable that overrides HMACSecret.
	HMACSecretEnv string `toml:"HMACSecretEnv"`
	Issuer        string `toml:"Issuer"`
	Audience      string `toml:"Audience"`
}

// RateLimit bounds requests per client.
type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// Quota bounds settlement requests and volume per caller per epoch.
type Quota struct {
	MaxRequestsPerEpoch uint32 `toml:"MaxRequestsPerEpoch"`
	MaxVolumePerEpoch   uint64 `toml:"MaxVolumePerEpoch"`
	EpochSeconds        uint32 `toml:"EpochSeconds"`
}

// Vault configures the reference deposit module.
type Vault struct {
	ShareToken string  `toml:"ShareToken"`
	Fund       string  `toml:"Fund"`
	Assets     []Asset `toml:"Assets"`
}

// Asset is a deposit asset and its price in liquidity units, scaled by 1e18.
type Asset struct {
	Address  string `toml:"Address"`
	PriceWad string `toml:"PriceWad"`
}

// Telemetry configures OpenTelemetry export.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`

	// SampleRatio is the fraction of root spans recorded; 0 records all.
	SampleRatio float64 `toml:"SampleRatio"`
}

// Load loads the configuration from path, writing a default file when none
// exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
	}
	cfg.applyDefaults()
	if env := strings.TrimSpace(cfg.Auth.HMACSecretEnv); env != "" {
		if secret := os.Getenv(env); secret != "" {
			cfg.Auth.HMACSecret = secret
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every optional field populated.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8081"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./brokerfund-data"
	}
	if c.ChainID == 0 {
		c.ChainID = 1
	}
	if strings.TrimSpace(c.EventLogPath) == "" {
		c.EventLogPath = filepath.Join(c.DataDir, "events.db")
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = 600
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.Quota.EpochSeconds == 0 {
		c.Quota.EpochSeconds = 60
	}
	if strings.TrimSpace(c.Auth.Issuer) == "" {
		c.Auth.Issuer = "brokerfund"
	}
}

// createDefault writes a development configuration to path. Addresses are
// derived from fresh keys so the daemon can start immediately.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	addrs := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, key.PubKey().Address().String())
	}
	cfg.EngineAddress = addrs[0]
	cfg.AdminAddress = addrs[1]
	cfg.ProtocolFeeRecipient = addrs[2]
	cfg.Vault.ShareToken = addrs[3]
	cfg.Vault.Fund = addrs[4]
	cfg.Auth.HMACSecret = "change-me"
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

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress required")
	}
	if c.ChainID == 0 {
		return fmt.Errorf("config: ChainID must be positive")
	}
	for name, value := range map[string]string{
		"EngineAddress":        c.EngineAddress,
		"AdminAddress":         c.AdminAddress,
		"ProtocolFeeRecipient": c.ProtocolFeeRecipient,
		"vault.ShareToken":     c.Vault.ShareToken,
		"vault.Fund":           c.Vault.Fund,
	} {
		if _, err := requireAddress(value); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	if c.ManagementFeeRateBps >= 10_000 {
		return fmt.Errorf("config: ManagementFeeRateBps must be below 10000")
	}
	if strings.TrimSpace(c.Auth.HMACSecret) == "" {
		return fmt.Errorf("config: auth.HMACSecret required")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("config: telemetry.SampleRatio must be within [0, 1]")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config: rate_limit values must be non-negative")
	}
	seen := make(map[[20]byte]struct{}, len(c.Vault.Assets))
	for i, asset := range c.Vault.Assets {
		addr, err := requireAddress(asset.Address)
		if err != nil {
			return fmt.Errorf("config: vault.Assets[%d].Address: %w", i, err)
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("config: vault.Assets[%d] duplicates %s", i, asset.Address)
		}
		seen[addr] = struct{}{}
		if _, err := parsePositive(asset.PriceWad); err != nil {
			return fmt.Errorf("config: vault.Assets[%d].PriceWad: %w", i, err)
		}
	}
	return nil
}

func requireAddress(value string) ([20]byte, error) {
	addr, err := crypto.ParseAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, err
	}
	if addr == ([20]byte{}) {
		return [20]byte{}, fmt.Errorf("zero address")
	}
	return addr, nil
}

func parsePositive(value string) (*big.Int, error) {
	parsed, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || parsed.Sign() <= 0 {
		return nil, fmt.Errorf("%q is not a positive integer", value)
	}
	return parsed, nil
}

// Addresses holds the decoded address fields.
type Addresses struct {
	Engine               [20]byte
	Admin                [20]byte
	ProtocolFeeRecipient [20]byte
	ShareToken           [20]byte
	Fund                 [20]byte
}

// DecodeAddresses parses the address fields. Validate must have passed.
func (c *Config) DecodeAddresses() (Addresses, error) {
	var out Addresses
	targets := []struct {
		value string
		dst   *[20]byte
	}{
		{c.EngineAddress, &out.Engine},
		{c.AdminAddress, &out.Admin},
		{c.ProtocolFeeRecipient, &out.ProtocolFeeRecipient},
		{c.Vault.ShareToken, &out.ShareToken},
		{c.Vault.Fund, &out.Fund},
	}
	for _, target := range targets {
		addr, err := requireAddress(target.value)
		if err != nil {
			return Addresses{}, err
		}
		*target.dst = addr
	}
	return out, nil
}

// AssetPrices returns the configured deposit asset prices.
func (c *Config) AssetPrices() (map[[20]byte]*big.Int, error) {
	prices := make(map[[20]byte]*big.Int, len(c.Vault.Assets))
	for _, asset := range c.Vault.Assets {
		addr, err := requireAddress(asset.Address)
		if err != nil {
			return nil, err
		}
		price, err := parsePositive(asset.PriceWad)
		if err != nil {
			return nil, err
		}
		prices[addr] = price
	}
	return prices, nil
}
