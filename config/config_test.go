package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"brokerfund/crypto"
)

func addr(b byte) string {
	return crypto.FormatAddress(crypto.FundPrefix, [20]byte{b})
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "brokerd.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validBody() string {
	return fmt.Sprintf(`ListenAddress = "127.0.0.1:9000"
ChainID = 7
EngineAddress = %q
AdminAddress = %q
ProtocolFeeRecipient = %q
ManagementFeeRateBps = 150

[auth]
HMACSecret = "secret"
Audience = "brokers"

[rate_limit]
RequestsPerMinute = 120
Burst = 5

[quota]
MaxRequestsPerEpoch = 10
MaxVolumePerEpoch = 1000000

[vault]
ShareToken = %q
Fund = %q

[[vault.Assets]]
Address = "0x1100000000000000000000000000000000000000"
PriceWad = "1000000000000000000"
`, addr(0xE0), addr(0xA0), addr(0xC0), crypto.FormatAddress(crypto.AssetPrefix, [20]byte{0x22}), addr(0xF0))
}

func TestLoadParsesSettlementConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validBody()))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	require.Equal(t, uint64(7), cfg.ChainID)
	require.Equal(t, uint64(150), cfg.ManagementFeeRateBps)
	require.Equal(t, 5, cfg.RateLimit.Burst)
	require.Equal(t, uint64(1_000_000), cfg.Quota.MaxVolumePerEpoch)
	require.Equal(t, uint32(60), cfg.Quota.EpochSeconds)
	require.Equal(t, "brokerfund", cfg.Auth.Issuer)
	require.Equal(t, filepath.Join("./brokerfund-data", "events.db"), cfg.EventLogPath)

	addrs, err := cfg.DecodeAddresses()
	require.NoError(t, err)
	require.Equal(t, [20]byte{0xE0}, addrs.Engine)
	require.Equal(t, [20]byte{0x22}, addrs.ShareToken)

	prices, err := cfg.AssetPrices()
	require.NoError(t, err)
	require.Len(t, prices, 1)
	require.Equal(t, "1000000000000000000", prices[[20]byte{0x11}].String())
}

func TestLoadRejectsUnknownField(t *testing.T) {
	_, err := Load(writeConfig(t, validBody()+"\nBogus = 1\n"))
	require.Error(t, err)
}

func TestLoadSecretFromEnvironment(t *testing.T) {
	t.Setenv("BROKERFUND_TEST_SECRET", "from-env")
	body := strings.Replace(validBody(), `HMACSecret = "secret"`, `HMACSecretEnv = "BROKERFUND_TEST_SECRET"`, 1)
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Auth.HMACSecret)
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "brokerd.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.NoError(t, cfg.Validate())

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.EngineAddress, reloaded.EngineAddress)
}

func TestValidateRejects(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(writeConfig(t, validBody()))
		require.NoError(t, err)
		return cfg
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chain", func(c *Config) { c.ChainID = 0 }},
		{"bad engine", func(c *Config) { c.EngineAddress = "nope" }},
		{"zero admin", func(c *Config) { c.AdminAddress = "0x0000000000000000000000000000000000000000" }},
		{"fee rate", func(c *Config) { c.ManagementFeeRateBps = 10_000 }},
		{"secret", func(c *Config) { c.Auth.HMACSecret = " " }},
		{"price", func(c *Config) { c.Vault.Assets[0].PriceWad = "0" }},
		{"duplicate asset", func(c *Config) { c.Vault.Assets = append(c.Vault.Assets, c.Vault.Assets[0]) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
