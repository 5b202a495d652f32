package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccount = "rKiCet8SdvWxPXnAgYarFUXMh1zCPz432Y"
	testIssuer  = "rvYAfWj5gh67oV6fW32ZzP3Aw4Eubs59B"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bookd.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
url = "wss://s2.ripple.com"
trace = true

[watch]
account = "`+testAccount+`"
interval = "45s"
store = "/tmp/test/watch.db"

[notify]
webhook_url = "https://maker.ifttt.com/trigger/xrp/with/key/abc"

[[names]]
issuer = "`+testIssuer+`"
name = "rippleFox"

[[books]]
currency_gets = "USD"
issuer_gets = "`+testIssuer+`"
currency_pays = "XRP"

[prices]
depth = "2000"

[[prices.venues]]
name = "fox"
currency = "CNY"
issuer = "`+testIssuer+`"
ask_fee = "0.0015"
bid_fee = "0.003"
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, config)

	assert.Equal(t, "wss://s2.ripple.com", config.Server.URL)
	assert.True(t, config.Server.Trace)

	assert.Equal(t, testAccount, config.Watch.Account)
	assert.Equal(t, 45*time.Second, config.Watch.Interval)
	assert.Equal(t, "/tmp/test/watch.db", config.Watch.Store)

	// Defaults fill what the file leaves out.
	assert.Equal(t, 2*time.Minute, config.Notify.MinInterval)
	assert.Equal(t, "0.002", config.Prices.MinProfit)

	assert.Equal(t, "rippleFox", config.NamesMap()[testIssuer])

	require.Len(t, config.Books, 1)
	pair := config.Books[0].Pair()
	assert.Equal(t, "USD", pair.CurrencyGets)
	assert.Equal(t, "XRP", pair.CurrencyPays)

	require.Len(t, config.Prices.Venues, 1)
	assert.Equal(t, "fox", config.Prices.Venues[0].Name)
	assert.Equal(t, "0.0015", config.Prices.Venues[0].AskFee)
}

func TestLoadConfigDefaultsOnly(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "wss://s1.ripple.com", config.Server.URL)
	assert.Equal(t, 30*time.Second, config.Watch.Interval)
	assert.Empty(t, config.Watch.Account)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("BOOKD_SERVER_URL", "ws://localhost:6006")

	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:6006", config.Server.URL)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestValidateConfig(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server: ServerConfig{URL: "wss://s1.ripple.com"},
			Watch:  WatchConfig{Account: testAccount, Interval: time.Minute, Store: "bookd.db"},
			Prices: PricesConfig{Depth: "5000", MinProfit: "0.002"},
		}
	}

	require.NoError(t, ValidateConfig(base()))

	bad := base()
	bad.Server.URL = "https://s1.ripple.com"
	assert.ErrorContains(t, ValidateConfig(bad), "scheme must be ws or wss")

	bad = base()
	bad.Watch.Account = "not-an-address"
	assert.ErrorContains(t, ValidateConfig(bad), "not a valid address")

	bad = base()
	bad.Prices.MinProfit = "-1"
	assert.ErrorContains(t, ValidateConfig(bad), "must be positive")

	bad = base()
	bad.Books = []BookConfig{{CurrencyGets: "USD", IssuerGets: testIssuer, CurrencyPays: "USD", IssuerPays: testIssuer}}
	assert.ErrorContains(t, ValidateConfig(bad), "books[0]")

	bad = base()
	bad.Prices.Venues = []VenueConfig{{Name: "fox", Currency: "XRP"}}
	assert.ErrorContains(t, ValidateConfig(bad), "issued currency")
}
