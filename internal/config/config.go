// Package config loads bookd's layered configuration: built-in
// defaults, then an optional TOML file, then BOOKD_ environment
// variables.
package config

import (
	"time"

	"github.com/xrpmon/bookd/internal/book"
)

// Config is the complete bookd configuration.
type Config struct {
	Server ServerConfig `toml:"server" mapstructure:"server"`
	Watch  WatchConfig  `toml:"watch" mapstructure:"watch"`
	Notify NotifyConfig `toml:"notify" mapstructure:"notify"`
	Prices PricesConfig `toml:"prices" mapstructure:"prices"`

	// Books lists the order books to replicate.
	Books []BookConfig `toml:"books" mapstructure:"books"`

	// Names assigns display nicknames to issuer addresses for
	// notifications. A list rather than a map: config keys are
	// case-insensitive and addresses are not.
	Names []NameConfig `toml:"names" mapstructure:"names"`

	configPath string `toml:"-" mapstructure:"-"`
}

// ServerConfig selects the rippled websocket endpoint.
type ServerConfig struct {
	URL   string `toml:"url" mapstructure:"url"`
	Trace bool   `toml:"trace" mapstructure:"trace"`
}

// WatchConfig drives the account balance and order watcher. An empty
// account disables it.
type WatchConfig struct {
	Account  string        `toml:"account" mapstructure:"account"`
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
	Store    string        `toml:"store" mapstructure:"store"`
}

// NotifyConfig points notifications at an IFTTT-style webhook.
// MinInterval suppresses repeat notifications inside the window.
type NotifyConfig struct {
	WebhookURL  string        `toml:"webhook_url" mapstructure:"webhook_url"`
	MinInterval time.Duration `toml:"min_interval" mapstructure:"min_interval"`
}

// BookConfig names one currency pair to replicate. Native XRP is the
// currency "XRP" with no issuer.
type BookConfig struct {
	CurrencyGets string `toml:"currency_gets" mapstructure:"currency_gets"`
	IssuerGets   string `toml:"issuer_gets" mapstructure:"issuer_gets"`
	CurrencyPays string `toml:"currency_pays" mapstructure:"currency_pays"`
	IssuerPays   string `toml:"issuer_pays" mapstructure:"issuer_pays"`
}

// Pair converts the entry to a book pair.
func (b BookConfig) Pair() book.Pair {
	return book.Pair{
		CurrencyGets: b.CurrencyGets,
		IssuerGets:   b.IssuerGets,
		CurrencyPays: b.CurrencyPays,
		IssuerPays:   b.IssuerPays,
	}
}

// PricesConfig drives the cross-venue price monitor. Depth is the
// base-currency volume averaged per quote, MinProfit the alert
// threshold as a fraction. No venues disables the monitor.
type PricesConfig struct {
	Depth     string        `toml:"depth" mapstructure:"depth"`
	MinProfit string        `toml:"min_profit" mapstructure:"min_profit"`
	Venues    []VenueConfig `toml:"venues" mapstructure:"venues"`
}

// VenueConfig is one gateway whose XRP book is priced. Fees are
// fractions of the traded price.
type VenueConfig struct {
	Name     string `toml:"name" mapstructure:"name"`
	Currency string `toml:"currency" mapstructure:"currency"`
	Issuer   string `toml:"issuer" mapstructure:"issuer"`
	AskFee   string `toml:"ask_fee" mapstructure:"ask_fee"`
	BidFee   string `toml:"bid_fee" mapstructure:"bid_fee"`
}

// NameConfig gives one issuer address a display nickname.
type NameConfig struct {
	Issuer string `toml:"issuer" mapstructure:"issuer"`
	Name   string `toml:"name" mapstructure:"name"`
}

// NamesMap returns the nickname entries as an issuer-keyed map.
func (c *Config) NamesMap() map[string]string {
	names := make(map[string]string, len(c.Names))
	for _, n := range c.Names {
		names[n.Issuer] = n.Name
	}
	return names
}

// GetConfigPath returns the path of the loaded config file, empty
// when running on defaults and environment only.
func (c *Config) GetConfigPath() string {
	return c.configPath
}
