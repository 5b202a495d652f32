package config

import (
	"fmt"
	"net/url"

	addresscodec "github.com/Peersyst/xrpl-go/address-codec"

	"github.com/xrpmon/bookd/internal/amount"
)

// ValidateConfig checks the complete configuration.
func ValidateConfig(config *Config) error {
	if err := validateServer(&config.Server); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := validateWatch(&config.Watch); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if config.Notify.MinInterval < 0 {
		return fmt.Errorf("notify: min_interval must not be negative")
	}
	for i, b := range config.Books {
		if err := b.Pair().Validate(); err != nil {
			return fmt.Errorf("books[%d]: %w", i, err)
		}
	}
	if err := validatePrices(&config.Prices); err != nil {
		return fmt.Errorf("prices: %w", err)
	}
	for i, n := range config.Names {
		if !addresscodec.IsValidClassicAddress(n.Issuer) {
			return fmt.Errorf("names[%d]: %q is not a valid address", i, n.Issuer)
		}
		if n.Name == "" {
			return fmt.Errorf("names[%d]: name is required", i)
		}
	}
	return nil
}

func validateServer(server *ServerConfig) error {
	if server.URL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(server.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", server.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url scheme must be ws or wss, got %q", u.Scheme)
	}
	return nil
}

func validateWatch(watch *WatchConfig) error {
	if watch.Account == "" {
		return nil
	}
	if !addresscodec.IsValidClassicAddress(watch.Account) {
		return fmt.Errorf("account %q is not a valid address", watch.Account)
	}
	if watch.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if watch.Store == "" {
		return fmt.Errorf("store path is required")
	}
	return nil
}

func validatePrices(prices *PricesConfig) error {
	if err := requirePositiveValue("depth", prices.Depth); err != nil {
		return err
	}
	if err := requirePositiveValue("min_profit", prices.MinProfit); err != nil {
		return err
	}
	seen := make(map[string]bool, len(prices.Venues))
	for i, venue := range prices.Venues {
		if venue.Name == "" {
			return fmt.Errorf("venues[%d]: name is required", i)
		}
		if seen[venue.Name] {
			return fmt.Errorf("venues[%d]: duplicate name %q", i, venue.Name)
		}
		seen[venue.Name] = true
		if venue.Currency == "" || venue.Currency == amount.Native {
			return fmt.Errorf("venues[%d]: currency must be an issued currency", i)
		}
		if !addresscodec.IsValidClassicAddress(venue.Issuer) {
			return fmt.Errorf("venues[%d]: issuer %q is not a valid address", i, venue.Issuer)
		}
		for _, fee := range []struct{ name, value string }{
			{"ask_fee", venue.AskFee},
			{"bid_fee", venue.BidFee},
		} {
			if fee.value == "" {
				continue
			}
			v, err := amount.ParseValue(fee.value)
			if err != nil {
				return fmt.Errorf("venues[%d]: invalid %s %q: %w", i, fee.name, fee.value, err)
			}
			if v.IsNegative() {
				return fmt.Errorf("venues[%d]: %s must not be negative", i, fee.name)
			}
		}
	}
	return nil
}

func requirePositiveValue(name, s string) error {
	v, err := amount.ParseValue(s)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if v.Signum() <= 0 {
		return fmt.Errorf("%s must be positive", name)
	}
	return nil
}
