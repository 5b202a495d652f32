package config

import "github.com/spf13/viper"

// setDefaults sets every default the loader starts from.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.url", "wss://s1.ripple.com")
	v.SetDefault("server.trace", false)

	v.SetDefault("watch.account", "")
	v.SetDefault("watch.interval", "30s")
	v.SetDefault("watch.store", "bookd.db")

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.min_interval", "2m")

	v.SetDefault("prices.depth", "5000")
	v.SetDefault("prices.min_profit", "0.002")
}
