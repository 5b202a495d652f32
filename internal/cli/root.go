// Package cli wires the bookd commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	trace      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bookd",
	Short: "bookd - XRPL order book replica and account watcher",
	Long: `bookd maintains live replicas of XRPL order books over a rippled
websocket connection, including autobridged books synthesized through
native XRP, and watches an account's balances and open orders for
changes worth a notification.`,
	Version:       "0.1.0-dev",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path")
	rootCmd.PersistentFlags().BoolVar(&trace, "trace", false, "enable normally suppressed debug logging")
}
