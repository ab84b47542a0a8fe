// Package cli implements the claimd command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/prepspace/claimd/internal/daemon"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "claimd",
	Short: "Damage-claim lifecycle and settlement engine",
	Long: `claimd runs the damage-claim workflow for kitchen and storage
rentals: managers file claims against bookings, chefs accept or dispute
them, admins adjudicate disputes, and approved claims are charged
against the chef's saved payment method. A background sweeper enforces
the response deadline (silence is acceptance).`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml (default ~/.claimd/config.toml)")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the claimd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(os.Stdout, "claimd 0.1.0")
	},
}

// loadConfig loads the effective configuration for a command.
func loadConfig() (daemon.Config, error) {
	return daemon.Load(configPath)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
