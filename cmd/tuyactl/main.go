// Tuyactl controls Tuya smart devices over the local network.
//
// It sends control ("set") and query ("get") commands directly to a device
// on TCP port 6668 using the device's local key, without going through the
// Tuya cloud. Devices can be addressed by IP or by a name stored in the
// configuration registry.
//
// Usage:
//
//	tuyactl [command] [flags]
//
// See 'tuyactl --help' for available commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/muurk/tuyactl/internal/logging"
	"github.com/muurk/tuyactl/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "tuyactl",
	Short: "Tuya Local Network Control Utility",
	Long: `A command line client for Tuya smart devices on the local network.

Sends control and query commands straight to a device on TCP port 6668,
encrypted with the device's local key. Protocol versions 3.1 and 3.3 are
supported.

Devices can be addressed by IP address or by a name registered with
'tuyactl devices add'.`,
	Version: version.Version,
	Example: `  # Switch data point 1 on
  tuyactl set --device 192.168.1.40 --key 0123456789abcdef --dev-id bf01234567 --dp 1=true

  # Query current state of a registered device
  tuyactl get --device lamp

  # Raw JSON payload, JSON output
  tuyactl get --device lamp '{"gwId":"bf01234567","devId":"bf01234567"}' --format json`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Empty level falls back to TUYACTL_LOG_LEVEL, then silence
		return logging.Initialize(logLevel)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides "+logging.LogLevelEnvVar)

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tuyactl %s\n", version.Full())
	},
}
