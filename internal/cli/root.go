// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pnp-device.
//
// go-pnp-device is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.


package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-pnp-device/internal/config"
	"github.com/jeremyhahn/go-pnp-device/internal/numaker"
)

// ExitCodeReboot is returned by the process when the device asked to be
// restarted. A supervisor is expected to start it again.
const ExitCodeReboot = 3

// Flags holds the persistent command line flags
type Flags struct {
	ConfigFile   string
	OutputFormat string
	Verbose      bool
}

var globalFlags = &Flags{}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pnp-device",
	Short: "NuMaker IoT M487 Dev plug and play device",
	Long: `pnp-device runs the NuMaker IoT M487 Dev plug and play sample and
provides access to its custom HSM capability tables.

The device reports its device information and LED state, sends button
and motion sensor telemetry, and answers the reboot command. Messages
travel over an in-process loopback client or a NATS server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	err := rootCmd.Execute()
	switch {
	case err == nil:
		return 0
	case errors.Is(err, numaker.ErrRebootRequested):
		return ExitCodeReboot
	default:
		handleError(rootCmd.ErrOrStderr(), err)
		return 1
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalFlags.ConfigFile, "config", "",
		"config file (defaults are used when empty)")
	rootCmd.PersistentFlags().StringVarP(&globalFlags.OutputFormat, "output", "o", "text",
		"output format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false,
		"verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(hsmCmd)
}

// loadConfig loads the configuration named by --config. Verbose mode
// forces debug logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(globalFlags.ConfigFile)
	if err != nil {
		return nil, err
	}
	if globalFlags.Verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// handleError prints an error in the selected output format
func handleError(w io.Writer, err error) {
	printer := NewPrinter(globalFlags.OutputFormat, w)
	_ = printer.PrintError(err) // Error printing to stderr is best-effort
}

// printVerbose prints a message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if globalFlags.Verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] "+format+"\n", args...)
	}
}
