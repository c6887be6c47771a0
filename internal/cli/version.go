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
	"runtime"

	"github.com/spf13/cobra"
)

// Version information (injected at build time via -ldflags)
var (
	Version   = "dev"     // Set via -ldflags "-X github.com/jeremyhahn/go-pnp-device/internal/cli.Version=x.y.z"
	GitCommit = "unknown" // Set via -ldflags "-X github.com/jeremyhahn/go-pnp-device/internal/cli.GitCommit=abc123"
	BuildDate = "unknown" // Set via -ldflags "-X github.com/jeremyhahn/go-pnp-device/internal/cli.BuildDate=2025-01-15"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version information for the pnp-device binary`,
	RunE: func(cmd *cobra.Command, args []string) error {
		printer := NewPrinter(globalFlags.OutputFormat, cmd.OutOrStdout())
		return printer.PrintFields("pnp-device", []Field{
			{Key: "version", Label: "Version", Value: Version},
			{Key: "commit", Label: "Git commit", Value: GitCommit},
			{Key: "build_date", Label: "Build date", Value: BuildDate},
			{Key: "go_version", Label: "Go version", Value: runtime.Version()},
			{Key: "os", Label: "OS", Value: runtime.GOOS},
			{Key: "arch", Label: "Arch", Value: runtime.GOARCH},
		})
	},
}
