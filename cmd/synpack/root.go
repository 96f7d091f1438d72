// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"synpack/internal/config"
	"synpack/internal/issue"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"

	// verbose enables debug logging and full error chains
	verbose bool
	// cfgFile allows specifying a custom config file
	cfgFile string

	// logger is the shared structured logger for all commands.
	logger = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: false,
	})

	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:   "synpack",
		Short: "Build a standalone synapse homeserver for integration testing",
		Long: TitleStyle.Render("synpack") + SubtitleStyle.Render(" - standalone synapse homeserver builder") + `

synpack packages the Matrix Synapse homeserver into a single
self-contained executable for integration-test environments. It
verifies the CPython toolchain, builds the executable inside a
throwaway virtualenv, generates the server configuration and signing
keys, and emits a launcher script.

` + SubtitleStyle.Render("Quick Start:") + `
  1. Make sure CPython 3.7 is on your PATH
  2. Run: synpack install
  3. Start the server via the emitted run_synapse.sh

` + SubtitleStyle.Render("Examples:") + `
  synpack check             Verify the environment can build synapse
  synpack install           Build and configure the homeserver
  synpack status            Show which artifacts exist
  synpack clean             Remove built artifacts`,
	}
)

func init() {
	cobra.OnInitialize(initLogging)

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/synpack/config.toml)")

	// Add subcommands
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(configCmd)
}

// initLogging applies the verbose flag to the shared logger.
func initLogging() {
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// loadSettings resolves the Settings for a command invocation, honoring the
// --config flag.
func loadSettings() (*config.Settings, string, error) {
	return config.Load(config.LoadOptions{ConfigFilePath: cfgFile})
}

// displayable converts an ActionableError into a plain error whose message
// carries the suggestions (and, in verbose mode, the error chain), so the
// CLI frontend renders the full guidance.
func displayable(err error) error {
	if err == nil {
		return nil
	}
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return errors.New(ae.Format(verbose))
	}
	return err
}
