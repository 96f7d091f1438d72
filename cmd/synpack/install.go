// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"

	"synpack/internal/build"
	"synpack/internal/config"
	"synpack/internal/homeserver"
	"synpack/internal/launcher"
	"synpack/internal/python"

	"github.com/spf13/cobra"
)

var (
	installDestDir    string
	installBuildDir   string
	installServerName string
	installSynapseURL string
	installForce      bool
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Build and configure the standalone synapse executable",
	Long: `Build Matrix Synapse into a single self-contained executable and
configure it for local use.

The build happens inside a throwaway virtualenv: synapse is installed
from the configured source URL, packaged into one binary, and moved
into the destination directory together with a generated server
configuration, signing keys, and a launcher script.

An existing executable in the destination is treated as up to date and
the build is skipped; pass --force to rebuild anyway.`,
	Example: `  synpack install
  synpack install --dest /tmp/synapse --server-name matrix.test
  synpack install --force`,
	RunE: runInstall,
}

func init() {
	installCmd.Flags().StringVar(&installDestDir, "dest", "", "destination directory for the built artifacts")
	installCmd.Flags().StringVar(&installBuildDir, "build-dir", "", "reuse this directory for the build instead of a temporary one")
	installCmd.Flags().StringVar(&installServerName, "server-name", "", "homeserver name baked into the configuration")
	installCmd.Flags().StringVar(&installSynapseURL, "synapse-url", "", "pip requirement to install synapse from")
	installCmd.Flags().BoolVar(&installForce, "force", false, "rebuild even if the executable already exists")
}

// applyInstallFlags overlays explicitly-set command flags onto the settings
// loaded from the environment and config file. Flags always win.
func applyInstallFlags(cmd *cobra.Command, settings *config.Settings) {
	if cmd.Flags().Changed("dest") {
		settings.DestDir = installDestDir
	}
	if cmd.Flags().Changed("build-dir") {
		settings.BuildDir = installBuildDir
		settings.BuildDirProvided = true
	}
	if cmd.Flags().Changed("server-name") {
		settings.ServerName = installServerName
	}
	if cmd.Flags().Changed("synapse-url") {
		settings.SynapseURL = installSynapseURL
	}
}

func runInstall(cmd *cobra.Command, args []string) error {
	settings, cfgSource, err := loadSettings()
	if err != nil {
		return displayable(err)
	}
	applyInstallFlags(cmd, settings)
	if cfgSource != "" {
		logger.Debug("Loaded configuration", "file", cfgSource)
	}
	logger.Debug("Resolved settings",
		"dest", settings.DestDir,
		"server_name", settings.ServerName,
		"ci", settings.CI)

	// Gate on the interpreter before touching the filesystem.
	interp, err := python.Find()
	if err != nil {
		return displayable(err)
	}
	if err := interp.VerifyVersion(cmd.Context(), python.RequiredVersion); err != nil {
		return displayable(err)
	}

	builder := build.New(settings, interp, logger, build.WithForce(installForce))
	if builder.Cached() && !installForce {
		fmt.Println(SuccessStyle.Render("✓") + " Executable already built: " + PathStyle.Render(builder.ExecutablePath()))
	} else {
		fmt.Println(TitleStyle.Render("Building synapse executable"))
		if err := builder.Run(cmd.Context()); err != nil {
			return displayable(err)
		}
		fmt.Println(SuccessStyle.Render("✓") + " Built " + PathStyle.Render(builder.ExecutablePath()))
	}

	configurator := homeserver.New(settings, logger)
	if err := configurator.WriteConfig(); err != nil {
		return displayable(err)
	}
	fmt.Println(SuccessStyle.Render("✓") + " Wrote " + PathStyle.Render(configurator.ConfigPath()))

	if err := configurator.GenerateKeys(cmd.Context()); err != nil {
		return displayable(err)
	}
	fmt.Println(SuccessStyle.Render("✓") + " Generated signing keys")

	emitter := launcher.New(settings, build.ExecutableName, homeserver.ConfigFileName, logger)
	if err := emitter.Emit(); err != nil {
		return displayable(err)
	}
	fmt.Println(SuccessStyle.Render("✓") + " Wrote " + PathStyle.Render(emitter.ScriptPath()))

	fmt.Println()
	fmt.Println("Start the homeserver with:")
	fmt.Println("  " + PathStyle.Render(filepath.Join(settings.DestDir, launcher.ScriptName)))
	return nil
}
