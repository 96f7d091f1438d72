// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"synpack/internal/build"
	"synpack/internal/homeserver"
	"synpack/internal/launcher"

	"github.com/spf13/cobra"
)

var cleanAll bool

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove built synapse artifacts",
	Long: `Remove the artifacts a previous install placed in the destination
directory: the executable, the launcher script, and the log file. The
server configuration and signing key survive unless --all is given.`,
	Example: `  synpack clean
  synpack clean --all`,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanAll, "all", false, "also remove the configuration and signing key")
}

func runClean(cmd *cobra.Command, args []string) error {
	settings, _, err := loadSettings()
	if err != nil {
		return displayable(err)
	}

	targets := []string{
		filepath.Join(settings.DestDir, build.ExecutableName),
		filepath.Join(settings.DestDir, launcher.ScriptName),
		filepath.Join(settings.DestDir, launcher.LogFileName),
	}

	configPath := filepath.Join(settings.DestDir, homeserver.ConfigFileName)
	if cleanAll {
		if keyPath, kerr := homeserver.SigningKeyPath(configPath); kerr == nil {
			targets = append(targets, keyPath)
		}
		targets = append(targets, configPath)
	}

	removed := 0
	for _, target := range targets {
		if err := os.Remove(target); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return displayable(fmt.Errorf("removing %s: %w", target, err))
		}
		logger.Debug("Removed artifact", "path", target)
		removed++
	}

	if removed == 0 {
		fmt.Println("Nothing to remove in " + PathStyle.Render(settings.DestDir))
		return nil
	}
	fmt.Printf("%s Removed %d artifact(s) from %s\n",
		SuccessStyle.Render("✓"), removed, PathStyle.Render(settings.DestDir))
	return nil
}
