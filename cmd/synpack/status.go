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

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which synapse artifacts exist",
	Long: `Report the state of the destination directory: whether the executable,
the server configuration, the signing key, and the launcher script are
present.`,
	Example: `  synpack status
  synpack status --verbose`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	settings, _, err := loadSettings()
	if err != nil {
		return displayable(err)
	}

	fmt.Println(TitleStyle.Render("synpack status"))
	fmt.Println()
	fmt.Println("Destination: " + PathStyle.Render(settings.DestDir))
	fmt.Println()

	reportArtifact("Executable", filepath.Join(settings.DestDir, build.ExecutableName))
	configPath := filepath.Join(settings.DestDir, homeserver.ConfigFileName)
	reportArtifact("Configuration", configPath)

	if keyPath, kerr := homeserver.SigningKeyPath(configPath); kerr == nil {
		reportArtifact("Signing key", keyPath)
	} else {
		fmt.Println(SubtitleStyle.Render("•") + " Signing key: unknown (no readable configuration)")
	}

	reportArtifact("Launcher", filepath.Join(settings.DestDir, launcher.ScriptName))

	// The log only appears after the launcher's first run, so absence is not
	// a defect.
	logPath := filepath.Join(settings.DestDir, launcher.LogFileName)
	if info, err := os.Stat(logPath); err == nil {
		fmt.Printf("%s Server log: %s (%d bytes)\n", SuccessStyle.Render("✓"), PathStyle.Render(logPath), info.Size())
	} else {
		fmt.Println(SubtitleStyle.Render("•") + " Server log: none (server not started yet)")
	}
	return nil
}

// reportArtifact prints one line for a file that should exist after an
// install.
func reportArtifact(label, path string) {
	info, err := os.Stat(path)
	switch {
	case err != nil:
		fmt.Printf("%s %s: missing (%s)\n", ErrorStyle.Render("✗"), label, PathStyle.Render(path))
	case info.Size() == 0:
		fmt.Printf("%s %s: empty (%s)\n", WarningStyle.Render("!"), label, PathStyle.Render(path))
	default:
		fmt.Printf("%s %s: %s\n", SuccessStyle.Render("✓"), label, PathStyle.Render(path))
	}
}
