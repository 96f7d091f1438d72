// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"synpack/internal/build"
	"synpack/internal/python"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the environment can build synapse",
	Long: `Check that the prerequisites for building the synapse executable are
available: a CPython interpreter of the required version on PATH and a
resolvable destination directory.

Nothing is built or written; the command only reports what it finds.`,
	Example: `  synpack check
  synpack check --verbose`,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	settings, cfgSource, err := loadSettings()
	if err != nil {
		return displayable(err)
	}

	fmt.Println(TitleStyle.Render("Environment check"))
	fmt.Println()

	failed := false

	interp, err := python.Find()
	if err != nil {
		fmt.Println(ErrorStyle.Render("✗") + " Interpreter: not found on PATH (need " + python.DefaultBinary + ")")
		failed = true
	} else {
		version, verr := interp.Version(cmd.Context())
		switch {
		case verr != nil:
			fmt.Println(ErrorStyle.Render("✗") + " Interpreter: " + PathStyle.Render(interp.Path()) + " (version probe failed)")
			failed = true
		case version != python.RequiredVersion:
			fmt.Printf("%s Interpreter: %s reports %s, need %s\n",
				ErrorStyle.Render("✗"), PathStyle.Render(interp.Path()), version, python.RequiredVersion)
			failed = true
		default:
			fmt.Println(SuccessStyle.Render("✓") + " Interpreter: " + PathStyle.Render(interp.Path()) + " (" + version + ")")
		}
	}

	fmt.Println(SuccessStyle.Render("✓") + " Destination: " + PathStyle.Render(settings.DestDir))
	fmt.Println(cacheStateLine(filepath.Join(settings.DestDir, build.ExecutableName)))
	if cfgSource != "" {
		fmt.Println(SuccessStyle.Render("✓") + " Config file: " + PathStyle.Render(cfgSource))
	} else {
		fmt.Println(SubtitleStyle.Render("•") + " Config file: none (using defaults and environment)")
	}
	if settings.CI {
		fmt.Println(SubtitleStyle.Render("•") + " CI environment detected; launcher will skip log handling")
	}

	fmt.Println()
	if failed {
		return &ExitError{Code: 1, Err: errors.New("environment check failed")}
	}
	fmt.Println(SuccessStyle.Render("Environment is ready."))
	return nil
}

// cacheStateLine describes whether the destination already holds a built
// executable, which decides whether install will build or skip.
func cacheStateLine(exePath string) string {
	if info, err := os.Stat(exePath); err == nil && !info.IsDir() {
		return SuccessStyle.Render("✓") + " Cached executable: " + PathStyle.Render(exePath) + " (install will skip the build)"
	}
	return SubtitleStyle.Render("•") + " Cached executable: none (install will run a full build)"
}
