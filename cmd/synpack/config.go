// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"synpack/internal/config"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and manage synpack configuration",
	Long: `Inspect the resolved configuration or write a default config file.

Settings resolve in order: command flags, environment variables
(SYNPACK_* with legacy SYNAPSE_* aliases), the config file, then
built-in defaults.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	Example: `  synpack config show
  synpack config show --config ./synpack.toml`,
	RunE: runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:     "init",
	Short:   "Write a default config file",
	Example: `  synpack config init`,
	RunE:    runConfigInit,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	settings, cfgSource, err := loadSettings()
	if err != nil {
		return displayable(err)
	}

	fmt.Println(TitleStyle.Render("Resolved configuration"))
	fmt.Println()
	if cfgSource != "" {
		fmt.Println("Config file: " + PathStyle.Render(cfgSource))
	} else {
		fmt.Println("Config file: " + SubtitleStyle.Render("(none)"))
	}
	fmt.Println()
	fmt.Println("synapse_url = " + settings.SynapseURL)
	fmt.Println("server_name = " + settings.ServerName)
	fmt.Println("dest_dir    = " + settings.DestDir)
	if settings.BuildDirProvided {
		fmt.Println("build_dir   = " + settings.BuildDir)
	} else {
		fmt.Println("build_dir   = " + SubtitleStyle.Render("(temporary, removed after a successful build)"))
	}
	fmt.Printf("ci          = %t\n", settings.CI)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	dir, err := config.ConfigDir()
	if err != nil {
		return displayable(err)
	}
	path, created, err := config.WriteDefault(dir)
	if err != nil {
		return displayable(err)
	}
	if !created {
		fmt.Println(SubtitleStyle.Render("•") + " " + PathStyle.Render(path) + " already exists, left unchanged")
		return nil
	}
	fmt.Println(SuccessStyle.Render("✓") + " Wrote " + PathStyle.Render(path))
	return nil
}
