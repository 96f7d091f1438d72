// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"synpack/internal/issue"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "synpack"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "toml"

	// DefaultSynapseURL is the pip requirement installed when no override is
	// given. The egg fragment names the distribution so pip can resolve the
	// tarball reference.
	DefaultSynapseURL = "https://github.com/matrix-org/synapse/tarball/master#egg=matrix-synapse"

	// DefaultServerName is the homeserver name baked into generated
	// configuration and keys when no override is given.
	DefaultServerName = "matrix.local.synpack"
)

type (
	// Settings is the fully resolved synpack configuration. It is populated
	// once at startup; DestDir is always non-empty after Load.
	Settings struct {
		// SynapseURL is the pip requirement for the synapse package.
		SynapseURL string `mapstructure:"synapse_url" toml:"synapse_url"`

		// ServerName is the homeserver name used for config and key generation.
		ServerName string `mapstructure:"server_name" toml:"server_name"`

		// DestDir holds the built executable and its runtime artifacts.
		DestDir string `mapstructure:"dest_dir" toml:"dest_dir"`

		// BuildDir is the workspace for the virtualenv and packaging run.
		// Empty means a transient directory is created (and removed) per build.
		BuildDir string `mapstructure:"build_dir" toml:"build_dir"`

		// BuildDirProvided records whether BuildDir came from the caller.
		// A caller-supplied build directory is never deleted.
		BuildDirProvided bool `mapstructure:"-" toml:"-"`

		// CI reports whether a CI environment was detected at load time.
		// Under CI the launcher omits file logging and the destination
		// defaults to the cache directory.
		CI bool `mapstructure:"-" toml:"-"`
	}

	// LoadOptions defines explicit configuration loading inputs.
	LoadOptions struct {
		// ConfigFilePath forces loading from a specific config file when set.
		ConfigFilePath string
		// ConfigDirPath overrides the config directory lookup when set.
		ConfigDirPath string
	}
)

// ConfigDir returns the synpack configuration directory using
// platform-specific conventions: Windows uses %APPDATA%, macOS uses
// ~/Library/Application Support, and Linux/others use $XDG_CONFIG_HOME
// (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default: // Linux and others
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// CacheDir returns the synpack cache directory, honoring $XDG_CACHE_HOME
// through os.UserCacheDir.
func CacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get cache directory: %w", err)
	}
	return filepath.Join(base, AppName), nil
}

// DefaultDestDir resolves the destination directory used when no explicit
// override is given: the cache directory under CI (so the built executable
// survives across CI jobs via the cache), else a dot directory in the
// user's home.
func DefaultDestDir(ci bool) (string, error) {
	if ci {
		cache, err := CacheDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(cache, "synapse"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, "."+AppName, "synapse"), nil
}

// Load resolves Settings from the environment, an optional TOML config
// file, and defaults. Returns the settings and the path of the config file
// that was read ("" when running on defaults only).
//
// Flag overrides are applied by the CLI layer after Load, because only the
// command knows which flags were set explicitly.
func Load(opts LoadOptions) (*Settings, string, error) {
	v := viper.New()

	v.SetDefault("synapse_url", DefaultSynapseURL)
	v.SetDefault("server_name", DefaultServerName)
	v.SetDefault("dest_dir", "")
	v.SetDefault("build_dir", "")

	// Environment bindings, first match wins. The SYNAPSE_* names are the
	// ones the historical install script honored and are kept as aliases.
	bindings := map[string][]string{
		"synapse_url": {"SYNPACK_SYNAPSE_URL", "SYNAPSE_URL"},
		"server_name": {"SYNPACK_SERVER_NAME", "SYNAPSE_SERVER_NAME"},
		"dest_dir":    {"SYNPACK_DEST_DIR", "SYNAPSE_DEST_DIR"},
		"build_dir":   {"SYNPACK_BUILD_DIR", "SYNAPSE_BUILD_DIR"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, "", fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	resolvedPath, err := readConfigFile(v, opts)
	if err != nil {
		return nil, "", err
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	s.CI = DetectCI()
	s.BuildDirProvided = s.BuildDir != ""

	if s.DestDir == "" {
		dest, err := DefaultDestDir(s.CI)
		if err != nil {
			return nil, "", err
		}
		s.DestDir = dest
	}

	return &s, resolvedPath, nil
}

// readConfigFile merges the TOML config file into v if one exists. Returns
// the path that was read, or "" when no file was found.
func readConfigFile(v *viper.Viper, opts LoadOptions) (string, error) {
	v.SetConfigType(ConfigFileExt)

	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Run 'synpack config init' to create a default config").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		v.SetConfigFile(opts.ConfigFilePath)
		if err := v.ReadInConfig(); err != nil {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Check that the file contains valid TOML").
				WithSuggestion("See 'synpack config --help' for configuration options").
				Wrap(err).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	cfgDir := opts.ConfigDirPath
	if cfgDir == "" {
		dir, err := ConfigDir()
		if err != nil {
			return "", err
		}
		cfgDir = dir
	}

	tomlPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
	if !fileExists(tomlPath) {
		// No config file is fine; defaults and environment apply.
		return "", nil
	}

	v.SetConfigFile(tomlPath)
	if err := v.ReadInConfig(); err != nil {
		return "", issue.NewErrorContext().
			WithOperation("load configuration").
			WithResource(tomlPath).
			WithSuggestion("Check that the file contains valid TOML").
			WithSuggestion("Remove the file to fall back to defaults").
			Wrap(err).
			BuildError()
	}
	return tomlPath, nil
}

// DetectCI reports whether a CI environment variable is set to a non-empty,
// non-"false" value. Travis, GitHub Actions, and GitLab all export CI=true.
func DetectCI() bool {
	ci := os.Getenv("CI")
	return ci != "" && ci != "false"
}

// WriteDefault creates a default config file in dir (the platform config
// dir when dir is empty) unless one already exists. Returns the path of the
// config file and whether this call created it; an existing file is never
// touched.
func WriteDefault(dir string) (string, bool, error) {
	if dir == "" {
		d, err := ConfigDir()
		if err != nil {
			return "", false, err
		}
		dir = d
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if fileExists(cfgPath) {
		return cfgPath, false, nil
	}

	defaults := Settings{
		SynapseURL: DefaultSynapseURL,
		ServerName: DefaultServerName,
	}
	data, err := toml.Marshal(defaults)
	if err != nil {
		return "", false, fmt.Errorf("failed to encode default config: %w", err)
	}

	header := []byte("# synpack configuration file.\n# Environment variables (SYNPACK_*) and flags take precedence.\n\n")
	if err := os.WriteFile(cfgPath, append(header, data...), 0o644); err != nil {
		return "", false, fmt.Errorf("failed to write config file: %w", err)
	}

	return cfgPath, true, nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
