// SPDX-License-Identifier: MPL-2.0

// Package homeserver materializes the server configuration and signing keys
// for the built synapse executable. The configuration starts from an
// embedded fixture template; key material is produced by the executable's
// own key-generation mode, not by this package.
package homeserver

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"synpack/internal/build"
	"synpack/internal/config"
	"synpack/internal/issue"
	"synpack/internal/python"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the active configuration file in the destination.
const ConfigFileName = "synapse_config.yaml"

//go:embed config_template.yaml
var configTemplate []byte

var (
	// ErrNoSigningKeyPath is returned when the configuration does not name a
	// signing key file.
	ErrNoSigningKeyPath = errors.New("configuration has no signing_key_path")

	// ErrKeyMissing is wrapped when key generation reported success but the
	// signing key is absent or empty.
	ErrKeyMissing = errors.New("signing key missing after generation")
)

type (
	// Configurator writes the homeserver configuration and drives the built
	// executable's key-generation mode.
	Configurator struct {
		settings    *config.Settings
		logger      *log.Logger
		execCommand python.ExecCommandFunc
	}

	// Option configures a Configurator during construction.
	Option func(*Configurator)
)

// WithExecCommand overrides the exec.Cmd factory. Used by tests to stub the
// built executable.
func WithExecCommand(f python.ExecCommandFunc) Option {
	return func(c *Configurator) {
		c.execCommand = f
	}
}

// New creates a Configurator for the given settings.
func New(settings *config.Settings, logger *log.Logger, opts ...Option) *Configurator {
	c := &Configurator{
		settings:    settings,
		logger:      logger,
		execCommand: exec.CommandContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ConfigPath returns the destination path of the active configuration.
func (c *Configurator) ConfigPath() string {
	return filepath.Join(c.settings.DestDir, ConfigFileName)
}

// WriteConfig renders the configuration template with the resolved server
// name and writes it to the destination. The template's layout and comments
// are preserved; only the server_name scalar is rewritten.
func (c *Configurator) WriteConfig() error {
	rendered, err := renderConfig(configTemplate, c.settings.ServerName)
	if err != nil {
		return issue.WrapWithContext(err, "render homeserver config", c.ConfigPath())
	}

	if err := os.MkdirAll(c.settings.DestDir, 0o755); err != nil {
		return issue.WrapWithContext(err, "create destination directory", c.settings.DestDir)
	}
	if err := os.WriteFile(c.ConfigPath(), rendered, 0o644); err != nil {
		return issue.WrapWithContext(err, "write homeserver config", c.ConfigPath())
	}

	c.logger.Debug("homeserver config written", "path", c.ConfigPath(), "server_name", c.settings.ServerName)
	return nil
}

// GenerateKeys invokes the built executable once in key-generation mode.
// The executable owns the key material; this only triggers generation and
// verifies the result afterwards.
func (c *Configurator) GenerateKeys(ctx context.Context) error {
	exe := filepath.Join(c.settings.DestDir, build.ExecutableName)

	var output bytes.Buffer
	cmd := c.execCommand(ctx, exe,
		"--server-name="+c.settings.ServerName,
		"--config-path="+c.ConfigPath(),
		"--generate-keys",
	)
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.Dir = c.settings.DestDir

	c.logger.Info("generating homeserver keys", "server_name", c.settings.ServerName)
	if err := cmd.Run(); err != nil {
		return issue.NewErrorContext().
			WithOperation("generate homeserver keys").
			WithResource(exe).
			WithSuggestion("Rerun with --verbose to see the full key generation output").
			Wrap(fmt.Errorf("%w (output: %s)", err, strings.TrimSpace(output.String()))).
			BuildError()
	}

	return c.VerifyKeys()
}

// VerifyKeys enforces the post-condition of key generation: the signing key
// named by the configuration exists and is non-empty. The executable is
// trusted for the key contents, not for having produced them at all.
func (c *Configurator) VerifyKeys() error {
	keyPath, err := SigningKeyPath(c.ConfigPath())
	if err != nil {
		return issue.WrapWithContext(err, "verify homeserver keys", c.ConfigPath())
	}

	info, err := os.Stat(keyPath)
	if err != nil || info.Size() == 0 {
		cause := err
		if cause == nil {
			cause = fmt.Errorf("%s is empty", keyPath)
		}
		return issue.NewErrorContext().
			WithOperation("verify homeserver keys").
			WithResource(keyPath).
			WithSuggestion("Key generation reported success but produced no signing key; rerun 'synpack install'").
			Wrap(fmt.Errorf("%w: %v", ErrKeyMissing, cause)).
			BuildError()
	}

	c.logger.Debug("signing key verified", "path", keyPath, "bytes", info.Size())
	return nil
}

// SigningKeyPath reads the configuration at configPath and returns the
// absolute path of the signing key it names. A relative signing_key_path is
// resolved against the configuration's own directory, matching how the
// launcher starts the server.
func SigningKeyPath(configPath string) (string, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("reading config: %w", err)
	}

	var cfg struct {
		SigningKeyPath string `yaml:"signing_key_path"`
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("parsing config: %w", err)
	}
	if cfg.SigningKeyPath == "" {
		return "", ErrNoSigningKeyPath
	}

	if filepath.IsAbs(cfg.SigningKeyPath) {
		return cfg.SigningKeyPath, nil
	}
	return filepath.Join(filepath.Dir(configPath), cfg.SigningKeyPath), nil
}

// renderConfig rewrites the server_name scalar in the template, preserving
// the rest of the document byte-for-byte semantics (layout and comments
// survive the yaml.Node round-trip).
func renderConfig(template []byte, serverName string) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(template, &doc); err != nil {
		return nil, fmt.Errorf("parsing template: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, errors.New("template is not a mapping document")
	}

	mapping := doc.Content[0]
	patched := false
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == "server_name" {
			mapping.Content[i+1].SetString(serverName)
			patched = true
			break
		}
	}
	if !patched {
		return nil, errors.New("template has no server_name key")
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("flushing config: %w", err)
	}

	return buf.Bytes(), nil
}
