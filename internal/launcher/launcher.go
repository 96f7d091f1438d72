// SPDX-License-Identifier: MPL-2.0

// Package launcher emits the wrapper script that starts the built synapse
// executable at some later time. The script resolves every path relative to
// its own directory, so the destination can be relocated or invoked from
// any working directory.
package launcher

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"synpack/internal/config"
	"synpack/internal/issue"

	"github.com/charmbracelet/log"
	"mvdan.cc/sh/v3/syntax"
)

const (
	// ScriptName is the launcher file in the destination directory.
	ScriptName = "run_synapse.sh"

	// LogFileName is the server log the launcher clears and re-creates on
	// each start (outside CI).
	LogFileName = "synapse.log"
)

// scriptTemplate is the emitted launcher. The server name is resolved at
// launch time, environment override first, falling back to the value baked
// in at generation time. Under CI the log handling is omitted entirely.
var scriptTemplate = template.Must(template.New(ScriptName).Parse(`#!/bin/sh
# Generated by {{.AppName}}. Do not edit; rerun '{{.AppName}} install' instead.
set -e

DIR=$(CDPATH='' cd -- "$(dirname -- "$0")" && pwd)
SERVER_NAME="${SYNPACK_SERVER_NAME:-${SYNAPSE_SERVER_NAME:-{{.ServerName}}}}"
{{if not .CI}}
rm -f "${DIR}/{{.LogFile}}"
{{end}}
exec "${DIR}/{{.Executable}}" \
	--server-name="${SERVER_NAME}" \
	--config-path="${DIR}/{{.ConfigFile}}"{{if not .CI}} \
	--log-file="${DIR}/{{.LogFile}}"{{end}}
`))

type (
	// Emitter writes the launcher script for a destination directory.
	Emitter struct {
		settings *config.Settings
		logger   *log.Logger

		// executable and configFile are the destination artifact names the
		// script references; fixed in production, overridable in tests.
		executable string
		configFile string
	}

	templateData struct {
		AppName    string
		ServerName string
		Executable string
		ConfigFile string
		LogFile    string
		CI         bool
	}
)

// New creates an Emitter for the given settings. executable and configFile
// are the artifact names inside the destination directory.
func New(settings *config.Settings, executable, configFile string, logger *log.Logger) *Emitter {
	return &Emitter{
		settings:   settings,
		logger:     logger,
		executable: executable,
		configFile: configFile,
	}
}

// ScriptPath returns the destination path of the launcher script.
func (e *Emitter) ScriptPath() string {
	return filepath.Join(e.settings.DestDir, ScriptName)
}

// Emit renders, validates, and writes the launcher script with executable
// permissions. A template regression that produces invalid shell fails here
// rather than at the script's first use.
func (e *Emitter) Emit() error {
	var buf bytes.Buffer
	data := templateData{
		AppName:    config.AppName,
		ServerName: e.settings.ServerName,
		Executable: e.executable,
		ConfigFile: e.configFile,
		LogFile:    LogFileName,
		CI:         e.settings.CI,
	}
	if err := scriptTemplate.Execute(&buf, data); err != nil {
		return issue.WrapWithOperation(err, "render launcher script")
	}

	if err := validateShell(buf.String()); err != nil {
		return issue.NewErrorContext().
			WithOperation("validate launcher script").
			WithResource(ScriptName).
			Wrap(err).
			BuildError()
	}

	if err := os.MkdirAll(e.settings.DestDir, 0o755); err != nil {
		return issue.WrapWithContext(err, "create destination directory", e.settings.DestDir)
	}
	if err := os.WriteFile(e.ScriptPath(), buf.Bytes(), 0o755); err != nil {
		return issue.WrapWithContext(err, "write launcher script", e.ScriptPath())
	}

	e.logger.Info("launcher script written", "path", e.ScriptPath(), "ci", e.settings.CI)
	return nil
}

// validateShell parses src as POSIX shell and rejects syntax errors.
func validateShell(src string) error {
	parser := syntax.NewParser(syntax.Variant(syntax.LangPOSIX))
	if _, err := parser.Parse(strings.NewReader(src), ScriptName); err != nil {
		return fmt.Errorf("generated script is not valid POSIX shell: %w", err)
	}
	return nil
}
