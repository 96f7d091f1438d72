// SPDX-License-Identifier: MPL-2.0

// Package python locates the CPython interpreter and enforces the version
// gate. Synapse's historical packaging path only works against one
// interpreter line, so the gate compares for exact major.minor equality and
// treats any mismatch as a fatal, user-correctable precondition.
package python

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"synpack/internal/issue"
)

const (
	// DefaultBinary is the interpreter looked up on PATH.
	DefaultBinary = "python3"

	// RequiredVersion is the exact major.minor the build requires.
	RequiredVersion = "3.7"

	// versionScript prints the running interpreter's major.minor.
	versionScript = `import sys; print("%d.%d" % sys.version_info[:2])`
)

var (
	// ErrVersionMismatch is the sentinel error wrapped when the interpreter
	// version does not equal RequiredVersion.
	ErrVersionMismatch = errors.New("python version mismatch")

	// ErrInterpreterNotFound is the sentinel error wrapped when no
	// interpreter is available on PATH.
	ErrInterpreterNotFound = errors.New("python interpreter not found")
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// Interpreter is a handle to a resolved CPython binary.
	Interpreter struct {
		binaryPath  string
		execCommand ExecCommandFunc
	}

	// Option configures an Interpreter during construction.
	Option func(*Interpreter)
)

// WithExecCommand overrides the exec.Cmd factory. Used by tests to stub
// interpreter invocations.
func WithExecCommand(f ExecCommandFunc) Option {
	return func(i *Interpreter) {
		i.execCommand = f
	}
}

// WithBinary overrides the interpreter binary name or path.
func WithBinary(path string) Option {
	return func(i *Interpreter) {
		i.binaryPath = path
	}
}

// Find resolves the interpreter on PATH and returns a handle to it.
func Find(opts ...Option) (*Interpreter, error) {
	i := &Interpreter{
		binaryPath:  DefaultBinary,
		execCommand: exec.CommandContext,
	}
	for _, opt := range opts {
		opt(i)
	}

	resolved, err := exec.LookPath(i.binaryPath)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("locate python interpreter").
			WithResource(i.binaryPath).
			WithSuggestion("Install CPython " + RequiredVersion + " and ensure it is on PATH").
			Wrap(fmt.Errorf("%w: %v", ErrInterpreterNotFound, err)).
			BuildError()
	}
	i.binaryPath = resolved

	return i, nil
}

// Path returns the resolved interpreter path.
func (i *Interpreter) Path() string {
	return i.binaryPath
}

// Version reports the interpreter's major.minor version string (e.g. "3.7").
func (i *Interpreter) Version(ctx context.Context) (string, error) {
	var stdout, stderr bytes.Buffer

	cmd := i.execCommand(ctx, i.binaryPath, "-c", versionScript)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("querying %s version: %w (stderr: %s)", i.binaryPath, err, strings.TrimSpace(stderr.String()))
	}

	version := strings.TrimSpace(stdout.String())
	if version == "" {
		return "", fmt.Errorf("querying %s version: empty output", i.binaryPath)
	}
	return version, nil
}

// VerifyVersion enforces the version gate: the reported version must equal
// required exactly. Returns an actionable error wrapping ErrVersionMismatch
// otherwise. This runs before any other side effect of an install.
func (i *Interpreter) VerifyVersion(ctx context.Context, required string) error {
	version, err := i.Version(ctx)
	if err != nil {
		return issue.WrapWithContext(err, "verify python version", i.binaryPath)
	}

	if version != required {
		return issue.NewErrorContext().
			WithOperation("verify python version").
			WithResource(i.binaryPath).
			WithSuggestion("Install CPython " + required + " (e.g. via pyenv) and put it first on PATH").
			WithSuggestion("The synapse packaging path supports exactly this interpreter line").
			Wrap(fmt.Errorf("%w: found %s, need %s", ErrVersionMismatch, version, required)).
			BuildError()
	}

	return nil
}

// CreateVenv creates an isolated virtualenv at dir using the stdlib venv
// module. The directory is created by the interpreter itself.
func (i *Interpreter) CreateVenv(ctx context.Context, dir string) error {
	var stderr bytes.Buffer

	cmd := i.execCommand(ctx, i.binaryPath, "-m", "venv", dir)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return issue.NewErrorContext().
			WithOperation("create virtualenv").
			WithResource(dir).
			WithSuggestion("Check that the python3-venv module is installed").
			Wrap(fmt.Errorf("%w (stderr: %s)", err, strings.TrimSpace(stderr.String()))).
			BuildError()
	}

	return nil
}
