// SPDX-License-Identifier: MPL-2.0

package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"synpack/internal/config"
	"synpack/internal/issue"
	"synpack/internal/python"

	"github.com/charmbracelet/log"
)

const (
	// ExecutableName is the name of the built artifact in the destination.
	ExecutableName = "synapse"

	// packagingTool is installed into the virtualenv next to synapse.
	packagingTool = "pyinstaller"

	// bundledDataDir is the internal path the package data is bundled under.
	bundledDataDir = "synapse"

	// entryScript is the packaged entry point, relative to the package tree.
	entryScript = "app/homeserver.py"

	// hiddenImport is the one import PyInstaller cannot discover statically.
	hiddenImport = "sqlite3"
)

// ErrPackageNotFound is wrapped when the installed synapse package tree
// cannot be located inside the virtualenv.
var ErrPackageNotFound = errors.New("synapse package not found in virtualenv")

type (
	// Builder runs the packaging pipeline against a destination directory.
	Builder struct {
		settings    *config.Settings
		logger      *log.Logger
		interp      *python.Interpreter
		execCommand python.ExecCommandFunc

		// force bypasses the executable-existence cache guard.
		force bool
	}

	// Option configures a Builder during construction.
	Option func(*Builder)
)

// WithExecCommand overrides the exec.Cmd factory for the venv tools
// (pip, pyinstaller). Used by tests to stub tool invocations.
func WithExecCommand(f python.ExecCommandFunc) Option {
	return func(b *Builder) {
		b.execCommand = f
	}
}

// WithForce bypasses the cache guard and rebuilds even when the destination
// executable already exists.
func WithForce(force bool) Option {
	return func(b *Builder) {
		b.force = force
	}
}

// New creates a Builder for the given settings and interpreter.
func New(settings *config.Settings, interp *python.Interpreter, logger *log.Logger, opts ...Option) *Builder {
	b := &Builder{
		settings:    settings,
		logger:      logger,
		interp:      interp,
		execCommand: exec.CommandContext,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ExecutablePath returns the destination path of the built executable.
func (b *Builder) ExecutablePath() string {
	return filepath.Join(b.settings.DestDir, ExecutableName)
}

// Cached reports whether the destination executable already exists.
func (b *Builder) Cached() bool {
	info, err := os.Stat(b.ExecutablePath())
	return err == nil && !info.IsDir()
}

// Run executes the build pipeline. It is a no-op when the destination
// executable exists and force is not set. On success the destination holds
// the executable; on any failure no partial executable is left behind, so
// the next run retries the full build.
func (b *Builder) Run(ctx context.Context) error {
	if b.Cached() && !b.force {
		b.logger.Info("executable already built, skipping", "path", b.ExecutablePath())
		return nil
	}

	if err := os.MkdirAll(b.settings.DestDir, 0o755); err != nil {
		return issue.WrapWithContext(err, "create destination directory", b.settings.DestDir)
	}

	unlock, err := acquireLock(b.settings.DestDir)
	if err != nil {
		return err
	}
	defer unlock()

	// Re-check under the lock: a concurrent run may have finished the build
	// between the first guard and lock acquisition.
	if b.Cached() && !b.force {
		b.logger.Info("executable built by a concurrent run, skipping", "path", b.ExecutablePath())
		return nil
	}

	buildDir, autoCreated, err := b.resolveBuildDir()
	if err != nil {
		return err
	}

	if err := b.buildInto(ctx, buildDir); err != nil {
		return err
	}

	// A caller-supplied build directory is never deleted; an auto-created
	// one is removed only on the success path so a failed build can be
	// inspected.
	if autoCreated {
		if err := os.RemoveAll(buildDir); err != nil {
			b.logger.Warn("could not remove build directory", "path", buildDir, "error", err)
		}
	}

	b.logger.Info("synapse executable installed", "path", b.ExecutablePath())
	return nil
}

// buildInto runs the venv, install, locate, and package steps inside buildDir
// and installs the artifact into the destination.
func (b *Builder) buildInto(ctx context.Context, buildDir string) error {
	venvDir := filepath.Join(buildDir, "venv")

	b.logger.Debug("creating virtualenv", "path", venvDir)
	if err := b.interp.CreateVenv(ctx, venvDir); err != nil {
		return err
	}

	b.logger.Info("installing synapse and pyinstaller", "url", b.settings.SynapseURL)
	if err := b.runTool(ctx, venvBin(venvDir, "pip"), "install", b.settings.SynapseURL, packagingTool); err != nil {
		return issue.NewErrorContext().
			WithOperation("install synapse into virtualenv").
			WithResource(b.settings.SynapseURL).
			WithSuggestion("Check network access to the package index").
			WithSuggestion("Verify SYNPACK_SYNAPSE_URL points at an installable requirement").
			Wrap(err).
			BuildError()
	}

	pkgDir, err := locatePackage(filepath.Join(venvDir, "lib"), bundledDataDir)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("locate installed synapse package").
			WithResource(venvDir).
			WithSuggestion("The install step may have failed silently; rerun with --verbose").
			Wrap(err).
			BuildError()
	}
	b.logger.Debug("located synapse package", "path", pkgDir)

	distDir := filepath.Join(buildDir, "dist")
	args := []string{
		"--clean", "--onefile", "--noconfirm",
		"--name", ExecutableName,
		"--distpath", distDir,
		"--specpath", buildDir,
		"--add-data", pkgDir + string(os.PathListSeparator) + bundledDataDir,
		"--hidden-import", hiddenImport,
		filepath.Join(pkgDir, filepath.FromSlash(entryScript)),
	}
	b.logger.Info("packaging single-file executable", "tool", packagingTool)
	if err := b.runTool(ctx, venvBin(venvDir, packagingTool), args...); err != nil {
		return issue.NewErrorContext().
			WithOperation("package synapse executable").
			WithResource(packagingTool).
			WithSuggestion("Rerun with --verbose to see the full packaging output").
			Wrap(err).
			BuildError()
	}

	built := filepath.Join(distDir, exeName(ExecutableName))
	if err := installArtifact(built, b.ExecutablePath()); err != nil {
		return issue.WrapWithContext(err, "install built executable", b.ExecutablePath())
	}

	return nil
}

// resolveBuildDir returns the build workspace and whether it was auto-created
// (and therefore owned, and later removed, by the builder).
func (b *Builder) resolveBuildDir() (string, bool, error) {
	if b.settings.BuildDirProvided {
		if err := os.MkdirAll(b.settings.BuildDir, 0o755); err != nil {
			return "", false, issue.WrapWithContext(err, "create build directory", b.settings.BuildDir)
		}
		return b.settings.BuildDir, false, nil
	}

	dir, err := os.MkdirTemp("", config.AppName+"-build-*")
	if err != nil {
		return "", false, issue.WrapWithOperation(err, "create transient build directory")
	}
	return dir, true, nil
}

// runTool runs an external tool to completion, logging its output at debug
// level. On failure the error carries the tail of the combined output.
func (b *Builder) runTool(ctx context.Context, name string, args ...string) error {
	b.logger.Debug("running", "tool", name, "args", strings.Join(args, " "))

	var output bytes.Buffer
	cmd := b.execCommand(ctx, name, args...)
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if out := strings.TrimSpace(output.String()); out != "" {
		b.logger.Debug("tool output", "tool", filepath.Base(name), "output", out)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w (output: %s)", name, strings.Join(args, " "), err, tailLines(output.String(), 10))
	}
	return nil
}

// locatePackage walks libDir and returns the first directory whose base name
// equals pkgName. The venv layout nests the package under a
// pythonX.Y/site-packages level that varies by interpreter, so a walk with
// first-match-wins semantics stands in for a fixed path.
func locatePackage(libDir, pkgName string) (string, error) {
	var found string

	err := filepath.WalkDir(libDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // Skip unreadable entries and keep walking
		}
		if d.IsDir() && d.Name() == pkgName {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("%w under %s", ErrPackageNotFound, libDir)
	}
	return found, nil
}

// installArtifact copies src into place at dst via a temp file in the same
// directory and an atomic rename, so readers never observe a partial
// executable.
func installArtifact(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening built artifact: %w", err)
	}
	defer func() { _ = in.Close() }() // read-only handle

	tmp, err := os.CreateTemp(filepath.Dir(dst), ExecutableName+"-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	renamed := false
	defer func() {
		if !renamed {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.ReadFrom(in); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("copying artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("flushing artifact: %w", err)
	}

	if err := os.Chmod(tmp.Name(), 0o755); err != nil {
		return fmt.Errorf("setting artifact permissions: %w", err)
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("installing artifact: %w", err)
	}
	renamed = true

	return nil
}

// venvBin returns the path of a tool inside the virtualenv's bin directory.
func venvBin(venvDir, tool string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(venvDir, "Scripts", tool+".exe")
	}
	return filepath.Join(venvDir, "bin", tool)
}

// exeName appends the platform executable suffix.
func exeName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

// tailLines returns the last n lines of s, trimmed.
func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
