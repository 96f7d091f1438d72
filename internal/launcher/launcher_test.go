// SPDX-License-Identifier: MPL-2.0

package launcher

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"synpack/internal/config"
	"synpack/internal/testutil"

	"github.com/charmbracelet/log"
)

func quietLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

func newTestEmitter(settings *config.Settings) *Emitter {
	return New(settings, "synapse", "synapse_config.yaml", quietLogger())
}

func TestEmit(t *testing.T) {
	dest := t.TempDir()
	settings := &config.Settings{DestDir: dest, ServerName: "matrix.test"}
	e := newTestEmitter(settings)

	if err := e.Emit(); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}

	info, err := os.Stat(e.ScriptPath())
	if err != nil {
		t.Fatalf("launcher not written: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		t.Errorf("launcher mode = %v, want executable bits", info.Mode())
	}

	script := string(testutil.MustReadFile(t, e.ScriptPath()))
	for _, want := range []string{
		"#!/bin/sh",
		"SYNPACK_SERVER_NAME",
		"matrix.test",
		`--config-path="${DIR}/synapse_config.yaml"`,
		`--log-file="${DIR}/synapse.log"`,
		`rm -f "${DIR}/synapse.log"`,
	} {
		if !strings.Contains(script, want) {
			t.Errorf("launcher missing %q:\n%s", want, script)
		}
	}
}

func TestEmitCIOmitsLogging(t *testing.T) {
	settings := &config.Settings{DestDir: t.TempDir(), ServerName: "matrix.test", CI: true}
	e := newTestEmitter(settings)

	if err := e.Emit(); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}

	script := string(testutil.MustReadFile(t, e.ScriptPath()))
	if strings.Contains(script, "--log-file") {
		t.Errorf("CI launcher must not pass --log-file:\n%s", script)
	}
	if strings.Contains(script, "rm -f") {
		t.Errorf("CI launcher must not clear a log file:\n%s", script)
	}
}

func TestEmitValidShell(t *testing.T) {
	for _, ci := range []bool{false, true} {
		settings := &config.Settings{DestDir: t.TempDir(), ServerName: "matrix.test", CI: ci}
		e := newTestEmitter(settings)
		if err := e.Emit(); err != nil {
			t.Fatalf("Emit() with CI=%v error: %v", ci, err)
		}
		script := string(testutil.MustReadFile(t, e.ScriptPath()))
		if err := validateShell(script); err != nil {
			t.Errorf("emitted script failed validation (CI=%v): %v", ci, err)
		}
	}
}

// TestLauncherResolvesOwnDirectory runs the emitted script with a stub
// synapse binary and asserts the config path is anchored at the launcher's
// directory regardless of the caller's working directory.
func TestLauncherResolvesOwnDirectory(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("launcher execution test requires a POSIX shell")
	}

	dest := t.TempDir()
	settings := &config.Settings{DestDir: dest, ServerName: "matrix.test"}
	e := newTestEmitter(settings)
	if err := e.Emit(); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}

	// Stub executable records its argv and exits.
	argsFile := filepath.Join(dest, "recorded-args")
	stub := "#!/bin/sh\nprintf '%s\\n' \"$@\" > " + argsFile + "\n"
	testutil.MustWriteFile(t, filepath.Join(dest, "synapse"), []byte(stub), 0o755)

	cmd := exec.Command("/bin/sh", e.ScriptPath())
	cmd.Dir = t.TempDir() // some unrelated working directory
	cmd.Env = append(os.Environ(), "SYNPACK_SERVER_NAME=")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("running launcher: %v (output: %s)", err, out)
	}

	recorded := string(testutil.MustReadFile(t, argsFile))
	if !strings.Contains(recorded, "--config-path="+filepath.Join(dest, "synapse_config.yaml")) {
		t.Errorf("config path not anchored at launcher directory:\n%s", recorded)
	}
	if !strings.Contains(recorded, "--server-name=matrix.test") {
		t.Errorf("baked-in server name not used:\n%s", recorded)
	}
}

// TestLauncherEnvOverride asserts the environment takes precedence over the
// baked-in server name.
func TestLauncherEnvOverride(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("launcher execution test requires a POSIX shell")
	}

	dest := t.TempDir()
	settings := &config.Settings{DestDir: dest, ServerName: "matrix.baked"}
	e := newTestEmitter(settings)
	if err := e.Emit(); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}

	argsFile := filepath.Join(dest, "recorded-args")
	stub := "#!/bin/sh\nprintf '%s\\n' \"$@\" > " + argsFile + "\n"
	testutil.MustWriteFile(t, filepath.Join(dest, "synapse"), []byte(stub), 0o755)

	cmd := exec.Command("/bin/sh", e.ScriptPath())
	cmd.Env = append(os.Environ(), "SYNPACK_SERVER_NAME=matrix.override")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("running launcher: %v (output: %s)", err, out)
	}

	recorded := string(testutil.MustReadFile(t, argsFile))
	if !strings.Contains(recorded, "--server-name=matrix.override") {
		t.Errorf("environment override not honored:\n%s", recorded)
	}
}

// TestLauncherClearsStaleLog asserts the non-CI launcher removes a stale log
// before starting the server.
func TestLauncherClearsStaleLog(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("launcher execution test requires a POSIX shell")
	}

	dest := t.TempDir()
	settings := &config.Settings{DestDir: dest, ServerName: "matrix.test"}
	e := newTestEmitter(settings)
	if err := e.Emit(); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}

	testutil.MustWriteFile(t, filepath.Join(dest, "synapse"), []byte("#!/bin/sh\nexit 0\n"), 0o755)
	staleLog := filepath.Join(dest, LogFileName)
	testutil.MustWriteFile(t, staleLog, []byte("old entries"), 0o644)

	cmd := exec.Command("/bin/sh", e.ScriptPath())
	cmd.Env = append(os.Environ(), "SYNPACK_SERVER_NAME=")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("running launcher: %v (output: %s)", err, out)
	}

	if _, err := os.Stat(staleLog); !os.IsNotExist(err) {
		t.Error("stale log file was not removed")
	}
}
