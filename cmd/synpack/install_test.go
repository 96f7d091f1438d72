// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"synpack/internal/build"
	"synpack/internal/config"
	"synpack/internal/homeserver"
	"synpack/internal/launcher"
	"synpack/internal/testutil"

	"github.com/spf13/pflag"
)

// parseInstallFlags parses args against the install command's flag set and
// restores the flags afterwards, since installCmd is package-level state.
func parseInstallFlags(t *testing.T, args []string) {
	t.Helper()

	if err := installCmd.Flags().Parse(args); err != nil {
		t.Fatalf("parsing flags %v: %v", args, err)
	}
	t.Cleanup(func() {
		installCmd.Flags().VisitAll(func(f *pflag.Flag) {
			if f.Changed {
				if err := f.Value.Set(f.DefValue); err != nil {
					t.Fatalf("resetting flag %s: %v", f.Name, err)
				}
				f.Changed = false
			}
		})
	})
}

func TestApplyInstallFlags(t *testing.T) {
	t.Run("unset flags leave settings alone", func(t *testing.T) {
		parseInstallFlags(t, nil)
		settings := &config.Settings{
			DestDir:    "/from/env",
			ServerName: "env.example",
			SynapseURL: "env-url",
		}

		applyInstallFlags(installCmd, settings)

		if settings.DestDir != "/from/env" {
			t.Errorf("DestDir = %q, want env value preserved", settings.DestDir)
		}
		if settings.ServerName != "env.example" {
			t.Errorf("ServerName = %q, want env value preserved", settings.ServerName)
		}
		if settings.BuildDirProvided {
			t.Error("BuildDirProvided = true, want false when --build-dir unset")
		}
	})

	t.Run("explicit flags win over loaded settings", func(t *testing.T) {
		parseInstallFlags(t, []string{
			"--dest", "/from/flag",
			"--server-name", "flag.example",
			"--build-dir", "/tmp/keep-me",
		})
		settings := &config.Settings{
			DestDir:    "/from/env",
			ServerName: "env.example",
		}

		applyInstallFlags(installCmd, settings)

		if settings.DestDir != "/from/flag" {
			t.Errorf("DestDir = %q, want flag value", settings.DestDir)
		}
		if settings.ServerName != "flag.example" {
			t.Errorf("ServerName = %q, want flag value", settings.ServerName)
		}
		if settings.BuildDir != "/tmp/keep-me" || !settings.BuildDirProvided {
			t.Errorf("BuildDir = %q provided=%t, want flag value marked as caller-supplied",
				settings.BuildDir, settings.BuildDirProvided)
		}
	})
}

// wrongVersionPython reports a newer interpreter than the build supports.
const wrongVersionPython = `#!/bin/sh
if [ "$1" = "-c" ]; then
	echo "3.11"
	exit 0
fi
echo "unexpected invocation: $*" >&2
exit 1
`

// fakeToolchainPython stands in for the whole Python toolchain. The version
// probe reports the supported line; venv creation drops stub pip and
// pyinstaller scripts into the virtualenv, pip lays out the installed
// package tree, and pyinstaller emits a runnable "synapse" that writes the
// signing key when invoked in key-generation mode.
const fakeToolchainPython = `#!/bin/sh
if [ "$1" = "-c" ]; then
	echo "3.7"
	exit 0
fi
if [ "$1" = "-m" ] && [ "$2" = "venv" ]; then
	venv="$3"
	mkdir -p "$venv/bin"
	cat > "$venv/bin/pip" <<'PIP'
#!/bin/sh
venv=$(CDPATH='' cd -- "$(dirname -- "$0")/.." && pwd)
pkg="$venv/lib/python3.7/site-packages/synapse"
mkdir -p "$pkg/app"
echo "# entry" > "$pkg/app/homeserver.py"
PIP
	chmod +x "$venv/bin/pip"
	cat > "$venv/bin/pyinstaller" <<'PYI'
#!/bin/sh
dist=""
prev=""
for a in "$@"; do
	if [ "$prev" = "--distpath" ]; then
		dist="$a"
	fi
	prev="$a"
done
if [ -z "$dist" ]; then
	echo "missing --distpath" >&2
	exit 1
fi
mkdir -p "$dist"
cat > "$dist/synapse" <<'SYN'
#!/bin/sh
for a in "$@"; do
	if [ "$a" = "--generate-keys" ]; then
		printf 'ed25519 a_test 0123456789abcdef\n' > synapse.signing.key
	fi
done
SYN
chmod +x "$dist/synapse"
PYI
	chmod +x "$venv/bin/pyinstaller"
	exit 0
fi
exit 0
`

// isolateInstallEnv scrubs every environment input the install pipeline
// reads so a test controls them all explicitly.
func isolateInstallEnv(t *testing.T) {
	t.Helper()
	t.Cleanup(testutil.MustUnsetenv(t, "CI"))
	t.Cleanup(testutil.SetHomeDir(t, t.TempDir()))
	t.Cleanup(testutil.MustSetenv(t, "XDG_CONFIG_HOME", t.TempDir()))
	for _, key := range []string{
		"SYNPACK_SYNAPSE_URL", "SYNAPSE_URL",
		"SYNPACK_SERVER_NAME", "SYNAPSE_SERVER_NAME",
		"SYNPACK_DEST_DIR", "SYNAPSE_DEST_DIR",
		"SYNPACK_BUILD_DIR", "SYNAPSE_BUILD_DIR",
	} {
		t.Cleanup(testutil.MustUnsetenv(t, key))
	}
}

func TestRunInstallVersionGateBlocksSideEffects(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub toolchain needs /bin/sh")
	}
	isolateInstallEnv(t)

	binDir := t.TempDir()
	testutil.StubExecutable(t, binDir, "python3", wrongVersionPython)
	t.Cleanup(testutil.PrependPath(t, binDir))

	dest := filepath.Join(t.TempDir(), "dest")
	t.Cleanup(testutil.MustSetenv(t, "SYNPACK_DEST_DIR", dest))

	installCmd.SetContext(context.Background())
	err := runInstall(installCmd, nil)
	if err == nil {
		t.Fatal("runInstall() should fail on a version mismatch")
	}
	if !strings.Contains(err.Error(), "found 3.11") || !strings.Contains(err.Error(), "need 3.7") {
		t.Errorf("error should name found and required versions, got: %v", err)
	}

	// The gate must fire before any filesystem side effect: the destination
	// (and with it the build lock and artifacts) must not exist.
	if _, statErr := os.Stat(dest); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("version mismatch must not create the destination, stat: %v", statErr)
	}
}

func TestRunInstallFullPipeline(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub toolchain needs /bin/sh")
	}
	isolateInstallEnv(t)

	binDir := t.TempDir()
	testutil.StubExecutable(t, binDir, "python3", fakeToolchainPython)
	t.Cleanup(testutil.PrependPath(t, binDir))

	dest := filepath.Join(t.TempDir(), "dest")
	t.Cleanup(testutil.MustSetenv(t, "SYNPACK_DEST_DIR", dest))
	t.Cleanup(testutil.MustSetenv(t, "SYNPACK_SERVER_NAME", "matrix.pipeline.test"))

	installCmd.SetContext(context.Background())
	if err := runInstall(installCmd, nil); err != nil {
		t.Fatalf("runInstall() error: %v", err)
	}

	exe := filepath.Join(dest, build.ExecutableName)
	configPath := filepath.Join(dest, homeserver.ConfigFileName)
	script := filepath.Join(dest, launcher.ScriptName)
	key := filepath.Join(dest, "synapse.signing.key")

	for _, artifact := range []string{exe, configPath, script, key} {
		info, err := os.Stat(artifact)
		if err != nil {
			t.Fatalf("missing artifact after install: %v", err)
		}
		if info.Size() == 0 {
			t.Errorf("artifact %s is empty", artifact)
		}
	}
	for _, executable := range []string{exe, script} {
		info, err := os.Stat(executable)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm()&0o111 == 0 {
			t.Errorf("%s mode = %v, want executable bits", executable, info.Mode())
		}
	}

	if cfg := string(testutil.MustReadFile(t, configPath)); !strings.Contains(cfg, "matrix.pipeline.test") {
		t.Errorf("config does not carry the resolved server name: %s", cfg)
	}

	// Second run: the existing executable short-circuits the build. Replace
	// it with a sentinel that still handles key generation; a rebuild would
	// overwrite it.
	sentinel := "#!/bin/sh\nprintf 'ed25519 b_test fedcba9876543210\\n' > synapse.signing.key\n"
	testutil.MustWriteFile(t, exe, []byte(sentinel), 0o755)

	if err := runInstall(installCmd, nil); err != nil {
		t.Fatalf("second runInstall() error: %v", err)
	}
	if got := string(testutil.MustReadFile(t, exe)); got != sentinel {
		t.Error("second install must skip the build and leave the cached executable untouched")
	}
}
