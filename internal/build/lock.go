// SPDX-License-Identifier: MPL-2.0

package build

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"synpack/internal/issue"
)

// LockFileName is the per-destination build lock. It exists for the duration
// of a build and contains the owning process id.
const LockFileName = ".synpack-build.lock"

// ErrLocked is wrapped when another install holds the build lock.
var ErrLocked = errors.New("destination is locked by another install")

// acquireLock takes the build lock in destDir with O_CREATE|O_EXCL and
// returns the release function. Two racing installs against the same
// destination cannot both pass this point.
func acquireLock(destDir string) (func(), error) {
	lockPath := filepath.Join(destDir, LockFileName)

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, issue.NewErrorContext().
				WithOperation("acquire build lock").
				WithResource(lockPath).
				WithSuggestion("Another synpack install may be running against this destination").
				WithSuggestion("If no other install is running, remove the stale lock file and retry").
				Wrap(fmt.Errorf("%w", ErrLocked)).
				BuildError()
		}
		return nil, issue.WrapWithContext(err, "acquire build lock", lockPath)
	}

	fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Close() // contents are advisory

	release := func() {
		_ = os.Remove(lockPath) // best-effort; a leftover lock is reported on the next run
	}
	return release, nil
}
