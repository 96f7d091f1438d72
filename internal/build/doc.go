// SPDX-License-Identifier: MPL-2.0

// Package build turns the synapse pip package into a single self-contained
// executable. It creates a throwaway virtualenv, installs synapse and
// PyInstaller into it, locates the installed package tree, and packages the
// homeserver entry point with the package data bundled under a fixed
// internal path.
//
// Builds are cached by existence: a destination that already holds the
// executable short-circuits the whole pipeline. A lock file plus an atomic
// rename of the final artifact keep two concurrent runs from interleaving a
// partial executable.
package build
