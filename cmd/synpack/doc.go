// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for synpack.
//
// This package implements the Cobra command hierarchy for the synpack CLI:
// the root command, the install pipeline, environment preflight, artifact
// status and cleanup, and configuration management.
package cmd
