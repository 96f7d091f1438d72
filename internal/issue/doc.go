// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable error handling with user-friendly messages.
//
// Installer failures are almost always environment problems the user can fix
// (wrong interpreter version, missing tool, unwritable directory). The error
// types here carry the failed operation, the resource involved, and concrete
// remediation steps so the CLI can print something better than a bare cause.
package issue
