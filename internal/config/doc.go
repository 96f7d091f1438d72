// SPDX-License-Identifier: MPL-2.0

// Package config resolves the synpack settings from flags, environment
// variables, an optional TOML config file, and defaults, in that order of
// precedence. The result is a single explicit Settings struct populated once
// at startup; nothing else in the program reads the environment.
package config
