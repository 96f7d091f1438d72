// SPDX-License-Identifier: MPL-2.0

package main

import (
	cmd "synpack/cmd/synpack"
)

func main() {
	cmd.Execute()
}
