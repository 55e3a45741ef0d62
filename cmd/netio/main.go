// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package main

import "github.com/momentics/hioload-netio/internal/cli"

func main() {
	cli.Execute()
}
