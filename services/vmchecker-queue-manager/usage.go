// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import (
	"flag"
	"fmt"
	"os"
)

func usage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `
vmchecker-queue-manager grades student submissions: it watches a
course's spool directory for bundle archives, unpacks each one,
reserves a slot on the target test machine, and runs
vmchecker-vm-executor on it under a wall-clock deadline.

Options:
`)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `

Course configuration is read from <config-dir>/<course>.yml.
`)
}
