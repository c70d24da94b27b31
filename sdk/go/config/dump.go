// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
)

// DumpAndExit writes the effective configuration to stdout as YAML
// and terminates the program with status 0. It only returns if the
// dump itself fails, so the caller can treat it like any other fatal
// startup step:
//
//	log.Fatal(DumpAndExit(cfg))
func DumpAndExit(cfg interface{}) error {
	buf, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshalling config dump: %v", err)
	}
	if _, err := os.Stdout.Write(buf); err != nil {
		return err
	}
	os.Exit(0)
	return nil
}
