// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package vmchecker contains the types shared between the queue
// manager service and its libraries: the course configuration, the
// per-submission configuration file, and small helpers.
package vmchecker

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"git.vmchecker.org/vmchecker.git/sdk/go/config"
)

// DefaultConfigDir is where per-course configuration files live unless
// overridden on the command line.
const DefaultConfigDir = "/etc/vmchecker"

// OverrideKeys enumerates the [Machine] keys a duplicate slot is
// allowed to override in a submission config. Any other key in a
// Duplicates entry is a configuration error.
var OverrideKeys = []string{"Hostname", "MAC", "DiskImage", "KernelImage", "SSHPort"}

// MachineConfig describes one target test environment. A machine with
// a non-empty Duplicates map is a duplicated VM: each entry is one
// interchangeable instance, keyed by worker id suffix, whose items
// override the submission's [Machine] section for the duration of a
// run.
type MachineConfig struct {
	Duplicates map[string]map[string]string
}

// CourseConfig is the queue manager configuration for one course,
// loaded from <config-dir>/<course_id>.yml.
type CourseConfig struct {
	// CourseID is not read from the file; it is filled in from the
	// -c command line option.
	CourseID string `json:"-"`

	// Spool is the directory watched for incoming bundles.
	Spool string
	// UnpackDir is the directory under which per-job unpack
	// directories are created.
	UnpackDir string

	NumWorkers      int
	ExecutorTimeout Duration

	// ExecutorCommand and DownloadCommand are parsed with shell
	// quoting rules; the unpack directory is appended as the last
	// argument.
	ExecutorCommand string
	DownloadCommand string

	// CallbackURL receives PROCESSING/DONE updates. Empty means
	// updates are only logged.
	CallbackURL string

	// ManagementAddr is the listen address for /metrics and
	// /status.json. Empty disables the management server.
	ManagementAddr string

	LogLevel  string
	LogFormat string

	Machines map[string]MachineConfig
}

// GetCourseConfig loads, defaults and validates the configuration for
// the given course.
func GetCourseConfig(configDir, courseID string) (*CourseConfig, error) {
	cfg := &CourseConfig{}
	path := filepath.Join(configDir, courseID+".yml")
	if err := config.LoadFile(cfg, path); err != nil {
		return nil, err
	}
	cfg.CourseID = courseID
	cfg.setDefaults()
	if err := cfg.check(); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	return cfg, nil
}

func (cfg *CourseConfig) setDefaults() {
	if cfg.NumWorkers == 0 {
		cfg.NumWorkers = 2
	}
	if cfg.ExecutorTimeout == 0 {
		cfg.ExecutorTimeout = Duration(300 * time.Second)
	}
	if cfg.ExecutorCommand == "" {
		cfg.ExecutorCommand = "vmchecker-vm-executor"
	}
	if cfg.DownloadCommand == "" {
		cfg.DownloadCommand = "vmchecker-download-external-files"
	}
}

func (cfg *CourseConfig) check() error {
	for _, dir := range []string{cfg.Spool, cfg.UnpackDir} {
		if dir == "" {
			return fmt.Errorf("Spool and UnpackDir must both be configured")
		}
		if fi, err := os.Stat(dir); err != nil {
			return err
		} else if !fi.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
	}
	if cfg.NumWorkers < 1 {
		return fmt.Errorf("NumWorkers must be positive (got %d)", cfg.NumWorkers)
	}
	allowed := map[string]bool{}
	for _, k := range OverrideKeys {
		allowed[k] = true
	}
	for vm, mc := range cfg.Machines {
		for workerID, overrides := range mc.Duplicates {
			var keys []string
			for k := range overrides {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if !allowed[k] {
					return fmt.Errorf("machine %s duplicate %s: unknown override key %q", vm, workerID, k)
				}
			}
		}
	}
	return nil
}
