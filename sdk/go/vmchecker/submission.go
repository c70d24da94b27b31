// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package vmchecker

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// SubmissionConfigName is the name of the per-submission
// configuration file found at the top of every unpacked bundle.
const SubmissionConfigName = "submission-config"

// SubmissionConfig is the INI-format configuration file shipped inside
// a bundle. The [Assignment] section names the target machine; the
// [Machine] section holds the settings a duplicate slot may override.
type SubmissionConfig struct {
	path string
	file *ini.File
}

// LoadSubmissionConfig reads and parses the submission config at the
// given path.
func LoadSubmissionConfig(path string) (*SubmissionConfig, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("error loading %s: %v", path, err)
	}
	return &SubmissionConfig{path: path, file: f}, nil
}

// Machine returns the VM identity the submission must run on, from
// the Machine key of the [Assignment] section.
func (sc *SubmissionConfig) Machine() (string, error) {
	sect, err := sc.file.GetSection("Assignment")
	if err != nil {
		return "", fmt.Errorf("%s: no [Assignment] section", sc.path)
	}
	if !sect.HasKey("Machine") {
		return "", fmt.Errorf("%s: [Assignment] has no Machine key", sc.path)
	}
	return sect.Key("Machine").String(), nil
}

// ApplyOverrides overwrites [Machine] keys with the given override
// values. Keys not already present in the section are left alone: a
// submission only picks up the settings it declares.
func (sc *SubmissionConfig) ApplyOverrides(overrides map[string]string) {
	sect := sc.file.Section("Machine")
	for k, v := range overrides {
		if sect.HasKey(k) {
			sect.Key(k).SetValue(v)
		}
	}
}

// Save rewrites the file in place.
func (sc *SubmissionConfig) Save() error {
	return sc.file.SaveTo(sc.path)
}

// Get returns the value of key in the named section, or "" if absent.
func (sc *SubmissionConfig) Get(section, key string) string {
	return sc.file.Section(section).Key(key).String()
}
