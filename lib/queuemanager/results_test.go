// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package queuemanager

import (
	"os"
	"path/filepath"
	"sort"

	check "gopkg.in/check.v1"
)

var _ = check.Suite(&ResultsSuite{})

type ResultsSuite struct{}

func (s *ResultsSuite) TestAppendStderr(c *check.C) {
	dir := c.MkDir()
	c.Assert(appendStderr(dir, "first"), check.IsNil)
	c.Assert(appendStderr(dir, "second"), check.IsNil)
	buf, err := os.ReadFile(filepath.Join(dir, stderrFilename))
	c.Assert(err, check.IsNil)
	c.Check(string(buf), check.Equals, "first\nsecond\n")
}

func (s *ResultsSuite) TestResultFiles(c *check.C) {
	dir := c.MkDir()
	c.Assert(writeGrade(dir, true), check.IsNil)
	c.Assert(os.WriteFile(filepath.Join(dir, "result.vmr"), []byte("ok"), 0644), check.IsNil)
	c.Assert(os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0644), check.IsNil)
	c.Assert(os.Mkdir(filepath.Join(dir, "sub"), 0755), check.IsNil)
	c.Assert(os.WriteFile(filepath.Join(dir, "sub", "extra.vmr"), []byte("ok"), 0644), check.IsNil)

	files, err := resultFiles(dir)
	c.Assert(err, check.IsNil)
	var names []string
	for _, f := range files {
		rel, err := filepath.Rel(dir, f)
		c.Assert(err, check.IsNil)
		names = append(names, rel)
	}
	sort.Strings(names)
	c.Check(names, check.DeepEquals, []string{"grade.vmr", "result.vmr", "sub/extra.vmr"})
}
