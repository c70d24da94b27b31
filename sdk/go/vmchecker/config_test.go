// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package vmchecker

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	check "gopkg.in/check.v1"
)

var _ = check.Suite(&ConfigSuite{})

type ConfigSuite struct {
	dir string
}

func (s *ConfigSuite) SetUpTest(c *check.C) {
	s.dir = c.MkDir()
	c.Assert(os.Mkdir(filepath.Join(s.dir, "spool"), 0755), check.IsNil)
	c.Assert(os.Mkdir(filepath.Join(s.dir, "unpack"), 0755), check.IsNil)
}

func (s *ConfigSuite) writeConfig(c *check.C, course, body string) {
	err := os.WriteFile(filepath.Join(s.dir, course+".yml"), []byte(body), 0644)
	c.Assert(err, check.IsNil)
}

func (s *ConfigSuite) TestDefaults(c *check.C) {
	s.writeConfig(c, "pa", fmt.Sprintf("Spool: %s/spool\nUnpackDir: %s/unpack\n", s.dir, s.dir))
	cfg, err := GetCourseConfig(s.dir, "pa")
	c.Assert(err, check.IsNil)
	c.Check(cfg.CourseID, check.Equals, "pa")
	c.Check(cfg.NumWorkers, check.Equals, 2)
	c.Check(cfg.ExecutorTimeout.Duration(), check.Equals, 300*time.Second)
	c.Check(cfg.ExecutorCommand, check.Equals, "vmchecker-vm-executor")
	c.Check(cfg.DownloadCommand, check.Equals, "vmchecker-download-external-files")
}

func (s *ConfigSuite) TestFullConfig(c *check.C) {
	s.writeConfig(c, "so", fmt.Sprintf(`
Spool: %s/spool
UnpackDir: %s/unpack
NumWorkers: 4
ExecutorTimeout: 120s
CallbackURL: http://upstream.example/results
Machines:
  deb1:
    Duplicates:
      a: {MAC: "52:54:00:c0:ff:01"}
      b: {MAC: "52:54:00:c0:ff:02", DiskImage: /var/vm/deb1b.img}
`, s.dir, s.dir))
	cfg, err := GetCourseConfig(s.dir, "so")
	c.Assert(err, check.IsNil)
	c.Check(cfg.NumWorkers, check.Equals, 4)
	c.Check(cfg.ExecutorTimeout.Duration(), check.Equals, 2*time.Minute)
	c.Check(cfg.Machines["deb1"].Duplicates, check.HasLen, 2)
	c.Check(cfg.Machines["deb1"].Duplicates["b"]["DiskImage"], check.Equals, "/var/vm/deb1b.img")
}

func (s *ConfigSuite) TestUnknownOverrideKey(c *check.C) {
	s.writeConfig(c, "pa", fmt.Sprintf(`
Spool: %s/spool
UnpackDir: %s/unpack
Machines:
  deb1:
    Duplicates:
      a: {MAC: "aa:bb", FloppyImage: /dev/fd0}
`, s.dir, s.dir))
	_, err := GetCourseConfig(s.dir, "pa")
	c.Check(err, check.ErrorMatches, `.*unknown override key "FloppyImage".*`)
}

func (s *ConfigSuite) TestMissingSpool(c *check.C) {
	s.writeConfig(c, "pa", fmt.Sprintf("Spool: %s/nonexistent\nUnpackDir: %s/unpack\n", s.dir, s.dir))
	_, err := GetCourseConfig(s.dir, "pa")
	c.Check(err, check.NotNil)
}

func (s *ConfigSuite) TestMissingConfigFile(c *check.C) {
	_, err := GetCourseConfig(s.dir, "nosuchcourse")
	c.Check(os.IsNotExist(err), check.Equals, true)
}

func (s *ConfigSuite) TestBadDuration(c *check.C) {
	s.writeConfig(c, "pa", fmt.Sprintf("Spool: %s/spool\nUnpackDir: %s/unpack\nExecutorTimeout: 60\n", s.dir, s.dir))
	_, err := GetCourseConfig(s.dir, "pa")
	c.Check(err, check.ErrorMatches, `.*duration must be given as a string.*`)
}
