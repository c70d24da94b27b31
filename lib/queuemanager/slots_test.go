// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package queuemanager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"git.vmchecker.org/vmchecker.git/sdk/go/vmchecker"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&SlotsSuite{})

type SlotsSuite struct{}

func (s *SlotsSuite) writeSubmissionConfig(c *check.C, machine string) string {
	path := filepath.Join(c.MkDir(), vmchecker.SubmissionConfigName)
	body := fmt.Sprintf("[Assignment]\nMachine = %s\n\n[Machine]\nMAC = 00:00:00:00:00:00\n", machine)
	c.Assert(os.WriteFile(path, []byte(body), 0644), check.IsNil)
	return path
}

func (s *SlotsSuite) TestDefaultPool(c *check.C) {
	sr := newSlotRegistry(nil)
	path := s.writeSubmissionConfig(c, "deb9")
	vm, slot, err := sr.Reserve(context.Background(), path)
	c.Assert(err, check.IsNil)
	c.Check(vm, check.Equals, "deb9")
	c.Check(slot.WorkerID, check.Equals, "default")
	c.Check(slot.Overrides, check.HasLen, 0)
	c.Check(sr.Free()["deb9"], check.Equals, 0)

	// a default slot carries no overrides, so the submission
	// config is left untouched
	sc, err := vmchecker.LoadSubmissionConfig(path)
	c.Assert(err, check.IsNil)
	c.Check(sc.Get("Machine", "MAC"), check.Equals, "00:00:00:00:00:00")

	sr.Release(vm, slot)
	c.Check(sr.Free()["deb9"], check.Equals, 1)
}

func (s *SlotsSuite) TestCapacityBound(c *check.C) {
	sr := newSlotRegistry(nil)
	path := s.writeSubmissionConfig(c, "deb9")
	vm, slot, err := sr.Reserve(context.Background(), path)
	c.Assert(err, check.IsNil)

	reserved := make(chan Slot)
	go func() {
		_, slot2, err := sr.Reserve(context.Background(), path)
		c.Check(err, check.IsNil)
		reserved <- slot2
	}()
	select {
	case <-reserved:
		c.Fatal("second Reserve succeeded while the only slot was held")
	case <-time.After(50 * time.Millisecond):
	}
	sr.Release(vm, slot)
	select {
	case <-reserved:
	case <-time.After(time.Second):
		c.Fatal("second Reserve still blocked after Release")
	}
}

func (s *SlotsSuite) TestDuplicatedOverrides(c *check.C) {
	sr := newSlotRegistry(map[string]vmchecker.MachineConfig{
		"deb1": {Duplicates: map[string]map[string]string{
			"a": {"MAC": "52:54:00:c0:ff:01"},
			"b": {"MAC": "52:54:00:c0:ff:02"},
		}},
	})
	c.Check(sr.Free()["deb1"], check.Equals, 2)

	path := s.writeSubmissionConfig(c, "deb1")
	vm, slot, err := sr.Reserve(context.Background(), path)
	c.Assert(err, check.IsNil)
	c.Check(vm, check.Equals, "deb1")

	sc, err := vmchecker.LoadSubmissionConfig(path)
	c.Assert(err, check.IsNil)
	c.Check(sc.Get("Machine", "MAC"), check.Equals, slot.Overrides["MAC"])

	sr.Release(vm, slot)
}

func (s *SlotsSuite) TestFairness(c *check.C) {
	sr := newSlotRegistry(map[string]vmchecker.MachineConfig{
		"deb1": {Duplicates: map[string]map[string]string{
			"a": {"MAC": "aa:aa:aa:aa:aa:aa"},
			"b": {"MAC": "bb:bb:bb:bb:bb:bb"},
		}},
	})
	path := s.writeSubmissionConfig(c, "deb1")
	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		vm, slot, err := sr.Reserve(context.Background(), path)
		c.Assert(err, check.IsNil)
		seen[slot.WorkerID]++
		sr.Release(vm, slot)
	}
	// FIFO release order means both duplicates get drawn
	c.Check(seen["a"], check.Equals, 2)
	c.Check(seen["b"], check.Equals, 2)
}

func (s *SlotsSuite) TestReserveCancelled(c *check.C) {
	sr := newSlotRegistry(nil)
	path := s.writeSubmissionConfig(c, "deb9")
	_, slot, err := sr.Reserve(context.Background(), path)
	c.Assert(err, check.IsNil)
	_ = slot

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = sr.Reserve(ctx, path)
	c.Check(err, check.Equals, context.DeadlineExceeded)
}

func (s *SlotsSuite) TestBadSubmissionConfig(c *check.C) {
	sr := newSlotRegistry(nil)
	path := filepath.Join(c.MkDir(), vmchecker.SubmissionConfigName)
	c.Assert(os.WriteFile(path, []byte("[Assignment]\nUser = x\n"), 0644), check.IsNil)
	_, _, err := sr.Reserve(context.Background(), path)
	c.Check(err, check.ErrorMatches, `.*no Machine key.*`)
}
