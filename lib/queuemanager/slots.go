// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package queuemanager

import (
	"context"
	"sort"
	"sync"

	"git.vmchecker.org/vmchecker.git/sdk/go/vmchecker"
)

// A Slot is one unit of concurrent capacity against a VM identity. A
// duplicated VM has one slot per configured duplicate, each carrying
// the overrides to apply to a submission before it runs there; any
// other VM has a single "default" slot with no overrides.
type Slot struct {
	WorkerID  string
	Overrides map[string]string
}

// slotRegistry maps each VM identity to a buffered channel holding
// its free slots. Pools for duplicated VMs are filled at startup from
// the course config; a pool for any other VM is created with one
// default slot the first time a submission asks for it.
type slotRegistry struct {
	mu    sync.Mutex
	pools map[string]chan Slot
}

func newSlotRegistry(machines map[string]vmchecker.MachineConfig) *slotRegistry {
	sr := &slotRegistry{pools: map[string]chan Slot{}}
	for vm, mc := range machines {
		if len(mc.Duplicates) == 0 {
			continue
		}
		pool := make(chan Slot, len(mc.Duplicates))
		var ids []string
		for id := range mc.Duplicates {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			overrides := map[string]string{}
			for k, v := range mc.Duplicates[id] {
				overrides[k] = v
			}
			pool <- Slot{WorkerID: id, Overrides: overrides}
		}
		sr.pools[vm] = pool
	}
	return sr
}

// pool returns the slot pool for vm, creating a single-slot default
// pool if none exists yet.
func (sr *slotRegistry) pool(vm string) chan Slot {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	pool, ok := sr.pools[vm]
	if !ok {
		pool = make(chan Slot, 1)
		pool <- Slot{WorkerID: "default"}
		sr.pools[vm] = pool
	}
	return pool
}

// Reserve reads the submission config at configPath to find the
// target VM identity, takes a slot from that VM's pool (blocking
// until one is free or ctx is cancelled), and patches the submission
// config with the slot's overrides before returning.
func (sr *slotRegistry) Reserve(ctx context.Context, configPath string) (string, Slot, error) {
	sc, err := vmchecker.LoadSubmissionConfig(configPath)
	if err != nil {
		return "", Slot{}, err
	}
	vm, err := sc.Machine()
	if err != nil {
		return "", Slot{}, err
	}
	var slot Slot
	select {
	case slot = <-sr.pool(vm):
	case <-ctx.Done():
		return "", Slot{}, ctx.Err()
	}
	if len(slot.Overrides) > 0 {
		sc.ApplyOverrides(slot.Overrides)
		if err := sc.Save(); err != nil {
			sr.Release(vm, slot)
			return "", Slot{}, err
		}
	}
	return vm, slot, nil
}

// Release returns a slot to its VM's pool. Must be called exactly
// once per successful Reserve; skipping it permanently leaks
// capacity.
func (sr *slotRegistry) Release(vm string, slot Slot) {
	sr.pool(vm) <- slot
}

// Free reports the number of free slots per VM identity.
func (sr *slotRegistry) Free() map[string]int {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	free := map[string]int{}
	for vm, pool := range sr.pools {
		free[vm] = len(pool)
	}
	return free
}
