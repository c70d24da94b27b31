// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package queuemanager

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// watchSettleDelay is how long a bundle must stay quiet after its
// last Create/Write event before it is considered fully uploaded.
// The kernel does not tell us about close-for-write through fsnotify,
// so write quiescence stands in for it.
const watchSettleDelay = 500 * time.Millisecond

// watchSpool arms the spool watch, recovers bundles left over from a
// previous run, and then dispatches arrival events until ctx is
// cancelled. The stale scan runs strictly after the watch is armed so
// that a bundle arriving in between is seen by at least one path; the
// assignment queue dedupes by name, so being seen by both is
// harmless.
func (m *Manager) watchSpool(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(m.Course.Spool); err != nil {
		return err
	}

	settling := map[string]*time.Timer{}
	defer func() {
		for _, t := range settling {
			t.Stop()
		}
	}()

	// A stale bundle goes through the same settle delay as a fresh
	// arrival: if its upload is somehow still in progress, the
	// Write events reset the timer instead of racing it.
	entries, err := os.ReadDir(m.Course.Spool)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		if ent.Type().IsRegular() && !strings.HasPrefix(ent.Name(), ".") {
			name := ent.Name()
			m.logger.WithField("bundle", name).Info("recovering stale bundle")
			settling[name] = time.AfterFunc(watchSettleDelay, func() { m.settled(name) })
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.WithError(err).Warn("spool watcher reported error")
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if strings.HasPrefix(name, ".") || filepath.Dir(ev.Name) != filepath.Clean(m.Course.Spool) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
				name := name
				if t, ok := settling[name]; ok {
					t.Stop()
				}
				settling[name] = time.AfterFunc(watchSettleDelay, func() { m.settled(name) })
			case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
				if t, ok := settling[name]; ok {
					t.Stop()
					delete(settling, name)
				}
			}
		}
	}
}

// settled runs once a bundle has stopped changing. The bundle may
// have been claimed and unlinked already; only enqueue what is still
// there.
func (m *Manager) settled(name string) {
	fi, err := os.Stat(filepath.Join(m.Course.Spool, name))
	if err != nil || !fi.Mode().IsRegular() {
		return
	}
	m.logger.WithFields(logrus.Fields{
		"bundle": name,
		"size":   humanize.IBytes(uint64(fi.Size())),
	}).Info("bundle received")
	m.enqueue(name)
}

func (m *Manager) enqueue(name string) {
	if m.queue.Enqueue(Job{Spool: m.Course.Spool, Bundle: name}) {
		m.metrics.bundlesReceived.Inc()
	} else {
		m.logger.WithField("bundle", name).Debug("bundle already queued or in flight")
	}
}
