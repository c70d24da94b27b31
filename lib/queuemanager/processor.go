// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package queuemanager

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime/debug"

	"git.vmchecker.org/vmchecker.git/sdk/go/ctxlog"
	"git.vmchecker.org/vmchecker.git/sdk/go/vmchecker"
	"github.com/sirupsen/logrus"
)

// Callback statuses reported upstream, in order, for every job that
// gets a machine slot. A job that fails before reservation (unpack or
// submission-config errors) sends no update.
const (
	StatusProcessing = "PROCESSING"
	StatusDone       = "DONE"
)

// A Callback reports job progress upstream. Errors are logged and
// swallowed by the caller: a transient upstream outage must never
// block grading.
type Callback interface {
	Update(ctx context.Context, bundle, status string, artifacts []string) error
}

// runJob runs the whole pipeline for one job: unpack, download
// external files, reserve a slot, announce, execute, release, report,
// clean up. No failure or panic in steps 1-7 escapes; cleanup always
// runs, and the bundle is always removed from the spool so a broken
// submission cannot wedge the queue.
func (m *Manager) runJob(ctx context.Context, job Job) {
	logger := m.logger.WithField("bundle", job.Bundle)
	ctx = ctxlog.Context(ctx, logger)

	var unpackDir string
	defer func() {
		if unpackDir != "" {
			if err := os.RemoveAll(unpackDir); err != nil {
				logger.WithError(err).Error("error removing unpack directory")
			}
		}
		if err := os.Remove(job.Path()); err != nil {
			logger.WithError(err).Error("error removing bundle from spool")
		} else {
			logger.Info("job finished, bundle removed from spool")
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Errorf("job panicked:\n%s", debug.Stack())
		}
	}()

	unpackDir, err := os.MkdirTemp(m.Course.UnpackDir, job.Bundle+".")
	if err != nil {
		logger.WithError(err).Error("error creating unpack directory")
		return
	}
	if err := unzip(job.Path(), unpackDir); err != nil {
		logger.WithError(err).Error("error unpacking bundle, dropping it")
		return
	}

	m.downloadExternalFiles(logger, unpackDir)

	vm, slot, err := m.slots.Reserve(ctx, filepath.Join(unpackDir, vmchecker.SubmissionConfigName))
	if err != nil {
		logger.WithError(err).Error("error reserving a machine slot")
		return
	}
	released := false
	release := func() {
		if !released {
			released = true
			m.slots.Release(vm, slot)
		}
	}
	defer release()
	logger = logger.WithFields(logrus.Fields{"machine": vm, "worker_id": slot.WorkerID})

	m.update(ctx, logger, job, StatusProcessing, nil)

	outcome := m.exec.Run(logger, unpackDir)
	m.metrics.jobsFinished.WithLabelValues(string(outcome)).Inc()
	if outcome == outcomeTimeout {
		m.metrics.executorTimeouts.Inc()
	}

	release()

	artifacts, err := resultFiles(unpackDir)
	if err != nil {
		logger.WithError(err).Error("error collecting result files")
	}
	m.update(ctx, logger, job, StatusDone, artifacts)
}

// downloadExternalFiles runs the advisory download helper on the
// unpack directory. A missing or failing helper is not a job failure.
func (m *Manager) downloadExternalFiles(logger logrus.FieldLogger, dir string) {
	prog := m.downloadCmd[0]
	cmd := exec.Command(prog, append(append([]string{}, m.downloadCmd[1:]...), dir)...)
	childLog := logger.WithField("cmd", prog).Writer()
	defer childLog.Close()
	cmd.Stdout = childLog
	cmd.Stderr = childLog
	if err := cmd.Run(); err != nil {
		logger.WithError(err).Warnf("%s failed, continuing without external files", prog)
	}
}

func (m *Manager) update(ctx context.Context, logger logrus.FieldLogger, job Job, status string, artifacts []string) {
	err := m.Callback.Update(ctx, job.Bundle, status, artifacts)
	if err != nil {
		m.metrics.callbackErrors.Inc()
		logger.WithError(err).WithField("status", status).Error("error sending upstream update, continuing")
	}
}
