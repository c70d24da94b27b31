// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package queuemanager dispatches student submission bundles from a
// spool directory to a pool of workers. Each worker unpacks its
// bundle, reserves a slot on the target test machine, supervises the
// external executor under a wall-clock deadline, reports results
// upstream, and removes the bundle. The spool is the only state: a
// bundle still present at startup is simply dispatched again.
package queuemanager

import (
	"context"
	"fmt"
	"sync"

	"git.vmchecker.org/vmchecker.git/sdk/go/vmchecker"
	"github.com/google/shlex"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Manager is the queue manager for one course. Fill in the exported
// fields, then call Start and Wait (or Run).
type Manager struct {
	Course   *vmchecker.CourseConfig
	Logger   logrus.FieldLogger
	Callback Callback
	// Registry receives the manager's metrics. A private registry
	// is created if nil.
	Registry *prometheus.Registry

	logger      logrus.FieldLogger
	queue       *jobQueue
	slots       *slotRegistry
	exec        *executor
	downloadCmd []string
	metrics     *metrics
	done        chan error
}

// Status is the management view of the manager, served as
// /status.json.
type Status struct {
	CourseID    string
	NumWorkers  int
	QueueLength int
	FreeSlots   map[string]int
}

func (m *Manager) setup() error {
	m.logger = m.Logger
	if m.logger == nil {
		m.logger = logrus.StandardLogger()
	}
	execCmd, err := shlex.Split(m.Course.ExecutorCommand)
	if err == nil && len(execCmd) == 0 {
		err = fmt.Errorf("empty command")
	}
	if err != nil {
		return fmt.Errorf("bad ExecutorCommand %q: %v", m.Course.ExecutorCommand, err)
	}
	m.downloadCmd, err = shlex.Split(m.Course.DownloadCommand)
	if err == nil && len(m.downloadCmd) == 0 {
		err = fmt.Errorf("empty command")
	}
	if err != nil {
		return fmt.Errorf("bad DownloadCommand %q: %v", m.Course.DownloadCommand, err)
	}
	m.queue = newJobQueue()
	m.slots = newSlotRegistry(m.Course.Machines)
	m.exec = &executor{
		command:   execCmd,
		timeout:   m.Course.ExecutorTimeout.Duration(),
		killGrace: killGracePeriod,
	}
	if m.Registry == nil {
		m.Registry = prometheus.NewRegistry()
	}
	m.metrics = newMetrics(m.Registry, m.queue.Len)
	return nil
}

// Start launches the worker pool and the spool watcher. It returns
// once dispatching is underway; Wait blocks until ctx is cancelled
// and the workers have finished their current jobs.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.setup(); err != nil {
		return err
	}
	m.logger.WithFields(logrus.Fields{
		"course":  m.Course.CourseID,
		"spool":   m.Course.Spool,
		"workers": m.Course.NumWorkers,
	}).Info("queue manager starting")

	var wg sync.WaitGroup
	for i := 0; i < m.Course.NumWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			m.worker(ctx, id)
		}(i)
	}
	m.done = make(chan error, 1)
	go func() {
		err := m.watchSpool(ctx)
		m.queue.Close()
		wg.Wait()
		m.done <- err
	}()
	return nil
}

// Wait blocks until the manager stops, and returns the watcher's
// error, if any.
func (m *Manager) Wait() error {
	return <-m.done
}

// Run is Start followed by Wait.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	return m.Wait()
}

// worker loops forever: take the oldest job, run it to completion,
// mark it done, repeat. Any worker can take any job; per-machine
// capacity is enforced by the slot registry, not here.
//
// A dispatched job runs under its own background context, not the
// run context: cancelling the run context on shutdown must not be
// able to interrupt a blocked slot reservation and send a
// never-executed bundle to cleanup. Only the executor deadline
// curtails a running job; anything still queued at shutdown stays in
// the spool for recovery.
func (m *Manager) worker(ctx context.Context, id int) {
	logger := m.logger.WithField("worker", id)
	for {
		job, ok := m.queue.Dequeue()
		if !ok || ctx.Err() != nil {
			return
		}
		logger.WithField("bundle", job.Bundle).Info("dispatching job")
		m.metrics.workersBusy.Inc()
		m.runJob(context.Background(), job)
		m.metrics.workersBusy.Dec()
		m.queue.Done(job)
	}
}

// Status returns a snapshot for the management server.
func (m *Manager) Status() Status {
	st := Status{
		CourseID:   m.Course.CourseID,
		NumWorkers: m.Course.NumWorkers,
	}
	if m.queue != nil {
		st.QueueLength = m.queue.Len()
	}
	if m.slots != nil {
		st.FreeSlots = m.slots.Free()
	}
	return st
}
