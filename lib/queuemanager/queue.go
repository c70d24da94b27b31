// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package queuemanager

import (
	"path/filepath"
	"sync"
)

// A Job is one pending bundle: the spool directory it lives in and its
// file name, unique within the spool. The bundle file itself is the
// durable representation of the job — unlinking it is the commit
// point.
type Job struct {
	Spool  string
	Bundle string
}

// Path returns the bundle's location in the spool.
func (j Job) Path() string {
	return filepath.Join(j.Spool, j.Bundle)
}

// jobQueue is the assignment queue: an unbounded FIFO with blocking
// dequeue, deduplicated by bundle name. A name stays claimed from
// Enqueue until Done, so the watcher and the stale scan can both
// observe the same bundle without dispatching it twice.
type jobQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	jobs    []Job
	claimed map[string]bool
	closed  bool
}

func newJobQueue() *jobQueue {
	q := &jobQueue{claimed: map[string]bool{}}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds a job unless its bundle name is already queued or in
// flight. It reports whether the job was accepted.
func (q *jobQueue) Enqueue(job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.claimed[job.Bundle] {
		return false
	}
	q.claimed[job.Bundle] = true
	q.jobs = append(q.jobs, job)
	q.cond.Signal()
	return true
}

// Dequeue removes and returns the oldest job, blocking until one is
// available. ok is false after Close once the queue is drained.
func (q *jobQueue) Dequeue() (job Job, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.jobs) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.jobs) == 0 {
		return Job{}, false
	}
	job = q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, true
}

// Done releases the job's bundle name so a future bundle with the
// same name can be accepted again.
func (q *jobQueue) Done(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.claimed, job.Bundle)
}

// Close wakes all blocked Dequeue callers. Queued jobs can still be
// drained; new jobs are refused.
func (q *jobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of jobs waiting to be dequeued.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
