// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package queuemanager

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// killGracePeriod is how long the executor gets to clean up after
// SIGINT before we escalate to SIGTERM, and again how long we wait
// for it to be reaped after SIGTERM. The executor owns VM handles
// that must not leak, so the first signal is always the gentle one.
const killGracePeriod = 5 * time.Second

type runOutcome string

const (
	outcomeSuccess runOutcome = "success"
	outcomeFailure runOutcome = "failure"
	outcomeTimeout runOutcome = "timeout"
	outcomeSpawn   runOutcome = "spawn-failure"
)

// executor supervises external test runs. It holds no per-run state,
// so all workers share one; each call to Run supervises one child and
// writes the grade file exactly once, whatever happens to the child.
type executor struct {
	command   []string
	timeout   time.Duration
	killGrace time.Duration
}

// Run spawns the executor on dir, waits for it to exit or for the
// wall-clock deadline, and records the result in the dir's grade and
// stderr artifacts. Run never fails: a broken executor is a job
// result, not a dispatcher error.
func (e *executor) Run(logger logrus.FieldLogger, dir string) runOutcome {
	prog := e.command[0]
	args := append(append([]string{}, e.command[1:]...), dir)
	cmd := exec.Command(prog, args...)
	childLog := logger.WithField("cmd", prog).Writer()
	defer childLog.Close()
	cmd.Stdout = childLog
	cmd.Stderr = childLog

	if err := cmd.Start(); err != nil {
		logger.WithError(err).Error("cannot start executor")
		e.writeResult(logger, dir, false,
			fmt.Sprintf("Cannot run %s: %v", prog, err),
			"Internal error: please contact the course administrators")
		return outcomeSpawn
	}
	logger.WithField("pid", cmd.Process.Pid).Info("executor started")

	waitc := make(chan error, 1)
	go func() { waitc <- cmd.Wait() }()

	deadline := time.NewTimer(e.timeout)
	defer deadline.Stop()
	select {
	case err := <-waitc:
		code := exitCode(err)
		status := "error"
		if code == 0 {
			status = "success"
		}
		e.writeResult(logger, dir, code == 0,
			fmt.Sprintf("vmexecutor exitcode %d (%s)", code, status))
		if code == 0 {
			return outcomeSuccess
		}
		return outcomeFailure
	case <-deadline.C:
	}

	logger.WithField("timeout", e.timeout).Warn("executor deadline reached, killing it")
	e.writeResult(logger, dir, false,
		fmt.Sprintf("vmexecutor is taking too long (over %s), killing it", e.timeout))
	e.kill(logger, cmd, waitc)
	return outcomeTimeout
}

// kill escalates: SIGINT, a grace period for the executor's own
// cleanup, then SIGTERM. Both attempts are best-effort.
func (e *executor) kill(logger logrus.FieldLogger, cmd *exec.Cmd, waitc <-chan error) {
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		logger.WithError(err).Warn("error sending SIGINT to executor")
	}
	select {
	case <-waitc:
		logger.Info("executor exited after SIGINT")
		return
	case <-time.After(e.killGrace):
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.WithError(err).Warn("error sending SIGTERM to executor")
	}
	select {
	case <-waitc:
		logger.Info("executor exited after SIGTERM")
	case <-time.After(e.killGrace):
		logger.Error("executor still running after SIGTERM, abandoning it")
	}
}

func (e *executor) writeResult(logger logrus.FieldLogger, dir string, ok bool, msgs ...string) {
	for _, msg := range msgs {
		if err := appendStderr(dir, msg); err != nil {
			logger.WithError(err).Error("error writing stderr artifact")
		}
	}
	if err := writeGrade(dir, ok); err != nil {
		logger.WithError(err).Error("error writing grade artifact")
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}
