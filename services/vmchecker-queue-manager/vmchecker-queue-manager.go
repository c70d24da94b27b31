// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

// Queue manager service: watches a course's spool directory and
// grades incoming submission bundles.

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"git.vmchecker.org/vmchecker.git/lib/callback"
	"git.vmchecker.org/vmchecker.git/lib/queuemanager"
	sdkConfig "git.vmchecker.org/vmchecker.git/sdk/go/config"
	"git.vmchecker.org/vmchecker.git/sdk/go/ctxlog"
	"git.vmchecker.org/vmchecker.git/sdk/go/vmchecker"
	"github.com/coreos/go-systemd/daemon"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var version = "dev"

func main() {
	if err := doMain(os.Args[0], os.Args[1:]); err != nil {
		logrus.Fatal(err)
	}
}

func doMain(prog string, args []string) error {
	flags := flag.NewFlagSet(prog, flag.ExitOnError)
	flags.Usage = func() { usage(flags) }

	courseID := flags.String("c", "", "`course` whose configuration to load (required)")
	configDir := flags.String("config-dir", vmchecker.DefaultConfigDir,
		"`directory` containing per-course configuration files")
	stdinFile := flags.String("0", "", "redirect standard input from `file`")
	stdoutFile := flags.String("1", "", "append standard output to `file`")
	stderrFile := flags.String("2", "", "append standard error to `file`")
	dumpConfig := flags.Bool("dump-config", false,
		"write effective configuration to stdout and exit")
	getVersion := flags.Bool("version", false,
		"print version information and exit")
	flags.Parse(args)

	if *getVersion {
		fmt.Printf("vmchecker-queue-manager %s\n", version)
		return nil
	}

	if err := redirectStdio(*stdinFile, *stdoutFile, *stderrFile); err != nil {
		return err
	}

	if *courseID == "" {
		fmt.Fprintln(os.Stderr, "course_id parameter required")
		os.Exit(2)
	}

	cfg, err := vmchecker.GetCourseConfig(*configDir, *courseID)
	if err != nil {
		return err
	}
	if *dumpConfig {
		return sdkConfig.DumpAndExit(cfg)
	}

	logger := ctxlog.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	logger.Printf("vmchecker-queue-manager %s started", version)

	var cb queuemanager.Callback
	if cfg.CallbackURL != "" {
		cb = &callback.Client{URL: cfg.CallbackURL, CourseID: cfg.CourseID, Logger: logger}
	} else {
		cb = callback.LogOnly{Logger: logger}
	}

	reg := prometheus.NewRegistry()
	mgr := &queuemanager.Manager{
		Course:   cfg,
		Logger:   logger,
		Callback: cb,
		Registry: reg,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		return err
	}

	if cfg.ManagementAddr != "" {
		go runManagement(logger, cfg.ManagementAddr, mgr, reg)
	}

	if _, err := daemon.SdNotify(false, "READY=1"); err != nil {
		logger.WithError(err).Warn("error notifying init daemon")
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigc
		logger.WithField("signal", sig).Info("shutting down; pending bundles stay in the spool for recovery")
		cancel()
		sig = <-sigc
		logger.WithField("signal", sig).Error("second signal, exiting now")
		os.Exit(1)
	}()

	return mgr.Wait()
}

func runManagement(logger *logrus.Logger, addr string, mgr *queuemanager.Manager, reg *prometheus.Registry) {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{ErrorLog: logger}))
	r.HandleFunc("/status.json", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mgr.Status())
	})
	logger.WithField("Listen", addr).Info("management server listening")
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.WithError(err).Error("management server failed")
	}
}

// redirectStdio points fds 0/1/2 at the given files (read for stdin,
// append for stdout/stderr), so child processes inherit them too.
func redirectStdio(stdin, stdout, stderr string) error {
	if stdin != "" {
		f, err := os.Open(stdin)
		if err != nil {
			return err
		}
		if err := syscall.Dup2(int(f.Fd()), 0); err != nil {
			return fmt.Errorf("dup2 stdin: %v", err)
		}
	}
	for _, redir := range []struct {
		fd   int
		path string
	}{{1, stdout}, {2, stderr}} {
		if redir.path == "" {
			continue
		}
		f, err := os.OpenFile(redir.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		if err := syscall.Dup2(int(f.Fd()), redir.fd); err != nil {
			return fmt.Errorf("dup2 fd %d: %v", redir.fd, err)
		}
	}
	return nil
}
