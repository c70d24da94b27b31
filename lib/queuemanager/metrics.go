// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package queuemanager

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	bundlesReceived  prometheus.Counter
	jobsFinished     *prometheus.CounterVec
	executorTimeouts prometheus.Counter
	callbackErrors   prometheus.Counter
	workersBusy      prometheus.Gauge
}

func newMetrics(reg *prometheus.Registry, queueLen func() int) *metrics {
	m := &metrics{
		bundlesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vmchecker",
			Subsystem: "queuemanager",
			Name:      "bundles_received_total",
			Help:      "Number of bundles accepted onto the assignment queue.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vmchecker",
			Subsystem: "queuemanager",
			Name:      "jobs_finished_total",
			Help:      "Number of executor runs, by outcome.",
		}, []string{"outcome"}),
		executorTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vmchecker",
			Subsystem: "queuemanager",
			Name:      "executor_timeouts_total",
			Help:      "Number of executor runs killed at the deadline.",
		}),
		callbackErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vmchecker",
			Subsystem: "queuemanager",
			Name:      "callback_errors_total",
			Help:      "Number of failed upstream updates (all swallowed).",
		}),
		workersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vmchecker",
			Subsystem: "queuemanager",
			Name:      "workers_busy",
			Help:      "Number of workers currently processing a job.",
		}),
	}
	reg.MustRegister(m.bundlesReceived, m.jobsFinished, m.executorTimeouts, m.callbackErrors, m.workersBusy)
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "vmchecker",
		Subsystem: "queuemanager",
		Name:      "queue_length",
		Help:      "Number of jobs waiting for a worker.",
	}, func() float64 { return float64(queueLen()) }))
	return m
}
