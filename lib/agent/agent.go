// Copyright (C) The Palo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the task-dispatch core of a backend node:
// per-kind worker pools fed by coordinator-submitted tasks, the
// cross-pool signature registry and push fair-share accounting, the
// clone/alter/upload orchestrations, and the periodic reporter loops.
package agent

import (
	"time"

	"github.com/GavinHwa/palo/lib/config"
	"github.com/GavinHwa/palo/sdk/go/palo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	downloadFileMaxRetry  = 3
	finishTaskMaxRetry    = 3
	pushMaxRetry          = 1
	listRemoteFileTimeout = 15 * time.Second
)

// An Agent owns the worker pools and shared accounting for one
// backend node. A zero Agent is not usable; call New.
type Agent struct {
	logger    logrus.FieldLogger
	cfg       *config.Config
	engine    StorageEngine
	master    MasterClient
	newPusher NewPusherFunc

	// newBackendClient builds a client for a clone source
	// backend. Overridable in tests.
	newBackendClient func(palo.Backend) BackendClient

	backend palo.Backend
	reg     *registry
	broken  *DiskNotifier
	files   *fileClient
	pools   map[palo.TaskType]*pool

	// second is the unit for every "sleep one second" in the
	// protocol (finish retries, empty-lane backoff, heartbeat
	// polling). Tests shrink it.
	second time.Duration

	stop chan struct{}

	mTasksInflight  *prometheus.GaugeVec
	mFinishFailures prometheus.Counter
	mReportsSent    *prometheus.CounterVec
	mDownloadBytes  prometheus.Counter
}

// New returns an unstarted Agent.
//
// The storage engine and pusher factory are the node-local
// collaborators; the master client carries the coordinator address
// learned from heartbeats.
func New(logger logrus.FieldLogger, cfg *config.Config, engine StorageEngine, master MasterClient, newPusher NewPusherFunc, reg *prometheus.Registry) *Agent {
	a := &Agent{
		logger:    logger,
		cfg:       cfg,
		engine:    engine,
		master:    master,
		newPusher: newPusher,
		newBackendClient: func(b palo.Backend) BackendClient {
			return &palo.AgentClient{Backend: b}
		},
		backend: palo.Backend{
			BePort:   cfg.BePort,
			HTTPPort: cfg.WebserverPort,
		},
		reg:    newRegistry(),
		broken: newDiskNotifier(),
		second: time.Duration(cfg.SleepOneSecond) * time.Second,
		stop:   make(chan struct{}),
	}
	a.files = newFileClient(logger, a)
	a.registerMetrics(reg)
	return a
}

// DiskNotifier returns the broadcast the storage engine signals when
// a disk breaks, waking the disk and tablet reporters immediately.
func (a *Agent) DiskNotifier() *DiskNotifier {
	return a.broken
}

// ReportVersion returns the current tablet-state version included in
// tablet reports.
func (a *Agent) ReportVersion() int64 {
	return a.reg.loadReportVersion()
}

// Start constructs one pool per task kind, spawns its workers, and
// starts the reporter loops. Workers run until process exit.
func (a *Agent) Start() {
	cfg := a.cfg
	a.pools = map[palo.TaskType]*pool{}

	for _, spec := range []struct {
		kind    palo.TaskType
		workers int
		handle  handlerFunc
	}{
		{palo.TaskCreateTablet, cfg.CreateTabletWorkerCount, (*Agent).createTabletTask},
		{palo.TaskDropTablet, cfg.DropTabletWorkerCount, (*Agent).dropTabletTask},
		{palo.TaskClone, cfg.CloneWorkerCount, (*Agent).cloneTask},
		{palo.TaskStorageMediumMigrate, cfg.StorageMediumMigrateCount, (*Agent).storageMediumMigrateTask},
		{palo.TaskCancelDeleteData, cfg.CancelDeleteDataWorkerCount, (*Agent).cancelDeleteDataTask},
		{palo.TaskCheckConsistency, cfg.CheckConsistencyWorkerCount, (*Agent).checkConsistencyTask},
		{palo.TaskMakeSnapshot, cfg.MakeSnapshotWorkerCount, (*Agent).makeSnapshotTask},
		{palo.TaskReleaseSnapshot, cfg.ReleaseSnapshotWorkerCount, (*Agent).releaseSnapshotTask},
		{palo.TaskUpload, cfg.UploadWorkerCount, (*Agent).uploadTask},
		{palo.TaskRestore, cfg.RestoreWorkerCount, (*Agent).restoreTask},
	} {
		p := newPool(a, spec.kind, spec.handle)
		a.pools[spec.kind] = p
		for i := 0; i < spec.workers; i++ {
			go p.run()
		}
	}

	// Schema change and rollup share the alter pool.
	alter := newPool(a, "ALTER", (*Agent).alterTabletTask)
	a.pools[palo.TaskSchemaChange] = alter
	a.pools[palo.TaskRollup] = alter
	for i := 0; i < cfg.AlterTabletWorkerCount; i++ {
		go alter.run()
	}

	// The push pool's first PushWorkerCountHighPriority workers
	// take the HIGH lane; the rest take NORMAL. The lane belongs
	// to the worker, not the task.
	push := newPool(a, palo.TaskPush, nil)
	a.pools[palo.TaskPush] = push
	pushWorkers := cfg.PushWorkerCountNormalPriority + cfg.PushWorkerCountHighPriority
	for i := 0; i < pushWorkers; i++ {
		lane := palo.PriorityNormal
		if i < cfg.PushWorkerCountHighPriority {
			lane = palo.PriorityHigh
		}
		go a.runPushWorker(push, lane, pushWorkers)
	}

	// Bulk deletes run the push execution path but keep their own
	// pool and normal-lane workers; they carry no fair-share
	// counts, so selection degenerates to head-of-queue.
	del := newPool(a, palo.TaskDelete, nil)
	a.pools[palo.TaskDelete] = del
	for i := 0; i < cfg.DeleteWorkerCount; i++ {
		go a.runPushWorker(del, palo.PriorityNormal, cfg.DeleteWorkerCount)
	}

	go a.runTaskReporter()
	go a.runDiskReporter()
	go a.runTabletReporter()
}

// Stop shuts down the reporter loops. Task workers are not
// cancellable; in production the process simply exits.
func (a *Agent) Stop() {
	close(a.stop)
}

// Submit routes a coordinator task to the pool for its kind. The
// signature is registered first; a duplicate of an already queued or
// executing task is dropped silently and Submit returns false.
func (a *Agent) Submit(task palo.TaskRequest) bool {
	p, ok := a.pools[task.TaskType]
	if !ok {
		a.logger.WithField("TaskType", task.TaskType).Warn("submit: unknown task type")
		return false
	}
	if !a.reg.tryRegister(task.TaskType, task.Signature, task.User()) {
		a.logger.WithFields(logrus.Fields{
			"TaskType":  task.TaskType,
			"Signature": task.Signature,
		}).Info("submit: signature already in flight")
		return false
	}
	a.mTasksInflight.WithLabelValues(string(task.TaskType)).Set(float64(a.reg.inflightCount(task.TaskType)))
	p.enqueue(task)
	return true
}

func (a *Agent) registerMetrics(reg *prometheus.Registry) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	a.mTasksInflight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "palo",
		Subsystem: "agent",
		Name:      "tasks_inflight",
		Help:      "Number of queued or executing tasks per kind.",
	}, []string{"task_type"})
	reg.MustRegister(a.mTasksInflight)
	a.mFinishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "palo",
		Subsystem: "agent",
		Name:      "finish_rpc_failures_total",
		Help:      "Failed attempts to report a task result to the coordinator.",
	})
	reg.MustRegister(a.mFinishFailures)
	a.mReportsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "palo",
		Subsystem: "agent",
		Name:      "reports_total",
		Help:      "Periodic reports sent to the coordinator, by kind.",
	}, []string{"kind"})
	reg.MustRegister(a.mReportsSent)
	a.mDownloadBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "palo",
		Subsystem: "agent",
		Name:      "clone_download_bytes_total",
		Help:      "Bytes downloaded from source backends during clone.",
	})
	reg.MustRegister(a.mDownloadBytes)
}
