// Copyright (C) The Palo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"sync"
	"time"

	"github.com/GavinHwa/palo/sdk/go/palo"
)

// A DiskNotifier broadcasts disk-failure events from the storage
// engine to the reporter loops, cutting their periodic wait short so
// the coordinator hears about a broken disk immediately.
//
// Events arriving while a subscriber's channel is already ready are
// coalesced.
type DiskNotifier struct {
	mtx  sync.Mutex
	subs map[chan struct{}]bool
}

func newDiskNotifier() *DiskNotifier {
	return &DiskNotifier{subs: map[chan struct{}]bool{}}
}

// Subscribe returns a channel that becomes ready on every Notify.
func (dn *DiskNotifier) Subscribe() chan struct{} {
	dn.mtx.Lock()
	defer dn.mtx.Unlock()
	ch := make(chan struct{}, 1)
	dn.subs[ch] = true
	return ch
}

// Unsubscribe stops delivering events to ch.
func (dn *DiskNotifier) Unsubscribe(ch chan struct{}) {
	dn.mtx.Lock()
	defer dn.mtx.Unlock()
	delete(dn.subs, ch)
}

// Notify wakes every subscriber. The storage engine calls this when
// it takes a disk out of service.
func (dn *DiskNotifier) Notify() {
	dn.mtx.Lock()
	defer dn.mtx.Unlock()
	for sub := range dn.subs {
		select {
		case sub <- struct{}{}:
		default:
		}
	}
}

func (a *Agent) newReport() *palo.ReportRequest {
	return &palo.ReportRequest{Backend: a.backend}
}

// waitForMaster blocks until the coordinator address has been learned
// from a heartbeat, polling once a second. It returns false if the
// agent stopped while waiting.
func (a *Agent) waitForMaster() bool {
	for a.master.MasterInfo().Port == 0 {
		a.logger.Info("waiting to receive first heartbeat from coordinator")
		select {
		case <-a.stop:
			return false
		case <-time.After(a.second):
		}
	}
	return true
}

func (a *Agent) sendReport(kind string, req *palo.ReportRequest) {
	result, err := a.master.Report(context.Background(), req)
	if err != nil {
		a.logger.WithError(err).Warnf("report %s failed", kind)
		return
	}
	a.mReportsSent.WithLabelValues(kind).Inc()
	a.logger.WithField("Status", result.Status.StatusCode).Debugf("report %s success", kind)
}

// runTaskReporter periodically sends the in-flight signature sets so
// the coordinator can reconcile lost acknowledgements.
func (a *Agent) runTaskReporter() {
	interval := time.Duration(a.cfg.ReportTaskIntervalSeconds) * a.second
	for {
		req := a.newReport()
		req.Tasks = a.reg.snapshotInflight()
		a.sendReport("task", req)
		select {
		case <-a.stop:
			return
		case <-time.After(interval):
		}
	}
}

// runDiskReporter periodically sends per-disk capacity state. It
// waits for the first coordinator heartbeat before reporting, and its
// interval wait is cut short when a disk breaks.
func (a *Agent) runDiskReporter() {
	interval := time.Duration(a.cfg.ReportDiskStateIntervalSeconds) * a.second
	broken := a.broken.Subscribe()
	defer a.broken.Unsubscribe(broken)
	for {
		if !a.waitForMaster() {
			return
		}
		disks, err := a.engine.DiskReport()
		if err != nil {
			a.logger.WithError(err).Warn("gathering disk state failed")
		} else {
			req := a.newReport()
			req.Disks = map[string]palo.Disk{}
			for _, disk := range disks {
				req.Disks[disk.RootPath] = disk
			}
			a.sendReport("disk", req)
		}
		select {
		case <-a.stop:
			return
		case <-time.After(interval):
		case <-broken:
			// Woken by a disk failure rather than the
			// timer; the next cycle reports it, and the
			// engine need not signal again.
			a.engine.MarkDiskReported()
		}
	}
}

// runTabletReporter periodically sends the full local tablet list
// together with the current report version, so the coordinator can
// discard reports older than task results it has already absorbed.
func (a *Agent) runTabletReporter() {
	interval := time.Duration(a.cfg.ReportTabletIntervalSeconds) * a.second
	broken := a.broken.Subscribe()
	defer a.broken.Unsubscribe(broken)
	for {
		if !a.waitForMaster() {
			return
		}
		tablets, err := a.engine.TabletReport()
		if err != nil {
			// Can't enumerate tablets right now; skip this
			// cycle's send but keep the loop alive.
			a.logger.WithError(err).Warn("report get all tablets info failed")
		} else {
			req := a.newReport()
			req.Tablets = tablets
			req.ReportVersion = a.reg.loadReportVersion()
			a.sendReport("tablet", req)
		}
		select {
		case <-a.stop:
			return
		case <-time.After(interval):
		case <-broken:
			a.engine.MarkTabletReported()
		}
	}
}
