// Copyright (C) The Palo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GavinHwa/palo/sdk/go/palo"
)

// registry is the process-wide record of in-flight task signatures,
// shared by every pool. For the push kind it additionally tracks
// per-user admitted and running counts, which feed the fair-share
// scan in nextPushIndex.
//
// Lock order: a pool's queue mutex may be held while taking mtx;
// never the reverse. runningMtx is an inner lock so the selection
// scan can update running counts without re-acquiring mtx.
type registry struct {
	mtx      sync.Mutex
	inflight map[palo.TaskType]map[int64]bool

	// push accounting, under mtx
	totalByUser map[string]int
	total       int

	runningMtx    sync.Mutex
	runningByUser map[string]int

	reportVersion int64
}

func newRegistry() *registry {
	return &registry{
		inflight:      map[palo.TaskType]map[int64]bool{},
		totalByUser:   map[string]int{},
		runningByUser: map[string]int{},
		reportVersion: time.Now().Unix() * 10000,
	}
}

// tryRegister records a new in-flight signature. It returns false,
// changing nothing, if the signature is already present for the kind.
func (r *registry) tryRegister(kind palo.TaskType, signature int64, user string) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	sigs := r.inflight[kind]
	if sigs == nil {
		sigs = map[int64]bool{}
		r.inflight[kind] = sigs
	}
	if sigs[signature] {
		return false
	}
	sigs[signature] = true
	if kind == palo.TaskPush {
		r.totalByUser[user]++
		r.total++
	}
	return true
}

// deregister removes a completed task's signature. For the push kind
// it also unwinds the user's admitted count and the running count the
// worker added at selection time.
func (r *registry) deregister(kind palo.TaskType, signature int64, user string) {
	r.mtx.Lock()
	delete(r.inflight[kind], signature)
	if kind == palo.TaskPush {
		r.totalByUser[user]--
		if r.totalByUser[user] <= 0 {
			delete(r.totalByUser, user)
		}
		r.total--
	}
	r.mtx.Unlock()

	if kind == palo.TaskPush {
		r.runningMtx.Lock()
		r.runningByUser[user]--
		if r.runningByUser[user] <= 0 {
			delete(r.runningByUser, user)
		}
		r.runningMtx.Unlock()
	}
}

// markRunning records that a push worker has selected a task for the
// given user.
func (r *registry) markRunning(user string) {
	r.runningMtx.Lock()
	r.runningByUser[user]++
	r.runningMtx.Unlock()
}

// pushShares returns the user's current running count, admitted
// share, and the running share the user would have if one more of its
// tasks started. A zero admitted total yields shareAdmit 0 rather
// than dividing by zero.
func (r *registry) pushShares(user string, workerCount int) (running int, shareAdmit, shareRun float64) {
	r.mtx.Lock()
	total, totalUser := r.total, r.totalByUser[user]
	r.mtx.Unlock()
	r.runningMtx.Lock()
	running = r.runningByUser[user]
	r.runningMtx.Unlock()

	if total > 0 {
		shareAdmit = float64(totalUser) / float64(total)
	}
	if workerCount > 0 {
		shareRun = float64(running+1) / float64(workerCount)
	}
	return
}

// snapshotInflight deep-copies the in-flight signature sets, for the
// task reporter. Signatures are sorted for stable output.
func (r *registry) snapshotInflight() map[palo.TaskType][]int64 {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	out := map[palo.TaskType][]int64{}
	for kind, sigs := range r.inflight {
		list := make([]int64, 0, len(sigs))
		for sig := range sigs {
			list = append(list, sig)
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		out[kind] = list
	}
	return out
}

// inflightCount returns the number of in-flight signatures for one
// kind.
func (r *registry) inflightCount(kind palo.TaskType) int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.inflight[kind])
}

// nextReportVersion bumps the tablet-state version after a successful
// tablet-mutating task.
func (r *registry) nextReportVersion() int64 {
	return atomic.AddInt64(&r.reportVersion, 1)
}

// loadReportVersion returns the current tablet-state version.
func (r *registry) loadReportVersion() int64 {
	return atomic.LoadInt64(&r.reportVersion)
}
