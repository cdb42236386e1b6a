// Copyright (C) The Palo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"errors"

	"github.com/GavinHwa/palo/sdk/go/palo"
	"github.com/sirupsen/logrus"
)

// runPushWorker is the worker loop for the push and delete pools. A
// worker keeps its lane for life: HIGH-lane workers only ever take
// HIGH-priority tasks, sleeping when none are queued; NORMAL-lane
// workers pick tasks by user fair share.
func (a *Agent) runPushWorker(p *pool, lane palo.Priority, workerCount int) {
	for {
		task, ok := p.nextPush(lane, workerCount)
		if !ok {
			// No HIGH task in the queue. nextPush already
			// woke another worker to look at the normal
			// tasks; back off before rescanning.
			a.sleepSeconds(1)
			continue
		}
		a.logger.WithFields(logrus.Fields{
			"TaskType":  task.TaskType,
			"Signature": task.Signature,
			"User":      task.User(),
			"Lane":      lane,
		}).Info("get push task")
		a.execute((*Agent).pushTask, &task, task.User())
	}
}

// nextPush blocks until the queue is non-empty, then runs the
// selection scan. ok is false when a HIGH-lane worker found no
// HIGH-priority task.
func (p *pool) nextPush(lane palo.Priority, workerCount int) (palo.TaskRequest, bool) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	for len(p.tasks) == 0 {
		p.cond.Wait()
	}
	i := p.agent.nextPushIndex(p.kind, p.tasks, lane, workerCount)
	if i < 0 {
		// Hand the wakeup to a worker that can use it.
		p.cond.Signal()
		return palo.TaskRequest{}, false
	}
	task := p.tasks[i]
	p.tasks = append(p.tasks[:i], p.tasks[i+1:]...)
	return task, true
}

// nextPushIndex picks the queue index the calling worker should run
// next, and records the selection in the running counts.
//
// HIGH lane: the first HIGH-priority task, scanning from the head; -1
// if there is none.
//
// NORMAL lane: the first task whose user either has nothing running
// or whose running share, counting this task, stays within the
// share of the queue the user was admitted with. Users that fail the
// test once are skipped for the rest of the scan. If every queued
// user is over its share, fall back to the head so the pool always
// makes progress. A user with no admitted total gets an admitted
// share of 0.
//
// Fair-share accounting exists only for the push kind. The delete
// pool's registry counters are never written, so its workers must not
// read them either: a user's concurrent push activity would
// otherwise skew delete selection. Deletes take the head.
func (a *Agent) nextPushIndex(kind palo.TaskType, tasks []palo.TaskRequest, lane palo.Priority, workerCount int) int {
	index := -1
	switch {
	case lane == palo.PriorityHigh:
		for i := range tasks {
			if tasks[i].Priority == palo.PriorityHigh {
				index = i
				break
			}
		}
		if index == -1 {
			return -1
		}
	case kind != palo.TaskPush:
		index = 0
	default:
		improper := map[string]bool{}
		for i := range tasks {
			user := tasks[i].User()
			if improper[user] {
				continue
			}
			running, shareAdmit, shareRun := a.reg.pushShares(user, workerCount)
			a.logger.WithFields(logrus.Fields{
				"Signature":  tasks[i].Signature,
				"User":       user,
				"ShareAdmit": shareAdmit,
				"ShareRun":   shareRun,
			}).Debug("push selection candidate")
			if running == 0 || shareRun <= shareAdmit {
				index = i
				break
			}
			improper[user] = true
		}
		if index == -1 {
			index = 0
		}
	}
	if kind == palo.TaskPush {
		a.reg.markRunning(tasks[index].User())
	}
	return index
}

// pushTask executes one push or delete task. Load subtypes run the
// ingest pipeline, retrying once on an internal error; the delete
// subtype calls the engine directly.
func (a *Agent) pushTask(task *palo.TaskRequest) *palo.FinishTaskRequest {
	finish := a.newFinish(task)
	req := task.Push

	var tabletInfos []palo.TabletInfo
	var err error
	switch {
	case req == nil:
		err = ErrTaskRequest
	case req.PushType == palo.PushLoad || req.PushType == palo.PushLoadDelete:
		pusher := a.newPusher(req)
		err = pusher.Init()
		if err == nil {
			for retry := 0; ; retry++ {
				tabletInfos, err = pusher.Process()
				if err == nil || errors.Is(err, ErrTaskRequest) || retry >= pushMaxRetry {
					break
				}
				a.logger.WithField("Signature", task.Signature).WithError(err).Warn("push internal error, need retry")
			}
		}
	case req.PushType == palo.PushDelete:
		tabletInfos, err = a.engine.DeleteData(req)
		if err != nil {
			a.logger.WithField("Signature", task.Signature).WithError(err).Warn("delete data failed")
		}
	default:
		err = ErrTaskRequest
	}

	if req != nil && req.PushType == palo.PushDelete {
		finish.RequestVersion = req.Version
		finish.RequestVersionHash = req.VersionHash
	}

	switch {
	case err == nil:
		a.logger.WithField("Signature", task.Signature).Debug("push ok")
		a.reg.nextReportVersion()
		finish.TaskStatus = palo.TaskStatus{
			StatusCode: palo.StatusOK,
			ErrorMsgs:  []string{"push success"},
		}
		finish.FinishTabletInfos = tabletInfos
	case errors.Is(err, ErrTaskRequest):
		a.logger.WithFields(logrus.Fields{
			"Signature": task.Signature,
		}).Warn("push request push_type invalid")
		finish.TaskStatus = palo.TaskStatus{
			StatusCode: palo.StatusAnalysisError,
			ErrorMsgs:  []string{"push request push_type invalid"},
		}
	default:
		a.logger.WithField("Signature", task.Signature).WithError(err).Warn("push failed")
		finish.TaskStatus = palo.TaskStatus{
			StatusCode: palo.StatusRuntimeError,
			ErrorMsgs:  []string{"push failed: " + err.Error()},
		}
	}
	finish.ReportVersion = a.reg.loadReportVersion()
	return finish
}
