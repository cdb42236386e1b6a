// Copyright (C) The Palo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GavinHwa/palo/sdk/go/palo"
	"github.com/sirupsen/logrus"
)

// handlerFunc executes one task and builds its finish request. It
// must not return nil.
type handlerFunc func(*Agent, *palo.TaskRequest) *palo.FinishTaskRequest

// A pool owns one kind's pending-task queue and worker goroutines.
// Workers block on cond while the queue is empty.
type pool struct {
	agent  *Agent
	kind   palo.TaskType
	handle handlerFunc

	mtx   sync.Mutex
	cond  *sync.Cond
	tasks []palo.TaskRequest
}

func newPool(a *Agent, kind palo.TaskType, handle handlerFunc) *pool {
	p := &pool{agent: a, kind: kind, handle: handle}
	p.cond = sync.NewCond(&p.mtx)
	return p
}

func (p *pool) enqueue(task palo.TaskRequest) {
	p.mtx.Lock()
	p.tasks = append(p.tasks, task)
	p.mtx.Unlock()
	p.cond.Signal()
}

// next blocks until the queue is non-empty and pops the head.
func (p *pool) next() palo.TaskRequest {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	for len(p.tasks) == 0 {
		p.cond.Wait()
	}
	task := p.tasks[0]
	p.tasks = p.tasks[1:]
	return task
}

// run is a generic worker loop: dequeue the head, execute, report,
// deregister. All pools except push/delete use it.
func (p *pool) run() {
	for {
		task := p.next()
		p.agent.execute(p.handle, &task, "")
	}
}

// execute runs the handler, reports the result to the coordinator,
// and removes the task's signature from the registry. A panicking
// handler is reported as a RUNTIME_ERROR; the worker survives.
func (a *Agent) execute(handle handlerFunc, task *palo.TaskRequest, user string) {
	finish := a.handleSafely(handle, task)
	a.finishTask(finish)
	a.reg.deregister(task.TaskType, task.Signature, user)
	a.mTasksInflight.WithLabelValues(string(task.TaskType)).Set(float64(a.reg.inflightCount(task.TaskType)))
}

func (a *Agent) handleSafely(handle handlerFunc, task *palo.TaskRequest) (finish *palo.FinishTaskRequest) {
	defer func() {
		if panicked := recover(); panicked != nil {
			a.logger.WithFields(logrus.Fields{
				"TaskType":  task.TaskType,
				"Signature": task.Signature,
				"Panic":     panicked,
			}).Error("task handler panicked")
			finish = a.newFinish(task)
			finish.TaskStatus = palo.TaskStatus{
				StatusCode: palo.StatusRuntimeError,
				ErrorMsgs:  []string{fmt.Sprintf("task handler panicked: %v", panicked)},
			}
		}
	}()
	return handle(a, task)
}

// newFinish builds the skeleton finish request for a task.
func (a *Agent) newFinish(task *palo.TaskRequest) *palo.FinishTaskRequest {
	return &palo.FinishTaskRequest{
		Backend:   a.backend,
		TaskType:  task.TaskType,
		Signature: task.Signature,
	}
}

// finishTask reports a terminal result to the coordinator, retrying a
// bounded number of times. After the last failure the result is
// dropped; the coordinator notices the unacknowledged task and
// reissues it.
func (a *Agent) finishTask(finish *palo.FinishTaskRequest) {
	logger := a.logger.WithFields(logrus.Fields{
		"TaskType":  finish.TaskType,
		"Signature": finish.Signature,
	})
	for try := 0; try < finishTaskMaxRetry; try++ {
		result, err := a.master.FinishTask(context.Background(), finish)
		if err == nil {
			logger.WithField("Status", result.Status.StatusCode).Info("task finished")
			return
		}
		logger.WithError(err).Warn("finish task failed")
		a.mFinishFailures.Inc()
		a.sleepSeconds(1)
	}
	logger.Warn("giving up reporting task result")
}

func (a *Agent) sleepSeconds(n int) {
	if n < 1 {
		return
	}
	time.Sleep(a.second * time.Duration(n))
}
