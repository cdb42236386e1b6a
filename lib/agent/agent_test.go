// Copyright (C) The Palo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"errors"
	"time"

	"github.com/GavinHwa/palo/sdk/go/palo"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&AgentSuite{})

type AgentSuite struct{}

func createTask(signature int64) palo.TaskRequest {
	return palo.TaskRequest{
		TaskType:  palo.TaskCreateTablet,
		Signature: signature,
		CreateTablet: &palo.CreateTabletRequest{
			TabletID:     101,
			TabletSchema: palo.TabletSchema{SchemaHash: 12345},
		},
	}
}

// Submitting the same (kind, signature) twice yields exactly one
// execution and one acknowledgement, and the registry is empty at
// rest.
func (*AgentSuite) TestSubmitDedup(c *check.C) {
	a, engine, master := newTestAgent(c)
	a.Start()
	defer a.Stop()

	c.Check(a.Submit(createTask(7)), check.Equals, true)
	c.Check(a.Submit(createTask(7)), check.Equals, false)

	select {
	case finish := <-master.finished:
		c.Check(finish.TaskType, check.Equals, palo.TaskCreateTablet)
		c.Check(finish.Signature, check.Equals, int64(7))
		c.Check(finish.TaskStatus.StatusCode, check.Equals, palo.StatusOK)
	case <-time.After(10 * time.Second):
		c.Fatal("timed out waiting for finish")
	}

	// No second acknowledgement arrives.
	select {
	case finish := <-master.finished:
		c.Fatalf("duplicate submission was executed: %+v", finish)
	case <-time.After(50 * time.Millisecond):
	}
	c.Check(engine.created, check.HasLen, 1)

	for deadline := time.Now().Add(time.Second); time.Now().Before(deadline); time.Sleep(time.Millisecond) {
		if a.reg.inflightCount(palo.TaskCreateTablet) == 0 {
			break
		}
	}
	c.Check(a.reg.inflightCount(palo.TaskCreateTablet), check.Equals, 0)

	// The signature is reusable once the first run completed.
	c.Check(a.Submit(createTask(7)), check.Equals, true)
}

func (*AgentSuite) TestSubmitUnknownKind(c *check.C) {
	a, _, _ := newTestAgent(c)
	a.Start()
	defer a.Stop()
	c.Check(a.Submit(palo.TaskRequest{TaskType: "NO_SUCH_KIND", Signature: 1}), check.Equals, false)
}

// The coordinator fails twice, then accepts: three RPCs total, and
// the worker proceeds.
func (*AgentSuite) TestFinishRetry(c *check.C) {
	a, _, master := newTestAgent(c)
	master.finishErrs = []error{errors.New("connection refused"), errors.New("connection refused")}

	finish := &palo.FinishTaskRequest{
		Backend:   a.backend,
		TaskType:  palo.TaskDropTablet,
		Signature: 3,
		TaskStatus: palo.TaskStatus{
			StatusCode: palo.StatusOK,
		},
	}
	a.finishTask(finish)
	c.Check(master.finishCount(), check.Equals, 3)
}

// After three straight failures the result is dropped; the
// coordinator reissues the task on its own.
func (*AgentSuite) TestFinishGivesUp(c *check.C) {
	a, _, master := newTestAgent(c)
	master.finishErrs = []error{
		errors.New("connection refused"),
		errors.New("connection refused"),
		errors.New("connection refused"),
		errors.New("connection refused"),
	}
	a.finishTask(&palo.FinishTaskRequest{TaskType: palo.TaskDropTablet, Signature: 3})
	c.Check(master.finishCount(), check.Equals, 3)
}

// A panicking handler becomes a RUNTIME_ERROR acknowledgement; the
// worker loop survives.
func (*AgentSuite) TestHandlerPanicReported(c *check.C) {
	a, _, _ := newTestAgent(c)
	task := createTask(11)
	finish := a.handleSafely(func(*Agent, *palo.TaskRequest) *palo.FinishTaskRequest {
		panic("boom")
	}, &task)
	c.Check(finish.TaskStatus.StatusCode, check.Equals, palo.StatusRuntimeError)
	c.Check(finish.Signature, check.Equals, int64(11))
	c.Check(finish.TaskStatus.ErrorMsgs[0], check.Matches, ".*boom.*")
}

// A successful create bumps the report version; a failed one leaves
// it alone.
func (*AgentSuite) TestCreateBumpsReportVersion(c *check.C) {
	a, engine, _ := newTestAgent(c)
	before := a.ReportVersion()

	task := createTask(1)
	finish := a.createTabletTask(&task)
	c.Check(finish.TaskStatus.StatusCode, check.Equals, palo.StatusOK)
	c.Check(a.ReportVersion(), check.Equals, before+1)
	c.Check(finish.ReportVersion, check.Equals, before+1)

	engine.createErr = errors.New("disk full")
	task = createTask(2)
	finish = a.createTabletTask(&task)
	c.Check(finish.TaskStatus.StatusCode, check.Equals, palo.StatusRuntimeError)
	c.Check(a.ReportVersion(), check.Equals, before+1)
}

func (*AgentSuite) TestCheckConsistencyOutputs(c *check.C) {
	a, engine, _ := newTestAgent(c)
	engine.checksum = 0xfeed
	task := palo.TaskRequest{
		TaskType:  palo.TaskCheckConsistency,
		Signature: 21,
		CheckConsistency: &palo.CheckConsistencyRequest{
			TabletID:    5,
			SchemaHash:  6,
			Version:     7,
			VersionHash: 8,
		},
	}
	finish := a.checkConsistencyTask(&task)
	c.Check(finish.TaskStatus.StatusCode, check.Equals, palo.StatusOK)
	c.Check(finish.TabletChecksum, check.Equals, int64(0xfeed))
	c.Check(finish.RequestVersion, check.Equals, int64(7))
	c.Check(finish.RequestVersionHash, check.Equals, int64(8))
}

func (*AgentSuite) TestMakeSnapshotOutputs(c *check.C) {
	a, engine, _ := newTestAgent(c)
	engine.snapshotPath = "/data/snapshot/20180101"
	task := palo.TaskRequest{
		TaskType:  palo.TaskMakeSnapshot,
		Signature: 22,
		Snapshot:  &palo.SnapshotRequest{TabletID: 5, SchemaHash: 6},
	}
	finish := a.makeSnapshotTask(&task)
	c.Check(finish.TaskStatus.StatusCode, check.Equals, palo.StatusOK)
	c.Check(finish.SnapshotPath, check.Equals, "/data/snapshot/20180101")

	engine.snapshotErr = errors.New("no space")
	finish = a.makeSnapshotTask(&task)
	c.Check(finish.TaskStatus.StatusCode, check.Equals, palo.StatusRuntimeError)
}

func (*AgentSuite) TestMissingPayloadIsAnalysisError(c *check.C) {
	a, _, _ := newTestAgent(c)
	for _, task := range []palo.TaskRequest{
		{TaskType: palo.TaskCreateTablet, Signature: 1},
		{TaskType: palo.TaskDropTablet, Signature: 2},
		{TaskType: palo.TaskStorageMediumMigrate, Signature: 3},
		{TaskType: palo.TaskCancelDeleteData, Signature: 4},
		{TaskType: palo.TaskCheckConsistency, Signature: 5},
		{TaskType: palo.TaskMakeSnapshot, Signature: 6},
		{TaskType: palo.TaskReleaseSnapshot, Signature: 7},
		{TaskType: palo.TaskClone, Signature: 8},
		{TaskType: palo.TaskUpload, Signature: 9},
		{TaskType: palo.TaskRestore, Signature: 10},
	} {
		task := task
		var finish *palo.FinishTaskRequest
		switch task.TaskType {
		case palo.TaskCreateTablet:
			finish = a.createTabletTask(&task)
		case palo.TaskDropTablet:
			finish = a.dropTabletTask(&task)
		case palo.TaskStorageMediumMigrate:
			finish = a.storageMediumMigrateTask(&task)
		case palo.TaskCancelDeleteData:
			finish = a.cancelDeleteDataTask(&task)
		case palo.TaskCheckConsistency:
			finish = a.checkConsistencyTask(&task)
		case palo.TaskMakeSnapshot:
			finish = a.makeSnapshotTask(&task)
		case palo.TaskReleaseSnapshot:
			finish = a.releaseSnapshotTask(&task)
		case palo.TaskClone:
			finish = a.cloneTask(&task)
		case palo.TaskUpload:
			finish = a.uploadTask(&task)
		case palo.TaskRestore:
			finish = a.restoreTask(&task)
		}
		c.Check(finish.TaskStatus.StatusCode, check.Equals, palo.StatusAnalysisError,
			check.Commentf("task type %s", task.TaskType))
	}
}
