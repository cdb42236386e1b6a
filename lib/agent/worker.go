// Copyright (C) The Palo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"

	"github.com/GavinHwa/palo/sdk/go/palo"
	"github.com/sirupsen/logrus"
)

// Handlers for the task kinds that follow the plain dequeue → engine
// op → finish shape. The clone, alter, push and upload/restore
// handlers live in their own files.

func (a *Agent) createTabletTask(task *palo.TaskRequest) *palo.FinishTaskRequest {
	finish := a.newFinish(task)
	status := palo.TaskStatus{StatusCode: palo.StatusOK}
	if task.CreateTablet == nil {
		status = palo.TaskStatus{
			StatusCode: palo.StatusAnalysisError,
			ErrorMsgs:  []string{"create tablet request missing"},
		}
	} else if err := a.engine.CreateTablet(task.CreateTablet); err != nil {
		a.logger.WithFields(logrus.Fields{
			"Signature": task.Signature,
			"TabletID":  task.CreateTablet.TabletID,
		}).WithError(err).Warn("create tablet failed")
		status = palo.TaskStatus{
			StatusCode: palo.StatusRuntimeError,
			ErrorMsgs:  []string{err.Error()},
		}
	} else {
		a.reg.nextReportVersion()
	}
	finish.ReportVersion = a.reg.loadReportVersion()
	finish.TaskStatus = status
	return finish
}

func (a *Agent) dropTabletTask(task *palo.TaskRequest) *palo.FinishTaskRequest {
	finish := a.newFinish(task)
	status := palo.TaskStatus{StatusCode: palo.StatusOK}
	if task.DropTablet == nil {
		status = palo.TaskStatus{
			StatusCode: palo.StatusAnalysisError,
			ErrorMsgs:  []string{"drop tablet request missing"},
		}
	} else if err := a.engine.DropTablet(task.DropTablet); err != nil {
		a.logger.WithFields(logrus.Fields{
			"Signature": task.Signature,
			"TabletID":  task.DropTablet.TabletID,
		}).WithError(err).Warn("drop tablet failed")
		status = palo.TaskStatus{
			StatusCode: palo.StatusRuntimeError,
			ErrorMsgs:  []string{"drop tablet failed: " + err.Error()},
		}
	}
	finish.TaskStatus = status
	return finish
}

func (a *Agent) storageMediumMigrateTask(task *palo.TaskRequest) *palo.FinishTaskRequest {
	finish := a.newFinish(task)
	status := palo.TaskStatus{StatusCode: palo.StatusOK}
	if task.StorageMediumMigrate == nil {
		status = palo.TaskStatus{
			StatusCode: palo.StatusAnalysisError,
			ErrorMsgs:  []string{"storage medium migrate request missing"},
		}
	} else if err := a.engine.StorageMediumMigrate(task.StorageMediumMigrate); err != nil {
		a.logger.WithField("Signature", task.Signature).WithError(err).Warn("storage medium migrate failed")
		status = palo.TaskStatus{
			StatusCode: palo.StatusRuntimeError,
			ErrorMsgs:  []string{err.Error()},
		}
	} else {
		a.logger.WithField("Signature", task.Signature).Info("storage medium migrate success")
	}
	finish.TaskStatus = status
	return finish
}

func (a *Agent) cancelDeleteDataTask(task *palo.TaskRequest) *palo.FinishTaskRequest {
	finish := a.newFinish(task)
	a.logger.WithField("Signature", task.Signature).Info("get cancel delete data task")
	status := palo.TaskStatus{StatusCode: palo.StatusOK}
	if task.CancelDeleteData == nil {
		status = palo.TaskStatus{
			StatusCode: palo.StatusAnalysisError,
			ErrorMsgs:  []string{"cancel delete data request missing"},
		}
	} else if err := a.engine.CancelDelete(task.CancelDeleteData); err != nil {
		a.logger.WithField("Signature", task.Signature).WithError(err).Warn("cancel delete data failed")
		status = palo.TaskStatus{
			StatusCode: palo.StatusRuntimeError,
			ErrorMsgs:  []string{err.Error()},
		}
	}
	finish.TaskStatus = status
	return finish
}

func (a *Agent) checkConsistencyTask(task *palo.TaskRequest) *palo.FinishTaskRequest {
	finish := a.newFinish(task)
	status := palo.TaskStatus{StatusCode: palo.StatusOK}
	if task.CheckConsistency == nil {
		finish.TaskStatus = palo.TaskStatus{
			StatusCode: palo.StatusAnalysisError,
			ErrorMsgs:  []string{"check consistency request missing"},
		}
		return finish
	}
	req := task.CheckConsistency
	checksum, err := a.engine.ComputeChecksum(req.TabletID, req.SchemaHash, req.Version, req.VersionHash)
	if err != nil {
		a.logger.WithFields(logrus.Fields{
			"Signature": task.Signature,
			"TabletID":  req.TabletID,
		}).WithError(err).Warn("check consistency failed")
		status = palo.TaskStatus{
			StatusCode: palo.StatusRuntimeError,
			ErrorMsgs:  []string{err.Error()},
		}
	} else {
		a.logger.WithFields(logrus.Fields{
			"Signature": task.Signature,
			"Checksum":  checksum,
		}).Info("check consistency success")
	}
	finish.TaskStatus = status
	finish.TabletChecksum = int64(checksum)
	finish.RequestVersion = req.Version
	finish.RequestVersionHash = req.VersionHash
	return finish
}

func (a *Agent) makeSnapshotTask(task *palo.TaskRequest) *palo.FinishTaskRequest {
	finish := a.newFinish(task)
	a.logger.WithField("Signature", task.Signature).Info("get snapshot task")
	status := palo.TaskStatus{StatusCode: palo.StatusOK}
	if task.Snapshot == nil {
		finish.TaskStatus = palo.TaskStatus{
			StatusCode: palo.StatusAnalysisError,
			ErrorMsgs:  []string{"snapshot request missing"},
		}
		return finish
	}
	snapshotPath, err := a.engine.MakeSnapshot(task.Snapshot)
	if err != nil {
		a.logger.WithFields(logrus.Fields{
			"TabletID": task.Snapshot.TabletID,
			"Version":  task.Snapshot.Version,
		}).WithError(err).Warn("make snapshot failed")
		status = palo.TaskStatus{
			StatusCode: palo.StatusRuntimeError,
			ErrorMsgs:  []string{fmt.Sprintf("make snapshot failed: %s", err)},
		}
	} else {
		a.logger.WithFields(logrus.Fields{
			"TabletID":     task.Snapshot.TabletID,
			"SnapshotPath": snapshotPath,
		}).Info("make snapshot success")
	}
	finish.TaskStatus = status
	finish.SnapshotPath = snapshotPath
	return finish
}

func (a *Agent) releaseSnapshotTask(task *palo.TaskRequest) *palo.FinishTaskRequest {
	finish := a.newFinish(task)
	a.logger.WithField("Signature", task.Signature).Info("get release snapshot task")
	status := palo.TaskStatus{StatusCode: palo.StatusOK}
	if task.ReleaseSnapshot == nil {
		finish.TaskStatus = palo.TaskStatus{
			StatusCode: palo.StatusAnalysisError,
			ErrorMsgs:  []string{"release snapshot request missing"},
		}
		return finish
	}
	snapshotPath := task.ReleaseSnapshot.SnapshotPath
	if err := a.engine.ReleaseSnapshot(snapshotPath); err != nil {
		a.logger.WithField("SnapshotPath", snapshotPath).WithError(err).Warn("release snapshot failed")
		status = palo.TaskStatus{
			StatusCode: palo.StatusRuntimeError,
			ErrorMsgs:  []string{fmt.Sprintf("release snapshot failed: %s", err)},
		}
	} else {
		a.logger.WithField("SnapshotPath", snapshotPath).Info("release snapshot success")
	}
	finish.TaskStatus = status
	return finish
}

// getTabletInfo wraps the engine lookup with logging; used by the
// clone, alter and restore paths to attach resulting tablet state to
// a finish request.
func (a *Agent) getTabletInfo(tabletID, schemaHash, signature int64) (palo.TabletInfo, error) {
	info, err := a.engine.GetTabletInfo(tabletID, schemaHash)
	if err != nil {
		a.logger.WithFields(logrus.Fields{
			"TabletID":   tabletID,
			"SchemaHash": schemaHash,
			"Signature":  signature,
		}).WithError(err).Warn("get tablet info failed")
	}
	return info, err
}
