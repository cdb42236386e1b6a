// Copyright (C) The Palo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"errors"
	"fmt"

	"github.com/GavinHwa/palo/sdk/go/palo"
	"github.com/sirupsen/logrus"
)

// alterTabletTask runs a schema change or rollup. A failed earlier
// attempt leaves a partial new tablet behind; it is dropped before
// retrying, because a leftover would make the new create fail too.
func (a *Agent) alterTabletTask(task *palo.TaskRequest) *palo.FinishTaskRequest {
	finish := a.newFinish(task)
	logger := a.logger.WithFields(logrus.Fields{
		"TaskType":  task.TaskType,
		"Signature": task.Signature,
	})
	logger.Info("get alter tablet task")

	var processName string
	var err error
	switch task.TaskType {
	case palo.TaskRollup:
		processName = "roll up"
	case palo.TaskSchemaChange:
		processName = "schema change"
	default:
		logger.Warn("alter tablet task type invalid")
		err = ErrTaskRequest
	}
	if err == nil && task.AlterTablet == nil {
		err = ErrTaskRequest
	}

	var errMsgs []string
	if err == nil {
		req := task.AlterTablet
		alterStatus := a.engine.ShowAlterTabletStatus(req.BaseTabletID, req.BaseSchemaHash)
		logger.WithField("AlterStatus", alterStatus).Info("get alter tablet status first")

		if alterStatus == AlterFailed {
			dropErr := a.engine.DropTablet(&palo.DropTabletRequest{
				TabletID:   req.NewTablet.TabletID,
				SchemaHash: req.NewTablet.TabletSchema.SchemaHash,
			})
			if dropErr != nil {
				logger.WithError(dropErr).Warn("delete failed rollup file failed")
				errMsgs = append(errMsgs, fmt.Sprintf("delete failed rollup file failed, signature: %d", task.Signature))
				err = dropErr
			}
		}

		if err == nil && (alterStatus == AlterDone || alterStatus == AlterFailed || alterStatus == AlterWaiting) {
			switch task.TaskType {
			case palo.TaskRollup:
				err = a.engine.CreateRollupTablet(req)
			case palo.TaskSchemaChange:
				err = a.engine.SchemaChange(req)
			}
			if err != nil {
				logger.WithError(err).Warnf("%s failed", processName)
			}
		}
	}

	if err == nil {
		a.reg.nextReportVersion()
		logger.Infof("%s finished", processName)
	}
	finish.ReportVersion = a.reg.loadReportVersion()

	if err == nil {
		req := task.AlterTablet
		info, infoErr := a.getTabletInfo(req.NewTablet.TabletID, req.NewTablet.TabletSchema.SchemaHash, task.Signature)
		if infoErr != nil {
			// The alter itself succeeded; report success
			// without the new tablet's info.
			logger.Warnf("%s success, but get new tablet info failed", processName)
		} else {
			finish.FinishTabletInfos = []palo.TabletInfo{info}
		}
	}

	switch {
	case err == nil:
		logger.Infof("%s success", processName)
		errMsgs = append(errMsgs, processName+" success")
		finish.TaskStatus = palo.TaskStatus{StatusCode: palo.StatusOK, ErrorMsgs: errMsgs}
	case errors.Is(err, ErrTaskRequest):
		logger.Warn("alter tablet request task type invalid")
		errMsgs = append(errMsgs, "alter tablet request new tablet id or schema count invalid")
		finish.TaskStatus = palo.TaskStatus{StatusCode: palo.StatusAnalysisError, ErrorMsgs: errMsgs}
	default:
		logger.Warnf("%s failed", processName)
		errMsgs = append(errMsgs, processName+" failed", "status: "+err.Error())
		finish.TaskStatus = palo.TaskStatus{StatusCode: palo.StatusRuntimeError, ErrorMsgs: errMsgs}
	}
	return finish
}
