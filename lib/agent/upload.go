// Copyright (C) The Palo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/GavinHwa/palo/sdk/go/palo"
	"github.com/sirupsen/logrus"
)

// labelSeq distinguishes concurrent transfer labels; goroutines have
// no stable id to use the way a thread id would be.
var labelSeq uint64

func transferLabel(tabletID int64) string {
	label := fmt.Sprintf("%d_%d", atomic.AddUint64(&labelSeq, 1), time.Now().Unix())
	if tabletID != 0 {
		label = fmt.Sprintf("%s_%d", label, tabletID)
	}
	return label
}

// writeSourceInfo serializes the remote source properties to a temp
// info file the transfer tool reads. The caller removes it when the
// transfer concludes.
func (a *Agent) writeSourceInfo(props map[string]string, label string) (string, error) {
	if err := os.MkdirAll(a.cfg.AgentTmpDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(a.cfg.AgentTmpDir, label)
	buf, err := json.Marshal(props)
	if err != nil {
		return "", err
	}
	return path, ioutil.WriteFile(path, buf, 0644)
}

// runTransferTool shells out to the configured transfer script:
//
//	sh {tool} {label} {upload|download} {local} {remote} {info} [file_list]
func (a *Agent) runTransferTool(logger logrus.FieldLogger, args ...string) error {
	cmd := exec.Command("sh", append([]string{a.cfg.TransFileToolPath}, args...)...)
	logger.WithField("Command", strings.Join(cmd.Args, " ")).Info("running transfer tool")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// uploadTask pushes a tablet's files to a remote source through the
// transfer tool.
func (a *Agent) uploadTask(task *palo.TaskRequest) *palo.FinishTaskRequest {
	finish := a.newFinish(task)
	logger := a.logger.WithField("Signature", task.Signature)
	logger.Info("get upload task")

	req := task.Upload
	if req == nil {
		finish.TaskStatus = palo.TaskStatus{
			StatusCode: palo.StatusAnalysisError,
			ErrorMsgs:  []string{"upload request missing"},
		}
		return finish
	}

	status := palo.TaskStatus{StatusCode: palo.StatusOK}
	label := transferLabel(0)
	infoFile, err := a.writeSourceInfo(req.RemoteSourceProperties, label)
	if err != nil {
		logger.WithError(err).Warn("write remote source info to file failed")
		status = palo.TaskStatus{
			StatusCode: palo.StatusRuntimeError,
			ErrorMsgs:  []string{"write remote source info to file failed, path: " + infoFile},
		}
	}

	if status.StatusCode == palo.StatusOK {
		localPath := req.LocalFilePath
		if req.TabletID != 0 {
			localPath = filepath.Join(localPath, fmt.Sprint(req.TabletID))
		}
		err = a.runTransferTool(logger, label, "upload", localPath, req.RemoteFilePath, infoFile, "file_list")
		if err != nil {
			logger.WithError(err).Warn("upload file failed")
			status = palo.TaskStatus{
				StatusCode: palo.StatusRuntimeError,
				ErrorMsgs:  []string{err.Error()},
			}
		}
	}

	if infoFile != "" {
		os.RemoveAll(infoFile)
	}

	finish.TaskStatus = status
	return finish
}

// restoreTask pulls a tablet's files from a remote source, renames
// them to the restored tablet id, and loads the header.
func (a *Agent) restoreTask(task *palo.TaskRequest) *palo.FinishTaskRequest {
	finish := a.newFinish(task)
	logger := a.logger.WithField("Signature", task.Signature)
	logger.Info("get restore task")

	req := task.Restore
	if req == nil {
		finish.TaskStatus = palo.TaskStatus{
			StatusCode: palo.StatusAnalysisError,
			ErrorMsgs:  []string{"restore request missing"},
		}
		return finish
	}

	status := palo.TaskStatus{StatusCode: palo.StatusOK}
	label := transferLabel(req.TabletID)
	infoFile, err := a.writeSourceInfo(req.RemoteSourceProperties, label)
	if err != nil {
		logger.WithError(err).Warn("write remote source info to file failed")
		status = palo.TaskStatus{
			StatusCode: palo.StatusRuntimeError,
			ErrorMsgs:  []string{"write remote source info to file failed, path: " + infoFile},
		}
	}

	var shardRoot string
	if status.StatusCode == palo.StatusOK {
		shardRoot, err = a.engine.ObtainShardPath(palo.MediumHDD)
		if err != nil {
			logger.WithError(err).Warn("restore get local root path failed")
			status = palo.TaskStatus{
				StatusCode: palo.StatusRuntimeError,
				ErrorMsgs:  []string{"restore get local root path failed"},
			}
		}
	}

	localPath := filepath.Join(shardRoot, fmt.Sprint(req.TabletID))
	if status.StatusCode == palo.StatusOK {
		err = a.runTransferTool(logger, label, "download", localPath, req.RemoteFilePath, infoFile)
		if err != nil {
			logger.WithError(err).Warn("download file failed")
			status = palo.TaskStatus{
				StatusCode: palo.StatusRuntimeError,
				ErrorMsgs:  []string{err.Error()},
			}
		}
	}

	if infoFile != "" {
		os.RemoveAll(infoFile)
	}

	if status.StatusCode == palo.StatusOK {
		if err = renameRestoredFiles(logger, localPath, req.TabletID); err != nil {
			logger.WithError(err).Warn("rename restored files failed")
			status = palo.TaskStatus{
				StatusCode: palo.StatusRuntimeError,
				ErrorMsgs:  []string{err.Error()},
			}
		}
	}

	if status.StatusCode == palo.StatusOK {
		if err = a.engine.LoadHeader(shardRoot, req.TabletID, req.SchemaHash); err != nil {
			logger.WithError(err).Warn("load header failed")
			status = palo.TaskStatus{
				StatusCode: palo.StatusRuntimeError,
				ErrorMsgs:  []string{"load header failed"},
			}
		}
	}

	if status.StatusCode == palo.StatusOK {
		info, infoErr := a.getTabletInfo(req.TabletID, req.SchemaHash, task.Signature)
		if infoErr != nil {
			logger.Warn("restore success, but get new tablet info failed")
		} else {
			finish.FinishTabletInfos = []palo.TabletInfo{info}
		}
	}

	finish.TaskStatus = status
	return finish
}

// renameRestoredFiles renames downloaded tablet files to the restored
// tablet id: for .idx/.dat files the prefix before the last "_" is
// replaced, for .hdr files the prefix before the last ".". Other
// files are left alone.
func renameRestoredFiles(logger logrus.FieldLogger, root string, tabletID int64) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}
	return filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return err
		}
		name := fi.Name()
		ext := filepath.Ext(name)
		if ext != ".hdr" && ext != ".idx" && ext != ".dat" {
			return nil
		}
		sep := "_"
		if ext == ".hdr" {
			sep = "."
		}
		pos := strings.LastIndex(name, sep)
		if pos < 0 {
			return nil
		}
		newName := fmt.Sprintf("%d%s", tabletID, name[pos:])
		if newName == name {
			return nil
		}
		newPath := filepath.Join(filepath.Dir(path), newName)
		logger.WithFields(logrus.Fields{
			"From": path,
			"To":   newPath,
		}).Info("renaming restored file")
		return os.Rename(path, newPath)
	})
}
