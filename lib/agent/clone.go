// Copyright (C) The Palo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/GavinHwa/palo/sdk/go/palo"
	"github.com/sirupsen/logrus"
)

// cloneTask builds a local replica of a tablet by pulling a snapshot
// from one of the listed source backends. An already-present local
// replica short-circuits to success. After a successful copy the
// local replica's version is checked against the committed version
// the coordinator expects; a stale remainder is dropped and the task
// fails so the coordinator can reschedule.
func (a *Agent) cloneTask(task *palo.TaskRequest) *palo.FinishTaskRequest {
	finish := a.newFinish(task)
	req := task.Clone
	if req == nil {
		finish.TaskStatus = palo.TaskStatus{
			StatusCode: palo.StatusAnalysisError,
			ErrorMsgs:  []string{"clone request missing"},
		}
		return finish
	}
	logger := a.logger.WithFields(logrus.Fields{
		"Signature":  task.Signature,
		"TabletID":   req.TabletID,
		"SchemaHash": req.SchemaHash,
	})
	logger.Info("get clone task")

	var errMsgs []string
	var err error
	tabletExisted := false
	if a.engine.HasTablet(req.TabletID, req.SchemaHash) {
		logger.Info("clone tablet exists yet")
		errMsgs = append(errMsgs, "clone tablet exists yet")
		tabletExisted = true
		err = ErrTabletExists
	}

	var shardRoot string
	if err == nil {
		shardRoot, err = a.engine.ObtainShardPath(req.StorageMedium)
		if err != nil {
			logger.WithError(err).Warn("clone get local root path failed")
			errMsgs = append(errMsgs, "clone get local root path failed")
		}
	}

	if err == nil {
		var srcHost palo.Backend
		srcHost, err = a.cloneCopy(logger, req, shardRoot, &errMsgs)
		if err == nil {
			logger.WithField("SrcHost", srcHost.Host).Info("clone copy done")
			if loadErr := a.engine.LoadHeader(shardRoot, req.TabletID, req.SchemaHash); loadErr != nil {
				logger.WithError(loadErr).Warn("load header failed")
				errMsgs = append(errMsgs, "load header failed")
				err = loadErr
			}
		}
	}

	// A failed clone may leave partial data behind; remove it. A
	// cleanup failure is ignored, the engine garbage-collects
	// orphaned directories.
	if err != nil && !tabletExisted && shardRoot != "" {
		localDataPath := filepath.Join(shardRoot, fmt.Sprint(req.TabletID), fmt.Sprint(req.SchemaHash))
		logger.WithField("LocalPath", localDataPath).Info("clone failed, deleting local dir")
		if rmErr := os.RemoveAll(localDataPath); rmErr != nil {
			logger.WithError(rmErr).Warn("clone delete useless dir failed")
		}
	}

	var tabletInfos []palo.TabletInfo
	if err == nil || tabletExisted {
		info, infoErr := a.getTabletInfo(req.TabletID, req.SchemaHash, task.Signature)
		if infoErr != nil {
			errMsgs = append(errMsgs, "clone success, but get tablet info failed")
			err = infoErr
		} else if stale, why := cloneIsStale(req, info); stale {
			// The cloned replica is behind what the
			// coordinator committed: a stale remainder
			// waiting for drop. Drop it and fail.
			logger.WithFields(logrus.Fields{
				"Version":     info.Version,
				"VersionHash": info.VersionHash,
			}).Info("dropping stale cloned tablet: " + why)
			dropErr := a.engine.DropTablet(&palo.DropTabletRequest{
				TabletID:   req.TabletID,
				SchemaHash: req.SchemaHash,
			})
			if dropErr != nil {
				logger.WithError(dropErr).Warn("drop stale cloned tablet failed")
			}
			errMsgs = append(errMsgs, "cloned tablet is stale")
			err = errors.New("cloned tablet is stale")
		} else {
			logger.WithFields(logrus.Fields{
				"Version":     info.Version,
				"VersionHash": info.VersionHash,
			}).Info("clone get tablet info success")
			tabletInfos = append(tabletInfos, info)
		}
	}

	if err != nil && !errors.Is(err, ErrTabletExists) {
		logger.Warn("clone failed")
		errMsgs = append(errMsgs, "clone failed")
		finish.TaskStatus = palo.TaskStatus{
			StatusCode: palo.StatusRuntimeError,
			ErrorMsgs:  errMsgs,
		}
	} else {
		logger.Info("clone success, set tablet infos")
		finish.FinishTabletInfos = tabletInfos
		finish.TaskStatus = palo.TaskStatus{
			StatusCode: palo.StatusOK,
			ErrorMsgs:  errMsgs,
		}
	}
	return finish
}

// cloneIsStale reports whether the local replica's version is behind
// or inconsistent with the committed version in the request.
func cloneIsStale(req *palo.CloneRequest, info palo.TabletInfo) (bool, string) {
	if req.CommittedVersion == nil || req.CommittedVersionHash == nil {
		return false, ""
	}
	if info.Version < *req.CommittedVersion {
		return true, fmt.Sprintf("version %d behind committed %d", info.Version, *req.CommittedVersion)
	}
	if info.Version == *req.CommittedVersion && info.VersionHash != *req.CommittedVersionHash {
		return true, fmt.Sprintf("version hash %d != committed %d", info.VersionHash, *req.CommittedVersionHash)
	}
	return false, ""
}

// cloneCopy tries each source backend in turn until one yields a
// complete file set: snapshot the remote replica, list the snapshot
// directory, download every file with size verification, release the
// remote snapshot. The remote header file is downloaded last so a
// partial copy never looks loadable.
func (a *Agent) cloneCopy(logger logrus.FieldLogger, req *palo.CloneRequest, shardRoot string, errMsgs *[]string) (palo.Backend, error) {
	token := a.master.MasterInfo().Token
	lastErr := errors.New("no source backends")
	for _, src := range req.SrcBackends {
		logger := logger.WithField("SrcHost", src.Host)
		client := a.newBackendClient(src)

		logger.Info("pre make snapshot")
		result, err := client.MakeSnapshot(context.Background(), palo.SnapshotRequest{
			TabletID:   req.TabletID,
			SchemaHash: req.SchemaHash,
		})
		if err != nil || result.Status.StatusCode != palo.StatusOK {
			logger.Warn("make snapshot failed")
			*errMsgs = append(*errMsgs, "make snapshot failed, backend: "+src.Host)
			lastErr = errors.New("make snapshot failed")
			continue
		}
		if result.SnapshotPath == "" {
			logger.Warn("make snapshot succeeded but returned no path")
			lastErr = errors.New("make snapshot returned no path")
			continue
		}
		snapshotPath := strings.TrimSuffix(result.SnapshotPath, "/")

		lastErr = a.cloneFiles(logger, req, src, token, snapshotPath, shardRoot)

		// Best effort; the remote engine drops unused
		// snapshots on its own eventually.
		if err := client.ReleaseSnapshot(context.Background(), result.SnapshotPath); err != nil {
			logger.WithError(err).Warn("release snapshot failed")
		}

		if lastErr == nil {
			return src, nil
		}
	}
	return palo.Backend{}, lastErr
}

func (a *Agent) cloneFiles(logger logrus.FieldLogger, req *palo.CloneRequest, src palo.Backend, token, snapshotPath, shardRoot string) error {
	remoteDir := fmt.Sprintf("%s/%d/%d/", snapshotPath, req.TabletID, req.SchemaHash)
	localDir := filepath.Join(shardRoot, fmt.Sprint(req.TabletID), fmt.Sprint(req.SchemaHash))

	// Start from an empty local directory so a leftover from an
	// earlier attempt cannot pollute the verified set.
	if err := os.RemoveAll(localDir); err != nil {
		return err
	}
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return err
	}

	names, err := a.files.listDir(downloadURL(src, token, remoteDir))
	if err != nil {
		logger.WithError(err).Warn("clone get remote file list failed over max time")
		return err
	}

	for _, name := range orderCloneFiles(names) {
		fileURL := downloadURL(src, token, remoteDir+name)
		size, err := a.files.getLength(fileURL)
		if err != nil {
			logger.WithField("File", name).WithError(err).Warn("clone copy get file length failed over max time")
			return err
		}
		timeout := estimateTimeout(size, a.cfg.DownloadLowSpeedLimitKBps, a.cfg.DownloadLowSpeedTime)
		err = a.files.download(fileURL, filepath.Join(localDir, name), size, timeout)
		if err != nil {
			logger.WithField("File", name).WithError(err).Warn("download file failed over max retry")
			return err
		}
	}
	return nil
}

// orderCloneFiles puts header files at the tail of the download list.
// The header's presence is what marks the copy complete, so it must
// land only after every data file is fully in place.
func orderCloneFiles(names []string) []string {
	ordered := make([]string, 0, len(names))
	var headers []string
	for _, name := range names {
		if strings.HasSuffix(name, ".hdr") {
			headers = append(headers, name)
		} else {
			ordered = append(ordered, name)
		}
	}
	return append(ordered, headers...)
}

// estimateTimeout bounds a single download attempt: the time the file
// would take at the configured low-speed limit, but never less than
// the low-speed floor.
func estimateTimeout(size int64, lowSpeedLimitKBps, lowSpeedTime int) time.Duration {
	secs := int64(0)
	if lowSpeedLimitKBps > 0 {
		secs = size / int64(lowSpeedLimitKBps) / 1024
	}
	if secs < int64(lowSpeedTime) {
		secs = int64(lowSpeedTime)
	}
	return time.Duration(secs) * time.Second
}
