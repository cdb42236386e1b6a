// Copyright (C) The Palo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"io/ioutil"
	"sync"
	"time"

	"github.com/GavinHwa/palo/lib/config"
	"github.com/GavinHwa/palo/sdk/go/palo"
	"github.com/sirupsen/logrus"
	check "gopkg.in/check.v1"
)

func testLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.Out = ioutil.Discard
	return logger
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.CreateTabletWorkerCount = 1
	cfg.DropTabletWorkerCount = 1
	cfg.PushWorkerCountNormalPriority = 1
	cfg.PushWorkerCountHighPriority = 1
	cfg.DeleteWorkerCount = 1
	cfg.AlterTabletWorkerCount = 1
	cfg.CloneWorkerCount = 1
	cfg.StorageMediumMigrateCount = 1
	cfg.CancelDeleteDataWorkerCount = 1
	cfg.CheckConsistencyWorkerCount = 1
	cfg.UploadWorkerCount = 1
	cfg.RestoreWorkerCount = 1
	cfg.MakeSnapshotWorkerCount = 1
	cfg.ReleaseSnapshotWorkerCount = 1
	cfg.ReportTaskIntervalSeconds = 10
	cfg.ReportDiskStateIntervalSeconds = 10
	cfg.ReportTabletIntervalSeconds = 10
	return cfg
}

// newTestAgent builds an agent around stub collaborators with
// millisecond "seconds" so retry sleeps don't slow the suite down.
func newTestAgent(c *check.C) (*Agent, *stubEngine, *stubMaster) {
	engine := &stubEngine{alterStatus: AlterWaiting}
	master := &stubMaster{
		info:     palo.MasterInfo{Host: "coordinator.example", Port: 9020, Token: "testtoken"},
		finished: make(chan palo.FinishTaskRequest, 100),
	}
	a := New(testLogger(), testConfig(), engine, master, func(req *palo.PushRequest) Pusher {
		return &stubPusher{}
	}, nil)
	a.second = time.Millisecond
	return a, engine, master
}

type stubEngine struct {
	mtx sync.Mutex

	createErr    error
	dropErr      error
	deleteErr    error
	cancelErr    error
	schemaErr    error
	rollupErr    error
	migrateErr   error
	checksumErr  error
	checksum     uint32
	snapshotPath string
	snapshotErr  error
	releaseErr   error
	shardPath    string
	shardErr     error
	loadErr      error
	hasTablet    bool
	tabletInfo   palo.TabletInfo
	infoErr      error
	alterStatus  AlterStatus
	disks        []palo.Disk
	diskErr      error
	tablets      []palo.TabletInfo
	tabletErr    error

	created        []palo.CreateTabletRequest
	dropped        []palo.DropTabletRequest
	deleted        []palo.PushRequest
	schemaChanges  []palo.AlterTabletRequest
	rollups        []palo.AlterTabletRequest
	loadedHeaders  []int64
	diskReported   bool
	tabletReported bool
}

func (e *stubEngine) CreateTablet(req *palo.CreateTabletRequest) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.created = append(e.created, *req)
	return e.createErr
}

func (e *stubEngine) DropTablet(req *palo.DropTabletRequest) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.dropped = append(e.dropped, *req)
	return e.dropErr
}

func (e *stubEngine) DeleteData(req *palo.PushRequest) ([]palo.TabletInfo, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.deleted = append(e.deleted, *req)
	if e.deleteErr != nil {
		return nil, e.deleteErr
	}
	return []palo.TabletInfo{e.tabletInfo}, nil
}

func (e *stubEngine) CancelDelete(*palo.CancelDeleteDataRequest) error { return e.cancelErr }

func (e *stubEngine) SchemaChange(req *palo.AlterTabletRequest) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.schemaChanges = append(e.schemaChanges, *req)
	return e.schemaErr
}

func (e *stubEngine) CreateRollupTablet(req *palo.AlterTabletRequest) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.rollups = append(e.rollups, *req)
	return e.rollupErr
}

func (e *stubEngine) ShowAlterTabletStatus(tabletID, schemaHash int64) AlterStatus {
	return e.alterStatus
}

func (e *stubEngine) StorageMediumMigrate(*palo.StorageMediumMigrateRequest) error {
	return e.migrateErr
}

func (e *stubEngine) ComputeChecksum(tabletID, schemaHash, version, versionHash int64) (uint32, error) {
	return e.checksum, e.checksumErr
}

func (e *stubEngine) MakeSnapshot(*palo.SnapshotRequest) (string, error) {
	return e.snapshotPath, e.snapshotErr
}

func (e *stubEngine) ReleaseSnapshot(string) error { return e.releaseErr }

func (e *stubEngine) ObtainShardPath(palo.StorageMedium) (string, error) {
	return e.shardPath, e.shardErr
}

func (e *stubEngine) LoadHeader(shardRoot string, tabletID, schemaHash int64) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.loadedHeaders = append(e.loadedHeaders, tabletID)
	return e.loadErr
}

func (e *stubEngine) HasTablet(tabletID, schemaHash int64) bool { return e.hasTablet }

func (e *stubEngine) GetTabletInfo(tabletID, schemaHash int64) (palo.TabletInfo, error) {
	if e.infoErr != nil {
		return palo.TabletInfo{}, e.infoErr
	}
	info := e.tabletInfo
	info.TabletID = tabletID
	info.SchemaHash = schemaHash
	return info, nil
}

func (e *stubEngine) TabletReport() ([]palo.TabletInfo, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.tablets, e.tabletErr
}

func (e *stubEngine) DiskReport() ([]palo.Disk, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.disks, e.diskErr
}

func (e *stubEngine) MarkDiskReported() {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.diskReported = true
}

func (e *stubEngine) MarkTabletReported() {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.tabletReported = true
}

type stubMaster struct {
	mtx        sync.Mutex
	info       palo.MasterInfo
	finishErrs []error
	finishLog  []palo.FinishTaskRequest
	reports    []palo.ReportRequest
	finished   chan palo.FinishTaskRequest
}

func (m *stubMaster) FinishTask(ctx context.Context, req *palo.FinishTaskRequest) (*palo.MasterResult, error) {
	m.mtx.Lock()
	m.finishLog = append(m.finishLog, *req)
	var err error
	if len(m.finishErrs) > 0 {
		err = m.finishErrs[0]
		m.finishErrs = m.finishErrs[1:]
	}
	m.mtx.Unlock()
	if err != nil {
		return nil, err
	}
	if m.finished != nil {
		m.finished <- *req
	}
	return &palo.MasterResult{Status: palo.TaskStatus{StatusCode: palo.StatusOK}}, nil
}

func (m *stubMaster) Report(ctx context.Context, req *palo.ReportRequest) (*palo.MasterResult, error) {
	m.mtx.Lock()
	m.reports = append(m.reports, *req)
	m.mtx.Unlock()
	return &palo.MasterResult{Status: palo.TaskStatus{StatusCode: palo.StatusOK}}, nil
}

func (m *stubMaster) MasterInfo() palo.MasterInfo {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.info
}

func (m *stubMaster) setPort(port int) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.info.Port = port
}

func (m *stubMaster) finishCount() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return len(m.finishLog)
}

func (m *stubMaster) reportCount() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return len(m.reports)
}

type stubPusher struct {
	initErr     error
	processErrs []error
	infos       []palo.TabletInfo
	processed   int
}

func (p *stubPusher) Init() error { return p.initErr }

func (p *stubPusher) Process() ([]palo.TabletInfo, error) {
	p.processed++
	if len(p.processErrs) > 0 {
		err := p.processErrs[0]
		p.processErrs = p.processErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return p.infos, nil
}

type stubBackendClient struct {
	mtx          sync.Mutex
	snapshotPath string
	snapshotErr  error
	released     []string
}

func (b *stubBackendClient) MakeSnapshot(ctx context.Context, req palo.SnapshotRequest) (*palo.SnapshotResult, error) {
	if b.snapshotErr != nil {
		return nil, b.snapshotErr
	}
	return &palo.SnapshotResult{
		Status:       palo.TaskStatus{StatusCode: palo.StatusOK},
		SnapshotPath: b.snapshotPath,
	}, nil
}

func (b *stubBackendClient) ReleaseSnapshot(ctx context.Context, snapshotPath string) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.released = append(b.released, snapshotPath)
	return nil
}
