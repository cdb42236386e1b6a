// Copyright (C) The Palo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"

	"github.com/GavinHwa/palo/sdk/go/palo"
)

// Sentinel errors returned by engine operations and task handlers.
// Everything else maps to a RUNTIME_ERROR at the finish boundary.
var (
	// ErrTaskRequest means the request itself was malformed or of
	// an unsupported subtype; reported as ANALYSIS_ERROR.
	ErrTaskRequest = errors.New("invalid task request")

	// ErrTabletExists is returned when a clone target already has
	// a local replica; reported as OK (idempotent success).
	ErrTabletExists = errors.New("tablet already exists")

	// ErrDownloadFailed means a fetched file did not match its
	// reported length.
	ErrDownloadFailed = errors.New("file download failed")
)

// AlterStatus is the state of the most recent alter job on a base
// tablet, as recorded by the storage engine.
type AlterStatus string

const (
	AlterWaiting AlterStatus = "WAITING"
	AlterRunning AlterStatus = "RUNNING"
	AlterDone    AlterStatus = "DONE"
	AlterFailed  AlterStatus = "FAILED"
)

// A StorageEngine is the local tablet store the agent drives. All
// methods must be safe for concurrent calls from every worker.
type StorageEngine interface {
	CreateTablet(*palo.CreateTabletRequest) error
	DropTablet(*palo.DropTabletRequest) error
	DeleteData(*palo.PushRequest) ([]palo.TabletInfo, error)
	CancelDelete(*palo.CancelDeleteDataRequest) error

	SchemaChange(*palo.AlterTabletRequest) error
	CreateRollupTablet(*palo.AlterTabletRequest) error
	ShowAlterTabletStatus(tabletID, schemaHash int64) AlterStatus

	StorageMediumMigrate(*palo.StorageMediumMigrateRequest) error
	ComputeChecksum(tabletID, schemaHash, version, versionHash int64) (uint32, error)

	MakeSnapshot(*palo.SnapshotRequest) (snapshotPath string, err error)
	ReleaseSnapshot(snapshotPath string) error

	// ObtainShardPath picks a local shard root on the given
	// storage medium; clone and restore place tablet data under
	// {shardRoot}/{tabletID}/{schemaHash}.
	ObtainShardPath(medium palo.StorageMedium) (string, error)
	LoadHeader(shardRoot string, tabletID, schemaHash int64) error

	HasTablet(tabletID, schemaHash int64) bool
	GetTabletInfo(tabletID, schemaHash int64) (palo.TabletInfo, error)

	// TabletReport enumerates every local tablet for the periodic
	// tablet report.
	TabletReport() ([]palo.TabletInfo, error)
	// DiskReport gathers per-root capacity/usage.
	DiskReport() ([]palo.Disk, error)

	// MarkDiskReported / MarkTabletReported record that a
	// disk-broken wakeup has been serviced, so the engine need
	// not signal again for the same failure.
	MarkDiskReported()
	MarkTabletReported()
}

// A MasterClient reports task results and periodic state to the
// coordinator. *palo.Client implements it.
type MasterClient interface {
	FinishTask(context.Context, *palo.FinishTaskRequest) (*palo.MasterResult, error)
	Report(context.Context, *palo.ReportRequest) (*palo.MasterResult, error)
	MasterInfo() palo.MasterInfo
}

// A BackendClient drives another backend's agent service during
// clone. *palo.AgentClient implements it.
type BackendClient interface {
	MakeSnapshot(context.Context, palo.SnapshotRequest) (*palo.SnapshotResult, error)
	ReleaseSnapshot(ctx context.Context, snapshotPath string) error
}

// A Pusher runs the ingest pipeline for one load task: fetch the
// prepared remote file and apply it to the target tablet version.
type Pusher interface {
	Init() error
	Process() ([]palo.TabletInfo, error)
}

// NewPusherFunc builds a Pusher for one push request.
type NewPusherFunc func(*palo.PushRequest) Pusher
