// Copyright (C) The Palo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package palo provides the wire types shared between a backend node
// and the cluster coordinator ("master"), and an HTTP client for the
// coordinator's task/report APIs.
package palo

// TaskType identifies a class of coordinator-issued task. Each
// coordinator-issued type is routed to a worker pool on the backend;
// schema change and rollup share one pool.
type TaskType string

const (
	TaskCreateTablet         TaskType = "CREATE_TABLE"
	TaskDropTablet           TaskType = "DROP_TABLE"
	TaskPush                 TaskType = "PUSH"
	TaskDelete               TaskType = "DELETE"
	TaskSchemaChange         TaskType = "SCHEMA_CHANGE"
	TaskRollup               TaskType = "ROLLUP"
	TaskClone                TaskType = "CLONE"
	TaskStorageMediumMigrate TaskType = "STORAGE_MEDIUM_MIGRATE"
	TaskCancelDeleteData     TaskType = "CANCEL_DELETE_DATA"
	TaskCheckConsistency     TaskType = "CHECK_CONSISTENCY"
	TaskMakeSnapshot         TaskType = "MAKE_SNAPSHOT"
	TaskReleaseSnapshot      TaskType = "RELEASE_SNAPSHOT"
	TaskUpload               TaskType = "UPLOAD"
	TaskRestore              TaskType = "RESTORE"

	// Internal-only types for the periodic reporter loops. They
	// never arrive from the coordinator.
	TaskReportTask      TaskType = "REPORT_TASK"
	TaskReportDiskState TaskType = "REPORT_DISK_STATE"
	TaskReportTablet    TaskType = "REPORT_OLAP_TABLE"
)

// Priority is a push task's priority, and also the lane a push worker
// serves. The coordinator marks urgent loads HIGH; everything else is
// NORMAL.
type Priority string

const (
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
)

// PushType distinguishes the subtypes of a push task.
type PushType string

const (
	PushLoad       PushType = "LOAD"
	PushDelete     PushType = "DELETE"
	PushLoadDelete PushType = "LOAD_DELETE"
)

// StatusCode is the coordinator-visible outcome of a task.
type StatusCode string

const (
	StatusOK            StatusCode = "OK"
	StatusAnalysisError StatusCode = "ANALYSIS_ERROR"
	StatusRuntimeError  StatusCode = "RUNTIME_ERROR"
)

// StorageMedium selects the disk class a tablet lives on.
type StorageMedium string

const (
	MediumHDD StorageMedium = "HDD"
	MediumSSD StorageMedium = "SSD"
)

// Backend identifies one backend node.
type Backend struct {
	Host     string `json:"host"`
	BePort   int    `json:"be_port"`
	HTTPPort int    `json:"http_port"`
}

// MasterInfo is what the backend knows about the coordinator. Port 0
// means no heartbeat has been received yet.
type MasterInfo struct {
	Host  string `json:"host"`
	Port  int    `json:"port"`
	Token string `json:"token"`
}

// TabletInfo describes the state of one local tablet replica.
type TabletInfo struct {
	TabletID    int64 `json:"tablet_id"`
	SchemaHash  int64 `json:"schema_hash"`
	Version     int64 `json:"version"`
	VersionHash int64 `json:"version_hash"`
	RowCount    int64 `json:"row_count"`
	DataSize    int64 `json:"data_size"`
}

// Disk is one storage root's capacity report.
type Disk struct {
	RootPath              string  `json:"root_path"`
	DiskTotalCapacity     float64 `json:"disk_total_capacity"`
	DataUsedCapacity      float64 `json:"data_used_capacity"`
	DiskAvailableCapacity float64 `json:"disk_available_capacity"`
	Used                  bool    `json:"used"`
}

// ResourceInfo carries the submitting user for fair-share accounting.
type ResourceInfo struct {
	User  string `json:"user"`
	Group string `json:"group,omitempty"`
}

// TaskRequest is one coordinator-issued task. Exactly one of the
// per-type request fields is set, matching TaskType. A TaskRequest is
// immutable after submission.
type TaskRequest struct {
	TaskType     TaskType      `json:"task_type"`
	Signature    int64         `json:"signature"`
	Priority     Priority      `json:"priority,omitempty"`
	ResourceInfo *ResourceInfo `json:"resource_info,omitempty"`

	CreateTablet         *CreateTabletRequest         `json:"create_tablet_req,omitempty"`
	DropTablet           *DropTabletRequest           `json:"drop_tablet_req,omitempty"`
	Push                 *PushRequest                 `json:"push_req,omitempty"`
	AlterTablet          *AlterTabletRequest          `json:"alter_tablet_req,omitempty"`
	Clone                *CloneRequest                `json:"clone_req,omitempty"`
	StorageMediumMigrate *StorageMediumMigrateRequest `json:"storage_medium_migrate_req,omitempty"`
	CancelDeleteData     *CancelDeleteDataRequest     `json:"cancel_delete_data_req,omitempty"`
	CheckConsistency     *CheckConsistencyRequest     `json:"check_consistency_req,omitempty"`
	Snapshot             *SnapshotRequest             `json:"snapshot_req,omitempty"`
	ReleaseSnapshot      *ReleaseSnapshotRequest      `json:"release_snapshot_req,omitempty"`
	Upload               *UploadRequest               `json:"upload_req,omitempty"`
	Restore              *RestoreRequest              `json:"restore_req,omitempty"`
}

// User returns the submitting user, or "" if none was attached.
func (t *TaskRequest) User() string {
	if t.ResourceInfo == nil {
		return ""
	}
	return t.ResourceInfo.User
}

// TabletSchema is the physical schema of a tablet to create.
type TabletSchema struct {
	SchemaHash      int64  `json:"schema_hash"`
	ShortKeyColumns int    `json:"short_key_column_count"`
	StorageType     string `json:"storage_type,omitempty"`
}

type CreateTabletRequest struct {
	TabletID      int64         `json:"tablet_id"`
	TabletSchema  TabletSchema  `json:"tablet_schema"`
	StorageMedium StorageMedium `json:"storage_medium,omitempty"`
	Version       int64         `json:"version,omitempty"`
	VersionHash   int64         `json:"version_hash,omitempty"`
}

type DropTabletRequest struct {
	TabletID   int64 `json:"tablet_id"`
	SchemaHash int64 `json:"schema_hash"`
}

type PushRequest struct {
	TabletID     int64    `json:"tablet_id"`
	SchemaHash   int64    `json:"schema_hash"`
	PushType     PushType `json:"push_type"`
	Version      int64    `json:"version"`
	VersionHash  int64    `json:"version_hash"`
	HTTPFilePath string   `json:"http_file_path,omitempty"`
	HTTPFileSize int64    `json:"http_file_size,omitempty"`
	TimeoutSecs  int64    `json:"timeout,omitempty"`
}

type AlterTabletRequest struct {
	BaseTabletID   int64               `json:"base_tablet_id"`
	BaseSchemaHash int64               `json:"base_schema_hash"`
	NewTablet      CreateTabletRequest `json:"new_tablet_req"`
}

type CloneRequest struct {
	TabletID             int64         `json:"tablet_id"`
	SchemaHash           int64         `json:"schema_hash"`
	StorageMedium        StorageMedium `json:"storage_medium,omitempty"`
	SrcBackends          []Backend     `json:"src_backends"`
	CommittedVersion     *int64        `json:"committed_version,omitempty"`
	CommittedVersionHash *int64        `json:"committed_version_hash,omitempty"`
}

type StorageMediumMigrateRequest struct {
	TabletID      int64         `json:"tablet_id"`
	SchemaHash    int64         `json:"schema_hash"`
	StorageMedium StorageMedium `json:"storage_medium"`
}

type CancelDeleteDataRequest struct {
	TabletID    int64 `json:"tablet_id"`
	SchemaHash  int64 `json:"schema_hash"`
	Version     int64 `json:"version"`
	VersionHash int64 `json:"version_hash"`
}

type CheckConsistencyRequest struct {
	TabletID    int64 `json:"tablet_id"`
	SchemaHash  int64 `json:"schema_hash"`
	Version     int64 `json:"version"`
	VersionHash int64 `json:"version_hash"`
}

type SnapshotRequest struct {
	TabletID    int64 `json:"tablet_id"`
	SchemaHash  int64 `json:"schema_hash"`
	Version     int64 `json:"version,omitempty"`
	VersionHash int64 `json:"version_hash,omitempty"`
}

type ReleaseSnapshotRequest struct {
	SnapshotPath string `json:"snapshot_path"`
}

type UploadRequest struct {
	TabletID               int64             `json:"tablet_id,omitempty"`
	LocalFilePath          string            `json:"local_file_path"`
	RemoteFilePath         string            `json:"remote_file_path"`
	RemoteSourceProperties map[string]string `json:"remote_source_properties"`
}

type RestoreRequest struct {
	TabletID               int64             `json:"tablet_id"`
	SchemaHash             int64             `json:"schema_hash"`
	RemoteFilePath         string            `json:"remote_file_path"`
	RemoteSourceProperties map[string]string `json:"remote_source_properties"`
}

// TaskStatus is the outcome half of a finish or report exchange.
type TaskStatus struct {
	StatusCode StatusCode `json:"status_code"`
	ErrorMsgs  []string   `json:"error_msgs,omitempty"`
}

// FinishTaskRequest acknowledges a task's terminal result to the
// coordinator. The coordinator treats (TaskType, Signature) as an
// idempotency key.
type FinishTaskRequest struct {
	Backend            Backend      `json:"backend"`
	TaskType           TaskType     `json:"task_type"`
	Signature          int64        `json:"signature"`
	TaskStatus         TaskStatus   `json:"task_status"`
	ReportVersion      int64        `json:"report_version,omitempty"`
	FinishTabletInfos  []TabletInfo `json:"finish_tablet_infos,omitempty"`
	SnapshotPath       string       `json:"snapshot_path,omitempty"`
	TabletChecksum     int64        `json:"tablet_checksum,omitempty"`
	RequestVersion     int64        `json:"request_version,omitempty"`
	RequestVersionHash int64        `json:"request_version_hash,omitempty"`
}

// ReportRequest is a periodic backend→coordinator report. Exactly one
// of Tasks, Disks, Tablets is populated per cycle; the coordinator
// absorbs and replaces the corresponding state.
type ReportRequest struct {
	Backend       Backend              `json:"backend"`
	Tasks         map[TaskType][]int64 `json:"tasks,omitempty"`
	Disks         map[string]Disk      `json:"disks,omitempty"`
	Tablets       []TabletInfo         `json:"tablets,omitempty"`
	ReportVersion int64                `json:"report_version,omitempty"`
}

// MasterResult is the coordinator's response to a finish or report.
type MasterResult struct {
	Status TaskStatus `json:"status"`
}

// SnapshotResult is a remote backend's response to a make-snapshot
// request.
type SnapshotResult struct {
	Status       TaskStatus `json:"status"`
	SnapshotPath string     `json:"snapshot_path,omitempty"`
}
