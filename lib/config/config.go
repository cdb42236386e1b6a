// Copyright (C) The Palo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package config loads the backend agent configuration from a YAML
// file, filling in defaults for any options the file omits.
package config

import (
	"fmt"
	"io/ioutil"

	"github.com/ghodss/yaml"
)

// Config holds every option the agent core recognizes. Field names
// follow the option names accepted in the config file.
type Config struct {
	CreateTabletWorkerCount         int `json:"create_table_worker_count"`
	DropTabletWorkerCount           int `json:"drop_table_worker_count"`
	PushWorkerCountNormalPriority   int `json:"push_worker_count_normal_priority"`
	PushWorkerCountHighPriority     int `json:"push_worker_count_high_priority"`
	DeleteWorkerCount               int `json:"delete_worker_count"`
	AlterTabletWorkerCount          int `json:"alter_table_worker_count"`
	CloneWorkerCount                int `json:"clone_worker_count"`
	StorageMediumMigrateCount       int `json:"storage_medium_migrate_count"`
	CancelDeleteDataWorkerCount     int `json:"cancel_delete_data_worker_count"`
	CheckConsistencyWorkerCount     int `json:"check_consistency_worker_count"`
	UploadWorkerCount               int `json:"upload_worker_count"`
	RestoreWorkerCount              int `json:"restore_worker_count"`
	MakeSnapshotWorkerCount         int `json:"make_snapshot_worker_count"`
	ReleaseSnapshotWorkerCount      int `json:"release_snapshot_worker_count"`

	ReportTaskIntervalSeconds      int `json:"report_task_interval_seconds"`
	ReportDiskStateIntervalSeconds int `json:"report_disk_state_interval_seconds"`
	ReportTabletIntervalSeconds    int `json:"report_olap_table_interval_seconds"`

	DownloadLowSpeedLimitKBps int `json:"download_low_speed_limit_kbps"`
	DownloadLowSpeedTime      int `json:"download_low_speed_time"`
	SleepOneSecond            int `json:"sleep_one_second"`

	AgentTmpDir       string `json:"agent_tmp_dir"`
	TransFileToolPath string `json:"trans_file_tool_path"`

	BePort        int `json:"be_port"`
	WebserverPort int `json:"webserver_port"`
}

// Default returns a Config with the stock option values.
func Default() *Config {
	return &Config{
		CreateTabletWorkerCount:       3,
		DropTabletWorkerCount:         3,
		PushWorkerCountNormalPriority: 3,
		PushWorkerCountHighPriority:   3,
		DeleteWorkerCount:             3,
		AlterTabletWorkerCount:        3,
		CloneWorkerCount:              3,
		StorageMediumMigrateCount:     1,
		CancelDeleteDataWorkerCount:   3,
		CheckConsistencyWorkerCount:   1,
		UploadWorkerCount:             1,
		RestoreWorkerCount:            3,
		MakeSnapshotWorkerCount:       5,
		ReleaseSnapshotWorkerCount:    5,

		ReportTaskIntervalSeconds:      10,
		ReportDiskStateIntervalSeconds: 60,
		ReportTabletIntervalSeconds:    60,

		DownloadLowSpeedLimitKBps: 50,
		DownloadLowSpeedTime:      300,
		SleepOneSecond:            1,

		AgentTmpDir:       "/tmp/palo",
		TransFileToolPath: "/usr/local/palo/tools/trans_file_tool/trans_files.sh",

		BePort:        9060,
		WebserverPort: 8040,
	}
}

// Load reads the YAML config file at path over the defaults. A
// missing option keeps its default value.
func Load(path string) (*Config, error) {
	cfg := Default()
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %s", path, err)
	}
	err = yaml.Unmarshal(buf, cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %s", path, err)
	}
	return cfg, nil
}
