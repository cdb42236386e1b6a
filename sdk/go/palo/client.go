// Copyright (C) The Palo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package palo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// A Client talks to the cluster coordinator's agent APIs. The
// coordinator address is learned from heartbeats after boot, so a
// zero MasterInfo (Port==0) is a valid transient state; requests made
// before the first heartbeat fail.
//
// A Client is safe for concurrent use by all worker goroutines.
type Client struct {
	// HTTP client used to make requests. If nil,
	// DefaultHTTPClient is used.
	Client *http.Client

	mtx  sync.Mutex
	info MasterInfo
}

// DefaultHTTPClient is used by a Client whose Client field is nil.
var DefaultHTTPClient = &http.Client{Timeout: time.Minute}

// NewClient returns a Client that will send requests to the given
// coordinator once its address is known.
func NewClient(info MasterInfo) *Client {
	return &Client{info: info}
}

// SetMasterInfo updates the coordinator address/token, normally from
// a received heartbeat.
func (c *Client) SetMasterInfo(info MasterInfo) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.info = info
}

// MasterInfo returns the last known coordinator address/token.
func (c *Client) MasterInfo() MasterInfo {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.info
}

// FinishTask reports a task's terminal result. The coordinator is
// idempotent on (TaskType, Signature), so retrying a lost response is
// safe.
func (c *Client) FinishTask(ctx context.Context, req *FinishTaskRequest) (*MasterResult, error) {
	var resp MasterResult
	err := c.doRequest(ctx, "/api/task/finish", req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Report sends a periodic task/disk/tablet report. The coordinator
// replaces its stored state for whichever section is present.
func (c *Client) Report(ctx context.Context, req *ReportRequest) (*MasterResult, error) {
	var resp MasterResult
	err := c.doRequest(ctx, "/api/report", req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) doRequest(ctx context.Context, path string, reqBody, respBody interface{}) error {
	info := c.MasterInfo()
	if info.Port == 0 {
		return fmt.Errorf("coordinator address not known yet")
	}
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("http://%s:%d%s", info.Host, info.Port, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	httpClient := c.Client
	if httpClient == nil {
		httpClient = DefaultHTTPClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: HTTP status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(respBody)
}

// An AgentClient talks to another backend's agent service, used
// during clone to snapshot the source replica.
type AgentClient struct {
	Backend Backend

	// HTTP client used to make requests. If nil,
	// DefaultHTTPClient is used.
	Client *http.Client
}

// MakeSnapshot asks the remote backend to produce an on-disk snapshot
// of the given tablet, returning the remote snapshot path.
func (c *AgentClient) MakeSnapshot(ctx context.Context, req SnapshotRequest) (*SnapshotResult, error) {
	var resp SnapshotResult
	err := c.doRequest(ctx, "/api/snapshot/make", req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReleaseSnapshot asks the remote backend to delete a snapshot
// produced by MakeSnapshot.
func (c *AgentClient) ReleaseSnapshot(ctx context.Context, snapshotPath string) error {
	var resp MasterResult
	err := c.doRequest(ctx, "/api/snapshot/release", ReleaseSnapshotRequest{SnapshotPath: snapshotPath}, &resp)
	if err != nil {
		return err
	}
	if resp.Status.StatusCode != StatusOK {
		return fmt.Errorf("release snapshot %s: status %s", snapshotPath, resp.Status.StatusCode)
	}
	return nil
}

func (c *AgentClient) doRequest(ctx context.Context, path string, reqBody, respBody interface{}) error {
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("http://%s:%d%s", c.Backend.Host, c.Backend.BePort, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	httpClient := c.Client
	if httpClient == nil {
		httpClient = DefaultHTTPClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: HTTP status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(respBody)
}
