// Copyright (C) The Palo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/GavinHwa/palo/sdk/go/palo"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// fileClient fetches snapshot files from another backend's HTTP file
// service during clone. Directory listings and length probes ride a
// retrying client; file bodies are streamed with a per-file timeout
// derived from the reported length and re-fetched when the local copy
// comes up short.
type fileClient struct {
	logger logrus.FieldLogger
	agent  *Agent
	retry  *retryablehttp.Client
	plain  *http.Client
}

func newFileClient(logger logrus.FieldLogger, a *Agent) *fileClient {
	retry := retryablehttp.NewClient()
	retry.RetryMax = downloadFileMaxRetry - 1
	retry.Logger = nil
	retry.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		// Sleep attempt-number seconds between tries.
		return a.second * time.Duration(attemptNum)
	}
	retry.HTTPClient = &http.Client{Timeout: listRemoteFileTimeout}
	return &fileClient{
		logger: logger,
		agent:  a,
		retry:  retry,
		plain:  &http.Client{},
	}
}

// downloadURL builds the file-service URL for an absolute remote
// path. A trailing slash on the path asks for a directory listing.
func downloadURL(backend palo.Backend, token, remotePath string) string {
	return fmt.Sprintf("http://%s:%d/api/_tablet/_download?token=%s&file=%s",
		backend.Host, backend.HTTPPort, url.QueryEscape(token), url.QueryEscape(remotePath))
}

// listDir fetches a newline-separated listing of the remote
// directory.
func (fc *fileClient) listDir(url string) ([]string, error) {
	req, err := retryablehttp.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := fc.retry.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list %s: HTTP status %d", url, resp.StatusCode)
	}
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(string(body), "\n") {
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// getLength probes the remote file's size with a HEAD request.
func (fc *fileClient) getLength(url string) (int64, error) {
	req, err := retryablehttp.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := fc.retry.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("head %s: HTTP status %d", url, resp.StatusCode)
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("head %s: no content length", url)
	}
	return resp.ContentLength, nil
}

// download fetches one file to localPath, verifying the local size
// against the reported one. A short or failed copy is retried with
// increasing sleeps; a completed file is locked down to rw-------.
func (fc *fileClient) download(url, localPath string, size int64, timeout time.Duration) error {
	var lastErr error
	for retry := 0; retry < downloadFileMaxRetry; retry++ {
		if retry > 0 {
			fc.agent.sleepSeconds(retry)
		}
		lastErr = fc.downloadOnce(url, localPath, size, timeout)
		if lastErr == nil {
			return nil
		}
		fc.logger.WithFields(logrus.Fields{
			"URL":       url,
			"LocalPath": localPath,
		}).WithError(lastErr).Warn("download file failed")
	}
	return lastErr
}

func (fc *fileClient) downloadOnce(url, localPath string, size int64, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := fc.plain.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: HTTP status %d", url, resp.StatusCode)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	written, err := io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	fc.agent.mDownloadBytes.Add(float64(written))
	if written != size {
		return fmt.Errorf("%w: remote size %d, local size %d", ErrDownloadFailed, size, written)
	}
	return os.Chmod(localPath, 0600)
}
