// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package callback reports job status to the upstream submission
// service. The queue manager treats every reporting error as
// non-fatal; this package only has to deliver or fail, never to
// block grading.
package callback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// Client posts status updates to the upstream callback URL as
// multipart form data: course_id, bundle and status fields, plus one
// "artifact" file part per attached result file.
type Client struct {
	URL      string
	CourseID string
	Logger   logrus.FieldLogger

	setupOnce sync.Once
	http      *retryablehttp.Client
}

func (c *Client) setup() {
	c.http = retryablehttp.NewClient()
	c.http.RetryMax = 3
	c.http.Logger = nil
	if c.Logger != nil {
		c.http.Logger = c.Logger.WithField("client", "callback")
	}
}

// Update delivers one status update with the given artifacts
// attached.
func (c *Client) Update(ctx context.Context, bundle, status string, artifacts []string) error {
	c.setupOnce.Do(c.setup)
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range map[string]string{
		"course_id": c.CourseID,
		"bundle":    bundle,
		"status":    status,
	} {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	for _, path := range artifacts {
		if err := attachFile(w, path); err != nil {
			return fmt.Errorf("error attaching %s: %v", path, err)
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", c.URL, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned %s", resp.Status)
	}
	return nil
}

func attachFile(w *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	part, err := w.CreateFormFile("artifact", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// LogOnly is the callback used when no CallbackURL is configured:
// updates are written to the log and reported as delivered.
type LogOnly struct {
	Logger logrus.FieldLogger
}

// Update logs the update and succeeds.
func (l LogOnly) Update(ctx context.Context, bundle, status string, artifacts []string) error {
	l.Logger.WithFields(logrus.Fields{
		"bundle":    bundle,
		"status":    status,
		"artifacts": len(artifacts),
	}).Info("upstream update (no CallbackURL configured)")
	return nil
}
