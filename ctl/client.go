// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/featurebasedb/objectdb/errors"
	"github.com/featurebasedb/objectdb/tracing"
)

// client makes requests against a running objectdb server.
type client struct {
	host     string
	username string
	password string
	http     *http.Client
}

func newClient(host, username, password string, timeout time.Duration) *client {
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return &client{
		host:     strings.TrimSuffix(host, "/"),
		username: username,
		password: password,
		http:     &http.Client{Timeout: timeout},
	}
}

// get issues a GET and returns the body of a successful response. The
// caller closes it.
func (c *client) get(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	tracing.GlobalTracer.InjectHTTPHeaders(req)
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "requesting %s", path)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.Body, nil
	}
	defer resp.Body.Close()
	return nil, errors.Wrap(errors.UnmarshalJSON(resp.Body), resp.Status)
}
