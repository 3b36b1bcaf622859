// Copyright 2026 The user-sgi Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package client talks to a running usgi daemon over its control socket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/cptn-popcorn/user-sgi/usgi/config"
	"github.com/cptn-popcorn/user-sgi/usgi/server"
)

// Client is an HTTP client for the control server of one daemon instance.
type Client struct {
	rootDir    string
	socket     string
	httpClient http.Client
}

// New returns a Client for the daemon serving conf's root directory. It does
// not connect; use HealthCheck to wait for the daemon to answer.
func New(conf *config.Config) *Client {
	socket := conf.Socket()
	return &Client{
		rootDir: conf.RootDir,
		socket:  socket,
		httpClient: http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					return (&net.Dialer{}).DialContext(ctx, "unix", socket)
				},
			},
		},
	}
}

func (c *Client) get(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://usgi"+path, nil)
	if err != nil {
		return "", err
	}
	return c.do(req)
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://usgi"+path, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (string, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s %s: HTTP %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

// HealthCheck verifies that a usgi daemon serving our root directory answers
// on the control socket. It retries until ctx is done, so it doubles as
// "wait for the daemon to come up".
func (c *Client) HealthCheck(ctx context.Context) error {
	path := "/usgi/healthcheck?" + url.Values{"root": {c.rootDir}}.Encode()
	b := backoff.WithContext(backoff.NewConstantBackOff(100*time.Millisecond), ctx)
	op := func() error {
		body, err := c.get(ctx, path)
		if err != nil {
			return err
		}
		if body != "usgi:OK" {
			return backoff.Permanent(fmt.Errorf("%q does not serve a usgi daemon: got %q", c.socket, body))
		}
		return nil
	}
	return backoff.Retry(op, b)
}

// State returns the daemon and device state.
func (c *Client) State(ctx context.Context) (*server.Status, error) {
	body, err := c.get(ctx, "/state")
	if err != nil {
		return nil, err
	}
	var st server.Status
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		return nil, fmt.Errorf("cannot decode state %q: %v", body, err)
	}
	return &st, nil
}

// Count reads the count attribute. The result is the exact attribute
// content, a decimal with no trailing newline.
func (c *Client) Count(ctx context.Context) (string, error) {
	return c.get(ctx, "/count")
}

// Watch blocks until the daemon reports a count different from last, and
// returns the new count. When the server side watch window expires first,
// the unchanged count is returned; callers are expected to loop.
func (c *Client) Watch(ctx context.Context, last uint32) (uint32, error) {
	body, err := c.get(ctx, "/watch?"+url.Values{"last": {strconv.FormatUint(uint64(last), 10)}}.Encode())
	if err != nil {
		return 0, err
	}
	cur, err := strconv.ParseUint(body, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed count %q: %v", body, err)
	}
	return uint32(cur), nil
}

// Probe asks the daemon to bind the device, from the named device tree node
// or from the first compatible node when node is empty.
func (c *Client) Probe(ctx context.Context, node string) error {
	form := url.Values{}
	if node != "" {
		form.Set("node", node)
	}
	_, err := c.postForm(ctx, "/probe", form)
	return err
}

// Remove asks the daemon to tear the device down.
func (c *Client) Remove(ctx context.Context) error {
	_, err := c.postForm(ctx, "/remove", nil)
	return err
}

// PID returns the daemon process ID.
func (c *Client) PID(ctx context.Context) (int, error) {
	body, err := c.get(ctx, "/usgi/pid")
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(body)
	if err != nil {
		return 0, fmt.Errorf("malformed PID %q: %v", body, err)
	}
	return pid, nil
}

// Metrics returns the raw Prometheus-formatted metric data.
func (c *Client) Metrics(ctx context.Context) (MetricData, error) {
	body, err := c.get(ctx, "/metrics")
	return MetricData(body), err
}

// MetricData is raw Prometheus-formatted metric data.
type MetricData string

func (m MetricData) parse() (map[string]*dto.MetricFamily, error) {
	var buf bytes.Buffer
	buf.WriteString(string(m))
	return (&expfmt.TextParser{}).TextToMetricFamilies(&buf)
}

// GetPrometheusInteger returns the integer value of the metric with the given
// name whose labels are a superset of wantLabels.
func (m MetricData) GetPrometheusInteger(metricName string, wantLabels map[string]string) (int64, time.Time, error) {
	parsed, err := m.parse()
	if err != nil {
		return 0, time.Time{}, err
	}
	metricData, found := parsed[metricName]
	if !found {
		return 0, time.Time{}, fmt.Errorf("metric %q not found", metricName)
	}
	// Find exactly one data point whose labels match wantLabels.
	foundIndex := -1
	for i, data := range metricData.GetMetric() {
		dataLabels := make(map[string]string, len(data.GetLabel()))
		for _, label := range data.GetLabel() {
			dataLabels[label.GetName()] = label.GetValue()
		}
		allMatching := true
		for wantLabel, wantValue := range wantLabels {
			if dataLabels[wantLabel] != wantValue {
				allMatching = false
				break
			}
		}
		if !allMatching {
			continue
		}
		if foundIndex != -1 {
			return 0, time.Time{}, fmt.Errorf("found multiple metric data matching requested labels %v", wantLabels)
		}
		foundIndex = i
	}
	if foundIndex == -1 {
		return 0, time.Time{}, fmt.Errorf("no metric data matching requested labels %v", wantLabels)
	}
	data := metricData.GetMetric()[foundIndex]
	var floatValue float64
	switch {
	case data.GetCounter() != nil && data.GetCounter().Value != nil:
		floatValue = data.GetCounter().GetValue()
	case data.GetGauge() != nil && data.GetGauge().Value != nil:
		floatValue = data.GetGauge().GetValue()
	default:
		return 0, time.Time{}, fmt.Errorf("metric is not numerical: %v", data)
	}
	if math.Floor(floatValue) != floatValue {
		return 0, time.Time{}, fmt.Errorf("value %v cannot be rounded to an integer", floatValue)
	}
	return int64(floatValue), time.UnixMilli(data.GetTimestampMs()), nil
}
