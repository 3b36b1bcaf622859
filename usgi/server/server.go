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

// Package server implements the HTTP control surface of the usgi daemon.
// It is served over a unix domain socket and is meant to be consumed by the
// usgi command line and by Prometheus scrapers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cptn-popcorn/user-sgi/pkg/metric"
	"github.com/cptn-popcorn/user-sgi/pkg/prometheus"
	"github.com/cptn-popcorn/user-sgi/pkg/usersgi"
	"github.com/cptn-popcorn/user-sgi/usgi/version"
)

// Backend is the part of the daemon the control server drives. It is
// implemented by boot.Loader.
type Backend interface {
	// DeviceStatus returns the current driver status.
	DeviceStatus() usersgi.Status

	// Lines returns the claimed interrupt lines by owner name.
	Lines() map[uint32]string

	// ReadCount reads the count attribute of the active device.
	ReadCount() (string, error)

	// WaitCount blocks until the count differs from last, the attribute is
	// removed, or ctx is done. A done context returns the unchanged value.
	WaitCount(ctx context.Context, last uint32) (uint32, error)

	// Probe instantiates the named device tree node, or the first
	// compatible node when name is empty.
	Probe(name string) error

	// Remove tears down the active device.
	Remove() error
}

// Options configures the control server handler.
type Options struct {
	// RootDir is the root directory this daemon serves. Health checks must
	// present it to prove they are talking to the right instance.
	RootDir string

	// ExporterPrefix is prepended to all exported metric names.
	ExporterPrefix string

	// WatchTimeout bounds how long a single watch request may block.
	WatchTimeout time.Duration

	// PID is the daemon process ID.
	PID int
}

// Status is the response of the state endpoint.
type Status struct {
	usersgi.Status

	// Lines maps claimed interrupt lines to their owner names.
	Lines map[uint32]string `json:"lines,omitempty"`

	// Version is the daemon version.
	Version string `json:"version"`

	// PID is the daemon process ID.
	PID int `json:"pid"`
}

// handler serves the control endpoints.
type handler struct {
	backend Backend
	opts    Options
}

// NewHandler returns the HTTP handler for the daemon control surface.
func NewHandler(backend Backend, opts Options) http.Handler {
	h := &handler{backend: backend, opts: opts}
	mux := http.NewServeMux()
	mux.HandleFunc("/usgi/healthcheck", logRequest(h.serveHealthCheck))
	mux.HandleFunc("/usgi/pid", logRequest(h.servePID))
	mux.HandleFunc("/state", logRequest(h.serveState))
	mux.HandleFunc("/count", logRequest(h.serveCount))
	mux.HandleFunc("/watch", logRequest(h.serveWatch))
	mux.HandleFunc("/metrics", logRequest(h.serveMetrics))
	mux.HandleFunc("/probe", logRequest(h.serveProbe))
	mux.HandleFunc("/remove", logRequest(h.serveRemove))
	mux.HandleFunc("/", logRequest(h.serveIndex))
	return mux
}

// serveIndex serves the index page.
func (h *handler) serveIndex(w http.ResponseWriter, req *http.Request) httpResult {
	if req.URL.Path != "/" {
		return httpResult{http.StatusNotFound, errors.New("path not found")}
	}
	fmt.Fprintf(w, "usgi control server\n")
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "GET  /state   device state as JSON\n")
	fmt.Fprintf(w, "GET  /count   current interrupt count\n")
	fmt.Fprintf(w, "GET  /watch   block until the count changes from ?last=N\n")
	fmt.Fprintf(w, "GET  /metrics Prometheus metric data\n")
	fmt.Fprintf(w, "POST /probe   bind the device, optionally from node ?node=NAME\n")
	fmt.Fprintf(w, "POST /remove  tear the device down\n")
	return httpOK
}

// serveState serves the daemon and device state as JSON.
func (h *handler) serveState(w http.ResponseWriter, req *http.Request) httpResult {
	st := Status{
		Status:  h.backend.DeviceStatus(),
		Lines:   h.backend.Lines(),
		Version: version.Version(),
		PID:     h.opts.PID,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(&st); err != nil {
		return httpResult{http.StatusInternalServerError, err}
	}
	return httpOK
}

// serveCount serves a read of the count attribute. The body is the exact
// attribute content, a decimal with no trailing newline.
func (h *handler) serveCount(w http.ResponseWriter, req *http.Request) httpResult {
	val, err := h.backend.ReadCount()
	if err != nil {
		return errorResult(err)
	}
	io.WriteString(w, val)
	return httpOK
}

// serveWatch blocks until the count attribute changes away from the value
// given in the required last parameter, then serves the new count. When the
// watch window expires first, the unchanged count is served; clients loop.
func (h *handler) serveWatch(w http.ResponseWriter, req *http.Request) httpResult {
	if err := req.ParseForm(); err != nil {
		return httpResult{http.StatusBadRequest, err}
	}
	lastStr := req.Form.Get("last")
	if lastStr == "" {
		return httpResult{http.StatusBadRequest, errors.New("missing last parameter")}
	}
	last, err := strconv.ParseUint(lastStr, 10, 32)
	if err != nil {
		return httpResult{http.StatusBadRequest, fmt.Errorf("malformed last parameter %q: %v", lastStr, err)}
	}
	ctx, cancel := context.WithTimeout(req.Context(), h.opts.WatchTimeout)
	defer cancel()
	cur, err := h.backend.WaitCount(ctx, uint32(last))
	if err != nil {
		return errorResult(err)
	}
	io.WriteString(w, strconv.FormatUint(uint64(cur), 10))
	return httpOK
}

// serveMetrics serves metric data in Prometheus format.
func (h *handler) serveMetrics(w http.ResponseWriter, req *http.Request) httpResult {
	snapshot, err := metric.Snapshot()
	if err != nil {
		return httpResult{http.StatusServiceUnavailable, err}
	}
	written, err := prometheus.Write(w, prometheus.ExportOptions{
		CommentHeader: fmt.Sprintf("Data for usgi daemon serving root directory %s", h.opts.RootDir),
	}, snapshot, prometheus.SnapshotExportOptions{
		ExporterPrefix: h.opts.ExporterPrefix,
		ExtraLabels:    map[string]string{"pid": strconv.Itoa(h.opts.PID)},
	})
	if err != nil {
		if written == 0 {
			return httpResult{http.StatusServiceUnavailable, err}
		}
		// We already started writing the response, so the 200 OK status code
		// is out the door. The client most likely hung up on us.
		return httpOK
	}
	return httpOK
}

// serveProbe binds the device.
func (h *handler) serveProbe(w http.ResponseWriter, req *http.Request) httpResult {
	if req.Method != http.MethodPost {
		return httpResult{http.StatusMethodNotAllowed, errors.New("probe requires POST")}
	}
	if err := req.ParseForm(); err != nil {
		return httpResult{http.StatusBadRequest, err}
	}
	if err := h.backend.Probe(req.Form.Get("node")); err != nil {
		return errorResult(err)
	}
	io.WriteString(w, "OK")
	return httpOK
}

// serveRemove tears the device down.
func (h *handler) serveRemove(w http.ResponseWriter, req *http.Request) httpResult {
	if req.Method != http.MethodPost {
		return httpResult{http.StatusMethodNotAllowed, errors.New("remove requires POST")}
	}
	if err := h.backend.Remove(); err != nil {
		return errorResult(err)
	}
	io.WriteString(w, "OK")
	return httpOK
}

// serveHealthCheck serves the healthcheck endpoint.
// Returns a response prefixed by "usgi:OK" on success. Clients use this to
// assert that they are talking to a usgi daemon serving the root directory
// they expect, as opposed to some other random HTTP server.
func (h *handler) serveHealthCheck(w http.ResponseWriter, req *http.Request) httpResult {
	if err := req.ParseForm(); err != nil {
		return httpResult{http.StatusBadRequest, err}
	}
	if rootDir := req.Form.Get("root"); rootDir != h.opts.RootDir {
		return httpResult{http.StatusBadRequest, fmt.Errorf("this control server is configured to serve root directory: %s", h.opts.RootDir)}
	}
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "usgi:OK")
	return httpOK
}

// servePID serves the PID of the daemon process.
func (h *handler) servePID(w http.ResponseWriter, req *http.Request) httpResult {
	io.WriteString(w, strconv.Itoa(h.opts.PID))
	return httpOK
}
