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

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/cptn-popcorn/user-sgi/pkg/errors/linuxerr"
	"github.com/cptn-popcorn/user-sgi/pkg/metric"
	"github.com/cptn-popcorn/user-sgi/pkg/sync"
	"github.com/cptn-popcorn/user-sgi/pkg/usersgi"
)

// testBackend is a scriptable Backend.
type testBackend struct {
	mu      sync.Mutex
	status  usersgi.Status
	lines   map[uint32]string
	count   uint32
	changed chan struct{}

	readErr   error
	probeErr  error
	removeErr error
	probed    []string
	removals  int
}

func newTestBackend() *testBackend {
	return &testBackend{changed: make(chan struct{})}
}

func (b *testBackend) DeviceStatus() usersgi.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *testBackend) Lines() map[uint32]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lines
}

func (b *testBackend) ReadCount() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readErr != nil {
		return "", b.readErr
	}
	return fmt.Sprintf("%d", b.count), nil
}

func (b *testBackend) WaitCount(ctx context.Context, last uint32) (uint32, error) {
	for {
		b.mu.Lock()
		err, cur, ch := b.readErr, b.count, b.changed
		b.mu.Unlock()
		if err != nil {
			return 0, err
		}
		if cur != last {
			return cur, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return cur, nil
		}
	}
}

func (b *testBackend) Probe(node string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probed = append(b.probed, node)
	return b.probeErr
}

func (b *testBackend) Remove() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removals++
	return b.removeErr
}

// bump increments the count and wakes blocked WaitCount calls.
func (b *testBackend) bump() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count++
	close(b.changed)
	b.changed = make(chan struct{})
}

func newTestServer(t *testing.T, b *testBackend, opts Options) *httptest.Server {
	t.Helper()
	if opts.WatchTimeout == 0 {
		opts.WatchTimeout = 10 * time.Second
	}
	srv := httptest.NewServer(NewHandler(b, opts))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("GET %s: reading body: %v", path, err)
	}
	return resp.StatusCode, string(body)
}

func postForm(t *testing.T, srv *httptest.Server, path string, form url.Values) (int, string) {
	t.Helper()
	resp, err := http.PostForm(srv.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("POST %s: reading body: %v", path, err)
	}
	return resp.StatusCode, string(body)
}

func TestIndex(t *testing.T) {
	srv := newTestServer(t, newTestBackend(), Options{})
	code, body := get(t, srv, "/")
	if code != http.StatusOK {
		t.Fatalf("GET /: got HTTP code %d, wanted %d", code, http.StatusOK)
	}
	if !strings.Contains(body, "usgi control server") {
		t.Errorf("GET /: unexpected body:\n%s", body)
	}
	if code, _ := get(t, srv, "/does-not-exist"); code != http.StatusNotFound {
		t.Errorf("GET /does-not-exist: got HTTP code %d, wanted %d", code, http.StatusNotFound)
	}
}

func TestState(t *testing.T) {
	b := newTestBackend()
	b.status = usersgi.Status{State: usersgi.StateActive, Name: "user-sgi@7", IPINumber: 7, Count: 3}
	b.lines = map[uint32]string{7: "user sgi"}
	srv := newTestServer(t, b, Options{PID: 1234})

	code, body := get(t, srv, "/state")
	if code != http.StatusOK {
		t.Fatalf("GET /state: got HTTP code %d, wanted %d; body:\n%s", code, http.StatusOK, body)
	}
	var st Status
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		t.Fatalf("GET /state: cannot decode body %q: %v", body, err)
	}
	if st.State != usersgi.StateActive {
		t.Errorf("state: got %v, wanted %v", st.State, usersgi.StateActive)
	}
	if st.Name != "user-sgi@7" || st.IPINumber != 7 || st.Count != 3 {
		t.Errorf("device status: got %+v", st.Status)
	}
	if got, want := st.Lines[7], "user sgi"; got != want {
		t.Errorf("lines[7]: got %q, wanted %q", got, want)
	}
	if st.PID != 1234 {
		t.Errorf("pid: got %d, wanted 1234", st.PID)
	}
	if st.Version == "" {
		t.Error("version: got empty string")
	}
}

func TestCount(t *testing.T) {
	b := newTestBackend()
	b.count = 42
	srv := newTestServer(t, b, Options{})
	code, body := get(t, srv, "/count")
	if code != http.StatusOK {
		t.Fatalf("GET /count: got HTTP code %d, wanted %d", code, http.StatusOK)
	}
	// The body is the exact attribute content, without a trailing newline.
	if body != "42" {
		t.Errorf("GET /count: got body %q, wanted %q", body, "42")
	}
}

func TestCountNoDevice(t *testing.T) {
	b := newTestBackend()
	b.readErr = fmt.Errorf("no active device: %w", linuxerr.ENODEV)
	srv := newTestServer(t, b, Options{})
	if code, _ := get(t, srv, "/count"); code != http.StatusNotFound {
		t.Errorf("GET /count: got HTTP code %d, wanted %d", code, http.StatusNotFound)
	}
}

func TestWatchStaleValue(t *testing.T) {
	b := newTestBackend()
	b.count = 1
	srv := newTestServer(t, b, Options{})
	code, body := get(t, srv, "/watch?last=0")
	if code != http.StatusOK || body != "1" {
		t.Errorf("GET /watch?last=0: got HTTP code %d body %q, wanted %d %q", code, body, http.StatusOK, "1")
	}
}

func TestWatchBlocksUntilChange(t *testing.T) {
	b := newTestBackend()
	b.count = 1
	srv := newTestServer(t, b, Options{})

	type watchResult struct {
		code int
		body string
		err  error
	}
	ch := make(chan watchResult, 1)
	go func() {
		resp, err := http.Get(srv.URL + "/watch?last=1")
		if err != nil {
			ch <- watchResult{err: err}
			return
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		ch <- watchResult{code: resp.StatusCode, body: string(body), err: err}
	}()

	// Give the request time to block, then generate the change.
	time.Sleep(100 * time.Millisecond)
	b.bump()

	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("watch request failed: %v", r.err)
		}
		if r.code != http.StatusOK || r.body != "2" {
			t.Errorf("watch: got HTTP code %d body %q, wanted %d %q", r.code, r.body, http.StatusOK, "2")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("watch request did not return after a count change")
	}
}

func TestWatchExpiry(t *testing.T) {
	b := newTestBackend()
	b.count = 5
	srv := newTestServer(t, b, Options{WatchTimeout: 50 * time.Millisecond})
	code, body := get(t, srv, "/watch?last=5")
	if code != http.StatusOK || body != "5" {
		t.Errorf("expired watch: got HTTP code %d body %q, wanted %d %q", code, body, http.StatusOK, "5")
	}
}

func TestWatchValidation(t *testing.T) {
	srv := newTestServer(t, newTestBackend(), Options{})
	for _, path := range []string{"/watch", "/watch?last=", "/watch?last=abc", "/watch?last=-1"} {
		if code, _ := get(t, srv, path); code != http.StatusBadRequest {
			t.Errorf("GET %s: got HTTP code %d, wanted %d", path, code, http.StatusBadRequest)
		}
	}
}

func TestProbe(t *testing.T) {
	b := newTestBackend()
	srv := newTestServer(t, b, Options{})
	if code, _ := get(t, srv, "/probe"); code != http.StatusMethodNotAllowed {
		t.Errorf("GET /probe: got HTTP code %d, wanted %d", code, http.StatusMethodNotAllowed)
	}
	code, body := postForm(t, srv, "/probe", url.Values{"node": {"sgi@1"}})
	if code != http.StatusOK || body != "OK" {
		t.Errorf("POST /probe: got HTTP code %d body %q, wanted %d %q", code, body, http.StatusOK, "OK")
	}
	b.mu.Lock()
	probed := append([]string(nil), b.probed...)
	b.mu.Unlock()
	if len(probed) != 1 || probed[0] != "sgi@1" {
		t.Errorf("probed nodes: got %v, wanted [sgi@1]", probed)
	}
}

func TestProbeBusy(t *testing.T) {
	b := newTestBackend()
	b.probeErr = fmt.Errorf("device already active: %w", linuxerr.EBUSY)
	srv := newTestServer(t, b, Options{})
	if code, _ := postForm(t, srv, "/probe", nil); code != http.StatusConflict {
		t.Errorf("POST /probe: got HTTP code %d, wanted %d", code, http.StatusConflict)
	}
}

func TestRemove(t *testing.T) {
	b := newTestBackend()
	srv := newTestServer(t, b, Options{})
	if code, _ := get(t, srv, "/remove"); code != http.StatusMethodNotAllowed {
		t.Errorf("GET /remove: got HTTP code %d, wanted %d", code, http.StatusMethodNotAllowed)
	}
	code, body := postForm(t, srv, "/remove", nil)
	if code != http.StatusOK || body != "OK" {
		t.Errorf("POST /remove: got HTTP code %d body %q, wanted %d %q", code, body, http.StatusOK, "OK")
	}
	b.mu.Lock()
	removals := b.removals
	b.mu.Unlock()
	if removals != 1 {
		t.Errorf("removals: got %d, wanted 1", removals)
	}
}

func TestRemoveNoDevice(t *testing.T) {
	b := newTestBackend()
	b.removeErr = fmt.Errorf("no active device: %w", linuxerr.ENODEV)
	srv := newTestServer(t, b, Options{})
	if code, _ := postForm(t, srv, "/remove", nil); code != http.StatusNotFound {
		t.Errorf("POST /remove: got HTTP code %d, wanted %d", code, http.StatusNotFound)
	}
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t, newTestBackend(), Options{RootDir: "/run/usgi-test"})
	code, body := get(t, srv, "/usgi/healthcheck?root=/run/usgi-test")
	if code != http.StatusOK || body != "usgi:OK" {
		t.Errorf("healthcheck: got HTTP code %d body %q, wanted %d %q", code, body, http.StatusOK, "usgi:OK")
	}
	for _, path := range []string{"/usgi/healthcheck", "/usgi/healthcheck?root=/somewhere-else"} {
		if code, _ := get(t, srv, path); code != http.StatusBadRequest {
			t.Errorf("GET %s: got HTTP code %d, wanted %d", path, code, http.StatusBadRequest)
		}
	}
}

func TestPID(t *testing.T) {
	srv := newTestServer(t, newTestBackend(), Options{PID: 4321})
	code, body := get(t, srv, "/usgi/pid")
	if code != http.StatusOK || body != "4321" {
		t.Errorf("GET /usgi/pid: got HTTP code %d body %q, wanted %d %q", code, body, http.StatusOK, "4321")
	}
}

var (
	metricSetup sync.Once
	testMetric  *metric.Uint64Metric
)

// setupMetrics registers a test metric and freezes metric registration.
// Registration is process-wide, so this runs at most once per test binary.
func setupMetrics() {
	metricSetup.Do(func() {
		testMetric = metric.MustCreateNewUint64Metric("control_test_total", "Test metric for the control server.")
		if err := metric.Initialize(); err != nil {
			panic(err)
		}
	})
}

func TestMetrics(t *testing.T) {
	setupMetrics()
	testMetric.IncrementBy(7)
	srv := newTestServer(t, newTestBackend(), Options{RootDir: "/run/usgi-test", ExporterPrefix: "usgi_", PID: 99})
	code, body := get(t, srv, "/metrics")
	if code != http.StatusOK {
		t.Fatalf("GET /metrics: got HTTP code %d, wanted %d; body:\n%s", code, http.StatusOK, body)
	}
	for _, want := range []string{
		"# Data for usgi daemon serving root directory /run/usgi-test",
		"# TYPE usgi_control_test_total counter",
		`usgi_control_test_total{pid="99"} 7`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("GET /metrics: body does not contain %q:\n%s", want, body)
		}
	}
}
