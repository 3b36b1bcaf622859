// Copyright 2025 The user-sgi Authors.
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

package sysfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cptn-popcorn/user-sgi/pkg/atomicbitops"
	"github.com/cptn-popcorn/user-sgi/pkg/errors/linuxerr"
)

// counterSource serves a numeric value the way a device attribute would.
type counterSource struct {
	value atomicbitops.Uint32
}

// Generate implements AttrSource.Generate.
func (s *counterSource) Generate(buf *bytes.Buffer) error {
	fmt.Fprintf(buf, "%d", s.value.Load())
	return nil
}

func TestCreateOpenRead(t *testing.T) {
	r := NewRegistry()
	src := &counterSource{}
	src.value.Store(42)

	if err := r.CreateFile("devices/d0", NewAttribute("count", src)); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}

	f, err := r.Open("devices/d0/count")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	got, err := f.ReadValue()
	if err != nil {
		t.Fatalf("ReadValue failed: %v", err)
	}
	if got != "42" {
		t.Errorf("wrong content: got %q, wanted %q", got, "42")
	}
}

func TestCreateExisting(t *testing.T) {
	r := NewRegistry()
	if err := r.CreateFile("devices/d0", NewAttribute("count", &counterSource{})); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	if err := r.CreateFile("devices/d0", NewAttribute("count", &counterSource{})); !linuxerr.Equals(linuxerr.EEXIST, err) {
		t.Errorf("second CreateFile: got %v, wanted EEXIST", err)
	}
}

func TestOpenMissing(t *testing.T) {
	r := NewRegistry()
	for _, path := range []string{"devices/d0/count", "count", "devices/d0/absent"} {
		if _, err := r.Open(path); !linuxerr.Equals(linuxerr.ENOENT, err) {
			t.Errorf("Open(%q): got %v, wanted ENOENT", path, err)
		}
	}
}

func TestReadPass(t *testing.T) {
	r := NewRegistry()
	src := &counterSource{}
	if err := r.CreateFile("devices/d0", NewAttribute("count", src)); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	f, err := r.Open("devices/d0/count")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// First pass.
	buf := make([]byte, 16)
	n, err := f.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got := string(buf[:n]); got != "0" {
		t.Errorf("first pass: got %q, wanted %q", got, "0")
	}

	// The value moves on, but the pass has been generated: further reads
	// return EOF rather than fresh content.
	src.value.Store(7)
	if _, err := f.Read(buf); err != io.EOF {
		t.Errorf("read past end of pass: got %v, wanted io.EOF", err)
	}

	// Seeking to the start begins a new pass with the current value.
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	n, err = f.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got := string(buf[:n]); got != "7" {
		t.Errorf("second pass: got %q, wanted %q", got, "7")
	}
}

func TestPartialReads(t *testing.T) {
	r := NewRegistry()
	src := &counterSource{}
	src.value.Store(12345)
	if err := r.CreateFile("devices/d0", NewAttribute("count", src)); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	f, err := r.Open("devices/d0/count")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// Byte-at-a-time reads serve a single generated pass even while the
	// value changes underneath.
	var out []byte
	one := make([]byte, 1)
	for {
		n, err := f.Read(one)
		if n > 0 {
			out = append(out, one[0])
			src.value.Add(1)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
	}
	if got := string(out); got != "12345" {
		t.Errorf("reassembled content: got %q, wanted %q", got, "12345")
	}
}

func TestSeek(t *testing.T) {
	r := NewRegistry()
	src := &counterSource{}
	src.value.Store(908)
	if err := r.CreateFile("devices/d0", NewAttribute("count", src)); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	f, err := r.Open("devices/d0/count")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	buf := make([]byte, 16)
	if _, err := f.Read(buf); err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if _, err := f.Seek(-1, io.SeekStart); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("Seek(-1, start): got %v, wanted EINVAL", err)
	}
	if _, err := f.Seek(0, io.SeekEnd); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("Seek(0, end): got %v, wanted EINVAL", err)
	}
	pos, err := f.Seek(-2, io.SeekCurrent)
	if err != nil {
		t.Fatalf("Seek(-2, current) failed: %v", err)
	}
	if pos != 1 {
		t.Errorf("Seek(-2, current): got pos %d, wanted 1", pos)
	}
	n, err := f.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got := string(buf[:n]); got != "08" {
		t.Errorf("read after seek: got %q, wanted %q", got, "08")
	}
}

func TestNotifyWakesWaiter(t *testing.T) {
	r := NewRegistry()
	src := &counterSource{}
	if err := r.CreateFile("devices/d0", NewAttribute("count", src)); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	f, err := r.Open("devices/d0/count")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := f.ReadValue(); err != nil {
		t.Fatalf("ReadValue failed: %v", err)
	}
	if got := f.Readiness(ChangedEvents); got != 0 {
		t.Fatalf("change pending before any notify: %#x", got)
	}

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- f.WaitChanged(ctx)
	}()

	src.value.Add(1)
	r.Notify("devices/d0", "count")

	if err := <-done; err != nil {
		t.Fatalf("WaitChanged failed: %v", err)
	}
	got, err := f.ReadValue()
	if err != nil {
		t.Fatalf("ReadValue failed: %v", err)
	}
	if got != "1" {
		t.Errorf("value after wakeup: got %q, wanted %q", got, "1")
	}
	if f.Readiness(ChangedEvents) != 0 {
		t.Errorf("change still pending after re-read")
	}
}

func TestNotifyBeforeWaitNotLost(t *testing.T) {
	r := NewRegistry()
	src := &counterSource{}
	if err := r.CreateFile("devices/d0", NewAttribute("count", src)); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	f, err := r.Open("devices/d0/count")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := f.ReadValue(); err != nil {
		t.Fatalf("ReadValue failed: %v", err)
	}

	// The change lands before WaitChanged is entered. It must still
	// return immediately instead of blocking until the next event.
	src.value.Add(1)
	r.Notify("devices/d0", "count")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.WaitChanged(ctx); err != nil {
		t.Fatalf("WaitChanged failed: %v", err)
	}
}

func TestNotifyRemovedPath(t *testing.T) {
	r := NewRegistry()
	if err := r.CreateFile("devices/d0", NewAttribute("count", &counterSource{})); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	r.RemoveFile("devices/d0", "count")

	// Both of these must be safe no-ops.
	r.Notify("devices/d0", "count")
	r.Notify("devices/never", "count")
	r.RemoveFile("devices/d0", "count")
}

func TestRemoveWithOpenFile(t *testing.T) {
	r := NewRegistry()
	src := &counterSource{}
	src.value.Store(345)
	if err := r.CreateFile("devices/d0", NewAttribute("count", src)); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	f, err := r.Open("devices/d0/count")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// Read one byte of the current pass, then remove the attribute.
	one := make([]byte, 1)
	if _, err := f.Read(one); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	r.RemoveFile("devices/d0", "count")

	// The in-progress pass still drains.
	rest := make([]byte, 16)
	n, err := f.Read(rest)
	if err != nil {
		t.Fatalf("draining read failed: %v", err)
	}
	if got := string(one) + string(rest[:n]); got != "345" {
		t.Errorf("drained content: got %q, wanted %q", got, "345")
	}
	if _, err := f.Read(rest); err != io.EOF {
		t.Errorf("read past end of pass: got %v, wanted io.EOF", err)
	}

	// A fresh pass fails: the attribute is gone.
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if _, err := f.Read(one); !linuxerr.Equals(linuxerr.ENODEV, err) {
		t.Errorf("read after removal: got %v, wanted ENODEV", err)
	}

	// New opens fail too.
	if _, err := r.Open("devices/d0/count"); !linuxerr.Equals(linuxerr.ENOENT, err) {
		t.Errorf("Open after removal: got %v, wanted ENOENT", err)
	}
}

func TestRemoveWakesWaiter(t *testing.T) {
	r := NewRegistry()
	if err := r.CreateFile("devices/d0", NewAttribute("count", &counterSource{})); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	f, err := r.Open("devices/d0/count")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := f.ReadValue(); err != nil {
		t.Fatalf("ReadValue failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- f.WaitChanged(ctx)
	}()

	// Give the waiter time to block, then pull the attribute out from
	// under it.
	time.Sleep(50 * time.Millisecond)
	r.RemoveFile("devices/d0", "count")

	if err := <-done; !linuxerr.Equals(linuxerr.ENODEV, err) {
		t.Fatalf("WaitChanged after removal: got %v, wanted ENODEV", err)
	}
}

func TestListDirs(t *testing.T) {
	r := NewRegistry()
	if err := r.CreateFile("devices/d1", NewAttribute("count", &counterSource{})); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	if err := r.CreateFile("devices/d1", NewAttribute("mode", &counterSource{})); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	if err := r.CreateFile("devices/d0", NewAttribute("count", &counterSource{})); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}

	if diff := cmp.Diff([]string{"devices/d0", "devices/d1"}, r.Dirs()); diff != "" {
		t.Errorf("wrong directories (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"count", "mode"}, r.List("devices/d1")); diff != "" {
		t.Errorf("wrong attributes (-want +got):\n%s", diff)
	}
	if got := r.List("devices/absent"); got != nil {
		t.Errorf("List of absent dir: got %v, wanted nil", got)
	}

	// Removing the last attribute removes the directory.
	r.RemoveFile("devices/d0", "count")
	if diff := cmp.Diff([]string{"devices/d1"}, r.Dirs()); diff != "" {
		t.Errorf("wrong directories after removal (-want +got):\n%s", diff)
	}
}
