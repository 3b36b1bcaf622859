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
	"io"

	"github.com/cptn-popcorn/user-sgi/pkg/errors/linuxerr"
	"github.com/cptn-popcorn/user-sgi/pkg/sync"
	"github.com/cptn-popcorn/user-sgi/pkg/waiter"
)

// File is an open handle on an Attribute.
//
// Content is generated from the backing source once per read pass. A pass
// starts with a read at offset zero, so the usual way to observe a fresh
// value on a long-lived handle is Seek(0, io.SeekStart) followed by a read,
// just as with a sysfs file.
type File struct {
	attr *Attribute

	// mu protects the fields below.
	mu sync.Mutex

	// buf holds the content generated for the current read pass.
	buf bytes.Buffer

	// off is the read offset into buf.
	off int64

	// version is the attribute change count as of the last generated
	// pass. Comparing it against the live count reports pending change
	// events without touching the content.
	version uint64
}

func newFile(attr *Attribute) *File {
	return &File{
		attr:    attr,
		version: attr.version.Load(),
	}
}

// Read implements io.Reader. A read at offset zero regenerates the content
// from the source; reads at later offsets serve the same pass. Reading a
// removed attribute from offset zero fails with ENODEV.
func (f *File) Read(dst []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.off == 0 {
		if f.attr.removed.Load() {
			return 0, linuxerr.ENODEV
		}
		// Snapshot the change count first so a change racing with
		// Generate leaves a pending event rather than a lost one.
		f.version = f.attr.version.Load()
		f.buf.Reset()
		if err := f.attr.source.Generate(&f.buf); err != nil {
			return 0, err
		}
	}

	bs := f.buf.Bytes()
	if f.off >= int64(len(bs)) {
		return 0, io.EOF
	}
	n := copy(dst, bs[f.off:])
	f.off += int64(n)
	return n, nil
}

// Seek implements io.Seeker. Only io.SeekStart and io.SeekCurrent are
// supported.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch whence {
	case io.SeekStart:
		// Use offset as given.
	case io.SeekCurrent:
		offset += f.off
	default:
		return 0, linuxerr.EINVAL
	}
	if offset < 0 {
		return 0, linuxerr.EINVAL
	}
	f.off = offset
	return offset, nil
}

// Close implements io.Closer. Files hold no resources beyond their
// attribute reference.
func (f *File) Close() error {
	return nil
}

// ReadValue reads the current attribute value from the start of the file.
func (f *File) ReadValue() (string, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Readiness implements waiter.Waitable.Readiness. Attributes are always
// readable; a value change since the last generated pass, and removal of
// the attribute, additionally report the corresponding poll events.
func (f *File) Readiness(mask waiter.EventMask) waiter.EventMask {
	ready := waiter.EventIn

	f.mu.Lock()
	v := f.version
	f.mu.Unlock()
	if f.attr.version.Load() != v {
		ready |= ChangedEvents
	}
	if f.attr.removed.Load() {
		ready |= waiter.EventErr | waiter.EventHUp
	}
	return mask & ready
}

// EventRegister implements waiter.Waitable.EventRegister.
func (f *File) EventRegister(e *waiter.Entry, mask waiter.EventMask) {
	f.attr.queue.EventRegister(e, mask)
}

// EventUnregister implements waiter.Waitable.EventUnregister.
func (f *File) EventUnregister(e *waiter.Entry) {
	f.attr.queue.EventUnregister(e)
}

// WaitChanged blocks until the attribute value changes relative to the last
// read pass on f. It returns ENODEV if the attribute is removed before or
// while waiting, and ctx.Err() if the context is done first. A nil return
// means a change is pending; the caller re-reads from offset zero to observe
// the current value.
func (f *File) WaitChanged(ctx context.Context) error {
	e, ch := waiter.NewChannelEntry(nil)
	f.EventRegister(&e, ChangedEvents|waiter.EventHUp)
	defer f.EventUnregister(&e)

	for {
		// Check after registering so a change between the caller's
		// last read and our registration is not lost.
		if f.attr.removed.Load() {
			return linuxerr.ENODEV
		}
		if f.Readiness(ChangedEvents) != 0 {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
