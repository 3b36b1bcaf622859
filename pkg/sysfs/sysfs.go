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

// Package sysfs implements an in-process attribute tree in the style of the
// kernel's sysfs.
//
// Attributes are small read-only files whose content is generated on demand
// from a backing source. Devices publish attributes under a directory,
// remove them on teardown, and wake pollers with Notify when the backing
// value changes. Readers follow the usual sysfs pattern: open the file, read
// it, wait for a change notification, seek to the start and read again.
package sysfs

import (
	"bytes"
	"sort"
	"strings"

	"github.com/cptn-popcorn/user-sgi/pkg/atomicbitops"
	"github.com/cptn-popcorn/user-sgi/pkg/errors/linuxerr"
	"github.com/cptn-popcorn/user-sgi/pkg/sync"
	"github.com/cptn-popcorn/user-sgi/pkg/waiter"
)

// ChangedEvents is the event set raised on waiters when an attribute value
// changes, matching what poll(2) reports for a sysfs attribute after
// sysfs_notify: POLLPRI|POLLERR.
const ChangedEvents = waiter.EventPri | waiter.EventErr

// AttrSource generates the content of an attribute on demand.
//
// Generate runs on the reading goroutine. Sources must be safe for
// concurrent use and must remain callable while any File opened on the
// attribute is still alive.
type AttrSource interface {
	// Generate writes the current value to buf.
	Generate(buf *bytes.Buffer) error
}

// Attribute is a named read-only file backed by an AttrSource.
type Attribute struct {
	name   string
	source AttrSource

	// version counts value-change notifications. Open files compare it
	// against the version they last generated content at to report
	// pending change events.
	version atomicbitops.Uint64

	// removed flips once the attribute is unpublished. Open files then
	// refuse to start new read passes.
	removed atomicbitops.Bool

	queue waiter.Queue
}

// NewAttribute returns an attribute with the given name and source.
func NewAttribute(name string, source AttrSource) *Attribute {
	return &Attribute{
		name:   name,
		source: source,
	}
}

// Name returns the attribute name.
func (a *Attribute) Name() string {
	return a.name
}

// Registry is a two-level tree of directories holding attributes, addressed
// by slash-separated paths ("devices/user_sgi@8/count").
//
// Publication and removal take a write lock. Notify and Open take a read
// lock held only for the map lookup, so change notification stays cheap
// enough for delivery paths.
type Registry struct {
	mu   sync.RWMutex
	dirs map[string]map[string]*Attribute
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		dirs: make(map[string]map[string]*Attribute),
	}
}

// CreateFile publishes attr under dir, creating the directory if needed. It
// fails with EEXIST if the directory already has an attribute of that name.
func (r *Registry) CreateFile(dir string, attr *Attribute) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	files := r.dirs[dir]
	if files == nil {
		files = make(map[string]*Attribute)
		r.dirs[dir] = files
	}
	if _, ok := files[attr.name]; ok {
		return linuxerr.EEXIST
	}
	files[attr.name] = attr
	return nil
}

// RemoveFile unpublishes the named attribute. Removing an absent attribute
// is a no-op. Open files keep their attribute but cannot start new read
// passes on it; pollers wake with error events so blocked observers drain.
func (r *Registry) RemoveFile(dir, name string) {
	r.mu.Lock()
	files := r.dirs[dir]
	attr, ok := files[name]
	if ok {
		attr.removed.Store(true)
		delete(files, name)
		if len(files) == 0 {
			delete(r.dirs, dir)
		}
	}
	r.mu.Unlock()

	if ok {
		attr.queue.Notify(waiter.EventErr | waiter.EventHUp)
	}
}

// Notify wakes pollers of dir/name with ChangedEvents. Notifying a path
// that was never published, or was already removed, is a safe no-op; a
// notifier racing with removal simply wakes nobody.
func (r *Registry) Notify(dir, name string) {
	r.mu.RLock()
	attr := r.dirs[dir][name]
	r.mu.RUnlock()

	if attr == nil {
		return
	}
	attr.version.Add(1)
	attr.queue.Notify(ChangedEvents)
}

// Open opens the attribute at path for reading. It fails with ENOENT if no
// such attribute is published.
func (r *Registry) Open(path string) (*File, error) {
	slash := strings.LastIndexByte(path, '/')
	if slash < 0 {
		return nil, linuxerr.ENOENT
	}
	dir, name := path[:slash], path[slash+1:]

	r.mu.RLock()
	attr := r.dirs[dir][name]
	r.mu.RUnlock()

	if attr == nil {
		return nil, linuxerr.ENOENT
	}
	return newFile(attr), nil
}

// List returns the attribute names under dir, sorted.
func (r *Registry) List(dir string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	files := r.dirs[dir]
	if len(files) == 0 {
		return nil
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dirs returns the directories currently holding attributes, sorted.
func (r *Registry) Dirs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dirs := make([]string, 0, len(r.dirs))
	for dir := range r.dirs {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}
