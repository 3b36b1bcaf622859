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

// Package usersgi tracks software-generated interrupts for user space
// observers, similar to what the generic UIO driver does for hardware
// interrupts.
//
// The Driver claims one interrupt line and counts its deliveries in a shared
// counter. The counter is exposed as a pollable read-only attribute named
// "count": each delivery bumps the attribute's change event, so an observer
// can block until the next interrupt instead of busy-reading, and the counter
// value tells it how many deliveries it missed while not watching.
//
// Only one device can be active at a time. The interrupt dispatch callback
// carries no line number, so a single handler cannot attribute deliveries to
// more than one device.
package usersgi

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/cptn-popcorn/user-sgi/pkg/atomicbitops"
	"github.com/cptn-popcorn/user-sgi/pkg/cleanup"
	"github.com/cptn-popcorn/user-sgi/pkg/errors/linuxerr"
	"github.com/cptn-popcorn/user-sgi/pkg/ipi"
	"github.com/cptn-popcorn/user-sgi/pkg/log"
	"github.com/cptn-popcorn/user-sgi/pkg/sync"
	"github.com/cptn-popcorn/user-sgi/pkg/sysfs"
)

// Compatible is the device tree compatible string this driver binds to.
const Compatible = "ellisys,user-sgi-1.0"

const (
	// driverName identifies the driver in log messages.
	driverName = "user_sgi"

	// handlerName is the diagnostic name the interrupt line is claimed
	// with.
	handlerName = "user sgi"

	// countName is the name of the exposed counter attribute.
	countName = "count"
)

// State is a device lifecycle state.
type State int

// Device lifecycle states.
const (
	StateUninitialized State = iota
	StateProbing
	StateActive
	StateRemoving
)

// String implements fmt.Stringer.String.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateProbing:
		return "probing"
	case StateActive:
		return "active"
	case StateRemoving:
		return "removing"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalJSON implements json.Marshaler.MarshalJSON.
func (s State) MarshalJSON() ([]byte, error) {
	switch s {
	case StateUninitialized, StateProbing, StateActive, StateRemoving:
		return []byte(`"` + s.String() + `"`), nil
	default:
		return nil, fmt.Errorf("unknown state %d", int(s))
	}
}

// UnmarshalJSON implements json.Unmarshaler.UnmarshalJSON.
func (s *State) UnmarshalJSON(b []byte) error {
	switch str := string(b); str {
	case `"uninitialized"`:
		*s = StateUninitialized
	case `"probing"`:
		*s = StateProbing
	case `"active"`:
		*s = StateActive
	case `"removing"`:
		*s = StateRemoving
	default:
		return fmt.Errorf("unknown state %s", str)
	}
	return nil
}

// Node is the declarative description of a device instance, as supplied by
// the instantiation config.
type Node struct {
	// Name is the instance name. The device's attributes appear under
	// "devices/<Name>" in the attribute registry.
	Name string

	// IPINumber is the interrupt line the device observes. Nil when the
	// property is absent from the config.
	IPINumber *uint32
}

// device is the per-instance state allocated by Probe. Once published it is
// read-only; the interrupt handler may hold a reference to it after Remove
// has dropped it.
type device struct {
	name string
	line uint32
	dir  string
}

func deviceDir(name string) string {
	return "devices/" + name
}

// newDevice validates node and allocates the per-instance state.
func newDevice(node Node) (*device, error) {
	if node.Name == "" {
		log.Warningf("%s: device node has no name", driverName)
		return nil, linuxerr.EINVAL
	}
	if node.IPINumber == nil {
		log.Warningf("%s: device node %q has no ipi_number property", driverName, node.Name)
		return nil, linuxerr.EINVAL
	}
	line := *node.IPINumber
	if line >= ipi.NumLines {
		log.Warningf("%s: device node %q: IPI number %d out of range", driverName, node.Name, line)
		return nil, linuxerr.EINVAL
	}
	return &device{
		name: node.Name,
		line: line,
		dir:  deviceDir(node.Name),
	}, nil
}

// Driver counts software-generated interrupts on a claimed line and exposes
// the count as a pollable attribute.
//
// Probe and Remove must not be called concurrently with each other. The
// interrupt handler races freely with both.
type Driver struct {
	registrar ipi.Registrar
	fs        *sysfs.Registry

	// count is the shared interrupt counter. It is never reset: a device
	// removed and probed again continues where the old one stopped.
	count atomicbitops.Uint32

	// dev is the handler's view of the active device. It is published
	// before the handler is registered and cleared before the handler is
	// unregistered, so the handler either sees the full device or nil,
	// never a partially set up one.
	dev atomic.Pointer[device]

	mu sync.Mutex

	// state is the lifecycle state. Guarded by mu.
	state State

	// inst is the active device. Non-nil iff state is StateActive.
	// Guarded by mu.
	inst *device
}

// NewDriver returns a Driver that claims interrupt lines from registrar and
// exposes attributes in fs.
func NewDriver(registrar ipi.Registrar, fs *sysfs.Registry) *Driver {
	return &Driver{
		registrar: registrar,
		fs:        fs,
	}
}

// countSource renders the shared counter as the attribute's content.
type countSource struct {
	count *atomicbitops.Uint32
}

// Generate implements sysfs.AttrSource.Generate.
func (s countSource) Generate(buf *bytes.Buffer) error {
	fmt.Fprintf(buf, "%d", s.count.Load())
	return nil
}

// handleIPI runs on every delivery of the claimed interrupt line. It must
// not block and must not allocate.
func (d *Driver) handleIPI() {
	d.count.Add(1)
	dev := d.dev.Load()
	if dev == nil {
		// Removal already dropped the device. Dropping the
		// notification is fine: the counter is authoritative.
		return
	}
	d.fs.Notify(dev.dir, countName)
}

// Probe activates the device described by node: it allocates the instance
// state, publishes it to the handler, claims the interrupt line and creates
// the count attribute, in that order.
//
// Probe fails with EINVAL if node is missing or carries an unusable
// ipi_number property, EBUSY if a device is already active or the line is
// already claimed, and EIO if the attribute cannot be created. A failed
// Probe leaves no trace: the line is released, the handler's device
// reference is nil and no attribute exists.
func (d *Driver) Probe(node Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	log.Infof("probing user sgi")

	if d.state != StateUninitialized {
		log.Warningf("%s: probe of %q: driver is %v", driverName, node.Name, d.state)
		return linuxerr.EBUSY
	}
	d.state = StateProbing

	dev, err := newDevice(node)
	if err != nil {
		d.state = StateUninitialized
		return err
	}

	// Publish the device before the handler can fire. Once the line is
	// claimed, any delivery observes a non-nil device.
	d.dev.Store(dev)
	cu := cleanup.Make(func() {
		d.dev.Store(nil)
	})
	defer cu.Clean()

	if err := d.registrar.Set(dev.line, d.handleIPI, handlerName); err != nil {
		d.state = StateUninitialized
		return linuxerr.EBUSY
	}
	cu.Add(func() {
		d.registrar.Clear(dev.line)
	})

	if err := d.fs.CreateFile(dev.dir, sysfs.NewAttribute(countName, countSource{&d.count})); err != nil {
		log.Warningf("%s: creating %s/%s: %v", driverName, dev.dir, countName, err)
		d.state = StateUninitialized
		return linuxerr.EIO
	}

	cu.Release()
	d.inst = dev
	d.state = StateActive
	log.Infof("user sgi activated for IPI number %d", dev.line)
	return nil
}

// Remove deactivates the active device. The attribute is removed first so
// new observers cannot find it mid-teardown, then the handler's device
// reference is dropped, then the line is released. A delivery racing with
// Remove either still notifies the attribute before it is gone or sees a nil
// device and increments the counter silently.
//
// Remove fails with ENODEV if no device is active.
func (d *Driver) Remove() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	log.Infof("removing user sgi")

	if d.state != StateActive {
		log.Warningf("%s: remove: driver is %v", driverName, d.state)
		return linuxerr.ENODEV
	}
	d.state = StateRemoving

	dev := d.inst
	d.fs.RemoveFile(dev.dir, countName)
	d.dev.Store(nil)
	d.registrar.Clear(dev.line)
	d.inst = nil
	d.state = StateUninitialized
	return nil
}

// Count returns the current value of the shared interrupt counter.
func (d *Driver) Count() uint32 {
	return d.count.Load()
}

// Status is a point-in-time snapshot of the driver.
type Status struct {
	// State is the lifecycle state.
	State State `json:"state"`

	// Name is the active device's node name, or "" if no device is
	// active.
	Name string `json:"name,omitempty"`

	// IPINumber is the claimed interrupt line. Valid only if a device is
	// active.
	IPINumber uint32 `json:"ipiNumber"`

	// Count is the shared interrupt counter.
	Count uint32 `json:"count"`
}

// Status returns a snapshot of the driver.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Status{
		State: d.state,
		Count: d.count.Load(),
	}
	if d.inst != nil {
		s.Name = d.inst.name
		s.IPINumber = d.inst.line
	}
	return s
}

// CountPath returns the registry path of the active device's count
// attribute. It fails with ENODEV if no device is active.
func (d *Driver) CountPath() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inst == nil {
		return "", linuxerr.ENODEV
	}
	return d.inst.dir + "/" + countName, nil
}
