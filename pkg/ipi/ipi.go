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

// Package ipi dispatches software-generated interrupts to registered
// handlers.
//
// A Table carries a fixed set of interrupt lines. Each line holds at most one
// handler, claimed with Set and released with Clear. Delivery via Trigger is
// lock-free and runs the handler synchronously on the triggering goroutine,
// the way an interrupt runs on the core that received it.
//
// The dispatch call carries no arguments. A handler cannot tell which line
// fired, so a handler serving multiple devices cannot exist; the layer above
// enforces a single active device per line.
package ipi

import (
	"sync/atomic"
	"time"

	"github.com/cptn-popcorn/user-sgi/pkg/errors/linuxerr"
	"github.com/cptn-popcorn/user-sgi/pkg/log"
)

// spuriousLog reports interrupts dropped on unclaimed lines. A stuck sender
// can raise thousands per second, so the log is rate limited.
var spuriousLog = log.BasicRateLimitedLogger(30 * time.Second)

// NumLines is the number of interrupt lines in a Table. Software-generated
// interrupts occupy IDs 0-15 on ARM generic interrupt controllers.
const NumLines = 16

// Handler is invoked on delivery of a software-generated interrupt.
//
// Handlers run on arbitrary goroutines and must not block or allocate.
type Handler func()

// Registrar is the interface device code uses to claim and release an
// interrupt line.
type Registrar interface {
	// Set claims line and installs handler. The name is kept for
	// diagnostics. Set fails with EBUSY if the line is already claimed
	// and EINVAL if line is out of range.
	Set(line uint32, handler Handler, name string) error

	// Clear releases line. Clearing an unclaimed line is a no-op.
	Clear(line uint32)
}

// registration ties a handler to the diagnostic name it was claimed with.
type registration struct {
	handler Handler
	name    string
}

// Table dispatches software-generated interrupts to at most one handler per
// line.
//
// The zero value is an empty table ready for use.
type Table struct {
	lines [NumLines]atomic.Pointer[registration]
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{}
}

// Set implements Registrar.Set.
func (t *Table) Set(line uint32, handler Handler, name string) error {
	if line >= NumLines {
		return linuxerr.EINVAL
	}
	r := &registration{handler: handler, name: name}
	if !t.lines[line].CompareAndSwap(nil, r) {
		log.Warningf("IPI handler already registered on line %d", line)
		return linuxerr.EBUSY
	}
	return nil
}

// Clear implements Registrar.Clear.
func (t *Table) Clear(line uint32) {
	if line >= NumLines {
		return
	}
	t.lines[line].Store(nil)
}

// Trigger delivers a software-generated interrupt on line. The registered
// handler runs synchronously on the caller's goroutine. Interrupts on
// unclaimed or out-of-range lines are dropped; the return value reports
// whether a handler ran.
func (t *Table) Trigger(line uint32) bool {
	if line >= NumLines {
		return false
	}
	r := t.lines[line].Load()
	if r == nil {
		spuriousLog.Warningf("Dropping interrupt on unclaimed line %d", line)
		return false
	}
	r.handler()
	return true
}

// Name returns the diagnostic name line was claimed with, or "" if the line
// is unclaimed.
func (t *Table) Name(line uint32) string {
	if line >= NumLines {
		return ""
	}
	if r := t.lines[line].Load(); r != nil {
		return r.name
	}
	return ""
}

// Claimed returns the claimed lines and their diagnostic names, in line
// order.
func (t *Table) Claimed() map[uint32]string {
	claimed := make(map[uint32]string)
	for line := uint32(0); line < NumLines; line++ {
		if r := t.lines[line].Load(); r != nil {
			claimed[line] = r.name
		}
	}
	return claimed
}
