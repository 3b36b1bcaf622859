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

package waiter

import (
	"testing"
)

type callbackStub struct {
	f func(e *Entry)
}

// Callback implements EntryCallback.Callback.
func (c *callbackStub) Callback(e *Entry) {
	c.f(e)
}

func TestEmptyQueue(t *testing.T) {
	var q Queue

	// Notify the zero-value queue.
	q.Notify(EventIn)

	// Register then unregister, then notify again.
	cnt := 0
	e := Entry{Callback: &callbackStub{func(*Entry) { cnt++ }}}
	q.EventRegister(&e, EventIn)
	q.EventUnregister(&e)
	q.Notify(EventIn)
	if cnt != 0 {
		t.Errorf("callback called after unregister: got %d calls, wanted 0", cnt)
	}
}

func TestMask(t *testing.T) {
	// Register a waiter.
	var q Queue
	var cnt int
	e := Entry{Callback: &callbackStub{func(*Entry) { cnt++ }}}
	q.EventRegister(&e, EventIn|EventErr)

	// Notify with an overlapping mask.
	cnt = 0
	q.Notify(EventIn | EventOut)
	if cnt != 1 {
		t.Errorf("notify with partial overlap: got %d calls, wanted 1", cnt)
	}

	// Notify with a subset mask.
	cnt = 0
	q.Notify(EventErr)
	if cnt != 1 {
		t.Errorf("notify with subset: got %d calls, wanted 1", cnt)
	}

	// Notify with a disjoint mask.
	cnt = 0
	q.Notify(EventOut | EventHUp)
	if cnt != 0 {
		t.Errorf("notify with disjoint mask: got %d calls, wanted 0", cnt)
	}
}

func TestEvents(t *testing.T) {
	var q Queue
	e1 := Entry{Callback: &callbackStub{func(*Entry) {}}}
	e2 := Entry{Callback: &callbackStub{func(*Entry) {}}}
	q.EventRegister(&e1, EventIn)
	q.EventRegister(&e2, EventPri|EventErr)

	if got, want := q.Events(), EventIn|EventPri|EventErr; got != want {
		t.Errorf("wrong event union: got %#x, wanted %#x", got, want)
	}

	q.EventUnregister(&e1)
	if got, want := q.Events(), EventPri|EventErr; got != want {
		t.Errorf("wrong event union after unregister: got %#x, wanted %#x", got, want)
	}
}

func TestIsEmpty(t *testing.T) {
	var q Queue
	if !q.IsEmpty() {
		t.Errorf("zero-value queue is not empty")
	}

	e := Entry{Callback: &callbackStub{func(*Entry) {}}}
	q.EventRegister(&e, EventIn)
	if q.IsEmpty() {
		t.Errorf("queue with one waiter reports empty")
	}

	q.EventUnregister(&e)
	if !q.IsEmpty() {
		t.Errorf("queue reports non-empty after unregister")
	}
}

func TestChannelEntryCoalesces(t *testing.T) {
	var q Queue
	e, ch := NewChannelEntry(nil)
	q.EventRegister(&e, EventPri)
	defer q.EventUnregister(&e)

	// Multiple notifications while nobody is receiving collapse into a
	// single wakeup.
	q.Notify(EventPri)
	q.Notify(EventPri)
	q.Notify(EventPri)

	select {
	case <-ch:
	default:
		t.Fatalf("no wakeup pending after notify")
	}
	select {
	case <-ch:
		t.Fatalf("more than one wakeup pending after coalescing notifies")
	default:
	}

	// The entry stays registered and fires again.
	q.Notify(EventPri)
	select {
	case <-ch:
	default:
		t.Fatalf("no wakeup pending after re-notify")
	}
}
