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

package ipi

import (
	"os"
	"os/signal"
	"reflect"

	"golang.org/x/sys/unix"

	"github.com/cptn-popcorn/user-sgi/pkg/log"
)

// SignalBase is the first real-time signal used to back interrupt lines.
// Line n is raised by delivering signal SignalBase+n to the process. Signal
// 34 is the first real-time signal not reserved by the C library.
const SignalBase = 34

// SignalFor returns the OS signal that backs the given interrupt line.
func SignalFor(line uint32) unix.Signal {
	return unix.Signal(SignalBase + line)
}

// forwardSignals listens for incoming line signals and delivers them to t.
//
// It starts when the start channel is closed, stops when the stop channel
// is closed, and closes done once it will no longer deliver interrupts to t.
func forwardSignals(t *Table, sigchans []chan os.Signal, start, stop, done chan struct{}) {
	// Build a select case.
	sc := []reflect.SelectCase{{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(start)}}
	for _, sigchan := range sigchans {
		sc = append(sc, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(sigchan)})
	}

	started := false
	for {
		// Wait for a notification.
		index, _, ok := reflect.Select(sc)

		// Was it the start / stop channel?
		if index == 0 {
			if !ok {
				if !started {
					// start channel; start forwarding and
					// swap this case for the stop channel
					// to select stop requests.
					started = true
					sc[0] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(stop)}
				} else {
					// stop channel; stop forwarding and
					// clear this case so it is never
					// selected again.
					started = false
					close(done)
					sc[0].Chan = reflect.Value{}
				}
			}
			continue
		}

		// How about a different close?
		if !ok {
			panic("signal channel closed unexpectedly")
		}

		// Otherwise, it was a signal on channel N. Index 0 represents the
		// start/stop channel, so index N represents the channel for line N-1.
		line := uint32(index - 1)

		if !started {
			// Nothing is ready to take interrupts, either because
			// delivery has not begun yet or it is shutting down.
			// An interrupt with no one to take it is dropped, as
			// the dispatch layer drops interrupts on unclaimed
			// lines.
			continue
		}

		t.Trigger(line)
	}
}

// PrepareDelivery registers for the real-time signals backing every
// interrupt line of t and returns a callback that starts delivery, which
// itself returns a callback that stops it.
//
// One channel per line is required as signal.Notify is non-blocking and may
// drop signals. Channel size 1 is enough: a software-generated interrupt is
// a single pending bit per line, so deliveries that arrive while one is
// already pending coalesce, and the layer above re-reads authoritative state
// on wakeup.
//
// Note that this function permanently takes over the backing signals. After
// the stop callback, arriving signals are still absorbed but no longer
// forwarded; they do not regain their default process-killing disposition.
func PrepareDelivery(t *Table) func() func() {
	start := make(chan struct{})
	stop := make(chan struct{})
	done := make(chan struct{})

	var sigchans []chan os.Signal
	for line := uint32(0); line < NumLines; line++ {
		sigchan := make(chan os.Signal, 1)
		sigchans = append(sigchans, sigchan)
		signal.Notify(sigchan, SignalFor(line))
	}

	// Start up our listener.
	go forwardSignals(t, sigchans, start, stop, done)

	return func() func() {
		log.Debugf("Starting signal delivery for lines 0-%d (signals %d-%d)", NumLines-1, SignalBase, SignalBase+NumLines-1)
		close(start)
		return func() {
			close(stop)
			<-done
		}
	}
}
