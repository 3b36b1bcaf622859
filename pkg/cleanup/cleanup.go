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

// Package cleanup provides utilities to clean "stuff" on defers.
package cleanup

// Cleanup allows defers to be aborted when cleanup needs to be
// deferred to a different time or function. For example:
//
//	// Setup the object that requires cleanup.
//	foo := createFoo()
//	cu := cleanup.Make(func() {
//		foo.cleanup() // Makes sure to cleanup if returning with error.
//	})
//	defer cu.Clean()
//
//	// Add any other cleanup to be done on error.
//	cu.Add(func(){ bar.cleanup() })
//
//	// Object is ready, release all cleanups.
//	cu.Release()
//	return foo
//
// Cleanup functions run in the order they were added. Callers that need a
// teardown sequence register its steps in that sequence.
type Cleanup struct {
	cleaners []func()
}

// Make creates a new Cleanup object.
func Make(f func()) Cleanup {
	return Cleanup{cleaners: []func(){f}}
}

// Add adds a function to be called on Clean().
func (c *Cleanup) Add(f func()) {
	c.cleaners = append(c.cleaners, f)
}

// Clean calls all cleanup functions, in the order they were added.
func (c *Cleanup) Clean() {
	clean(c.cleaners)
	c.cleaners = nil
}

// Release releases the cleanup from its duties, i.e. cleanup functions are
// not called after this point. Returns a function that calls all registered
// functions in case the caller has use for them.
func (c *Cleanup) Release() func() {
	old := c.cleaners
	c.cleaners = nil
	return func() { clean(old) }
}

func clean(cleaners []func()) {
	for _, c := range cleaners {
		c()
	}
}
