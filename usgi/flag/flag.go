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

// Package flag wraps flag primitives.
package flag

import (
	"flag"
)

// FlagSet is an alias for flag.FlagSet.
type FlagSet = flag.FlagSet

// Flag is an alias for flag.Flag.
type Flag = flag.Flag

// Value is an alias for flag.Value.
type Value = flag.Value

// ErrorHandling is an alias for flag.ErrorHandling.
type ErrorHandling = flag.ErrorHandling

// ContinueOnError is an alias for flag.ContinueOnError.
const ContinueOnError = flag.ContinueOnError

// NewFlagSet is an alias for flag.NewFlagSet.
func NewFlagSet(name string, errorHandling ErrorHandling) *FlagSet {
	return flag.NewFlagSet(name, errorHandling)
}

// CommandLine is the default command-line flag set.
var CommandLine = flag.CommandLine

// Aliases for identically-named functions operating on CommandLine.
var (
	Bool     = flag.Bool
	Duration = flag.Duration
	Int      = flag.Int
	String   = flag.String
	Uint     = flag.Uint
	Var      = flag.Var
)

// Parse parses CommandLine from os.Args[1:].
func Parse() {
	flag.Parse()
}

// Lookup returns the named flag from CommandLine, or nil if none exists.
func Lookup(name string) *Flag {
	return flag.Lookup(name)
}

// Get returns the object the flag value holds. All values registered by this
// package satisfy flag.Getter.
func Get(v Value) any {
	return v.(flag.Getter).Get()
}
