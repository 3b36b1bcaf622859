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

// Package devtree loads the declarative device description that stands in
// for the device tree the original platform driver was instantiated from.
//
// The description is a TOML file listing device nodes:
//
//	[[node]]
//	name = "user_sgi@1"
//	compatible = "ellisys,user-sgi-1.0"
//	ipi-number = 8
//
// As on a real board, a node may carry properties that only its matching
// driver interprets. Unknown properties and unknown compatible strings are
// not errors; the node is simply not bound to anything.
package devtree

import (
	"fmt"
	"math"

	"github.com/BurntSushi/toml"

	"github.com/cptn-popcorn/user-sgi/pkg/errors/linuxerr"
	"github.com/cptn-popcorn/user-sgi/pkg/log"
	"github.com/cptn-popcorn/user-sgi/pkg/usersgi"
)

// Node is a single device node of the description.
type Node struct {
	// Name identifies the node. Names are unique within a tree.
	Name string `toml:"name"`

	// Compatible is the driver match string.
	Compatible string `toml:"compatible"`

	// IPINumber is the interrupt line property. It is optional in the file
	// format; validity is the driver's call.
	IPINumber *int64 `toml:"ipi-number"`
}

// Tree is a parsed device description.
type Tree struct {
	Nodes []Node `toml:"node"`
}

// Load reads and parses the device description at path.
func Load(path string) (*Tree, error) {
	var t Tree
	md, err := toml.DecodeFile(path, &t)
	if err != nil {
		return nil, fmt.Errorf("cannot load device tree %q: %w", path, err)
	}
	for _, key := range md.Undecoded() {
		log.Debugf("Device tree %q: unused property %q", path, key.String())
	}
	seen := make(map[string]struct{}, len(t.Nodes))
	for _, n := range t.Nodes {
		if n.Name == "" {
			return nil, fmt.Errorf("device tree %q: node without a name: %w", path, linuxerr.EINVAL)
		}
		if _, dup := seen[n.Name]; dup {
			return nil, fmt.Errorf("device tree %q: duplicate node name %q: %w", path, n.Name, linuxerr.EINVAL)
		}
		seen[n.Name] = struct{}{}
	}
	return &t, nil
}

// Match returns the nodes whose compatible string equals compatible, in file
// order.
func (t *Tree) Match(compatible string) []Node {
	var nodes []Node
	for _, n := range t.Nodes {
		if n.Compatible == compatible {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// Lookup returns the node with the given name.
func (t *Tree) Lookup(name string) (Node, bool) {
	for _, n := range t.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return Node{}, false
}

// DriverNode converts n into the form the driver consumes. An absent
// ipi-number stays absent so the driver reports it per its config contract. A
// value outside the line number range is rejected here, as this layer is the
// last to see the raw integer.
func (n Node) DriverNode() (usersgi.Node, error) {
	out := usersgi.Node{Name: n.Name}
	if n.IPINumber == nil {
		return out, nil
	}
	v := *n.IPINumber
	if v < 0 || v > math.MaxUint32 {
		return usersgi.Node{}, fmt.Errorf("node %q: ipi-number %d out of range: %w", n.Name, v, linuxerr.EINVAL)
	}
	line := uint32(v)
	out.IPINumber = &line
	return out, nil
}
