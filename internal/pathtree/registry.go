// Copyright 2014 Google Inc. All rights reserved.
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

package pathtree

import (
	gp "path"
	"strings"
	"sync"
)

// LockHandle is the minimal view of a lock that the registry needs in
// order to anchor it to a node. The internal/locks package supplies the
// concrete implementation; pathtree never interprets a LockHandle beyond
// storing and returning it.
type LockHandle interface {
	Token() string
}

const noParent = -1

type node struct {
	name     string // last path segment, "" for root
	parent   int32
	children map[string]int32
	locks    []LockHandle
	refs     int32
}

// Registry interns path strings into a reference-counted arena. A path
// string maps to at most one live node at a time; nodes are created on
// first mention and pruned once both their reference count and child
// count reach zero.
type Registry struct {
	mu    sync.Mutex
	nodes []node
	byKey map[string]int32
}

// NewRegistry creates an empty registry, pre-seeded with the root path.
func NewRegistry() *Registry {
	r := &Registry{byKey: make(map[string]int32)}
	r.nodes = append(r.nodes, node{parent: noParent, children: make(map[string]int32)})
	r.byKey["/"] = 0
	r.nodes[0].refs = 1 // root is never pruned
	return r
}

// PathRef is a live handle into the registry, returned by Intern. Callers
// that hold onto a PathRef past the lifetime of a single request must
// call Release to drop their reference.
type PathRef struct {
	reg *Registry
	idx int32
}

// Valid reports whether the ref still names a live node.
func (p PathRef) Valid() bool { return p.reg != nil }

// Clean normalizes a path the way the registry keys its nodes: leading
// slash, no trailing slash (except for the root, which normalizes to "/").
func Clean(p string) string {
	p = gp.Clean("/" + p)
	return p
}

func splitSegments(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Intern returns the PathRef for path, creating intermediate nodes for any
// ancestor segments that don't exist yet. The returned ref holds one
// reference; call Release when done with it.
func (r *Registry) Intern(path string) PathRef {
	path = Clean(path)
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx, ok := r.byKey[path]; ok {
		r.nodes[idx].refs++
		return PathRef{reg: r, idx: idx}
	}

	segs := splitSegments(path)
	cur := int32(0)
	built := "/"
	for _, seg := range segs {
		if built == "/" {
			built += seg
		} else {
			built += "/" + seg
		}
		if next, ok := r.nodes[cur].children[seg]; ok {
			cur = next
			continue
		}
		r.nodes = append(r.nodes, node{name: seg, parent: cur, children: make(map[string]int32)})
		next := int32(len(r.nodes) - 1)
		r.nodes[cur].children[seg] = next
		r.byKey[built] = next
		cur = next
	}
	r.nodes[cur].refs++
	return PathRef{reg: r, idx: cur}
}

// Release drops the caller's reference, pruning the node (and any now-bare
// ancestors) once nothing else anchors it.
func (p PathRef) Release() {
	if p.reg == nil {
		return
	}
	p.reg.mu.Lock()
	defer p.reg.mu.Unlock()
	p.reg.release(p.idx)
}

func (r *Registry) release(idx int32) {
	r.nodes[idx].refs--
	for idx != noParent {
		n := &r.nodes[idx]
		if n.refs > 0 || len(n.children) > 0 || len(n.locks) > 0 || idx == 0 {
			return
		}
		parent := n.parent
		delete(r.nodes[parent].children, n.name)
		key := r.keyOf(idx)
		delete(r.byKey, key)
		idx = parent
	}
}

func (r *Registry) keyOf(idx int32) string {
	if idx == 0 {
		return "/"
	}
	var segs []string
	for idx != 0 {
		n := &r.nodes[idx]
		segs = append([]string{n.name}, segs...)
		idx = n.parent
	}
	return "/" + strings.Join(segs, "/")
}

// String returns the canonical path string this ref names.
func (p PathRef) String() string {
	p.reg.mu.Lock()
	defer p.reg.mu.Unlock()
	return p.reg.keyOf(p.idx)
}

// ForEachAncestor visits each interned ancestor of path in root-to-leaf
// order, including path's own node if it is currently interned (it need
// not be — a lock-free lookup is allowed to miss leaf nodes nobody holds a
// reference to, which correctly means "no locks there"). The visitor
// returns true to continue; ForEachAncestor returns true iff it was never
// told to stop.
func (r *Registry) ForEachAncestor(path string, visit func(PathRef) bool) bool {
	path = Clean(path)
	segs := splitSegments(path)

	r.mu.Lock()
	chain := make([]int32, 0, len(segs)+1)
	cur := int32(0)
	chain = append(chain, cur)
	for _, seg := range segs {
		next, ok := r.nodes[cur].children[seg]
		if !ok {
			break
		}
		chain = append(chain, next)
		cur = next
	}
	r.mu.Unlock()

	for _, idx := range chain {
		if !visit(PathRef{reg: r, idx: idx}) {
			return false
		}
	}
	return true
}

// AddLock appends l to the node's lock list, taking an implicit reference
// on the node for as long as the lock is anchored there.
func (r *Registry) AddLock(p PathRef, l LockHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[p.idx].locks = append(r.nodes[p.idx].locks, l)
	r.nodes[p.idx].refs++
}

// RemoveLock removes l from the node's lock list by token equality and
// releases the reference AddLock took.
func (r *Registry) RemoveLock(p PathRef, l LockHandle) {
	r.mu.Lock()
	n := &r.nodes[p.idx]
	for i, h := range n.locks {
		if h.Token() == l.Token() {
			n.locks = append(n.locks[:i], n.locks[i+1:]...)
			r.mu.Unlock()
			p.Release()
			return
		}
	}
	r.mu.Unlock()
}

// Locks returns a snapshot of the locks anchored directly at this node.
func (p PathRef) Locks() []LockHandle {
	p.reg.mu.Lock()
	defer p.reg.mu.Unlock()
	out := make([]LockHandle, len(p.reg.nodes[p.idx].locks))
	copy(out, p.reg.nodes[p.idx].locks)
	return out
}
