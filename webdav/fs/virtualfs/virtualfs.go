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

// Package virtualfs overlays an in-memory tree of named directories on
// top of a real backing fs.FileSystem. A virtual name shadows a real
// name at the same position; the first path segment that is not a
// virtual child falls through to the backing filesystem for the rest
// of the path. Virtual directories themselves cannot be written to.
package virtualfs

import (
	"log"
	"path"
	"sort"
	"time"

	"github.com/chezdav/chezdav/webdav/fs"
)

// node is one virtual directory. A node may have a real filesystem
// mounted on it by Bind; a node without a bind is a pure virtual
// directory.
type node struct {
	name     string
	children map[string]*node
	bound    fs.FileSystem // non-nil if a real filesystem is mounted here
	boundAt  string        // path within bound at which this node is rooted
}

func newNode(name string) *node {
	return &node{name: name, children: make(map[string]*node)}
}

// Root is the overlay filesystem. It always implements fs.FileSystem;
// the real backend reached once a path leaves the virtual tree is the
// one bound at the deepest virtual node the path matched. If that node
// has no bind, the path does not exist; binds higher up are not used.
type Root struct {
	top *node
}

// New creates an empty virtual root. Call Mkdir and Bind to shape the
// virtual tree before serving it.
func New() *Root {
	return &Root{top: newNode("/")}
}

// Mkdir creates a purely virtual directory at p (and any missing
// virtual ancestors). It has no backing store of its own.
func (r *Root) Mkdir(p string) {
	r.walkCreate(p)
}

// Bind mounts backing at virtual path p, so that descending into p and
// beyond resolves against backing using paths relative to sub.
func (r *Root) Bind(p string, backing fs.FileSystem, sub string) {
	n := r.walkCreate(p)
	n.bound = backing
	n.boundAt = path.Clean("/" + sub)
}

func (r *Root) walkCreate(p string) *node {
	cur := r.top
	for _, seg := range segments(p) {
		child, ok := cur.children[seg]
		if !ok {
			child = newNode(seg)
			cur.children[seg] = child
		}
		cur = child
	}
	return cur
}

func segments(p string) []string {
	p = path.Clean("/" + p)
	if p == "/" {
		return nil
	}
	return splitAll(p[1:])
}

func splitAll(p string) []string {
	var out []string
	for p != "" {
		i := 0
		for i < len(p) && p[i] != '/' {
			i++
		}
		out = append(out, p[:i])
		if i < len(p) {
			i++
		}
		p = p[i:]
	}
	return out
}

// resolve walks the virtual tree as far as segments match, returning
// the deepest virtual node reached and the remaining unmatched
// segments, which must be resolved against that node's bound backend,
// if any.
func (r *Root) resolve(p string) (n *node, rest []string) {
	n = r.top
	segs := segments(p)
	for i, seg := range segs {
		child, ok := n.children[seg]
		if !ok {
			return n, segs[i:]
		}
		n = child
	}
	return n, nil
}

func (r *Root) Dumpz() {
	log.Printf("virtualfs overlay:")
	r.dumpNode(r.top, "/")
}

func (r *Root) dumpNode(n *node, p string) {
	log.Printf("%s (bound=%v)", p, n.bound != nil)
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r.dumpNode(n.children[name], path.Join(p, name))
	}
}

func (r *Root) QueryFilesystemInfo() (fs.FilesystemInfo, error) {
	if r.top.bound == nil {
		return fs.FilesystemInfo{}, fs.ErrNotSupported
	}
	return r.top.bound.QueryFilesystemInfo()
}

// ForPath resolves an absolute path to a fs.Path. While the path stays
// inside the virtual tree it addresses a virtualPath; once it falls
// through to a bound backend, it returns that backend's own Path
// unwrapped, whose IsVirtual reports false.
func (r *Root) ForPath(p string) (fs.Path, error) {
	n, rest := r.resolve(p)
	if len(rest) == 0 {
		return &virtualPath{root: r, node: n, path: path.Clean("/" + p)}, nil
	}
	if n.bound == nil {
		return &virtualPath{root: r, node: n, path: path.Clean("/" + p), missing: rest}, nil
	}
	realRel := path.Join(n.boundAt, path.Join(rest...))
	return n.bound.ForPath(realRel)
}

// virtualPath addresses a node in the pure virtual tree: either a
// virtual directory itself, or a path beneath an unbound virtual
// directory that therefore cannot exist.
type virtualPath struct {
	root    *Root
	node    *node
	path    string
	missing []string // non-empty: path descends below node with no bind to resolve against
}

func (p *virtualPath) String() string  { return p.path }
func (p *virtualPath) IsVirtual() bool { return true }

func (p *virtualPath) Parent() fs.Path {
	parent, err := p.root.ForPath(path.Dir(p.path))
	if err != nil {
		return p
	}
	return parent
}

func (p *virtualPath) Lookup() (fs.File, error) {
	if len(p.missing) > 0 {
		return nil, fs.ErrNotFound
	}
	return &virtualFile{node: p.node, path: p.path}, nil
}

func (p *virtualPath) LookupSubtree(depth int) ([]fs.File, error) {
	self, err := p.Lookup()
	if err != nil {
		return nil, err
	}
	files := []fs.File{self}
	if depth == 0 {
		return files, nil
	}
	names := make([]string, 0, len(p.node.children))
	for name := range p.node.children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		child := p.node.children[name]
		childPath := path.Join(p.path, name)
		if depth < 0 {
			sub, err := (&virtualPath{root: p.root, node: child, path: childPath}).LookupSubtree(depth)
			if err == nil {
				files = append(files, sub...)
			}
			continue
		}
		files = append(files, &virtualFile{node: child, path: childPath})
	}
	if p.node.bound != nil {
		bp, err := p.node.bound.ForPath(p.node.boundAt)
		if err == nil {
			if bfiles, err := bp.LookupSubtree(depth); err == nil {
				// The bound root itself is already represented by this
				// virtual directory; only its descendants are appended,
				// and only if no virtual child shadows the same name.
				for _, bf := range bfiles {
					if bf.GetPath() == bp.String() {
						continue
					}
					name := path.Base(bf.GetPath())
					if _, shadowed := p.node.children[name]; !shadowed {
						files = append(files, bf)
					}
				}
			}
		}
	}
	return files, nil
}

var errVirtualWrite = fs.ErrNotSupported

func (p *virtualPath) Mkdir() (fs.File, error)                         { return nil, errVirtualWrite }
func (p *virtualPath) Create() (fs.File, fs.FileHandle, error)         { return nil, nil, errVirtualWrite }
func (p *virtualPath) Remove() error                                   { return errVirtualWrite }
func (p *virtualPath) RecursiveRemove() map[string]error {
	return map[string]error{p.path: errVirtualWrite}
}
func (p *virtualPath) CopyTo(dst fs.Path, opt fs.CopyOptions) (bool, error) {
	return false, errVirtualWrite
}

func (p *virtualPath) MeasureDiskUsage() (int64, error) {
	if p.node.bound == nil {
		return 0, nil
	}
	bp, err := p.node.bound.ForPath(p.node.boundAt)
	if err != nil {
		return 0, err
	}
	return bp.MeasureDiskUsage()
}

// virtualFile is the fs.File view of a pure virtual directory: it
// exists, is a directory, has no content and no properties of its own.
type virtualFile struct {
	node *node
	path string
}

func (f *virtualFile) GetPath() string   { return f.path }
func (f *virtualFile) IsDirectory() bool { return true }

func (f *virtualFile) Stat() (fs.FileInfo, error) {
	return fs.FileInfo{Created: time.Time{}, LastModified: time.Time{}}, nil
}

func (f *virtualFile) Open() (fs.FileHandle, error)     { return &fs.EmptyFile{}, nil }
func (f *virtualFile) Truncate() (fs.FileHandle, error) { return nil, errVirtualWrite }
func (f *virtualFile) PatchProp(set, remove map[string]string) error {
	return errVirtualWrite
}
func (f *virtualFile) GetProp(k string) (string, bool) { return "", false }
func (f *virtualFile) ListProps() []string             { return nil }
