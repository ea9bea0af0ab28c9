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

/*
Package memfs is an in-memory implementation of fs.FileSystem. It has no
limits on how much memory it will consume for files and is recommended
solely for tests and small demos.
*/
package memfs

import (
	"io"
	"log"
	"mime"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/chezdav/chezdav/internal/pathtree"
	"github.com/chezdav/chezdav/webdav/fs"
)

type memfs struct {
	m     sync.Mutex
	files map[string]*memfile
}

// New creates a new fs.FileSystem backed entirely by memory.
func New() fs.FileSystem {
	f := &memfs{files: make(map[string]*memfile)}
	f.files["/"] = newMemFile(f, "/", true)
	return f
}

func (f *memfs) Dumpz() {
	log.Printf("memfs dump:")
	names := make([]string, 0, len(f.files))
	for k := range f.files {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		log.Printf("%s", k)
	}
}

func (f *memfs) QueryFilesystemInfo() (fs.FilesystemInfo, error) {
	f.m.Lock()
	defer f.m.Unlock()
	var used int64
	for _, mf := range f.files {
		used += int64(len(mf.data))
	}
	const fakeTotal = 10 << 30 // 10 GiB, arbitrary for an in-memory demo fs
	free := fakeTotal - used
	if free < 0 {
		free = 0
	}
	return fs.FilesystemInfo{FreeBytes: free, TotalBytes: fakeTotal}, nil
}

func (f *memfs) ForPath(p string) (fs.Path, error) {
	p = path.Clean(p)
	if !path.IsAbs(p) {
		return nil, fs.ErrBadPath
	}
	return &memp{fs: f, path: p}, nil
}

type memp struct {
	fs   *memfs
	path string
}

func (p *memp) String() string    { return p.path }
func (p *memp) IsVirtual() bool   { return false }
func (p *memp) Parent() fs.Path   { return p.parent() }
func (p *memp) parent() *memp     { return &memp{fs: p.fs, path: path.Dir(p.path)} }

func (p *memp) internalLookup() (*memfile, error) {
	f, ok := p.fs.files[p.path]
	if !ok {
		return nil, fs.ErrNotFound
	}
	return f, nil
}

func (p *memp) Lookup() (fs.File, error) {
	p.fs.m.Lock()
	defer p.fs.m.Unlock()
	return p.internalLookup()
}

func (p *memp) LookupSubtree(depth int) ([]fs.File, error) {
	if _, err := p.Lookup(); err != nil {
		return nil, err
	}

	p.fs.m.Lock()
	defer p.fs.m.Unlock()

	var files []fs.File
	for fn, f := range p.fs.files {
		if _, ok := pathtree.Included(fn, p.path, depth); ok {
			files = append(files, f)
		}
	}
	return files, nil
}

func (p *memp) Mkdir() (fs.File, error) {
	if _, err := p.Lookup(); err == nil {
		return nil, fs.ErrConflict
	}
	p.fs.m.Lock()
	defer p.fs.m.Unlock()
	if _, err := p.parent().internalLookup(); err != nil {
		return nil, fs.ErrMissingParent
	}

	f := newMemFile(p.fs, p.path, true)
	p.fs.files[p.path] = f
	return f, nil
}

func (p *memp) Create() (fs.File, fs.FileHandle, error) {
	if _, err := p.Lookup(); err == nil {
		return nil, nil, fs.ErrConflict
	}
	p.fs.m.Lock()
	defer p.fs.m.Unlock()
	if _, err := p.parent().internalLookup(); err != nil {
		return nil, nil, fs.ErrMissingParent
	}

	f := newMemFile(p.fs, p.path, false)
	p.fs.files[p.path] = f
	fh, err := f.Open()
	return f, fh, err
}

func (p *memp) Remove() error {
	p.fs.m.Lock()
	defer p.fs.m.Unlock()
	f, err := p.internalLookup()
	if err != nil {
		return fs.ErrNotFound
	} else if f.IsDirectory() {
		return fs.ErrIsDir
	}
	delete(p.fs.files, f.path)
	return nil
}

func (p *memp) removeSubtree(subtree string) {
	for k := range p.fs.files {
		if pathtree.InTree(k, subtree) {
			delete(p.fs.files, k)
		}
	}
}

func (p *memp) RecursiveRemove() (errs map[string]error) {
	p.fs.m.Lock()
	defer p.fs.m.Unlock()
	errs = make(map[string]error)
	f, err := p.internalLookup()
	if err != nil {
		errs[p.path] = fs.ErrNotFound
		return
	} else if !f.IsDirectory() {
		errs[f.path] = fs.ErrIsNotDir
		return
	}
	p.removeSubtree(f.path)
	return
}

func (p *memp) MeasureDiskUsage() (int64, error) {
	p.fs.m.Lock()
	defer p.fs.m.Unlock()
	var total int64
	for fn, f := range p.fs.files {
		if pathtree.InTree(fn, p.path) {
			total += int64(len(f.data))
		}
	}
	return total, nil
}

func (p *memp) CopyTo(dst fs.Path, opt fs.CopyOptions) (bool, error) {
	p.fs.m.Lock()
	defer p.fs.m.Unlock()

	dstp, ok := dst.(*memp)
	if !ok {
		return false, fs.ErrNotSupported
	}
	if p.path == dstp.path {
		return false, fs.ErrSameFile
	}

	srcf, err := p.internalLookup()
	if err != nil {
		return false, fs.ErrNotFound
	}
	if srcf.IsDirectory() && opt.Move && opt.Depth >= 0 {
		return false, fs.ErrIsDir
	}
	if _, err := dstp.parent().internalLookup(); err != nil {
		return false, fs.ErrMissingParent
	}

	newf := true
	if _, err := dstp.internalLookup(); err == nil {
		if !opt.Overwrite {
			return false, fs.ErrDestExists
		}
		newf = false
		p.removeSubtree(dstp.path)
	}

	for orig, v := range p.fs.files {
		rel, ok := pathtree.Included(orig, p.path, opt.Depth)
		if !ok {
			continue
		}
		np := path.Join(dstp.path, rel)
		if opt.Move {
			v.path = np
			p.fs.files[np] = v
			delete(p.fs.files, orig)
		} else {
			p.fs.files[np] = v.clone(np)
		}
	}
	return newf, nil
}

type memfile struct {
	fs   *memfs
	dir  bool
	path string
	i    fs.FileInfo

	m    sync.Mutex
	data []byte
	p    map[string]string
}

func newMemFile(f *memfs, p string, dir bool) *memfile {
	var d []byte
	if !dir {
		d = make([]byte, 0)
	}
	return &memfile{
		fs:   f,
		dir:  dir,
		path: p,
		p:    make(map[string]string),
		i: fs.FileInfo{
			Created:     time.Now(),
			ContentType: contentTypeFor(p),
		},
		data: d,
	}
}

func contentTypeFor(p string) string {
	ct := mime.TypeByExtension(filepath.Ext(p))
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}

func (f *memfile) clone(np string) *memfile {
	f.m.Lock()
	defer f.m.Unlock()

	mf := newMemFile(f.fs, np, f.dir)
	if !f.dir {
		mf.data = append([]byte(nil), f.data...)
	}
	for k, v := range f.p {
		mf.p[k] = v
	}
	return mf
}

func (f *memfile) GetPath() string { return f.path }

func (f *memfile) PatchProp(set, remove map[string]string) error {
	f.m.Lock()
	defer f.m.Unlock()
	for k, v := range set {
		f.p[k] = v
	}
	for k := range remove {
		delete(f.p, k)
	}
	return nil
}

func (f *memfile) GetProp(k string) (string, bool) {
	f.m.Lock()
	defer f.m.Unlock()
	v, ok := f.p[k]
	return v, ok
}

func (f *memfile) ListProps() []string {
	f.m.Lock()
	defer f.m.Unlock()
	out := make([]string, 0, len(f.p))
	for k := range f.p {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (f *memfile) IsDirectory() bool { return f.dir }

func (f *memfile) Stat() (fs.FileInfo, error) {
	f.m.Lock()
	defer f.m.Unlock()
	f.i.Size = int64(len(f.data))
	return f.i, nil
}

func (f *memfile) Open() (fs.FileHandle, error) {
	f.m.Lock()
	defer f.m.Unlock()
	if f.dir {
		return nil, fs.ErrIsDir
	}
	if f.data == nil {
		return nil, fs.ErrNotFound
	}
	return &memfileh{f: f}, nil
}

func (f *memfile) Truncate() (fs.FileHandle, error) {
	f.m.Lock()
	defer f.m.Unlock()
	if f.dir {
		return nil, fs.ErrIsDir
	}
	f.data = make([]byte, 0)
	f.i.LastModified = time.Now()
	return &memfileh{f: f}, nil
}

type memfileh struct {
	f   *memfile
	pos int64
}

func (h *memfileh) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	h.f.m.Lock()
	defer h.f.m.Unlock()

	start := int(h.pos)
	end := start + len(b)
	if end > len(h.f.data) {
		old := h.f.data
		h.f.data = make([]byte, end)
		copy(h.f.data, old)
	}
	copy(h.f.data[start:end], b)
	h.pos = int64(end)
	h.f.i.LastModified = time.Now()
	return len(b), nil
}

func (h *memfileh) Close() error { return nil }

func (h *memfileh) Read(p []byte) (int, error) {
	h.f.m.Lock()
	defer h.f.m.Unlock()

	start := int(h.pos)
	if start >= len(h.f.data) {
		return 0, io.EOF
	}
	end := start + len(p)
	if end > len(h.f.data) {
		end = len(h.f.data)
	}
	n := copy(p, h.f.data[h.pos:end])
	h.pos = int64(end)
	return n, nil
}

func (h *memfileh) Seek(offset int64, whence int) (int64, error) {
	h.f.m.Lock()
	defer h.f.m.Unlock()
	np := h.pos
	switch whence {
	case 0:
		np = offset
	case 1:
		np += offset
	case 2:
		np = int64(len(h.f.data)) + offset
	}
	if np < 0 {
		return h.pos, fs.ErrUnderrun
	}
	h.pos = np
	return h.pos, nil
}
