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

// Package osfs implements fs.FileSystem over a real
// directory on disk. Dead properties, which a real DAV server usually
// keeps as filesystem extended attributes, are kept in a JSON sidecar
// file per directory instead — see DESIGN.md for why.
package osfs

import (
	"encoding/json"
	"io"
	"log"
	"mime"
	"os"
	gopath "path"
	"path/filepath"
	"sort"
	"sync"

	"github.com/chezdav/chezdav/webdav/fs"
)

const sidecarName = ".chezdav-props.json"

type root struct {
	base string

	mu    sync.Mutex
	props map[string]map[string]map[string]string // dir -> basename -> propKey -> value
}

// New roots a fs.FileSystem at base, an existing directory on disk.
func New(base string) (fs.FileSystem, error) {
	info, err := os.Stat(base)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fs.ErrIsNotDir
	}
	return &root{base: filepath.Clean(base), props: make(map[string]map[string]map[string]string)}, nil
}

func (r *root) Dumpz() {
	log.Printf("osfs root: %s", r.base)
}

func (r *root) QueryFilesystemInfo() (fs.FilesystemInfo, error) {
	return statfs(r.base)
}

func (r *root) ForPath(p string) (fs.Path, error) {
	p = gopath.Clean("/" + p)
	return &osPath{root: r, rel: p}, nil
}

func (r *root) nativePath(rel string) string {
	return filepath.Join(r.base, filepath.FromSlash(rel))
}

func (r *root) sidecarPath(dir string) string {
	return filepath.Join(r.nativePath(dir), sidecarName)
}

func (r *root) loadProps(dir string) map[string]map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.props[dir]; ok {
		return m
	}
	m := make(map[string]map[string]string)
	b, err := os.ReadFile(r.sidecarPath(dir))
	if err == nil {
		_ = json.Unmarshal(b, &m)
	}
	r.props[dir] = m
	return m
}

func (r *root) saveProps(dir string) error {
	r.mu.Lock()
	m := r.props[dir]
	r.mu.Unlock()
	if m == nil || len(m) == 0 {
		_ = os.Remove(r.sidecarPath(dir))
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(r.sidecarPath(dir), b, 0o644)
}

type osPath struct {
	root *root
	rel  string // absolute, slash-separated, relative to root.base
}

func (p *osPath) String() string  { return p.rel }
func (p *osPath) IsVirtual() bool { return false }
func (p *osPath) Parent() fs.Path {
	return &osPath{root: p.root, rel: gopath.Dir(p.rel)}
}

func (p *osPath) native() string { return p.root.nativePath(p.rel) }

func (p *osPath) Lookup() (fs.File, error) {
	info, err := os.Stat(p.native())
	if os.IsNotExist(err) {
		return nil, fs.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return newOsFile(p.root, p.rel, info), nil
}

func (p *osPath) LookupSubtree(depth int) ([]fs.File, error) {
	self, err := p.Lookup()
	if err != nil {
		return nil, err
	}
	files := []fs.File{self}
	if !self.IsDirectory() || depth == 0 {
		return files, nil
	}

	entries, err := os.ReadDir(p.native())
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Name() == sidecarName {
			continue
		}
		childRel := gopath.Join(p.rel, e.Name())
		if depth < 0 {
			child := &osPath{root: p.root, rel: childRel}
			sub, err := child.LookupSubtree(depth)
			if err != nil {
				continue
			}
			files = append(files, sub...)
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, newOsFile(p.root, childRel, info))
	}
	return files, nil
}

func (p *osPath) Mkdir() (fs.File, error) {
	if err := os.Mkdir(p.native(), 0o755); err != nil {
		if os.IsNotExist(err) {
			return nil, fs.ErrMissingParent
		}
		return nil, err
	}
	return p.Lookup()
}

func (p *osPath) Create() (fs.File, fs.FileHandle, error) {
	fh, err := os.OpenFile(p.native(), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fs.ErrMissingParent
		}
		if os.IsExist(err) {
			return nil, nil, fs.ErrConflict
		}
		return nil, nil, err
	}
	f, err := p.Lookup()
	if err != nil {
		fh.Close()
		return nil, nil, err
	}
	return f, fh, nil
}

func (p *osPath) Remove() error {
	info, err := os.Stat(p.native())
	if os.IsNotExist(err) {
		return fs.ErrNotFound
	}
	if info.IsDir() {
		return fs.ErrIsDir
	}
	if err := os.Remove(p.native()); err != nil {
		return err
	}
	p.dropProps()
	return nil
}

func (p *osPath) RecursiveRemove() map[string]error {
	errs := make(map[string]error)
	info, err := os.Stat(p.native())
	if os.IsNotExist(err) {
		errs[p.rel] = fs.ErrNotFound
		return errs
	}
	if !info.IsDir() {
		errs[p.rel] = fs.ErrIsNotDir
		return errs
	}

	entries, err := os.ReadDir(p.native())
	if err != nil {
		errs[p.rel] = err
		return errs
	}
	allGone := true
	for _, e := range entries {
		if e.Name() == sidecarName {
			continue
		}
		child := &osPath{root: p.root, rel: gopath.Join(p.rel, e.Name())}
		if e.IsDir() {
			for cp, cerr := range child.RecursiveRemove() {
				errs[cp] = cerr
				allGone = false
			}
		} else if err := child.Remove(); err != nil {
			errs[child.rel] = err
			allGone = false
		}
	}
	if allGone {
		os.Remove(filepath.Join(p.native(), sidecarName))
		if err := os.Remove(p.native()); err != nil {
			errs[p.rel] = err
		} else {
			p.dropProps()
		}
	}
	return errs
}

func (p *osPath) MeasureDiskUsage() (int64, error) {
	var total int64
	err := filepath.Walk(p.native(), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if filepath.Base(path) == sidecarName {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

func (p *osPath) CopyTo(dst fs.Path, opt fs.CopyOptions) (bool, error) {
	dstp, ok := dst.(*osPath)
	if !ok {
		return false, fs.ErrNotSupported
	}
	if p.rel == dstp.rel {
		return false, fs.ErrSameFile
	}

	srcInfo, err := os.Stat(p.native())
	if os.IsNotExist(err) {
		return false, fs.ErrNotFound
	} else if err != nil {
		return false, err
	}
	if srcInfo.IsDir() && opt.Move && opt.Depth >= 0 {
		return false, fs.ErrIsDir
	}

	if _, err := os.Stat(filepath.Dir(dstp.native())); os.IsNotExist(err) {
		return false, fs.ErrMissingParent
	}

	newf := true
	if _, err := os.Stat(dstp.native()); err == nil {
		if !opt.Overwrite {
			return false, fs.ErrDestExists
		}
		newf = false
		os.RemoveAll(dstp.native())
	}

	if srcInfo.IsDir() {
		if err := copyDir(p, dstp, opt); err != nil {
			return false, err
		}
	} else if err := copyFile(p.native(), dstp.native()); err != nil {
		return false, err
	}

	if opt.Move {
		if err := os.RemoveAll(p.native()); err != nil {
			return newf, err
		}
		p.dropProps()
	}
	return newf, nil
}

func copyFile(srcNative, dstNative string) error {
	in, err := os.Open(srcNative)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dstNative)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func copyDir(src, dst *osPath, opt fs.CopyOptions) error {
	if err := os.MkdirAll(dst.native(), 0o755); err != nil {
		return err
	}
	if opt.Depth == 0 {
		return nil
	}
	entries, err := os.ReadDir(src.native())
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == sidecarName {
			continue
		}
		childSrc := &osPath{root: src.root, rel: gopath.Join(src.rel, e.Name())}
		childDst := &osPath{root: dst.root, rel: gopath.Join(dst.rel, e.Name())}
		childOpt := opt
		if opt.Depth > 0 {
			childOpt.Depth = 0
		}
		if e.IsDir() {
			if err := copyDir(childSrc, childDst, childOpt); err != nil {
				return err
			}
		} else if err := copyFile(childSrc.native(), childDst.native()); err != nil {
			return err
		}
	}
	return nil
}

func (p *osPath) dropProps() {
	dir, name := gopath.Split(p.rel)
	dir = gopath.Clean(dir)
	m := p.root.loadProps(dir)
	delete(m, name)
	p.root.saveProps(dir)
}

// osFile is the fs.File view of a stat'd path.
type osFile struct {
	root *root
	rel  string
	info os.FileInfo
}

func newOsFile(r *root, rel string, info os.FileInfo) *osFile {
	return &osFile{root: r, rel: rel, info: info}
}

func (f *osFile) GetPath() string    { return f.rel }
func (f *osFile) IsDirectory() bool  { return f.info.IsDir() }

func (f *osFile) Stat() (fs.FileInfo, error) {
	return fs.FileInfo{
		Created:      f.info.ModTime(), // most filesystems don't expose creation time portably
		LastModified: f.info.ModTime(),
		Size:         f.info.Size(),
		ContentType:  contentTypeFor(f.rel),
	}, nil
}

func contentTypeFor(rel string) string {
	ct := mime.TypeByExtension(filepath.Ext(rel))
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}

func (f *osFile) Open() (fs.FileHandle, error) {
	if f.info.IsDir() {
		return nil, fs.ErrIsDir
	}
	return os.Open(f.root.nativePath(f.rel))
}

func (f *osFile) Truncate() (fs.FileHandle, error) {
	if f.info.IsDir() {
		return nil, fs.ErrIsDir
	}
	return os.OpenFile(f.root.nativePath(f.rel), os.O_RDWR|os.O_TRUNC, 0o644)
}

func (f *osFile) propKey() (dir, name string) {
	dir, name = gopath.Split(f.rel)
	return gopath.Clean(dir), name
}

func (f *osFile) PatchProp(set, remove map[string]string) error {
	dir, name := f.propKey()
	m := f.root.loadProps(dir)

	f.root.mu.Lock()
	entry := m[name]
	if entry == nil {
		entry = make(map[string]string)
		m[name] = entry
	}
	for k, v := range set {
		entry[k] = v
	}
	for k := range remove {
		delete(entry, k)
	}
	if len(entry) == 0 {
		delete(m, name)
	}
	f.root.mu.Unlock()

	return f.root.saveProps(dir)
}

func (f *osFile) GetProp(k string) (string, bool) {
	dir, name := f.propKey()
	m := f.root.loadProps(dir)
	f.root.mu.Lock()
	defer f.root.mu.Unlock()
	entry := m[name]
	if entry == nil {
		return "", false
	}
	v, ok := entry[k]
	return v, ok
}

func (f *osFile) ListProps() []string {
	dir, name := f.propKey()
	m := f.root.loadProps(dir)
	f.root.mu.Lock()
	defer f.root.mu.Unlock()
	entry := m[name]
	out := make([]string, 0, len(entry))
	for k := range entry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
