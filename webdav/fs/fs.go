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

// Package fs declares the filesystem abstraction
// consumed by the webdav method handlers and property engine. It is
// implemented by memfs (in-memory, test-only), osfs (a real directory)
// and virtualfs (the in-memory overlay over either).
package fs

import (
	"io"
	"time"
)

// FileSystem represents an abstract filesystem rooted somewhere and
// addressed by absolute, slash-separated paths.
type FileSystem interface {
	// ForPath resolves p to a Path handle. It does not require the path
	// to exist; existence is only checked by Lookup.
	ForPath(p string) (Path, error)
	// QueryFilesystemInfo reports aggregate space usage for quota
	// properties.
	QueryFilesystemInfo() (FilesystemInfo, error)
	// Dumpz logs the filesystem's full contents, for the /dumpz debug
	// hook.
	Dumpz()
}

// FilesystemInfo backs the quota-available-bytes / quota-used-bytes live
// properties.
type FilesystemInfo struct {
	FreeBytes, TotalBytes int64
}

// CopyOptions configures a Path.CopyTo call.
type CopyOptions struct {
	Overwrite, Move bool
	Depth           int
}

// Path is a unique, possibly nonexistent, location in the filesystem.
type Path interface {
	String() string
	Parent() Path
	// IsVirtual reports whether this path is served out of a virtual
	// directory overlay rather than a backing real file — write methods
	// reject virtual targets with FORBIDDEN.
	IsVirtual() bool
	Lookup() (File, error)
	// LookupSubtree returns the resource itself (depth 0), plus its
	// children (depth 1) or entire subtree (depth < 0), for PROPFIND.
	LookupSubtree(depth int) ([]File, error)
	Mkdir() (File, error)
	Create() (File, FileHandle, error)
	CopyTo(dst Path, opt CopyOptions) (bool, error)
	Remove() error
	RecursiveRemove() map[string]error
	// MeasureDiskUsage walks the subtree rooted here and sums actual
	// bytes used. It is slow; callers should only invoke it for an
	// explicit quota-used-bytes request, not allprop.
	MeasureDiskUsage() (int64, error)
}

// FileInfo is the metadata surface live properties are
// computed from.
type FileInfo struct {
	Created, LastModified time.Time
	Size                  int64
	ContentType           string
}

// File represents an open-or-not reference to a file or directory.
type File interface {
	GetPath() string
	IsDirectory() bool
	Stat() (FileInfo, error)
	Open() (FileHandle, error)
	Truncate() (FileHandle, error)
	PatchProp(set, remove map[string]string) error
	GetProp(k string) (string, bool)
	// ListProps enumerates the dead-property keys currently stored,
	// for allprop/propname enumeration.
	ListProps() []string
}

// FileHandle is an open reference to a file for streaming reads or writes.
type FileHandle interface {
	io.ReadSeeker
	io.Closer
	io.Writer
}

// EmptyFile is a FileHandle with no content, used to satisfy HEAD
// requests without opening the real file.
type EmptyFile struct{}

var _ FileHandle = &EmptyFile{}

func (e *EmptyFile) Write(b []byte) (int, error)                  { return 0, io.EOF }
func (e *EmptyFile) Close() error                                 { return nil }
func (e *EmptyFile) Read(p []byte) (n int, err error)             { return 0, io.EOF }
func (e *EmptyFile) Seek(offset int64, whence int) (int64, error) { return 0, nil }

// Errors shared by every FileSystem implementation. webdav.Error values
// wrap these where an HTTP status must be chosen.
var (
	ErrNotFound      = fsError("fs: not found")
	ErrConflict      = fsError("fs: conflict")
	ErrIsDir         = fsError("fs: is a directory")
	ErrIsNotDir      = fsError("fs: is not a directory")
	ErrMissingParent = fsError("fs: missing parent")
	ErrDestExists    = fsError("fs: destination exists")
	ErrSameFile      = fsError("fs: source and destination are the same file")
	ErrNotSupported  = fsError("fs: not supported")
	ErrUnderrun      = fsError("fs: seek before start of file")
	ErrBadPath       = fsError("fs: bad path")
)

type fsError string

func (e fsError) Error() string { return string(e) }
