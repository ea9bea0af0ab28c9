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

package virtualfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chezdav/chezdav/webdav/fs"
	"github.com/chezdav/chezdav/webdav/fs/memfs"
)

func TestPureVirtualDirectoriesExist(t *testing.T) {
	r := New()
	r.Mkdir("/shares")
	r.Mkdir("/shares/public")

	p, err := r.ForPath("/shares/public")
	require.NoError(t, err)
	assert.True(t, p.IsVirtual())

	f, err := p.Lookup()
	require.NoError(t, err)
	assert.True(t, f.IsDirectory())
}

func TestUnboundVirtualChildIsNotFound(t *testing.T) {
	r := New()
	r.Mkdir("/shares")

	p, err := r.ForPath("/shares/nope.txt")
	require.NoError(t, err)
	_, err = p.Lookup()
	assert.Equal(t, fs.ErrNotFound, err)
}

func TestWritesToVirtualDirectoryAreRejected(t *testing.T) {
	r := New()
	r.Mkdir("/shares")

	p, _ := r.ForPath("/shares")
	_, err := p.Mkdir()
	assert.Equal(t, fs.ErrNotSupported, err)
	_, _, err = p.Create()
	assert.Equal(t, fs.ErrNotSupported, err)
	err = p.Remove()
	assert.Equal(t, fs.ErrNotSupported, err)
}

func TestBoundChildFallsThroughToBackend(t *testing.T) {
	backing := memfs.New()
	bp, err := backing.ForPath("/docs")
	require.NoError(t, err)
	_, err = bp.Mkdir()
	require.NoError(t, err)
	df, err := backing.ForPath("/docs/a.txt")
	require.NoError(t, err)
	_, fh, err := df.Create()
	require.NoError(t, err)
	_, err = fh.Write([]byte("hi"))
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	r := New()
	r.Bind("/shares/docs", backing, "/docs")

	p, err := r.ForPath("/shares/docs/a.txt")
	require.NoError(t, err)
	assert.False(t, p.IsVirtual())

	f, err := p.Lookup()
	require.NoError(t, err)
	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Size)

	// Writes reached through a real child behave normally.
	require.NoError(t, p.Remove())
	_, err = p.Lookup()
	assert.Equal(t, fs.ErrNotFound, err)
}

func TestLookupSubtreeMergesVirtualAndBoundChildren(t *testing.T) {
	backing := memfs.New()
	bp, _ := backing.ForPath("/real.txt")
	_, fh, err := bp.Create()
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	r := New()
	r.Mkdir("/mount/virtualchild")
	r.Bind("/mount", backing, "/")

	p, err := r.ForPath("/mount")
	require.NoError(t, err)
	children, err := p.LookupSubtree(1)
	require.NoError(t, err)

	// self + virtualchild + real.txt
	assert.Len(t, children, 3)
}
