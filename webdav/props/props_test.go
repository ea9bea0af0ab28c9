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

package props

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chezdav/chezdav/internal/locks"
	"github.com/chezdav/chezdav/internal/pathtree"
	"github.com/chezdav/chezdav/webdav/fs"
	"github.com/chezdav/chezdav/webdav/fs/memfs"
)

func fixedETag(fi fs.FileInfo) string {
	return strconv.FormatInt(fi.Size, 10)
}

func testDeps(mfs fs.FileSystem, lm *locks.Manager) Deps {
	return Deps{FS: mfs, Locks: lm, ETag: fixedETag}
}

func mustFile(t *testing.T, mfs fs.FileSystem, p string) fs.File {
	t.Helper()
	path, err := mfs.ForPath(p)
	require.NoError(t, err)
	f, err := path.Lookup()
	require.NoError(t, err)
	return f
}

func TestGetContentLengthReflectsWrittenBytes(t *testing.T) {
	mfs := memfs.New()
	p, err := mfs.ForPath("/a.txt")
	require.NoError(t, err)
	_, fh, err := p.Create()
	require.NoError(t, err)
	_, err = fh.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	f := mustFile(t, mfs, "/a.txt")
	deps := testDeps(mfs, nil)

	a, ok := Get("DAV::getcontentlength", f, deps)
	require.True(t, ok)
	assert.Equal(t, "5", a.Value)
}

func TestGetResourceTypeMarksCollections(t *testing.T) {
	mfs := memfs.New()
	p, err := mfs.ForPath("/dir")
	require.NoError(t, err)
	_, err = p.Mkdir()
	require.NoError(t, err)

	dir := mustFile(t, mfs, "/dir")
	deps := testDeps(mfs, nil)

	a, ok := Get("DAV::resourcetype", dir, deps)
	require.True(t, ok)
	assert.Contains(t, a.Inner, "collection")

	root, err := mfs.ForPath("/")
	require.NoError(t, err)
	rf, err := root.Lookup()
	require.NoError(t, err)
	a, ok = Get("DAV::resourcetype", rf, deps)
	require.True(t, ok)
	// A plain file/root with no children is not reported as a collection
	// unless IsDirectory() says so; memfs's root is a directory.
	assert.Contains(t, a.Inner, "collection")
}

func TestGetETagIsQuoted(t *testing.T) {
	mfs := memfs.New()
	p, err := mfs.ForPath("/a.txt")
	require.NoError(t, err)
	_, fh, err := p.Create()
	require.NoError(t, err)
	fh.Write([]byte("xyz"))
	fh.Close()

	f := mustFile(t, mfs, "/a.txt")
	a, ok := Get("DAV::getetag", f, testDeps(mfs, nil))
	require.True(t, ok)
	assert.Equal(t, `"3"`, a.Value)
}

func TestDeadPropertyRoundTrips(t *testing.T) {
	mfs := memfs.New()
	p, err := mfs.ForPath("/a.txt")
	require.NoError(t, err)
	_, _, err = p.Create()
	require.NoError(t, err)

	f := mustFile(t, mfs, "/a.txt")
	require.NoError(t, f.PatchProp(map[string]string{"http://example.com/ns:author": "me"}, nil))

	a, ok := Get("http://example.com/ns:author", f, testDeps(mfs, nil))
	require.True(t, ok)
	assert.Equal(t, "me", a.Value)

	_, ok = Get("http://example.com/ns:missing", f, testDeps(mfs, nil))
	assert.False(t, ok)
}

func TestAllNamesExcludesQuotaUsedBytes(t *testing.T) {
	mfs := memfs.New()
	f := mustFile(t, mfs, "/")
	for _, n := range AllNames(f) {
		assert.NotEqual(t, quotaUsedBytes, n)
	}
}

func TestQuotaUsedBytesIsOptInOnly(t *testing.T) {
	mfs := memfs.New()
	p, err := mfs.ForPath("/a.txt")
	require.NoError(t, err)
	_, fh, err := p.Create()
	require.NoError(t, err)
	fh.Write([]byte("12345"))
	fh.Close()

	f := mustFile(t, mfs, "/a.txt")
	a, ok := Get(quotaUsedBytes, f, testDeps(mfs, nil))
	require.True(t, ok)
	assert.Equal(t, "5", a.Value)
}

func TestLockDiscoveryListsActiveLock(t *testing.T) {
	mfs := memfs.New()
	p, err := mfs.ForPath("/a.txt")
	require.NoError(t, err)
	_, _, err = p.Create()
	require.NoError(t, err)

	fixedNow := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lm := locks.NewManager(pathtree.NewRegistry(), func() time.Time { return fixedNow })
	tok, err := locks.NewToken()
	require.NoError(t, err)
	lk, err := lm.NewLock("/a.txt", tok, locks.Exclusive, locks.Write, 0, "me", 60)
	require.NoError(t, err)
	require.NoError(t, lm.TryAdd(lk))

	f := mustFile(t, mfs, "/a.txt")
	a, ok := Get("DAV::lockdiscovery", f, testDeps(mfs, lm))
	require.True(t, ok)
	assert.Contains(t, a.Inner, tok)
}
