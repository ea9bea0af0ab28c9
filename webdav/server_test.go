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

package webdav

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chezdav/chezdav/webdav/fs/memfs"
)

func newTestHandler() *PathHandler {
	return NewPathHandler(memfs.New(), false)
}

func do(t *testing.T, h *PathHandler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// PUT then GET round-trips content.
func TestPutThenGetRoundTrips(t *testing.T) {
	h := newTestHandler()
	defer h.Close()

	w := do(t, h, "PUT", "/hello.txt", "hello world", nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = do(t, h, "GET", "/hello.txt", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello world", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("ETag"))
}

// Overwriting an existing resource with PUT reports 204, not 201.
func TestPutOverwriteReturnsNoContent(t *testing.T) {
	h := newTestHandler()
	defer h.Close()

	do(t, h, "PUT", "/a.txt", "one", nil)
	w := do(t, h, "PUT", "/a.txt", "two", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, "GET", "/a.txt", "", nil)
	assert.Equal(t, "two", w.Body.String())
}

// MKCOL creates a collection; GET on an unknown path 404s.
func TestMkcolAndMissingGet(t *testing.T) {
	h := newTestHandler()
	defer h.Close()

	w := do(t, h, "MKCOL", "/dir", "", nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = do(t, h, "MKCOL", "/dir", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = do(t, h, "GET", "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// DELETE removes a file; a second DELETE then 404s.
func TestDeleteThenMissing(t *testing.T) {
	h := newTestHandler()
	defer h.Close()

	do(t, h, "PUT", "/a.txt", "x", nil)
	w := do(t, h, "DELETE", "/a.txt", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, "GET", "/a.txt", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// COPY duplicates a resource, leaving the source intact.
func TestCopyPreservesSource(t *testing.T) {
	h := newTestHandler()
	defer h.Close()

	do(t, h, "PUT", "/src.txt", "payload", nil)
	w := do(t, h, "COPY", "/src.txt", "", map[string]string{"Destination": "http://example.com/dst.txt"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = do(t, h, "GET", "/src.txt", "", nil)
	assert.Equal(t, "payload", w.Body.String())
	w = do(t, h, "GET", "/dst.txt", "", nil)
	assert.Equal(t, "payload", w.Body.String())
}

// MOVE relocates a resource; the source no longer exists afterward.
func TestMoveRelocatesResource(t *testing.T) {
	h := newTestHandler()
	defer h.Close()

	do(t, h, "PUT", "/src.txt", "payload", nil)
	w := do(t, h, "MOVE", "/src.txt", "", map[string]string{"Destination": "http://example.com/dst.txt"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = do(t, h, "GET", "/src.txt", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, h, "GET", "/dst.txt", "", nil)
	assert.Equal(t, "payload", w.Body.String())
}

// LOCK a resource, then a PUT without the token in an If header is
// rejected as locked (423); the token itself authorizes the write.
func TestLockBlocksUnauthorizedWrite(t *testing.T) {
	h := newTestHandler()
	defer h.Close()

	do(t, h, "PUT", "/locked.txt", "v1", nil)
	w := do(t, h, "LOCK", "/locked.txt", `<?xml version="1.0"?>
<D:lockinfo xmlns:D="DAV:">
  <D:lockscope><D:exclusive/></D:lockscope>
  <D:locktype><D:write/></D:locktype>
  <D:owner><D:href>http://example.com/owner</D:href></D:owner>
</D:lockinfo>`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	token := strings.Trim(w.Header().Get("Lock-Token"), "<>")
	require.NotEmpty(t, token)

	// Without the token, a second PUT is rejected as locked.
	w = do(t, h, "PUT", "/locked.txt", "v2", nil)
	assert.Equal(t, StatusLocked, w.Code)

	// With the token in the If header, the write is authorized.
	w = do(t, h, "PUT", "/locked.txt", "v3", map[string]string{
		"If": "(<" + token + ">)",
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

// UNLOCK with a mismatched token reports conflict; with the
// right token it releases the lock and a subsequent PUT succeeds.
func TestUnlockReleasesLock(t *testing.T) {
	h := newTestHandler()
	defer h.Close()

	do(t, h, "PUT", "/f.txt", "v1", nil)
	w := do(t, h, "LOCK", "/f.txt", `<?xml version="1.0"?>
<D:lockinfo xmlns:D="DAV:">
  <D:lockscope><D:exclusive/></D:lockscope>
  <D:locktype><D:write/></D:locktype>
</D:lockinfo>`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	token := strings.Trim(w.Header().Get("Lock-Token"), "<>")

	w = do(t, h, "UNLOCK", "/f.txt", "", map[string]string{"Lock-Token": "<urn:uuid:00000000-0000-0000-0000-000000000000>"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, h, "UNLOCK", "/f.txt", "", map[string]string{"Lock-Token": "<" + token + ">"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, "PUT", "/f.txt", "v2", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

// Two shared locks on the same resource coexist; a subsequent exclusive
// LOCK attempt is rejected while either shared lock still holds.
func TestSharedLocksCoexistButBlockExclusive(t *testing.T) {
	h := newTestHandler()
	defer h.Close()

	do(t, h, "PUT", "/shared.txt", "v1", nil)

	sharedBody := `<?xml version="1.0"?>
<D:lockinfo xmlns:D="DAV:">
  <D:lockscope><D:shared/></D:lockscope>
  <D:locktype><D:write/></D:locktype>
  <D:owner><D:href>http://example.com/owner-a</D:href></D:owner>
</D:lockinfo>`

	w := do(t, h, "LOCK", "/shared.txt", sharedBody, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "shared")

	w = do(t, h, "LOCK", "/shared.txt", sharedBody, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, "LOCK", "/shared.txt", `<?xml version="1.0"?>
<D:lockinfo xmlns:D="DAV:">
  <D:lockscope><D:exclusive/></D:lockscope>
  <D:locktype><D:write/></D:locktype>
</D:lockinfo>`, nil)
	assert.Equal(t, StatusLocked, w.Code)
}

// PROPFIND with Depth: infinity is rejected outright; an absent Depth
// header is treated the same way.
func TestPropfindRejectsDepthInfinity(t *testing.T) {
	h := newTestHandler()
	defer h.Close()

	do(t, h, "MKCOL", "/dir", "", nil)

	body := `<?xml version="1.0"?>
<D:propfind xmlns:D="DAV:"><D:allprop/></D:propfind>`

	w := do(t, h, "PROPFIND", "/dir", body, map[string]string{"Depth": "infinity"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, h, "PROPFIND", "/dir", body, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

// PROPPATCH attempting to set a live property reports it with its own
// 403 propstat rather than failing the whole request.
func TestProppatchRejectsLiveProperty(t *testing.T) {
	h := newTestHandler()
	defer h.Close()

	do(t, h, "PUT", "/a.txt", "aaa", nil)
	w := do(t, h, "PROPPATCH", "/a.txt", `<?xml version="1.0"?>
<D:propertyupdate xmlns:D="DAV:">
  <D:set><D:prop><D:getcontentlength>99</D:getcontentlength></D:prop></D:set>
</D:propertyupdate>`, nil)
	require.Equal(t, StatusMulti, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "403 Forbidden")
	assert.Contains(t, body, "getcontentlength")
}

// PROPFIND on a collection with Depth: 1 reports the collection and its
// immediate children, each with a 200 propstat for getcontentlength.
func TestPropfindDepthOne(t *testing.T) {
	h := newTestHandler()
	defer h.Close()

	do(t, h, "MKCOL", "/dir", "", nil)
	do(t, h, "PUT", "/dir/a.txt", "aaa", nil)
	do(t, h, "PUT", "/dir/b.txt", "bb", nil)

	w := do(t, h, "PROPFIND", "/dir", `<?xml version="1.0"?>
<D:propfind xmlns:D="DAV:"><D:prop><D:getcontentlength/></D:prop></D:propfind>`,
		map[string]string{"Depth": "1"})
	require.Equal(t, StatusMulti, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "/dir/a.txt")
	assert.Contains(t, body, "/dir/b.txt")
	assert.Contains(t, body, "getcontentlength")
}

func TestPropfindAllpropIncludesLiveProps(t *testing.T) {
	h := newTestHandler()
	defer h.Close()

	do(t, h, "PUT", "/a.txt", "aaa", nil)
	w := do(t, h, "PROPFIND", "/a.txt", `<?xml version="1.0"?>
<D:propfind xmlns:D="DAV:"><D:allprop/></D:propfind>`, map[string]string{"Depth": "0"})
	require.Equal(t, StatusMulti, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "getcontentlength")
	assert.Contains(t, body, "getetag")
	assert.NotContains(t, body, "quota-used-bytes")
}

func TestProppatchSetsAndRemovesDeadProperty(t *testing.T) {
	h := newTestHandler()
	defer h.Close()

	do(t, h, "PUT", "/a.txt", "aaa", nil)
	w := do(t, h, "PROPPATCH", "/a.txt", `<?xml version="1.0"?>
<D:propertyupdate xmlns:D="DAV:" xmlns:Z="http://example.com/z">
  <D:set><D:prop><Z:author>me</Z:author></D:prop></D:set>
</D:propertyupdate>`, nil)
	require.Equal(t, StatusMulti, w.Code)
	assert.Contains(t, w.Body.String(), "200 OK")
	assert.Contains(t, w.Body.String(), "author")

	w = do(t, h, "PROPFIND", "/a.txt", `<?xml version="1.0"?>
<D:propfind xmlns:D="DAV:" xmlns:Z="http://example.com/z">
  <D:prop><Z:author/></D:prop>
</D:propfind>`, map[string]string{"Depth": "0"})
	require.Equal(t, StatusMulti, w.Code)
	assert.Contains(t, w.Body.String(), "me")
}

func TestReadonlyRejectsWrites(t *testing.T) {
	h := NewPathHandler(memfs.New(), true)
	defer h.Close()

	w := do(t, h, "PUT", "/a.txt", "x", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, h, "GET", "/a.txt", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOptionsAdvertisesDAV(t *testing.T) {
	h := newTestHandler()
	defer h.Close()

	w := do(t, h, "OPTIONS", "/", "", nil)
	assert.Equal(t, "1, 2", w.Header().Get("DAV"))
	assert.Contains(t, w.Header().Get("Allow"), "PROPFIND")
}
