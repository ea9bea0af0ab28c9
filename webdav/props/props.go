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

// Package props implements the live-property engine:
// a static dispatch table for the well-known DAV properties, falling
// through to a file's dead-property store for anything else.
package props

import (
	"path"
	"strconv"
	"time"

	"github.com/chezdav/chezdav/internal/locks"
	"github.com/chezdav/chezdav/webdav/fs"
	x "github.com/chezdav/chezdav/webdav/xml"
)

// Deps are the collaborators live property handlers need beyond the
// target fs.File itself.
type Deps struct {
	FS    fs.FileSystem
	Locks *locks.Manager
	ETag  func(fs.FileInfo) string
}

type handler struct {
	name string
	get  func(f fs.File, d Deps) (x.Any, bool)
}

const apacheNS = "http://apache.org/dav/props/"

var liveProps = []handler{
	{"DAV::resourcetype", getResourceType},
	{"DAV::creationdate", getCreationDate},
	{"DAV::getlastmodified", getLastModified},
	{"DAV::getcontentlength", getContentLength},
	{"DAV::getcontenttype", getContentType},
	{"DAV::displayname", getDisplayName},
	{"DAV::getetag", getETag},
	{apacheNS + ":executable", getExecutable},
	{"DAV::supportedlock", getSupportedLock},
	{"DAV::lockdiscovery", getLockDiscovery},
	{"DAV::quota-available-bytes", getQuotaAvailable},
}

var liveByName = func() map[string]handler {
	m := make(map[string]handler, len(liveProps))
	for _, h := range liveProps {
		m[h.name] = h
	}
	return m
}()

// quotaUsedBytes is handled separately from liveProps: it is expensive
// (a full subtree walk) and is excluded from allprop.
const quotaUsedBytes = "DAV::quota-used-bytes"

// Get resolves a single property name against f, returning the value
// to report and whether it was found. Unknown names fall through to
// the file's dead-property store.
func Get(pn string, f fs.File, d Deps) (x.Any, bool) {
	if pn == quotaUsedBytes {
		return getQuotaUsed(f, d)
	}
	if h, ok := liveByName[pn]; ok {
		return h.get(f, d)
	}
	a := x.NewAny(pn)
	v, ok := f.GetProp(pn)
	a.Value = v
	return a, ok
}

// IsLive reports whether pn names a live (protected) property rather
// than a dead property stored on the file. PROPPATCH must reject
// attempts to set or remove a live property.
func IsLive(pn string) bool {
	if pn == quotaUsedBytes {
		return true
	}
	_, ok := liveByName[pn]
	return ok
}

// AllNames lists every property name applicable to f for an allprop or
// propname request: the static live set plus the file's dead
// properties. quota-used-bytes is deliberately excluded (opt-in only).
func AllNames(f fs.File) []string {
	names := make([]string, 0, len(liveProps)+4)
	for _, h := range liveProps {
		names = append(names, h.name)
	}
	names = append(names, f.ListProps()...)
	return names
}

func getResourceType(f fs.File, d Deps) (x.Any, bool) {
	a := x.NewAny("DAV::resourcetype")
	if f.IsDirectory() {
		a.Inner = `<collection xmlns="DAV:"/>`
	}
	return a, true
}

func getCreationDate(f fs.File, d Deps) (x.Any, bool) {
	a := x.NewAny("DAV::creationdate")
	fi, err := f.Stat()
	if err != nil {
		return a, false
	}
	t := fi.Created
	if t.IsZero() {
		t = fi.LastModified
	}
	if t.IsZero() {
		return a, false
	}
	a.Value = t.UTC().Format(time.RFC1123)
	return a, true
}

func getLastModified(f fs.File, d Deps) (x.Any, bool) {
	a := x.NewAny("DAV::getlastmodified")
	fi, err := f.Stat()
	if err != nil || fi.LastModified.IsZero() {
		return a, false
	}
	a.Value = fi.LastModified.UTC().Format(time.RFC3339)
	return a, true
}

func getContentLength(f fs.File, d Deps) (x.Any, bool) {
	a := x.NewAny("DAV::getcontentlength")
	fi, err := f.Stat()
	if err != nil {
		return a, false
	}
	a.Value = strconv.FormatInt(fi.Size, 10)
	return a, true
}

func getContentType(f fs.File, d Deps) (x.Any, bool) {
	a := x.NewAny("DAV::getcontenttype")
	fi, err := f.Stat()
	if err != nil || fi.ContentType == "" {
		return a, false
	}
	a.Value = fi.ContentType
	return a, true
}

func getDisplayName(f fs.File, d Deps) (x.Any, bool) {
	a := x.NewAny("DAV::displayname")
	a.Value = path.Base(f.GetPath())
	return a, a.Value != "" && a.Value != "."
}

func getETag(f fs.File, d Deps) (x.Any, bool) {
	a := x.NewAny("DAV::getetag")
	fi, err := f.Stat()
	if err != nil {
		return a, false
	}
	a.Value = `"` + d.ETag(fi) + `"`
	return a, true
}

func getExecutable(f fs.File, d Deps) (x.Any, bool) {
	a := x.NewAny(apacheNS + ":executable")
	if f.IsDirectory() {
		a.Value = "F"
		return a, true
	}
	v, ok := f.GetProp("xattr::executable")
	if !ok || v != "T" {
		a.Value = "F"
	} else {
		a.Value = "T"
	}
	return a, true
}

func getSupportedLock(f fs.File, d Deps) (x.Any, bool) {
	a := x.NewAny("DAV::supportedlock")
	a.Inner = `
<D:lockentry xmlns:D="DAV:">
<D:lockscope><D:exclusive/></D:lockscope>
<D:locktype><D:write/></D:locktype>
</D:lockentry>
<D:lockentry xmlns:D="DAV:">
<D:lockscope><D:shared/></D:lockscope>
<D:locktype><D:write/></D:locktype>
</D:lockentry>`
	return a, true
}

func getLockDiscovery(f fs.File, d Deps) (x.Any, bool) {
	a := x.NewAny("DAV::lockdiscovery")
	if d.Locks == nil {
		return a, true
	}
	now := time.Now()
	var inner string
	for _, l := range activeLocksFor(f.GetPath(), d.Locks) {
		inner += l.ToXML(now)
	}
	a.Inner = inner
	return a, true
}

// activeLocksFor collects every lock anchored at p or an ancestor of p,
// as reported by the manager's LocksOnPath.
func activeLocksFor(p string, lm *locks.Manager) []*locks.Lock {
	return lm.LocksOnPath(p)
}

func getQuotaAvailable(f fs.File, d Deps) (x.Any, bool) {
	a := x.NewAny("DAV::quota-available-bytes")
	if d.FS == nil {
		return a, false
	}
	info, err := d.FS.QueryFilesystemInfo()
	if err != nil {
		return a, false
	}
	a.Value = strconv.FormatInt(info.FreeBytes, 10)
	return a, true
}

func getQuotaUsed(f fs.File, d Deps) (x.Any, bool) {
	a := x.NewAny(quotaUsedBytes)
	if d.FS == nil {
		return a, false
	}
	p, err := d.FS.ForPath(f.GetPath())
	if err != nil {
		return a, false
	}
	used, err := p.MeasureDiskUsage()
	if err != nil {
		return a, false
	}
	a.Value = strconv.FormatInt(used, 10)
	return a, true
}
