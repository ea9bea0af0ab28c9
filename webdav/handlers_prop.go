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
	"errors"
	"net/http"
	"sort"

	"github.com/rs/zerolog"

	"github.com/chezdav/chezdav/webdav/props"
	x "github.com/chezdav/chezdav/webdav/xml"
)

func (s *PathHandler) propDeps() props.Deps {
	return props.Deps{FS: s.fs, Locks: s.locks, ETag: etag}
}

var errDepthInfinity = errors.New("PROPFIND does not support Depth: infinity")

// http://www.webdav.org/specs/rfc4918.html#METHOD_PROPFIND
func (s *PathHandler) doPropfind(l zerolog.Logger, ctx reqContext, w http.ResponseWriter, r *http.Request) {
	if ctx.depth != 0 && ctx.depth != 1 {
		s.errorHeader(l, ctx, w, ErrorForbidden.WithCause(errDepthInfinity))
		return
	}

	req, err := x.ParsePropFind(r.Body)
	if err != nil {
		s.errorHeader(l, ctx, w, ErrorBadPropfind.WithCause(err))
		return
	}

	files, err := ctx.p.LookupSubtree(ctx.depth)
	if err != nil {
		s.errorHeader(l, ctx, w, err)
		return
	}

	deps := s.propDeps()
	ms := x.NewMultiStatus()
	for _, f := range files {
		names := req.PropertyNames
		if req.AllProp || req.PropName {
			names = props.AllNames(f)
		}

		var found, missing []x.Any
		for _, pn := range names {
			v, ok := props.Get(pn, f, deps)
			if req.PropName {
				v.Value = ""
				v.Inner = ""
			}
			if ok {
				found = append(found, v)
			} else {
				missing = append(missing, v)
			}
		}
		if req.PropName {
			missing = nil
		}
		ms.AddPropStatus(f.GetPath(), found, missing)
	}
	ms.Send(w)
}

// http://www.webdav.org/specs/rfc4918.html#METHOD_PROPPATCH
func (s *PathHandler) doProppatch(l zerolog.Logger, ctx reqContext, w http.ResponseWriter, r *http.Request) {
	if ctx.p.IsVirtual() {
		s.errorHeader(l, ctx, w, ErrorForbidden)
		return
	}
	if !s.checkCanWrite(ctx, ctx.p) {
		s.errorHeader(l, ctx, w, ErrorLocked)
		return
	}

	f, err := ctx.p.Lookup()
	if err != nil {
		s.errorHeader(l, ctx, w, err)
		return
	}

	req, err := x.ParsePropPatch(r.Body)
	if err != nil {
		s.errorHeader(l, ctx, w, ErrorBadProppatch.WithCause(err))
		return
	}

	setOK := make(map[string]string, len(req.Set))
	removeOK := make(map[string]string, len(req.Remove))
	var forbidden []string
	for n, v := range req.Set {
		if props.IsLive(n) {
			forbidden = append(forbidden, n)
			continue
		}
		setOK[n] = v
	}
	for n := range req.Remove {
		if props.IsLive(n) {
			forbidden = append(forbidden, n)
			continue
		}
		removeOK[n] = ""
	}

	var succeeded, failed []string
	if len(setOK) > 0 || len(removeOK) > 0 {
		if err := f.PatchProp(setOK, removeOK); err != nil {
			failed = append(failed, namesOf(setOK)...)
			failed = append(failed, namesOf(removeOK)...)
		} else {
			succeeded = append(succeeded, namesOf(setOK)...)
			succeeded = append(succeeded, namesOf(removeOK)...)
		}
	}
	sort.Strings(forbidden)
	sort.Strings(succeeded)
	sort.Strings(failed)

	ms := x.NewMultiStatus()
	ms.AddPropStatusGroups(f.GetPath(), []x.PropStatusGroup{
		{Status: "HTTP/1.1 200 OK", Props: namesToAny(succeeded)},
		{Status: "HTTP/1.1 403 Forbidden", Props: namesToAny(forbidden)},
		{Status: "HTTP/1.1 409 Conflict", Props: namesToAny(failed)},
	})
	ms.Send(w)
}

func namesOf(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	return names
}

func namesToAny(names []string) []x.Any {
	as := make([]x.Any, 0, len(names))
	for _, n := range names {
		as = append(as, x.NewAny(n))
	}
	return as
}
