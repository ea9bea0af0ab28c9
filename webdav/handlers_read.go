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

	"github.com/rs/zerolog"

	"github.com/chezdav/chezdav/webdav/fs"
)

// http://www.webdav.org/specs/rfc4918.html#rfc.section.9.4
func (s *PathHandler) doGet(l zerolog.Logger, ctx reqContext, w http.ResponseWriter, r *http.Request) {
	s.servePath(l, ctx, w, r, true)
}

// http://www.webdav.org/specs/rfc4918.html#rfc.section.9.4
func (s *PathHandler) doHead(l zerolog.Logger, ctx reqContext, w http.ResponseWriter, r *http.Request) {
	s.servePath(l, ctx, w, r, false)
}

func (s *PathHandler) servePath(l zerolog.Logger, ctx reqContext, w http.ResponseWriter, r *http.Request, content bool) {
	f, err := ctx.p.Lookup()
	if err != nil {
		s.errorHeader(l, ctx, w, ErrorNotFound.WithCause(err))
		return
	}

	fi, err := f.Stat()
	if err != nil {
		s.errorHeader(l, ctx, w, err)
		return
	}

	var fh fs.FileHandle
	if content {
		fh, err = f.Open()
	} else {
		fh = &fs.EmptyFile{}
	}
	if err != nil {
		s.errorHeader(l, ctx, w, err)
		return
	}
	defer fh.Close()

	w.Header().Set("ETag", etag(fi))
	if fi.ContentType != "" {
		w.Header().Set("Content-Type", fi.ContentType)
	}
	http.ServeContent(w, r, ctx.p.String(), fi.LastModified, fh)
}
