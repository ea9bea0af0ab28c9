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
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/chezdav/chezdav/webdav/fs"
	x "github.com/chezdav/chezdav/webdav/xml"
)

// http://www.wbdav.org/specs/rfc4918.html#METHOD_DELETE
func (s *PathHandler) doDelete(l zerolog.Logger, ctx reqContext, w http.ResponseWriter, r *http.Request) {
	if !s.checkCanWrite(ctx, ctx.p) {
		s.errorHeader(l, ctx, w, ErrorLocked)
		return
	}

	f, err := ctx.p.Lookup()
	if err != nil {
		s.errorHeader(l, ctx, w, err)
		return
	}

	if !f.IsDirectory() {
		if err := ctx.p.Remove(); err != nil {
			s.errorHeader(l, ctx, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	errs := ctx.p.RecursiveRemove()
	if len(errs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	ms := x.NewMultiStatus()
	for p, e := range errs {
		ms.AddStatus(p, e)
	}
	ms.Send(w)
}

// chunkSize bounds each pull from the request body during PUT, so a
// slow or malicious client can't force an unbounded in-memory buffer.
const chunkSize = 32 * 1024

// pullBody copies r.Body to fh one chunk at a time instead of a single
// io.Copy, so each chunk is written to fh before the next is pulled
// from the client. Nothing is synced to stable storage.
func pullBody(fh fs.FileHandle, r *http.Request) error {
	buf := make([]byte, chunkSize)
	for {
		n, rerr := r.Body.Read(buf)
		if n > 0 {
			if _, werr := fh.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return rerr
		}
	}
}

// http://www.webdav.org/specs/rfc4918.html#METHOD_PUT
func (s *PathHandler) doPut(l zerolog.Logger, ctx reqContext, w http.ResponseWriter, r *http.Request) {
	if ctx.p.IsVirtual() {
		s.errorHeader(l, ctx, w, ErrorForbidden)
		return
	}
	if !s.checkCanWrite(ctx, ctx.p) {
		s.errorHeader(l, ctx, w, ErrorLocked)
		return
	}

	var fh fs.FileHandle
	f, err := ctx.p.Lookup()
	exists := false
	if err == nil {
		if f.IsDirectory() {
			s.errorHeader(l, ctx, w, ErrorIsDir)
			return
		}
		exists = true
		fh, err = f.Truncate()
	} else {
		_, fh, err = ctx.p.Create()
	}
	if err != nil {
		s.errorHeader(l, ctx, w, ErrorConflict.WithCause(err))
		return
	}
	defer fh.Close()

	if err := pullBody(fh, r); err != nil {
		s.errorHeader(l, ctx, w, ErrorConflict.WithCause(err))
		return
	}
	if exists {
		w.WriteHeader(http.StatusNoContent)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
}

// http://www.webdav.org/specs/rfc4918.html#METHOD_MKCOL
func (s *PathHandler) doMkcol(l zerolog.Logger, ctx reqContext, w http.ResponseWriter, r *http.Request) {
	if ctx.p.IsVirtual() {
		s.errorHeader(l, ctx, w, ErrorForbidden)
		return
	}
	if !s.checkCanWrite(ctx, ctx.p) {
		s.errorHeader(l, ctx, w, ErrorLocked)
		return
	}

	if _, err := ctx.p.Lookup(); err == nil {
		s.errorHeader(l, ctx, w, ErrorNotAllowed)
		return
	}

	if r.ContentLength > 0 {
		s.errorHeader(l, ctx, w, ErrorUnsupportedType)
		return
	}

	if _, err := ctx.p.Mkdir(); err != nil {
		s.errorHeader(l, ctx, w, ErrorConflict.WithCause(err))
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// http://www.webdav.org/specs/rfc4918.html#METHOD_COPY
func (s *PathHandler) doCopy(l zerolog.Logger, ctx reqContext, w http.ResponseWriter, r *http.Request) {
	s.handleCopyOrMove(l, ctx, w, r, false)
}

// http://www.webdav.org/specs/rfc4918.html#METHOD_MOVE
func (s *PathHandler) doMove(l zerolog.Logger, ctx reqContext, w http.ResponseWriter, r *http.Request) {
	s.handleCopyOrMove(l, ctx, w, r, true)
}

func (s *PathHandler) handleCopyOrMove(l zerolog.Logger, ctx reqContext, w http.ResponseWriter, r *http.Request, move bool) {
	src := ctx.p
	if move && !s.checkCanWrite(ctx, src) {
		s.errorHeader(l, ctx, w, ErrorLocked)
		return
	}

	dhdr := r.Header.Get("Destination")
	if dhdr == "" {
		s.errorHeader(l, ctx, w, ErrorBadDest)
		return
	}
	durl, err := url.Parse(dhdr)
	if err != nil {
		s.errorHeader(l, ctx, w, ErrorBadDest.WithCause(err))
		return
	}
	if durl.Host != r.Host {
		s.errorHeader(l, ctx, w, ErrorBadHost)
		return
	}

	dst, err := s.fs.ForPath(durl.Path)
	if err != nil {
		s.errorHeader(l, ctx, w, ErrorBadDest.WithCause(err))
		return
	}
	if dst.IsVirtual() {
		s.errorHeader(l, ctx, w, ErrorForbidden)
		return
	}
	if !s.checkCanWrite(ctx, dst) {
		s.errorHeader(l, ctx, w, ErrorLocked)
		return
	}

	newf, err := src.CopyTo(dst, fs.CopyOptions{
		Overwrite: ctx.overwrite,
		Move:      move,
		Depth:     ctx.depth,
	})
	if err != nil {
		s.errorHeader(l, ctx, w, err)
		return
	}
	if newf {
		w.WriteHeader(http.StatusCreated)
	} else {
		w.WriteHeader(http.StatusNoContent)
	}
}
