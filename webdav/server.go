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

// Package webdav implements an RFC 4918 server as an http.Handler over
// the abstract filesystem in webdav/fs.
package webdav

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chezdav/chezdav/internal/locks"
	"github.com/chezdav/chezdav/internal/pathtree"
	"github.com/chezdav/chezdav/webdav/cond"
	"github.com/chezdav/chezdav/webdav/fs"
)

// PathHandler is a http.Handler implementation that serves the WebDAV
// protocol over a single abstract filesystem root.
type PathHandler struct {
	fs       fs.FileSystem
	locks    *locks.Manager
	readonly bool

	cancel context.CancelFunc
	ctx    context.Context

	log zerolog.Logger
}

// NewPathHandler creates a PathHandler serving root. readonly rejects
// every method that would mutate the filesystem with StatusForbidden.
func NewPathHandler(root fs.FileSystem, readonly bool) *PathHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &PathHandler{
		fs:       root,
		locks:    locks.NewManager(pathtree.NewRegistry(), nil),
		readonly: readonly,
		ctx:      ctx,
		cancel:   cancel,
		log:      log.With().Str("component", "webdav").Logger(),
	}
}

// Close cancels the handler's context. No filesystem operation observes
// that context, so recursive copies, deletes and disk-usage walks already
// in progress run to completion.
func (s *PathHandler) Close() {
	s.cancel()
}

var writeMethods = map[string]bool{
	"PUT": true, "DELETE": true, "MKCOL": true, "COPY": true,
	"MOVE": true, "PROPPATCH": true, "LOCK": true, "UNLOCK": true,
}

// fsEnv implements cond.Env over this handler's filesystem and lock
// manager, without exposing either directly.
type fsEnv struct {
	h *PathHandler
}

func (e fsEnv) ETag(r string) string {
	p, err := e.h.fs.ForPath(r)
	if err != nil {
		return ""
	}
	f, err := p.Lookup()
	if err != nil {
		return ""
	}
	fi, err := f.Stat()
	if err != nil {
		return ""
	}
	return etag(fi)
}

func (e fsEnv) Locked(r, l string) bool {
	if l == "DAV:no-lock" {
		return false
	}
	return e.h.locks.FindByToken(r, l) != nil
}

type reqContext struct {
	p         fs.Path
	depth     int
	timeout   int64
	cond      *cond.IfTag
	overwrite bool
}

func parseDepth(r *http.Request) (int, error) {
	dh := r.Header.Get("Depth")
	if dh == "infinity" || dh == "Infinity" || dh == "" {
		return -1, nil
	}
	d, err := strconv.Atoi(dh)
	if err != nil {
		return 0, ErrorBadDepth.WithCause(err)
	}
	if d < 0 {
		return 0, ErrorBadDepth.WithCause(errors.New("depth must be non-negative or infinity"))
	}
	return d, nil
}

// parseTimeout returns the requested lock timeout in seconds, defaulting
// to one second if none was specified or parseable. Only the first three
// comma-separated preferences are considered, per RFC 4918 §10.7.
func parseTimeout(r *http.Request) int64 {
	opts := strings.SplitN(r.Header.Get("Timeout"), ",", 3)
	for _, o := range opts {
		o = strings.TrimSpace(o)
		if o == "Infinite" {
			continue
		}
		o = strings.TrimPrefix(o, "Second-")
		d, err := strconv.ParseInt(o, 10, 64)
		if err != nil {
			continue
		}
		return d
	}
	return 1
}

func parseIfHeader(r *http.Request) (*cond.IfTag, error) {
	ih := r.Header.Get("If")
	if ih == "" {
		return nil, nil
	}
	t, err := cond.ParseIfTag(ih)
	if err != nil {
		return nil, err
	}
	if err := t.RewriteHosts(r.Host); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *PathHandler) extractContext(r *http.Request) (ctx reqContext, err error) {
	ctx.p, err = s.fs.ForPath(r.URL.Path)
	if err != nil {
		return
	}
	ctx.depth, err = parseDepth(r)
	if err != nil {
		return
	}
	ctx.cond, err = parseIfHeader(r)
	if err != nil {
		return
	}
	ctx.timeout = parseTimeout(r)
	ctx.overwrite = r.Header.Get("Overwrite") != "F"
	return
}

// checkCanWrite reports whether p may be mutated given the lock tokens
// submitted in the request's If header: true if p carries no lock at
// all, or if every lock on p or an ancestor of p was submitted for p
// specifically (an untagged token applies to the request's own
// resource; a tagged one only applies to the resource it names — a
// token submitted untagged for a MOVE's source does not also authorize
// writing its destination).
func (s *PathHandler) checkCanWrite(ctx reqContext, p fs.Path) bool {
	if p.IsVirtual() {
		return false
	}
	path := p.String()
	if !s.locks.HasOtherLocks(path, nil) {
		return true
	}
	if ctx.cond == nil {
		return false
	}
	submitted := make(map[string]bool)
	for _, ls := range ctx.cond.SubmittedLocks(ctx.p.String()) {
		if ls.Resource == path {
			submitted[ls.Token] = true
		}
	}
	return !s.locks.HasOtherLocks(path, submitted)
}

func (s *PathHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.With().Str("method", r.Method).Str("path", r.URL.Path).Logger()

	if r.URL.Path == "/dumpz" {
		s.fs.Dumpz()
		return
	}

	if s.readonly && writeMethods[r.Method] {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	ctx, err := s.extractContext(r)
	if err != nil {
		s.errorHeader(reqLog, ctx, w, err)
		return
	}

	if ctx.cond != nil {
		if !ctx.cond.Eval(fsEnv{h: s}, ctx.p.String()) {
			reqLog.Debug().Msg("precondition failed")
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
	}

	switch r.Method {
	case "OPTIONS":
		s.doOptions(ctx, w, r)
	case "GET":
		s.doGet(reqLog, ctx, w, r)
	case "HEAD":
		s.doHead(reqLog, ctx, w, r)
	case "POST":
		s.doGet(reqLog, ctx, w, r)
	case "DELETE":
		s.doDelete(reqLog, ctx, w, r)
	case "PUT":
		s.doPut(reqLog, ctx, w, r)
	case "MKCOL":
		s.doMkcol(reqLog, ctx, w, r)
	case "COPY":
		s.doCopy(reqLog, ctx, w, r)
	case "MOVE":
		s.doMove(reqLog, ctx, w, r)
	case "PROPFIND":
		s.doPropfind(reqLog, ctx, w, r)
	case "PROPPATCH":
		s.doProppatch(reqLog, ctx, w, r)
	case "LOCK":
		s.doLock(reqLog, ctx, w, r)
	case "UNLOCK":
		s.doUnlock(reqLog, ctx, w, r)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (s *PathHandler) allowedHeader(w http.ResponseWriter, p fs.Path) {
	allowed := "OPTIONS, MKCOL, PUT, LOCK"
	f, err := p.Lookup()
	if err == nil {
		allowed = "OPTIONS, GET, HEAD, POST, DELETE, TRACE, PROPPATCH, COPY, MOVE, LOCK, UNLOCK"
		if f.IsDirectory() {
			allowed += ", PUT, PROPFIND"
		}
	}
	w.Header().Set("Allow", allowed)
}

func (s *PathHandler) errorHeader(l zerolog.Logger, ctx reqContext, w http.ResponseWriter, e error) {
	l.Error().Err(e).Msg("request failed")
	if we, ok := e.(Error); ok {
		w.WriteHeader(we.HTTPCode())
		if we.HTTPCode() == http.StatusMethodNotAllowed && ctx.p != nil {
			s.allowedHeader(w, ctx.p)
		}
	} else {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (s *PathHandler) doOptions(ctx reqContext, w http.ResponseWriter, r *http.Request) {
	w.Header().Set("DAV", "1, 2")
	s.allowedHeader(w, ctx.p)
	w.Header().Set("MS-Author-Via", "DAV")
}

func etag(fi fs.FileInfo) string {
	return strconv.FormatInt(fi.Size, 10) + "-" + fi.LastModified.Format(time.RFC3339Nano)
}
