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
	"time"

	"github.com/rs/zerolog"

	"github.com/chezdav/chezdav/internal/locks"
	x "github.com/chezdav/chezdav/webdav/xml"
)

// lockScope maps the lockscope element parsed from a LOCK request body
// onto the lock manager's scope type.
func lockScope(s x.Scope) locks.Scope {
	if s == x.ScopeShared {
		return locks.Shared
	}
	return locks.Exclusive
}

// http://www.webdav.org/specs/rfc4918.html#METHOD_LOCK
func (s *PathHandler) doLock(l zerolog.Logger, ctx reqContext, w http.ResponseWriter, r *http.Request) {
	if ctx.p.IsVirtual() {
		s.errorHeader(l, ctx, w, ErrorForbidden)
		return
	}

	req, err := x.ParseLock(r.Body)
	if err != nil {
		s.errorHeader(l, ctx, w, ErrorBadLock.WithCause(err))
		return
	}

	if _, err := ctx.p.Parent().Lookup(); err != nil {
		s.errorHeader(l, ctx, w, ErrorMissingParent)
		return
	}

	var lk *locks.Lock
	if req.Refresh {
		if ctx.cond == nil {
			s.errorHeader(l, ctx, w, ErrorBadLock)
			return
		}
		tok, ok := ctx.cond.GetSingleState()
		if !ok {
			s.errorHeader(l, ctx, w, ErrorBadLock)
			return
		}
		lk = s.locks.FindByToken(ctx.p.String(), tok)
		if lk == nil {
			s.errorHeader(l, ctx, w, ErrorBadLock)
			return
		}
		s.locks.Refresh(lk, ctx.timeout)
	} else {
		tok, err := locks.NewToken()
		if err != nil {
			s.errorHeader(l, ctx, w, err)
			return
		}
		lk, err = s.locks.NewLock(ctx.p.String(), tok, lockScope(req.Scope), locks.Write, ctx.depth, req.Owner, ctx.timeout)
		if err != nil {
			s.errorHeader(l, ctx, w, ErrorBadLock.WithCause(err))
			return
		}
		if err := s.locks.TryAdd(lk); err != nil {
			s.errorHeader(l, ctx, w, ErrorLocked.WithCause(err))
			return
		}
	}

	if !req.Refresh {
		w.Header().Set("Lock-Token", "<"+lk.Token()+">")
	}

	if _, err := ctx.p.Lookup(); err != nil {
		_, fh, err := ctx.p.Create()
		if err != nil {
			s.locks.Unlock(ctx.p.String(), lk.Token())
			s.errorHeader(l, ctx, w, err)
			return
		}
		fh.Close()
		w.WriteHeader(http.StatusCreated)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	a := x.NewAny("DAV::lockdiscovery")
	a.Inner = lk.ToXML(time.Now())
	x.SendProp(a, w)
}

// http://www.webdav.org/specs/rfc4918.html#METHOD_UNLOCK
func (s *PathHandler) doUnlock(l zerolog.Logger, ctx reqContext, w http.ResponseWriter, r *http.Request) {
	lt := r.Header.Get("Lock-Token")
	if len(lt) > 2 && lt[0] == '<' {
		lt = lt[1 : len(lt)-1]
	}

	if !s.locks.Unlock(ctx.p.String(), lt) {
		s.errorHeader(l, ctx, w, ErrorConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
