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

package locks

import (
	"time"

	"github.com/chezdav/chezdav/internal/pathtree"
)

// tokenLength is the length of a urn:uuid: token as actually produced by
// NewToken (9 + 36 = 45 bytes), validated against the
// urn:uuid:XXXXXXXX-XXXX-XXXX-XXXX-XXXXXXXXXXXX grammar. See DESIGN.md.
const tokenLength = len("urn:uuid:") + 36

// Manager is the lock manager, built over a
// pathtree.Registry so lookups and conflict checks walk interned
// ancestors instead of scanning a flat table.
type Manager struct {
	reg   *pathtree.Registry
	clock func() time.Time
}

// NewManager creates a Manager anchored to reg. now defaults to time.Now
// if nil; tests inject a fixed clock to make expiry deterministic.
func NewManager(reg *pathtree.Registry, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{reg: reg, clock: now}
}

// NewLock constructs a Lock anchored to path. It does not register the
// lock with the manager; call TryAdd to do that.
func (m *Manager) NewLock(path, token string, scope Scope, typ Type, depth int, owner string, timeoutSeconds int64) (*Lock, error) {
	if len(token) != tokenLength {
		return nil, ErrBadToken
	}
	l := &Lock{
		token: token,
		scope: scope,
		typ:   typ,
		depth: depth,
		owner: owner,
		path:  pathtree.Clean(path),
	}
	l.setExpiry(m.clock(), timeoutSeconds)
	return l, nil
}

// pruneExpired walks the ancestor chain of path and evicts any expired
// lock it finds along the way.
func (m *Manager) pruneExpired(path string) {
	now := m.clock()
	m.reg.ForEachAncestor(path, func(ref pathtree.PathRef) bool {
		for _, h := range ref.Locks() {
			l, ok := h.(*Lock)
			if ok && l.expired(now) {
				m.reg.RemoveLock(ref, l)
			}
		}
		return true
	})
}

// TryAdd anchors l to its path, succeeding iff no ancestor path currently
// holds an exclusive lock and, if l itself is exclusive, no ancestor holds
// any lock at all.
func (m *Manager) TryAdd(l *Lock) error {
	m.pruneExpired(l.path)

	blocked := false
	m.reg.ForEachAncestor(l.path, func(ref pathtree.PathRef) bool {
		for _, h := range ref.Locks() {
			existing, ok := h.(*Lock)
			if !ok {
				continue
			}
			if existing.scope == Exclusive {
				blocked = true
				return false
			}
			if l.scope == Exclusive {
				blocked = true
				return false
			}
		}
		return true
	})
	if blocked {
		return ErrLocked
	}

	ref := m.reg.Intern(l.path)
	l.ref = ref
	m.reg.AddLock(ref, l)
	ref.Release() // AddLock took its own reference; drop the interning one
	return nil
}

// FindByToken returns the lock anchored at path or an ancestor of path
// whose token matches, or nil if none matches. "DAV:no-lock" never
// matches.
func (m *Manager) FindByToken(path, token string) *Lock {
	if token == "DAV:no-lock" {
		return nil
	}
	m.pruneExpired(path)

	var found *Lock
	m.reg.ForEachAncestor(path, func(ref pathtree.PathRef) bool {
		for _, h := range ref.Locks() {
			if l, ok := h.(*Lock); ok && l.token == token {
				found = l
				return false
			}
		}
		return true
	})
	return found
}

// Refresh resets l's expiry to now+timeoutSeconds (or infinite, if
// timeoutSeconds is 0).
func (m *Manager) Refresh(l *Lock, timeoutSeconds int64) {
	l.setExpiry(m.clock(), timeoutSeconds)
}

// HasOtherLocks reports whether any lock on path or an ancestor of path is
// not present in submitted, identified by token.
func (m *Manager) HasOtherLocks(path string, submitted map[string]bool) bool {
	m.pruneExpired(path)

	other := false
	m.reg.ForEachAncestor(path, func(ref pathtree.PathRef) bool {
		for _, h := range ref.Locks() {
			l, ok := h.(*Lock)
			if !ok {
				continue
			}
			if !submitted[l.token] {
				other = true
				return false
			}
		}
		return true
	})
	return other
}

// LocksOnPath returns every lock anchored at path or an ancestor of
// path, for lockdiscovery rendering.
func (m *Manager) LocksOnPath(path string) []*Lock {
	m.pruneExpired(path)

	var found []*Lock
	m.reg.ForEachAncestor(path, func(ref pathtree.PathRef) bool {
		for _, h := range ref.Locks() {
			if l, ok := h.(*Lock); ok {
				found = append(found, l)
			}
		}
		return true
	})
	return found
}

// Unlock removes the lock identified by token if it is anchored at path
// or an ancestor of path. It reports whether a lock was removed.
func (m *Manager) Unlock(path, token string) bool {
	l := m.FindByToken(path, token)
	if l == nil {
		return false
	}
	m.reg.RemoveLock(l.ref, l)
	return true
}
