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

// Package locks implements the WebDAV lock manager:
// creation, lookup, timeout and refresh of shared/exclusive write locks
// anchored to paths interned by internal/pathtree.
package locks

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chezdav/chezdav/internal/pathtree"
)

// Scope is the lock scope: exclusive or shared.
type Scope int

const (
	Exclusive Scope = iota
	Shared
)

func (s Scope) String() string {
	if s == Shared {
		return "shared"
	}
	return "exclusive"
}

// Type is the lock type. RFC 4918 only defines "write".
type Type int

const Write Type = 0

// InfiniteDepth marks a lock as covering an entire subtree.
const InfiniteDepth = -1

// Lock is a single anchored WebDAV lock.
type Lock struct {
	mu sync.Mutex

	token  string
	scope  Scope
	typ    Type
	depth  int // 0 or InfiniteDepth
	owner  string
	path   string
	ref    pathtree.PathRef
	expiry time.Time // zero value means infinite
}

// Token returns the lock's opaque URN token. Implements pathtree.LockHandle.
func (l *Lock) Token() string { return l.token }

// Path returns the path string the lock is anchored to.
func (l *Lock) Path() string { return l.path }

// Scope returns the lock's scope.
func (l *Lock) Scope() Scope { return l.scope }

// Depth returns the lock's depth (0 or InfiniteDepth).
func (l *Lock) Depth() int { return l.depth }

// Owner returns the verbatim owner XML subtree, if any.
func (l *Lock) Owner() string { return l.owner }

func (l *Lock) expired(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.expiry.IsZero() && now.After(l.expiry)
}

func (l *Lock) setExpiry(now time.Time, timeoutSeconds int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if timeoutSeconds <= 0 {
		l.expiry = time.Time{}
		return
	}
	l.expiry = now.Add(time.Duration(timeoutSeconds) * time.Second)
}

// remainingSeconds reports the seconds left before expiry, or -1 for an
// infinite lock, evaluated against now.
func (l *Lock) remainingSeconds(now time.Time) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.expiry.IsZero() {
		return -1
	}
	remaining := int64(l.expiry.Sub(now) / time.Second)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// ToXML renders the <activelock> element describing this lock, as echoed
// by LOCK and embedded by the lockdiscovery live property.
func (l *Lock) ToXML(now time.Time) string {
	ds := strconv.Itoa(l.depth)
	if l.depth < 0 {
		ds = "infinity"
	}
	timeout := "Infinite"
	if r := l.remainingSeconds(now); r >= 0 {
		timeout = fmt.Sprintf("Second-%d", r)
	}
	scopeXML := "<exclusive/>"
	if l.scope == Shared {
		scopeXML = "<shared/>"
	}
	return fmt.Sprintf(`<D:activelock xmlns:D="DAV:">
<D:locktype><D:write/></D:locktype>
<D:lockscope>%s</D:lockscope>
<D:depth>%s</D:depth>
<D:owner>%s</D:owner>
<D:timeout>%s</D:timeout>
<D:locktoken><D:href>%s</D:href></D:locktoken>
<D:lockroot><D:href>%s</D:href></D:lockroot>
</D:activelock>`, scopeXML, ds, l.owner, timeout, l.token, pathtree.URLEncode(l.path))
}

// NewToken allocates a fresh v4 UUID lock token in urn:uuid: form.
func NewToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return "urn:uuid:" + id.String(), nil
}

var (
	// ErrLocked is returned when an exclusive or conflicting lock already
	// covers the requested path.
	ErrLocked = errors.New("locks: locked")
	// ErrNoSuchLock is returned by Refresh/Unlock when the token is unknown
	// under the given path.
	ErrNoSuchLock = errors.New("locks: no such lock")
	// ErrBadToken is returned when a caller-supplied token fails the
	// 45-byte urn:uuid: shape precondition.
	ErrBadToken = errors.New("locks: malformed token")
)
