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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chezdav/chezdav/internal/pathtree"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(pathtree.NewRegistry(), func() time.Time { return time.Unix(1000, 0) })
}

func mustLock(t *testing.T, m *Manager, path string, scope Scope, depth int) *Lock {
	t.Helper()
	tok, err := NewToken()
	require.NoError(t, err)
	l, err := m.NewLock(path, tok, scope, Write, depth, "", 60)
	require.NoError(t, err)
	return l
}

// For every lock L anchored on an ancestor of P, FindByToken(P, L.token)
// returns L, and returns nothing for any other token including
// "DAV:no-lock".
func TestFindByTokenInvariant(t *testing.T) {
	m := newTestManager(t)
	l := mustLock(t, m, "/a", Exclusive, InfiniteDepth)
	require.NoError(t, m.TryAdd(l))

	got := m.FindByToken("/a/b/c", l.token)
	assert.Same(t, l, got)

	assert.Nil(t, m.FindByToken("/a/b/c", "urn:uuid:00000000-0000-0000-0000-000000000000"))
	assert.Nil(t, m.FindByToken("/a/b/c", "DAV:no-lock"))
}

// Exclusive TryAdd fails iff an ancestor (or the path itself) already
// holds any lock; shared TryAdd fails iff an ancestor holds an exclusive
// lock. Otherwise it succeeds.
func TestTryAddConflicts(t *testing.T) {
	t.Run("exclusive blocks any new lock on descendant", func(t *testing.T) {
		m := newTestManager(t)
		require.NoError(t, m.TryAdd(mustLock(t, m, "/a", Exclusive, InfiniteDepth)))

		err := m.TryAdd(mustLock(t, m, "/a/b", Shared, 0))
		assert.ErrorIs(t, err, ErrLocked)
	})

	t.Run("shared does not block another shared", func(t *testing.T) {
		m := newTestManager(t)
		require.NoError(t, m.TryAdd(mustLock(t, m, "/a", Shared, InfiniteDepth)))

		err := m.TryAdd(mustLock(t, m, "/a/b", Shared, 0))
		assert.NoError(t, err)
	})

	t.Run("shared blocks a new exclusive on descendant", func(t *testing.T) {
		m := newTestManager(t)
		require.NoError(t, m.TryAdd(mustLock(t, m, "/a", Shared, InfiniteDepth)))

		err := m.TryAdd(mustLock(t, m, "/a/b", Exclusive, 0))
		assert.ErrorIs(t, err, ErrLocked)
	})

	t.Run("unrelated subtrees do not conflict", func(t *testing.T) {
		m := newTestManager(t)
		require.NoError(t, m.TryAdd(mustLock(t, m, "/a", Exclusive, InfiniteDepth)))

		err := m.TryAdd(mustLock(t, m, "/z", Exclusive, InfiniteDepth))
		assert.NoError(t, err)
	})
}

func TestUnlockAndHasOtherLocks(t *testing.T) {
	m := newTestManager(t)
	l := mustLock(t, m, "/a", Exclusive, InfiniteDepth)
	require.NoError(t, m.TryAdd(l))

	assert.True(t, m.HasOtherLocks("/a/b", map[string]bool{}))
	assert.False(t, m.HasOtherLocks("/a/b", map[string]bool{l.token: true}))

	assert.True(t, m.Unlock("/a", l.token))
	assert.Nil(t, m.FindByToken("/a", l.token))
	assert.False(t, m.Unlock("/a", l.token))
}

func TestExpiredLocksAreEvicted(t *testing.T) {
	now := time.Unix(1000, 0)
	m := NewManager(pathtree.NewRegistry(), func() time.Time { return now })

	tok, _ := NewToken()
	l, err := m.NewLock("/a", tok, Exclusive, Write, InfiniteDepth, "", 5)
	require.NoError(t, err)
	require.NoError(t, m.TryAdd(l))

	now = now.Add(10 * time.Second)
	assert.Nil(t, m.FindByToken("/a", tok))

	// The path should no longer be blocked for a new lock either.
	other := mustLock(t, m, "/a", Exclusive, InfiniteDepth)
	assert.NoError(t, m.TryAdd(other))
}
