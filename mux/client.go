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

package mux

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/chezdav/chezdav/internal/outqueue"
)

// Client is one accepted TCP connection, multiplexed over the shared
// pipe under a unique 64-bit id.
type Client struct {
	ID   uint64
	conn net.Conn
	out  *outqueue.Queue // serializes writes back to conn
}

func newClient(id uint64, conn net.Conn) *Client {
	return &Client{ID: id, conn: conn, out: outqueue.New(conn, 4)}
}

func (c *Client) close() {
	c.out.Cancel()
	c.conn.Close()
}

// ClientRegistry tracks the live set of multiplexed clients, allocating
// unique monotonically increasing ids.
type ClientRegistry struct {
	nextID  uint64
	clients sync.Map // uint64 -> *Client
}

func newClientRegistry() *ClientRegistry {
	return &ClientRegistry{}
}

func (r *ClientRegistry) add(conn net.Conn) *Client {
	id := atomic.AddUint64(&r.nextID, 1)
	c := newClient(id, conn)
	r.clients.Store(id, c)
	return c
}

func (r *ClientRegistry) get(id uint64) (*Client, bool) {
	v, ok := r.clients.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Client), true
}

func (r *ClientRegistry) remove(id uint64) {
	if v, ok := r.clients.LoadAndDelete(id); ok {
		v.(*Client).close()
	}
}

func (r *ClientRegistry) closeAll() {
	r.clients.Range(func(key, value any) bool {
		value.(*Client).close()
		r.clients.Delete(key)
		return true
	})
}
