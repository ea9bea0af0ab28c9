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
	"bytes"
	"context"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chezdav/chezdav/internal/outqueue"
)

// Service is the channel multiplexer: it accepts TCP
// connections on a listener and tunnels each over a single framed pipe,
// keyed by a unique 64-bit client id.
type Service struct {
	pipe     io.ReadWriter
	listener net.Listener
	pipeOut  *outqueue.Queue
	clients  *ClientRegistry
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Service multiplexing connections accepted on ln over pipe.
// pipe is typically a virtio serial port, a named pipe, or (in tests) one
// end of a net.Pipe.
func New(pipe io.ReadWriter, ln net.Listener) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		pipe:     pipe,
		listener: ln,
		pipeOut:  outqueue.New(pipe, 8),
		clients:  newClientRegistry(),
		log:      log.With().Str("component", "mux").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Run accepts connections until the listener or the pipe fails, and runs
// the demultiplexer loop concurrently. It returns the error that ended
// the session — either a pipe failure (fatal) or the listener's Accept
// error on shutdown.
func (s *Service) Run() error {
	s.wg.Add(1)
	var demuxErr error
	go func() {
		defer s.wg.Done()
		demuxErr = s.demuxLoop()
		s.cancel()
	}()

	acceptErr := s.acceptLoop()
	s.cancel()
	s.wg.Wait()
	s.clients.closeAll()
	s.pipeOut.Cancel()

	if demuxErr != nil {
		return demuxErr
	}
	return acceptErr
}

// Close shuts the service down without waiting for a fatal pipe error.
func (s *Service) Close() {
	s.cancel()
	s.listener.Close()
}

func (s *Service) acceptLoop() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
				return err
			}
		}
		c := s.clients.add(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.muxClient(c)
		}()
	}
}

// muxClient is the "Client → pipe" pipeline for one client: read up to
// maxPayload bytes from the socket, enqueue one frame on the shared pipe,
// and only re-arm the socket read once that frame has been fully written.
func (s *Service) muxClient(c *Client) {
	defer s.clients.remove(c.ID)
	buf := make([]byte, maxPayload)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			if perr := s.pushFrame(frame{clientID: c.ID, payload: buf[:n]}); perr != nil {
				return
			}
		}
		if err != nil {
			// Half-close: tell the peer this client is done, then stop.
			s.pushFrame(frame{clientID: c.ID, payload: nil})
			return
		}
		select {
		case <-s.ctx.Done():
			return
		default:
		}
	}
}

// pushFrame blocks until buf has been fully written to the pipe's output
// queue, giving the per-client backpressure.
func (s *Service) pushFrame(f frame) error {
	var buf bytes.Buffer
	buf.Grow(headerLen + len(f.payload))
	if err := writeFrame(&buf, f); err != nil {
		return err
	}
	return s.pipeOut.PushAndWait(s.ctx, buf.Bytes())
}

// demuxLoop is the "Pipe → client" pipeline: read one frame at a time
// from the shared pipe and route it to the addressed client's output
// queue, not reading the next frame until the current one has been
// accepted by the destination.
// Any short read or I/O error on the pipe is fatal to the whole service.
func (s *Service) demuxLoop() error {
	for {
		select {
		case <-s.ctx.Done():
			return nil
		default:
		}

		f, err := readFrame(s.pipe)
		if err != nil {
			s.log.Error().Err(err).Msg("mux pipe failed, ending session")
			return err
		}

		c, ok := s.clients.get(f.clientID)
		if !ok {
			continue // client already gone; discard and re-arm immediately
		}
		if len(f.payload) == 0 {
			s.clients.remove(f.clientID)
			continue
		}
		if err := c.out.PushAndWait(s.ctx, f.payload); err != nil {
			s.clients.remove(f.clientID)
		}
	}
}
