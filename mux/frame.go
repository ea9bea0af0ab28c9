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

// Package mux implements the binary channel multiplexer: it tunnels many
// TCP connections over one bidirectional pipe by framing each payload
// with its client id.
package mux

import (
	"encoding/binary"
	"errors"
	"io"
)

// maxPayload bounds a single frame's payload, matching the u16 size
// field's range and the per-client read buffer size.
const maxPayload = 65535

// headerLen is u64 client_id + u16 size, both little-endian.
const headerLen = 8 + 2

// ErrShortFrame is returned by readFrame when the pipe closes mid-frame.
var ErrShortFrame = errors.New("mux: short read on muxing pipe")

// frame is one length-prefixed unit on the muxing pipe.
type frame struct {
	clientID uint64
	payload  []byte // nil/empty payload with len 0 means half-close
}

// writeFrame serializes f to w as client_id (u64 LE) | size (u16 LE) |
// payload, in a single Write so the queue consuming w sees one
// contiguous write per frame.
func writeFrame(w io.Writer, f frame) error {
	buf := make([]byte, headerLen+len(f.payload))
	binary.LittleEndian.PutUint64(buf[0:8], f.clientID)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(len(f.payload)))
	copy(buf[headerLen:], f.payload)
	_, err := w.Write(buf)
	return err
}

// readFrame reads exactly one frame from r: 8 bytes of client id, 2
// bytes of size, then size bytes of payload. Any short read is
// reported as ErrShortFrame, which callers treat as fatal to the mux
// session.
func readFrame(r io.Reader) (frame, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return frame{}, shortOrEOF(err)
	}
	id := binary.LittleEndian.Uint64(hdr[0:8])
	size := binary.LittleEndian.Uint16(hdr[8:10])

	payload := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return frame{}, shortOrEOF(err)
		}
	}
	return frame{clientID: id, payload: payload}, nil
}

func shortOrEOF(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrShortFrame
	}
	return err
}
