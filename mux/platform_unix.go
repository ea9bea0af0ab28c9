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

//go:build !windows

package mux

import (
	"context"
	"time"

	"golang.org/x/sys/unix"
)

// WellKnownPipePath is the platform's default virtio-serial device for
// the webdav channel.
const WellKnownPipePath = defaultPipePath

// WaitForPeer polls fd until its hangup condition clears, sleeping one
// second between polls, to tolerate the guest peer not yet being present
// on the other end of the serial port.
func WaitForPeer(ctx context.Context, fd int) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLHUP}}
		n, err := unix.Poll(pfd, 0)
		if err != nil && err != unix.EINTR {
			return err
		}
		if n == 0 || pfd[0].Revents&unix.POLLHUP == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}
