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

//go:build windows

package mux

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/windows"
)

// WellKnownPipePath is the platform's default virtio-serial device for
// the webdav channel.
const WellKnownPipePath = `\\.\Global\org.spice-space.webdav.0`

// graceDelay is the pause before DriveMapper tries to claim a drive
// letter, giving an already-mapped letter a chance to show up first.
const graceDelay = 500 * time.Millisecond

// This binds directly to the WNet mpr.dll redirector APIs exposed by
// golang.org/x/sys/windows; it only runs on Windows hosts and has not
// been exercised outside that platform.
//
// DriveMapper implements the Windows host-side drive mapping hook.
// At start, it scans for a drive letter already bound to
// \\localhost@<port>\DavWWWRoot; if none exists, it attempts, after a
// grace period, to attach an unused letter on a dedicated worker so it
// never blocks the event loop. Stop cancels any pending attempt and
// disconnects a mapping this DriveMapper created.
type DriveMapper struct {
	port int

	mu      sync.Mutex
	cancel  context.CancelFunc
	mapped  string // drive letter this mapper attached, "" if none or if
	// the mapping pre-existed and wasn't ours to remove
	wg sync.WaitGroup
}

// NewDriveMapper prepares a mapper for the DAV share published on port.
func NewDriveMapper(port int) *DriveMapper {
	return &DriveMapper{port: port}
}

// Start scans for an existing mapping and, failing that, kicks off the
// delayed attach attempt on its own goroutine.
func (d *DriveMapper) Start() {
	if letter, ok := d.findExisting(); ok {
		log.Info().Str("drive", letter).Msg("DAV share already mapped")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go d.attemptAfterGrace(ctx)
}

// Stop cancels a pending attach attempt and disconnects any mapping this
// DriveMapper created.
func (d *DriveMapper) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	letter := d.mapped
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()

	if letter != "" {
		remoteName := d.remoteName()
		windows.WNetCancelConnection2(letter, 0, true)
		_ = remoteName
	}
}

func (d *DriveMapper) remoteName() string {
	return fmt.Sprintf(`\\localhost@%d\DavWWWRoot`, d.port)
}

// findExisting scans A: through Z: for one already bound to this
// service's WebDAV redirector share.
func (d *DriveMapper) findExisting() (string, bool) {
	target := d.remoteName()
	for c := 'A'; c <= 'Z'; c++ {
		letter := string(c) + ":"
		buf := make([]uint16, 260)
		n := uint32(len(buf))
		if windows.WNetGetConnection(letter, &buf[0], &n) != nil {
			continue
		}
		if windows.UTF16ToString(buf) == target {
			return letter, true
		}
	}
	return "", false
}

// attemptAfterGrace waits graceDelay (cancellable) then tries to attach
// an unused drive letter to the share, recording which letter it used
// so Stop can disconnect it later.
func (d *DriveMapper) attemptAfterGrace(ctx context.Context) {
	defer d.wg.Done()
	select {
	case <-ctx.Done():
		return
	case <-time.After(graceDelay):
	}

	letter, ok := d.firstUnusedLetter()
	if !ok {
		log.Warn().Msg("no free drive letter to map DAV share")
		return
	}

	nr := windows.NETRESOURCE{
		Type:       windows.RESOURCETYPE_DISK,
		LocalName:  windows.StringToUTF16Ptr(letter),
		RemoteName: windows.StringToUTF16Ptr(d.remoteName()),
	}
	if err := windows.WNetAddConnection2(&nr, nil, nil, 0); err != nil {
		log.Warn().Err(err).Str("drive", letter).Msg("failed to map DAV share")
		return
	}

	d.mu.Lock()
	d.mapped = letter
	d.mu.Unlock()
	log.Info().Str("drive", letter).Msg("mapped DAV share")
}

func (d *DriveMapper) firstUnusedLetter() (string, bool) {
	for c := 'D'; c <= 'Z'; c++ {
		letter := string(c) + ":"
		if _, err := windows.GetFileAttributes(windows.StringToUTF16Ptr(letter + `\`)); err != nil {
			return letter, true
		}
	}
	return "", false
}
