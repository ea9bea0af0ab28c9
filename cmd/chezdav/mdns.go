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

package main

import "github.com/rs/zerolog/log"

// Announcer advertises the share on the local network so WebDAV clients
// can discover it without a configured address. The real _webdav._tcp
// mDNS responder is a collaborator this binary wires a slot for but does
// not implement, per the Non-goals; mdnsAnnouncer below only logs the
// record it would publish.
type Announcer interface {
	Start() error
	Stop()
}

type noopAnnouncer struct{}

func (noopAnnouncer) Start() error { return nil }
func (noopAnnouncer) Stop()        {}

// mdnsAnnouncer would publish a _webdav._tcp service with TXT records
// u="", p="", path="/". Lacking an mDNS library in the
// dependency set this module was built against, it only records intent.
type mdnsAnnouncer struct {
	instance string
	port     int
}

func newMDNSAnnouncer(instance string, port int) *mdnsAnnouncer {
	return &mdnsAnnouncer{instance: instance, port: port}
}

func (a *mdnsAnnouncer) Start() error {
	log.Info().Str("instance", a.instance).Int("port", a.port).
		Msg("mDNS announcement not implemented; share is reachable only by direct address")
	return nil
}

func (a *mdnsAnnouncer) Stop() {}
