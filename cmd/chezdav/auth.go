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

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// AuthProvider authenticates an incoming request, returning the caller's
// username on success. Digest authentication proper (the nonce/opaque
// challenge-response dance RFC 7616 describes) is a collaborator this
// binary wires into but does not implement; htdigestAuth below only
// parses the credential file that would back it.
type AuthProvider interface {
	Authenticate(r *http.Request) (user string, ok bool)
	Realm() string
}

// htdigestAuth holds the realm:user -> HA1 entries read from an htdigest
// file (the same three-colon format Apache's htdigest tool produces).
type htdigestAuth struct {
	realm   string
	entries map[string]string // "user" -> HA1 hex digest
}

func newHtdigestAuth(path, realm string) (*htdigestAuth, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	a := &htdigestAuth{realm: realm, entries: map[string]string{}}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed htdigest line: %q", line)
		}
		user, lineRealm, ha1 := parts[0], parts[1], parts[2]
		if lineRealm != realm {
			continue
		}
		a.entries[user] = ha1
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *htdigestAuth) Realm() string { return a.realm }

// Authenticate is unimplemented: verifying a Digest Authorization header
// against entries requires the nonce/opaque state RFC 7616 describes,
// which this binary delegates to a real HTTP server (out of scope here,
// per the Non-goals). It always fails closed.
func (a *htdigestAuth) Authenticate(r *http.Request) (string, bool) {
	return "", false
}

// wrapAuth challenges every request with WWW-Authenticate when auth is
// configured and rejects any request Authenticate does not accept.
func wrapAuth(auth AuthProvider, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.Authenticate(r); !ok {
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Digest realm=%q`, auth.Realm()))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
