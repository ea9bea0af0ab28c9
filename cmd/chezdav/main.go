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

// Command chezdav serves a directory tree over WebDAV.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/user"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/chezdav/chezdav/webdav"
	"github.com/chezdav/chezdav/webdav/fs/osfs"
	"github.com/chezdav/chezdav/webdav/fs/virtualfs"
)

var (
	flagPort     int
	flagLocal    bool
	flagPublic   bool
	flagPath     string
	flagHtdigest string
	flagRealm    string
	flagReadonly bool
	flagNoMDNS   bool
	flagVerbose  bool
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "chezdav",
	Short:   "Serve a directory over WebDAV",
	Version: version,
	RunE:    run,
}

func init() {
	flags := rootCmd.Flags()
	flags.IntVar(&flagPort, "port", 8080, "TCP port to listen on")
	flags.BoolVar(&flagLocal, "local", false, "listen on localhost only")
	flags.BoolVar(&flagPublic, "public", true, "listen on all interfaces")
	flags.StringVar(&flagPath, "path", homeDir(), "directory to serve")
	flags.StringVar(&flagHtdigest, "htdigest", "", "htdigest file for Digest authentication (unset disables auth)")
	flags.StringVar(&flagRealm, "realm", defaultRealm(), "authentication realm advertised in the Digest challenge")
	flags.BoolVar(&flagReadonly, "readonly", false, "reject all write methods")
	flags.BoolVar(&flagNoMDNS, "no-mdns", false, "disable mDNS/Bonjour advertisement of the share")
	flags.BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug-level logging")
}

func homeDir() string {
	if u, err := user.Current(); err == nil && u.HomeDir != "" {
		return u.HomeDir
	}
	return "."
}

func defaultRealm() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username + "'s public share"
	}
	return "chezdav"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if flagLocal && flagPublic && cmd.Flags().Changed("local") && cmd.Flags().Changed("public") {
		return fmt.Errorf("--local and --public are mutually exclusive")
	}
	if cmd.Flags().Changed("local") {
		flagPublic = !flagLocal
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if flagVerbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	backend, err := osfs.New(flagPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", flagPath, err)
	}

	root := virtualfs.New()
	root.Bind("/", backend, "/")

	handler := webdav.NewPathHandler(root, flagReadonly)
	defer handler.Close()

	var wrapped http.Handler = handler
	if flagHtdigest != "" {
		auth, err := newHtdigestAuth(flagHtdigest, flagRealm)
		if err != nil {
			return fmt.Errorf("loading htdigest file: %w", err)
		}
		wrapped = wrapAuth(auth, handler)
	}

	var announcer Announcer = noopAnnouncer{}
	if !flagNoMDNS {
		announcer = newMDNSAnnouncer(flagRealm, flagPort)
	}
	if err := announcer.Start(); err != nil {
		log.Warn().Err(err).Msg("mDNS announcement failed to start")
	}
	defer announcer.Stop()

	addr := "127.0.0.1"
	if flagPublic {
		addr = ""
	}
	listenAddr := fmt.Sprintf("%s:%d", addr, flagPort)

	log.Info().Str("addr", listenAddr).Str("path", flagPath).Bool("readonly", flagReadonly).Msg("chezdav serving")
	return http.ListenAndServe(listenAddr, wrapped)
}
