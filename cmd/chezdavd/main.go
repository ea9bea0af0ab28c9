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

// Command chezdavd runs the host side of the channel multiplexer,
// tunneling TCP connections to a WebDAV server over a virtio serial
// port (or equivalent platform pipe) shared with a guest.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/chezdav/chezdav/mux"
)

var (
	flagPipe    string
	flagListen  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "chezdavd",
	Short: "Host-side channel multiplexer for chezdav's guest tunnel",
	RunE:  run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagPipe, "pipe", mux.WellKnownPipePath, "path to the muxing pipe device")
	flags.StringVar(&flagListen, "listen", "127.0.0.1:9843", "address to accept WebDAV client connections on")
	flags.BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug-level logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if flagVerbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	pipe, err := openPipe(flagPipe)
	if err != nil {
		return fmt.Errorf("opening mux pipe %s: %w", flagPipe, err)
	}
	defer pipe.Close()

	ln, err := net.Listen("tcp", flagListen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", flagListen, err)
	}
	defer ln.Close()

	svc := mux.New(pipe, ln)

	stopDriveMapping := startDriveMapping(ln.Addr().(*net.TCPAddr).Port)
	defer stopDriveMapping()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info().Msg("chezdavd shutting down")
		svc.Close()
	}()

	log.Info().Str("pipe", flagPipe).Str("listen", flagListen).Msg("chezdavd serving")
	if err := svc.Run(); err != nil {
		return fmt.Errorf("mux service ended: %w", err)
	}
	return nil
}
