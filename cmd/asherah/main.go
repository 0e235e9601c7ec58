// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package main is Asherah's entry point: a cobra root command with one
// subcommand per pipeline plus a combined "run", all sharing the same
// flag/env-bound configuration.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"asherah/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	v := viper.New()
	rootCmd := &cobra.Command{
		Use:   "asherah",
		Short: "Crawl, scan, and brute-force hidden services through Tor",
		Long: `Asherah is a hidden-service reconnaissance tool built from three
independent pipelines sharing one store and lock substrate:

  crawl    walk the onion link graph, extracting pages and discovering peers
  scan     probe a fixed TCP port list against each discovered onion
  dirscan  brute-force a wordlist of paths against each discovered onion

Run a single pipeline standalone, or "run" to drive all three from one
process.`,
	}
	config.BindFlags(rootCmd, v)

	rootCmd.AddCommand(
		newCrawlCmd(v),
		newScanCmd(v),
		newDirscanCmd(v),
		newRunCmd(v),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
