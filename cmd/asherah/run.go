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

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"asherah/internal/config"
	"asherah/internal/store"
)

// runPipelines returns a cobra RunE that builds the shared dependencies
// from v and drives exactly the given pipelines until the command's context
// is cancelled (Ctrl+C, or the parent's signal.NotifyContext firing).
func runPipelines(v *viper.Viper, pipelines []store.Pipeline) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.FromViper(v)

		sup, st, err := buildSupervisor(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := sup.Run(ctx, pipelines); err != nil {
			return fmt.Errorf("asherah: %w", err)
		}
		return nil
	}
}

func newCrawlCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Run the crawler pipeline only",
		Example: `  asherah crawl --seed exampleonionaddressxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx.onion
  asherah crawl --worker-count 20`,
		RunE: runPipelines(v, []store.Pipeline{store.PipelineCrawl}),
	}
}

func newScanCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:     "scan",
		Short:   "Run the port scanner pipeline only",
		Example: `  asherah scan --scanner-profile full --scanner-workers 5`,
		RunE:    runPipelines(v, []store.Pipeline{store.PipelineScan}),
	}
}

func newDirscanCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:     "dirscan",
		Short:   "Run the directory brute-forcer pipeline only",
		Example: `  asherah dirscan --dirscan-profile standard`,
		RunE:    runPipelines(v, []store.Pipeline{store.PipelineDirscan}),
	}
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:     "run",
		Short:   "Run all three pipelines together in one process",
		Example: `  asherah run --seed exampleonionaddressxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx.onion`,
		RunE:    runPipelines(v, []store.Pipeline{store.PipelineCrawl, store.PipelineScan, store.PipelineDirscan}),
	}
}
