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

package config

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func TestDefaultsMatchSpec(t *testing.T) {
	d := Defaults()
	if d.TorHost != "127.0.0.1" || d.TorPort != 9050 {
		t.Errorf("relay default = %s:%d, want 127.0.0.1:9050", d.TorHost, d.TorPort)
	}
	if d.MaxContentSize != 1<<20 {
		t.Errorf("MaxContentSize = %d, want 1 MiB", d.MaxContentSize)
	}
	if d.WorkerCount != 10 || d.ScannerWorkers != 3 || d.DirscanWorkers != 3 {
		t.Errorf("worker counts = %d/%d/%d, want 10/3/3", d.WorkerCount, d.ScannerWorkers, d.DirscanWorkers)
	}
}

// TestBindFlagsPrecedence enforces flag > env > default.
func TestBindFlagsPrecedence(t *testing.T) {
	t.Setenv("WORKER_COUNT", "7")

	cmd := &cobra.Command{Use: "test"}
	v := viper.New()
	BindFlags(cmd, v)

	// env only: overrides default.
	cfg := FromViper(v)
	if cfg.WorkerCount != 7 {
		t.Errorf("WorkerCount from env = %d, want 7", cfg.WorkerCount)
	}

	// explicit flag: overrides env.
	if err := cmd.PersistentFlags().Set("worker-count", "25"); err != nil {
		t.Fatal(err)
	}
	cfg = FromViper(v)
	if cfg.WorkerCount != 25 {
		t.Errorf("WorkerCount from flag = %d, want 25", cfg.WorkerCount)
	}
}

func TestDSNAndRelayAddr(t *testing.T) {
	c := Config{DBHost: "db", DBPort: 5432, DBName: "asherah", DBUser: "u", DBPassword: "p", TorHost: "relay", TorPort: 9150}
	if got := c.RelayAddr(); got != "relay:9150" {
		t.Errorf("RelayAddr() = %q", got)
	}
	dsn := c.DSN()
	if dsn == "" {
		t.Fatal("expected non-empty DSN")
	}
}
