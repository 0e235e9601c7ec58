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

package worker

import (
	"context"
	"net"
	"testing"
	"time"

	"asherah/internal/config"
	"asherah/internal/lock"
	"asherah/internal/scheduler"
	"asherah/internal/store"
	"asherah/internal/transport"
)

// TestScanWorker_OpenPortWithBannerIsDetected stands up a raw TCP listener
// that speaks a recognizable SSH banner and verifies the scan worker
// records the port as open and attaches a service detection.
func TestScanWorker_OpenPortWithBannerIsDetected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("SSH-2.0-OpenSSH_8.9\r\n"))
		time.Sleep(200 * time.Millisecond)
	}()

	s := store.NewFakeStore()
	defer s.Close()

	dialer := transport.NewDirectDialer(ln.Addr().String())
	w := &ScanWorker{
		Store:         s,
		Scheduler:     scheduler.NewScanScheduler(s),
		Dialer:        dialer,
		Locker:        lock.NewStoreLocker(s),
		Profile:       config.ScannerProfileQuick,
		MaxConcurrent: 2,
		ProbeDelay:    5 * time.Millisecond,
		Timeout:       2 * time.Second,
	}

	onion := "scantargetaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.onion"
	item := store.QueueItem{Pipeline: store.PipelineScan, Key: onion, Onion: onion, Ports: []int{22}}
	w.processItem(context.Background(), item)

	obs, ok := s.PortObservations(onion)[22]
	if !ok {
		t.Fatalf("no port observation recorded for port 22")
	}
	if obs.State != store.PortOpen {
		t.Errorf("State = %s, want open", obs.State)
	}

	services := s.DetectedServices()
	if len(services) != 1 {
		t.Fatalf("got %d detected services, want 1: %+v", len(services), services)
	}
	if services[0].Service != "ssh" {
		t.Errorf("Service = %q, want ssh", services[0].Service)
	}

	if len(s.CrawlLog()) != 0 {
		t.Errorf("scan worker should never write crawl log entries")
	}
}

// TestScanWorker_ClosedPortRecordsClosedState covers a port with nothing
// listening: the dial is refused and the observation should record a
// closed state with no detected service.
func TestScanWorker_ClosedPortRecordsClosedState(t *testing.T) {
	s := store.NewFakeStore()
	defer s.Close()

	dialer := transport.NewDirectDialer("127.0.0.1:1")
	w := &ScanWorker{
		Store:         s,
		Scheduler:     scheduler.NewScanScheduler(s),
		Dialer:        dialer,
		Locker:        lock.NewStoreLocker(s),
		Profile:       config.ScannerProfileQuick,
		MaxConcurrent: 2,
		ProbeDelay:    5 * time.Millisecond,
		Timeout:       2 * time.Second,
	}

	onion := "closedportaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.onion"
	item := store.QueueItem{Pipeline: store.PipelineScan, Key: onion, Onion: onion, Ports: []int{21}}
	w.processItem(context.Background(), item)

	obs, ok := s.PortObservations(onion)[21]
	if !ok {
		t.Fatalf("no port observation recorded for port 21")
	}
	if obs.State != store.PortClosed {
		t.Errorf("State = %s, want closed", obs.State)
	}
	if len(s.DetectedServices()) != 0 {
		t.Errorf("a closed port should never produce a service detection")
	}
}
