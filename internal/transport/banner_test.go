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

package transport

import (
	"net"
	"testing"
	"time"
	"unicode/utf8"
)

func TestBannerGrab_ReadsUntilPeerCloses(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		server.Write([]byte("SSH-2.0-OpenSSH_9.0\r\n"))
		server.Close()
	}()

	got, err := BannerGrab(client, "", time.Second)
	if err != nil {
		t.Fatalf("BannerGrab: %v", err)
	}
	if string(got) != "SSH-2.0-OpenSSH_9.0\r\n" {
		t.Fatalf("banner = %q", got)
	}
}

func TestBannerGrab_SendsProbeFirst(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	probeReceived := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := server.Read(buf)
		probeReceived <- string(buf[:n])
		server.Write([]byte("pong"))
		server.Close()
	}()

	got, err := BannerGrab(client, "ping", time.Second)
	if err != nil {
		t.Fatalf("BannerGrab: %v", err)
	}
	if p := <-probeReceived; p != "ping" {
		t.Fatalf("probe received = %q, want %q", p, "ping")
	}
	if string(got) != "pong" {
		t.Fatalf("banner = %q, want %q", got, "pong")
	}
}

func TestBannerGrab_EmptyReturnsNil(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go server.Close()

	got, err := BannerGrab(client, "", time.Second)
	if err != nil {
		t.Fatalf("BannerGrab: %v", err)
	}
	if got != nil {
		t.Fatalf("banner = %v, want nil", got)
	}
}

func TestBannerGrab_InvalidUTF8Replaced(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		server.Write([]byte{0x68, 0x69, 0xff, 0xfe})
		server.Close()
	}()

	got, err := BannerGrab(client, "", time.Second)
	if err != nil {
		t.Fatalf("BannerGrab: %v", err)
	}
	if !utf8.Valid(got) {
		t.Fatalf("banner contains invalid UTF-8: %q", got)
	}
}

func TestBannerGrab_CapsAt4KiB(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		chunk := make([]byte, 512)
		for i := range chunk {
			chunk[i] = 'x'
		}
		for i := 0; i < 16; i++ {
			if _, err := server.Write(chunk); err != nil {
				break
			}
		}
		server.Close()
	}()

	got, err := BannerGrab(client, "", time.Second)
	if err != nil {
		t.Fatalf("BannerGrab: %v", err)
	}
	if len(got) > bannerMaxBytes {
		t.Fatalf("len(banner) = %d, want <= %d", len(got), bannerMaxBytes)
	}
}
