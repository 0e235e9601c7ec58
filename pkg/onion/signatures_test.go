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

package onion

import "testing"

// TestDetectSSHConfidence matches the scenario in spec section 8.7: port 22
// with a version-bearing OpenSSH banner scores 30+40+20=90.
func TestDetectSSHConfidence(t *testing.T) {
	d, ok := Detect(22, []byte("SSH-2.0-OpenSSH_8.9p1\r\n"))
	if !ok {
		t.Fatal("expected a detection")
	}
	if d.Service != "ssh" {
		t.Errorf("service = %q, want ssh", d.Service)
	}
	if d.Version != "OpenSSH_8.9p1" {
		t.Errorf("version = %q, want OpenSSH_8.9p1", d.Version)
	}
	if d.Confidence != 90 {
		t.Errorf("confidence = %d, want 90", d.Confidence)
	}
}

func TestDetectNoBannerNoDetection(t *testing.T) {
	if _, ok := Detect(22, nil); ok {
		t.Error("expected no detection for empty banner")
	}
}

func TestDetectScoreBounded(t *testing.T) {
	d, ok := Detect(6379, []byte("+PONG\r\nredis_version:7.2.4\r\n"))
	if !ok {
		t.Fatal("expected a detection")
	}
	if d.Confidence < 0 || d.Confidence > 100 {
		t.Errorf("confidence %d out of bounds", d.Confidence)
	}
	if d.Service != "redis" {
		t.Errorf("service = %q, want redis", d.Service)
	}
}

func TestDetectBelowThresholdIsRejected(t *testing.T) {
	// A banner matching nothing at all, on an unlisted port, scores 0.
	if _, ok := Detect(54321, []byte("garbage\x00\x01")); ok {
		t.Error("expected no detection below the score-30 floor")
	}
}

func TestProbeStringDefaults(t *testing.T) {
	if got := ProbeString(80); got != "GET / HTTP/1.0\r\n\r\n" {
		t.Errorf("ProbeString(80) = %q", got)
	}
	if got := ProbeString(6379); got != "PING\r\n" {
		t.Errorf("ProbeString(6379) = %q", got)
	}
	if got := ProbeString(9999); got != "" {
		t.Errorf("ProbeString(9999) = %q, want empty", got)
	}
}
