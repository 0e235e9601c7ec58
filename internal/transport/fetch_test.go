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
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// newLocalFetcher builds an HTTPFetcher whose Transport dials straight to
// the test server's address rather than through a real SOCKS5 relay.
func newLocalFetcher(t *testing.T, serverAddr string) *HTTPFetcher {
	t.Helper()
	dialer := &Dialer{relayAddr: serverAddr}
	base := &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, serverAddr)
		},
	}
	return &HTTPFetcher{
		client: &http.Client{Transport: userAgentRoundTripper{base: base}},
		dialer: dialer,
	}
}

func TestHTTPFetcher_StatusIsAlwaysDataNeverError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("not found"))
	}))
	defer srv.Close()

	f := newLocalFetcher(t, srv.Listener.Addr().String())
	result, err := f.Fetch(context.Background(), srv.URL, FetchOptions{MaxBytes: 1 << 20})
	if err != nil {
		t.Fatalf("Fetch returned error for a plain 404: %v", err)
	}
	if result.Status != http.StatusNotFound {
		t.Fatalf("Status = %d, want 404", result.Status)
	}
}

func TestHTTPFetcher_FixedHeaders(t *testing.T) {
	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
	}))
	defer srv.Close()

	f := newLocalFetcher(t, srv.Listener.Addr().String())
	_, err := f.Fetch(context.Background(), srv.URL, FetchOptions{MaxBytes: 1 << 20})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotUA != defaultUserAgent {
		t.Errorf("User-Agent = %q, want %q", gotUA, defaultUserAgent)
	}
	if gotAccept != defaultAccept {
		t.Errorf("Accept = %q, want %q", gotAccept, defaultAccept)
	}
}

// TestHTTPFetcher_StreamingTruncation serves a response well over the
// configured cap and checks the body is truncated to exactly MaxBytes with
// the flag set, while status is preserved.
func TestHTTPFetcher_StreamingTruncation(t *testing.T) {
	const bodySize = 5 * 1024 * 1024
	const maxBytes = 1024 * 1024

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		chunk := strings.Repeat("a", 4096)
		written := 0
		for written < bodySize {
			n, _ := w.Write([]byte(chunk))
			written += n
		}
	}))
	defer srv.Close()

	f := newLocalFetcher(t, srv.Listener.Addr().String())
	result, err := f.Fetch(context.Background(), srv.URL, FetchOptions{MaxBytes: maxBytes})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if result.Status != http.StatusOK {
		t.Fatalf("Status = %d, want 200", result.Status)
	}
	if !result.Truncated {
		t.Fatal("Truncated = false, want true")
	}
	if len(result.Body) != maxBytes {
		t.Fatalf("len(Body) = %d, want %d", len(result.Body), maxBytes)
	}
}

func TestHTTPFetcher_SmallBodyNotTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	f := newLocalFetcher(t, srv.Listener.Addr().String())
	result, err := f.Fetch(context.Background(), srv.URL, FetchOptions{MaxBytes: 1 << 20})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if result.Truncated {
		t.Fatal("Truncated = true, want false")
	}
	if string(result.Body) != "hello" {
		t.Fatalf("Body = %q, want %q", result.Body, "hello")
	}
}

func TestHTTPFetcher_TransportFailureErrorsAfterRetries(t *testing.T) {
	// No listener on this address: every attempt hits connection refused,
	// a transport-level failure, so Fetch makes Retries+1 attempts and then
	// returns an error.
	dialer := &Dialer{relayAddr: "127.0.0.1:1"}
	base := &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, "127.0.0.1:1")
		},
	}
	f := &HTTPFetcher{
		client: &http.Client{Transport: userAgentRoundTripper{base: base}},
		dialer: dialer,
	}

	_, err := f.Fetch(context.Background(), "http://onionaddr.example/", FetchOptions{
		MaxBytes:   4096,
		Retries:    2,
		RetryDelay: 10 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected an error after exhausting retries against a closed port")
	}
}
