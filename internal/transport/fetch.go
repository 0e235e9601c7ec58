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
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
const defaultAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

// userAgentRoundTripper sets the fixed headers on every outbound request
// without mutating the caller-supplied base Transport, the same wrapping
// idiom vsa uses when layering RedisEvaler/KafkaProducer over an underlying
// client rather than modifying it in place.
type userAgentRoundTripper struct {
	base http.RoundTripper
}

func (rt userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", defaultUserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", defaultAccept)
	}
	return rt.base.RoundTrip(req)
}

// FetchOptions parameterizes one HTTPFetcher.Fetch call.
type FetchOptions struct {
	MaxBytes       int64
	Retries        int
	RetryDelay     time.Duration
	OverallTimeout time.Duration
}

// FetchResult is always returned as data, never as an error: HTTP status is
// not a transport failure, however the page itself reads.
type FetchResult struct {
	Status      int
	Header      http.Header
	Body        []byte
	Truncated   bool
	ContentType string
	Elapsed     time.Duration
}

// HTTPFetcher is the crawler/dirscanner's HTTP façade: every request routes
// through the SOCKS5 Dialer, presents a fixed browser fingerprint, and
// streams the body through a bounded reader so a hostile or huge response
// cannot exhaust memory.
type HTTPFetcher struct {
	client *http.Client
	dialer *Dialer
}

// NewHTTPFetcher builds a fetcher whose Transport dials exclusively through
// dialer.
func NewHTTPFetcher(dialer *Dialer) *HTTPFetcher {
	base := &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     false, // hidden services are plain HTTP/1.1 over Tor in practice
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       30 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{Transport: userAgentRoundTripper{base: base}},
		dialer: dialer,
	}
}

// NewDirectHTTPFetcher builds a fetcher that dials addr directly, bypassing
// the SOCKS5 relay. Exported for tests that stand up a local httptest
// server in place of a hidden service; production code always goes through
// NewHTTPFetcher.
func NewDirectHTTPFetcher(addr string) *HTTPFetcher {
	base := &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}
	return &HTTPFetcher{client: &http.Client{Transport: userAgentRoundTripper{base: base}}}
}

// Fetch retries only transport-level failures (Classify-returned errors),
// never HTTP status; the body is streamed and capped at opts.MaxBytes with a
// truncation flag, never fully buffered before the cap is known.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, opts FetchOptions) (*FetchResult, error) {
	if opts.OverallTimeout <= 0 {
		opts.OverallTimeout = 45 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, opts.OverallTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(opts.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		start := time.Now()
		result, err := f.attempt(ctx, url, opts)
		if err == nil {
			result.Elapsed = time.Since(start)
			return result, nil
		}
		classified := Classify(err)
		lastErr = classified
	}
	return nil, fmt.Errorf("transport: fetch %s after %d attempts: %w", url, opts.Retries+1, lastErr)
}

func (f *HTTPFetcher) attempt(ctx context.Context, url string, opts FetchOptions) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	body, truncated, err := readBounded(resp.Body, maxBytes)
	if err != nil {
		return nil, err
	}

	return &FetchResult{
		Status:      resp.StatusCode,
		Header:      resp.Header,
		Body:        body,
		Truncated:   truncated,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// readBounded streams up to maxBytes+1 bytes so it can detect truncation
// without ever holding more than maxBytes+1 in memory.
func readBounded(r io.Reader, maxBytes int64) (body []byte, truncated bool, err error) {
	limited := io.LimitReader(r, maxBytes+1)
	buf, err := io.ReadAll(limited)
	if err != nil {
		return nil, false, err
	}
	if int64(len(buf)) > maxBytes {
		return buf[:maxBytes], true, nil
	}
	return buf, false, nil
}

// ProbeReachable proxies to the underlying Dialer's cached relay check.
func (f *HTTPFetcher) ProbeReachable(ctx context.Context) error {
	return f.dialer.ProbeReachable(ctx)
}
