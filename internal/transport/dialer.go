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

// Package transport wraps the SOCKS5 relay connection, banner grabbing, and
// the HTTP fetch façade every pipeline uses to reach hidden services.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

// Dialer connects through a SOCKS5 relay with remote name resolution: the
// relay resolves the hostname, the caller never does. golang.org/x/net/proxy's
// SOCKS5 client always sends the hostname in the CONNECT request rather than
// pre-resolving it, so this contract falls out of using the library
// correctly rather than requiring any special handling here.
type Dialer struct {
	relayAddr string
	base      proxy.Dialer
	ctxDialer proxy.ContextDialer // non-nil when base also implements DialContext

	mu           sync.Mutex
	lastProbe    time.Time
	lastProbeErr error
}

// NewDialer builds a Dialer against the given SOCKS5 relay address
// ("host:port"), with no SOCKS authentication (Tor's relay takes none).
func NewDialer(relayAddr string) (*Dialer, error) {
	base, err := proxy.SOCKS5("tcp", relayAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("transport: construct SOCKS5 dialer: %w", err)
	}
	d := &Dialer{relayAddr: relayAddr, base: base}
	if cd, ok := base.(proxy.ContextDialer); ok {
		d.ctxDialer = cd
	}
	return d, nil
}

// DialContext connects to addr ("host:port") through the relay, respecting
// ctx's deadline. If the underlying proxy.Dialer does not implement
// ContextDialer, the dial runs in a goroutine so ctx cancellation is still
// honored (the connection is closed if ctx finishes first).
func (d *Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if d.ctxDialer != nil {
		return d.ctxDialer.DialContext(ctx, network, addr)
	}

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := d.base.Dial(network, addr)
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		return r.conn, r.err
	}
}

// directContextDialer ignores the requested network address and always
// dials addr, used by NewDirectDialer to stand in for a SOCKS5 relay in
// tests against a local listener.
type directContextDialer struct{ addr string }

func (d directContextDialer) Dial(network, _ string) (net.Conn, error) {
	var dialer net.Dialer
	return dialer.Dial(network, d.addr)
}

func (d directContextDialer) DialContext(ctx context.Context, network, _ string) (net.Conn, error) {
	var dialer net.Dialer
	return dialer.DialContext(ctx, network, d.addr)
}

// NewDirectDialer builds a Dialer that connects straight to addr, bypassing
// SOCKS5 entirely. Exported for tests that stand up a local TCP listener in
// place of a hidden service; production code always goes through NewDialer.
func NewDirectDialer(addr string) *Dialer {
	direct := directContextDialer{addr: addr}
	return &Dialer{relayAddr: addr, base: direct, ctxDialer: direct}
}

// ProbeReachable does a cached (5s TTL) raw dial to the relay itself. It is
// called once as the startup reachability check; the fetch and scan paths
// do not call it.
func (d *Dialer) ProbeReachable(ctx context.Context) error {
	d.mu.Lock()
	if time.Since(d.lastProbe) < 5*time.Second {
		err := d.lastProbeErr
		d.mu.Unlock()
		return err
	}
	d.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var dial net.Dialer
	conn, err := dial.DialContext(dialCtx, "tcp", d.relayAddr)
	if err == nil {
		conn.Close()
	} else {
		err = ErrProxyUnavailable
	}

	d.mu.Lock()
	d.lastProbe = time.Now()
	d.lastProbeErr = err
	d.mu.Unlock()
	return err
}
