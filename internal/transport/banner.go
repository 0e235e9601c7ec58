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
	"bufio"
	"io"
	"net"
	"strings"
	"time"
)

const bannerMaxBytes = 4 * 1024

// BannerGrab writes an optional probe string, then reads up to 4 KiB or
// until deadline, whichever comes first. A clean peer-close is not an
// error: accumulated bytes are returned, nil if none were read. The caller
// owns closing conn.
func BannerGrab(conn net.Conn, probe string, deadline time.Duration) ([]byte, error) {
	if probe != "" {
		if _, err := conn.Write([]byte(probe)); err != nil {
			return nil, Classify(err)
		}
	}

	if err := conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
		return nil, Classify(err)
	}

	r := bufio.NewReader(io.LimitReader(conn, bannerMaxBytes))
	buf := make([]byte, 0, bannerMaxBytes)
	chunk := make([]byte, 512)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			if len(buf) > 0 {
				// A deadline/reset after we already have bytes is not an
				// error for banner-grab purposes: return what we have.
				break
			}
			return nil, Classify(err)
		}
		if len(buf) >= bannerMaxBytes {
			break
		}
	}
	if len(buf) == 0 {
		return nil, nil
	}
	// Replace invalid UTF-8 sequences rather than rejecting the banner
	// outright; raw bytes from an arbitrary service are not guaranteed valid.
	return []byte(strings.ToValidUTF8(string(buf), "�")), nil
}
