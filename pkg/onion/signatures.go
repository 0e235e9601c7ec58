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

import "regexp"

// Signature declares how to recognize a service from a raw banner.
type Signature struct {
	Name            string
	Patterns        []*regexp.Regexp
	WellKnownPorts  []int
	VersionPattern  *regexp.Regexp // optional; first submatch is the version string
	ProbeString     string         // optional active probe sent before the banner read
}

// Detection is the outcome of matching a banner against the signature set.
type Detection struct {
	Service    string
	Version    string
	Confidence int
	RawBanner  []byte
}

// Signatures is the built-in signature set, declaration order breaking ties
// between equally-scored matches.
var Signatures = []Signature{
	{
		Name:           "ssh",
		Patterns:       []*regexp.Regexp{regexp.MustCompile(`(?i)^SSH-\d\.\d-`)},
		WellKnownPorts: []int{22},
		VersionPattern: regexp.MustCompile(`(?i)^SSH-\d\.\d-(\S+)`),
		ProbeString:    "",
	},
	{
		Name:           "http",
		Patterns:       []*regexp.Regexp{regexp.MustCompile(`(?i)^HTTP/\d\.\d \d{3}`)},
		WellKnownPorts: []int{80, 8080, 8000, 443},
		VersionPattern: regexp.MustCompile(`(?i)Server:\s*([^\r\n]+)`),
		ProbeString:    "GET / HTTP/1.0\r\n\r\n",
	},
	{
		Name:           "redis",
		Patterns:       []*regexp.Regexp{regexp.MustCompile(`(?i)^[+\-]?PONG`), regexp.MustCompile(`(?i)-NOAUTH`), regexp.MustCompile(`(?i)-ERR unknown command`)},
		WellKnownPorts: []int{6379},
		VersionPattern: regexp.MustCompile(`(?i)redis_version:([0-9.]+)`),
		ProbeString:    "PING\r\n",
	},
	{
		Name:           "ftp",
		Patterns:       []*regexp.Regexp{regexp.MustCompile(`(?i)^220[ -].*FTP`)},
		WellKnownPorts: []int{21},
		VersionPattern: regexp.MustCompile(`(?i)FTP\s*server\s*\(([^)]+)\)`),
	},
	{
		Name:           "smtp",
		Patterns:       []*regexp.Regexp{regexp.MustCompile(`(?i)^220[ -].*SMTP`)},
		WellKnownPorts: []int{25, 587},
		VersionPattern: regexp.MustCompile(`(?i)ESMTP\s+(\S+)`),
	},
	{
		Name:           "telnet",
		Patterns:       []*regexp.Regexp{regexp.MustCompile(`(?i)login:`), regexp.MustCompile(`(?i)username:`)},
		WellKnownPorts: []int{23},
	},
	{
		Name:           "mysql",
		Patterns:       []*regexp.Regexp{regexp.MustCompile(`(?i)mysql_native_password`)},
		WellKnownPorts: []int{3306},
		VersionPattern: regexp.MustCompile(`(\d+\.\d+\.\d+)-`),
	},
}

const (
	scorePort    = 30
	scorePattern = 40
	scoreVersion = 20
	scoreMin     = 30
	scoreMax     = 100
)

// ProbeString returns the default active probe to send before reading a
// banner on the given port, or "" if none is warranted.
func ProbeString(port int) string {
	for _, sig := range Signatures {
		for _, p := range sig.WellKnownPorts {
			if p == port && sig.ProbeString != "" {
				return sig.ProbeString
			}
		}
	}
	return ""
}

// Detect scores every signature against (port, banner) and returns the
// highest-scoring match with score >= 30, ties broken by declaration order.
// If banner is empty, no detection is possible.
func Detect(port int, banner []byte) (Detection, bool) {
	if len(banner) == 0 {
		return Detection{}, false
	}
	bannerStr := string(banner)

	best := Detection{}
	bestScore := -1
	for _, sig := range Signatures {
		score := 0
		for _, p := range sig.WellKnownPorts {
			if p == port {
				score += scorePort
				break
			}
		}
		for _, pat := range sig.Patterns {
			if pat.MatchString(bannerStr) {
				score += scorePattern
				break // first match wins; patterns never stack
			}
		}
		version := ""
		if sig.VersionPattern != nil {
			if m := sig.VersionPattern.FindStringSubmatch(bannerStr); m != nil {
				score += scoreVersion
				if len(m) > 1 {
					version = m[1]
				}
			}
		}
		if score > scoreMax {
			score = scoreMax
		}
		if score >= scoreMin && score > bestScore {
			bestScore = score
			best = Detection{
				Service:    sig.Name,
				Version:    version,
				Confidence: score,
				RawBanner:  banner,
			}
		}
	}
	if bestScore < scoreMin {
		return Detection{}, false
	}
	return best, true
}
