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

import (
	"regexp"
	"strings"
	"time"
)

// Category is the closed set of reasons a probe response is flagged
// interesting.
type Category string

const (
	CategoryCredentialsFile    Category = "credentials_file"
	CategoryBackupFile         Category = "backup_file"
	CategorySourceControl      Category = "source_control"
	CategoryAdminPanel         Category = "admin_panel"
	CategoryServerInfo         Category = "server_info"
	CategorySensitiveDirectory Category = "sensitive_directory"
	CategoryConfigurationFile  Category = "configuration_file"
	CategoryLogFile            Category = "log_file"
	CategoryDatabaseFile       Category = "database_file"
	CategoryRobotsSitemap      Category = "robots_sitemap"
	CategoryOther              Category = "other"
)

// Baseline is the reference response for a target, obtained by probing a
// path that provably does not exist, used to detect custom soft-404 pages.
type Baseline struct {
	Status  int
	Length  int
	Snippet string // <=512 bytes
}

// ProbeResult is the classifier's input for one brute-forced path.
type ProbeResult struct {
	Path         string
	Status       int
	Length       int
	ContentType  string
	ResponseTime time.Duration
	ServerHeader string
	RedirectURL  string
	Body         string // full or truncated body used for content signatures
}

// Classification is the classifier's verdict for one probe.
type Classification struct {
	Interesting bool
	Category    Category
	Reason      string
}

var dotfilePath = regexp.MustCompile(`(^|/)\.[^/]+$`)

var adminLikePath = regexp.MustCompile(`(?i)(admin|administrator|manage|manager|cpanel|wp-admin|dashboard)`)

var loginLikeURL = regexp.MustCompile(`(?i)(login|signin|auth|session)`)

var sensitivePath = regexp.MustCompile(`(?i)(\.env$|\.git/|\.svn/|\.bak$|~$|\.sql$|\.db$|backup|\.log$|config|phpinfo|server-status|\.htpasswd$|robots\.txt$|sitemap\.xml$)`)

// genericNotFoundPhrases are phrases commonly emitted by custom 200-status
// "not found" pages.
var genericNotFoundPhrases = []string{
	"page not found", "404 not found", "not found", "does not exist",
	"no longer available", "nothing found", "oops", "we couldn't find",
	"we can't find", "content not found", "the requested url", "resource not found",
	"error 404", "page you requested", "go back to homepage",
}

// contentSignature maps a path/body regex pair to a category.
type contentSignature struct {
	pathPattern *regexp.Regexp
	bodyPattern *regexp.Regexp
	category    Category
}

var contentSignatures = []contentSignature{
	{regexp.MustCompile(`(?i)\.env$`), regexp.MustCompile(`(?i)[A-Z_]+=.+`), CategoryCredentialsFile},
	{regexp.MustCompile(`(?i)\.htpasswd$`), regexp.MustCompile(`:.*\$`), CategoryCredentialsFile},
	{regexp.MustCompile(`(?i)\.(bak|old|orig|swp)$|~$`), nil, CategoryBackupFile},
	{regexp.MustCompile(`(?i)\.git/(config|HEAD)$`), nil, CategorySourceControl},
	{regexp.MustCompile(`(?i)\.svn/entries$`), nil, CategorySourceControl},
	{regexp.MustCompile(`(?i)phpinfo`), regexp.MustCompile(`(?i)phpinfo\(\)`), CategoryServerInfo},
	{regexp.MustCompile(`(?i)server-status$`), regexp.MustCompile(`(?i)apache`), CategoryServerInfo},
	{regexp.MustCompile(`(?i)\.(sql|db|sqlite)$`), nil, CategoryDatabaseFile},
	{regexp.MustCompile(`(?i)\.log$`), nil, CategoryLogFile},
	{regexp.MustCompile(`(?i)(config\.(php|json|yaml|yml|xml)|settings\.(json|py))$`), nil, CategoryConfigurationFile},
	{regexp.MustCompile(`(?i)(robots\.txt|sitemap\.xml)$`), nil, CategoryRobotsSitemap},
}

// jaccardSimilarity computes word-set similarity between two bodies, used to
// detect custom soft-404 pages whose length differs slightly from baseline.
func jaccardSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[strings.ToLower(f)] = struct{}{}
	}
	return set
}

func containsGenericNotFound(body string) bool {
	lower := strings.ToLower(body)
	for _, phrase := range genericNotFoundPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// ClassifyResponse implements the dirscanner's interest rules: status-code
// shortcuts first, then (for 200s) soft-404 detection against baseline,
// then content signatures, then a catch-all sensitive-path heuristic.
func ClassifyResponse(baseline *Baseline, probe ProbeResult) Classification {
	switch {
	case probe.Status == 404 || probe.Status == 410 || probe.Status >= 500:
		return Classification{Interesting: false, Reason: "not-found-or-server-error"}

	case probe.Status == 403:
		if dotfilePath.MatchString(probe.Path) {
			return Classification{Interesting: false, Reason: "dotfile-403-policy"}
		}
		if adminLikePath.MatchString(probe.Path) {
			return Classification{Interesting: true, Category: CategoryAdminPanel, Reason: "403-on-admin-path"}
		}
		return Classification{Interesting: false, Reason: "403-non-admin"}

	case probe.Status == 401:
		cat := categoryFromPath(probe.Path)
		return Classification{Interesting: true, Category: cat, Reason: "401-auth-required"}

	case probe.Status == 301 || probe.Status == 302:
		if adminLikePath.MatchString(probe.Path) && loginLikeURL.MatchString(probe.RedirectURL) {
			return Classification{Interesting: true, Category: CategoryAdminPanel, Reason: "admin-redirect-to-login"}
		}
		return Classification{Interesting: false, Reason: "non-admin-redirect"}

	case probe.Status == 200:
		return classify200(baseline, probe)

	default:
		return Classification{Interesting: false, Reason: "unhandled-status"}
	}
}

func classify200(baseline *Baseline, probe ProbeResult) Classification {
	if baseline != nil {
		if baseline.Length > 0 {
			delta := float64(probe.Length-baseline.Length) / float64(baseline.Length)
			if delta < 0 {
				delta = -delta
			}
			if delta <= 0.10 {
				return Classification{Interesting: false, Reason: "soft-404-length-match"}
			}
		}
		if baseline.Snippet != "" && jaccardSimilarity(baseline.Snippet, probe.Body) > 0.85 {
			return Classification{Interesting: false, Reason: "soft-404-similarity-match"}
		}
	}

	if containsGenericNotFound(probe.Body) {
		return Classification{Interesting: false, Reason: "generic-not-found-phrase"}
	}

	for _, sig := range contentSignatures {
		if !sig.pathPattern.MatchString(probe.Path) {
			continue
		}
		if sig.bodyPattern != nil && !sig.bodyPattern.MatchString(probe.Body) {
			continue
		}
		return Classification{Interesting: true, Category: sig.category, Reason: "content-signature-match"}
	}

	if sensitivePath.MatchString(probe.Path) && !looksLikeNavigationalPage(probe.Body) {
		return Classification{Interesting: true, Category: categoryFromPath(probe.Path), Reason: "sensitive-path-heuristic"}
	}

	return Classification{Interesting: false, Reason: "no-signal"}
}

// looksLikeNavigationalPage is a coarse heuristic for "this 200 is a normal
// HTML page with a nav/header", used to avoid flagging a sensitive-looking
// path whose body is obviously just the site's template.
func looksLikeNavigationalPage(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "<nav") || strings.Contains(lower, "<header") || strings.Contains(lower, "<!doctype html")
}

func categoryFromPath(path string) Category {
	switch {
	case adminLikePath.MatchString(path):
		return CategoryAdminPanel
	case regexp.MustCompile(`(?i)\.git/|\.svn/`).MatchString(path):
		return CategorySourceControl
	case regexp.MustCompile(`(?i)\.(bak|old|orig)$`).MatchString(path):
		return CategoryBackupFile
	case regexp.MustCompile(`(?i)\.(sql|db)$`).MatchString(path):
		return CategoryDatabaseFile
	case regexp.MustCompile(`(?i)\.log$`).MatchString(path):
		return CategoryLogFile
	case regexp.MustCompile(`(?i)(robots\.txt|sitemap\.xml)$`).MatchString(path):
		return CategoryRobotsSitemap
	case regexp.MustCompile(`(?i)config|settings`).MatchString(path):
		return CategoryConfigurationFile
	case sensitivePath.MatchString(path):
		return CategorySensitiveDirectory
	default:
		return CategoryOther
	}
}
