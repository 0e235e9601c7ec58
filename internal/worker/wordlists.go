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

import "asherah/internal/config"

// quickWordlist covers the handful of paths most onion services expose or
// leak by accident.
var quickWordlist = []string{
	"admin", "login", "robots.txt", "sitemap.xml", ".git/HEAD", ".env",
	"backup", "config.php", "wp-admin",
}

// standardWordlist extends quickWordlist with common CMS, API, and ops
// surface paths.
var standardWordlist = []string{
	"admin", "administrator", "login", "signin", "dashboard", "manage",
	"cpanel", "wp-admin", "wp-login.php", "robots.txt", "sitemap.xml",
	".git/HEAD", ".git/config", ".svn/entries", ".env", ".htpasswd",
	"backup", "backup.zip", "backup.tar.gz", "config.php", "config.json",
	"settings.py", "database.sql", "dump.sql", "api", "api/v1", "upload",
	"uploads", "phpinfo.php", "server-status", "index.php.bak",
	"test", "tmp", ".DS_Store", "readme.md", "CHANGELOG.md", "install",
}

// fullWordlist is standardWordlist plus a long tail of directory and file
// naming conventions a brute-force-from-scratch run would also try.
var fullWordlist = buildFullWordlist()

func buildFullWordlist() []string {
	tail := []string{
		"old", "old_site", "beta", "staging", "dev", "private", "secret",
		"hidden", "internal", "files", "downloads", "data", "db", "sql",
		"logs", "log", "access.log", "error.log", "debug.log", "cache",
		"session", "sessions", "key", "keys", "id_rsa", "id_rsa.pub",
		"credentials", "credentials.json", "secrets.yaml", ".aws/credentials",
		"docker-compose.yml", "Dockerfile", ".dockerignore", "Makefile",
		"package.json", "composer.json", "vendor", "node_modules",
		"assets", "static", "public", "media", "images", "css", "js",
		"search", "search.php", "user", "users", "account", "accounts",
		"profile", "settings", "panel", "console", "status", "health",
		"metrics", "debug", "trace", "info.php", "phpmyadmin", "adminer",
		"wallet", "wallets", "market", "escrow", "forum", "chat",
		"invite", "register", "signup", "reset", "forgot-password",
	}
	seen := make(map[string]struct{}, len(standardWordlist)+len(tail))
	out := make([]string, 0, len(standardWordlist)+len(tail))
	for _, p := range standardWordlist {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	for _, p := range tail {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// PathsForProfile resolves a dirscan profile to its concrete wordlist.
func PathsForProfile(profile config.DirscanProfile) []string {
	switch profile {
	case config.DirscanProfileFull:
		return fullWordlist
	case config.DirscanProfileStandard:
		return standardWordlist
	default:
		return quickWordlist
	}
}
