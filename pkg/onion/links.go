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
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// SourceKind identifies which HTML construct produced an Edge, so the
// scheduler and search index can weight discovery differently per kind.
type SourceKind string

const (
	SourceAnchor    SourceKind = "a"
	SourceImage     SourceKind = "img"
	SourceScript    SourceKind = "script"
	SourceLink      SourceKind = "link"
	SourceFrame     SourceKind = "frame"
	SourceForm      SourceKind = "form"
	SourceMedia     SourceKind = "media"
	SourceObject    SourceKind = "object"
	SourceEmbed     SourceKind = "embed"
	SourceBase      SourceKind = "base"
	SourceMetaRedir SourceKind = "meta_refresh"
)

// elementSelectors maps each selector this extractor walks to the kind of
// edge it produces and the attribute holding the reference.
var elementSelectors = []struct {
	selector string
	attr     string
	kind     SourceKind
}{
	{"a[href]", "href", SourceAnchor},
	{"img[src]", "src", SourceImage},
	{"script[src]", "src", SourceScript},
	{"link[href]", "href", SourceLink},
	{"iframe[src]", "src", SourceFrame},
	{"frame[src]", "src", SourceFrame},
	{"form[action]", "action", SourceForm},
	{"video[src]", "src", SourceMedia},
	{"audio[src]", "src", SourceMedia},
	{"source[src]", "src", SourceMedia},
	{"object[data]", "data", SourceObject},
	{"embed[src]", "src", SourceEmbed},
	{"base[href]", "href", SourceBase},
}

var metaRefreshURL = regexp.MustCompile(`(?i)url\s*=\s*['"]?([^'">]+)`)

// Edge is one extracted outbound reference, carrying enough context for the
// caller to decide priority and persist it.
type Edge struct {
	TargetURL      string
	TargetOnion    string // empty unless Classification == ClassificationOnion/ClassificationInternal
	AnchorText     string
	Classification Classification
	SourceKind     SourceKind
	Ordinal        int
}

// ExtractLinks walks doc for every outbound reference it recognizes and
// returns one Edge per reference. Edges are grouped by element kind in
// elementSelectors order (document order within each kind), followed by
// meta-refresh targets; Ordinal numbers them in that sequence. base must be the
// document's own URL (used both for resolution and for internal/external
// classification) and sourceOnion its onion address.
func ExtractLinks(doc *goquery.Document, base *url.URL, sourceOnion string) []Edge {
	var edges []Edge
	ordinal := 0

	for _, sel := range elementSelectors {
		doc.Find(sel.selector).Each(func(_ int, s *goquery.Selection) {
			raw, ok := s.Attr(sel.attr)
			if !ok {
				return
			}
			resolved, ok := NormalizeURL(base, raw)
			if !ok {
				return
			}
			target, err := url.Parse(resolved)
			if err != nil {
				return
			}
			edge := Edge{
				TargetURL:      resolved,
				AnchorText:     strings.TrimSpace(s.Text()),
				Classification: ClassifyLink(sourceOnion, target),
				SourceKind:     sel.kind,
				Ordinal:        ordinal,
			}
			if edge.Classification != ClassificationExternal {
				edge.TargetOnion = strings.ToLower(target.Hostname())
			}
			edges = append(edges, edge)
			ordinal++
		})
	}

	doc.Find(`meta[http-equiv]`).Each(func(_ int, s *goquery.Selection) {
		equiv, _ := s.Attr("http-equiv")
		if !strings.EqualFold(strings.TrimSpace(equiv), "refresh") {
			return
		}
		content, ok := s.Attr("content")
		if !ok {
			return
		}
		m := metaRefreshURL.FindStringSubmatch(content)
		if m == nil {
			return
		}
		resolved, ok := NormalizeURL(base, m[1])
		if !ok {
			return
		}
		target, err := url.Parse(resolved)
		if err != nil {
			return
		}
		edge := Edge{
			TargetURL:      resolved,
			Classification: ClassifyLink(sourceOnion, target),
			SourceKind:     SourceMetaRedir,
			Ordinal:        ordinal,
		}
		if edge.Classification != ClassificationExternal {
			edge.TargetOnion = strings.ToLower(target.Hostname())
		}
		edges = append(edges, edge)
		ordinal++
	})

	return edges
}

const (
	maxTextLength  = 50 * 1024
	maxTitleLength = 500
	maxDescLength  = 1024
	maxHeadings    = 10
)

// Metadata is the bounded, text-only summary extracted from an HTML
// document for the search index.
type Metadata struct {
	Title       string
	Description string
	Lang        string
	Headings    []string
	Text        string
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// ExtractMetadata strips non-content elements, collapses whitespace, and
// caps the text, title and description lengths and the number of headings
// so a pathological document cannot blow up storage; lang and the heading
// texts are kept as found.
func ExtractMetadata(doc *goquery.Document) Metadata {
	body := doc.Clone()
	body.Find("script, style, nav, footer, header, aside, .ad, .advertisement").Remove()

	text := whitespaceRun.ReplaceAllString(strings.TrimSpace(body.Text()), " ")
	if len(text) > maxTextLength {
		text = text[:maxTextLength]
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if len(title) > maxTitleLength {
		title = title[:maxTitleLength]
	}

	description, _ := doc.Find(`meta[name="description"]`).First().Attr("content")
	description = strings.TrimSpace(description)
	if len(description) > maxDescLength {
		description = description[:maxDescLength]
	}

	lang, _ := doc.Find("html").First().Attr("lang")

	var headings []string
	doc.Find("h1").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if i >= maxHeadings {
			return false
		}
		headings = append(headings, strings.TrimSpace(s.Text()))
		return true
	})

	return Metadata{
		Title:       title,
		Description: description,
		Lang:        lang,
		Headings:    headings,
		Text:        text,
	}
}
