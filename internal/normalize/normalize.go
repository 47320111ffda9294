// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package normalize turns source-shaped raw records into release candidates.

The normalizer is pure: it never touches storage or the network. Each record
yields exactly one candidate or one VALIDATION_ERROR.

Mapping:

  - AniList airings become anime episodes dated by their airing time.
  - Feed items take their kind from the feed category and their number and work
    title from the item title (e.g. "第5巻", "Vol. 5", "#5", "Episode 5").
*/
package normalize

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/taibuivan/releasewatch/internal/collector"
	"github.com/taibuivan/releasewatch/internal/platform/apperr"
	"github.com/taibuivan/releasewatch/internal/platform/validate"
	"github.com/taibuivan/releasewatch/internal/release"
	"github.com/taibuivan/releasewatch/pkg/pointer"
)

// MaxTitleLength bounds work titles after cleanup.
const MaxTitleLength = 500

// Normalizer maps raw records into candidates. Safe for concurrent use.
type Normalizer struct {
	loc *time.Location
}

// New creates a normalizer expressing release dates in loc.
func New(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc}
}

// Normalize maps one record. It returns a VALIDATION_ERROR when the record
// cannot produce a well-formed candidate.
func (n *Normalizer) Normalize(record collector.RawRecord) (release.Candidate, error) {
	var candidate release.Candidate

	switch {
	case record.Media != nil:
		candidate = n.fromMedia(record.Source, record.Media)
	case record.Item != nil:
		candidate = n.fromItem(record.Source, record.Item)
	default:
		return release.Candidate{}, apperr.ValidationError("record carries no payload")
	}

	if err := check(candidate); err != nil {
		return release.Candidate{}, err
	}
	return candidate, nil
}

// # Source Mapping

func (n *Normalizer) fromMedia(source string, m *collector.Media) release.Candidate {
	candidate := release.Candidate{
		Work: release.WorkInput{
			Title:   firstNonEmpty(CleanTitle(m.TitleNative), CleanTitle(m.TitleRomaji), CleanTitle(m.TitleEnglish)),
			TitleEn: CleanTitle(m.TitleEnglish),
			Kind:    release.KindAnime,
		},
		Kind:        release.ReleaseEpisode,
		Platform:    strings.TrimSpace(m.StreamingSite),
		Source:      source,
		SourceURL:   m.SiteURL,
		Description: m.Description,
		Genres:      m.Genres,
		Tags:        m.Tags,
		IsAdult:     m.IsAdult,
	}

	if m.Episode > 0 {
		candidate.Number = strconv.Itoa(m.Episode)
	}
	if !m.AiringAt.IsZero() {
		candidate.ReleaseDate = pointer.To(release.Date(m.AiringAt, n.loc))
	}
	return candidate
}

func (n *Normalizer) fromItem(source string, item *collector.FeedItem) release.Candidate {
	kind, releaseKind := kindsFor(item.Category)
	title, number := SplitNumber(CleanTitle(item.Title), releaseKind)

	platform := strings.TrimSpace(item.Platform)
	if platform == "" {
		platform = strings.TrimSpace(item.FeedName)
	}

	candidate := release.Candidate{
		Work: release.WorkInput{
			Title: title,
			Kind:  kind,
		},
		Kind:        releaseKind,
		Number:      number,
		Platform:    platform,
		Source:      source,
		SourceURL:   strings.TrimSpace(item.Link),
		Description: item.Description,
		Tags:        item.Categories,
	}

	if item.Published != nil {
		candidate.ReleaseDate = pointer.To(release.Date(*item.Published, n.loc))
	}
	return candidate
}

// kindsFor maps a feed category to the work and release kind it carries.
// Unknown categories yield empty kinds, which validation rejects.
func kindsFor(category string) (release.Kind, release.ReleaseKind) {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case string(release.KindManga):
		return release.KindManga, release.ReleaseVolume
	case string(release.KindAnime):
		return release.KindAnime, release.ReleaseEpisode
	}
	return "", ""
}

// # Validation

func check(c release.Candidate) error {
	v := &validate.Validator{}

	v.Required("title", c.Work.Title).
		MaxLen("title", c.Work.Title, MaxTitleLength).
		MaxLen("title_en", c.Work.TitleEn, MaxTitleLength).
		OneOf("kind", string(c.Work.Kind), string(release.KindAnime), string(release.KindManga)).
		OneOf("release_kind", string(c.Kind), string(release.ReleaseEpisode), string(release.ReleaseVolume)).
		Custom("release_kind", !pairs(c.Work.Kind, c.Kind), "Does not match the work kind").
		Required("source", c.Source).
		URL("source_url", c.SourceURL).
		URL("official_url", c.Work.OfficialURL)

	return v.Err()
}

func pairs(kind release.Kind, releaseKind release.ReleaseKind) bool {
	switch kind {
	case release.KindAnime:
		return releaseKind == release.ReleaseEpisode
	case release.KindManga:
		return releaseKind == release.ReleaseVolume
	}
	return false
}

// # Title Cleanup

// brackets lists the pairs stripped when they wrap a whole title. NFKC has
// already folded full-width ASCII brackets to their narrow forms.
var brackets = [][2]string{
	{"「", "」"},
	{"『", "』"},
	{"【", "】"},
	{"〈", "〉"},
	{"《", "》"},
	{"[", "]"},
	{"(", ")"},
	{`"`, `"`},
}

// CleanTitle NFKC-normalizes s, collapses whitespace and strips brackets
// wrapping the whole title.
func CleanTitle(s string) string {
	s = strings.Join(strings.Fields(norm.NFKC.String(s)), " ")

	for {
		trimmed := false
		for _, pair := range brackets {
			if len(s) > len(pair[0])+len(pair[1]) && strings.HasPrefix(s, pair[0]) && strings.HasSuffix(s, pair[1]) {
				inner := s[len(pair[0]) : len(s)-len(pair[1])]
				if strings.Contains(inner, pair[0]) || strings.Contains(inner, pair[1]) {
					continue
				}
				s = strings.TrimSpace(inner)
				trimmed = true
			}
		}
		if !trimmed {
			return s
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
