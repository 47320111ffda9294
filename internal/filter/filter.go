// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package filter drops release candidates the user does not want to hear about.

Rules are evaluated in a fixed order and the first match rejects the candidate:

 1. Adult content, when DropAdult is set.
 2. NG genres and NG tags, by exact membership.
 3. NG keywords, by substring over titles, description, genres and tags.

All comparisons are made after NFKC normalization and Unicode case folding, so
"ＢＬ", "bl" and "Bl" are the same word. The filter is pure and runs before
anything is persisted.
*/
package filter

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/taibuivan/releasewatch/internal/release"
)

// Rule names reported in [Decision.Rule].
const (
	RuleAdult   = "adult"
	RuleGenre   = "ng_genre"
	RuleTag     = "ng_tag"
	RuleKeyword = "ng_keyword"
)

// Rules configures a [Filter].
type Rules struct {
	Keywords  []string
	Genres    []string
	Tags      []string
	DropAdult bool
}

// Decision is the verdict on one candidate.
type Decision struct {
	Keep   bool
	Rule   string // Empty when kept
	Reason string // Human-readable, e.g. `ng_keyword "ecchi"`
}

// Rejection pairs a dropped candidate with the decision that dropped it.
type Rejection struct {
	Candidate release.Candidate
	Decision  Decision
}

// Filter evaluates candidates against NG lists. Safe for concurrent use.
type Filter struct {
	keywords  []string
	genres    map[string]struct{}
	tags      map[string]struct{}
	dropAdult bool
}

// New builds a filter. Blank entries are ignored.
func New(rules Rules) *Filter {
	f := &Filter{
		genres:    toSet(rules.Genres),
		tags:      toSet(rules.Tags),
		dropAdult: rules.DropAdult,
	}
	for _, kw := range rules.Keywords {
		if folded := Fold(kw); folded != "" {
			f.keywords = append(f.keywords, folded)
		}
	}
	return f
}

// Check evaluates one candidate.
func (f *Filter) Check(c release.Candidate) Decision {
	if f.dropAdult && c.IsAdult {
		return reject(RuleAdult, "")
	}

	for _, g := range c.Genres {
		if _, ok := f.genres[Fold(g)]; ok {
			return reject(RuleGenre, g)
		}
	}
	for _, t := range c.Tags {
		if _, ok := f.tags[Fold(t)]; ok {
			return reject(RuleTag, t)
		}
	}

	if len(f.keywords) > 0 {
		fields := make([]string, 0, 3+len(c.Genres)+len(c.Tags))
		fields = append(fields, Fold(c.Work.Title), Fold(c.Work.TitleEn), Fold(c.Description))
		for _, g := range c.Genres {
			fields = append(fields, Fold(g))
		}
		for _, t := range c.Tags {
			fields = append(fields, Fold(t))
		}

		for _, kw := range f.keywords {
			for _, field := range fields {
				if strings.Contains(field, kw) {
					return reject(RuleKeyword, kw)
				}
			}
		}
	}

	return Decision{Keep: true}
}

// Apply splits candidates into kept and rejected, preserving order.
func (f *Filter) Apply(candidates []release.Candidate) ([]release.Candidate, []Rejection) {
	kept := make([]release.Candidate, 0, len(candidates))
	var rejected []Rejection

	for _, c := range candidates {
		d := f.Check(c)
		if d.Keep {
			kept = append(kept, c)
			continue
		}
		rejected = append(rejected, Rejection{Candidate: c, Decision: d})
	}
	return kept, rejected
}

// Fold returns the comparison form of s: NFKC-normalized, case-folded and trimmed.
func Fold(s string) string {
	// A Caser is stateful, so each call gets its own.
	return strings.TrimSpace(cases.Fold().String(norm.NFKC.String(s)))
}

func reject(rule, value string) Decision {
	reason := rule
	if value != "" {
		reason = rule + ` "` + value + `"`
	}
	return Decision{Rule: rule, Reason: reason}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if folded := Fold(v); folded != "" {
			set[folded] = struct{}{}
		}
	}
	return set
}
