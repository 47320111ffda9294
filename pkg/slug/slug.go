// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package slug generates stable lowercase keys from arbitrary Unicode strings.
//
// # Usage
//
// Slugs identify feed sources in release records and metrics labels
// (e.g., "Book Walker" becomes "book-walker"). Letters outside the Latin
// script are kept, so "アニメニュース" stays readable instead of collapsing to "".
package slug

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// separators matches any run of characters that are neither letters nor digits.
var separators = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// From converts an arbitrary Unicode string into a hyphenated slug.
//
// # Transformation Pipeline
//
// 1. Normalizes to NFKC, then decomposes (NFD) so accents become separate marks.
// 2. Drops combining marks that follow a Latin letter (é → e). Marks on other
// scripts, such as the Japanese voicing mark, are kept.
// 3. Lowercases and recomposes (NFC).
// 4. Replaces separator runs with a single hyphen and trims the ends.
func From(s string) string {
	decomposed := norm.NFD.String(norm.NFKC.String(s))

	var b strings.Builder
	b.Grow(len(decomposed))

	latinBase := false
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			if latinBase {
				continue
			}
			b.WriteRune(r)
			continue
		}
		latinBase = unicode.Is(unicode.Latin, r)
		b.WriteRune(unicode.ToLower(r))
	}

	result := norm.NFC.String(b.String())
	result = separators.ReplaceAllString(result, "-")
	return strings.Trim(result, "-")
}
