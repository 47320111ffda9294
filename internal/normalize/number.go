// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/taibuivan/releasewatch/internal/release"
)

// Patterns are tried in order; the first match wins. Titles are NFKC-normalized
// before matching, so full-width digits are already ASCII.
var (
	volumePatterns = []*regexp.Regexp{
		regexp.MustCompile(`第\s*(\d+)\s*巻`),
		regexp.MustCompile(`(\d+)\s*巻`),
		regexp.MustCompile(`(?i)\bvol(?:ume)?\.?\s*(\d+)`),
	}
	episodePatterns = []*regexp.Regexp{
		regexp.MustCompile(`第\s*(\d+)\s*話`),
		regexp.MustCompile(`(?i)\bepisode\s*(\d+)`),
		regexp.MustCompile(`(?i)\bep\.\s*(\d+)`),
		regexp.MustCompile(`#\s*(\d+)`),
	}
)

// titleSeparators are trimmed from the work title once the number is removed.
const titleSeparators = " -–:|/,、・"

// SplitNumber extracts the release number from title and returns the remaining
// work title. When no number is found the title is returned unchanged with an
// empty number.
func SplitNumber(title string, kind release.ReleaseKind) (string, string) {
	var patterns []*regexp.Regexp
	switch kind {
	case release.ReleaseVolume:
		patterns = volumePatterns
	case release.ReleaseEpisode:
		patterns = episodePatterns
	default:
		return title, ""
	}

	for _, re := range patterns {
		loc := re.FindStringSubmatchIndex(title)
		if loc == nil {
			continue
		}

		n, err := strconv.Atoi(title[loc[2]:loc[3]])
		if err != nil {
			continue
		}

		work := title[:loc[0]] + " " + title[loc[1]:]
		work = strings.Join(strings.Fields(work), " ")
		work = strings.Trim(work, titleSeparators)
		if work == "" {
			return title, strconv.Itoa(n)
		}
		return CleanTitle(work), strconv.Itoa(n)
	}

	return title, ""
}
