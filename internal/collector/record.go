// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package collector fetches raw release records from external sources.

Two sources feed the pipeline:

  - AniListCollector pages through one season of the AniList GraphQL API under a
    shared rate limiter. Any non-retryable failure aborts the run.
  - FeedCollector fetches every configured RSS/Atom feed concurrently. A broken
    feed is logged and skipped.

Collectors never interpret records. They hand source-shaped [RawRecord] values to
the normalizer.
*/
package collector

import "time"

// RawRecord is one source-shaped observation. Exactly one of Media or Item is set.
type RawRecord struct {
	Source string
	Media  *Media
	Item   *FeedItem
}

// Media is one scheduled airing of an AniList media entry.
type Media struct {
	ID            int
	TitleRomaji   string
	TitleEnglish  string
	TitleNative   string
	Genres        []string
	Tags          []string
	Description   string
	SiteURL       string
	IsAdult       bool
	Episode       int
	AiringAt      time.Time
	StreamingSite string // First streaming external link, if any
}

// FeedItem is one entry of an RSS or Atom feed.
type FeedItem struct {
	FeedName    string
	Category    string // anime or manga, from the feed descriptor
	Platform    string
	Title       string
	Link        string
	Description string
	Categories  []string
	Published   *time.Time
}
