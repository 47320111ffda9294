// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// FeedDescriptor describes one configured RSS/Atom feed.
//
// In the environment a descriptor is written as "name|category|url[|platform]",
// and several descriptors are separated by commas:
//
//	FEED_SOURCES="BookWalker|manga|https://example.com/rss,Crunchyroll|anime|https://example.com/atom|crunchyroll"
type FeedDescriptor struct {
	Name     string
	URL      string
	Category string
	Platform string
}

// UnmarshalText implements [encoding.TextUnmarshaler] for env parsing.
func (d *FeedDescriptor) UnmarshalText(text []byte) error {
	parts := strings.Split(strings.TrimSpace(string(text)), "|")
	if len(parts) < 3 || len(parts) > 4 {
		return fmt.Errorf("feed descriptor %q: want name|category|url[|platform]", text)
	}

	d.Name = strings.TrimSpace(parts[0])
	d.Category = strings.ToLower(strings.TrimSpace(parts[1]))
	d.URL = strings.TrimSpace(parts[2])
	d.Platform = ""
	if len(parts) == 4 {
		d.Platform = strings.TrimSpace(parts[3])
	}

	if d.Name == "" {
		return fmt.Errorf("feed descriptor %q: empty name", text)
	}
	if d.Category != "anime" && d.Category != "manga" {
		return fmt.Errorf("feed descriptor %q: category must be anime or manga", text)
	}
	if u, err := url.Parse(d.URL); err != nil || u.Host == "" {
		return fmt.Errorf("feed descriptor %q: invalid url", text)
	}
	return nil
}
