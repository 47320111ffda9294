// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package collector

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/taibuivan/releasewatch/internal/platform/apperr"
	"github.com/taibuivan/releasewatch/internal/platform/config"
	"github.com/taibuivan/releasewatch/internal/platform/ctxutil"
	"github.com/taibuivan/releasewatch/internal/platform/httpclient"
	"github.com/taibuivan/releasewatch/pkg/slug"
)

// FeedFailure records one feed that was skipped.
type FeedFailure struct {
	Feed   string
	Source string
	Err    error
}

// FeedResult is the outcome of one concurrent fetch over every configured feed.
type FeedResult struct {
	Records  [][]RawRecord // Per feed, in descriptor order
	Failures []FeedFailure
}

// All yields every record, feed by feed in descriptor order.
func (r FeedResult) All() iter.Seq[RawRecord] {
	return func(yield func(RawRecord) bool) {
		for _, records := range r.Records {
			for _, record := range records {
				if !yield(record) {
					return
				}
			}
		}
	}
}

// FeedCollector fetches RSS and Atom feeds.
//
// # Failure Isolation
//
// A feed that times out, answers non-2xx or does not parse is logged and
// reported in [FeedResult.Failures]. It never affects the other feeds.
type FeedCollector struct {
	client  *http.Client
	timeout time.Duration
	workers int
}

// NewFeedCollector creates a collector running at most workers fetches at once,
// each bounded by timeout.
func NewFeedCollector(client *http.Client, timeout time.Duration, workers int) *FeedCollector {
	if workers <= 0 {
		workers = 1
	}
	return &FeedCollector{client: client, timeout: timeout, workers: workers}
}

// SourceKey is the source stamped on records of the named feed.
func SourceKey(feedName string) string {
	if key := slug.From(feedName); key != "" {
		return "feed:" + key
	}
	return "feed:unnamed"
}

// Collect fetches every feed concurrently and waits for all of them.
func (c *FeedCollector) Collect(ctx context.Context, feeds []config.FeedDescriptor) FeedResult {
	logger := ctxutil.GetLogger(ctx)

	records := make([][]RawRecord, len(feeds))
	failures := make([]error, len(feeds))

	var g errgroup.Group
	g.SetLimit(c.workers)

	for i, feed := range feeds {
		g.Go(func() error {
			items, err := c.fetch(ctx, feed)
			if err != nil {
				failures[i] = err
				logger.Warn("feed_failed",
					slog.String("feed", feed.Name),
					slog.String("url", feed.URL),
					slog.Any("error", err),
				)
				return nil
			}

			records[i] = items
			logger.Debug("feed_fetched", slog.String("feed", feed.Name), slog.Int("items", len(items)))
			return nil
		})
	}

	// Workers never return errors.
	_ = g.Wait()

	result := FeedResult{Records: records}
	for i, err := range failures {
		if err != nil {
			result.Failures = append(result.Failures, FeedFailure{
				Feed:   feeds[i].Name,
				Source: SourceKey(feeds[i].Name),
				Err:    err,
			})
		}
	}
	return result
}

func (c *FeedCollector) fetch(ctx context.Context, feed config.FeedDescriptor) ([]RawRecord, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, apperr.FeedFetch(feed.Name, err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperr.FeedFetch(feed.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.FeedFetch(feed.Name, fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := httpclient.ReadBody(resp.Body)
	if err != nil {
		return nil, apperr.FeedFetch(feed.Name, err)
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, apperr.FeedFetch(feed.Name, err)
	}

	source := SourceKey(feed.Name)
	records := make([]RawRecord, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		records = append(records, RawRecord{
			Source: source,
			Item: &FeedItem{
				FeedName:    feed.Name,
				Category:    feed.Category,
				Platform:    feed.Platform,
				Title:       item.Title,
				Link:        item.Link,
				Description: item.Description,
				Categories:  item.Categories,
				Published:   published(item),
			},
		})
	}
	return records, nil
}

func published(item *gofeed.Item) *time.Time {
	switch {
	case item.PublishedParsed != nil:
		return item.PublishedParsed
	case item.UpdatedParsed != nil:
		return item.UpdatedParsed
	}
	return nil
}
