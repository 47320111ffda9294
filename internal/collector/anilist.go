// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/taibuivan/releasewatch/internal/platform/apperr"
	"github.com/taibuivan/releasewatch/internal/platform/constants"
	"github.com/taibuivan/releasewatch/internal/platform/ctxutil"
	"github.com/taibuivan/releasewatch/internal/platform/httpclient"
	"github.com/taibuivan/releasewatch/internal/ratelimit"
)

const seasonQuery = `query ($page: Int, $perPage: Int, $season: MediaSeason, $seasonYear: Int) {
  Page(page: $page, perPage: $perPage) {
    pageInfo { hasNextPage }
    media(season: $season, seasonYear: $seasonYear, type: ANIME) {
      id
      title { romaji english native }
      genres
      tags { name }
      description
      siteUrl
      isAdult
      nextAiringEpisode { episode airingAt }
      airingSchedule(notYetAired: true) { nodes { episode airingAt } }
      externalLinks { site url type }
    }
  }
}`

// AniListConfig tunes an [AniListCollector].
type AniListConfig struct {
	Endpoint  string
	PageSize  int
	RetryBase time.Duration // First backoff delay; doubles per retry
	Window    time.Duration // Penalty applied on 429 when no Retry-After is longer; zero uses the limiter's window
}

// AniListCollector pages through one season of the AniList GraphQL API.
//
// # Concurrency
//
// Pages are fetched sequentially. The limiter may be shared with other
// collectors or replicas calling the same upstream.
type AniListCollector struct {
	client  *http.Client
	limiter ratelimit.Limiter
	cfg     AniListConfig
}

// NewAniListCollector creates a collector. The limiter must be the single
// instance shared by every caller of the endpoint.
func NewAniListCollector(client *http.Client, limiter ratelimit.Limiter, cfg AniListConfig) *AniListCollector {
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = constants.DefaultRetryBase
	}
	if w, ok := limiter.(ratelimit.Windowed); ok && cfg.Window <= 0 {
		cfg.Window = w.Window()
	}
	return &AniListCollector{client: client, limiter: limiter, cfg: cfg}
}

// # Wire Types

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

type airing struct {
	Episode  int   `json:"episode"`
	AiringAt int64 `json:"airingAt"`
}

type mediaNode struct {
	ID    int `json:"id"`
	Title struct {
		Romaji  string `json:"romaji"`
		English string `json:"english"`
		Native  string `json:"native"`
	} `json:"title"`
	Genres []string `json:"genres"`
	Tags   []struct {
		Name string `json:"name"`
	} `json:"tags"`
	Description       string  `json:"description"`
	SiteURL           string  `json:"siteUrl"`
	IsAdult           bool    `json:"isAdult"`
	NextAiringEpisode *airing `json:"nextAiringEpisode"`
	AiringSchedule    struct {
		Nodes []airing `json:"nodes"`
	} `json:"airingSchedule"`
	ExternalLinks []struct {
		Site string `json:"site"`
		URL  string `json:"url"`
		Type string `json:"type"`
	} `json:"externalLinks"`
}

type pageResponse struct {
	Data struct {
		Page struct {
			PageInfo struct {
				HasNextPage bool `json:"hasNextPage"`
			} `json:"pageInfo"`
			Media []mediaNode `json:"media"`
		} `json:"Page"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// # Collection

// Collect returns a lazy sequence of raw records for season.
//
// The sequence yields at most one error, as its last element. It is not
// restartable: ranging over it again re-fetches from page 1.
func (c *AniListCollector) Collect(ctx context.Context, season Season) iter.Seq2[RawRecord, error] {
	return func(yield func(RawRecord, error) bool) {
		logger := ctxutil.GetLogger(ctx)

		for page := 1; ; page++ {
			result, err := c.fetchPage(ctx, season, page)
			if err != nil {
				yield(RawRecord{}, err)
				return
			}

			media := result.Data.Page.Media
			logger.Debug("page_fetched",
				slog.Int("page", page),
				slog.Int("media", len(media)),
				slog.Bool("has_next", result.Data.Page.PageInfo.HasNextPage),
			)

			for i := range media {
				for _, record := range expandAirings(&media[i]) {
					if !yield(record, nil) {
						return
					}
				}
			}

			if !result.Data.Page.PageInfo.HasNextPage || len(media) < c.cfg.PageSize {
				return
			}
		}
	}
}

// fetchPage fetches one page, retrying transient failures with exponential
// backoff. 429 responses penalize the limiter and do not consume retries.
func (c *AniListCollector) fetchPage(ctx context.Context, season Season, page int) (*pageResponse, error) {
	logger := ctxutil.GetLogger(ctx)

	payload, err := json.Marshal(graphQLRequest{
		Query: seasonQuery,
		Variables: map[string]any{
			"page":       page,
			"perPage":    c.cfg.PageSize,
			"season":     season.Name,
			"seasonYear": season.Year,
		},
	})
	if err != nil {
		return nil, apperr.Collection("encode query", err)
	}

	var result *pageResponse
	operation := func() error {
		for {
			if err := c.limiter.Acquire(ctx); err != nil {
				return backoff.Permanent(err)
			}

			status, header, body, err := c.post(ctx, payload)
			if err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				return err
			}

			switch {
			case status == http.StatusTooManyRequests:
				penalty := c.penaltyFor(header)
				logger.Warn("anilist_rate_limited", slog.Int("page", page), slog.Duration("penalty", penalty))
				if err := c.penalize(ctx, penalty); err != nil {
					return backoff.Permanent(err)
				}
				continue
			case status >= http.StatusInternalServerError:
				return fmt.Errorf("anilist: page %d: status %d", page, status)
			case status >= http.StatusBadRequest:
				return backoff.Permanent(apperr.Collection(
					fmt.Sprintf("anilist rejected page %d with status %d", page, status),
					errors.New(graphQLMessage(body)),
				))
			}

			var decoded pageResponse
			if err := json.Unmarshal(body, &decoded); err != nil {
				return backoff.Permanent(apperr.Collection(fmt.Sprintf("decode page %d", page), err))
			}
			if len(decoded.Errors) > 0 {
				return backoff.Permanent(apperr.Collection(
					fmt.Sprintf("anilist returned errors for page %d", page),
					errors.New(joinErrors(decoded.Errors)),
				))
			}

			result = &decoded
			return nil
		}
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("anilist_page_retry",
			slog.Int("page", page),
			slog.Duration("wait", wait),
			slog.Any("error", err),
		)
	}

	if err := backoff.RetryNotify(operation, c.newBackOff(ctx), notify); err != nil {
		if apperr.IsAppError(err) {
			return nil, err
		}
		return nil, apperr.Collection(fmt.Sprintf("page %d failed", page), err)
	}

	return result, nil
}

func (c *AniListCollector) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.RetryBase
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = c.cfg.RetryBase << constants.PageRetryAttempts
	exp.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(exp, constants.PageRetryAttempts), ctx)
}

func (c *AniListCollector) post(ctx context.Context, payload []byte) (int, http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, nil, backoff.Permanent(apperr.Collection("build request", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := httpclient.ReadBody(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}

	return resp.StatusCode, resp.Header, body, nil
}

// penaltyFor is one full window, or Retry-After when the upstream asks for longer.
func (c *AniListCollector) penaltyFor(header http.Header) time.Duration {
	penalty := c.cfg.Window
	if value := header.Get("Retry-After"); value != "" {
		if d, err := ratelimit.ParseRetryAfter(value, time.Now()); err == nil && d > penalty {
			penalty = d
		}
	}
	return penalty
}

// penalize blocks the shared limiter, or this caller alone when the limiter
// cannot be penalized.
func (c *AniListCollector) penalize(ctx context.Context, d time.Duration) error {
	if p, ok := c.limiter.(ratelimit.Penalizer); ok {
		return p.Penalize(ctx, d)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return apperr.RateLimitTimeout("anilist", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// # Record Expansion

// expandAirings emits one record per upcoming episode, deduplicated by number.
func expandAirings(m *mediaNode) []RawRecord {
	byEpisode := make(map[int]airing)
	if m.NextAiringEpisode != nil {
		byEpisode[m.NextAiringEpisode.Episode] = *m.NextAiringEpisode
	}
	for _, node := range m.AiringSchedule.Nodes {
		if _, ok := byEpisode[node.Episode]; !ok {
			byEpisode[node.Episode] = node
		}
	}

	episodes := make([]int, 0, len(byEpisode))
	for ep := range byEpisode {
		episodes = append(episodes, ep)
	}
	sort.Ints(episodes)

	tags := make([]string, 0, len(m.Tags))
	for _, tag := range m.Tags {
		tags = append(tags, tag.Name)
	}

	site := ""
	for _, link := range m.ExternalLinks {
		if strings.EqualFold(link.Type, "STREAMING") {
			site = link.Site
			break
		}
	}

	records := make([]RawRecord, 0, len(episodes))
	for _, ep := range episodes {
		records = append(records, RawRecord{
			Source: constants.SourceAniList,
			Media: &Media{
				ID:            m.ID,
				TitleRomaji:   m.Title.Romaji,
				TitleEnglish:  m.Title.English,
				TitleNative:   m.Title.Native,
				Genres:        m.Genres,
				Tags:          tags,
				Description:   m.Description,
				SiteURL:       m.SiteURL,
				IsAdult:       m.IsAdult,
				Episode:       ep,
				AiringAt:      time.Unix(byEpisode[ep].AiringAt, 0).UTC(),
				StreamingSite: site,
			},
		})
	}
	return records
}

func graphQLMessage(body []byte) string {
	var decoded pageResponse
	if err := json.Unmarshal(body, &decoded); err == nil && len(decoded.Errors) > 0 {
		return joinErrors(decoded.Errors)
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

func joinErrors(errs []graphQLError) string {
	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		messages = append(messages, e.Message)
	}
	return strings.Join(messages, "; ")
}
