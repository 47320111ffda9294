// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package collector_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/releasewatch/internal/collector"
	"github.com/taibuivan/releasewatch/internal/platform/apperr"
	"github.com/taibuivan/releasewatch/internal/platform/httpclient"
	"github.com/taibuivan/releasewatch/internal/ratelimit"
)

var spring = collector.Season{Year: 2026, Name: collector.SeasonSpring}

// mediaJSON renders one media node airing the given episodes from a fixed start.
func mediaJSON(id int, episodes ...int) map[string]any {
	nodes := make([]map[string]any, 0, len(episodes))
	for _, ep := range episodes {
		nodes = append(nodes, map[string]any{"episode": ep, "airingAt": 1775000000 + ep*604800})
	}
	var next any
	if len(nodes) > 0 {
		next = nodes[0]
	}
	return map[string]any{
		"id":                id,
		"title":             map[string]any{"romaji": fmt.Sprintf("Show %d", id), "english": nil, "native": fmt.Sprintf("番組%d", id)},
		"genres":            []string{"Action"},
		"tags":              []map[string]any{{"name": "Shounen"}},
		"description":       "desc",
		"siteUrl":           fmt.Sprintf("https://anilist.co/anime/%d", id),
		"isAdult":           false,
		"nextAiringEpisode": next,
		"airingSchedule":    map[string]any{"nodes": nodes},
		"externalLinks": []map[string]any{
			{"site": "Official Site", "url": "https://example.com", "type": "INFO"},
			{"site": "Crunchyroll", "url": "https://crunchyroll.com/x", "type": "STREAMING"},
		},
	}
}

func pageJSON(hasNext bool, media ...map[string]any) []byte {
	if media == nil {
		media = []map[string]any{}
	}
	body, _ := json.Marshal(map[string]any{
		"data": map[string]any{
			"Page": map[string]any{
				"pageInfo": map[string]any{"hasNextPage": hasNext},
				"media":    media,
			},
		},
	})
	return body
}

// scriptedServer answers each request with the next scripted handler.
func scriptedServer(t *testing.T, steps ...http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		if n > len(steps) {
			t.Errorf("unexpected request %d", n)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		steps[n-1](w, r)
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func respond(status int, body []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}
}

func newAniList(endpoint string, pageSize int) *collector.AniListCollector {
	limiter := ratelimit.NewSlidingWindow("anilist", 1000, time.Millisecond)
	return collector.NewAniListCollector(http.DefaultClient, limiter, collector.AniListConfig{
		Endpoint:  endpoint,
		PageSize:  pageSize,
		RetryBase: time.Millisecond,
		Window:    time.Millisecond,
	})
}

func drain(t *testing.T, c *collector.AniListCollector) ([]collector.RawRecord, error) {
	t.Helper()
	var records []collector.RawRecord
	for record, err := range c.Collect(context.Background(), spring) {
		if err != nil {
			return records, err
		}
		records = append(records, record)
	}
	return records, nil
}

/*
TestAniList_StopsOnShortPage verifies paging ends when a page has fewer items than requested.
*/
func TestAniList_StopsOnShortPage(t *testing.T) {
	var pages []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Variables struct {
				Page       int    `json:"page"`
				PerPage    int    `json:"perPage"`
				Season     string `json:"season"`
				SeasonYear int    `json:"seasonYear"`
			} `json:"variables"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "SPRING", req.Variables.Season)
		assert.Equal(t, 2026, req.Variables.SeasonYear)
		assert.Equal(t, 2, req.Variables.PerPage)
		pages = append(pages, req.Variables.Page)

		switch req.Variables.Page {
		case 1:
			_, _ = w.Write(pageJSON(true, mediaJSON(1, 5), mediaJSON(2, 1)))
		default:
			// hasNextPage is true but the page is short.
			_, _ = w.Write(pageJSON(true, mediaJSON(3, 9)))
		}
	}))
	defer server.Close()

	records, err := drain(t, newAniList(server.URL, 2))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, pages)
	assert.Len(t, records, 3)
}

/*
TestAniList_StopsWhenNoNextPage verifies hasNextPage=false ends paging.
*/
func TestAniList_StopsWhenNoNextPage(t *testing.T) {
	server, calls := scriptedServer(t,
		respond(http.StatusOK, pageJSON(false, mediaJSON(1, 5), mediaJSON(2, 1))),
	)

	records, err := drain(t, newAniList(server.URL, 2))
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, int32(1), calls.Load())
}

/*
TestAniList_ExpandsAirings verifies one record per upcoming episode.
*/
func TestAniList_ExpandsAirings(t *testing.T) {
	server, _ := scriptedServer(t,
		respond(http.StatusOK, pageJSON(false, mediaJSON(7, 5, 6, 7))),
	)

	records, err := drain(t, newAniList(server.URL, 50))
	require.NoError(t, err)
	require.Len(t, records, 3)

	first := records[0]
	assert.Equal(t, "anilist", first.Source)
	require.NotNil(t, first.Media)
	assert.Nil(t, first.Item)
	assert.Equal(t, 5, first.Media.Episode)
	assert.Equal(t, "番組7", first.Media.TitleNative)
	assert.Equal(t, "Crunchyroll", first.Media.StreamingSite)
	assert.Equal(t, []string{"Shounen"}, first.Media.Tags)
	assert.Equal(t, time.Unix(1775000000+5*604800, 0).UTC(), first.Media.AiringAt)
	assert.Equal(t, 7, records[2].Media.Episode)
}

/*
TestAniList_RetriesServerErrors verifies 5xx responses are retried and then succeed.
*/
func TestAniList_RetriesServerErrors(t *testing.T) {
	server, calls := scriptedServer(t,
		respond(http.StatusBadGateway, nil),
		respond(http.StatusServiceUnavailable, nil),
		respond(http.StatusOK, pageJSON(false, mediaJSON(1, 1))),
	)

	records, err := drain(t, newAniList(server.URL, 50))
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int32(3), calls.Load())
}

/*
TestAniList_GivesUpAfterThreeRetries verifies persistent 5xx aborts with a collection error.
*/
func TestAniList_GivesUpAfterThreeRetries(t *testing.T) {
	server, calls := scriptedServer(t,
		respond(http.StatusInternalServerError, nil),
		respond(http.StatusInternalServerError, nil),
		respond(http.StatusInternalServerError, nil),
		respond(http.StatusInternalServerError, nil),
	)

	_, err := drain(t, newAniList(server.URL, 50))
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeCollection))
	assert.True(t, apperr.IsFatal(err))
	assert.Equal(t, int32(4), calls.Load())
}

/*
TestAniList_ClientErrorIsFatal verifies 4xx aborts without retrying.
*/
func TestAniList_ClientErrorIsFatal(t *testing.T) {
	server, calls := scriptedServer(t,
		respond(http.StatusBadRequest, []byte(`{"errors":[{"message":"Validation error","status":400}]}`)),
	)

	_, err := drain(t, newAniList(server.URL, 50))
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeCollection))
	assert.Contains(t, err.Error(), "Validation error")
	assert.Equal(t, int32(1), calls.Load())
}

/*
TestAniList_GraphQLErrorsAreFatal verifies an errors array in a 200 response aborts.
*/
func TestAniList_GraphQLErrorsAreFatal(t *testing.T) {
	server, calls := scriptedServer(t,
		respond(http.StatusOK, []byte(`{"data":null,"errors":[{"message":"Unknown argument"}]}`)),
	)

	_, err := drain(t, newAniList(server.URL, 50))
	assert.True(t, apperr.HasCode(err, apperr.CodeCollection))
	assert.Equal(t, int32(1), calls.Load())
}

/*
TestAniList_TooManyRequestsNotCounted verifies 429 responses do not consume the retry budget.
*/
func TestAniList_TooManyRequestsNotCounted(t *testing.T) {
	server, calls := scriptedServer(t,
		respond(http.StatusTooManyRequests, nil),
		respond(http.StatusTooManyRequests, nil),
		respond(http.StatusTooManyRequests, nil),
		respond(http.StatusInternalServerError, nil),
		respond(http.StatusTooManyRequests, nil),
		respond(http.StatusInternalServerError, nil),
		respond(http.StatusInternalServerError, nil),
		respond(http.StatusOK, pageJSON(false, mediaJSON(1, 1))),
	)

	records, err := drain(t, newAniList(server.URL, 50))
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int32(8), calls.Load())
}

// windowLimiter never delays and records every penalty it is given.
type windowLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	penalties []time.Duration
}

func (l *windowLimiter) Acquire(context.Context) error { return nil }

func (l *windowLimiter) Penalize(_ context.Context, d time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.penalties = append(l.penalties, d)
	return nil
}

func (l *windowLimiter) Window() time.Duration { return l.window }

/*
TestAniList_PenaltyFromLimiterWindow verifies a 429 without a configured window
penalizes for the limiter's own window, or Retry-After when that is longer.
*/
func TestAniList_PenaltyFromLimiterWindow(t *testing.T) {
	server, calls := scriptedServer(t,
		respond(http.StatusTooManyRequests, nil),
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
		},
		respond(http.StatusOK, pageJSON(false, mediaJSON(1, 1))),
	)

	limiter := &windowLimiter{window: 90 * time.Millisecond}
	c := collector.NewAniListCollector(http.DefaultClient, limiter, collector.AniListConfig{
		Endpoint:  server.URL,
		PageSize:  50,
		RetryBase: time.Millisecond,
	})

	records, err := drain(t, c)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{90 * time.Millisecond, 2 * time.Second}, limiter.penalties)
}

/*
TestAniList_RetriesHungRequest verifies a request cut off by the client timeout
is retried like any other transient failure.
*/
func TestAniList_RetriesHungRequest(t *testing.T) {
	server, calls := scriptedServer(t,
		func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		},
		respond(http.StatusOK, pageJSON(false, mediaJSON(1, 1))),
	)

	c := collector.NewAniListCollector(httpclient.New("anilist", 50*time.Millisecond, nil),
		ratelimit.NewSlidingWindow("anilist", 1000, time.Millisecond),
		collector.AniListConfig{Endpoint: server.URL, PageSize: 50, RetryBase: time.Millisecond},
	)

	records, err := drain(t, c)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int32(2), calls.Load())
}

/*
TestAniList_Lazy verifies that stopping iteration stops fetching.
*/
func TestAniList_Lazy(t *testing.T) {
	server, calls := scriptedServer(t,
		respond(http.StatusOK, pageJSON(true, mediaJSON(1, 1), mediaJSON(2, 1))),
	)

	c := newAniList(server.URL, 2)
	for _, err := range c.Collect(context.Background(), spring) {
		require.NoError(t, err)
		break
	}
	assert.Equal(t, int32(1), calls.Load())
}

/*
TestSeasonFor maps months to broadcast seasons.
*/
func TestSeasonFor(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	tests := []struct {
		at   time.Time
		want collector.Season
	}{
		{time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), collector.Season{Year: 2026, Name: "WINTER"}},
		{time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), collector.Season{Year: 2026, Name: "SPRING"}},
		{time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC), collector.Season{Year: 2026, Name: "SUMMER"}},
		{time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC), collector.Season{Year: 2026, Name: "SPRING"}},
		{time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC), collector.Season{Year: 2026, Name: "SUMMER"}},
		{time.Date(2026, 9, 1, 3, 0, 0, 0, time.UTC), collector.Season{Year: 2026, Name: "FALL"}},
		{time.Date(2026, 11, 30, 3, 0, 0, 0, time.UTC), collector.Season{Year: 2026, Name: "FALL"}},
		{time.Date(2026, 12, 1, 3, 0, 0, 0, time.UTC), collector.Season{Year: 2027, Name: "WINTER"}},
		// 2026-11-30 20:00 UTC is already December in Tokyo.
		{time.Date(2026, 11, 30, 20, 0, 0, 0, time.UTC), collector.Season{Year: 2027, Name: "WINTER"}},
		{time.Date(2026, 2, 28, 3, 0, 0, 0, time.UTC), collector.Season{Year: 2026, Name: "WINTER"}},
	}

	for _, tt := range tests {
		t.Run(tt.at.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, collector.SeasonFor(tt.at, tokyo))
		})
	}

	override := collector.ResolveSeason(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), tokyo, "fall", 2025)
	assert.Equal(t, collector.Season{Year: 2025, Name: "FALL"}, override)
}
