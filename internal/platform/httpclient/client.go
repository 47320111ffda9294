// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package httpclient builds the outbound HTTP clients used by the collectors.
//
// Every client counts its requests per upstream and status code, and callers
// read bodies through [ReadBody] so a misbehaving upstream cannot exhaust memory.
package httpclient

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taibuivan/releasewatch/internal/platform/constants"
)

// ErrBodyTooLarge is returned when a response exceeds the read limit.
var ErrBodyTooLarge = errors.New("httpclient: response body too large")

// New returns a client for one upstream.
//
// # Parameters
//   - upstream: Label value identifying the upstream in metrics (e.g. "anilist").
//   - timeout: Whole-request timeout; zero leaves timing to the caller's context.
//   - requests: Counter with "upstream", "code" and "method" labels, or nil.
func New(upstream string, timeout time.Duration, requests *prometheus.CounterVec) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 4

	var rt http.RoundTripper = transport
	if requests != nil {
		rt = promhttp.InstrumentRoundTripperCounter(
			requests.MustCurryWith(prometheus.Labels{"upstream": upstream}),
			rt,
		)
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: &userAgent{next: rt},
	}
}

// ReadBody reads at most [constants.MaxResponseBytes] from r.
func ReadBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, constants.MaxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("httpclient: read body: %w", err)
	}
	if len(body) > constants.MaxResponseBytes {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

// userAgent stamps the job's identity on every request.
type userAgent struct {
	next http.RoundTripper
}

func (u *userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", constants.AppName+"/"+constants.AppVersion)
	return u.next.RoundTrip(req)
}
