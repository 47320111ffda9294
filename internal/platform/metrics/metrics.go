// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package metrics provides Prometheus metrics for one pipeline run.
//
// A batch job is not scraped. Each run registers its series in a private
// registry and pushes them to a Pushgateway when it finishes.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/taibuivan/releasewatch/internal/platform/constants"
)

const namespace = "releasewatch"

// Run holds the series recorded during one run.
type Run struct {
	Registry *prometheus.Registry

	// RecordsCollected tracks raw records by source
	RecordsCollected *prometheus.CounterVec

	// FeedFailures tracks feeds that contributed nothing
	FeedFailures prometheus.Counter

	// CandidatesRejected tracks candidates dropped by validation or the filter
	CandidatesRejected *prometheus.CounterVec

	// ReleasesPersisted tracks upserts by outcome (new, duplicate)
	ReleasesPersisted *prometheus.CounterVec

	// DispatchAttempts tracks delivery attempts by channel and resulting status
	DispatchAttempts *prometheus.CounterVec

	// UpstreamRequests tracks outbound HTTP calls by upstream, code and method
	UpstreamRequests *prometheus.CounterVec

	// RunDuration is the wall time of the run in seconds
	RunDuration prometheus.Gauge

	// LastSuccess is the unix time of the last run that reached Done
	LastSuccess prometheus.Gauge
}

// NewRun registers a fresh set of run series in a private registry.
func NewRun() *Run {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Run{
		Registry: reg,
		RecordsCollected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "collect",
				Name:      "records_total",
				Help:      "Raw records collected by source",
			},
			[]string{"source"},
		),
		FeedFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "collect",
				Name:      "feed_failures_total",
				Help:      "Feeds that failed to fetch or parse",
			},
		),
		CandidatesRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "filter",
				Name:      "rejected_total",
				Help:      "Candidates rejected before persistence by reason",
			},
			[]string{"reason"},
		),
		ReleasesPersisted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "releases_total",
				Help:      "Release upserts by outcome",
			},
			[]string{"outcome"},
		),
		DispatchAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "attempts_total",
				Help:      "Delivery attempts by channel and status",
			},
			[]string{"channel", "status"},
		),
		UpstreamRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http_client",
				Name:      "requests_total",
				Help:      "Outbound HTTP requests by upstream, status code and method",
			},
			[]string{"upstream", "code", "method"},
		),
		RunDuration: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "run",
				Name:      "duration_seconds",
				Help:      "Wall time of the last run in seconds",
			},
		),
		LastSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "run",
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful run",
			},
		),
	}
}

// Push sends every series to the Pushgateway at url, replacing the job's group.
func (r *Run) Push(ctx context.Context, url string) error {
	err := push.New(url, constants.AppName).
		Gatherer(r.Registry).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("metrics: push failed: %w", err)
	}
	return nil
}
