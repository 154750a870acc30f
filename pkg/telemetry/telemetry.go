// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

// Package telemetry defines the internal metric set of the reflex engine.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine metric set. A Registerer is injected so that
// tests and embedders control exposition; reflex never starts an exporter
// on its own.
type Metrics struct {
	CyclesTotal    prometheus.Counter
	CycleOverruns  prometheus.Counter
	CycleDuration  prometheus.Histogram
	RulesFired     prometheus.Counter
	EvalErrors     prometheus.Counter
	FlushFailures  prometheus.Counter
	SkippedWrites  prometheus.Counter
	WritesFlushed  prometheus.Counter
	MessagesSent   prometheus.Counter
	Active         prometheus.Gauge
	StoreRetries   prometheus.Counter
	MalformedReads prometheus.Counter
}

// New builds the metric set registered against reg. A nil reg yields
// unregistered metrics, which is what unit tests want.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		CyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "reflex_cycles_total",
			Help: "Number of evaluation cycles completed.",
		}),
		CycleOverruns: factory.NewCounter(prometheus.CounterOpts{
			Name: "reflex_cycle_overruns_total",
			Help: "Number of cycles whose evaluation exceeded the cycle period.",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reflex_cycle_duration_seconds",
			Help:    "Wall time of one evaluation cycle.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		RulesFired: factory.NewCounter(prometheus.CounterOpts{
			Name: "reflex_rules_fired_total",
			Help: "Number of rules whose conditions evaluated true.",
		}),
		EvalErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "reflex_eval_errors_total",
			Help: "Number of rule evaluations degraded to false (missing keys, NaN).",
		}),
		FlushFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "reflex_flush_failures_total",
			Help: "Number of cycles whose output batch failed to flush.",
		}),
		SkippedWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "reflex_writes_skipped_total",
			Help: "Number of writes dropped for unresolved or non-finite values.",
		}),
		WritesFlushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "reflex_writes_flushed_total",
			Help: "Number of key writes flushed to the store.",
		}),
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "reflex_messages_sent_total",
			Help: "Number of send_message actions published.",
		}),
		Active: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reflex_active",
			Help: "1 when this engine instance is the active one, 0 otherwise.",
		}),
		StoreRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "reflex_store_retries_total",
			Help: "Number of retried store operations.",
		}),
		MalformedReads: factory.NewCounter(prometheus.CounterOpts{
			Name: "reflex_store_malformed_reads_total",
			Help: "Number of store records skipped because they could not be parsed.",
		}),
	}
}
