// Copyright 2026 The Bastion Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package metrics exposes Prometheus instrumentation for hook dispatch
// and security rule evaluation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	dispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_dispatches_total",
			Help: "Total number of hook dispatches by lifecycle type and aggregate action.",
		},
		[]string{"type", "action"},
	)

	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "bastion_dispatch_duration_seconds",
			Help: "Full dispatch duration by lifecycle type.",
			Buckets: []float64{
				0.0001, 0.0005, 0.001, 0.005, 0.01,
				0.05, 0.1, 0.5, 1, 5, 10,
			},
		},
		[]string{"type"},
	)

	hookDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "bastion_hook_duration_seconds",
			Help: "Individual handler invocation duration by lifecycle type.",
			Buckets: []float64{
				0.0001, 0.0005, 0.001, 0.005, 0.01,
				0.05, 0.1, 0.5, 1, 5, 10,
			},
		},
		[]string{"type"},
	)

	hookFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_hook_failures_total",
			Help: "Handler failures by lifecycle type and reason (error, timeout).",
		},
		[]string{"type", "reason"},
	)

	ruleEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_rule_evaluations_total",
			Help: "Security rule engine evaluations by aggregate action.",
		},
		[]string{"action"},
	)

	ruleEvalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "bastion_rule_eval_duration_seconds",
			Help: "Security rule evaluation duration in seconds.",
			Buckets: []float64{
				0.000001, 0.000005, 0.00001, 0.00005,
				0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1,
			},
		},
	)

	registeredHooks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bastion_registered_hooks",
			Help: "Currently registered hooks per lifecycle type.",
		},
		[]string{"type"},
	)

	registeredRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_registered_rules",
			Help: "Currently registered security rules.",
		},
	)

	registry = prometheus.NewRegistry()
)

func init() {
	registry.MustRegister(
		dispatchesTotal,
		dispatchDuration,
		hookDuration,
		hookFailuresTotal,
		ruleEvaluationsTotal,
		ruleEvalDuration,
		registeredHooks,
		registeredRules,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
}

// RecordDispatch records one completed dispatch.
func RecordDispatch(hookType, action string, duration time.Duration) {
	dispatchesTotal.With(prometheus.Labels{"type": hookType, "action": action}).Inc()
	dispatchDuration.With(prometheus.Labels{"type": hookType}).Observe(duration.Seconds())
}

// ObserveHookDuration records one handler invocation's duration.
func ObserveHookDuration(hookType string, duration time.Duration) {
	hookDuration.With(prometheus.Labels{"type": hookType}).Observe(duration.Seconds())
}

// RecordHookFailure records a handler error or timeout.
func RecordHookFailure(hookType, reason string) {
	hookFailuresTotal.With(prometheus.Labels{"type": hookType, "reason": reason}).Inc()
}

// RecordRuleEvaluation records one rule engine evaluation.
func RecordRuleEvaluation(action string, duration time.Duration) {
	ruleEvaluationsTotal.With(prometheus.Labels{"action": action}).Inc()
	ruleEvalDuration.Observe(duration.Seconds())
}

// SetRegisteredHooks sets the per-type registered hook gauge.
func SetRegisteredHooks(hookType string, n int) {
	registeredHooks.With(prometheus.Labels{"type": hookType}).Set(float64(n))
}

// SetRegisteredRules sets the registered rule gauge.
func SetRegisteredRules(n int) {
	registeredRules.Set(float64(n))
}

// Handler returns an HTTP handler for the /metrics endpoint. Bastion does
// not listen anywhere itself; hosts that want metrics mount this.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
