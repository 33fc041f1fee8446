// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes the prometheus collectors recorded during a run.
// A one-shot CLI has no scrape endpoint, so the registry is written to a
// node_exporter textfile on exit when configured.
package metrics

import (
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "modelport"

// Registry bundles the collectors and the prometheus registry holding them.
type Registry struct {
	reg *prometheus.Registry

	runs              *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	processes         *prometheus.CounterVec
	processDuration   *prometheus.HistogramVec
	installOutcomes   *prometheus.CounterVec
	downloadBytes     prometheus.Counter
	persistLatency    *prometheus.HistogramVec
	persistEvictions  *prometheus.CounterVec
	persistEvictBytes *prometheus.CounterVec
	buildInfo         *prometheus.GaugeVec
}

// Default is the process-wide registry.
var Default = NewRegistry()

// NewRegistry builds a registry with every collector registered.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Acquisition runs by outcome.",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of orchestration stages.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 180, 600, 1800},
		}, []string{"stage", "outcome"}),
		processes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processes_total",
			Help:      "Child processes spawned, by program and result.",
		}, []string{"program", "result"}),
		processDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_duration_seconds",
			Help:      "Wall time of child processes.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 8),
		}, []string{"program"}),
		installOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "install_outcomes_total",
			Help:      "Dependency installation outcomes.",
		}, []string{"outcome"}),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Bytes of artifacts downloaded.",
		}),
		persistLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persistence_latency_seconds",
			Help:      "Run journal operation latency.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"operation", "outcome"}),
		persistEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_evictions_total",
			Help:      "Entries evicted to stay within the storage budget.",
		}, []string{"kind"}),
		persistEvictBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_evicted_bytes_total",
			Help:      "Payload bytes evicted to stay within the storage budget.",
		}, []string{"kind"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build metadata.",
		}, []string{"version"}),
	}
	r.reg.MustRegister(
		r.runs, r.stageDuration, r.processes, r.processDuration, r.installOutcomes,
		r.downloadBytes, r.persistLatency, r.persistEvictions, r.persistEvictBytes, r.buildInfo,
		collectors.NewGoCollector(),
	)
	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// WriteTextfile writes the registry in text exposition format to path.
func (r *Registry) WriteTextfile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// SetBuildInfo records the binary version.
func (r *Registry) SetBuildInfo(version string) {
	r.buildInfo.WithLabelValues(normalizeLabel(version)).Set(1)
}

// RecordRun counts a finished acquisition run.
func (r *Registry) RecordRun(outcome string) {
	r.runs.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveStage records a stage duration.
func (r *Registry) ObserveStage(stage, outcome string, d time.Duration) {
	r.stageDuration.WithLabelValues(normalizeLabel(stage), normalizeLabel(outcome)).Observe(d.Seconds())
}

// ObserveProcess records one child process.
func (r *Registry) ObserveProcess(program, result string, d time.Duration) {
	program = normalizeLabel(program)
	r.processes.WithLabelValues(program, normalizeLabel(result)).Inc()
	r.processDuration.WithLabelValues(program).Observe(d.Seconds())
}

// RecordInstall counts an installation outcome.
func (r *Registry) RecordInstall(outcome string) {
	r.installOutcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// AddDownloadBytes accumulates downloaded artifact size.
func (r *Registry) AddDownloadBytes(n int64) {
	if n > 0 {
		r.downloadBytes.Add(float64(n))
	}
}

// RecordPersistenceLatency records a journal operation.
func (r *Registry) RecordPersistenceLatency(operation, outcome string, d time.Duration) {
	r.persistLatency.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Observe(d.Seconds())
}

// RecordPersistenceEviction records an evicted entry.
func (r *Registry) RecordPersistenceEviction(kind string, bytes int64) {
	kind = normalizeLabel(kind)
	r.persistEvictions.WithLabelValues(kind).Inc()
	if bytes > 0 {
		r.persistEvictBytes.WithLabelValues(kind).Add(float64(bytes))
	}
}

func normalizeLabel(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "unknown"
	}
	return v
}
