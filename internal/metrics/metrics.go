// Package metrics provides Prometheus metrics for the decision engine.
package metrics

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics collects and exposes engine Prometheus metrics.
type EngineMetrics struct {
	registry *prometheus.Registry

	// Calibration
	CalibrationFits        *prometheus.CounterVec
	CalibrationCurves      *prometheus.CounterVec
	CalibrationActivations *prometheus.CounterVec

	// Tickets
	TicketsGenerated *prometheus.CounterVec
	TicketUDS        *prometheus.HistogramVec
	HardRejections   *prometheus.CounterVec
	Warnings         *prometheus.CounterVec

	// Thresholds
	ThresholdRuns  *prometheus.CounterVec
	ThresholdTheta *prometheus.GaugeVec
	ThresholdK     *prometheus.GaugeVec

	// Tasks and HTTP
	TaskRuns        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates a metrics collector on its own registry.
func New() *EngineMetrics {
	m := &EngineMetrics{
		registry: prometheus.NewRegistry(),

		CalibrationFits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jackpot_calibration_fits_total",
				Help: "Calibration fit runs by status",
			},
			[]string{"status"},
		),
		CalibrationCurves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jackpot_calibration_curves_total",
				Help: "Calibration curves created",
			},
			[]string{"outcome"},
		),
		CalibrationActivations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jackpot_calibration_activations_total",
				Help: "Calibration activations by status",
			},
			[]string{"status"},
		),
		TicketsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jackpot_tickets_generated_total",
				Help: "Tickets generated per probability set and decision",
			},
			[]string{"set", "accepted"},
		),
		TicketUDS: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jackpot_ticket_uds",
				Help:    "Unified decision score of finite-scored tickets",
				Buckets: []float64{-1, -0.5, -0.25, -0.1, -0.05, 0, 0.05, 0.1, 0.15, 0.25, 0.5, 1},
			},
			[]string{"set"},
		),
		HardRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jackpot_ticket_hard_contradictions_total",
				Help: "Tickets containing at least one hard contradiction",
			},
			[]string{"set"},
		),
		Warnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jackpot_generation_warnings_total",
				Help: "Diagnostic warnings emitted by ticket generation",
			},
			[]string{},
		),
		ThresholdRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jackpot_threshold_runs_total",
				Help: "Threshold learning runs by status",
			},
			[]string{"status"},
		),
		ThresholdTheta: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "jackpot_threshold_theta",
				Help: "Current acceptance threshold per profile",
			},
			[]string{"profile"},
		),
		ThresholdK: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "jackpot_threshold_k",
				Help: "Current tolerated contradiction count per profile",
			},
			[]string{"profile"},
		),
		TaskRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jackpot_tasks_total",
				Help: "Background tasks by kind and final state",
			},
			[]string{"kind", "state"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jackpot_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
			[]string{"route", "code"},
		),
	}

	m.registry.MustRegister(
		m.CalibrationFits,
		m.CalibrationCurves,
		m.CalibrationActivations,
		m.TicketsGenerated,
		m.TicketUDS,
		m.HardRejections,
		m.Warnings,
		m.ThresholdRuns,
		m.ThresholdTheta,
		m.ThresholdK,
		m.TaskRuns,
		m.RequestDuration,
	)
	return m
}

// Registry returns the prometheus registry.
func (m *EngineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordFit records a calibration fit run.
func (m *EngineMetrics) RecordFit(status string, outcomes []string) {
	m.CalibrationFits.WithLabelValues(status).Inc()
	for _, o := range outcomes {
		m.CalibrationCurves.WithLabelValues(o).Inc()
	}
}

// RecordActivation records an activation attempt.
func (m *EngineMetrics) RecordActivation(status string) {
	m.CalibrationActivations.WithLabelValues(status).Inc()
}

// RecordTicket records one generated ticket.
func (m *EngineMetrics) RecordTicket(set string, uds float64, accepted bool) {
	label := "false"
	if accepted {
		label = "true"
	}
	m.TicketsGenerated.WithLabelValues(set, label).Inc()
	if math.IsInf(uds, -1) {
		m.HardRejections.WithLabelValues(set).Inc()
		return
	}
	if !math.IsNaN(uds) && !math.IsInf(uds, 0) {
		m.TicketUDS.WithLabelValues(set).Observe(uds)
	}
}

// RecordWarnings adds generation warnings.
func (m *EngineMetrics) RecordWarnings(n int) {
	m.Warnings.WithLabelValues().Add(float64(n))
}

// RecordThreshold records a learning run and, on success, the new values.
func (m *EngineMetrics) RecordThreshold(profile, status string, theta float64, k int) {
	m.ThresholdRuns.WithLabelValues(status).Inc()
	if status == "success" {
		m.ThresholdTheta.WithLabelValues(profile).Set(theta)
		m.ThresholdK.WithLabelValues(profile).Set(float64(k))
	}
}

// RecordTask records a finished background task.
func (m *EngineMetrics) RecordTask(kind, state string) {
	m.TaskRuns.WithLabelValues(kind, state).Inc()
}

// RecordRequest records an HTTP request.
func (m *EngineMetrics) RecordRequest(route, code string, durationSec float64) {
	m.RequestDuration.WithLabelValues(route, code).Observe(durationSec)
}
