// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conflict

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Conflict Detection
// =============================================================================

var (
	// conflictsDetected counts classified conflicts.
	// Labels: kind, severity
	conflictsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "changeguard",
		Subsystem: "conflict",
		Name:      "detected_total",
		Help:      "Total conflicts detected by kind and severity",
	}, []string{"kind", "severity"})

	// conflictsResolved counts resolution attempts.
	// Labels: strategy, outcome (auto, error, manual, deferred)
	conflictsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "changeguard",
		Subsystem: "conflict",
		Name:      "resolved_total",
		Help:      "Total conflict resolution attempts by strategy and outcome",
	}, []string{"strategy", "outcome"})

	// detectionLatency measures one DetectAndResolve call.
	detectionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "changeguard",
		Subsystem: "conflict",
		Name:      "detection_duration_seconds",
		Help:      "Conflict detection and resolution latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})
)
