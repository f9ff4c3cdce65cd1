// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics exposes the checkpoint engine's Prometheus collectors:
// budget pressure, degraded-mode flags, and lifetime checkpoint counts,
// each labeled by entity id.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	BudgetPressurePercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "checkpointd_budget_pressure_percent",
			Help: "Storage usage as a percent of the configured retention budget, per entity.",
		},
		[]string{"entity"},
	)

	Degraded = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "checkpointd_degraded",
			Help: "1 if the entity's façade has entered degraded mode, 0 otherwise.",
		},
		[]string{"entity"},
	)

	CheckpointsPersistedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkpointd_checkpoints_persisted_total",
			Help: "Total number of checkpoints successfully persisted, per entity.",
		},
		[]string{"entity"},
	)

	CheckpointFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkpointd_checkpoint_failures_total",
			Help: "Total number of checkpoint attempts that failed, per entity.",
		},
		[]string{"entity"},
	)

	collectors = []prometheus.Collector{
		BudgetPressurePercent,
		Degraded,
		CheckpointsPersistedTotal,
		CheckpointFailuresTotal,
	}

	registerOnce sync.Once
)

// Register registers every collector with the default Prometheus
// registry. It is idempotent; calling it more than once is a no-op after
// the first call.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(collectors...)
	})
}
