// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package taskmanager wires the checkpoint engine's two wall-clock-driven
// jobs onto a gocron scheduler: the retention sweep and the timer-driven
// checkpoint tick. The scheduler state machine in internal/scheduler
// itself never reads a clock; this package is where that clock gets
// applied.
package taskmanager

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/agentmesh/checkpointd/internal/checkpointapi"
	"github.com/agentmesh/checkpointd/internal/retention"
	"github.com/agentmesh/checkpointd/pkg/log"
	"github.com/agentmesh/checkpointd/pkg/schema"
)

// PayloadSource returns the current serialized payload for entityID, used
// by the timer-driven checkpoint tick. Entities with no pending work may
// return a nil payload; the tick skips such entities without running the
// scheduler decision, so a nil payload is never written.
type PayloadSource func(entityID string) []byte

// Manager owns the process-wide gocron scheduler and the registry of
// live façades it drives.
type Manager struct {
	mu       sync.Mutex
	s        gocron.Scheduler
	facades  map[string]*checkpointapi.Facade
	root     string
	keep     int
	active   func() map[string]bool
	payloads PayloadSource
}

// New creates a Manager. root is the store root the retention sweep
// operates on; keep is the checkpointsToKeep retention count; active
// returns the current set of live entity ids (for orphan sweeping);
// payloads supplies the current payload for the timer-driven tick.
func New(root string, keep int, active func() map[string]bool, payloads PayloadSource) (*Manager, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Manager{
		s:        s,
		facades:  make(map[string]*checkpointapi.Facade),
		root:     root,
		keep:     keep,
		active:   active,
		payloads: payloads,
	}, nil
}

// RegisterFacade adds entityID's façade to the set the timer-driven tick
// fans out to.
func (m *Manager) RegisterFacade(entityID string, f *checkpointapi.Facade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facades[entityID] = f
}

// UnregisterFacade removes entityID from the tick fan-out set, e.g. after
// a graceful shutdown has already persisted it.
func (m *Manager) UnregisterFacade(entityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.facades, entityID)
}

func parseDuration(s string) (time.Duration, error) {
	interval, err := time.ParseDuration(s)
	if err != nil {
		log.Warnf("taskmanager: could not parse duration %q: %v", s, err)
		return 0, err
	}
	return interval, nil
}

// Start registers and runs the retention-sweep and checkpoint-tick jobs
// per cfg, then starts the scheduler.
func (m *Manager) Start(cfg schema.RetentionScheduleConfig) error {
	sweep, err := parseDuration(cfg.SweepInterval)
	if err != nil {
		return err
	}
	tick, err := parseDuration(cfg.TickInterval)
	if err != nil {
		return err
	}

	if _, err := m.s.NewJob(gocron.DurationJob(sweep), gocron.NewTask(m.runRetentionSweep)); err != nil {
		return err
	}
	if _, err := m.s.NewJob(gocron.DurationJob(tick), gocron.NewTask(m.runCheckpointTick)); err != nil {
		return err
	}

	m.s.Start()
	return nil
}

// Shutdown stops the scheduler. It does not checkpoint any façade; the
// caller is expected to drive GracefulShutdown on every façade itself.
func (m *Manager) Shutdown() error {
	return m.s.Shutdown()
}

func (m *Manager) runRetentionSweep() {
	start := time.Now()
	log.Debugf("taskmanager: retention sweep started at %s", start.Format(time.RFC3339))

	unlock, err := retention.AcquireLock(m.root)
	if err != nil {
		log.Errorf("taskmanager: retention lock: %v", err)
		return
	}
	defer unlock()

	report, err := retention.EnforceRetentionCycle(m.root, m.active(), m.keep)
	if err != nil {
		log.Errorf("taskmanager: retention cycle: %v", err)
		return
	}

	log.Debugf("taskmanager: retention sweep done in %s: swept %d entities, deleted %d snapshots, reclaimed %d bytes",
		time.Since(start), len(report.EntitiesSwept), report.SnapshotsDeleted, report.BytesReclaimed)
}

func (m *Manager) runCheckpointTick() {
	m.mu.Lock()
	targets := make(map[string]*checkpointapi.Facade, len(m.facades))
	for id, f := range m.facades {
		targets[id] = f
	}
	m.mu.Unlock()

	ctx := context.Background()
	for entityID, f := range targets {
		payload := m.payloads(entityID)
		if payload == nil {
			continue
		}
		if _, err := f.MaybeCheckpointFromTimer(ctx, payload); err != nil {
			log.Errorf("taskmanager: timer checkpoint for %q: %v", entityID, err)
		}
	}
}
