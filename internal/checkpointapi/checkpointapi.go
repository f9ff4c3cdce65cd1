// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package checkpointapi is the agent checkpoint façade: the single public
// entry point an embedding caller uses to persist and recover one entity's
// task-list state. It owns the scheduler, the mutation counter, and the
// monotonic now-source; callers obtain a backend only through the
// constructor functions wired at startup in cmd/checkpointd, never by
// reaching into pkg/backend's concrete implementations directly.
package checkpointapi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentmesh/checkpointd/internal/recovery"
	"github.com/agentmesh/checkpointd/internal/retention"
	"github.com/agentmesh/checkpointd/internal/scheduler"
	"github.com/agentmesh/checkpointd/pkg/backend"
	"github.com/agentmesh/checkpointd/pkg/budget"
	"github.com/agentmesh/checkpointd/pkg/envelope"
	"github.com/agentmesh/checkpointd/pkg/log"
	"github.com/agentmesh/checkpointd/pkg/metrics"
	"github.com/agentmesh/checkpointd/pkg/schema"
)

// AutomaticCheckpointOutcome is the result of a scheduler-driven
// checkpoint attempt (mutation-triggered or timer-triggered).
type AutomaticCheckpointOutcome string

const (
	AutomaticPersisted AutomaticCheckpointOutcome = "persisted"
	AutomaticNotDue     AutomaticCheckpointOutcome = "not_due"
	AutomaticDebounced  AutomaticCheckpointOutcome = "debounced"
)

// ExplicitCheckpointOutcome is the result of a caller-requested checkpoint.
type ExplicitCheckpointOutcome string

const (
	ExplicitPersisted ExplicitCheckpointOutcome = "persisted"
	ExplicitNoopClean ExplicitCheckpointOutcome = "noop_clean"
	ExplicitDebounced ExplicitCheckpointOutcome = "debounced"
)

// GracefulShutdownResult is the result of GracefulShutdown.
type GracefulShutdownResult string

const (
	ShutdownCheckpointPersisted    GracefulShutdownResult = "checkpoint_persisted"
	ShutdownNoCheckpointNeeded     GracefulShutdownResult = "no_checkpoint_needed"
	ShutdownContinuedInDegradedMode GracefulShutdownResult = "continued_in_degraded_mode"
)

// PersistenceMode mirrors the configured strict/degraded failure posture
// in the observability contract.
type PersistenceMode string

const (
	PersistenceModeStrict   PersistenceMode = "strict"
	PersistenceModeDegraded PersistenceMode = "degraded"
)

// ErrorDetail is the structured form of a façade-surfaced error: a stable
// code an embedder can branch on, a human-readable message, and an
// optional hint for how to resolve it.
type ErrorDetail struct {
	Code        string
	Message     string
	Remediation string
}

// coder is implemented by every sentinel error type across pkg/policy,
// pkg/manifest, pkg/migration, pkg/envelope and pkg/backend that carries
// one of the observability contract's stable error-code strings.
type coder interface {
	Code() string
}

// remediationFor maps a stable error code to operator guidance.
func remediationFor(code string) string {
	switch code {
	case "persistence_not_initialized":
		return "initialize the store or set strict_initialization.initialize_if_missing"
	case "unsupported_schema_version":
		return "run the schema migrator or upgrade the reading process"
	case "unsupported_legacy_encrypted_artifact":
		return "migrate the legacy artifact out of band before retrying startup"
	case "snapshot_decode_error":
		return "the snapshot is corrupt; restore from an earlier retained checkpoint"
	case "backend_error":
		return "check backend connectivity and storage health"
	default:
		return ""
	}
}

// errorDetail classifies err into the observability contract's structured
// error shape. Errors with no registered Code() still surface a message
// under the generic backend_error code, since every persist/shutdown
// failure this façade sees originates from a backend call.
func errorDetail(err error) *ErrorDetail {
	if err == nil {
		return nil
	}
	code := "backend_error"
	var c coder
	if errors.As(err, &c) {
		code = c.Code()
	}
	return &ErrorDetail{Code: code, Message: err.Error(), Remediation: remediationFor(code)}
}

// Health is a point-in-time snapshot of the façade's operating condition,
// matching the observability contract's stable field set.
type Health struct {
	Mode                PersistenceMode
	State               string
	Degraded            bool
	LastRecoveryOutcome string
	LastError           *ErrorDetail
	BudgetPressure      string
}

// PersistenceObservabilityContract is returned by ObservabilityContract.
type PersistenceObservabilityContract struct {
	Health Health
}

// Facade is the single-owner persistence controller for one entity.
// Every exported method except LoadLatest holds the façade's mutex for its
// whole duration, so calls from several goroutines are serialized; the
// embedding caller is expected to serialize calls per entity, matching the
// single-threaded cooperative scheduling model this package assumes.
type Facade struct {
	mu sync.Mutex

	backend        backend.Backend
	sched          *scheduler.Scheduler
	entityID       string
	policy         schema.PersistencePolicy
	start          time.Time
	health         Health
	totalMutations uint64
}

// New constructs a façade for entityID, backed by b, governed by policy.
// rec is the outcome of the startup recovery that produced this entity's
// initial in-memory state; it seeds the health snapshot's mode,
// last_recovery_outcome and initial degraded flag.
func New(b backend.Backend, policy schema.PersistencePolicy, entityID string, rec recovery.Recovery) *Facade {
	mode := PersistenceModeStrict
	if policy.Mode == schema.ModeDegraded {
		mode = PersistenceModeDegraded
	}

	f := &Facade{
		backend: b,
		sched: scheduler.New(scheduler.Policy{
			MutationThreshold: policy.Checkpoint.MutationThreshold,
			DirtyTimeFloor:    policy.Checkpoint.DirtyTimeFloor,
			DebounceFloor:     policy.Checkpoint.DebounceFloor,
		}),
		entityID: entityID,
		policy:   policy,
		start:    time.Now(),
	}
	f.health.Mode = mode
	f.health.LastRecoveryOutcome = string(rec.Outcome)
	f.health.Degraded = rec.Degraded
	f.health.State = f.stateLocked()
	return f
}

func (f *Facade) now() time.Duration {
	return time.Since(f.start)
}

func (f *Facade) degraded() bool {
	return f.policy.Mode == schema.ModeDegraded
}

// stateLocked renders the scheduler's dirty/clean condition as the
// observability contract's textual state field. Callers must hold f.mu,
// except during New where the façade is not yet shared.
func (f *Facade) stateLocked() string {
	if f.sched.Dirty() {
		return "dirty"
	}
	return "clean"
}

// persist writes payload through the configured backend under the
// envelope format and marks the scheduler clean on success.
func (f *Facade) persist(ctx context.Context, payload []byte) error {
	buf := envelope.Encode(f.entityID, f.totalMutations, payload)
	if _, err := f.backend.Checkpoint(ctx, f.entityID, buf); err != nil {
		f.health.LastError = errorDetail(err)
		metrics.CheckpointFailuresTotal.WithLabelValues(f.entityID).Inc()
		return err
	}
	f.sched.MarkCheckpoint(f.now())
	f.health.LastError = nil
	f.health.Degraded = false
	f.health.State = f.stateLocked()
	metrics.CheckpointsPersistedTotal.WithLabelValues(f.entityID).Inc()
	return nil
}

// RecordMutationAndMaybeCheckpoint registers a mutation and, if the
// scheduler decides it is due, persists payload.
func (f *Facade) RecordMutationAndMaybeCheckpoint(ctx context.Context, payload []byte) (AutomaticCheckpointOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	f.sched.RecordMutation(now)
	if f.totalMutations < ^uint64(0) {
		f.totalMutations++
	}
	f.health.State = f.stateLocked()
	action := f.sched.ActionAfterMutation(now)
	return f.applyAutomaticAction(ctx, action, payload)
}

// MaybeCheckpointFromTimer decides and, if due, persists payload on a
// periodic timer tick. It does not register a mutation.
func (f *Facade) MaybeCheckpointFromTimer(ctx context.Context, payload []byte) (AutomaticCheckpointOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	action := f.sched.ActionOnTimer(f.now())
	return f.applyAutomaticAction(ctx, action, payload)
}

func (f *Facade) applyAutomaticAction(ctx context.Context, action scheduler.Action, payload []byte) (AutomaticCheckpointOutcome, error) {
	switch action.Kind {
	case scheduler.Persist:
		if err := f.persist(ctx, payload); err != nil {
			if f.degraded() {
				f.health.Degraded = true
				log.Warnf("checkpointapi: checkpoint failed for %q, continuing in degraded mode: %v", f.entityID, err)
				return AutomaticNotDue, nil
			}
			return AutomaticNotDue, err
		}
		return AutomaticPersisted, nil
	case scheduler.SkipDebounced:
		return AutomaticDebounced, nil
	default: // SkipClean, SkipPolicy
		return AutomaticNotDue, nil
	}
}

// RequestExplicitCheckpoint persists payload immediately, bypassing the
// mutation threshold and dirty-time floor; only cleanliness and debounce
// can still block it.
func (f *Facade) RequestExplicitCheckpoint(ctx context.Context, payload []byte) (ExplicitCheckpointOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	action := f.sched.ActionOnExplicitRequest(f.now())
	switch action.Kind {
	case scheduler.Persist:
		if err := f.persist(ctx, payload); err != nil {
			if f.degraded() {
				f.health.Degraded = true
				log.Warnf("checkpointapi: explicit checkpoint failed for %q, continuing in degraded mode: %v", f.entityID, err)
				return ExplicitNoopClean, nil
			}
			return ExplicitNoopClean, err
		}
		return ExplicitPersisted, nil
	case scheduler.SkipDebounced:
		return ExplicitDebounced, nil
	default: // SkipClean, SkipPolicy
		return ExplicitNoopClean, nil
	}
}

// GracefulShutdown bypasses debounce and policy floors entirely and
// persists whenever the façade is dirty. Under Degraded mode, a backend
// failure does not propagate: the façade reports
// ShutdownContinuedInDegradedMode and the operator accepts the possible
// loss of the unpersisted tail. Under Strict mode the error propagates.
func (f *Facade) GracefulShutdown(ctx context.Context, payload []byte) (GracefulShutdownResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.sched.Dirty() {
		return ShutdownNoCheckpointNeeded, nil
	}

	if err := f.persist(ctx, payload); err != nil {
		if f.degraded() {
			f.health.Degraded = true
			log.Warnf("checkpointapi: graceful shutdown checkpoint failed for %q, continuing in degraded mode: %v", f.entityID, err)
			return ShutdownContinuedInDegradedMode, nil
		}
		return ShutdownNoCheckpointNeeded, fmt.Errorf("checkpointapi: graceful shutdown checkpoint failed for %q: %w", f.entityID, err)
	}

	return ShutdownCheckpointPersisted, nil
}

// LoadLatest passes through to the backend for reload-after-mutation
// flows; it does not affect scheduler state.
func (f *Facade) LoadLatest(ctx context.Context) ([]byte, error) {
	return f.backend.LoadLatest(ctx, f.entityID)
}

// RefreshBudgetHealth evaluates storage usage against the retention
// policy and records the decision in the façade's health snapshot. The
// caller is expected to invoke this from the retention sweep cadence
// rather than on every checkpoint, since it walks the store root.
func (f *Facade) RefreshBudgetHealth(root string) error {
	used, err := retention.StorageUsageBytes(root)
	if err != nil {
		return err
	}

	mode := budget.Strict
	if f.degraded() {
		mode = budget.Degraded
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	decision := budget.Evaluate(budget.Policy{
		StorageBudgetBytes:       f.policy.Retention.StorageBudgetBytes,
		WarningThresholdPercent:  f.policy.Retention.WarningThresholdPercent,
		CriticalThresholdPercent: f.policy.Retention.CriticalThresholdPercent,
	}, mode, used)
	f.health.BudgetPressure = decision.Label()
	if decision == budget.StrictFailAtCapacity || decision == budget.DegradedSkipAtCapacity {
		f.health.Degraded = f.health.Degraded || f.degraded()
	}

	if f.policy.Retention.StorageBudgetBytes > 0 {
		percent := float64(used) / float64(f.policy.Retention.StorageBudgetBytes) * 100
		metrics.BudgetPressurePercent.WithLabelValues(f.entityID).Set(percent)
	}
	degradedValue := 0.0
	if f.health.Degraded {
		degradedValue = 1.0
	}
	metrics.Degraded.WithLabelValues(f.entityID).Set(degradedValue)

	return nil
}

// ObservabilityContract returns a snapshot of the façade's current health.
func (f *Facade) ObservabilityContract() PersistenceObservabilityContract {
	f.mu.Lock()
	defer f.mu.Unlock()
	return PersistenceObservabilityContract{Health: f.health}
}
