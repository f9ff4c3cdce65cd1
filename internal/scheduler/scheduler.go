// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scheduler implements the checkpoint scheduler: a pure,
// synchronous state machine that fuses a mutation counter, a dirty-time
// floor, and an explicit-request trigger with a uniform debounce floor
// into a single deterministic action per decision point. It performs no
// I/O and reads no clock; every decision is a function of the caller-
// supplied now.
package scheduler

import "time"

// Reason names why a Persist action was produced.
type Reason int

const (
	ReasonMutationThreshold Reason = iota
	ReasonDirtyTimeFloor
	ReasonExplicitRequest
)

// ActionKind enumerates the scheduler's possible decisions.
type ActionKind int

const (
	Persist ActionKind = iota
	SkipClean
	SkipDebounced
	SkipPolicy
)

// Action is the scheduler's decision for a single trigger event. Reason is
// only meaningful when Kind is Persist.
type Action struct {
	Kind   ActionKind
	Reason Reason
}

// Policy holds the three tunable checkpoint knobs.
type Policy struct {
	MutationThreshold uint32
	DirtyTimeFloor    time.Duration
	DebounceFloor     time.Duration
}

// DefaultPolicy returns the spec-mandated defaults.
func DefaultPolicy() Policy {
	return Policy{
		MutationThreshold: 32,
		DirtyTimeFloor:    600 * time.Second,
		DebounceFloor:     2 * time.Second,
	}
}

// Scheduler holds the mutable decision state for a single entity. It is
// not safe for concurrent use; the owning façade (internal/checkpointapi)
// is the single owner per entity.
type Scheduler struct {
	policy           Policy
	dirtySince       *time.Duration
	lastCheckpointAt *time.Duration
	mutationCount    uint64
}

// New creates a scheduler starting clean under policy.
func New(policy Policy) *Scheduler {
	return &Scheduler{policy: policy}
}

// SetPolicy atomically replaces the policy. In-flight counters
// (mutationCount, dirtySince, lastCheckpointAt) are preserved; the new
// thresholds take effect starting with the next Action* call.
func (s *Scheduler) SetPolicy(p Policy) {
	s.policy = p
}

// Policy returns the scheduler's current policy.
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// RecordMutation registers a mutation at now. dirtySince is set only on
// the first mutation after clean; mutationCount saturates rather than
// wrapping.
func (s *Scheduler) RecordMutation(now time.Duration) {
	if s.dirtySince == nil {
		d := now
		s.dirtySince = &d
	}
	if s.mutationCount < ^uint64(0) {
		s.mutationCount++
	}
}

func (s *Scheduler) debounced(now time.Duration) bool {
	return s.lastCheckpointAt != nil && *s.lastCheckpointAt+s.policy.DebounceFloor > now
}

// ActionAfterMutation decides the action to take immediately following a
// recorded mutation.
func (s *Scheduler) ActionAfterMutation(now time.Duration) Action {
	if s.dirtySince == nil {
		return Action{Kind: SkipClean}
	}
	if s.mutationCount < uint64(s.policy.MutationThreshold) {
		return Action{Kind: SkipPolicy}
	}
	if s.debounced(now) {
		return Action{Kind: SkipDebounced}
	}
	return Action{Kind: Persist, Reason: ReasonMutationThreshold}
}

// ActionOnTimer decides the action to take on a periodic timer tick.
func (s *Scheduler) ActionOnTimer(now time.Duration) Action {
	if s.dirtySince == nil {
		return Action{Kind: SkipClean}
	}
	if now < *s.dirtySince+s.policy.DirtyTimeFloor {
		return Action{Kind: SkipPolicy}
	}
	if s.debounced(now) {
		return Action{Kind: SkipDebounced}
	}
	return Action{Kind: Persist, Reason: ReasonDirtyTimeFloor}
}

// ActionOnExplicitRequest decides the action to take for an explicit,
// caller-requested checkpoint. Explicit requests ignore the mutation
// threshold and the dirty-time floor by definition; only cleanliness and
// debounce can block them.
func (s *Scheduler) ActionOnExplicitRequest(now time.Duration) Action {
	if s.dirtySince == nil {
		return Action{Kind: SkipClean}
	}
	if s.debounced(now) {
		return Action{Kind: SkipDebounced}
	}
	return Action{Kind: Persist, Reason: ReasonExplicitRequest}
}

// MarkCheckpoint records a successful checkpoint at now, clearing dirty
// state. Calling it while already clean is a no-op beyond updating
// lastCheckpointAt.
func (s *Scheduler) MarkCheckpoint(now time.Duration) {
	t := now
	s.lastCheckpointAt = &t
	s.dirtySince = nil
	s.mutationCount = 0
}

// Dirty reports whether the scheduler currently considers itself dirty,
// used by graceful-shutdown logic which bypasses every floor but still
// only persists when there is something to persist.
func (s *Scheduler) Dirty() bool {
	return s.dirtySince != nil
}
