// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package policy validates a host-declared policy envelope and gates
// runtime retuning of checkpoint parameters against it.
package policy

import (
	"fmt"
	"time"

	"github.com/agentmesh/checkpointd/internal/scheduler"
	"github.com/agentmesh/checkpointd/pkg/schema"
)

// ErrInvalidHostPolicyEnvelope is returned when any knob's min exceeds its
// max.
type ErrInvalidHostPolicyEnvelope struct {
	Field string
}

func (e *ErrInvalidHostPolicyEnvelope) Error() string {
	return fmt.Sprintf("policy: invalid host policy envelope: %s bounds have min > max", e.Field)
}

// Code identifies this error for the observability contract.
func (e *ErrInvalidHostPolicyEnvelope) Code() string { return "invalid_host_policy_envelope" }

// ErrDefaultsOutOfEnvelope is returned when a CheckpointPolicy's defaults
// fall outside the envelope meant to bound them.
type ErrDefaultsOutOfEnvelope struct {
	Field string
}

func (e *ErrDefaultsOutOfEnvelope) Error() string {
	return fmt.Sprintf("policy: default %s violates host policy envelope", e.Field)
}

// Code identifies this error for the observability contract. A defaults
// violation is a configuration error of the same family as an invalid
// envelope, so it shares its code.
func (e *ErrDefaultsOutOfEnvelope) Code() string { return "invalid_host_policy_envelope" }

// errRuntimeCheckpointAdjustmentNotAllowed is a zero-field comparable error
// type so ErrRuntimeCheckpointAdjustmentNotAllowed can still be compared
// with == by callers while carrying a Code() method.
type errRuntimeCheckpointAdjustmentNotAllowed struct{}

func (errRuntimeCheckpointAdjustmentNotAllowed) Error() string {
	return "policy: runtime checkpoint frequency adjustment not allowed"
}

func (errRuntimeCheckpointAdjustmentNotAllowed) Code() string {
	return "runtime_checkpoint_adjustment_not_allowed"
}

// ErrRuntimeCheckpointAdjustmentNotAllowed is returned by
// ApplyCheckpointFrequencyUpdate when the envelope forbids live retuning
// entirely.
var ErrRuntimeCheckpointAdjustmentNotAllowed error = errRuntimeCheckpointAdjustmentNotAllowed{}

// ErrOutOfBounds is returned per-field when a requested value falls
// outside its envelope bounds.
type ErrOutOfBounds struct {
	Field string
}

func (e *ErrOutOfBounds) Error() string {
	return fmt.Sprintf("policy: %s out of bounds", e.Field)
}

// Code identifies this error for the observability contract, distinguishing
// which checkpoint-frequency knob was rejected.
func (e *ErrOutOfBounds) Code() string {
	switch e.Field {
	case "mutation-threshold":
		return "mutation_threshold_out_of_bounds"
	case "dirty-time-floor":
		return "dirty_time_floor_out_of_bounds"
	case "debounce-floor":
		return "debounce_floor_out_of_bounds"
	default:
		return "mutation_threshold_out_of_bounds"
	}
}

// ValidateHostEnvelope checks that every knob's bounds are internally
// consistent (min <= max) and that defaults fall inside every envelope.
func ValidateHostEnvelope(envelope schema.HostPolicyEnvelope, defaults scheduler.Policy) error {
	if envelope.MutationThreshold.Min > envelope.MutationThreshold.Max {
		return &ErrInvalidHostPolicyEnvelope{Field: "mutation-threshold"}
	}
	if envelope.DirtyTimeFloor.Min > envelope.DirtyTimeFloor.Max {
		return &ErrInvalidHostPolicyEnvelope{Field: "dirty-time-floor"}
	}
	if envelope.DebounceFloor.Min > envelope.DebounceFloor.Max {
		return &ErrInvalidHostPolicyEnvelope{Field: "debounce-floor"}
	}

	if defaults.MutationThreshold < envelope.MutationThreshold.Min || defaults.MutationThreshold > envelope.MutationThreshold.Max {
		return &ErrDefaultsOutOfEnvelope{Field: "mutation-threshold"}
	}
	if defaults.DirtyTimeFloor < envelope.DirtyTimeFloor.Min || defaults.DirtyTimeFloor > envelope.DirtyTimeFloor.Max {
		return &ErrDefaultsOutOfEnvelope{Field: "dirty-time-floor"}
	}
	if defaults.DebounceFloor < envelope.DebounceFloor.Min || defaults.DebounceFloor > envelope.DebounceFloor.Max {
		return &ErrDefaultsOutOfEnvelope{Field: "debounce-floor"}
	}

	return nil
}

// UpdateRequest carries the optionally-provided fields of a runtime
// checkpoint-frequency retuning request; a nil field is left unchanged.
type UpdateRequest struct {
	MutationThreshold *uint32
	DirtyTimeFloor    *time.Duration
	DebounceFloor     *time.Duration
}

// ApplyCheckpointFrequencyUpdate validates request against envelope and,
// if every supplied field is within bounds, returns a new policy with
// only those fields replaced. The update is atomic: on any out-of-bounds
// field, the original policy is returned unchanged alongside the error.
func ApplyCheckpointFrequencyUpdate(current scheduler.Policy, envelope schema.HostPolicyEnvelope, request UpdateRequest) (scheduler.Policy, error) {
	if !envelope.AllowRuntimeCheckpointFrequencyAdjustment {
		return current, ErrRuntimeCheckpointAdjustmentNotAllowed
	}

	next := current

	if request.MutationThreshold != nil {
		v := *request.MutationThreshold
		if v < envelope.MutationThreshold.Min || v > envelope.MutationThreshold.Max {
			return current, &ErrOutOfBounds{Field: "mutation-threshold"}
		}
		next.MutationThreshold = v
	}
	if request.DirtyTimeFloor != nil {
		v := *request.DirtyTimeFloor
		if v < envelope.DirtyTimeFloor.Min || v > envelope.DirtyTimeFloor.Max {
			return current, &ErrOutOfBounds{Field: "dirty-time-floor"}
		}
		next.DirtyTimeFloor = v
	}
	if request.DebounceFloor != nil {
		v := *request.DebounceFloor
		if v < envelope.DebounceFloor.Min || v > envelope.DebounceFloor.Max {
			return current, &ErrOutOfBounds{Field: "debounce-floor"}
		}
		next.DebounceFloor = v
	}

	return next, nil
}
