// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package policy

import (
	"testing"
	"time"

	"github.com/agentmesh/checkpointd/internal/scheduler"
	"github.com/agentmesh/checkpointd/pkg/schema"
)

func testEnvelope(allow bool) schema.HostPolicyEnvelope {
	return schema.HostPolicyEnvelope{
		MutationThreshold:                       schema.KnobBounds[uint32]{Min: 1, Max: 1000},
		DirtyTimeFloor:                          schema.KnobBounds[time.Duration]{Min: time.Second, Max: time.Hour},
		DebounceFloor:                           schema.KnobBounds[time.Duration]{Min: 0, Max: time.Minute},
		AllowRuntimeCheckpointFrequencyAdjustment: allow,
	}
}

func TestValidateHostEnvelopeAcceptsConsistentDefaults(t *testing.T) {
	if err := ValidateHostEnvelope(testEnvelope(true), scheduler.DefaultPolicy()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateHostEnvelopeRejectsInvertedBounds(t *testing.T) {
	env := testEnvelope(true)
	env.MutationThreshold.Min, env.MutationThreshold.Max = 100, 1

	if err := ValidateHostEnvelope(env, scheduler.DefaultPolicy()); err == nil {
		t.Fatal("expected error for inverted bounds, got nil")
	}
}

func TestValidateHostEnvelopeRejectsOutOfEnvelopeDefaults(t *testing.T) {
	env := testEnvelope(true)
	defaults := scheduler.DefaultPolicy()
	defaults.MutationThreshold = 5000

	if err := ValidateHostEnvelope(env, defaults); err == nil {
		t.Fatal("expected error for out-of-envelope default, got nil")
	}
}

func TestApplyCheckpointFrequencyUpdateRejectedWhenDisallowed(t *testing.T) {
	current := scheduler.DefaultPolicy()
	v := uint32(64)

	_, err := ApplyCheckpointFrequencyUpdate(current, testEnvelope(false), UpdateRequest{MutationThreshold: &v})
	if err != ErrRuntimeCheckpointAdjustmentNotAllowed {
		t.Fatalf("expected ErrRuntimeCheckpointAdjustmentNotAllowed, got %v", err)
	}
}

func TestApplyCheckpointFrequencyUpdateAppliesInBoundsField(t *testing.T) {
	current := scheduler.DefaultPolicy()
	v := uint32(64)

	next, err := ApplyCheckpointFrequencyUpdate(current, testEnvelope(true), UpdateRequest{MutationThreshold: &v})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.MutationThreshold != 64 {
		t.Errorf("wrong mutation threshold\ngot: %d\nwant: 64", next.MutationThreshold)
	}
	if next.DirtyTimeFloor != current.DirtyTimeFloor {
		t.Errorf("unrequested field changed: %v vs %v", next.DirtyTimeFloor, current.DirtyTimeFloor)
	}
}

func TestApplyCheckpointFrequencyUpdateRejectsOutOfBoundsAndLeavesPolicyUnchanged(t *testing.T) {
	current := scheduler.DefaultPolicy()
	v := uint32(5000)

	next, err := ApplyCheckpointFrequencyUpdate(current, testEnvelope(true), UpdateRequest{MutationThreshold: &v})
	if err == nil {
		t.Fatal("expected out-of-bounds error, got nil")
	}
	if next != current {
		t.Errorf("policy mutated on rejected update\ngot: %+v\nwant: %+v", next, current)
	}
}
