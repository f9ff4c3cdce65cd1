// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package checkpointapi

import (
	"context"
	"errors"
	"testing"

	"github.com/agentmesh/checkpointd/internal/recovery"
	"github.com/agentmesh/checkpointd/pkg/schema"
)

type memBackend struct {
	snapshots map[string][]byte
	failNext  bool
}

func newMemBackend() *memBackend {
	return &memBackend{snapshots: make(map[string][]byte)}
}

func (m *memBackend) Checkpoint(ctx context.Context, entityID string, envelopeBytes []byte) (string, error) {
	if m.failNext {
		m.failNext = false
		return "", errors.New("simulated backend failure")
	}
	m.snapshots[entityID] = envelopeBytes
	return "snapshot", nil
}

func (m *memBackend) LoadLatest(ctx context.Context, entityID string) ([]byte, error) {
	b, ok := m.snapshots[entityID]
	if !ok {
		return nil, errors.New("not found")
	}
	return b, nil
}

func (m *memBackend) DeleteEntity(ctx context.Context, entityID string) error {
	delete(m.snapshots, entityID)
	return nil
}

func testPolicy() schema.PersistencePolicy {
	return schema.PersistencePolicy{
		Mode: schema.ModeStrict,
		Checkpoint: schema.CheckpointPolicy{
			MutationThreshold: 3,
			DirtyTimeFloor:    0,
			DebounceFloor:     0,
		},
	}
}

func TestRecordMutationBelowThresholdIsNotDue(t *testing.T) {
	f := New(newMemBackend(), testPolicy(), "e1", recovery.Recovery{})

	outcome, err := f.RecordMutationAndMaybeCheckpoint(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != AutomaticNotDue {
		t.Errorf("wrong outcome: %s", outcome)
	}
}

func TestRecordMutationAtThresholdPersists(t *testing.T) {
	f := New(newMemBackend(), testPolicy(), "e1", recovery.Recovery{})

	var last AutomaticCheckpointOutcome
	var err error
	for i := 0; i < 3; i++ {
		last, err = f.RecordMutationAndMaybeCheckpoint(context.Background(), []byte("payload"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if last != AutomaticPersisted {
		t.Errorf("wrong outcome at threshold: %s", last)
	}
}

func TestGracefulShutdownNoopWhenClean(t *testing.T) {
	f := New(newMemBackend(), testPolicy(), "e1", recovery.Recovery{})

	result, err := f.GracefulShutdown(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != ShutdownNoCheckpointNeeded {
		t.Errorf("wrong result: %s", result)
	}
}

func TestGracefulShutdownPersistsWhenDirty(t *testing.T) {
	f := New(newMemBackend(), testPolicy(), "e1", recovery.Recovery{})
	f.RecordMutationAndMaybeCheckpoint(context.Background(), []byte("payload"))

	result, err := f.GracefulShutdown(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != ShutdownCheckpointPersisted {
		t.Errorf("wrong result: %s", result)
	}
}

func TestGracefulShutdownStrictPropagatesBackendError(t *testing.T) {
	b := newMemBackend()
	f := New(b, testPolicy(), "e1", recovery.Recovery{})
	f.RecordMutationAndMaybeCheckpoint(context.Background(), []byte("payload"))
	b.failNext = true

	_, err := f.GracefulShutdown(context.Background(), []byte("payload"))
	if err == nil {
		t.Fatal("expected error under strict mode, got nil")
	}
}

func TestGracefulShutdownDegradedContinuesOnBackendError(t *testing.T) {
	b := newMemBackend()
	policy := testPolicy()
	policy.Mode = schema.ModeDegraded
	f := New(b, policy, "e1", recovery.Recovery{})
	f.RecordMutationAndMaybeCheckpoint(context.Background(), []byte("payload"))
	b.failNext = true

	result, err := f.GracefulShutdown(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("unexpected error under degraded mode: %v", err)
	}
	if result != ShutdownContinuedInDegradedMode {
		t.Errorf("wrong result: %s", result)
	}
	if !f.ObservabilityContract().Health.Degraded {
		t.Error("expected health to be marked degraded")
	}
}

func TestRequestExplicitCheckpointBypassesThreshold(t *testing.T) {
	f := New(newMemBackend(), testPolicy(), "e1", recovery.Recovery{})
	f.RecordMutationAndMaybeCheckpoint(context.Background(), []byte("payload"))

	outcome, err := f.RequestExplicitCheckpoint(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != ExplicitPersisted {
		t.Errorf("wrong outcome: %s", outcome)
	}
}

func TestRequestExplicitCheckpointNoopWhenClean(t *testing.T) {
	f := New(newMemBackend(), testPolicy(), "e1", recovery.Recovery{})

	outcome, err := f.RequestExplicitCheckpoint(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != ExplicitNoopClean {
		t.Errorf("wrong outcome: %s", outcome)
	}
}
