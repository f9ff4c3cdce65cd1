// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package recovery orchestrates startup recovery of a task list's CRDT
// state from the configured backend, composing the manifest gate, the
// schema migration evaluator, legacy-artifact detection, and the
// configured failure mode into one deterministic outcome.
package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentmesh/checkpointd/pkg/backend"
	"github.com/agentmesh/checkpointd/pkg/envelope"
	"github.com/agentmesh/checkpointd/pkg/legacyartifact"
	"github.com/agentmesh/checkpointd/pkg/manifest"
	"github.com/agentmesh/checkpointd/pkg/migration"
	"github.com/agentmesh/checkpointd/pkg/schema"
)

// Outcome is a stable, observability-facing string naming how startup
// recovery resolved.
type Outcome string

const (
	OutcomeLoadedSnapshot                   Outcome = "loaded_snapshot"
	OutcomeEmptyStore                       Outcome = "empty_store"
	OutcomeDegradedFallback                 Outcome = "degraded_fallback"
	OutcomeStrictInitFailure                Outcome = "strict_init_failure"
	OutcomeUnsupportedLegacyEncryptedArtifact Outcome = "unsupported_legacy_encrypted_artifact"
)

// Recovery is the metadata half of a startup recovery result.
type Recovery struct {
	Outcome Outcome
	// Degraded reports whether the caller's health should be marked
	// degraded as a result of this recovery.
	Degraded bool
}

// Result[T] is the full return value of RecoverTaskListStartup: the
// decoded (or fallback) payload alongside its Recovery metadata.
type Result[T any] struct {
	Value    T
	Recovery Recovery
}

// ErrStartupLoad wraps a hard backend or decode failure under Strict mode.
type ErrStartupLoad struct {
	Cause error
}

func (e *ErrStartupLoad) Error() string {
	return fmt.Sprintf("recovery: strict startup load failed: %v", e.Cause)
}

func (e *ErrStartupLoad) Unwrap() error { return e.Cause }

// Decoder converts a decoded envelope payload (possibly after forward
// migration) into the caller's in-memory representation T.
type Decoder[T any] func(payload []byte) (T, error)

// Migrator applies a forward migration from the previous schema version
// to the current one, returning the migrated payload bytes.
type Migrator func(payload []byte) ([]byte, error)

// RecoverTaskListStartup resolves the task list's initial in-memory state
// at process startup per the manifest gate → backend load → schema
// migration → mode policy algorithm.
func RecoverTaskListStartup[T any](
	ctx context.Context,
	b backend.Backend,
	policy schema.PersistencePolicy,
	root string,
	entityID string,
	emptyValue T,
	decode Decoder[T],
	migrate Migrator,
) (Result[T], error) {
	degraded := policy.Mode == schema.ModeDegraded

	expected := manifest.StoreManifest{SchemaVersion: envelope.CurrentSnapshotSchemaVersion, StoreID: root}
	// Degraded mode always writes a missing manifest and proceeds.
	initializeIfMissing := policy.StrictInitialization.InitializeIfMissing || degraded
	if _, err := manifest.ResolveStrictStartupManifest(root, initializeIfMissing, expected); err != nil {
		if !degraded {
			return Result[T]{Value: emptyValue, Recovery: Recovery{Outcome: OutcomeStrictInitFailure}}, err
		}
		return Result[T]{Value: emptyValue, Recovery: Recovery{Outcome: OutcomeStrictInitFailure, Degraded: true}}, nil
	}

	raw, err := b.LoadLatest(ctx, entityID)
	if err != nil {
		var notFound *backend.ErrSnapshotNotFound
		if errors.As(err, &notFound) {
			return Result[T]{Value: emptyValue, Recovery: Recovery{Outcome: OutcomeEmptyStore}}, nil
		}
		return degradeOrFail(emptyValue, degraded, err)
	}

	if legacyartifact.Has(raw) {
		cause := fmt.Errorf("recovery: unsupported legacy encrypted artifact for entity %q", entityID)
		switch legacyOutcome(degraded) {
		case migration.StrictFail:
			return Result[T]{Value: emptyValue, Recovery: Recovery{Outcome: OutcomeUnsupportedLegacyEncryptedArtifact}}, &ErrStartupLoad{Cause: cause}
		default: // migration.DegradedSkip
			return Result[T]{Value: emptyValue, Recovery: Recovery{Outcome: OutcomeUnsupportedLegacyEncryptedArtifact, Degraded: true}}, nil
		}
	}

	env, err := envelope.Decode(raw)
	if err != nil {
		return degradeOrFail(emptyValue, degraded, err)
	}

	result, err := migration.EvaluateSnapshotSchema(env.SchemaVersion)
	if err != nil {
		return degradeOrFail(emptyValue, degraded, err)
	}

	payload := env.Payload
	if result == migration.MigrateFromPrevious {
		payload, err = migrate(payload)
		if err != nil {
			return degradeOrFail(emptyValue, degraded, err)
		}
	}

	value, err := decode(payload)
	if err != nil {
		return degradeOrFail(emptyValue, degraded, err)
	}

	return Result[T]{Value: value, Recovery: Recovery{Outcome: OutcomeLoadedSnapshot}}, nil
}

func legacyOutcome(degraded bool) migration.LegacyOutcome {
	if degraded {
		return migration.DegradedSkip
	}
	return migration.StrictFail
}

func degradeOrFail[T any](emptyValue T, degraded bool, cause error) (Result[T], error) {
	if !degraded {
		return Result[T]{Value: emptyValue, Recovery: Recovery{Outcome: OutcomeStrictInitFailure}}, &ErrStartupLoad{Cause: cause}
	}
	return Result[T]{Value: emptyValue, Recovery: Recovery{Outcome: OutcomeDegradedFallback, Degraded: true}}, nil
}
