// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package migration decides whether a loaded snapshot's schema version is
// current, one step behind and forward-migratable, or unsupported.
package migration

import (
	"fmt"

	"github.com/agentmesh/checkpointd/pkg/envelope"
)

// Result is the outcome of evaluating a loaded schema version against the
// version this build understands.
type Result int

const (
	// Current means the snapshot's schema_version matches
	// envelope.CurrentSnapshotSchemaVersion; no transform is needed.
	Current Result = iota
	// MigrateFromPrevious means the snapshot is exactly one schema version
	// behind current; the caller must apply a forward transform to the
	// decoded payload before use.
	MigrateFromPrevious
)

// ErrUnsupportedSchemaVersion is returned when a snapshot's schema_version
// is neither current nor exactly one version behind.
type ErrUnsupportedSchemaVersion struct {
	Found uint32
	Min   uint32
	Max   uint32
}

func (e *ErrUnsupportedSchemaVersion) Error() string {
	return fmt.Sprintf("migration: unsupported schema version %d (supported range [%d, %d])", e.Found, e.Min, e.Max)
}

// Code identifies this error for the observability contract.
func (e *ErrUnsupportedSchemaVersion) Code() string { return "unsupported_schema_version" }

// EvaluateSnapshotSchema classifies v against the current schema version.
func EvaluateSnapshotSchema(v uint32) (Result, error) {
	current := envelope.CurrentSnapshotSchemaVersion
	switch {
	case v == current:
		return Current, nil
	case v+1 == current:
		return MigrateFromPrevious, nil
	default:
		return 0, &ErrUnsupportedSchemaVersion{Found: v, Min: current - 1, Max: current}
	}
}

// LegacyOutcome is the deterministic, mode-dependent result of
// encountering a legacy-encrypted artifact during recovery.
type LegacyOutcome int

const (
	// StrictFail means a legacy artifact was found in Strict mode:
	// recovery must fail.
	StrictFail LegacyOutcome = iota
	// DegradedSkip means a legacy artifact was found in Degraded mode:
	// the file is left untouched and recovery falls back to empty state.
	DegradedSkip
)
