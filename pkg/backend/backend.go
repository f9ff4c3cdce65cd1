// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package backend defines the persistence backend contract every
// checkpoint store implementation satisfies, and the shared path-safety
// validation every implementation must apply before touching storage.
package backend

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Backend is the capability set a checkpoint store implementation
// exposes. Implementations are swappable (file, object-store, in-memory
// for tests); callers never depend on the concrete type.
type Backend interface {
	// Checkpoint durably writes envelope bytes as the newest snapshot for
	// entityID and returns the filename it was written under.
	Checkpoint(ctx context.Context, entityID string, envelopeBytes []byte) (string, error)

	// LoadLatest returns the bytes of the most recent snapshot for
	// entityID, or ErrSnapshotNotFound if none exists.
	LoadLatest(ctx context.Context, entityID string) ([]byte, error)

	// DeleteEntity removes every snapshot and the directory for entityID.
	DeleteEntity(ctx context.Context, entityID string) error
}

// ErrInvalidEntityID is returned whenever an entity id fails path-safety
// validation. It is non-retryable and is returned before any filesystem
// or network I/O is attempted.
type ErrInvalidEntityID struct {
	EntityID string
	Reason   string
}

func (e *ErrInvalidEntityID) Error() string {
	return fmt.Sprintf("backend: invalid entity id %q: %s", e.EntityID, e.Reason)
}

// ErrSnapshotNotFound is returned by LoadLatest when an entity has no
// snapshots, or its directory does not exist.
type ErrSnapshotNotFound struct {
	EntityID string
}

func (e *ErrSnapshotNotFound) Error() string {
	return fmt.Sprintf("backend: no snapshot found for entity %q", e.EntityID)
}

// ErrOperation wraps a backend operation failure that is neither a path-
// safety nor a not-found condition (timestamp collisions, unexpected I/O).
type ErrOperation struct {
	Op     string
	Reason string
}

func (e *ErrOperation) Error() string {
	return fmt.Sprintf("backend: operation %q failed: %s", e.Op, e.Reason)
}

// Code identifies this error for the observability contract.
func (e *ErrOperation) Code() string { return "backend_error" }

var entityIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateEntityID applies the path-safety rules every backend must
// enforce before any I/O: non-empty, matches [A-Za-z0-9._-]+, not "." or
// "..", no path separators, no NUL byte, no case-insensitive "%2e%2e".
func ValidateEntityID(entityID string) error {
	if entityID == "" {
		return &ErrInvalidEntityID{EntityID: entityID, Reason: "empty"}
	}
	if entityID == "." || entityID == ".." {
		return &ErrInvalidEntityID{EntityID: entityID, Reason: "dot component"}
	}
	if strings.ContainsAny(entityID, "/\\") {
		return &ErrInvalidEntityID{EntityID: entityID, Reason: "path separator"}
	}
	if strings.ContainsRune(entityID, 0) {
		return &ErrInvalidEntityID{EntityID: entityID, Reason: "NUL byte"}
	}
	if strings.Contains(strings.ToLower(entityID), "%2e%2e") {
		return &ErrInvalidEntityID{EntityID: entityID, Reason: "percent-encoded traversal"}
	}
	if !entityIDPattern.MatchString(entityID) {
		return &ErrInvalidEntityID{EntityID: entityID, Reason: "disallowed character"}
	}
	return nil
}

// SnapshotFileName returns the deterministic 20-digit zero-padded
// filename for a millisecond timestamp.
func SnapshotFileName(tsMillis uint64) string {
	return fmt.Sprintf("%020d.snapshot", tsMillis)
}
