// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package manifest manages the durable "this directory is a live store"
// marker file that distinguishes an initialized checkpoint store from an
// empty or alien directory.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the fixed filename of the store manifest at the store root.
const FileName = "store.manifest.json"

// ErrMissing is returned by ReadManifest when no manifest file exists at
// root.
var ErrMissing = errors.New("manifest: missing")

// ErrPersistenceNotInitialized is returned by
// ResolveStrictStartupManifest when the store root has no manifest and
// the caller did not ask to initialize one.
type ErrPersistenceNotInitialized struct {
	Root string
}

func (e *ErrPersistenceNotInitialized) Error() string {
	return fmt.Sprintf("manifest: persistence not initialized at %q", e.Root)
}

// Code identifies this error for the observability contract.
func (e *ErrPersistenceNotInitialized) Code() string { return "persistence_not_initialized" }

// StoreManifest is the durable store identity record.
type StoreManifest struct {
	SchemaVersion uint32 `json:"schema_version"`
	StoreID       string `json:"store_id"`
}

func path(root string) string {
	return filepath.Join(root, FileName)
}

// EnsureManifest creates root if absent, and writes manifest to
// store.manifest.json if it does not already exist. If the manifest is
// already present, it is left untouched — this call is idempotent.
func EnsureManifest(root string, m StoreManifest) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("manifest: create root: %w", err)
	}

	final := path(root)
	if _, err := os.Stat(final); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("manifest: stat: %w", err)
	}

	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("manifest: marshal: %w", err)
	}

	tmp := final + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("manifest: create temp: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return fmt.Errorf("manifest: write temp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("manifest: fsync temp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("manifest: close temp: %w", err)
	}

	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("manifest: rename: %w", err)
	}

	dir, err := os.Open(root)
	if err != nil {
		return fmt.Errorf("manifest: open root for fsync: %w", err)
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		return fmt.Errorf("manifest: fsync root: %w", err)
	}

	return nil
}

// ReadManifest returns the parsed manifest at root, or ErrMissing if no
// manifest file exists.
func ReadManifest(root string) (*StoreManifest, error) {
	b, err := os.ReadFile(path(root))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMissing
		}
		return nil, fmt.Errorf("manifest: read: %w", err)
	}

	var m StoreManifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("manifest: unmarshal: %w", err)
	}
	return &m, nil
}

// ResolveStrictStartupManifest resolves the manifest a strict-mode startup
// should trust. If one is present on disk it is returned as-is (the store
// is trusted, its content is not validated against expected). If absent
// and initializeIfMissing is true, expected is written and returned. If
// absent and initializeIfMissing is false, the call fails with
// *ErrPersistenceNotInitialized.
func ResolveStrictStartupManifest(root string, initializeIfMissing bool, expected StoreManifest) (*StoreManifest, error) {
	m, err := ReadManifest(root)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, ErrMissing) {
		return nil, err
	}

	if !initializeIfMissing {
		return nil, &ErrPersistenceNotInitialized{Root: root}
	}

	if err := EnsureManifest(root, expected); err != nil {
		return nil, err
	}
	return &expected, nil
}
