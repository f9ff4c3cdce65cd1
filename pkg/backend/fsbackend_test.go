// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var invalidEntityIDs = []string{
	"../escape",
	"/tmp/escape",
	"nested/path",
	"%2e%2e%2fescape",
	"",
	".",
}

func TestFsBackendRejectsInvalidEntityIDsForCheckpointAndLoad(t *testing.T) {
	b, err := NewFsBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFsBackend: %v", err)
	}

	for _, invalid := range invalidEntityIDs {
		if _, err := b.Checkpoint(context.Background(), invalid, []byte("payload")); !isInvalidEntityID(err) {
			t.Errorf("Checkpoint(%q): expected ErrInvalidEntityID, got %v", invalid, err)
		}
		if _, err := b.LoadLatest(context.Background(), invalid); !isInvalidEntityID(err) {
			t.Errorf("LoadLatest(%q): expected ErrInvalidEntityID, got %v", invalid, err)
		}
		if err := b.DeleteEntity(context.Background(), invalid); !isInvalidEntityID(err) {
			t.Errorf("DeleteEntity(%q): expected ErrInvalidEntityID, got %v", invalid, err)
		}
	}
}

func isInvalidEntityID(err error) bool {
	var invalid *ErrInvalidEntityID
	return errors.As(err, &invalid)
}

func TestFsBackendDeleteEntityPreventsSideEffectsOutsideStoreRoot(t *testing.T) {
	temp := t.TempDir()
	storeRoot := filepath.Join(temp, "store")

	b, err := NewFsBackend(storeRoot)
	if err != nil {
		t.Fatalf("NewFsBackend: %v", err)
	}

	outside := filepath.Join(temp, "outside-target")
	if err := os.MkdirAll(outside, 0o755); err != nil {
		t.Fatalf("create outside target: %v", err)
	}
	sentinel := filepath.Join(outside, "sentinel.txt")
	if err := os.WriteFile(sentinel, []byte("keep"), 0o644); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}

	if err := b.DeleteEntity(context.Background(), "../outside-target"); !isInvalidEntityID(err) {
		t.Fatalf("expected traversal attempt to be rejected with ErrInvalidEntityID, got %v", err)
	}

	if _, err := os.Stat(sentinel); err != nil {
		t.Errorf("sentinel file outside store root was touched: %v", err)
	}
}

func TestFsBackendDeleteEntityRejectsSymlinkEscape(t *testing.T) {
	temp := t.TempDir()
	storeRoot := filepath.Join(temp, "store")

	b, err := NewFsBackend(storeRoot)
	if err != nil {
		t.Fatalf("NewFsBackend: %v", err)
	}

	outside := filepath.Join(temp, "outside-target")
	if err := os.MkdirAll(outside, 0o755); err != nil {
		t.Fatalf("create outside target: %v", err)
	}
	sentinel := filepath.Join(outside, "sentinel.txt")
	if err := os.WriteFile(sentinel, []byte("keep"), 0o644); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}

	if err := os.Symlink(outside, filepath.Join(storeRoot, "escaped")); err != nil {
		t.Fatalf("create symlink: %v", err)
	}

	if err := b.DeleteEntity(context.Background(), "escaped"); err == nil {
		t.Fatal("expected symlink-escaping entity directory to be rejected")
	}

	if _, err := os.Stat(sentinel); err != nil {
		t.Errorf("sentinel file behind symlink escape was touched: %v", err)
	}
}

func TestFsBackendCheckpointThenLoadLatestRoundTrips(t *testing.T) {
	b, err := NewFsBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFsBackend: %v", err)
	}

	payload := []byte("envelope-bytes")
	if _, err := b.Checkpoint(context.Background(), "e1", payload); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	got, err := b.LoadLatest(context.Background(), "e1")
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("LoadLatest returned %q, want %q", got, payload)
	}
}

func TestFsBackendCheckpointLeavesNoTmpFileBehind(t *testing.T) {
	root := t.TempDir()
	b, err := NewFsBackend(root)
	if err != nil {
		t.Fatalf("NewFsBackend: %v", err)
	}

	if _, err := b.Checkpoint(context.Background(), "e1", []byte("payload")); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(root, "e1"))
	if err != nil {
		t.Fatalf("read entity dir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("checkpoint left a stray tmp file: %s", e.Name())
		}
	}
}

func TestFsBackendLoadLatestMissingEntityReturnsNotFound(t *testing.T) {
	b, err := NewFsBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFsBackend: %v", err)
	}

	_, err = b.LoadLatest(context.Background(), "never-checkpointed")
	var notFound *ErrSnapshotNotFound
	if !errors.As(err, &notFound) {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestCleanStaleTmpRemovesOnlyExpiredTmpFiles(t *testing.T) {
	dir := t.TempDir()

	fresh := filepath.Join(dir, "00000000000000000001.snapshot.tmp")
	if err := os.WriteFile(fresh, nil, 0o644); err != nil {
		t.Fatalf("write fresh tmp: %v", err)
	}

	stale := filepath.Join(dir, "00000000000000000002.snapshot.tmp")
	if err := os.WriteFile(stale, nil, 0o644); err != nil {
		t.Fatalf("write stale tmp: %v", err)
	}
	old := time.Now().Add(-2 * staleTmpGrace)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("backdate stale tmp: %v", err)
	}

	CleanStaleTmp(dir)

	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh tmp file was removed: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale tmp file was not removed")
	}
}
