// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package retention

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSnapshot(t *testing.T, dir, name string, size int) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestEnforceRetentionCycleSweepsOrphanEntities(t *testing.T) {
	root := t.TempDir()
	writeSnapshot(t, filepath.Join(root, "gone"), "00000000000000000001.snapshot", 10)
	writeSnapshot(t, filepath.Join(root, "kept"), "00000000000000000001.snapshot", 10)

	report, err := EnforceRetentionCycle(root, map[string]bool{"kept": true}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.EntitiesSwept) != 1 || report.EntitiesSwept[0] != "gone" {
		t.Errorf("wrong swept set: %v", report.EntitiesSwept)
	}
	if _, err := os.Stat(filepath.Join(root, "gone")); !os.IsNotExist(err) {
		t.Errorf("orphan entity directory still present")
	}
	if _, err := os.Stat(filepath.Join(root, "kept")); err != nil {
		t.Errorf("active entity directory removed: %v", err)
	}
}

func TestEnforceRetentionCycleTrimsOldSnapshots(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "entity-a")
	for i := 1; i <= 7; i++ {
		writeSnapshot(t, dir, filepathSnapshotName(i), 100)
	}

	report, err := EnforceRetentionCycle(root, map[string]bool{"entity-a": true}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.SnapshotsDeleted != 4 {
		t.Errorf("wrong deleted count\ngot: %d\nwant: 4", report.SnapshotsDeleted)
	}

	remaining, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 3 {
		t.Errorf("wrong remaining count\ngot: %d\nwant: 3", len(remaining))
	}
	for _, e := range remaining {
		if e.Name() < filepathSnapshotName(5) {
			t.Errorf("oldest retained snapshot should have been trimmed: %s", e.Name())
		}
	}
}

func TestEnforceRetentionCycleLeavesUnderThresholdEntityAlone(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "entity-a")
	writeSnapshot(t, dir, filepathSnapshotName(1), 100)
	writeSnapshot(t, dir, filepathSnapshotName(2), 100)

	report, err := EnforceRetentionCycle(root, map[string]bool{"entity-a": true}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.SnapshotsDeleted != 0 {
		t.Errorf("expected no deletions, got %d", report.SnapshotsDeleted)
	}
}

func TestStorageUsageBytesSumsRegularFiles(t *testing.T) {
	root := t.TempDir()
	writeSnapshot(t, filepath.Join(root, "entity-a"), filepathSnapshotName(1), 100)
	writeSnapshot(t, filepath.Join(root, "entity-b"), filepathSnapshotName(1), 250)

	total, err := StorageUsageBytes(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 350 {
		t.Errorf("wrong total\ngot: %d\nwant: 350", total)
	}
}

func filepathSnapshotName(i int) string {
	return filepathPad(i) + ".snapshot"
}

func filepathPad(i int) string {
	s := "00000000000000000000"
	digits := []byte{}
	for n := i; n > 0; n /= 10 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
	}
	if len(digits) == 0 {
		digits = []byte{'0'}
	}
	return s[:len(s)-len(digits)] + string(digits)
}
