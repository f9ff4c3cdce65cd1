// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package retention enforces the storage-bounding half of the checkpoint
// engine: per-entity snapshot trimming and orphan-entity sweeping, guarded
// by an advisory lock so a concurrent retention cycle (e.g. triggered from
// two processes sharing a store root) cannot race itself.
package retention

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/gofrs/flock"

	"github.com/agentmesh/checkpointd/pkg/backend"
	"github.com/agentmesh/checkpointd/pkg/log"
)

// lockFileName is the advisory lock used to serialize retention cycles
// against a single store root.
const lockFileName = ".retention.lock"

var entityDirPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Report summarizes one retention cycle.
type Report struct {
	EntitiesSwept     []string
	SnapshotsDeleted  int
	BytesReclaimed    uint64
}

// AcquireLock takes the advisory retention lock for root, blocking until
// it is available. The returned unlock func must be called to release it.
func AcquireLock(root string) (func() error, error) {
	fl := flock.New(filepath.Join(root, lockFileName))
	if err := fl.Lock(); err != nil {
		return nil, err
	}
	return fl.Unlock, nil
}

// EnforceRetentionCycle sweeps root for entity directories no longer
// present in activeEntities and deletes all but checkpointsToKeep newest
// snapshots of every remaining entity directory. It must be called while
// holding the lock from AcquireLock.
func EnforceRetentionCycle(root string, activeEntities map[string]bool, checkpointsToKeep int) (Report, error) {
	var report Report

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return report, nil
		}
		return report, err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !entityDirPattern.MatchString(name) {
			continue
		}

		if !activeEntities[name] {
			if err := os.RemoveAll(filepath.Join(root, name)); err != nil {
				log.Errorf("retention: sweep orphan entity %s: %v", name, err)
				continue
			}
			report.EntitiesSwept = append(report.EntitiesSwept, name)
			continue
		}

		entityDir := filepath.Join(root, name)
		backend.CleanStaleTmp(entityDir)

		deleted, reclaimed, err := trimEntity(entityDir, checkpointsToKeep)
		if err != nil {
			log.Errorf("retention: trim entity %s: %v", name, err)
			continue
		}
		report.SnapshotsDeleted += deleted
		report.BytesReclaimed += reclaimed
	}

	return report, nil
}

// trimEntity keeps the checkpointsToKeep lexicographically-greatest
// snapshot files in dir (snapshot file names are zero-padded millisecond
// timestamps, so lexicographic order is chronological order) and deletes
// the rest. Entries that don't match the snapshot filename grammar (a
// stale *.snapshot.tmp that survived CleanStaleTmp's grace window, or any
// other stray file) are ignored rather than folded into the keep/delete
// ordering.
func trimEntity(dir string, checkpointsToKeep int) (int, uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := backend.ParseSnapshotTimestamp(e.Name()); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	if checkpointsToKeep < 1 {
		checkpointsToKeep = 1
	}
	if len(names) <= checkpointsToKeep {
		return 0, 0, nil
	}

	toDelete := names[:len(names)-checkpointsToKeep]
	var reclaimed uint64
	for _, name := range toDelete {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil {
			reclaimed += uint64(info.Size())
		}
		if err := os.Remove(p); err != nil {
			return 0, reclaimed, err
		}
	}

	return len(toDelete), reclaimed, nil
}

// StorageUsageBytes walks the whole tree under root and sums
// regular-file sizes. It does not follow symlinks and saturates
// rather than overflowing.
func StorageUsageBytes(root string) (uint64, error) {
	var total uint64

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		sum := total + uint64(info.Size())
		if sum < total {
			total = ^uint64(0)
			return nil
		}
		total = sum
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return total, err
	}

	return total, nil
}
