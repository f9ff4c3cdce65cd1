// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ledger

import "time"

// EventKind names the lifecycle events the ledger records.
type EventKind string

const (
	EventPersisted       EventKind = "persisted"
	EventSkipped         EventKind = "skipped"
	EventRecovered       EventKind = "recovered"
	EventRetentionSwept  EventKind = "retention_swept"
	EventDegradedFallback EventKind = "degraded_fallback"
)

// Event is one row of the checkpoint_events audit trail.
type Event struct {
	ID            int64     `db:"id"`
	EntityID      string    `db:"entity_id"`
	Kind          EventKind `db:"event"`
	MutationCount uint64    `db:"mutation_count"`
	TsMillis      int64     `db:"ts_millis"`
	Detail        string    `db:"detail"`
}

// RecordEvent appends one lifecycle event to the ledger.
func (l *Ledger) RecordEvent(entityID string, kind EventKind, mutationCount uint64, detail string) error {
	_, err := l.DB.Exec(
		`INSERT INTO checkpoint_events (entity_id, event, mutation_count, ts_millis, detail) VALUES (?, ?, ?, ?, ?)`,
		entityID, string(kind), mutationCount, time.Now().UnixMilli(), detail,
	)
	return err
}

// EventsForEntity returns every recorded event for entityID, oldest first.
func (l *Ledger) EventsForEntity(entityID string) ([]Event, error) {
	var events []Event
	err := l.DB.Select(&events,
		`SELECT id, entity_id, event, mutation_count, ts_millis, detail FROM checkpoint_events WHERE entity_id = ? ORDER BY ts_millis ASC`,
		entityID,
	)
	return events, err
}
