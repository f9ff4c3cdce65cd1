// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ledger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestOpenRunsMigrations(t *testing.T) {
	l := openTestLedger(t)

	_, err := l.DB.Exec(`SELECT count(*) FROM checkpoint_events`)
	require.NoError(t, err)
}

func TestRecordEventAndEventsForEntity(t *testing.T) {
	l := openTestLedger(t)

	require.NoError(t, l.RecordEvent("entity-a", EventPersisted, 1, "first checkpoint"))
	require.NoError(t, l.RecordEvent("entity-a", EventPersisted, 2, "second checkpoint"))
	require.NoError(t, l.RecordEvent("entity-b", EventPersisted, 1, "other entity"))

	events, err := l.EventsForEntity("entity-a")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, uint64(1), events[0].MutationCount)
	require.Equal(t, uint64(2), events[1].MutationCount)
	require.Equal(t, EventPersisted, events[0].Kind)
}

func TestEventsForEntityEmptyWhenNoneRecorded(t *testing.T) {
	l := openTestLedger(t)

	events, err := l.EventsForEntity("unknown")
	require.NoError(t, err)
	require.Empty(t, events)
}
