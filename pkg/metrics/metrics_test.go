// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package metrics

import "testing"

func TestRegisterIsIdempotent(t *testing.T) {
	Register()
	Register()
}

func TestCollectorsAcceptEntityLabel(t *testing.T) {
	BudgetPressurePercent.WithLabelValues("entity-a").Set(42)
	Degraded.WithLabelValues("entity-a").Set(1)
	CheckpointsPersistedTotal.WithLabelValues("entity-a").Inc()
	CheckpointFailuresTotal.WithLabelValues("entity-a").Inc()
}
