// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"time"

	"github.com/agentmesh/checkpointd/pkg/log"
	"github.com/agentmesh/checkpointd/pkg/schema"
)

// Keys holds the process-wide configuration, seeded with defaults and
// overwritten by Init from the config file on disk.
var Keys schema.CheckpointdConfig = schema.CheckpointdConfig{
	Addr: ":8080",
	Persistence: schema.PersistencePolicy{
		Enabled: true,
		Mode:    schema.ModeStrict,
		Checkpoint: schema.CheckpointPolicy{
			MutationThreshold: 32,
			DirtyTimeFloor:    600 * time.Second,
			DebounceFloor:     2 * time.Second,
		},
		Retention: schema.RetentionPolicy{
			CheckpointsToKeep:        5,
			StorageBudgetBytes:       1 << 30, // 1 GiB
			WarningThresholdPercent:  80,
			CriticalThresholdPercent: 90,
		},
		StrictInitialization: schema.StrictInitialization{
			InitializeIfMissing: true,
		},
	},
	Backend: schema.BackendConfig{
		Kind: "file",
		Path: "./var/checkpoints",
	},
	Schedule: schema.RetentionScheduleConfig{
		SweepInterval: "1h",
		TickInterval:  "30s",
	},
}

// Init reads flagConfigFile, validates it against the embedded JSON
// schema, and decodes it over the defaults in Keys. A missing file is not
// an error: the defaults above are used as-is.
func Init(flagConfigFile string) {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatal(err)
		}
		return
	}

	if err := schema.ValidateConfig(bytes.NewReader(raw)); err != nil {
		log.Fatalf("Validate config: %v\n", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		log.Fatal(err)
	}
}
