// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import "time"

// Mode is the global failure posture: fail-closed (Strict) vs fail-open
// (Degraded) on persistence faults.
type Mode string

const (
	ModeStrict   Mode = "strict"
	ModeDegraded Mode = "degraded"
)

// CheckpointPolicy holds the three tunable checkpoint scheduler knobs.
type CheckpointPolicy struct {
	MutationThreshold uint32        `json:"mutation-threshold"`
	DirtyTimeFloor    time.Duration `json:"dirty-time-floor"`
	DebounceFloor     time.Duration `json:"debounce-floor"`
}

// RetentionPolicy bounds disk occupancy.
type RetentionPolicy struct {
	CheckpointsToKeep        uint8  `json:"checkpoints-to-keep"`
	StorageBudgetBytes       uint64 `json:"storage-budget-bytes"`
	WarningThresholdPercent  uint8  `json:"warning-threshold-percent"`
	CriticalThresholdPercent uint8  `json:"critical-threshold-percent"`
}

// StrictInitialization controls whether strict-mode startup is permitted
// to create a fresh store when none exists.
type StrictInitialization struct {
	InitializeIfMissing bool `json:"initialize-if-missing"`
}

// PersistencePolicy is the top-level policy document resolved at startup.
type PersistencePolicy struct {
	Enabled              bool                 `json:"enabled"`
	Mode                 Mode                 `json:"mode"`
	Checkpoint           CheckpointPolicy     `json:"checkpoint"`
	Retention            RetentionPolicy      `json:"retention"`
	StrictInitialization StrictInitialization `json:"strict-initialization"`
}

// KnobBounds is a {min,max} pair for one CheckpointPolicy knob.
type KnobBounds[T any] struct {
	Min T `json:"min"`
	Max T `json:"max"`
}

// HostPolicyEnvelope declares the bounds within which a host embedder
// permits runtime retuning of checkpoint parameters.
type HostPolicyEnvelope struct {
	MutationThreshold                       KnobBounds[uint32]        `json:"mutation-threshold"`
	DirtyTimeFloor                          KnobBounds[time.Duration] `json:"dirty-time-floor"`
	DebounceFloor                           KnobBounds[time.Duration] `json:"debounce-floor"`
	AllowRuntimeCheckpointFrequencyAdjustment bool                    `json:"allow-runtime-checkpoint-frequency-adjustment"`
}

// BackendConfig selects and configures the checkpoint storage backend.
type BackendConfig struct {
	Kind string `json:"kind"` // "file" or "s3"
	Path string `json:"path"` // for kind == "file"

	S3Bucket         string `json:"s3-bucket"`
	S3Prefix         string `json:"s3-prefix"`
	S3Region         string `json:"s3-region"`
	S3Endpoint       string `json:"s3-endpoint"`
	S3ForcePathStyle bool   `json:"s3-force-path-style"`
}

// LedgerConfig configures the optional checkpoint audit ledger.
type LedgerConfig struct {
	Enabled bool   `json:"enabled"`
	Driver  string `json:"driver"` // "sqlite3"
	DSN     string `json:"dsn"`
}

// RetentionScheduleConfig configures the cadence the retention sweep and
// the timer-driven checkpoint tick run on.
type RetentionScheduleConfig struct {
	SweepInterval string `json:"sweep-interval"` // parsed with time.ParseDuration
	TickInterval  string `json:"tick-interval"`  // parsed with time.ParseDuration
}

// CheckpointdConfig is the format of the configuration file. See
// internal/config for the program defaults.
type CheckpointdConfig struct {
	// Address the diagnostic HTTP surface listens on.
	Addr string `json:"addr"`

	// Root entity-id namespace isn't configured here; it is supplied by
	// the embedding caller per façade instance.
	Persistence PersistencePolicy  `json:"persistence"`
	HostPolicy  HostPolicyEnvelope `json:"host-policy"`
	Backend     BackendConfig      `json:"backend"`
	Ledger      LedgerConfig       `json:"ledger"`
	Schedule    RetentionScheduleConfig `json:"schedule"`

	// gops runtime-debugging agent switch. cmd/checkpointd does not read
	// this field; it starts the agent only through its -gops flag.
	EnableGops bool `json:"gops"`
}
