// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package budget maps disk usage against a retention policy's storage
// budget into a decision the orchestrator and observability surface can
// act on. It is a pure function: no I/O, no logging, no mode-independent
// side effects.
package budget

// Mode mirrors the persistence failure posture without importing the
// policy package, keeping this package dependency-free.
type Mode int

const (
	Strict Mode = iota
	Degraded
)

// Decision is the outcome of evaluating used bytes against a retention
// policy's storage budget.
type Decision int

const (
	BelowWarning Decision = iota
	Warning80
	Warning90
	StrictFailAtCapacity
	DegradedSkipAtCapacity
)

// Label renders d as one of the observability contract's stable
// budget_pressure strings.
func (d Decision) Label() string {
	switch d {
	case BelowWarning:
		return "below_warning"
	case Warning80:
		return "warning"
	case Warning90:
		return "critical"
	case StrictFailAtCapacity, DegradedSkipAtCapacity:
		return "at_capacity"
	default:
		return "below_warning"
	}
}

// Policy is the subset of RetentionPolicy the evaluator needs.
type Policy struct {
	StorageBudgetBytes       uint64
	WarningThresholdPercent  uint8
	CriticalThresholdPercent uint8
}

func atCapacity(mode Mode) Decision {
	if mode == Strict {
		return StrictFailAtCapacity
	}
	return DegradedSkipAtCapacity
}

// Evaluate computes the budget decision for usedBytes under policy and
// mode. Percent is computed with saturating multiplication so a very
// large usedBytes cannot wrap around to a misleadingly small percentage.
func Evaluate(policy Policy, mode Mode, usedBytes uint64) Decision {
	if policy.StorageBudgetBytes == 0 {
		return atCapacity(mode)
	}

	percent := saturatingPercent(usedBytes, policy.StorageBudgetBytes)

	if percent >= 100 {
		return atCapacity(mode)
	}
	if percent >= uint64(policy.CriticalThresholdPercent) {
		return Warning90
	}
	if percent >= uint64(policy.WarningThresholdPercent) {
		return Warning80
	}
	return BelowWarning
}

// saturatingPercent computes (used*100)/budget without overflowing
// uint64; if used*100 would overflow, the ratio is already far past
// 100% and the function saturates to a large value instead of wrapping.
func saturatingPercent(used, budget uint64) uint64 {
	const maxUint64 = ^uint64(0)
	if used != 0 && maxUint64/used < 100 {
		return maxUint64
	}
	return (used * 100) / budget
}
