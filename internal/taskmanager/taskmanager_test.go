// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package taskmanager

import (
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"2m", 2 * time.Minute, false},
		{"1h", 1 * time.Hour, false},
		{"10s", 10 * time.Second, false},
		{"invalid", 0, true},
		{"", 0, true}, // time.ParseDuration returns error for empty string
		{"0", 0, false},
	}

	for _, tt := range tests {
		got, err := parseDuration(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.expected {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestNewManagerRegistersFacades(t *testing.T) {
	m, err := New(t.TempDir(), 5, func() map[string]bool { return nil }, func(string) []byte { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m.RegisterFacade("e1", nil)
	if _, ok := m.facades["e1"]; !ok {
		t.Error("expected facade to be registered")
	}

	m.UnregisterFacade("e1")
	if _, ok := m.facades["e1"]; ok {
		t.Error("expected facade to be unregistered")
	}
}
