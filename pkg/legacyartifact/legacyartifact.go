// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package legacyartifact names the byte signature of the pre-envelope
// encrypted snapshot format so the recovery orchestrator can detect it
// without decoding the rest of the file.
package legacyartifact

// Magic is the 4-byte signature at offset 0 of a legacy encrypted
// snapshot artifact. It can never collide with a valid envelope opening:
// the first four bytes of a valid envelope are a little-endian
// schema_version, and no schema version this build has ever defined
// encodes to this ASCII sequence.
var Magic = [4]byte{'L', 'E', 'G', '1'}

// Has reports whether buf opens with the legacy artifact signature.
func Has(buf []byte) bool {
	if len(buf) < len(Magic) {
		return false
	}
	for i, b := range Magic {
		if buf[i] != b {
			return false
		}
	}
	return true
}
