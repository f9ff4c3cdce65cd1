// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package envelope frames a serialized CRDT payload with the metadata the
// rest of checkpointd needs to recognize, migrate, and verify it: schema
// version, codec identity, entity id, mutation serial, and an integrity
// digest over the payload bytes.
package envelope

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// CurrentSnapshotSchemaVersion is the logical payload schema this build
// writes and prefers to read.
const CurrentSnapshotSchemaVersion uint32 = 2

const (
	// CodecMarkerBinc identifies the payload codec used to serialize the
	// CRDT value before framing.
	CodecMarkerBinc uint8 = 1
	// CodecVersionV1 is the only codec_version this build emits.
	CodecVersionV1 uint8 = 1
)

// IntegrityAlgorithmBlake2b256 is the only integrity algorithm this build
// emits; digest length is fixed at 32 bytes.
const IntegrityAlgorithmBlake2b256 uint8 = 1

const digestLen = 32

// fixedHeaderLen is the number of bytes preceding entity_id bytes:
// schema_version(4) + codec_marker(1) + codec_version(1) + reserved(2) +
// entity_id_len(4).
const fixedHeaderLen = 4 + 1 + 1 + 2 + 4

// Integrity carries the digest algorithm and the digest bytes themselves.
type Integrity struct {
	Algorithm uint8
	Digest    []byte
}

// Envelope is the decoded, in-memory form of a snapshot's on-disk framing.
type Envelope struct {
	SchemaVersion uint32
	CodecMarker   uint8
	CodecVersion  uint8
	EntityID      string
	MutationCount uint64
	Integrity     Integrity
	Payload       []byte
}

// ErrDecode wraps all permanent, non-retryable envelope decode failures.
type ErrDecode struct {
	Reason string
}

func (e *ErrDecode) Error() string {
	return fmt.Sprintf("snapshot decode error: %s", e.Reason)
}

// Code identifies this error for the observability contract.
func (e *ErrDecode) Code() string { return "snapshot_decode_error" }

func digest(schemaVersion uint32, entityID string, mutationCount uint64, payload []byte) []byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 with a nil key never errors.
		panic(err)
	}

	var sv [4]byte
	binary.LittleEndian.PutUint32(sv[:], schemaVersion)
	h.Write(sv[:])
	h.Write([]byte(entityID))
	var mc [8]byte
	binary.LittleEndian.PutUint64(mc[:], mutationCount)
	h.Write(mc[:])
	h.Write(payload)
	return h.Sum(nil)
}

// Encode frames payload using the current schema/codec constants and
// returns the on-disk byte layout described by the snapshot envelope
// format.
func Encode(entityID string, mutationCount uint64, payload []byte) []byte {
	entityBytes := []byte(entityID)
	d := digest(CurrentSnapshotSchemaVersion, entityID, mutationCount, payload)

	total := fixedHeaderLen + len(entityBytes) + 8 + 1 + len(d) + 8 + len(payload)
	buf := make([]byte, total)

	off := 0
	binary.LittleEndian.PutUint32(buf[off:], CurrentSnapshotSchemaVersion)
	off += 4
	buf[off] = CodecMarkerBinc
	off++
	buf[off] = CodecVersionV1
	off++
	off += 2 // reserved
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(entityBytes)))
	off += 4
	copy(buf[off:], entityBytes)
	off += len(entityBytes)
	binary.LittleEndian.PutUint64(buf[off:], mutationCount)
	off += 8
	buf[off] = IntegrityAlgorithmBlake2b256
	off++
	copy(buf[off:], d)
	off += len(d)
	binary.LittleEndian.PutUint64(buf[off:], uint64(len(payload)))
	off += 8
	copy(buf[off:], payload)

	return buf
}

// Decode parses a byte buffer previously produced by Encode. Any structural
// inconsistency — truncated header, unknown codec marker/version, declared
// lengths overflowing the buffer, or a digest mismatch — is reported as
// *ErrDecode and is always permanent.
func Decode(buf []byte) (*Envelope, error) {
	if len(buf) < fixedHeaderLen {
		return nil, &ErrDecode{Reason: "buffer shorter than fixed header"}
	}

	off := 0
	schemaVersion := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	codecMarker := buf[off]
	off++
	codecVersion := buf[off]
	off++
	off += 2 // reserved

	if codecMarker != CodecMarkerBinc {
		return nil, &ErrDecode{Reason: fmt.Sprintf("unknown codec marker %d", codecMarker)}
	}
	if codecVersion != CodecVersionV1 {
		return nil, &ErrDecode{Reason: fmt.Sprintf("unknown codec version %d", codecVersion)}
	}

	entityLen := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if uint64(off)+uint64(entityLen) > uint64(len(buf)) {
		return nil, &ErrDecode{Reason: "entity_id length overflows buffer"}
	}
	entityID := string(buf[off : off+int(entityLen)])
	off += int(entityLen)

	if off+8 > len(buf) {
		return nil, &ErrDecode{Reason: "buffer truncated before mutation_count"}
	}
	mutationCount := binary.LittleEndian.Uint64(buf[off:])
	off += 8

	if off+1 > len(buf) {
		return nil, &ErrDecode{Reason: "buffer truncated before integrity algorithm"}
	}
	algorithm := buf[off]
	off++

	var digestLength int
	switch algorithm {
	case IntegrityAlgorithmBlake2b256:
		digestLength = digestLen
	default:
		return nil, &ErrDecode{Reason: fmt.Sprintf("unknown integrity algorithm %d", algorithm)}
	}
	if off+digestLength > len(buf) {
		return nil, &ErrDecode{Reason: "digest length overflows buffer"}
	}
	storedDigest := append([]byte(nil), buf[off:off+digestLength]...)
	off += digestLength

	if off+8 > len(buf) {
		return nil, &ErrDecode{Reason: "buffer truncated before payload length"}
	}
	payloadLen := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	if uint64(off)+payloadLen > uint64(len(buf)) {
		return nil, &ErrDecode{Reason: "payload length overflows buffer"}
	}
	payload := append([]byte(nil), buf[off:uint64(off)+payloadLen]...)

	want := digest(schemaVersion, entityID, mutationCount, payload)
	if !equalBytes(want, storedDigest) {
		return nil, &ErrDecode{Reason: "integrity digest mismatch"}
	}

	return &Envelope{
		SchemaVersion: schemaVersion,
		CodecMarker:   codecMarker,
		CodecVersion:  codecVersion,
		EntityID:      entityID,
		MutationCount: mutationCount,
		Integrity:     Integrity{Algorithm: algorithm, Digest: storedDigest},
		Payload:       payload,
	}, nil
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
