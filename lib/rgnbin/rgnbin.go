// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rgnbin recovers hardware identifier and firmware version
// metadata from a raw BIN firmware image: a best-effort analysis
// dispatched off the image's leading instruction word, plus a
// whole-payload checksum validation.
package rgnbin

import (
	"bytes"
	"context"
	"encoding/binary"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.dev/gcd-rec/lib/binformat"
	"git.lukeshu.dev/gcd-rec/lib/chksum"
	"git.lukeshu.dev/gcd-rec/lib/diskio"
)

// EndMarker is the 8-byte pattern that indicates the end of the
// firmware image proper within a BIN payload.
var EndMarker = []byte{0xff, 0xff, 0x5a, 0xa5, 0xff, 0xff, 0xff, 0xff}

// Variant identifies which of the known leading-instruction-word
// layouts a BIN payload matched.
type Variant int

const (
	VariantUnknown Variant = iota
	Variant1                // 0xe59ff008, sub-variants 1a/1b
	Variant2                // 0xe59ff00c
	Variant3                // 0xea000002
	Variant4                // 0xea000003
	Variant5                // 0xea000004, known-but-unrecognized
)

const (
	firstWordVariant1 = 0xe59ff008
	firstWordVariant2 = 0xe59ff00c
	firstWordVariant3 = 0xea000002
	firstWordVariant4 = 0xea000003
	firstWordVariant5 = 0xea000004
)

// Analysis is the recovered metadata for one BIN payload.
type Analysis struct {
	Variant       Variant `json:"variant"`
	HWID          uint16  `json:"hw_id,omitempty"`
	HWIDOK        bool    `json:"hw_id_ok"`
	Version       uint16  `json:"version,omitempty"`
	VersionOK     bool    `json:"version_ok"`
	ChecksumValid bool    `json:"checksum_valid"`
}

// Analyze inspects payload and recovers what it can. It never returns
// a fatal error: LayoutUnrecognizedError and OffsetOutOfBoundsError
// are reported in the returned slice for the caller to log, and the
// corresponding metadata is left unset.
func Analyze(ctx context.Context, payload []byte) (*Analysis, []error) {
	a := &Analysis{}
	var problems []error

	cs := chksum.New()
	cs.Add(payload)
	a.ChecksumValid = cs.Valid()

	if len(payload) < 4 {
		err := &binformat.TruncatedStreamError{Container: "rgnbin", Offset: 0, Want: 4, Got: len(payload)}
		return a, append(problems, err)
	}
	firstWord := binary.LittleEndian.Uint32(payload[0:4])

	switch firstWord {
	case firstWordVariant1:
		a.Variant = Variant1
		problems = append(problems, analyzeVariant1(payload, a)...)
	case firstWordVariant2:
		a.Variant = Variant2
		problems = append(problems, analyzeVariant2(payload, a)...)
	case firstWordVariant3:
		a.Variant = Variant3
		problems = append(problems, analyzeVariant34(payload, a)...)
	case firstWordVariant4:
		a.Variant = Variant4
		problems = append(problems, analyzeVariant34(payload, a)...)
	case firstWordVariant5:
		a.Variant = Variant5
		err := &binformat.LayoutUnrecognizedError{FirstWord: firstWord}
		dlog.Warnf(ctx, "%s", err)
		problems = append(problems, err)
	default:
		a.Variant = VariantUnknown
		err := &binformat.LayoutUnrecognizedError{FirstWord: firstWord}
		dlog.Warnf(ctx, "%s", err)
		problems = append(problems, err)
	}

	if !a.HWIDOK || !a.VersionOK {
		applyFallbackHeuristics(payload, a)
	}

	return a, problems
}

func readU32(payload []byte, off int64) (uint32, bool) {
	if off < 0 || off+4 > int64(len(payload)) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(payload[off : off+4]), true
}

func readI32(payload []byte, off int64) (int32, bool) {
	u, ok := readU32(payload, off)
	return int32(u), ok
}

func readU16At(payload []byte, off int64) (uint16, bool) {
	if off < 0 || off+2 > int64(len(payload)) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(payload[off : off+2]), true
}

func abs32(x int32) int32 {
	if x < 0 {
		return -x
	}
	return x
}

// analyzeVariant1 handles first word 0xe59ff008 (sub-variants 1a/1b):
// read four uint32s at offsets 4..20; if |x2-x1|==2, (x1,x2) is
// (hw_id_va, swver_va), else (x2,x3); entry_addr is x4.
func analyzeVariant1(payload []byte, a *Analysis) []error {
	var problems []error
	x1, ok1 := readU32(payload, 4)
	x2, ok2 := readU32(payload, 8)
	x3, ok3 := readU32(payload, 12)
	x4, ok4 := readU32(payload, 16)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return append(problems, &binformat.OffsetOutOfBoundsError{Offset: 4, PayloadLen: len(payload)})
	}

	var hwIDVA, swverVA uint32
	if abs32(int32(x2)-int32(x1)) == 2 {
		hwIDVA, swverVA = x1, x2
	} else {
		hwIDVA, swverVA = x2, x3
	}
	entryAddr := x4
	delta := int64(20) - int64(entryAddr)

	return resolveFromVA(payload, hwIDVA, swverVA, delta, a)
}

// analyzeVariant2 handles first word 0xe59ff00c: read
// (end_va, hwid_va, swver_va, lend_va: int32, entry_va) at 4..24.
func analyzeVariant2(payload []byte, a *Analysis) []error {
	var problems []error
	_, okEnd := readU32(payload, 4)
	hwIDVA, okHW := readU32(payload, 8)
	swverVA, okSW := readU32(payload, 12)
	lendVA, okLend := readI32(payload, 16)
	entryVA, okEntry := readU32(payload, 20)
	if !okEnd || !okHW || !okSW || !okLend || !okEntry {
		return append(problems, &binformat.OffsetOutOfBoundsError{Offset: 4, PayloadLen: len(payload)})
	}

	var delta int64
	if lendVA < 0 {
		delta = 24 - int64(-lendVA)
	} else {
		delta = 24 - int64(entryVA)
	}

	return resolveFromVA(payload, hwIDVA, swverVA, delta, a)
}

// analyzeVariant34 handles first words 0xea000002/0xea000003: find the
// rightmost end-marker occurrence, then read (end_va, hwid_va,
// swver_va) at 4..16.
func analyzeVariant34(payload []byte, a *Analysis) []error {
	var problems []error
	endLoc, err := rightmostEndMarker(payload)
	if err != nil {
		return append(problems, err)
	}
	if endLoc < 0 {
		return append(problems, &binformat.LayoutUnrecognizedError{FirstWord: binary.LittleEndian.Uint32(payload[0:4])})
	}

	endVA, ok1 := readU32(payload, 4)
	hwIDVA, ok2 := readU32(payload, 8)
	swverVA, ok3 := readU32(payload, 12)
	if !ok1 || !ok2 || !ok3 {
		return append(problems, &binformat.OffsetOutOfBoundsError{Offset: 4, PayloadLen: len(payload)})
	}

	delta := endLoc + 2 - int64(endVA)
	return resolveFromVA(payload, hwIDVA, swverVA, delta, a)
}

// resolveFromVA converts the given virtual addresses to file offsets
// via delta, and reads hw_id/version at those offsets.
func resolveFromVA(payload []byte, hwIDVA, swverVA uint32, delta int64, a *Analysis) []error {
	var problems []error

	hwIDOff := int64(hwIDVA) + delta
	if hwID, ok := readU16At(payload, hwIDOff); ok {
		a.HWID, a.HWIDOK = hwID, true
	} else {
		problems = append(problems, &binformat.OffsetOutOfBoundsError{Offset: hwIDOff, PayloadLen: len(payload)})
	}

	swverOff := int64(swverVA) + delta
	if ver, ok := readU16At(payload, swverOff); ok {
		a.Version, a.VersionOK = ver, true
	} else {
		problems = append(problems, &binformat.OffsetOutOfBoundsError{Offset: swverOff, PayloadLen: len(payload)})
	}

	return problems
}

// rightmostEndMarker returns the last occurrence of EndMarker in
// payload, or -1 if it does not occur.
func rightmostEndMarker(payload []byte) (int64, error) {
	matches, err := diskio.FindAll(bytes.NewReader(payload), EndMarker)
	if err != nil {
		return 0, err
	}
	if len(matches) == 0 {
		return -1, nil
	}
	return matches[len(matches)-1], nil
}

// applyFallbackHeuristics tries the three observed-in-the-wild
// locations for hw_id/version that aren't tied to a specific
// instruction-word variant, stopping at the first one that yields a
// plausible value.
func applyFallbackHeuristics(payload []byte, a *Analysis) {
	tryMarkerAt := func(markerOff, hwOff, verOff int64) bool {
		if markerOff+4 > int64(len(payload)) || markerOff < 0 {
			return false
		}
		if !bytes.Equal(payload[markerOff:markerOff+4], []byte{0xff, 0xff, 0xff, 0xff}) {
			return false
		}
		hwID, ok1 := readU16At(payload, hwOff)
		ver, ok2 := readU16At(payload, verOff)
		if !ok1 || !ok2 {
			return false
		}
		a.HWID, a.HWIDOK = hwID, true
		a.Version, a.VersionOK = ver, true
		return true
	}

	if !a.HWIDOK && tryMarkerAt(252, 256, 258) {
		return
	}
	if !a.HWIDOK && tryMarkerAt(508, 512, 514) {
		return
	}
	if a.HWIDOK {
		return
	}

	hwID, ok1 := readU16At(payload, int64(len(payload))-6)
	ver, ok2 := readU16At(payload, int64(len(payload))-4)
	if ok1 && ok2 && hwID < 0xffff && ver < 0xffff {
		a.HWID, a.HWIDOK = hwID, true
		a.Version, a.VersionOK = ver, true
	}
}
