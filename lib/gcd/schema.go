// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package gcd

import (
	"git.lukeshu.com/go/typedsync"
)

// slotKind is the scalar type a schema field_id decodes to: uint8,
// uint16, uint32, a 31-byte opaque blob, or the zero-byte terminator.
type slotKind uint8

const (
	slotU8 slotKind = iota
	slotU16
	slotU32
	slotBlob31
	slotTerminator
)

// size returns the number of bytes a slot of this kind occupies in a
// descriptor's payload.
func (k slotKind) size() int {
	switch k {
	case slotU8:
		return 1
	case slotU16:
		return 2
	case slotU32:
		return 4
	case slotBlob31:
		return 31
	case slotTerminator:
		return 0
	default:
		return 0
	}
}

// fieldSpec describes one entry of the fixed field-id table.
type fieldSpec struct {
	Kind  slotKind
	Label string
}

// TerminatorFieldID is the field_id that ends a schema's field list.
const TerminatorFieldID = 0x5003

// fieldTable holds the design-time-fixed field_id -> fieldSpec
// mapping. It is populated once from init and never written again, so
// a typedsync.Map documents (via its type, not a comment) that this is
// a build-once/read-only table: the zero value is safe for concurrent
// reads without relying on init-order to happen-before every goroutine
// that might touch it.
var fieldTable typedsync.Map[uint16, fieldSpec]

func init() {
	for fid, spec := range map[uint16]fieldSpec{
		0x000a: {slotU8, "XOR flag/value"},
		0x000b: {slotU8, "Reset/Downgrade flag"},
		0x000c: {slotU8, ""},
		0x0020: {slotU8, ""},
		0x1009: {slotU16, "Device hw_id"},
		0x100a: {slotU16, "Block type"},
		0x100d: {slotU16, "Firmware version"},
		0x2015: {slotU32, "Binary length"},
		0x4007: {slotBlob31, ""},
		TerminatorFieldID: {slotTerminator, "End of definition marker"},
	} {
		fieldTable.Store(fid, spec)
	}
}

// lookupField resolves a field_id to its fieldSpec, falling back to
// two open ranges of assorted structurally-regular fields whose
// individual semantics aren't asserted.
func lookupField(fid uint16) (fieldSpec, bool) {
	if spec, ok := fieldTable.Load(fid); ok {
		return spec, ok
	}
	switch {
	case fid >= 0x100c && fid <= 0x1016:
		return fieldSpec{Kind: slotU16}, true
	case fid >= 0x2017 && fid <= 0x201a:
		return fieldSpec{Kind: slotU32}, true
	}
	return fieldSpec{}, false
}

// BinaryLengthFieldID is the schema slot that carries the descriptor's
// declared cumulative binary length.
const BinaryLengthFieldID = 0x2015

// BlockTypeFieldID is the schema slot that carries the binary_type_id
// of the following binary region records.
const BlockTypeFieldID = 0x100a

// HWIDFieldID is the schema slot that carries the device hw_id, the
// only slot PrintStructFull resolves through an hwid.Table.
const HWIDFieldID = 0x1009
