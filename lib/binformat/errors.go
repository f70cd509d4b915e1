// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package binformat holds the error taxonomy shared by the GCD, RGN,
// and BIN container codecs: typed, wrapped errors that carry enough
// context (container, offset, expected/actual) for a caller to react
// programmatically via errors.As, rather than string-matching.
package binformat

import "fmt"

// SignatureMismatchError means a container's magic bytes didn't match
// what was expected. Fatal for that container.
type SignatureMismatchError struct {
	Container string
	Offset    int64
	Expected  []byte
	Actual    []byte
}

func (e *SignatureMismatchError) Error() string {
	return fmt.Sprintf("%s: signature mismatch at offset %#x: expected % x, got % x",
		e.Container, e.Offset, e.Expected, e.Actual)
}

// TruncatedStreamError means fewer bytes were available than a
// record's declared length.
type TruncatedStreamError struct {
	Container string
	Offset    int64
	Want      int
	Got       int
	Err       error
}

func (e *TruncatedStreamError) Error() string {
	msg := fmt.Sprintf("%s: truncated stream at offset %#x: wanted %d bytes, got %d",
		e.Container, e.Offset, e.Want, e.Got)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TruncatedStreamError) Unwrap() error { return e.Err }

// UnknownFieldError means a schema record referenced a field_id with
// no entry in the fixed field-type table. Fatal: the layout is
// unrecoverable without the full table.
type UnknownFieldError struct {
	Container string
	FieldID   uint16
	Offset    int64
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("%s: unknown field_id 0x%04x at offset %#x", e.Container, e.FieldID, e.Offset)
}

// UnknownRecordTypeError means a record type tag wasn't in the known
// set for that container. Fatal: we do not guess.
type UnknownRecordTypeError struct {
	Container string
	Type      byte
	Offset    int64
}

func (e *UnknownRecordTypeError) Error() string {
	return fmt.Sprintf("%s: unknown record type %q at offset %#x", e.Container, e.Type, e.Offset)
}

// InvalidSchemaLengthError means a type-6 schema payload had an odd
// length (field_ids are 2 bytes each).
type InvalidSchemaLengthError struct {
	Offset int64
	Length int
}

func (e *InvalidSchemaLengthError) Error() string {
	return fmt.Sprintf("gcd: schema at offset %#x has odd payload length %d", e.Offset, e.Length)
}

// BindingMissingError means a descriptor had no preceding schema, or a
// binary region had no preceding descriptor.
type BindingMissingError struct {
	Container string
	Kind      string
	Offset    int64
}

func (e *BindingMissingError) Error() string {
	return fmt.Sprintf("%s: %s at offset %#x has no preceding binding", e.Container, e.Kind, e.Offset)
}

// ChecksumMismatchError means a rectifier's expected and actual
// payload bytes disagreed. Reported, but does not abort validation of
// sibling records.
type ChecksumMismatchError struct {
	Offset   int64
	Expected uint8
	Actual   uint8
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("gcd: checksum mismatch at offset %#x: expected 0x%02x, got 0x%02x",
		e.Offset, e.Expected, e.Actual)
}

// LayoutUnrecognizedError means a BIN payload's first instruction word
// matched none of the known layout variants, or matched a variant whose
// required end marker is absent from the payload. Not fatal: hw_id/version
// are simply left unset.
type LayoutUnrecognizedError struct {
	FirstWord uint32
}

func (e *LayoutUnrecognizedError) Error() string {
	return fmt.Sprintf("rgnbin: unrecognized layout, first word 0x%08x", e.FirstWord)
}

// OffsetOutOfBoundsError means a computed metadata offset fell outside
// the payload. Not fatal: hw_id/version are left unset.
type OffsetOutOfBoundsError struct {
	Offset     int64
	PayloadLen int
}

func (e *OffsetOutOfBoundsError) Error() string {
	return fmt.Sprintf("rgnbin: computed offset %#x out of bounds for payload of length %#x",
		e.Offset, e.PayloadLen)
}
