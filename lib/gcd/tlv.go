// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package gcd implements the GCD container codec: the tag-length-value
// record stream, its self-describing schema/descriptor meta-format,
// the running-checksum rectifier discipline, and the recipe
// dump/compile round trip.
package gcd

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"git.lukeshu.dev/gcd-rec/lib/binformat"
	"git.lukeshu.dev/gcd-rec/lib/containers"
	"git.lukeshu.dev/gcd-rec/lib/recipe"
)

// TLVType is the on-disk 16-bit record tag.
type TLVType uint16

const (
	TypeRectifier         TLVType = 0x0001
	TypePadding           TLVType = 0x0002
	TypePartNumber        TLVType = 0x0003
	TypeCopyright         TLVType = 0x0005
	TypeSchema            TLVType = 0x0006
	TypeDescriptor        TLVType = 0x0007
	TypeComponentFirmware TLVType = 0x0401
	TypeEOF               TLVType = 0xffff
)

// singularBinaryTypes holds the known binary-region type_ids that
// don't fall in one of the two contiguous ranges handled separately
// below.
var singularBinaryTypes = containers.NewSet(
	TLVType(0x0008), TLVType(0x02bd), TLVType(0x0505), TLVType(0x0510),
	TLVType(0x051b), TLVType(0x052b), TLVType(0x0533), TLVType(0x0549),
	TypeComponentFirmware,
)

// isBinaryType reports whether type_id is one of the record types
// that carries a (chunk of a) binary region, bound to the preceding
// descriptor. This includes the component-firmware variant: it's
// structurally a binary region with extra header fields, not a
// separately-linked kind of record.
func isBinaryType(t TLVType) bool {
	switch {
	case singularBinaryTypes.Has(t):
		return true
	case t >= 0x0555 && t <= 0x05fe:
		return true
	case t >= 0x07d1 && t <= 0x07d3:
		return true
	default:
		return false
	}
}

// Record is the common contract every TLV variant satisfies: a
// header/value serialize pair, and a recipe dump/load pair. The
// concrete type is selected by type_id via NewRecord, mirroring the
// tagged-dispatch-by-type_id idiom used for parsing any self-describing
// record stream.
type Record interface {
	TypeID() TLVType
	Offset() int64
	Value() []byte
	SetValue([]byte) error
	Header() [4]byte
	Dump() []recipe.Field
	LoadDump(fields []recipe.Field) error
}

type base struct {
	typeID TLVType
	offset int64
	value  []byte
}

func (b *base) TypeID() TLVType  { return b.typeID }
func (b *base) Offset() int64    { return b.offset }
func (b *base) Value() []byte    { return b.value }
func (b *base) SetValue(v []byte) error {
	b.value = v
	return nil
}

func (b *base) Header() [4]byte {
	var h [4]byte
	binary.LittleEndian.PutUint16(h[0:2], uint16(b.typeID))
	binary.LittleEndian.PutUint16(h[2:4], uint16(len(b.value)))
	return h
}

// genericDump is the fallback recipe rendering shared by every variant
// that doesn't override Dump: the type, its length, and its raw bytes
// as space-separated hex.
func (b *base) genericDump() []recipe.Field {
	return []recipe.Field{
		{Key: "type", Value: fmt.Sprintf("0x%04x", uint16(b.typeID))},
		{Key: "length", Value: fmt.Sprintf("%d", len(b.value))},
		{Key: "value", Value: hexDump(b.value)},
	}
}

func (b *base) genericLoadDump(fields []recipe.Field) error {
	for _, f := range fields {
		if f.Key == "value" {
			v, err := hexUndump(f.Value)
			if err != nil {
				return fmt.Errorf("gcd: field %q: %w", f.Key, err)
			}
			b.value = v
		}
	}
	return nil
}

func hexDump(b []byte) string {
	h := hex.EncodeToString(b)
	var sb strings.Builder
	for i := 0; i < len(h); i += 2 {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(h[i : i+2])
	}
	return sb.String()
}

func hexUndump(s string) ([]byte, error) {
	return hex.DecodeString(strings.ReplaceAll(s, " ", ""))
}

// NewRecord constructs the variant for type_id, with no value set yet.
func NewRecord(typeID TLVType, offset int64) Record {
	b := base{typeID: typeID, offset: offset}
	switch {
	case typeID == TypeRectifier:
		return &Rectifier{base: b}
	case typeID == TypePadding:
		return &Padding{base: b}
	case typeID == TypeCopyright:
		return &Copyright{base: b}
	case typeID == TypeSchema:
		return &Schema{base: b}
	case typeID == TypeDescriptor:
		return &Descriptor{base: b}
	case typeID == TypeComponentFirmware:
		return &ComponentFirmware{base: b}
	case typeID == TypeEOF:
		return &EOF{base: b}
	case isBinaryType(typeID):
		return &Binary{base: b}
	default:
		// includes TypePartNumber and every unclassified type_id
		return &Generic{base: b}
	}
}

// CreateFromDump rebuilds a single non-binary record from the fields
// of a recipe block: it reads the "type" key to pick the variant, then
// delegates to that variant's LoadDump.
func CreateFromDump(fields []recipe.Field) (Record, error) {
	var typeID *TLVType
	for _, f := range fields {
		if f.Key == "type" {
			var v uint64
			if _, err := fmt.Sscanf(f.Value, "0x%x", &v); err != nil {
				return nil, fmt.Errorf("gcd: field %q: %w", f.Key, err)
			}
			t := TLVType(v)
			typeID = &t
		}
	}
	if typeID == nil {
		return nil, fmt.Errorf("gcd: recipe block has no \"type\" field")
	}
	rec := NewRecord(*typeID, 0)
	if err := rec.LoadDump(fields); err != nil {
		return nil, err
	}
	return rec, nil
}

// Rectifier (type 0x0001): one payload byte chosen so the running sum
// is zero at this position. Never carries a value in a recipe dump:
// compile always recomputes it via Gcd.FixChecksums.
type Rectifier struct{ base }

func (r *Rectifier) Byte() uint8 {
	if len(r.value) == 0 {
		return 0
	}
	return r.value[0]
}

func (r *Rectifier) Dump() []recipe.Field {
	return []recipe.Field{{Key: "type", Value: "0x0001", Comment: "Checksum rectifier"}}
}

func (r *Rectifier) LoadDump([]recipe.Field) error {
	r.value = []byte{0x00}
	return nil
}

// Padding (type 0x0002): N bytes of 0x00.
type Padding struct{ base }

func (p *Padding) Dump() []recipe.Field {
	return []recipe.Field{
		{Key: "type", Value: "0x0002", Comment: "Padding"},
		{Key: "length", Value: fmt.Sprintf("%d", len(p.value)), Comment: "Length of padding block"},
	}
}

func (p *Padding) LoadDump(fields []recipe.Field) error {
	for _, f := range fields {
		if f.Key == "length" {
			var n int
			if _, err := fmt.Sscanf(f.Value, "%d", &n); err != nil {
				return fmt.Errorf("gcd: padding field %q: %w", f.Key, err)
			}
			p.value = make([]byte, n)
		}
	}
	return nil
}

// Copyright (type 0x0005): UTF-8 copyright text.
type Copyright struct{ base }

// DefaultCopyright is the boilerplate text observed in the wild.
const DefaultCopyright = "Copyright 1996-2017 by Garmin Ltd. or its subsidiaries."

func (c *Copyright) Text() string { return string(c.value) }

func (c *Copyright) Dump() []recipe.Field {
	return []recipe.Field{
		{Key: "type", Value: "0x0005", Comment: "Copyright notice"},
		{Key: "length", Value: fmt.Sprintf("%d", len(c.value))},
		{Key: "text", Value: c.Text()},
	}
}

func (c *Copyright) LoadDump(fields []recipe.Field) error {
	for _, f := range fields {
		if f.Key == "text" {
			c.value = []byte(f.Value)
		}
	}
	return nil
}

// EOF (type 0xffff): empty, terminates the stream.
type EOF struct{ base }

func (e *EOF) Dump() []recipe.Field           { return nil }
func (e *EOF) LoadDump([]recipe.Field) error { e.value = nil; return nil }

// Generic is the fallback for any type_id without a dedicated variant
// (including the opaque 9-byte part-number record), and for any
// record whose variant has no further structure to expose.
type Generic struct{ base }

func (g *Generic) Dump() []recipe.Field              { return g.genericDump() }
func (g *Generic) LoadDump(fields []recipe.Field) error { return g.genericLoadDump(fields) }

// Schema (type 0x0006): an ordered list of field_ids (u16le each),
// terminated by TerminatorFieldID, declaring the shape of the
// Descriptor record that immediately follows it. Mirrors the fact
// that neither Schema nor Descriptor renders anything of its own to a
// recipe block: the joint field=value listing a human edits is
// synthesized at the container level (Gcd.DumpToRecipe), from reading
// the pair of records together, and split back into this pair by
// BuildSchemaAndDescriptor.
type Schema struct{ base }

// FieldIDs decodes the field_id list this schema declares, in order,
// stopping at (and excluding) the terminator. Field_ids are 2 bytes
// each, so the payload length must be even.
func (s *Schema) FieldIDs() ([]uint16, error) {
	if len(s.value)%2 != 0 {
		return nil, &binformat.InvalidSchemaLengthError{Offset: s.offset, Length: len(s.value)}
	}
	var ids []uint16
	for off := 0; off+2 <= len(s.value); off += 2 {
		fid := binary.LittleEndian.Uint16(s.value[off : off+2])
		if fid == TerminatorFieldID {
			return ids, nil
		}
		ids = append(ids, fid)
	}
	return nil, &binformat.TruncatedStreamError{Container: "gcd.Schema", Offset: s.offset, Want: 2, Got: len(s.value) % 2}
}

func (s *Schema) Dump() []recipe.Field              { return nil }
func (s *Schema) LoadDump(fields []recipe.Field) error { return nil }

// Descriptor (type 0x0007): the concatenated field values for the
// preceding Schema's field_id list, each sized per that field's
// slotKind.
type Descriptor struct{ base }

// Fields decodes this descriptor's payload against schema's field_id
// list, returning each field's raw value bytes keyed by field_id.
func (d *Descriptor) Fields(schema *Schema) (map[uint16][]byte, error) {
	ids, err := schema.FieldIDs()
	if err != nil {
		return nil, err
	}
	out := make(map[uint16][]byte, len(ids))
	off := 0
	for _, fid := range ids {
		spec, ok := lookupField(fid)
		if !ok {
			return nil, &binformat.UnknownFieldError{Container: "gcd.Descriptor", FieldID: fid, Offset: d.offset}
		}
		n := spec.Kind.size()
		if off+n > len(d.value) {
			return nil, &binformat.TruncatedStreamError{Container: "gcd.Descriptor", Offset: d.offset, Want: n, Got: len(d.value) - off}
		}
		out[fid] = d.value[off : off+n]
		off += n
	}
	return out, nil
}

func (d *Descriptor) Dump() []recipe.Field              { return nil }
func (d *Descriptor) LoadDump(fields []recipe.Field) error { return nil }

// orderedFieldAssignment is one `0xHHHH = value` line from a recipe
// block, in file order, plus its optional comment.
type orderedFieldAssignment struct {
	FieldID uint16
	Value   string
	Comment string
}

// collectFieldAssignments extracts the ordered, 0x-prefixed field_id
// assignments from a recipe block's fields, skipping the recipe's own
// bookkeeping keys ("from_file" among them). The resulting order is
// exactly the Schema's field_id order.
func collectFieldAssignments(fields []recipe.Field) ([]orderedFieldAssignment, error) {
	var out []orderedFieldAssignment
	for _, f := range fields {
		if !strings.HasPrefix(f.Key, "0x") {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimPrefix(f.Key, "0x"), 16, 16)
		if err != nil {
			return nil, fmt.Errorf("gcd: field key %q: %w", f.Key, err)
		}
		out = append(out, orderedFieldAssignment{FieldID: uint16(v), Value: f.Value, Comment: f.Comment})
	}
	return out, nil
}

// BuildSchemaAndDescriptor synthesizes a matched Schema/Descriptor
// pair from a recipe block's ordered field assignments. This is the
// compile-side inverse of the dump-side logic in Gcd.DumpToRecipe,
// which renders a Schema/Descriptor pair back into exactly this field
// list.
func BuildSchemaAndDescriptor(fields []recipe.Field, schemaOffset, descOffset int64) (*Schema, *Descriptor, error) {
	assignments, err := collectFieldAssignments(fields)
	if err != nil {
		return nil, nil, err
	}

	schema := &Schema{base: base{typeID: TypeSchema, offset: schemaOffset}}
	desc := &Descriptor{base: base{typeID: TypeDescriptor, offset: descOffset}}

	var schemaBuf, descBuf []byte
	for _, a := range assignments {
		spec, ok := lookupField(a.FieldID)
		if !ok {
			return nil, nil, &binformat.UnknownFieldError{Container: "gcd.Descriptor", FieldID: a.FieldID, Offset: descOffset}
		}
		var idBytes [2]byte
		binary.LittleEndian.PutUint16(idBytes[:], a.FieldID)
		schemaBuf = append(schemaBuf, idBytes[:]...)

		valBytes, err := encodeFieldValue(spec.Kind, a.Value)
		if err != nil {
			return nil, nil, fmt.Errorf("gcd: field 0x%04x: %w", a.FieldID, err)
		}
		descBuf = append(descBuf, valBytes...)
	}
	var term [2]byte
	binary.LittleEndian.PutUint16(term[:], TerminatorFieldID)
	schemaBuf = append(schemaBuf, term[:]...)

	schema.value = schemaBuf
	desc.value = descBuf
	return schema, desc, nil
}

// encodeFieldValue renders a recipe field value ("123" or "0x7b") to
// its binary slot encoding, per slotKind.
func encodeFieldValue(kind slotKind, s string) ([]byte, error) {
	switch kind {
	case slotU8, slotU16, slotU32:
		n, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), hexOrDecBase(s), 64)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, kind.size())
		switch kind {
		case slotU8:
			buf[0] = uint8(n)
		case slotU16:
			binary.LittleEndian.PutUint16(buf, uint16(n))
		case slotU32:
			binary.LittleEndian.PutUint32(buf, uint32(n))
		}
		return buf, nil
	case slotBlob31:
		b, err := hexUndump(s)
		if err != nil {
			return nil, err
		}
		if len(b) != 31 {
			return nil, fmt.Errorf("blob field must be exactly 31 bytes, got %d", len(b))
		}
		return b, nil
	default:
		return nil, nil
	}
}

func hexOrDecBase(s string) int {
	if strings.HasPrefix(s, "0x") {
		return 16
	}
	return 10
}

// Binary (any isBinaryType type_id except ComponentFirmware): one
// chunk (at most MaxBlockLength bytes) of a larger binary region,
// bound to the nearest preceding Descriptor by the container.
type Binary struct{ base }

func (b *Binary) Dump() []recipe.Field              { return b.genericDump() }
func (b *Binary) LoadDump(fields []recipe.Field) error { return b.genericLoadDump(fields) }

// ComponentFirmware (type 0x0401): structurally a binary region, but
// its first chunk carries a small fixed header ahead of the firmware
// payload proper: a u32le marker (commonly 0x0000ffff) at [0:4], a
// u16le version at [4:6], and a 10-byte ASCII SKU at [10:20].
type ComponentFirmware struct{ base }

const (
	componentFirmwareMarkerOff  = 0
	componentFirmwareVersionOff = 4
	componentFirmwareSKUOff     = 10
	componentFirmwareSKULen     = 10
	componentFirmwareHeaderLen  = componentFirmwareSKUOff + componentFirmwareSKULen
)

func (c *ComponentFirmware) Marker() (uint32, error) {
	if len(c.value) < componentFirmwareHeaderLen {
		return 0, &binformat.TruncatedStreamError{Container: "gcd.ComponentFirmware", Offset: c.offset, Want: componentFirmwareHeaderLen, Got: len(c.value)}
	}
	return binary.LittleEndian.Uint32(c.value[componentFirmwareMarkerOff : componentFirmwareMarkerOff+4]), nil
}

func (c *ComponentFirmware) Version() (uint16, error) {
	if len(c.value) < componentFirmwareHeaderLen {
		return 0, &binformat.TruncatedStreamError{Container: "gcd.ComponentFirmware", Offset: c.offset, Want: componentFirmwareHeaderLen, Got: len(c.value)}
	}
	return binary.LittleEndian.Uint16(c.value[componentFirmwareVersionOff : componentFirmwareVersionOff+2]), nil
}

func (c *ComponentFirmware) SKU() (string, error) {
	if len(c.value) < componentFirmwareHeaderLen {
		return "", &binformat.TruncatedStreamError{Container: "gcd.ComponentFirmware", Offset: c.offset, Want: componentFirmwareHeaderLen, Got: len(c.value)}
	}
	return strings.TrimRight(string(c.value[componentFirmwareSKUOff:componentFirmwareSKUOff+componentFirmwareSKULen]), "\x00"), nil
}

func (c *ComponentFirmware) Dump() []recipe.Field              { return c.genericDump() }
func (c *ComponentFirmware) LoadDump(fields []recipe.Field) error { return c.genericLoadDump(fields) }
