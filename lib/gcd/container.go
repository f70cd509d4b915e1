// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package gcd

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"git.lukeshu.dev/gcd-rec/lib/binformat"
	"git.lukeshu.dev/gcd-rec/lib/chksum"
	"git.lukeshu.dev/gcd-rec/lib/hwid"
	"git.lukeshu.dev/gcd-rec/lib/recipe"
	"git.lukeshu.dev/gcd-rec/lib/textui"

	"github.com/datawire/dlib/dlog"
)

// Signature is the 8-byte magic every GCD container begins with:
// "GARMINd\x00".
var Signature = [8]byte{'G', 'A', 'R', 'M', 'I', 'N', 'd', 0x00}

// MaxBlockLength is the maximum payload length of a single binary
// region record; a logical binary longer than this is split across
// consecutive records of the same type_id.
const MaxBlockLength = 0xff00

// Gcd is a parsed GCD container: an ordered sequence of TLV records,
// plus non-owning schema/descriptor/binary back-links. The container
// owns every record's bytes; links are indices into Records, valid
// for the container's lifetime.
type Gcd struct {
	Records []Record

	// schemaOf/descriptorOf map a Descriptor/Binary record's index
	// to the index of the schema/descriptor it's bound to. Absent
	// entries mean "unbound" (a parse or compile defect).
	schemaOf     map[int]int
	descriptorOf map[int]int
}

// Parse reads a full GCD container from r: signature check, then a
// header/value loop, binding each descriptor to the nearest preceding
// schema and each binary region to the nearest preceding descriptor.
func Parse(ctx context.Context, r io.Reader) (*Gcd, error) {
	br := bufio.NewReader(r)

	var sig [8]byte
	if _, err := io.ReadFull(br, sig[:]); err != nil {
		return nil, &binformat.TruncatedStreamError{Container: "gcd", Offset: 0, Want: 8, Got: 0, Err: err}
	}
	if sig != Signature {
		return nil, &binformat.SignatureMismatchError{Container: "gcd", Offset: 0, Expected: Signature[:], Actual: sig[:]}
	}

	g := &Gcd{
		schemaOf:     map[int]int{},
		descriptorOf: map[int]int{},
	}
	var offset int64 = 8
	lastSchema := -1
	lastDescriptor := -1
	for {
		curOffset := offset
		var hdr [4]byte
		n, err := io.ReadFull(br, hdr[:])
		if err != nil {
			if n == 0 && err == io.EOF {
				return nil, &binformat.TruncatedStreamError{Container: "gcd", Offset: curOffset, Want: 4, Got: 0, Err: fmt.Errorf("missing EOF record")}
			}
			return nil, &binformat.TruncatedStreamError{Container: "gcd", Offset: curOffset, Want: 4, Got: n, Err: err}
		}
		offset += 4
		typeID := TLVType(binary.LittleEndian.Uint16(hdr[0:2]))
		length := int(binary.LittleEndian.Uint16(hdr[2:4]))

		rec := NewRecord(typeID, curOffset)
		idx := len(g.Records)
		g.Records = append(g.Records, rec)

		if typeID == TypeEOF {
			dlog.Debugf(ctx, "gcd: parsed %d records, terminated by EOF at offset %#x", len(g.Records), curOffset)
			break
		}

		payload := make([]byte, length)
		if n, err := io.ReadFull(br, payload); err != nil {
			return nil, &binformat.TruncatedStreamError{Container: "gcd", Offset: offset, Want: length, Got: n, Err: err}
		}
		offset += int64(length)
		if err := rec.SetValue(payload); err != nil {
			return nil, fmt.Errorf("gcd: record at offset %#x: %w", curOffset, err)
		}

		switch typeID {
		case TypeSchema:
			lastSchema = idx
		case TypeDescriptor:
			if lastSchema < 0 {
				return nil, &binformat.BindingMissingError{Container: "gcd", Kind: "descriptor", Offset: curOffset}
			}
			g.schemaOf[idx] = lastSchema
			lastDescriptor = idx
		default:
			if isBinaryType(typeID) {
				if lastDescriptor < 0 {
					return nil, &binformat.BindingMissingError{Container: "gcd", Kind: "binary region", Offset: curOffset}
				}
				g.descriptorOf[idx] = lastDescriptor
			}
		}
	}
	return g, nil
}

// Write serializes the container: signature, each record's
// header+value in stream order, ending in the EOF record's `ff ff 00
// 00` footer (already present as the final Records entry).
func (g *Gcd) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(Signature[:]); err != nil {
		return err
	}
	for _, rec := range g.Records {
		hdr := rec.Header()
		if _, err := bw.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := bw.Write(rec.Value()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Validate folds the signature and every record into a ChkSum in
// stream order, checking each rectifier's payload byte against the
// sum's expected-last-byte snapshot taken right after that rectifier's
// header (and before its own payload byte) is folded in. Checksum
// mismatches are reported, not fatal: validation continues over every
// rectifier.
func (g *Gcd) Validate(ctx context.Context) (bool, []error) {
	cs := chksum.New()
	cs.Add(Signature[:])

	var problems []error
	ok := true
	for _, rec := range g.Records {
		hdr := rec.Header()
		cs.Add(hdr[:])
		if r, isRect := rec.(*Rectifier); isRect {
			expected := cs.ExpectedLastByte()
			actual := r.Byte()
			if expected != actual {
				ok = false
				err := &binformat.ChecksumMismatchError{Offset: rec.Offset(), Expected: expected, Actual: actual}
				problems = append(problems, err)
				dlog.Warnf(ctx, "%s", err)
			}
		}
		cs.Add(rec.Value())
	}
	return ok, problems
}

// FixChecksums re-walks the record sequence, recomputing every
// rectifier's payload byte so the running sum is zero at that
// position. This is always the final pass of a compile: any earlier
// structural change shifts the sums downstream of it.
func (g *Gcd) FixChecksums() {
	cs := chksum.New()
	cs.Add(Signature[:])
	for _, rec := range g.Records {
		hdr := rec.Header()
		cs.Add(hdr[:])
		if r, isRect := rec.(*Rectifier); isRect {
			b := cs.ExpectedLastByte()
			r.value = []byte{b}
			cs.Add(r.value)
			continue
		}
		cs.Add(rec.Value())
	}
}

// PrettyPrint writes a collapsed-run summary: consecutive records of
// the same type_id are folded into one line with a count and
// cumulative payload size.
func (g *Gcd) PrettyPrint(w io.Writer) error {
	flush := func(startIdx int, runType TLVType, count int, totalLen int) {
		label := textui.PadColumn(fmt.Sprintf("#%03d:", startIdx), 7)
		typeCol := textui.PadColumn(fmt.Sprintf("type 0x%04x", uint16(runType)), 14)
		if count == 1 {
			fmt.Fprintf(w, "%s%s%d bytes\n", label, typeCol, totalLen)
			return
		}
		fmt.Fprintf(w, "%s%s+%d more (%d bytes total payload)\n", label, typeCol, count-1, totalLen)
	}

	runStart := -1
	var runType TLVType
	runCount := 0
	runLen := 0
	for i, rec := range g.Records {
		if runCount > 0 && rec.TypeID() == runType {
			runCount++
			runLen += len(rec.Value())
			continue
		}
		if runCount > 0 {
			flush(runStart, runType, runCount, runLen)
		}
		runStart = i
		runType = rec.TypeID()
		runCount = 1
		runLen = len(rec.Value())
	}
	if runCount > 0 {
		flush(runStart, runType, runCount, runLen)
	}
	return nil
}

// PrintStructFull is the verbose counterpart to PrettyPrint: for every
// record it additionally renders the per-slot breakdown of
// schema/descriptor pairs (field label, raw value, and for the 0x1009
// hw_id slot a resolved device name via hwTable).
func (g *Gcd) PrintStructFull(w io.Writer, hwTable hwid.Table) error {
	for i, rec := range g.Records {
		fmt.Fprintf(w, "#%03d: type 0x%04x, %d bytes\n", i, uint16(rec.TypeID()), len(rec.Value()))
		desc, ok := rec.(*Descriptor)
		if !ok {
			continue
		}
		schemaIdx, ok := g.schemaOf[i]
		if !ok {
			continue
		}
		schema, ok := g.Records[schemaIdx].(*Schema)
		if !ok {
			continue
		}
		ids, err := schema.FieldIDs()
		if err != nil {
			fmt.Fprintf(w, "  <schema error: %v>\n", err)
			continue
		}
		fields, err := desc.Fields(schema)
		if err != nil {
			fmt.Fprintf(w, "  <descriptor error: %v>\n", err)
			continue
		}
		for n, fid := range ids {
			spec, _ := lookupField(fid)
			raw := fields[fid]
			label := spec.Label
			if label == "" {
				label = "(unlabeled)"
			}
			line := fmt.Sprintf("  Field %d: 0x%04x %s: % x", n, fid, label, raw)
			if fid == HWIDFieldID && hwTable != nil && len(raw) == 2 {
				hwID := binary.LittleEndian.Uint16(raw)
				if name, ok := hwTable.Name(hwID); ok {
					line += fmt.Sprintf(" (%s)", name)
				}
			}
			fmt.Fprintln(w, line)
		}
	}
	return nil
}

// DumpToRecipe disassembles the container into a Recipe plus
// per-binary-region side files, written under dir with names built
// from basename; originalFilename is recorded in the header section.
// Schema/descriptor records contribute
// no section of their own: their field data folds onto the following
// binary region's section instead. Runs of consecutive binary regions
// of the same type concatenate into one side file.
func (g *Gcd) DumpToRecipe(dir, basename, originalFilename string) (*recipe.Recipe, error) {
	rcp := &recipe.Recipe{
		Header: recipe.Section{
			Name: recipe.HeaderSectionName,
			Fields: []recipe.Field{
				{Key: "dump_by", Value: "grmn-gcd"},
				{Key: "dump_ver", Value: "1"},
				{Key: "original_filename", Value: originalFilename},
			},
		},
	}

	blockN := 1
	i := 0
	for i < len(g.Records) {
		rec := g.Records[i]
		switch rec.(type) {
		case *Schema:
			// Consumed together with its Descriptor below.
			i++
		case *Descriptor:
			fields, sideFile, _, err := g.dumpBoundBinary(dir, basename, i)
			if err != nil {
				return nil, err
			}
			sec := recipe.Section{Name: recipe.BlockName(blockN)}
			if sideFile != "" {
				sec.Fields = append(sec.Fields, recipe.Field{Key: "from_file", Value: sideFile})
			}
			sec.Fields = append(sec.Fields, fields...)
			rcp.Blocks = append(rcp.Blocks, sec)
			blockN++
			i = g.skipBoundBinaryRun(i)
		case *EOF:
			i++
		default:
			sec := recipe.Section{Name: recipe.BlockName(blockN), Fields: rec.Dump()}
			rcp.Blocks = append(rcp.Blocks, sec)
			blockN++
			i++
		}
	}
	return rcp, nil
}

// dumpBoundBinary renders descriptor index descIdx's field=value pairs
// (in schema order, each with its label as a comment) and, if any
// binary region records are bound to it, concatenates their payload
// to a side file under dir and returns its path relative to dir.
func (g *Gcd) dumpBoundBinary(dir, basename string, descIdx int) ([]recipe.Field, string, TLVType, error) {
	desc := g.Records[descIdx].(*Descriptor)
	schemaIdx, ok := g.schemaOf[descIdx]
	if !ok {
		return nil, "", 0, &binformat.BindingMissingError{Container: "gcd", Kind: "descriptor", Offset: desc.Offset()}
	}
	schema := g.Records[schemaIdx].(*Schema)
	ids, err := schema.FieldIDs()
	if err != nil {
		return nil, "", 0, err
	}
	rawFields, err := desc.Fields(schema)
	if err != nil {
		return nil, "", 0, err
	}

	var fields []recipe.Field
	for _, fid := range ids {
		spec, _ := lookupField(fid)
		fields = append(fields, recipe.Field{
			Key:     fmt.Sprintf("0x%04x", fid),
			Value:   formatFieldValue(spec.Kind, rawFields[fid]),
			Comment: spec.Label,
		})
	}

	var binType TLVType
	var payload []byte
	for j := descIdx + 1; j < len(g.Records); j++ {
		rec := g.Records[j]
		bound, ok := g.descriptorOf[j]
		if !ok || bound != descIdx {
			break
		}
		binType = rec.TypeID()
		payload = append(payload, rec.Value()...)
	}
	if len(payload) == 0 && binType == 0 {
		return fields, "", 0, nil
	}

	sideFile := fmt.Sprintf("%s_%04x.bin", basename, uint16(binType))
	if err := os.WriteFile(filepath.Join(dir, sideFile), payload, 0o644); err != nil {
		return nil, "", 0, fmt.Errorf("gcd: writing side file: %w", err)
	}
	return fields, sideFile, binType, nil
}

// skipBoundBinaryRun returns the index just past descriptor i and
// every binary region record bound to it.
func (g *Gcd) skipBoundBinaryRun(descIdx int) int {
	j := descIdx + 1
	for j < len(g.Records) {
		bound, ok := g.descriptorOf[j]
		if !ok || bound != descIdx {
			break
		}
		j++
	}
	return j
}

// DebugRecord is one record's JSON-friendly debug rendering: every
// byte of the record plus, for a descriptor bound to a schema, its
// decoded slot breakdown. Used by the `spew --json` debug dump as a
// machine-readable alternative to PrintStructFull's text rendering.
type DebugRecord struct {
	Index  int    `json:"index"`
	Type   uint16 `json:"type"`
	Offset int64  `json:"offset"`
	Length int    `json:"length"`
	Value  string `json:"value"`

	Fields []DebugField `json:"fields,omitempty"`
}

// DebugField is one decoded slot of a descriptor record, keyed by the
// bound schema's field_id order.
type DebugField struct {
	FieldID uint16 `json:"field_id"`
	Label   string `json:"label,omitempty"`
	Value   string `json:"value"`
}

// DebugDump renders every record, in stream order, into a JSON-ready
// slice: the same information PrintStructFull prints as text, without
// an hwid.Table lookup (that's a presentation concern, not decode
// data).
func (g *Gcd) DebugDump() ([]DebugRecord, error) {
	out := make([]DebugRecord, 0, len(g.Records))
	for i, rec := range g.Records {
		dr := DebugRecord{
			Index:  i,
			Type:   uint16(rec.TypeID()),
			Offset: rec.Offset(),
			Length: len(rec.Value()),
			Value:  hexDump(rec.Value()),
		}

		if desc, ok := rec.(*Descriptor); ok {
			if schemaIdx, ok := g.schemaOf[i]; ok {
				schema := g.Records[schemaIdx].(*Schema)
				ids, err := schema.FieldIDs()
				if err != nil {
					return nil, err
				}
				fields, err := desc.Fields(schema)
				if err != nil {
					return nil, err
				}
				for _, fid := range ids {
					spec, _ := lookupField(fid)
					dr.Fields = append(dr.Fields, DebugField{
						FieldID: fid,
						Label:   spec.Label,
						Value:   formatFieldValue(spec.Kind, fields[fid]),
					})
				}
			}
		}

		out = append(out, dr)
	}
	return out, nil
}

func formatFieldValue(kind slotKind, raw []byte) string {
	switch kind {
	case slotU8:
		if len(raw) == 1 {
			return fmt.Sprintf("0x%02x", raw[0])
		}
	case slotU16:
		if len(raw) == 2 {
			return fmt.Sprintf("0x%04x", binary.LittleEndian.Uint16(raw))
		}
	case slotU32:
		if len(raw) == 4 {
			return fmt.Sprintf("0x%08x", binary.LittleEndian.Uint32(raw))
		}
	case slotBlob31:
		return hexDump(raw)
	}
	return hexDump(raw)
}

// CompileFromRecipe reassembles a Gcd from rcp, resolving any
// `from_file` side files relative to dir. Structure is assembled and
// binaries chunked first, descriptors are back-patched with the total
// bytes written (slot 0x2015), and FixChecksums is run last, only
// once the whole structure (and thus every record's header) is final.
func CompileFromRecipe(dir string, rcp *recipe.Recipe) (*Gcd, error) {
	if ver, ok := rcp.Header.Get("dump_ver"); !ok || ver != "1" {
		return nil, fmt.Errorf("gcd: recipe dump_ver %q is not supported (want \"1\")", ver)
	}

	g := &Gcd{schemaOf: map[int]int{}, descriptorOf: map[int]int{}}

	for _, block := range rcp.Blocks {
		if block.Has("from_file") || hasFieldAssignments(block) {
			if err := g.compileDescriptorBlock(dir, block); err != nil {
				return nil, fmt.Errorf("gcd: block %s: %w", block.Name, err)
			}
			continue
		}
		rec, err := CreateFromDump(block.Fields)
		if err != nil {
			return nil, fmt.Errorf("gcd: block %s: %w", block.Name, err)
		}
		g.Records = append(g.Records, rec)
	}
	g.Records = append(g.Records, &EOF{base: base{typeID: TypeEOF}})

	g.FixChecksums()
	return g, nil
}

// hasFieldAssignments reports whether block carries any 0x-prefixed
// descriptor slot assignments.
func hasFieldAssignments(block recipe.Section) bool {
	for _, f := range block.Fields {
		if strings.HasPrefix(f.Key, "0x") {
			return true
		}
	}
	return false
}

// compileDescriptorBlock synthesizes a Schema/Descriptor pair from
// block's field=value pairs and, if the block names a side file, reads
// it and appends one or more binary region records chunked to
// MaxBlockLength, then back-patches the descriptor's 0x2015 slot with
// the total length written. A block with slot assignments but no
// from_file rebuilds just the pair, keeping the dumped slot values
// untouched.
func (g *Gcd) compileDescriptorBlock(dir string, block recipe.Section) error {
	schemaIdx := len(g.Records)
	descIdx := schemaIdx + 1
	schema, desc, err := BuildSchemaAndDescriptor(block.Fields, 0, 0)
	if err != nil {
		return err
	}
	g.Records = append(g.Records, schema, desc)
	g.schemaOf[descIdx] = schemaIdx

	fromFile, ok := block.Get("from_file")
	if !ok {
		return nil
	}

	blockType, ok := block.Get(fmt.Sprintf("0x%04x", BlockTypeFieldID))
	if !ok {
		return fmt.Errorf("block has from_file but no 0x%04x (block type) field", BlockTypeFieldID)
	}
	var binTypeVal uint64
	if _, err := fmt.Sscanf(blockType, "0x%x", &binTypeVal); err != nil {
		return fmt.Errorf("parsing block type field: %w", err)
	}
	binType := TLVType(binTypeVal)
	data, err := os.ReadFile(filepath.Join(dir, fromFile))
	if err != nil {
		return fmt.Errorf("reading side file %q: %w", fromFile, err)
	}

	chunks := chunkBytes(data, MaxBlockLength)
	for _, chunk := range chunks {
		idx := len(g.Records)
		rec := NewRecord(binType, 0)
		if err := rec.SetValue(chunk); err != nil {
			return err
		}
		g.Records = append(g.Records, rec)
		g.descriptorOf[idx] = descIdx
	}

	return desc.SetBinaryLength(schema, uint32(len(data)))
}

// chunkBytes splits data into chunks of at most maxLen bytes each (the
// last chunk may be shorter), preserving order. An empty input yields
// a single empty chunk, so a zero-length binary region still gets one
// record.
func chunkBytes(data []byte, maxLen int) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	var chunks [][]byte
	for off := 0; off < len(data); off += maxLen {
		end := off + maxLen
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[off:end])
	}
	return chunks
}

// SetBinaryLength rewrites the descriptor's 0x2015 slot to n while
// preserving every other slot's bytes: the slot's byte offset is
// located by walking schema's field_id list and summing preceding
// slot sizes.
func (d *Descriptor) SetBinaryLength(schema *Schema, n uint32) error {
	ids, err := schema.FieldIDs()
	if err != nil {
		return err
	}
	off := 0
	for _, fid := range ids {
		spec, ok := lookupField(fid)
		if !ok {
			return &binformat.UnknownFieldError{Container: "gcd.Descriptor", FieldID: fid, Offset: d.offset}
		}
		if fid == BinaryLengthFieldID {
			if off+4 > len(d.value) {
				return &binformat.TruncatedStreamError{Container: "gcd.Descriptor", Offset: d.offset, Want: off + 4, Got: len(d.value)}
			}
			binary.LittleEndian.PutUint32(d.value[off:off+4], n)
			return nil
		}
		off += spec.Kind.size()
	}
	return &binformat.UnknownFieldError{Container: "gcd.Descriptor", FieldID: BinaryLengthFieldID, Offset: d.offset}
}
