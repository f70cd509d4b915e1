// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rgn implements the RGN record-stream codec: the outer
// firmware-update container that wraps a GCD (or another RGN) inside
// one or more "region" records, alongside data-version and
// application-version bookkeeping records.
package rgn

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.dev/gcd-rec/lib/binformat"
	"git.lukeshu.dev/gcd-rec/lib/binstruct"
	"git.lukeshu.dev/gcd-rec/lib/binstruct/binutil"
	"git.lukeshu.dev/gcd-rec/lib/rgnbin"
)

// Signature is the 4-byte magic an RGN stream begins with, whether at
// the top level or nested inside a region record's payload.
var Signature = [4]byte{'K', 'p', 'G', 'r'}

// RecordType is the single-byte tag of an RGN stream record.
type RecordType byte

const (
	RecordTypeData   RecordType = 'D' // 2-byte data-format version
	RecordTypeApp    RecordType = 'A' // application version + three strings
	RecordTypeRegion RecordType = 'R' // a firmware region (nested RGN or BIN)
)

// recordHeader is the fixed 5-byte record header shared by every RGN
// stream record: a u32le payload length followed by a 1-byte type tag.
type recordHeader struct {
	Length        binstruct.U32le `bin:"off=0x0, siz=0x4"`
	Type          binstruct.U8    `bin:"off=0x4, siz=0x1"`
	binstruct.End `bin:"off=0x5"`
}

// regionPrefix is the fixed 10-byte prefix of an 'R' record's payload,
// ahead of the region's Size-byte contents.
type regionPrefix struct {
	RegionID      binstruct.U16le `bin:"off=0x0, siz=0x2"`
	DelayMs       binstruct.U32le `bin:"off=0x2, siz=0x4"`
	Size          binstruct.U32le `bin:"off=0x6, siz=0x4"`
	binstruct.End `bin:"off=0xa"`
}

// dataRecord is the 2-byte payload of a 'D' record.
type dataRecord struct {
	Version       binstruct.U16le `bin:"off=0x0, siz=0x2"`
	binstruct.End `bin:"off=0x2"`
}

// regionNames maps a handful of observed region_id values to their
// informal names. Informational only; the full table lives outside
// this repository, this is the subset worth hardcoding for log lines
// and pretty-printing.
var regionNames = map[uint16]string{
	0x0000: "fw_all.bin",
	0x0002: "boot.bin",
	0x0003: "dskimg.bin",
	0x0006: "logo.bin",
	0x000a: "gcd firmware container",
}

// RegionName returns the informal name for id, or "" if unknown.
func RegionName(id uint16) string {
	return regionNames[id]
}

// DataRecord ('D'): the 2-byte data-format version.
type DataRecord struct {
	Version uint16 `json:"version"`
}

// AppRecord ('A'): application version plus three NUL-delimited
// strings (builder, date, time).
type AppRecord struct {
	Version uint16 `json:"version"`
	Builder string `json:"builder"`
	Date    string `json:"date"`
	Time    string `json:"time"`
}

// RegionRecord ('R'): a declared region whose contents are either
// another RGN stream (recursively parsed into Inner) or a raw BIN
// image (analyzed into Bin). RawContents always holds the original
// bytes, so a record whose recursive/BIN interpretation fails can
// still be re-serialized unchanged.
type RegionRecord struct {
	RegionID    uint16
	DelayMs     uint32
	RawContents []byte

	Inner *Rgn             // set if RawContents begins with Signature
	Bin   *rgnbin.Analysis // set otherwise, from rgnbin.Analyze
}

// Record is the common contract satisfied by every RGN stream record
// variant, keyed by RecordType.
type Record interface {
	Type() RecordType
	Payload() ([]byte, error)
}

func (r *DataRecord) Type() RecordType { return RecordTypeData }
func (r *DataRecord) Payload() ([]byte, error) {
	d := dataRecord{Version: binstruct.U16le(r.Version)}
	return binstruct.MarshalWithoutInterface(d)
}

func (r *AppRecord) Type() RecordType { return RecordTypeApp }
func (r *AppRecord) Payload() ([]byte, error) {
	var buf bytes.Buffer
	verBytes, err := binstruct.MarshalWithoutInterface(binstruct.U16le(r.Version))
	if err != nil {
		return nil, err
	}
	buf.Write(verBytes)
	buf.WriteString(r.Builder)
	buf.WriteByte(0)
	buf.WriteString(r.Date)
	buf.WriteByte(0)
	buf.WriteString(r.Time)
	buf.WriteByte(0)
	return buf.Bytes(), nil
}

func (r *RegionRecord) Type() RecordType { return RecordTypeRegion }
func (r *RegionRecord) Payload() ([]byte, error) {
	prefix := regionPrefix{
		RegionID: binstruct.U16le(r.RegionID),
		DelayMs:  binstruct.U32le(r.DelayMs),
		Size:     binstruct.U32le(uint32(len(r.RawContents))),
	}
	hdr, err := binstruct.MarshalWithoutInterface(prefix)
	if err != nil {
		return nil, err
	}
	return append(hdr, r.RawContents...), nil
}

// Rgn is a parsed RGN record stream.
type Rgn struct {
	Version uint16
	Records []Record
}

// Parse reads a full RGN stream from r: the 4-byte signature, a
// 2-byte version, then records until EOF. Region record contents are
// recursively identified as either another RGN (if they begin with
// Signature) or a raw BIN image.
func Parse(ctx context.Context, r io.Reader) (*Rgn, error) {
	br := bufio.NewReader(r)

	var sig [4]byte
	if _, err := io.ReadFull(br, sig[:]); err != nil {
		return nil, &binformat.TruncatedStreamError{Container: "rgn", Offset: 0, Want: 4, Got: 0, Err: err}
	}
	if sig != Signature {
		return nil, &binformat.SignatureMismatchError{Container: "rgn", Offset: 0, Expected: Signature[:], Actual: sig[:]}
	}

	verBuf := make([]byte, 2)
	if _, err := io.ReadFull(br, verBuf); err != nil {
		return nil, &binformat.TruncatedStreamError{Container: "rgn", Offset: 4, Want: 2, Got: 0, Err: err}
	}
	var version binstruct.U16le
	if _, err := version.UnmarshalBinary(verBuf); err != nil {
		return nil, fmt.Errorf("rgn: version: %w", err)
	}

	g := &Rgn{Version: uint16(version)}
	var offset int64 = 6
	for {
		curOffset := offset
		hdrBuf := make([]byte, 5)
		n, err := io.ReadFull(br, hdrBuf)
		if err != nil {
			if n == 0 && err == io.EOF {
				dlog.Debugf(ctx, "rgn: parsed %d records, reached EOF at offset %#x", len(g.Records), curOffset)
				break
			}
			return nil, &binformat.TruncatedStreamError{Container: "rgn", Offset: curOffset, Want: 5, Got: n, Err: err}
		}
		offset += 5

		var hdr recordHeader
		if err := binutil.NeedNBytes(hdrBuf, 5); err != nil {
			return nil, fmt.Errorf("rgn: record header at offset %#x: %w", curOffset, err)
		}
		if _, err := binstruct.UnmarshalWithoutInterface(hdrBuf, &hdr); err != nil {
			return nil, fmt.Errorf("rgn: record header at offset %#x: %w", curOffset, err)
		}

		payload := make([]byte, int(hdr.Length))
		if n, err := io.ReadFull(br, payload); err != nil {
			return nil, &binformat.TruncatedStreamError{Container: "rgn", Offset: offset, Want: int(hdr.Length), Got: n, Err: err}
		}
		offset += int64(hdr.Length)

		rec, err := parseRecord(ctx, RecordType(hdr.Type), payload, curOffset)
		if err != nil {
			return nil, err
		}
		g.Records = append(g.Records, rec)
	}
	return g, nil
}

func parseRecord(ctx context.Context, typ RecordType, payload []byte, offset int64) (Record, error) {
	switch typ {
	case RecordTypeData:
		var d dataRecord
		if _, err := binstruct.UnmarshalWithoutInterface(payload, &d); err != nil {
			return nil, fmt.Errorf("rgn: data record at offset %#x: %w", offset, err)
		}
		return &DataRecord{Version: uint16(d.Version)}, nil
	case RecordTypeApp:
		return parseAppRecord(payload, offset)
	case RecordTypeRegion:
		return parseRegionRecord(ctx, payload, offset)
	default:
		return nil, &binformat.UnknownRecordTypeError{Container: "rgn", Type: byte(typ), Offset: offset}
	}
}

// parseAppRecord decodes a u16le version followed by three
// NUL-delimited UTF-8 strings (builder, date, time).
func parseAppRecord(payload []byte, offset int64) (*AppRecord, error) {
	if len(payload) < 2 {
		return nil, &binformat.TruncatedStreamError{Container: "rgn.AppRecord", Offset: offset, Want: 2, Got: len(payload)}
	}
	var ver binstruct.U16le
	if _, err := ver.UnmarshalBinary(payload[:2]); err != nil {
		return nil, fmt.Errorf("rgn: app record at offset %#x: %w", offset, err)
	}
	rest := string(payload[2:])
	parts := strings.SplitN(rest, "\x00", 4)
	if len(parts) < 3 {
		return nil, &binformat.TruncatedStreamError{Container: "rgn.AppRecord", Offset: offset, Want: 3, Got: len(parts)}
	}
	return &AppRecord{
		Version: uint16(ver),
		Builder: parts[0],
		Date:    parts[1],
		Time:    parts[2],
	}, nil
}

// parseRegionRecord decodes the fixed 10-byte region prefix, validates
// that Size+10 equals the full record length (payload includes the
// prefix, so Size is checked against the bytes that remain after it,
// and a mismatch is an error), then identifies the contents as a
// nested RGN or a BIN image.
func parseRegionRecord(ctx context.Context, payload []byte, offset int64) (*RegionRecord, error) {
	if len(payload) < 10 {
		return nil, &binformat.TruncatedStreamError{Container: "rgn.RegionRecord", Offset: offset, Want: 10, Got: len(payload)}
	}
	var prefix regionPrefix
	if _, err := binstruct.UnmarshalWithoutInterface(payload[:10], &prefix); err != nil {
		return nil, fmt.Errorf("rgn: region record at offset %#x: %w", offset, err)
	}
	contents := payload[10:]
	if int(prefix.Size) != len(contents) {
		return nil, fmt.Errorf("rgn: region record at offset %#x: declared size %d but got %d bytes of contents",
			offset, uint32(prefix.Size), len(contents))
	}

	rec := &RegionRecord{
		RegionID:    uint16(prefix.RegionID),
		DelayMs:     uint32(prefix.DelayMs),
		RawContents: contents,
	}

	if len(contents) >= 4 && bytes.Equal(contents[:4], Signature[:]) {
		inner, err := Parse(ctx, bytes.NewReader(contents))
		if err != nil {
			dlog.Warnf(ctx, "rgn: region 0x%04x at offset %#x: nested parse failed: %v", rec.RegionID, offset, err)
		} else {
			rec.Inner = inner
		}
		return rec, nil
	}

	analysis, problems := rgnbin.Analyze(ctx, contents)
	for _, p := range problems {
		dlog.Warnf(ctx, "rgn: region 0x%04x at offset %#x: %v", rec.RegionID, offset, p)
	}
	rec.Bin = analysis
	return rec, nil
}

// Write serializes the stream: signature, version, then each record's
// header+payload in order.
func (g *Rgn) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(Signature[:]); err != nil {
		return err
	}
	verBytes, err := binstruct.MarshalWithoutInterface(binstruct.U16le(g.Version))
	if err != nil {
		return err
	}
	if _, err := bw.Write(verBytes); err != nil {
		return err
	}
	for _, rec := range g.Records {
		payload, err := rec.Payload()
		if err != nil {
			return err
		}
		hdr := recordHeader{Length: binstruct.U32le(len(payload)), Type: binstruct.U8(rec.Type())}
		hdrBytes, err := binstruct.MarshalWithoutInterface(hdr)
		if err != nil {
			return err
		}
		if _, err := bw.Write(hdrBytes); err != nil {
			return err
		}
		if _, err := bw.Write(payload); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// DebugRecord is one record's JSON-friendly debug rendering, used by
// the `rgn info --json` debug dump.
type DebugRecord struct {
	Index int    `json:"index"`
	Type  string `json:"type"`

	Data *DataRecord `json:"data,omitempty"`
	App  *AppRecord  `json:"app,omitempty"`

	RegionID uint16           `json:"region_id,omitempty"`
	DelayMs  uint32           `json:"delay_ms,omitempty"`
	Size     int              `json:"size,omitempty"`
	Inner    []DebugRecord    `json:"inner,omitempty"`
	Bin      *rgnbin.Analysis `json:"bin,omitempty"`
}

// DebugDump renders every record, recursing into nested RGNs, into a
// JSON-ready slice: the same information PrettyPrint prints as text.
func (g *Rgn) DebugDump() []DebugRecord {
	out := make([]DebugRecord, 0, len(g.Records))
	for i, rec := range g.Records {
		dr := DebugRecord{Index: i, Type: string(rec.Type())}
		switch r := rec.(type) {
		case *DataRecord:
			dr.Data = r
		case *AppRecord:
			dr.App = r
		case *RegionRecord:
			dr.RegionID = r.RegionID
			dr.DelayMs = r.DelayMs
			dr.Size = len(r.RawContents)
			switch {
			case r.Inner != nil:
				dr.Inner = r.Inner.DebugDump()
			case r.Bin != nil:
				dr.Bin = r.Bin
			}
		}
		out = append(out, dr)
	}
	return out
}

// PrettyPrint writes one summary line per record: type, and for
// region records the region_id (with its informal name, if known) and
// whatever its contents resolved to.
func (g *Rgn) PrettyPrint(w io.Writer) error {
	fmt.Fprintf(w, "RGN version %d, %d records\n", g.Version, len(g.Records))
	for i, rec := range g.Records {
		switch r := rec.(type) {
		case *DataRecord:
			fmt.Fprintf(w, "#%03d: D data-version %d\n", i, r.Version)
		case *AppRecord:
			fmt.Fprintf(w, "#%03d: A app-version %d, %q / %q / %q\n", i, r.Version, r.Builder, r.Date, r.Time)
		case *RegionRecord:
			name := RegionName(r.RegionID)
			label := fmt.Sprintf("region 0x%04x", r.RegionID)
			if name != "" {
				label += fmt.Sprintf(" (%s)", name)
			}
			switch {
			case r.Inner != nil:
				fmt.Fprintf(w, "#%03d: R %s, delay=%dms, %d bytes, nested RGN\n", i, label, r.DelayMs, len(r.RawContents))
			case r.Bin != nil && r.Bin.HWIDOK:
				fmt.Fprintf(w, "#%03d: R %s, delay=%dms, %d bytes, BIN hw_id=0x%04x version=%d\n",
					i, label, r.DelayMs, len(r.RawContents), r.Bin.HWID, r.Bin.Version)
			default:
				fmt.Fprintf(w, "#%03d: R %s, delay=%dms, %d bytes, BIN (metadata unresolved)\n", i, label, r.DelayMs, len(r.RawContents))
			}
		}
	}
	return nil
}
