// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package gcd_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.dev/gcd-rec/lib/gcd"
	"git.lukeshu.dev/gcd-rec/lib/recipe"
)

func sig() []byte { return []byte{'G', 'A', 'R', 'M', 'I', 'N', 'd', 0x00} }

// buildMinimal returns signature + EOF, the smallest legal GCD.
func buildMinimal() []byte {
	var buf bytes.Buffer
	buf.Write(sig())
	buf.Write([]byte{0xff, 0xff, 0x00, 0x00})
	return buf.Bytes()
}

func TestParseMinimal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, err := gcd.Parse(ctx, bytes.NewReader(buildMinimal()))
	require.NoError(t, err)
	require.Len(t, g.Records, 1)
	assert.Equal(t, gcd.TypeEOF, g.Records[0].TypeID())

	ok, problems := g.Validate(ctx)
	assert.True(t, ok)
	assert.Empty(t, problems)
}

func TestParseSignatureMismatch(t *testing.T) {
	t.Parallel()
	bad := append([]byte("WRONGSIG"), 0xff, 0xff, 0x00, 0x00)
	_, err := gcd.Parse(context.Background(), bytes.NewReader(bad))
	require.Error(t, err)
}

// sumBytes computes the running mod-256 sum, matching ChkSum's own
// math, to derive a correct rectifier byte for test fixtures.
func sumBytes(bs ...[]byte) byte {
	var s byte
	for _, b := range bs {
		for _, c := range b {
			s += c
		}
	}
	return s
}

func TestRectifierMath(t *testing.T) {
	t.Parallel()
	hdr := []byte{0x01, 0x00, 0x01, 0x00}
	sumBeforePayload := sumBytes(sig(), hdr)
	good := byte((0x100 - int(sumBeforePayload)) & 0xff)

	var buf bytes.Buffer
	buf.Write(sig())
	buf.Write(hdr)
	buf.WriteByte(good)
	buf.Write([]byte{0xff, 0xff, 0x00, 0x00})

	ctx := context.Background()
	g, err := gcd.Parse(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	ok, problems := g.Validate(ctx)
	assert.True(t, ok)
	assert.Empty(t, problems)

	// Any other byte should be reported as a mismatch, not fatal.
	buf2 := bytes.NewBuffer(nil)
	buf2.Write(sig())
	buf2.Write(hdr)
	buf2.WriteByte(good + 1)
	buf2.Write([]byte{0xff, 0xff, 0x00, 0x00})
	g2, err := gcd.Parse(ctx, bytes.NewReader(buf2.Bytes()))
	require.NoError(t, err)
	ok2, problems2 := g2.Validate(ctx)
	assert.False(t, ok2)
	assert.Len(t, problems2, 1)
}

func TestWriteRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	orig := buildMinimal()
	g, err := gcd.Parse(ctx, bytes.NewReader(orig))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, g.Write(&out))
	assert.Equal(t, orig, out.Bytes())
}

func TestFixChecksumsZeroesSum(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	hdr := []byte{0x01, 0x00, 0x01, 0x00}
	var buf bytes.Buffer
	buf.Write(sig())
	buf.Write(hdr)
	buf.WriteByte(0x00) // deliberately wrong; FixChecksums must correct it
	buf.Write([]byte{0xff, 0xff, 0x00, 0x00})

	g, err := gcd.Parse(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	g.FixChecksums()

	ok, problems := g.Validate(ctx)
	assert.True(t, ok)
	assert.Empty(t, problems)
}

// FuzzParse just checks that no arbitrary input makes Parse panic;
// malformed containers are expected to return an error, not a crash.
func FuzzParse(f *testing.F) {
	f.Add(buildMinimal())
	f.Fuzz(func(t *testing.T, dat []byte) {
		_, _ = gcd.Parse(context.Background(), bytes.NewReader(dat))
	})
}

func TestSchemaDescriptorBinaryParse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// Schema: field_ids 0x000a (B), 0x2015 (L), terminator 0x5003.
	schemaPayload := []byte{0x0a, 0x00, 0x15, 0x20, 0x03, 0x50}
	// Descriptor: XOR=0x01, binary_length=0x00000005.
	descPayload := []byte{0x01, 0x05, 0x00, 0x00, 0x00}

	var buf bytes.Buffer
	buf.Write(sig())

	writeTLV := func(typeID uint16, payload []byte) {
		var h [4]byte
		h[0], h[1] = byte(typeID), byte(typeID>>8)
		h[2], h[3] = byte(len(payload)), byte(len(payload)>>8)
		buf.Write(h[:])
		buf.Write(payload)
	}

	writeTLV(0x0006, schemaPayload)
	writeTLV(0x0007, descPayload)
	writeTLV(0x0008, []byte{1, 2, 3, 4, 5})
	buf.Write([]byte{0xff, 0xff, 0x00, 0x00})

	g, err := gcd.Parse(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, g.Records, 4)

	desc := g.Records[1].(*gcd.Descriptor)
	schema := g.Records[0].(*gcd.Schema)
	fields, err := desc.Fields(schema)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), fields[0x000a][0])
	assert.Equal(t, []byte{0x05, 0x00, 0x00, 0x00}, fields[0x2015])

	dump, err := g.DebugDump()
	require.NoError(t, err)
	require.Len(t, dump, 4)
	require.Len(t, dump[1].Fields, 2)
	assert.Equal(t, uint16(0x000a), dump[1].Fields[0].FieldID)
	assert.Equal(t, uint16(0x2015), dump[1].Fields[1].FieldID)
	assert.Equal(t, "0x00000005", dump[1].Fields[1].Value)
}

// TestDumpCompileRoundTrip disassembles a container holding a
// copyright record, a chunked binary run, an empty binary run, and a
// rectifier, re-serializes the recipe through its text form, compiles
// it back, and requires byte-for-byte equality with the original.
func TestDumpCompileRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var buf bytes.Buffer
	buf.Write(sig())
	writeTLV := func(typeID uint16, payload []byte) {
		var h [4]byte
		h[0], h[1] = byte(typeID), byte(typeID>>8)
		h[2], h[3] = byte(len(payload)), byte(len(payload)>>8)
		buf.Write(h[:])
		buf.Write(payload)
	}

	writeTLV(0x0005, []byte("Copyright 1996-2017 by Garmin Ltd. or its subsidiaries."))
	// Schema {0x100a: H, 0x2015: L}, descriptor {type=0x0008, len=5},
	// then the 5-byte binary itself.
	writeTLV(0x0006, []byte{0x0a, 0x10, 0x15, 0x20, 0x03, 0x50})
	writeTLV(0x0007, []byte{0x08, 0x00, 0x05, 0x00, 0x00, 0x00})
	writeTLV(0x0008, []byte{9, 8, 7, 6, 5})
	// A second run with a zero-length binary (descriptor 0x2015 = 0).
	writeTLV(0x0006, []byte{0x0a, 0x10, 0x15, 0x20, 0x03, 0x50})
	writeTLV(0x0007, []byte{0xbd, 0x02, 0x00, 0x00, 0x00, 0x00})
	writeTLV(0x02bd, nil)
	writeTLV(0x0001, []byte{0x00}) // placeholder; FixChecksums corrects it
	buf.Write([]byte{0xff, 0xff, 0x00, 0x00})

	g, err := gcd.Parse(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	g.FixChecksums()
	var orig bytes.Buffer
	require.NoError(t, g.Write(&orig))

	dir := t.TempDir()
	rcp, err := g.DumpToRecipe(dir, "roundtrip.gcd", "roundtrip.gcd")
	require.NoError(t, err)

	var text strings.Builder
	require.NoError(t, rcp.Write(&text))
	rcp2, err := recipe.Parse(strings.NewReader(text.String()))
	require.NoError(t, err)

	g2, err := gcd.CompileFromRecipe(dir, rcp2)
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, g2.Write(&out))
	assert.Equal(t, orig.Bytes(), out.Bytes())

	ok, problems := g2.Validate(ctx)
	assert.True(t, ok)
	assert.Empty(t, problems)
}

func TestCompileFromRecipeRejectsBadVersion(t *testing.T) {
	t.Parallel()
	rcp, err := recipe.Parse(strings.NewReader("[GCD_DUMP]\ndump_by = grmn-gcd\ndump_ver = 2\n"))
	require.NoError(t, err)
	_, err = gcd.CompileFromRecipe(t.TempDir(), rcp)
	assert.Error(t, err)
}
