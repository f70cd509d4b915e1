// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rgn_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.dev/gcd-rec/lib/rgn"
)

func sig() []byte { return []byte{'K', 'p', 'G', 'r'} }

func TestParseDataAndAppRecords(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	buf.Write(sig())
	buf.Write([]byte{0x01, 0x00}) // version 1

	// D record: version 7
	buf.Write([]byte{0x02, 0x00, 0x00, 0x00, 'D'})
	buf.Write([]byte{0x07, 0x00})

	// A record: version 3, "build"\x00"2023-01-01"\x00"00:00"\x00
	appPayload := append([]byte{0x03, 0x00}, []byte("build\x002023-01-01\x0000:00\x00")...)
	var hdr [5]byte
	hdr[0], hdr[1], hdr[2], hdr[3] = byte(len(appPayload)), byte(len(appPayload)>>8), 0, 0
	hdr[4] = 'A'
	buf.Write(hdr[:])
	buf.Write(appPayload)

	ctx := context.Background()
	g, err := rgn.Parse(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, g.Records, 2)

	d, ok := g.Records[0].(*rgn.DataRecord)
	require.True(t, ok)
	assert.Equal(t, uint16(7), d.Version)

	a, ok := g.Records[1].(*rgn.AppRecord)
	require.True(t, ok)
	assert.Equal(t, uint16(3), a.Version)
	assert.Equal(t, "build", a.Builder)
	assert.Equal(t, "2023-01-01", a.Date)
	assert.Equal(t, "00:00", a.Time)
}

func TestRegionRecordNestedRgn(t *testing.T) {
	t.Parallel()

	var inner bytes.Buffer
	inner.Write(sig())
	inner.Write([]byte{0x01, 0x00})
	inner.Write([]byte{0x02, 0x00, 0x00, 0x00, 'D'})
	inner.Write([]byte{0x09, 0x00})

	var outer bytes.Buffer
	outer.Write(sig())
	outer.Write([]byte{0x01, 0x00})

	regionPayload := make([]byte, 10+inner.Len())
	regionPayload[0], regionPayload[1] = 0x0a, 0x00 // region_id
	regionPayload[2], regionPayload[3], regionPayload[4], regionPayload[5] = 0, 0, 0, 0
	size := uint32(inner.Len())
	regionPayload[6] = byte(size)
	regionPayload[7] = byte(size >> 8)
	regionPayload[8] = byte(size >> 16)
	regionPayload[9] = byte(size >> 24)
	copy(regionPayload[10:], inner.Bytes())

	rlen := uint32(len(regionPayload))
	var rhdr [5]byte
	rhdr[0] = byte(rlen)
	rhdr[1] = byte(rlen >> 8)
	rhdr[2] = byte(rlen >> 16)
	rhdr[3] = byte(rlen >> 24)
	rhdr[4] = 'R'
	outer.Write(rhdr[:])
	outer.Write(regionPayload)

	ctx := context.Background()
	g, err := rgn.Parse(ctx, bytes.NewReader(outer.Bytes()))
	require.NoError(t, err)
	require.Len(t, g.Records, 1)

	r, ok := g.Records[0].(*rgn.RegionRecord)
	require.True(t, ok)
	require.NotNil(t, r.Inner)
	require.Len(t, r.Inner.Records, 1)
	inD, ok := r.Inner.Records[0].(*rgn.DataRecord)
	require.True(t, ok)
	assert.Equal(t, uint16(9), inD.Version)
	assert.Equal(t, "gcd firmware container", rgn.RegionName(0x000a))

	dump := g.DebugDump()
	require.Len(t, dump, 1)
	require.Len(t, dump[0].Inner, 1)
	assert.Equal(t, "D", dump[0].Inner[0].Type)
	require.NotNil(t, dump[0].Inner[0].Data)
	assert.Equal(t, uint16(9), dump[0].Inner[0].Data.Version)
}

func TestWriteRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	buf.Write(sig())
	buf.Write([]byte{0x01, 0x00})
	buf.Write([]byte{0x02, 0x00, 0x00, 0x00, 'D'})
	buf.Write([]byte{0x05, 0x00})

	ctx := context.Background()
	g, err := rgn.Parse(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, g.Write(&out))
	assert.Equal(t, buf.Bytes(), out.Bytes())
}

// FuzzParse just checks that no arbitrary input makes Parse panic;
// malformed streams are expected to return an error, not a crash.
func FuzzParse(f *testing.F) {
	seed := append(sig(), 0x01, 0x00)
	f.Add(seed)
	f.Fuzz(func(t *testing.T, dat []byte) {
		_, _ = rgn.Parse(context.Background(), bytes.NewReader(dat))
	})
}

func TestUnknownRecordType(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	buf.Write(sig())
	buf.Write([]byte{0x01, 0x00})
	buf.Write([]byte{0x00, 0x00, 0x00, 0x00, 'Z'})

	_, err := rgn.Parse(context.Background(), bytes.NewReader(buf.Bytes()))
	require.Error(t, err)
}
