// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rgnbin_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.dev/gcd-rec/lib/rgnbin"
)

func putU32(payload []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(payload[off:off+4], v)
}

func putU16(payload []byte, off int, v uint16) {
	binary.LittleEndian.PutUint16(payload[off:off+2], v)
}

// zeroSum overwrites payload's final byte so the whole payload sums to
// 0 mod 256, like a real BIN's trailing rectifier byte.
func zeroSum(payload []byte) {
	var s byte
	for _, b := range payload[:len(payload)-1] {
		s += b
	}
	payload[len(payload)-1] = byte((0x100 - int(s)) & 0xff)
}

func TestVariant1b(t *testing.T) {
	t.Parallel()
	payload := make([]byte, 64)
	putU32(payload, 0, 0xe59ff008)
	putU32(payload, 4, 10)  // hw_id_va:  |x2-x1| == 2, so (x1,x2) is used
	putU32(payload, 8, 12)  // swver_va
	putU32(payload, 12, 99) // unused third word
	putU32(payload, 16, 0)  // entry_addr, delta = 20-0 = 20
	putU16(payload, 30, 0x1234)
	putU16(payload, 32, 256)
	zeroSum(payload)

	a, problems := rgnbin.Analyze(context.Background(), payload)
	assert.Empty(t, problems)
	assert.Equal(t, rgnbin.Variant1, a.Variant)
	require.True(t, a.HWIDOK)
	require.True(t, a.VersionOK)
	assert.Equal(t, uint16(0x1234), a.HWID)
	assert.Equal(t, uint16(256), a.Version)
	assert.True(t, a.ChecksumValid)
}

func TestVariant1a(t *testing.T) {
	t.Parallel()
	payload := make([]byte, 64)
	putU32(payload, 0, 0xe59ff008)
	putU32(payload, 4, 5)   // |x2-x1| != 2, so (x2,x3) is used instead
	putU32(payload, 8, 30)  // hw_id_va
	putU32(payload, 12, 32) // swver_va
	putU32(payload, 16, 10) // entry_addr, delta = 20-10 = 10
	putU16(payload, 40, 0x2222)
	putU16(payload, 42, 7)

	a, problems := rgnbin.Analyze(context.Background(), payload)
	assert.Empty(t, problems)
	assert.Equal(t, rgnbin.Variant1, a.Variant)
	require.True(t, a.HWIDOK)
	assert.Equal(t, uint16(0x2222), a.HWID)
	assert.Equal(t, uint16(7), a.Version)
}

func TestVariant2NegativeLend(t *testing.T) {
	t.Parallel()
	payload := make([]byte, 64)
	putU32(payload, 0, 0xe59ff00c)
	putU32(payload, 4, 0)                   // end_va, unused
	putU32(payload, 8, 40)                  // hw_id_va
	putU32(payload, 12, 42)                 // swver_va
	putU32(payload, 16, uint32(0xffffffe8)) // lend_va = -24, delta = 24-24 = 0
	putU32(payload, 20, 7)                  // entry_va, ignored when lend_va < 0
	putU16(payload, 40, 0x0999)
	putU16(payload, 42, 310)

	a, problems := rgnbin.Analyze(context.Background(), payload)
	assert.Empty(t, problems)
	assert.Equal(t, rgnbin.Variant2, a.Variant)
	require.True(t, a.HWIDOK)
	assert.Equal(t, uint16(0x0999), a.HWID)
	assert.Equal(t, uint16(310), a.Version)
}

func TestVariant2PositiveLend(t *testing.T) {
	t.Parallel()
	payload := make([]byte, 64)
	putU32(payload, 0, 0xe59ff00c)
	putU32(payload, 4, 0)
	putU32(payload, 8, 40)
	putU32(payload, 12, 42)
	putU32(payload, 16, 4)  // lend_va >= 0, so entry_va decides delta
	putU32(payload, 20, 24) // entry_va, delta = 24-24 = 0
	putU16(payload, 40, 0x0777)
	putU16(payload, 42, 8)

	a, problems := rgnbin.Analyze(context.Background(), payload)
	assert.Empty(t, problems)
	assert.Equal(t, rgnbin.Variant2, a.Variant)
	require.True(t, a.HWIDOK)
	assert.Equal(t, uint16(0x0777), a.HWID)
}

// TestVariant3RightmostEndMarker plants the end-marker pattern twice;
// the rightmost occurrence must win, or the computed delta lands the
// metadata reads out of bounds.
func TestVariant3RightmostEndMarker(t *testing.T) {
	t.Parallel()
	payload := make([]byte, 100)
	putU32(payload, 0, 0xea000002)
	putU32(payload, 4, 82) // end_va, delta = 80+2-82 = 0
	putU32(payload, 8, 20) // hw_id_va
	putU32(payload, 12, 22)
	copy(payload[40:], rgnbin.EndMarker)
	copy(payload[80:], rgnbin.EndMarker)
	putU16(payload, 20, 0x0aaa)
	putU16(payload, 22, 9)

	a, problems := rgnbin.Analyze(context.Background(), payload)
	assert.Empty(t, problems)
	assert.Equal(t, rgnbin.Variant3, a.Variant)
	require.True(t, a.HWIDOK)
	assert.Equal(t, uint16(0x0aaa), a.HWID)
	assert.Equal(t, uint16(9), a.Version)
}

func TestVariant5Unrecognized(t *testing.T) {
	t.Parallel()
	payload := make([]byte, 64)
	putU32(payload, 0, 0xea000004)
	// Make the tail fallback reject too, so metadata stays unset.
	putU16(payload, len(payload)-6, 0xffff)
	putU16(payload, len(payload)-4, 0xffff)

	a, problems := rgnbin.Analyze(context.Background(), payload)
	require.Len(t, problems, 1)
	assert.Equal(t, rgnbin.Variant5, a.Variant)
	assert.False(t, a.HWIDOK)
	assert.False(t, a.VersionOK)
}

func TestFallbackMarkerAt252(t *testing.T) {
	t.Parallel()
	payload := make([]byte, 300)
	putU32(payload, 0, 0x12345678) // no known variant
	putU32(payload, 252, 0xffffffff)
	putU16(payload, 256, 0xabcd)
	putU16(payload, 258, 515)

	a, problems := rgnbin.Analyze(context.Background(), payload)
	require.Len(t, problems, 1) // the unrecognized-layout report
	assert.Equal(t, rgnbin.VariantUnknown, a.Variant)
	require.True(t, a.HWIDOK)
	assert.Equal(t, uint16(0xabcd), a.HWID)
	assert.Equal(t, uint16(515), a.Version)
}

func TestFallbackMarkerAt508(t *testing.T) {
	t.Parallel()
	payload := make([]byte, 520)
	putU32(payload, 0, 0x12345678)
	putU32(payload, 508, 0xffffffff)
	putU16(payload, 512, 0x0bb3)
	putU16(payload, 514, 200)

	a, _ := rgnbin.Analyze(context.Background(), payload)
	require.True(t, a.HWIDOK)
	assert.Equal(t, uint16(0x0bb3), a.HWID)
	assert.Equal(t, uint16(200), a.Version)
}

func TestFallbackTail(t *testing.T) {
	t.Parallel()
	payload := make([]byte, 32)
	putU32(payload, 0, 0x12345678)
	putU16(payload, len(payload)-6, 0x0006)
	putU16(payload, len(payload)-4, 0x0105)

	a, _ := rgnbin.Analyze(context.Background(), payload)
	require.True(t, a.HWIDOK)
	assert.Equal(t, uint16(0x0006), a.HWID)
	assert.Equal(t, uint16(0x0105), a.Version)
}

func TestChecksumOnShortPayload(t *testing.T) {
	t.Parallel()
	a, problems := rgnbin.Analyze(context.Background(), []byte{0x01, 0xff})
	assert.True(t, a.ChecksumValid)
	require.Len(t, problems, 1)
	assert.False(t, a.HWIDOK)
}
