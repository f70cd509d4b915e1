// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package chksum_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.dev/gcd-rec/lib/chksum"
)

func TestEmpty(t *testing.T) {
	t.Parallel()
	c := chksum.New()
	assert.True(t, c.Valid())
	assert.Equal(t, uint8(0), c.Sum())
	assert.Equal(t, uint8(0xff), c.LastByte())
}

func TestAddNoOpOnEmpty(t *testing.T) {
	t.Parallel()
	c := chksum.New()
	c.Add(nil)
	assert.Equal(t, uint8(0xff), c.LastByte())
}

func TestRectifierZeroesSum(t *testing.T) {
	t.Parallel()
	c := chksum.New()
	c.Add([]byte("GARMINd\x00"))
	c.Add([]byte{0x01, 0x00, 0x01, 0x00})
	rectifier := c.ExpectedLastByte()
	c.Add([]byte{rectifier})
	assert.True(t, c.Valid())
}

func TestWrongRectifierInvalidates(t *testing.T) {
	t.Parallel()
	c := chksum.New()
	c.Add([]byte("GARMINd\x00"))
	c.Add([]byte{0x01, 0x00, 0x01, 0x00})
	rectifier := c.ExpectedLastByte()
	c.Add([]byte{rectifier + 1})
	assert.False(t, c.Valid())
}

func TestAddFromFile(t *testing.T) {
	t.Parallel()
	data := bytes.Repeat([]byte{0x07}, 100)
	c := chksum.New()
	require.NoError(t, c.AddFromFile(bytes.NewReader(data), 16))

	want := chksum.New()
	want.Add(data)
	assert.Equal(t, want.Sum(), c.Sum())
	assert.Equal(t, want.LastByte(), c.LastByte())
}

func TestAddFromFileEmpty(t *testing.T) {
	t.Parallel()
	c := chksum.New()
	require.NoError(t, c.AddFromFile(strings.NewReader(""), 16))
	assert.Equal(t, uint8(0xff), c.LastByte())
}

func TestScanForRectifierPositions(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	buf.WriteString("GARMINd\x00")
	buf.Write([]byte{0x01, 0x00, 0x01, 0x00})

	c := chksum.New()
	c.Add(buf.Bytes())
	rectifier := c.ExpectedLastByte()
	buf.WriteByte(rectifier)

	matches, err := chksum.ScanForRectifierPositions(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, int64(buf.Len()-1), matches[len(matches)-1])
}
