// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package recipe_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.dev/gcd-rec/lib/recipe"
)

const sample = `[GCD_DUMP]
dump_by = grmn-gcd
dump_ver = 1
original_filename = foo.gcd

[BLOCK_1]
type = 0x0001

# binary run for the boot image
[BLOCK_2]
from_file = foo_0008.bin
0x1009 = 0x1234
`

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()
	rcp, err := recipe.Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, "GCD_DUMP", rcp.Header.Name)
	v, ok := rcp.Header.Get("dump_ver")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	require.Len(t, rcp.Blocks, 2)
	assert.Equal(t, "BLOCK_1", rcp.Blocks[0].Name)
	assert.False(t, rcp.Blocks[1].Has("type"))
	assert.Equal(t, "binary run for the boot image", rcp.Blocks[1].Fields[0].Comment)

	var out strings.Builder
	require.NoError(t, rcp.Write(&out))

	rcp2, err := recipe.Parse(strings.NewReader(out.String()))
	require.NoError(t, err)
	assert.Equal(t, rcp.Header, rcp2.Header)
	assert.Equal(t, rcp.Blocks, rcp2.Blocks)
}

func TestParseMissingHeader(t *testing.T) {
	t.Parallel()
	_, err := recipe.Parse(strings.NewReader("[BLOCK_1]\ntype = 0x0001\n"))
	assert.ErrorIs(t, err, recipe.ErrMissingHeader)
}

func TestParseMissingEquals(t *testing.T) {
	t.Parallel()
	_, err := recipe.Parse(strings.NewReader("[GCD_DUMP]\ndump_ver\n"))
	assert.Error(t, err)
}
