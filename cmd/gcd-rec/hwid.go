// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"
	"strconv"
	"strings"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/datawire/dlib/dlog"

	"git.lukeshu.dev/gcd-rec/lib/hwid"
	"git.lukeshu.dev/gcd-rec/lib/streamio"
)

// hwidCacheSize bounds the LRU front loadHWIDTable wraps every loaded
// table with, for the repeated lookups PrintStructFull does per
// descriptor across a container with many binary runs.
const hwidCacheSize = 256

// loadHWIDTable reads a `{"0x1234": "device name", ...}`-shaped JSON
// file into an hwid.Table, wrapped in a bounded LRU cache. An empty
// path is valid: it yields a table where every lookup reports "not
// found".
func loadHWIDTable(ctx context.Context, path string) (hwid.Table, error) {
	if path == "" {
		return hwid.NewResolver(nil, hwidCacheSize)
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	buf, err := streamio.NewRuneScanner(dlog.WithField(ctx, "gcd-rec.read-hwid-table", path), fh)
	if err != nil {
		fh.Close()
		return nil, err
	}
	defer buf.Close()

	var raw map[string]string
	if err := lowmemjson.NewDecoder(buf).DecodeThenEOF(&raw); err != nil {
		return nil, err
	}
	table := make(hwid.MapTable, len(raw))
	for key, name := range raw {
		id, err := strconv.ParseUint(strings.TrimPrefix(key, "0x"), 16, 16)
		if err != nil {
			return nil, err
		}
		table[uint16(id)] = name
	}
	return hwid.NewResolver(table, hwidCacheSize)
}
