// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package hwid defines the consumption-side interface for the
// hw_id -> device name mapping. The table itself (the actual
// hw_id->name data) is an external collaborator, out of scope for
// this repository; this package only lets the core look names up
// through an injected Table, with an optional LRU front for callers
// that re-resolve the same few hw_ids many times (e.g. printing every
// descriptor in a recipe with many binary runs).
package hwid

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Table resolves a hardware identifier to a human-readable device
// name. Implementations are supplied by the caller; nothing in this
// repository constructs one from real data.
type Table interface {
	Name(hwID uint16) (string, bool)
}

// MapTable is the simplest Table: a plain map.
type MapTable map[uint16]string

func (m MapTable) Name(hwID uint16) (string, bool) {
	name, ok := m[hwID]
	return name, ok
}

// Resolver wraps a Table with a bounded LRU cache, so that repeatedly
// printing the same hw_id (e.g. across many descriptors in one
// PrintStructFull call) doesn't repeatedly hit a possibly-expensive
// underlying Table implementation.
type Resolver struct {
	table Table
	cache *lru.Cache[uint16, string]
}

// NewResolver wraps table with an LRU cache holding up to size
// entries. A nil table is permitted; Name then always reports "", false.
func NewResolver(table Table, size int) (*Resolver, error) {
	cache, err := lru.New[uint16, string](size)
	if err != nil {
		return nil, err
	}
	return &Resolver{table: table, cache: cache}, nil
}

// Name resolves hwID, consulting the cache before the wrapped Table.
func (r *Resolver) Name(hwID uint16) (string, bool) {
	if r == nil || r.table == nil {
		return "", false
	}
	if name, ok := r.cache.Get(hwID); ok {
		return name, true
	}
	name, ok := r.table.Name(hwID)
	if ok {
		r.cache.Add(hwID, name)
	}
	return name, ok
}
