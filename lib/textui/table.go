// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui

import (
	"strings"

	"golang.org/x/text/width"
)

// printWidth returns the column width s occupies in a monospace
// terminal: halfwidth/narrow/neutral runes count 1, fullwidth/wide
// runes (as classified by golang.org/x/text/width, e.g. in
// device-name strings resolved from a hwid.Table) count 2.
func printWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianFullwidth, width.EastAsianWide:
			n += 2
		default:
			n++
		}
	}
	return n
}

// PadColumn right-pads s with spaces until it occupies at least
// minWidth printed columns, accounting for fullwidth runes the way a
// terminal renders them rather than assuming one rune == one column.
func PadColumn(s string, minWidth int) string {
	w := printWidth(s)
	if w >= minWidth {
		return s
	}
	return s + strings.Repeat(" ", minWidth-w)
}
