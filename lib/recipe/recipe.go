// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package recipe implements the sectioned, case-preserving-key text
// format that a Gcd container is disassembled to and reassembled
// from: a required [GCD_DUMP] header section, followed by ordered
// [BLOCK_n] sections. On read, a comment line is attached to the
// field that follows it and blank lines are ignored.
//
// This package only knows about the generic section/field grammar; it
// has no notion of TLVs, schemas, or descriptors. Package gcd is what
// maps a Recipe's sections onto container semantics.
package recipe

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// HeaderSectionName is the name of the mandatory first section.
const HeaderSectionName = "GCD_DUMP"

// ErrMissingHeader is returned by Parse when the input's first
// section isn't [GCD_DUMP].
var ErrMissingHeader = errors.New("recipe: missing required [" + HeaderSectionName + "] section")

// Field is one `key = value` line, with an optional preceding `#
// comment` line carried along so Dump-derived comments survive a
// round trip through a human editor.
type Field struct {
	Key     string
	Value   string
	Comment string
}

// Section is a single `[NAME]` block and its ordered fields.
type Section struct {
	Name   string
	Fields []Field
}

// Get returns the value of the first field with the given key.
func (s Section) Get(key string) (string, bool) {
	for _, f := range s.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Has reports whether key is present in the section.
func (s Section) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Recipe is a parsed recipe file: the header plus an ordered sequence
// of blocks.
type Recipe struct {
	Header Section
	Blocks []Section
}

// BlockName returns the canonical [BLOCK_n] section name for n.
func BlockName(n int) string {
	return fmt.Sprintf("BLOCK_%d", n)
}

// Parse reads a recipe from r. Key casing is preserved; `#`-prefixed
// lines are treated as a comment attached to the next field; blank
// lines are ignored.
func Parse(r io.Reader) (*Recipe, error) {
	scanner := bufio.NewScanner(r)
	var sections []Section
	var cur *Section
	var pendingComment string
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#"):
			pendingComment = strings.TrimSpace(strings.TrimPrefix(line, "#"))
		case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"):
			if cur != nil {
				sections = append(sections, *cur)
			}
			name := strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
			cur = &Section{Name: name}
		default:
			if cur == nil {
				return nil, fmt.Errorf("recipe: line %d: key=value outside of any section", lineNo)
			}
			idx := strings.Index(line, "=")
			if idx < 0 {
				return nil, fmt.Errorf("recipe: line %d: missing '=' separator", lineNo)
			}
			key := strings.TrimSpace(line[:idx])
			val := strings.TrimSpace(line[idx+1:])
			cur.Fields = append(cur.Fields, Field{Key: key, Value: val, Comment: pendingComment})
			pendingComment = ""
		}
	}
	if cur != nil {
		sections = append(sections, *cur)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("recipe: %w", err)
	}
	if len(sections) == 0 || sections[0].Name != HeaderSectionName {
		return nil, ErrMissingHeader
	}
	return &Recipe{Header: sections[0], Blocks: sections[1:]}, nil
}

// Write serializes the recipe back to text.
func (rcp *Recipe) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	writeSection := func(s Section) error {
		if _, err := fmt.Fprintf(bw, "[%s]\n", s.Name); err != nil {
			return err
		}
		for _, f := range s.Fields {
			if f.Comment != "" {
				if _, err := fmt.Fprintf(bw, "# %s\n", f.Comment); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintf(bw, "%s = %s\n", f.Key, f.Value); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintln(bw)
		return err
	}
	if err := writeSection(rcp.Header); err != nil {
		return err
	}
	for _, b := range rcp.Blocks {
		if err := writeSection(b); err != nil {
			return err
		}
	}
	return bw.Flush()
}
