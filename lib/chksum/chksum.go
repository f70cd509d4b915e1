// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package chksum implements the running modulo-256 byte-sum checksum
// discipline shared by the GCD and BIN container formats: a running
// sum over every byte seen so far, plus the "rectifier" projection
// that tells a writer which single byte would zero the sum at the
// current position.
package chksum

import (
	"errors"
	"io"
)

// DefaultBlockSize is a suggested block size for AddFromFile;
// AddFromFile itself always reads in the blocksize it is passed.
const DefaultBlockSize = 16 * 1024

// ChkSum accumulates a running 8-bit sum over a byte stream. The zero
// value is not valid; use New.
type ChkSum struct {
	sum      uint8
	lastByte uint8
}

// New returns a fresh ChkSum with sum=0 and last_byte=0xff, so that
// ExpectedLastByte is well-defined even before any byte has been
// added.
func New() *ChkSum {
	return &ChkSum{lastByte: 0xff}
}

// Add folds every byte of data into the running sum (mod 256) and
// records the final byte added. A no-op on empty input.
func (c *ChkSum) Add(data []byte) {
	if len(data) == 0 {
		return
	}
	for _, b := range data {
		c.sum += b
	}
	c.lastByte = data[len(data)-1]
}

// Sum returns the running 8-bit sum.
func (c *ChkSum) Sum() uint8 { return c.sum }

// LastByte returns the most recently added byte.
func (c *ChkSum) LastByte() uint8 { return c.lastByte }

// ExpectedLastByte returns the byte that, if it had been the last
// byte added instead of the actual last byte, would force the running
// sum to zero.
func (c *ChkSum) ExpectedLastByte() uint8 {
	withoutLast := c.sum - c.lastByte // uint8 subtraction wraps mod 256
	return uint8((0x100 - int(withoutLast)) & 0xff)
}

// Valid reports whether the running sum is currently zero.
func (c *ChkSum) Valid() bool { return c.sum == 0 }

// AddFromFile streams r in blocksize chunks, calling Add once per
// non-empty chunk read (including a final short chunk), and stops at
// the first short (or empty) read.
func (c *ChkSum) AddFromFile(r io.Reader, blocksize int) error {
	buf := make([]byte, blocksize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			c.Add(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if n < blocksize {
			return nil
		}
	}
}

// ScanForRectifierPositions reports, for every byte position in r,
// whether that byte equals the running checksum's ExpectedLastByte at
// the moment just before it was added. It's a diagnostic for locating
// where a rectifier could plausibly sit in a corrupt or non-standard
// container, not something the core parse/validate path uses.
func ScanForRectifierPositions(r io.ByteReader) ([]int64, error) {
	c := New()
	var matches []int64
	var pos int64
	for {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return matches, nil
			}
			return matches, err
		}
		if b == c.ExpectedLastByte() {
			matches = append(matches, pos)
		}
		c.Add([]byte{b})
		pos++
	}
}
