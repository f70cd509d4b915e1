// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio

import (
	"io"
)

// NewFileReader returns an io.Reader that reads f sequentially,
// starting at offset 0.
func NewFileReader[A ~int64](f File[A]) io.Reader {
	return &fileReader[A]{f: f}
}

type fileReader[A ~int64] struct {
	f   File[A]
	pos A
}

var _ io.Reader = (*fileReader[assertAddr])(nil)

func (r *fileReader[A]) Read(p []byte) (int, error) {
	n, err := r.f.ReadAt(p, r.pos)
	r.pos += A(n)
	return n, err
}
