// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"git.lukeshu.dev/gcd-rec/lib/chksum"
	"git.lukeshu.dev/gcd-rec/lib/diskio"
)

// newChksumScanCommand exposes chksum.ScanForRectifierPositions for
// recovering corrupt or non-standard containers where a rectifier's
// placement is unknown.
func newChksumScanCommand(lvl *logLevelFlag) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chksum-scan FILE",
		Short: "Report every byte position where the running checksum could plausibly hold a rectifier",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = withLogging(lvl, func(ctx context.Context, cmd *cobra.Command, args []string) error {
		fh, err := os.Open(args[0])
		if err != nil {
			return err
		}
		file := &diskio.OSFile[int64]{File: fh}
		defer file.Close()

		positions, err := chksum.ScanForRectifierPositions(bufio.NewReader(diskio.NewFileReader[int64](file)))
		if err != nil {
			return err
		}
		for _, pos := range positions {
			fmt.Printf("%#x\n", pos)
		}
		return nil
	})
	return cmd
}
