// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"git.lukeshu.dev/gcd-rec/lib/diskio"
	"git.lukeshu.dev/gcd-rec/lib/gcd"
)

func newValidateCommand(lvl *logLevelFlag) *cobra.Command {
	var verbose bool
	var hwidTablePath string

	cmd := &cobra.Command{
		Use:   "validate INPUT.gcd",
		Short: "Parse a GCD container and check every rectifier's checksum",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().BoolVar(&verbose, "verbose", false, "print the per-slot structure of every descriptor, not just a collapsed summary")
	cmd.Flags().StringVar(&hwidTablePath, "hwid-table", "", "JSON file mapping hw_id to device name, consulted in --verbose mode")

	cmd.RunE = withLogging(lvl, func(ctx context.Context, cmd *cobra.Command, args []string) error {
		inputPath := args[0]

		fh, err := os.Open(inputPath)
		if err != nil {
			return err
		}
		file := &diskio.OSFile[int64]{File: fh}
		defer file.Close()

		g, err := gcd.Parse(ctx, diskio.NewFileReader[int64](file))
		if err != nil {
			return fmt.Errorf("parsing %s: %w", inputPath, err)
		}

		if verbose {
			hwTable, err := loadHWIDTable(ctx, hwidTablePath)
			if err != nil {
				return fmt.Errorf("loading hwid table: %w", err)
			}
			if err := g.PrintStructFull(os.Stdout, hwTable); err != nil {
				return err
			}
		} else if err := g.PrettyPrint(os.Stdout); err != nil {
			return err
		}

		ok, problems := g.Validate(ctx)
		for _, p := range problems {
			dlog.Warnf(ctx, "%v", p)
		}
		if !ok {
			return fmt.Errorf("%s: %d checksum mismatch(es)", inputPath, len(problems))
		}
		dlog.Infof(ctx, "%s: all checksums valid", inputPath)
		return nil
	})
	return cmd
}
