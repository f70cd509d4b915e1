// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"git.lukeshu.dev/gcd-rec/lib/diskio"
	"git.lukeshu.dev/gcd-rec/lib/gcd"
	"git.lukeshu.dev/gcd-rec/lib/textui"
)

func newDumpCommand(lvl *logLevelFlag) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump INPUT.gcd OUTPUT_DIR",
		Short: "Disassemble a GCD container into a recipe plus side binaries",
		Args:  cobra.ExactArgs(2),
	}
	cmd.RunE = withLogging(lvl, func(ctx context.Context, cmd *cobra.Command, args []string) error {
		inputPath, outDir := args[0], args[1]

		// Parsing and dumping a large container loads every binary
		// region's payload into memory; have the logs carry live
		// memory use while that's the case.
		ctx = dlog.WithField(ctx, "gcd-rec.dump.mem", new(textui.LiveMemUse))

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

		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return err
		}
		basename := filepath.Base(inputPath)
		dlog.Infof(ctx, "dumping %d records to %s", len(g.Records), outDir)
		rcp, err := g.DumpToRecipe(outDir, basename, basename)
		if err != nil {
			return fmt.Errorf("dumping %s: %w", inputPath, err)
		}

		recipePath := filepath.Join(outDir, "recipe.txt")
		out, err := os.Create(recipePath)
		if err != nil {
			return err
		}
		defer out.Close()
		if err := rcp.Write(out); err != nil {
			return fmt.Errorf("writing %s: %w", recipePath, err)
		}
		return nil
	})
	return cmd
}
