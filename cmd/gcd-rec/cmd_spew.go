// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"git.lukeshu.dev/gcd-rec/lib/diskio"
	"git.lukeshu.dev/gcd-rec/lib/gcd"
)

// newSpewCommand dumps the raw recursive record structure via
// go-spew, for when PrettyPrint's collapsed summary isn't enough
// detail. With --json, it instead writes the same information as
// machine-readable JSON via lowmemjson.
func newSpewCommand(lvl *logLevelFlag) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "spew INPUT.gcd",
		Short: "Dump every field of a parsed GCD container's record structure",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "write a machine-readable JSON dump instead of a go-spew text dump")
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

		if asJSON {
			dump, err := g.DebugDump()
			if err != nil {
				return fmt.Errorf("building debug dump of %s: %w", inputPath, err)
			}
			return writeJSONFile(os.Stdout, dump, lowmemjson.ReEncoderConfig{
				Indent:                "\t",
				ForceTrailingNewlines: true,
			})
		}

		cfg := spew.NewDefaultConfig()
		cfg.DisablePointerAddresses = true
		cfg.Dump(g.Records)
		return nil
	})
	return cmd
}

// writeJSONFile re-encodes obj as JSON per cfg.
func writeJSONFile(w io.Writer, obj any, cfg lowmemjson.ReEncoderConfig) (err error) {
	buffer := bufio.NewWriter(w)
	defer func() {
		if ferr := buffer.Flush(); err == nil && ferr != nil {
			err = ferr
		}
	}()
	reenc := lowmemjson.NewReEncoder(buffer, cfg)
	defer func() {
		if cerr := reenc.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	return lowmemjson.NewEncoder(reenc).Encode(obj)
}
