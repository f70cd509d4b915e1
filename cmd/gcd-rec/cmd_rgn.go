// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.dev/gcd-rec/lib/diskio"
	"git.lukeshu.dev/gcd-rec/lib/rgn"
)

func newRgnCommand(lvl *logLevelFlag) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rgn {[flags]|SUBCOMMAND}",
		Short: "Inspect RGN firmware-update record streams",

		Args: cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE: cliutil.RunSubcommands,
	}
	cmd.AddCommand(newRgnInfoCommand(lvl))
	return cmd
}

func newRgnInfoCommand(lvl *logLevelFlag) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "info INPUT.rgn",
		Short: "Print a summary of an RGN stream's records, recursing into nested RGNs and BIN images",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "write a machine-readable JSON dump instead of a text summary")
	cmd.RunE = withLogging(lvl, func(ctx context.Context, cmd *cobra.Command, args []string) error {
		inputPath := args[0]

		fh, err := os.Open(inputPath)
		if err != nil {
			return err
		}
		file := &diskio.OSFile[int64]{File: fh}
		defer file.Close()

		g, err := rgn.Parse(ctx, diskio.NewFileReader[int64](file))
		if err != nil {
			return fmt.Errorf("parsing %s: %w", inputPath, err)
		}
		if asJSON {
			return writeJSONFile(os.Stdout, g.DebugDump(), lowmemjson.ReEncoderConfig{
				Indent:                "\t",
				ForceTrailingNewlines: true,
			})
		}
		return g.PrettyPrint(os.Stdout)
	})
	return cmd
}
