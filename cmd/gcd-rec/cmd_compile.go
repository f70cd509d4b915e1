// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"git.lukeshu.dev/gcd-rec/lib/gcd"
	"git.lukeshu.dev/gcd-rec/lib/recipe"
)

func newCompileCommand(lvl *logLevelFlag) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile RECIPE.txt OUTPUT.gcd",
		Short: "Reassemble a GCD container from a recipe plus side binaries",
		Args:  cobra.ExactArgs(2),
	}
	cmd.RunE = withLogging(lvl, func(ctx context.Context, cmd *cobra.Command, args []string) error {
		recipePath, outputPath := args[0], args[1]

		fh, err := os.Open(recipePath)
		if err != nil {
			return err
		}
		defer fh.Close()

		rcp, err := recipe.Parse(fh)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", recipePath, err)
		}

		g, err := gcd.CompileFromRecipe(filepath.Dir(recipePath), rcp)
		if err != nil {
			return fmt.Errorf("compiling %s: %w", recipePath, err)
		}

		out, err := os.Create(outputPath)
		if err != nil {
			return err
		}
		defer out.Close()
		return g.Write(out)
	})
	return cmd
}
