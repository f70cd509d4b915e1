// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Command gcd-rec is a thin CLI over the GCD/RGN/BIN codec core: dump
// a container to an editable recipe, compile a recipe back into a
// container, validate a container's checksums, inspect an RGN stream,
// and scan for plausible rectifier placements in a corrupt stream.
//
// This is intentionally thin: each subcommand is flag parsing plus
// one call into lib/.
package main

import (
	"context"
	"os"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type logLevelFlag struct {
	logrus.Level
}

func (lvl *logLevelFlag) Type() string { return "loglevel" }
func (lvl *logLevelFlag) Set(str string) error {
	var err error
	lvl.Level, err = logrus.ParseLevel(str)
	return err
}

var _ pflag.Value = (*logLevelFlag)(nil)

// withLogging wraps a subcommand's RunE so it runs with a
// context-scoped logger and inside a single-goroutine dgroup; even
// though the core itself is fully synchronous, this gets consistent
// signal-driven shutdown and structured logging for free.
func withLogging(lvl *logLevelFlag, runE func(ctx context.Context, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := logrus.New()
		logger.SetLevel(lvl.Level)
		ctx = dlog.WithLogger(ctx, dlog.WrapLogrus(logger))

		grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
			EnableSignalHandling: true,
		})
		grp.Go("main", func(ctx context.Context) error {
			cmd.SetContext(ctx)
			return runE(ctx, cmd, args)
		})
		return grp.Wait()
	}
}

func main() {
	logLevel := logLevelFlag{Level: logrus.InfoLevel}

	argparser := &cobra.Command{
		Use:   "gcd-rec {[flags]|SUBCOMMAND}",
		Short: "Disassemble and reassemble Garmin GCD/RGN/BIN firmware containers",

		Args: cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE: cliutil.RunSubcommands,

		SilenceErrors: true,
		SilenceUsage:  true,

		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)
	argparser.PersistentFlags().Var(&logLevel, "verbosity", "set the verbosity")

	argparser.AddCommand(newDumpCommand(&logLevel))
	argparser.AddCommand(newCompileCommand(&logLevel))
	argparser.AddCommand(newValidateCommand(&logLevel))
	argparser.AddCommand(newRgnCommand(&logLevel))
	argparser.AddCommand(newChksumScanCommand(&logLevel))
	argparser.AddCommand(newSpewCommand(&logLevel))

	if err := argparser.ExecuteContext(context.Background()); err != nil {
		dlog.Errorf(context.Background(), "%v: error: %v", argparser.CommandPath(), err)
		os.Exit(1)
	}
}
