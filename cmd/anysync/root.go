// Copyright 2024-2026 Aiku AI

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	noUpdate   bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "anysync",
		Short:         "Cross-platform group chat relay",
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "config.yaml", "path to the config file")
	root.PersistentFlags().BoolVarP(&flags.noUpdate, "no-update", "n", false, "don't save the upgraded config to disk")
	root.AddCommand(newRunCmd(flags), newCheckConfigCmd(flags), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	}
}

func versionString() string {
	return fmt.Sprintf("anysync %s (commit %s, built %s)", Tag, Commit, BuildTime)
}
