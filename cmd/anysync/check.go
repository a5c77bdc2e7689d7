// Copyright 2024-2026 Aiku AI

package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aiku/anysync/pkg/config"
	"github.com/aiku/anysync/pkg/message"
	"github.com/aiku/anysync/pkg/render"
	"github.com/aiku/anysync/pkg/rules"
)

func newCheckConfigCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config and print the forwarding table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath, false)
			if err != nil {
				return err
			}
			ruleCfg, err := cfg.LoadRules()
			if err != nil {
				return err
			}
			problems := checkConfig(cmd.OutOrStdout(), rules.Load(ruleCfg), newRenderers(), cfg.Platforms.Enabled())
			if problems > 0 {
				return fmt.Errorf("found %d invalid rule targets", problems)
			}
			return nil
		},
	}
}

// checkConfig prints the fan-out table and returns the number of targets
// that cannot be rendered.
func checkConfig(w io.Writer, table *rules.Table, renderers *render.Registry, enabled []string) int {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tTARGET\tFORMAT\tSTATUS")
	problems := 0
	table.Each(func(platformName, groupID string, targets []rules.Target) {
		for _, t := range targets {
			status := targetStatus(t, renderers, enabled)
			if status != "ok" && status != "platform disabled" {
				problems++
			}
			fmt.Fprintf(tw, "%s/%s\t%s/%s\t%s\t%s\n", platformName, groupID, t.Platform, t.GroupID, t.Format, status)
		}
	})
	_ = tw.Flush()
	fmt.Fprintf(w, "%d source groups, platforms enabled: %v\n", table.Len(), enabled)
	return problems
}

func targetStatus(t rules.Target, renderers *render.Registry, enabled []string) string {
	format, err := message.ParseFormat(t.Format)
	if err != nil {
		return "unknown format"
	}
	if _, err = renderers.Lookup(t.Platform, format); err != nil {
		if errors.Is(err, render.ErrUnsupported) && len(renderers.Formats(t.Platform)) == 0 {
			return "unknown platform"
		}
		return "format not supported"
	}
	for _, name := range enabled {
		if name == t.Platform {
			return "ok"
		}
	}
	return "platform disabled"
}
