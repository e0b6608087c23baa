package main

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/deferrable-run/deferrable/pkg/config"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats [groups...]",
		Short: "Print current queue depth for one or more groups",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags(), resolveConfigFile(cfgFile))
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			engine, err := buildEngine(cfg, log)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			if isatty.IsTerminal(os.Stdout.Fd()) {
				t.SetStyle(table.StyleLight)
			}
			t.AppendHeader(table.Row{"Group", "Ready", "In-Flight", "Delayed", "Errors"})

			for _, group := range args {
				stats, err := engine.Stats(cmd.Context(), group)
				if err != nil {
					return err
				}
				t.AppendRow(table.Row{group, stats.Ready, stats.InFlight, stats.Delayed, stats.ErrorSize})
			}
			t.Render()
			return nil
		},
	}
	return cmd
}
