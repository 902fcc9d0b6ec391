package main

import (
	"bufio"

	"github.com/spf13/cobra"

	"objlink/internal/graphdump"
	"objlink/internal/linkgraph"
)

var dumpCmd = &cobra.Command{
	Use:   "dump [flags] graph.toml...",
	Short: "Render object graphs without linking them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  dumpExecution,
}

func init() {
	dumpCmd.Flags().String("title", "Graph", "dump header title")
	dumpCmd.Flags().Int("line-width", graphdump.DefaultLineWidth, "bytes per dump line")
	dumpCmd.Flags().StringSlice("section", nil, "only dump the named sections")
}

func dumpExecution(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	title, err := cmd.Flags().GetString("title")
	if err != nil {
		return err
	}
	opts, err := dumpOptions(cfg.Dump)
	if err != nil {
		return err
	}

	out := bufio.NewWriter(cmd.OutOrStdout())
	for _, path := range args {
		g, err := linkgraph.LoadFile(path)
		if err != nil {
			return err
		}
		if err := graphdump.Write(out, g, title, opts); err != nil {
			return err
		}
	}
	return out.Flush()
}
