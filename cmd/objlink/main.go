// Package main implements the objlink CLI.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"objlink/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "objlink",
	Short: "Link object graphs and observe them through plugins",
	Long: `objlink links laid-out object graphs described in TOML, running the
registered plugins at every step of each unit's lifecycle.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		mode, err := cmd.Flags().GetString("color")
		if err != nil {
			return err
		}
		if err := applyColorMode(mode, os.Stdout); err != nil {
			return err
		}
		return startProfiling(cmd)
	},
}

func init() {
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().String("config", "", "path to objlink.toml (default: search upwards from the working directory)")
	rootCmd.PersistentFlags().Bool("timings", false, "show per-phase timings")

	rootCmd.PersistentFlags().String("trace", "", "trace output file (- for stderr)")
	rootCmd.PersistentFlags().String("trace-level", "off", "trace level (off|session|unit|pass|debug)")
	rootCmd.PersistentFlags().String("trace-mode", "stream", "trace storage mode (stream|ring|both)")
	rootCmd.PersistentFlags().String("trace-format", "auto", "trace format (auto|text|ndjson)")
	rootCmd.PersistentFlags().Int("trace-ring-size", 4096, "ring buffer capacity for trace events")
	rootCmd.PersistentFlags().Duration("trace-heartbeat", 0, "emit a heartbeat event at this interval (0 disables)")

	rootCmd.PersistentFlags().String("cpuprofile", "", "write a CPU profile to file")
	rootCmd.PersistentFlags().String("memprofile", "", "write a heap profile to file on exit")
	rootCmd.PersistentFlags().String("runtime-trace", "", "write a Go runtime trace to file")

	cobra.OnFinalize(stopProfiling)
}

func main() {
	rootCmd.Version = version.String()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func applyColorMode(mode string, out *os.File) error {
	switch strings.ToLower(mode) {
	case "auto", "":
		color.NoColor = !isTerminal(out)
	case "on", "always":
		color.NoColor = false
	case "off", "never":
		color.NoColor = true
	default:
		return fmt.Errorf("invalid --color value %q (expected auto|on|off)", mode)
	}
	return nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
