package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"objlink/internal/prof"
)

var profSession *prof.Session

func startProfiling(cmd *cobra.Command) error {
	var opts prof.Options
	var err error
	if opts.CPUProfile, err = cmd.Flags().GetString("cpuprofile"); err != nil {
		return err
	}
	if opts.MemProfile, err = cmd.Flags().GetString("memprofile"); err != nil {
		return err
	}
	if opts.RuntimeTrace, err = cmd.Flags().GetString("runtime-trace"); err != nil {
		return err
	}
	if !opts.Enabled() {
		return nil
	}
	profSession, err = prof.Start(opts)
	return err
}

func stopProfiling() {
	if err := profSession.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "profiling: %v\n", err)
	}
	profSession = nil
}
