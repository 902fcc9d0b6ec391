package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"fortio.org/safecast"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"objlink/internal/config"
	"objlink/internal/diagstream"
	"objlink/internal/graphdump"
	"objlink/internal/graphprinter"
	"objlink/internal/linkgraph"
	"objlink/internal/linker"
	"objlink/internal/plugin"
	"objlink/internal/trace"
)

var linkCmd = &cobra.Command{
	Use:   "link [flags] graph.toml...",
	Short: "Link object graphs with the graph printer plugin",
	Long: `Link one or more object graphs. Each file becomes one unit under its own
resource key. The graph printer plugin dumps every graph before and after
fixups to stderr; link results go to stdout. On a terminal a live progress
view is drawn while linking and the dumps follow once it closes.`,
	Args: cobra.MinimumNArgs(1),
	RunE: linkExecution,
}

func init() {
	linkCmd.Flags().Int("jobs", 0, "number of units linked concurrently (0 = GOMAXPROCS)")
	linkCmd.Flags().Int("line-width", graphdump.DefaultLineWidth, "bytes per dump line")
	linkCmd.Flags().StringSlice("section", nil, "only dump the named sections")
	linkCmd.Flags().StringArray("define", nil, "define an absolute symbol (name=addr), may be repeated")
	linkCmd.Flags().Bool("no-dump", false, "do not run the graph printer plugin")
	linkCmd.Flags().Bool("quiet", false, "dump graphs without load and emit messages")
	linkCmd.Flags().Bool("symbols", false, "print the address of every symbol each unit defines")
	linkCmd.Flags().Bool("keep", false, "keep resources instead of removing them after linking")
	linkCmd.Flags().String("ui", "auto", "live progress view (auto|on|off)")
}

var (
	okLabel   = color.New(color.FgGreen, color.Bold)
	failLabel = color.New(color.FgRed, color.Bold)
	dimText   = color.New(color.Faint)
)

func linkExecution(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defines, err := cmd.Flags().GetStringArray("define")
	if err != nil {
		return err
	}
	noDump, err := cmd.Flags().GetBool("no-dump")
	if err != nil {
		return err
	}
	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return err
	}
	showSymbols, err := cmd.Flags().GetBool("symbols")
	if err != nil {
		return err
	}
	keep, err := cmd.Flags().GetBool("keep")
	if err != nil {
		return err
	}
	showTimings, err := cmd.Flags().GetBool("timings")
	if err != nil {
		return err
	}
	uiValue, err := cmd.Flags().GetString("ui")
	if err != nil {
		return err
	}
	mode, err := readUIMode(uiValue)
	if err != nil {
		return err
	}
	useUI := shouldUseTUI(mode, cmd.OutOrStdout())

	tracer, cleanup, err := setupTracing(cmd, cfg.Trace)
	if err != nil {
		return err
	}
	defer cleanup()

	// Dumps are held back while the progress view owns the terminal.
	var held bytes.Buffer
	if useUI {
		diagstream.Init(&held)
	} else {
		diagstream.Init(cmd.ErrOrStderr())
	}
	defer func() { _ = diagstream.Flush() }()

	dumpOpts, err := dumpOptions(cfg.Dump)
	if err != nil {
		return err
	}

	opts := []linker.Option{linker.WithJobs(cfg.Link.Jobs), linker.WithTracer(tracer)}
	var events chan linker.Event
	if useUI {
		events = make(chan linker.Event, 256)
		opts = append(opts, linker.WithProgress(linker.ChannelSink{Ch: events}))
	}
	if !noDump {
		opts = append(opts, linker.WithPlugins(graphprinter.New(graphprinter.Options{Dump: dumpOpts, Quiet: quiet})))
	}
	layer := linker.NewLayer(opts...)

	if err := defineExternals(layer, cfg.Link.Externals, defines); err != nil {
		return err
	}

	jobs := make([]linker.Job, 0, len(args))
	units := make([]string, 0, len(args))
	for i, path := range args {
		g, err := linkgraph.LoadFile(path)
		if err != nil {
			return err
		}
		key, err := safecast.Conv[plugin.ResourceKey](i + 1)
		if err != nil {
			return err
		}
		unit := plugin.UnitFromGraph(g, key)
		jobs = append(jobs, linker.Job{Unit: unit, Graph: g})
		units = append(units, unit.Name)
	}

	session := func() ([]linker.Result, error) {
		return linkSession(cmd, layer, jobs, keep)
	}
	out := cmd.OutOrStdout()
	var results []linker.Result
	var linkErr error
	if useUI {
		results, linkErr = runLinkWithUI(out, "linking", units, events, session)
		diagstream.Init(cmd.ErrOrStderr())
		diagstream.Write(held.Bytes())
	} else {
		results, linkErr = session()
	}
	for _, res := range results {
		printResult(out, res, showSymbols, showTimings)
	}

	if linkErr != nil {
		if ring := ringOf(tracer); ring != nil {
			_ = ring.Dump(cmd.ErrOrStderr(), trace.FormatText)
		}
		if n := failedCount(results); n > 0 {
			return fmt.Errorf("%d of %d units failed", n, len(results))
		}
		return linkErr
	}
	return nil
}

// linkSession links every job and, unless keep is set, releases the
// resources of the session afterwards.
func linkSession(cmd *cobra.Command, layer *linker.Layer, jobs []linker.Job, keep bool) ([]linker.Result, error) {
	results, linkErr := layer.LinkAll(cmd.Context(), jobs)
	if !keep && !errors.Is(linkErr, linker.ErrSessionCorrupted) {
		for _, key := range layer.Keys() {
			if err := layer.Remove(key); err != nil {
				linkErr = errors.Join(linkErr, err)
			}
		}
	}
	return results, linkErr
}

func dumpOptions(dc config.DumpConfig) (graphdump.Options, error) {
	width, err := safecast.Conv[uint64](dc.LineWidth)
	if err != nil {
		return graphdump.Options{}, fmt.Errorf("line width %d: %w", dc.LineWidth, err)
	}
	return graphdump.Options{LineWidth: width, Sections: dc.Sections}, nil
}

// defineExternals registers [[link.externals]] first, then --define flags.
func defineExternals(layer *linker.Layer, externals []config.External, defines []string) error {
	for _, ext := range externals {
		addr, err := ext.Address()
		if err != nil {
			return err
		}
		if err := layer.DefineAbsolute(ext.Name, addr); err != nil {
			return err
		}
	}
	for _, def := range defines {
		name, value, ok := strings.Cut(def, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return fmt.Errorf("invalid --define %q (expected name=addr)", def)
		}
		addr, err := linkgraph.ParseAddr(value)
		if err != nil {
			return fmt.Errorf("--define %s: %w", name, err)
		}
		if err := layer.DefineAbsolute(strings.TrimSpace(name), linkgraph.Addr(addr)); err != nil {
			return err
		}
	}
	return nil
}

func printResult(out io.Writer, res linker.Result, showSymbols, showTimings bool) {
	name := "<nil>"
	if res.Unit != nil {
		name = res.Unit.Name
	}
	if res.Err != nil {
		fmt.Fprintf(out, "%s %s: %v\n", failLabel.Sprint("failed"), name, res.Err)
	} else {
		fmt.Fprintf(out, "%s %s %s\n", okLabel.Sprint("linked"), name, dimText.Sprintf("(%d symbols)", len(res.Symbols)))
	}
	if showSymbols {
		names := make([]string, 0, len(res.Symbols))
		for sym := range res.Symbols {
			names = append(names, sym)
		}
		sort.Strings(names)
		for _, sym := range names {
			fmt.Fprintf(out, "  %s %s\n", res.Symbols[sym], sym)
		}
	}
	if showTimings {
		for _, p := range res.Timings.Phases {
			fmt.Fprintf(out, "  %-12s %.2f ms\n", p.Name, p.DurationMS)
		}
		fmt.Fprintf(out, "  %-12s %.2f ms\n", "total", res.Timings.TotalMS)
	}
}

func failedCount(results []linker.Result) int {
	n := 0
	for _, res := range results {
		if res.Err != nil {
			n++
		}
	}
	return n
}
