// Package config loads objlink.toml, the per-project settings for graph
// dumps, tracing and linking.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"objlink/internal/graphdump"
	"objlink/internal/linkgraph"
	"objlink/internal/trace"
)

// FileName is the name searched for by Find.
const FileName = "objlink.toml"

// Config mirrors objlink.toml:
//
//	[dump]
//	line_width = 16
//	sections = ["__text"]
//
//	[trace]
//	level = "unit"
//	mode = "stream"
//	output = "stderr"
//
//	[link]
//	jobs = 4
//	  [[link.externals]]
//	  name = "puts"
//	  addr = "0x7fff0000"
type Config struct {
	Dump  DumpConfig  `toml:"dump"`
	Trace TraceConfig `toml:"trace"`
	Link  LinkConfig  `toml:"link"`
}

type DumpConfig struct {
	LineWidth int      `toml:"line_width"`
	Sections  []string `toml:"sections"`
}

type TraceConfig struct {
	Level     string `toml:"level"`
	Mode      string `toml:"mode"`
	Format    string `toml:"format"`
	Output    string `toml:"output"`
	RingSize  int    `toml:"ring_size"`
	Heartbeat string `toml:"heartbeat"`
}

type LinkConfig struct {
	Jobs      int        `toml:"jobs"`
	Externals []External `toml:"externals"`
}

// External is an absolute symbol definition made before any unit is linked.
type External struct {
	Name string `toml:"name"`
	Addr any    `toml:"addr"`
}

// Address parses Addr, which may be a TOML integer or a prefixed string.
func (e External) Address() (linkgraph.Addr, error) {
	v, err := linkgraph.ParseAddr(e.Addr)
	if err != nil {
		return 0, fmt.Errorf("external %q: %w", e.Name, err)
	}
	return linkgraph.Addr(v), nil
}

// Default returns the settings used when no objlink.toml exists.
func Default() Config {
	return Config{
		Dump:  DumpConfig{LineWidth: graphdump.DefaultLineWidth},
		Trace: TraceConfig{Level: "off", Mode: "stream", Format: "auto", Output: "stderr", RingSize: 4096},
	}
}

// Manifest is a loaded objlink.toml and where it was found.
type Manifest struct {
	Path   string
	Root   string
	Config Config
}

// Find walks up from startDir looking for objlink.toml.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Discover finds and loads the nearest objlink.toml. The bool reports
// whether one was found; without one the defaults are returned.
func Discover(startDir string) (*Manifest, bool, error) {
	path, ok, err := Find(startDir)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return &Manifest{Config: Default()}, false, nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, true, err
	}
	return &Manifest{Path: path, Root: filepath.Dir(path), Config: cfg}, true, nil
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.Dump.LineWidth <= 0 {
		return fmt.Errorf("[dump].line_width must be positive, got %d", c.Dump.LineWidth)
	}
	if _, err := trace.ParseLevel(c.Trace.Level); err != nil {
		return fmt.Errorf("[trace].level: %w", err)
	}
	if _, err := trace.ParseMode(c.Trace.Mode); err != nil {
		return fmt.Errorf("[trace].mode: %w", err)
	}
	if _, err := trace.ParseFormat(c.Trace.Format); err != nil {
		return fmt.Errorf("[trace].format: %w", err)
	}
	if c.Trace.RingSize < 0 {
		return fmt.Errorf("[trace].ring_size must not be negative, got %d", c.Trace.RingSize)
	}
	if _, err := c.Trace.HeartbeatInterval(); err != nil {
		return err
	}
	if c.Link.Jobs < 0 {
		return fmt.Errorf("[link].jobs must not be negative, got %d", c.Link.Jobs)
	}
	seen := make(map[string]struct{}, len(c.Link.Externals))
	for i, ext := range c.Link.Externals {
		if strings.TrimSpace(ext.Name) == "" {
			return fmt.Errorf("[[link.externals]] #%d: missing name", i)
		}
		if _, dup := seen[ext.Name]; dup {
			return fmt.Errorf("[[link.externals]]: %q defined twice", ext.Name)
		}
		seen[ext.Name] = struct{}{}
		if _, err := ext.Address(); err != nil {
			return fmt.Errorf("[[link.externals]] #%d: %w", i, err)
		}
	}
	return nil
}

// HeartbeatInterval parses Heartbeat; empty means disabled.
func (t TraceConfig) HeartbeatInterval() (time.Duration, error) {
	if t.Heartbeat == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(t.Heartbeat)
	if err != nil {
		return 0, fmt.Errorf("[trace].heartbeat: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("[trace].heartbeat must not be negative, got %s", d)
	}
	return d, nil
}

// TracerConfig converts the [trace] table for trace.New. An output of
// "stderr", "-" or "" writes to standard error.
func (t TraceConfig) TracerConfig() (trace.Config, error) {
	level, err := trace.ParseLevel(t.Level)
	if err != nil {
		return trace.Config{}, err
	}
	mode, err := trace.ParseMode(t.Mode)
	if err != nil {
		return trace.Config{}, err
	}
	format, err := trace.ParseFormat(t.Format)
	if err != nil {
		return trace.Config{}, err
	}
	heartbeat, err := t.HeartbeatInterval()
	if err != nil {
		return trace.Config{}, err
	}
	output := t.Output
	if output == "stderr" {
		output = "-"
	}
	return trace.Config{
		Level:      level,
		Mode:       mode,
		Format:     format,
		OutputPath: output,
		RingSize:   t.RingSize,
		Heartbeat:  heartbeat,
	}, nil
}
