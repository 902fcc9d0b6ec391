package main

import (
	"github.com/spf13/cobra"

	"objlink/internal/config"
)

// loadConfig reads --config, or the nearest objlink.toml, and applies the
// dump and link flags of cmd on top of it.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}

	var cfg config.Config
	if path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
	} else {
		manifest, _, err := config.Discover(".")
		if err != nil {
			return config.Config{}, err
		}
		cfg = manifest.Config
	}

	flags := cmd.Flags()
	if flags.Changed("line-width") {
		if cfg.Dump.LineWidth, err = flags.GetInt("line-width"); err != nil {
			return config.Config{}, err
		}
	}
	if flags.Changed("section") {
		if cfg.Dump.Sections, err = flags.GetStringSlice("section"); err != nil {
			return config.Config{}, err
		}
	}
	if flags.Changed("jobs") {
		if cfg.Link.Jobs, err = flags.GetInt("jobs"); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
