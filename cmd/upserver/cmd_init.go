package main

import (
	"fmt"
	"os"
	"path/filepath"

	"upserver/pkg/config"
	"upserver/pkg/store"

	"github.com/spf13/cobra"
)

// loadConfig loads the config file and anchors relative paths (site root,
// database) under the upserver home dir.
func loadConfig(paths *Paths) (config.Config, error) {
	cfg, err := config.Load(paths.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if !filepath.IsAbs(cfg.SiteRoot) {
		cfg.SiteRoot = filepath.Join(paths.Home, cfg.SiteRoot)
	}
	if !filepath.IsAbs(cfg.DBPath) {
		cfg.DBPath = filepath.Join(paths.Home, cfg.DBPath)
	}
	return cfg, nil
}

// newInitCmd creates the "upserver init" subcommand.
func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration and initialize state",
		Long:  "Creates the upserver home directory, writes a default config.yaml,\ncreates the site root, and initializes the state database schema.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			if err := paths.EnsureHome(); err != nil {
				return err
			}

			if _, err := os.Stat(paths.ConfigPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", paths.ConfigPath)
			}
			if err := config.Save(paths.ConfigPath, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", paths.ConfigPath)

			cfg, err := loadConfig(paths)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.SiteRoot, 0o755); err != nil {
				return fmt.Errorf("create site root %s: %w", cfg.SiteRoot, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "site root %s\n", cfg.SiteRoot)

			db, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := store.New(db).Init(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "state database %s\n", cfg.DBPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
