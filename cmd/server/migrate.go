package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rpattn/gist/internal/config"
	"github.com/rpattn/gist/internal/db"
)

func newMigrateCommand(load func() (config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the entity table schema",
	}
	for _, direction := range []string{"up", "down"} {
		cmd.AddCommand(&cobra.Command{
			Use:   direction,
			Short: fmt.Sprintf("Apply %s migrations", direction),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				if err := db.RunMigrations(cfg.Database, direction); err != nil {
					return err
				}
				version, dirty, err := db.MigrationVersion(cfg.Database)
				if err != nil {
					return err
				}
				color.Green("✓ migrated %s to version %d (dirty: %t)", direction, version, dirty)
				return nil
			},
		})
	}
	return cmd
}
