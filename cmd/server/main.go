package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rpattn/gist/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}

// newRootCommand creates the gist command tree.
func newRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "gist",
		Short:         "Metadata driven query and projection server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".", "directory holding config.yaml")

	load := func() (config.Config, error) {
		return config.Load(configPath)
	}
	rootCmd.AddCommand(newServeCommand(load))
	rootCmd.AddCommand(newMigrateCommand(load))
	rootCmd.AddCommand(newCheckCommand(load))
	return rootCmd
}
