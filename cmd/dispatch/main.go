package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Event log and notification fan-out engine",
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")

	cmd.AddCommand(newServeCommand(&configPath))
	cmd.AddCommand(newSendCommand(&configPath))
	cmd.AddCommand(newMigrateCommand(&configPath))

	return cmd
}
