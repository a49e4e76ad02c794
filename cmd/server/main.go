package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:     "taskboard-server",
		Short:   "Realtime task board server",
		Version: Version,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./configs/taskboard.yaml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
