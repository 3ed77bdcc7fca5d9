// Command controller runs the Lambda Microservice Controller: the HTTP
// surface, Dispatch Engine, and their component dependencies, wired
// together the way cmd/nova's cobra root + daemon subcommand does in the
// teacher.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "controller",
		Short: "Lambda Microservice Controller",
		Long:  "Routes function-execution requests across pluggable language runtime workers.",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file (optional, env vars still apply on top)")

	rootCmd.AddCommand(serveCmd(), migrateCmd(), sweepNowCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
