package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "cortex",
	Short: "Cortex is a workflow orchestration engine for SRE queries",
	Long: `Cortex decomposes natural-language operational queries into a tree of
tasks, executes them against collaborator services and streams the growing
tree to connected clients in real time.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to the config file (default: cortex.yaml in the working directory)")
}
