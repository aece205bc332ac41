package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "skygate",
		Short:   "skygate is a satellite imagery MCP server with purchase guardrails",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newBudgetCmd(),
		newOrdersCmd(),
		newCacheCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
