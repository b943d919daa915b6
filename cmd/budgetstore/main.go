// budgetstore gRPC server and client commands
// Versioned travel budgets with provider-driven reconstruction
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	serverAddr string
	strategy   string

	rootCmd = &cobra.Command{
		Use:   "budgetstore",
		Short: "Versioned budget store with provider-driven reconstruction",
		Long: `budgetstore keeps every client quote as a version graph and rebuilds
affected lines when provider prices, costs or availability change.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC server and the observability endpoints",
		RunE:  runServe, // Defined in serve.go
	}

	graphCmd = &cobra.Command{
		Use:   "graph [budget-id]",
		Short: "Print the version graph of a budget from a running server",
		Args:  cobra.ExactArgs(1),
		RunE:  runGraph, // Defined in client.go
	}

	historyCmd = &cobra.Command{
		Use:   "history [budget-id]",
		Short: "Print the reconstruction history of a budget",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistory,
	}

	feedCmd = &cobra.Command{
		Use:   "feed [updates.json]",
		Short: "Send a batch of provider feed updates to a running server",
		Args:  cobra.ExactArgs(1),
		RunE:  runFeed,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")

	for _, c := range []*cobra.Command{graphCmd, historyCmd, feedCmd} {
		c.Flags().StringVar(&serverAddr, "addr", "localhost:50051", "Address of a running budgetstore server")
	}
	feedCmd.Flags().StringVar(&strategy, "strategy", "", "Force one reconstruction strategy for every update")

	rootCmd.AddCommand(serveCmd, graphCmd, historyCmd, feedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
