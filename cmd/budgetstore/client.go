package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nainya/budgetstore/internal/server"
	"github.com/nainya/budgetstore/pkg/engine"
	"github.com/nainya/budgetstore/pkg/version"
)

// dial connects to the server named by --addr
func dial() (*server.Client, func(), error) {
	conn, err := grpc.NewClient(serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", serverAddr, err)
	}
	return server.NewClient(conn), func() { conn.Close() }, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runGraph(cmd *cobra.Command, args []string) error {
	client, closeConn, err := dial()
	if err != nil {
		return err
	}
	defer closeConn()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	var graph version.VersionGraph
	if err := client.Call(ctx, "GetVersionGraph", server.BudgetRequest{BudgetID: args[0]}, &graph); err != nil {
		return err
	}
	for _, n := range graph.Nodes {
		parent := n.ParentID
		if parent == "" {
			parent = "-"
		}
		fmt.Printf("%-16s parent=%-16s changes=%-3d by=%s  %s\n", n.ID, parent, n.ChangeCount, n.CreatedBy, n.Name)
	}
	for _, b := range graph.Branches {
		fmt.Printf("branch %s (%s) base=%s head=%s\n", b.Name, b.Status, b.BaseVersionID, b.Head())
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	client, closeConn, err := dial()
	if err != nil {
		return err
	}
	defer closeConn()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	var history server.HistoryResponse
	if err := client.Call(ctx, "ReconstructionHistory", server.BudgetRequest{BudgetID: args[0]}, &history); err != nil {
		return err
	}
	return printJSON(history.Entries)
}

func runFeed(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read feed file: %w", err)
	}
	var updates []engine.FeedUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return fmt.Errorf("failed to parse feed file: %w", err)
	}
	if strategy != "" {
		for i := range updates {
			updates[i].Strategy = strategy
		}
	}

	client, closeConn, err := dial()
	if err != nil {
		return err
	}
	defer closeConn()

	var resp server.FeedResponse
	if err := client.Call(cmd.Context(), "ProcessFeed", server.FeedRequest{Updates: updates}, &resp); err != nil {
		return err
	}
	return printJSON(resp.Results)
}
