// Command ipwisctl is a thin CLI client for a running ipwisd daemon: it
// spawns tasks and polls their outcome over the RPC shim.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ipwis/kernel/internal/rpc"
)

var (
	addr   string
	output string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ipwisctl",
		Short: "ipwisctl talks to a running ipwis kernel daemon over RPC",
	}
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "localhost:9090", "ipwisd RPC address")
	rootCmd.PersistentFlags().StringVar(&output, "output", "yaml", "result format: yaml or json")

	rootCmd.AddCommand(spawnCmd(), pollCmd(), waitCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func spawnCmd() *cobra.Command {
	var (
		tenant      string
		contentHash string
		inputs      string
	)

	cmd := &cobra.Command{
		Use:   "spawn",
		Short: "spawn a task from a program content hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			if contentHash == "" {
				return fmt.Errorf("--program is required")
			}

			client, err := rpc.Dial(context.Background(), addr)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			resp, err := client.Spawn(ctx, &rpc.SpawnRequest{
				Tenant: tenant,
				CtxTree: &rpc.TaskCtxWire{
					Inputs:  []byte(inputs),
					Program: &rpc.ProgramRefWire{ContentHash: contentHash},
				},
			})
			if err != nil {
				return fmt.Errorf("spawn: %w", err)
			}
			return printResult(map[string]any{"task_id": resp.TaskId})
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "owning tenant")
	cmd.Flags().StringVar(&contentHash, "program", "", "program content hash")
	cmd.Flags().StringVar(&inputs, "inputs", "", "raw task input bytes")
	return cmd
}

func pollCmd() *cobra.Command {
	var taskID uint32

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "poll a task's current state without blocking",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := rpc.Dial(context.Background(), addr)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			resp, err := client.Poll(ctx, &rpc.PollRequest{TaskId: taskID})
			if err != nil {
				return fmt.Errorf("poll: %w", err)
			}
			return printPoll(resp.Poll)
		},
	}
	cmd.Flags().Uint32Var(&taskID, "task", 0, "task id")
	return cmd
}

func waitCmd() *cobra.Command {
	var (
		taskID  uint32
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "block until a task reaches a terminal state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := rpc.Dial(context.Background(), addr)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			resp, err := client.Wait(ctx, &rpc.WaitRequest{TaskId: taskID})
			if err != nil {
				return fmt.Errorf("wait: %w", err)
			}
			return printPoll(resp.Poll)
		},
	}
	cmd.Flags().Uint32Var(&taskID, "task", 0, "task id")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "max time to wait")
	return cmd
}

func printPoll(p *rpc.TaskPollWire) error {
	result := map[string]any{"kind": p.Kind}
	if len(p.Output) > 0 {
		result["output_base64"] = base64.StdEncoding.EncodeToString(p.Output)
	}
	if p.Text != "" {
		result["text"] = p.Text
	}
	return printResult(result)
}

func printResult(v any) error {
	switch output {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		b, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		fmt.Print(string(b))
		return nil
	}
}
