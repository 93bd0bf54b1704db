package cmd

import (
	"github.com/spf13/cobra"
)

func agentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage agents on a running gateway",
	}
	cmd.PersistentFlags().StringVar(&gatewayAddr, "addr", "", "gateway address (default: from config)")

	cmd.AddCommand(agentsListCmd())
	cmd.AddCommand(agentsGetCmd())
	cmd.AddCommand(agentsSpawnCmd())
	cmd.AddCommand(agentsTerminateCmd())
	return cmd
}

func agentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List running agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, token, err := gatewayTarget()
			if err != nil {
				return err
			}
			out, err := apiRequest("GET", addr, token, "/api/agents", nil)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func agentsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <agent-id>",
		Short: "Show one agent's state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, token, err := gatewayTarget()
			if err != nil {
				return err
			}
			out, err := apiRequest("GET", addr, token, "/api/agents/"+args[0], nil)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func agentsSpawnCmd() *cobra.Command {
	var (
		agentID string
		taskID  string
		pool    []string
	)
	cmd := &cobra.Command{
		Use:   "spawn <prompt>",
		Short: "Spawn a new agent with a prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, token, err := gatewayTarget()
			if err != nil {
				return err
			}
			body := map[string]any{
				"agent_id": agentID,
				"task_id":  taskID,
				"prompt":   args[0],
			}
			if len(pool) > 0 {
				body["model_pool"] = pool
			}
			out, err := apiRequest("POST", addr, token, "/api/agents", body)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "id", "", "agent id (required)")
	cmd.Flags().StringVar(&taskID, "task", "", "task id (required)")
	cmd.Flags().StringSliceVar(&pool, "models", nil, "model pool (default: config default_model_pool)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func agentsTerminateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "terminate <agent-id>",
		Short: "Terminate an agent (children included)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, token, err := gatewayTarget()
			if err != nil {
				return err
			}
			out, err := apiRequest("DELETE", addr, token, "/api/agents/"+args[0], nil)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}
