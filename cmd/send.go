package cmd

import (
	"github.com/spf13/cobra"
)

func sendCmd() *cobra.Command {
	var (
		from   string
		thread string
	)
	cmd := &cobra.Command{
		Use:   "send <agent-id> <message>",
		Short: "Send a message to a running agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, token, err := gatewayTarget()
			if err != nil {
				return err
			}
			body := map[string]any{
				"agent_id": args[0],
				"content":  args[1],
			}
			if from != "" {
				body["from"] = from
			}
			if thread != "" {
				body["thread"] = thread
			}
			out, err := apiRequest("POST", addr, token, "/api/messages", body)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&gatewayAddr, "addr", "", "gateway address (default: from config)")
	cmd.Flags().StringVar(&from, "from", "", `sender identity (default: "parent")`)
	cmd.Flags().StringVar(&thread, "thread", "", "thread id for bus routing")
	return cmd
}
