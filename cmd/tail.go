package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/cobra"
)

// busEvent mirrors the gateway's websocket frame.
type busEvent struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func tailCmd() *cobra.Command {
	var topics []string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream gateway events to stdout (all topics unless --topic is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, token, err := gatewayTarget()
			if err != nil {
				return err
			}

			q := url.Values{}
			if token != "" {
				q.Set("token", token)
			}
			if len(topics) > 0 {
				q.Set("topics", strings.Join(topics, ","))
			}
			wsURL := "ws://" + addr + "/ws"
			if enc := q.Encode(); enc != "" {
				wsURL += "?" + enc
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			conn, _, err := websocket.Dial(ctx, wsURL, nil)
			if err != nil {
				return fmt.Errorf("connect %s: %w", wsURL, err)
			}
			defer conn.Close(websocket.StatusNormalClosure, "")

			fmt.Fprintf(os.Stderr, "tailing %s\n", wsURL)
			for {
				var ev busEvent
				if err := wsjson.Read(ctx, conn, &ev); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("read event: %w", err)
				}
				line, _ := json.Marshal(ev)
				fmt.Println(string(line))
			}
		},
	}
	cmd.Flags().StringVar(&gatewayAddr, "addr", "", "gateway address (default: from config)")
	cmd.Flags().StringSliceVar(&topics, "topic", nil, "topic to subscribe to (repeatable)")
	return cmd
}
