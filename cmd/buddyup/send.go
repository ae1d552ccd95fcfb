package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var sendJSON bool

func init() {
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Output raw JSON")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <text>",
	Short: "Send a message over REST",
	Long:  "Send a single message to a conversation without opening a chat session.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("conversation ID must be numeric: %w", err)
		}
		text := args[1]
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		msg, err := client.Messages.Create(ctx, conversationID, text)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if sendJSON {
			b, _ := json.MarshalIndent(msg, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		fmt.Printf("Message sent to conversation %d\n", conversationID)
		fmt.Printf("  Message ID: %d\n", msg.ID)
		fmt.Printf("  Text:       %s\n", msg.Text)
		return nil
	},
}
