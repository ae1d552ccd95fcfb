package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	conversationsListJSON bool

	messagesJSON  bool
	messagesLimit int
)

// ============================================================================
// conversations (parent command)
// ============================================================================

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Manage conversations",
	Long:  "List conversations, view message history, and mark conversations as read.",
}

// ============================================================================
// conversations list
// ============================================================================

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		conversations, err := client.Conversations.List(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if conversationsListJSON {
			b, _ := json.MarshalIndent(conversations, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		if len(conversations) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		for _, c := range conversations {
			unread := ""
			if c.UnreadCount > 0 {
				unread = fmt.Sprintf(" (%d unread)", c.UnreadCount)
			}
			preview := ""
			if c.LastMessage != nil {
				preview = " - " + c.LastMessage.Text
			}
			fmt.Printf("  %d: %s%s%s\n", c.ID, c.PartnerName, unread, preview)
		}
		return nil
	},
}

// ============================================================================
// conversations messages
// ============================================================================

var conversationsMessagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Show a conversation's message history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("conversation ID must be numeric: %w", err)
		}
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		messages, err := client.Messages.List(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if messagesLimit > 0 && len(messages) > messagesLimit {
			messages = messages[len(messages)-messagesLimit:]
		}

		if messagesJSON {
			b, _ := json.MarshalIndent(messages, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		if len(messages) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		for _, msg := range messages {
			fmt.Printf("[%s] %s: %s\n", msg.CreatedAt, msg.Sender.Name, msg.Text)
		}
		return nil
	},
}

// ============================================================================
// conversations read
// ============================================================================

var conversationsReadCmd = &cobra.Command{
	Use:   "read <conversation-id>",
	Short: "Mark a conversation as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("conversation ID must be numeric: %w", err)
		}
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.Conversations.MarkRead(ctx, conversationID); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Conversation %d marked as read.\n", conversationID)
		return nil
	},
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	conversationsListCmd.Flags().BoolVar(&conversationsListJSON, "json", false, "Output raw JSON")

	conversationsMessagesCmd.Flags().IntVarP(&messagesLimit, "limit", "n", 0, "Maximum number of messages to show")
	conversationsMessagesCmd.Flags().BoolVar(&messagesJSON, "json", false, "Output raw JSON")

	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsMessagesCmd)
	conversationsCmd.AddCommand(conversationsReadCmd)

	rootCmd.AddCommand(conversationsCmd)
}
