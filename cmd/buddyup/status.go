package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	buddyup "github.com/buddyup-app/buddyup-go"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the current configuration and probe the server with a conversations fetch.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Print config summary.
		fmt.Println("Configuration:")
		fmt.Printf("  Base URL: %s\n", valueOrDefault(cfg.Default.BaseURL, buddyup.DefaultBaseURL))

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.Token != "" {
			fmt.Printf("  Token:   %s\n", maskToken(cfg.Auth.Token))
		} else {
			fmt.Println("  Token:   (not set)")
		}
		if cfg.Auth.Name != "" {
			fmt.Printf("  User:    %s (id %d)\n", cfg.Auth.Name, cfg.Auth.UserID)
		} else {
			fmt.Println("  User:    (not set)")
		}

		if cfg.Auth.Token == "" {
			return nil
		}

		// Probe the server.
		fmt.Println()
		fmt.Println("Live status:")

		var opts []buddyup.ClientOption
		if cfg.Default.BaseURL != "" {
			opts = append(opts, buddyup.WithBaseURL(cfg.Default.BaseURL))
		}
		client := buddyup.NewClient(cfg.Auth.Token, opts...)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		conversations, err := client.Conversations.List(ctx)
		if err != nil {
			fmt.Printf("  Error fetching conversations: %v\n", err)
			return nil
		}

		unread := 0
		for _, c := range conversations {
			unread += c.UnreadCount
		}
		fmt.Printf("  Conversations: %d\n", len(conversations))
		fmt.Printf("  Unread:        %d\n", unread)
		return nil
	},
}

// maskToken shows the first 8 and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) <= 12 {
		return "****"
	}
	return token[:8] + "..." + token[len(token)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
