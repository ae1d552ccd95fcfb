package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	loginUserID int64
	loginName   string
)

func init() {
	loginCmd.Flags().Int64Var(&loginUserID, "user-id", 0, "Numeric ID of the authenticated user")
	loginCmd.Flags().StringVar(&loginName, "name", "", "Display name of the authenticated user")
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <token>",
	Short: "Store an auth token in ~/.buddyup/config.toml",
	Long:  "Store the BuddyUp auth token and local user identity in the configuration file.\nThe user ID lets the chat session tell its own messages apart from the buddy's.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.Token = token
		if loginUserID != 0 {
			cfg.Auth.UserID = loginUserID
		}
		if loginName != "" {
			cfg.Auth.Name = loginName
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Token saved to %s\n", path)
		return nil
	},
}
