package main

import (
	"fmt"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage BuddyUp configuration",
	Long: "View or modify the BuddyUp CLI configuration.\n\n" +
		"Settings live in ~/.buddyup/config.toml. BUDDYUP_TOKEN, BUDDYUP_BASE_URL,\n" +
		"BUDDYUP_USER_ID, and BUDDYUP_NAME environment variables (including values\n" +
		"from a .env file in the working directory) override the file at run time.\n\n" +
		"Keys: default.base_url, auth.token, auth.user_id, auth.name",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: "Print the configuration as the CLI resolves it, with environment\n" +
		"overrides applied and the token masked.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return err
		}

		display := *cfg
		if display.Auth.Token == "" {
			fmt.Println("Not logged in. Run 'buddyup login <token>' to get started.")
		} else {
			display.Auth.Token = maskToken(display.Auth.Token)
		}

		data, err := toml.Marshal(display)
		if err != nil {
			return fmt.Errorf("cannot render config: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a configuration value to the config file",
	Long: "Write a configuration value using section.field notation, e.g.\n\n" +
		"  buddyup config set default.base_url https://staging.buddyup.app\n" +
		"  buddyup config set auth.name alex\n\n" +
		"auth.token and auth.user_id are normally filled in by 'buddyup login'.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return err
		}

		path, err := configPath()
		if err != nil {
			return err
		}
		fmt.Printf("Set %s in %s\n", key, path)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}
