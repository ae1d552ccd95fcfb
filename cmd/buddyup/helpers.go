package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"

	buddyup "github.com/buddyup-app/buddyup-go"
)

// resolvedConfig loads the config file and applies environment overrides.
// BUDDYUP_TOKEN, BUDDYUP_BASE_URL, BUDDYUP_USER_ID, and BUDDYUP_NAME take
// precedence over the file (including values loaded from a .env).
func resolvedConfig() (*Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if v := os.Getenv("BUDDYUP_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if v := os.Getenv("BUDDYUP_BASE_URL"); v != "" {
		cfg.Default.BaseURL = v
	}
	if v := os.Getenv("BUDDYUP_USER_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Auth.UserID = id
		}
	}
	if v := os.Getenv("BUDDYUP_NAME"); v != "" {
		cfg.Auth.Name = v
	}
	return cfg, nil
}

// getClient creates an authenticated BuddyUp client, exiting with a hint if
// no token is configured.
func getClient() *buddyup.Client {
	cfg, err := resolvedConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "No token. Run 'buddyup login <token>' first.")
		os.Exit(1)
	}

	var opts []buddyup.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, buddyup.WithBaseURL(cfg.Default.BaseURL))
	}
	if verboseFlag {
		opts = append(opts, buddyup.WithLogger(consoleLogger()))
	}

	return buddyup.NewClient(cfg.Auth.Token, opts...)
}

// localUser builds the local user identity from config.
func localUser(cfg *Config) buddyup.User {
	return buddyup.User{ID: cfg.Auth.UserID, Name: cfg.Auth.Name}
}

func consoleLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger().Level(zerolog.DebugLevel)
}

var verboseFlag bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Log client internals to stderr")
}
