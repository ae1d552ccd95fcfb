package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	buddyup "github.com/buddyup-app/buddyup-go"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat <conversation-id>",
	Short: "Open an interactive chat session",
	Long: "Open a real-time chat session on a conversation. Lines you type are sent\n" +
		"as messages; incoming messages print as they arrive.\n\n" +
		"Commands: /read marks the conversation read, /status shows connection\n" +
		"state and presence, /quit exits.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("conversation ID must be numeric: %w", err)
		}

		cfg, err := resolvedConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Auth.UserID == 0 {
			fmt.Fprintln(os.Stderr, "Warning: auth.user_id is not set; your own message echoes will print as incoming.")
		}

		client := getClient()
		sessionCfg := buddyup.SessionConfig{LocalUser: localUser(cfg)}
		if verboseFlag {
			sessionCfg.Logger = consoleLogger()
		}
		session := buddyup.NewChatSession(client, sessionCfg)

		printer := &chatPrinter{
			localID: cfg.Auth.UserID,
			seen:    make(map[int64]bool),
		}
		session.OnChange(func() { printer.render(session) })

		session.Start()
		defer session.Stop()
		session.SetActiveConversation(conversationID)

		fmt.Printf("Connected to conversation %d. Type a message, or /quit to exit.\n", conversationID)

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "":
				continue
			case line == "/quit":
				return nil
			case line == "/read":
				session.MarkAllRead()
				fmt.Println("* marked read")
			case line == "/status":
				conv, chat := session.ConnectionStates()
				fmt.Printf("* conversations socket: %s, chat socket: %s\n", conv, chat)
				fmt.Printf("* online users: %v\n", session.OnlineUserIDs())
				if session.Sending() {
					fmt.Println("* sends in flight")
				}
			case strings.HasPrefix(line, "/"):
				fmt.Printf("* unknown command %s\n", line)
			default:
				session.SetTyping(false)
				session.SendMessage(line)
				fmt.Printf("[%s] me: %s\n", time.Now().Format("15:04:05"), line)
			}
		}
		return scanner.Err()
	},
}

// chatPrinter prints incoming messages and typing transitions exactly once.
// It runs on the session's notification callback, which is single-goroutine
// per notify but may overlap with the input loop's prints; stdout interleaving
// is acceptable for a line-oriented client.
type chatPrinter struct {
	localID int64

	mu         sync.Mutex
	seen       map[int64]bool
	peerTyping bool
}

func (p *chatPrinter) render(session *buddyup.ChatSession) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, msg := range session.Messages() {
		if msg.Optimistic || msg.ID == 0 || p.seen[msg.ID] {
			continue
		}
		p.seen[msg.ID] = true
		if msg.Sender.ID == p.localID {
			continue // own echo, already printed at input time
		}
		fmt.Printf("[%s] %s: %s\n", clockTime(msg.CreatedAt), msg.Sender.Name, msg.Text)
	}

	if typing := session.PeerTyping(); typing != p.peerTyping {
		p.peerTyping = typing
		if typing {
			fmt.Println("* buddy is typing...")
		}
	}
}

// clockTime renders an ISO-8601 timestamp as a local wall-clock time,
// falling back to the raw string.
func clockTime(iso string) string {
	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return iso
	}
	return t.Local().Format("15:04:05")
}
