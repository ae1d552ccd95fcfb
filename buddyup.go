// Package buddyup provides the Go client for the BuddyUp chat service.
//
// The package has two layers: a thin REST client (Client) for conversation
// metadata and message history, and a session-scoped real-time engine
// (ChatSession) that keeps two WebSocket connections alive, reconciles
// optimistic local sends against server-confirmed messages, and exposes a
// consistent snapshot of conversation and message state.
//
// Example:
//
//	client := buddyup.NewClient(token)
//	session := buddyup.NewChatSession(client, buddyup.SessionConfig{
//		LocalUser: buddyup.User{ID: 42, Name: "sam"},
//	})
//	session.Start()
//	defer session.Stop()
//
//	session.SetActiveConversation(7)
//	session.SendMessage("hey, did you finish your run today?")
package buddyup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://api.buddyup.app"
	DefaultTimeout = 15 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the BuddyUp REST API client.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger

	Conversations *ConversationsClient
	Messages      *MessagesClient
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a new BuddyUp client authenticated with a bearer token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Conversations = &ConversationsClient{client: c}
	c.Messages = &MessagesClient{client: c}
	return c
}

// SetToken sets or updates the auth token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Token returns the current auth token.
func (c *Client) Token() string {
	return c.token
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ConversationsSocketURL returns the conversations-channel WebSocket URL.
func (c *Client) ConversationsSocketURL() string {
	return c.socketBase() + "/ws/conversations/?token=" + url.QueryEscape(c.token)
}

// ChatSocketURL returns the chat-channel WebSocket URL for one conversation.
func (c *Client) ChatSocketURL(conversationID int64) string {
	return c.socketBase() + "/ws/chat/" + strconv.FormatInt(conversationID, 10) +
		"/?token=" + url.QueryEscape(c.token)
}

func (c *Client) socketBase() string {
	base := strings.Replace(c.baseURL, "https://", "wss://", 1)
	return strings.Replace(base, "http://", "ws://", 1)
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr APIError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return nil, &apiErr
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Conversations API
// ============================================================================

// ConversationsClient handles conversation metadata.
type ConversationsClient struct{ client *Client }

// List returns all conversations for the authenticated user.
func (cv *ConversationsClient) List(ctx context.Context) ([]Conversation, error) {
	data, err := cv.client.doRequest(ctx, "GET", "/api/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	result, err := decodeJSON[[]Conversation](data)
	if err != nil {
		return nil, err
	}
	return *result, nil
}

// Get fetches a single conversation by ID.
func (cv *ConversationsClient) Get(ctx context.Context, conversationID int64) (*Conversation, error) {
	data, err := cv.client.doRequest(ctx, "GET", "/api/conversations/"+strconv.FormatInt(conversationID, 10), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Conversation](data)
}

// MarkRead marks every message in a conversation as read.
func (cv *ConversationsClient) MarkRead(ctx context.Context, conversationID int64) error {
	_, err := cv.client.doRequest(ctx, "POST", "/api/conversations/"+strconv.FormatInt(conversationID, 10)+"/read", nil, nil)
	return err
}

// ============================================================================
// Messages API
// ============================================================================

// MessagesClient handles message history and creation.
type MessagesClient struct{ client *Client }

// List returns a conversation's messages ordered by creation time.
func (m *MessagesClient) List(ctx context.Context, conversationID int64) ([]Message, error) {
	data, err := m.client.doRequest(ctx, "GET", "/api/messages", nil, map[string]string{
		"conversation": strconv.FormatInt(conversationID, 10),
		"ordering":     "created_at",
	})
	if err != nil {
		return nil, err
	}
	result, err := decodeJSON[[]Message](data)
	if err != nil {
		return nil, err
	}
	return *result, nil
}

// Create posts a new message and returns the server-confirmed record.
func (m *MessagesClient) Create(ctx context.Context, conversationID int64, text string) (*Message, error) {
	data, err := m.client.doRequest(ctx, "POST", "/api/messages", map[string]interface{}{
		"conversation": conversationID,
		"text":         text,
	}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}
