package buddyup

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Client Construction
// ============================================================================

func TestNewClient(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		c := NewClient("tok")
		assert.Equal(t, DefaultBaseURL, c.BaseURL())
		assert.Equal(t, "tok", c.Token())
	})

	t.Run("with base url trims trailing slash", func(t *testing.T) {
		c := NewClient("tok", WithBaseURL("https://staging.buddyup.app/"))
		assert.Equal(t, "https://staging.buddyup.app", c.BaseURL())
	})

	t.Run("set token", func(t *testing.T) {
		c := NewClient("old")
		c.SetToken("new")
		assert.Equal(t, "new", c.Token())
	})
}

func TestSocketURLs(t *testing.T) {
	c := NewClient("se cret", WithBaseURL("https://buddyup.example.com"))

	assert.Equal(t,
		"wss://buddyup.example.com/ws/conversations/?token=se+cret",
		c.ConversationsSocketURL())
	assert.Equal(t,
		"wss://buddyup.example.com/ws/chat/42/?token=se+cret",
		c.ChatSocketURL(42))

	plain := NewClient("tok", WithBaseURL("http://localhost:8000"))
	assert.Equal(t,
		"ws://localhost:8000/ws/conversations/?token=tok",
		plain.ConversationsSocketURL())
}

// ============================================================================
// Conversations API
// ============================================================================

func TestConversationsList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/conversations", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode([]Conversation{
			{ID: 1, PartnerName: "alice", UnreadCount: 2, UpdatedAt: "2026-05-01T09:00:00Z"},
		})
	}))
	defer srv.Close()

	c := NewClient("tok", WithBaseURL(srv.URL))
	got, err := c.Conversations.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].PartnerName)
	assert.Equal(t, 2, got[0].UnreadCount)
}

func TestConversationsMarkRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/conversations/7/read", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient("tok", WithBaseURL(srv.URL))
	require.NoError(t, c.Conversations.MarkRead(context.Background(), 7))
}

// ============================================================================
// Messages API
// ============================================================================

func TestMessagesList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/messages", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("conversation"))
		assert.Equal(t, "created_at", r.URL.Query().Get("ordering"))

		json.NewEncoder(w).Encode([]Message{
			{ID: 1, Conversation: 7, Text: "hello", CreatedAt: "2026-05-01T09:00:00Z"},
			{ID: 2, Conversation: 7, Text: "hi back", CreatedAt: "2026-05-01T09:00:05Z"},
		})
	}))
	defer srv.Close()

	c := NewClient("tok", WithBaseURL(srv.URL))
	got, err := c.Messages.List(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "hello", got[0].Text)
}

func TestMessagesCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/messages", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body struct {
			Conversation int64  `json:"conversation"`
			Text         string `json:"text"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(7), body.Conversation)
		assert.Equal(t, "see you at 6", body.Text)

		json.NewEncoder(w).Encode(Message{
			ID: 12, Conversation: 7, Text: body.Text, CreatedAt: "2026-05-01T09:01:00Z",
		})
	}))
	defer srv.Close()

	c := NewClient("tok", WithBaseURL(srv.URL))
	msg, err := c.Messages.Create(context.Background(), 7, "see you at 6")
	require.NoError(t, err)
	assert.Equal(t, int64(12), msg.ID)
}

// ============================================================================
// Error Handling
// ============================================================================

func TestRequestErrors(t *testing.T) {
	t.Run("structured api error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(APIError{Code: "not_a_member", Message: "you are not in this conversation"})
		}))
		defer srv.Close()

		c := NewClient("tok", WithBaseURL(srv.URL))
		_, err := c.Conversations.List(context.Background())
		require.Error(t, err)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "not_a_member", apiErr.Code)
	})

	t.Run("plain error body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		c := NewClient("tok", WithBaseURL(srv.URL))
		_, err := c.Conversations.List(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP 500")
	})
}

// ============================================================================
// Frame Decoding
// ============================================================================

func TestDecodeBareMessage(t *testing.T) {
	t.Run("valid message", func(t *testing.T) {
		data := []byte(`{"id":5,"conversation":7,"sender":{"id":2,"name":"alice"},"text":"hey","created_at":"2026-05-01T09:00:00Z"}`)
		msg, ok := decodeBareMessage(data)
		require.True(t, ok)
		assert.Equal(t, int64(5), msg.ID)
		assert.Equal(t, "alice", msg.Sender.Name)
	})

	t.Run("missing required field", func(t *testing.T) {
		for _, payload := range []string{
			`{"conversation":7,"text":"hey","created_at":"2026-05-01T09:00:00Z"}`,
			`{"id":5,"text":"hey","created_at":"2026-05-01T09:00:00Z"}`,
			`{"id":5,"conversation":7,"created_at":"2026-05-01T09:00:00Z"}`,
			`{"id":5,"conversation":7,"text":"hey"}`,
		} {
			_, ok := decodeBareMessage([]byte(payload))
			assert.False(t, ok, payload)
		}
	})

	t.Run("non-object payloads", func(t *testing.T) {
		for _, payload := range []string{`[1,2,3]`, `"hello"`, `42`, `null`, `not json`} {
			_, ok := decodeBareMessage([]byte(payload))
			assert.False(t, ok, payload)
		}
	})
}
